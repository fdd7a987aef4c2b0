// Package ffmpeg renders portrait clips by running ffmpeg as a subprocess,
// and probes the installed binary for the encoders and filters it needs.
package ffmpeg

import "time"

// Geometry is the output frame size in pixels.
type Geometry struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DefaultGeometry is 9:16 portrait.
func DefaultGeometry() Geometry {
	return Geometry{Width: 1080, Height: 1920}
}

func (g Geometry) Valid() bool { return g.Width > 0 && g.Height > 0 }

// Window is a time range within the source video, in seconds.
type Window struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (w Window) Duration() float64 { return w.End - w.Start }

// Job describes one clip render. SubtitlePath is optional; when set the
// subtitles are burned into the frame.
type Job struct {
	SourcePath   string
	OutputPath   string
	Window       Window
	Geometry     Geometry
	SubtitlePath string
}

// EncodeOptions are the x264 knobs exposed through configuration.
type EncodeOptions struct {
	Preset string
	CRF    int
}

func DefaultEncodeOptions() EncodeOptions {
	return EncodeOptions{Preset: "fast", CRF: 23}
}

// Progress is an advisory event emitted while a clip renders.
type Progress struct {
	Percent float64       `json:"percent"`
	OutTime time.Duration `json:"out_time"`
	Done    bool          `json:"done"`
}

// Capabilities is what the doctor probe found on this machine.
type Capabilities struct {
	Path         string    `json:"path"`
	Version      string    `json:"version"`
	HasLibx264   bool      `json:"has_libx264"`
	HasAAC       bool      `json:"has_aac"`
	HasSubtitles bool      `json:"has_subtitles"`
	ProbedAt     time.Time `json:"probed_at"`
}

// CanRender reports whether plain clips can be encoded.
func (c *Capabilities) CanRender() bool {
	return c != nil && c.HasLibx264 && c.HasAAC
}

// CanBurnSubtitles reports whether the subtitles filter is available too.
func (c *Capabilities) CanBurnSubtitles() bool {
	return c.CanRender() && c.HasSubtitles
}
