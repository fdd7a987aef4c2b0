package export

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const DefaultFrameRate = 30.0

var supportedFrameRates = []float64{23.976, 24, 25, 29.97, 30, 50, 59.94, 60}

// ParseFrameRate accepts the common broadcast and film rates; empty means
// DefaultFrameRate.
func ParseFrameRate(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultFrameRate, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q", s)
	}
	for _, r := range supportedFrameRates {
		if math.Abs(v-r) < 0.001 {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unsupported frame rate %q", s)
}

func isDropFrame(frameRate float64) bool {
	return math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01
}

// GenerateEDL writes a CMX3600 style list. Record times butt the events
// end to end in the given order.
func GenerateEDL(events []Event, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = int(DefaultFrameRate)
	}

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame(frameRate) {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	recordMs, n := 0, 0
	for _, ev := range events {
		dur := ev.DurationMs()
		if dur <= 0 {
			continue
		}
		n++
		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", n, "AX", "V",
				msToTimecode(ev.StartMs, fps), msToTimecode(ev.EndMs, fps),
				msToTimecode(recordMs, fps), msToTimecode(recordMs+dur, fps)),
			fmt.Sprintf("* FROM CLIP NAME:  %s", ev.Name),
			fmt.Sprintf("* MEDIA PATH:  %s", ev.MediaPath),
			fmt.Sprintf("* COMMENT:  SCORE %s", strconv.FormatFloat(ev.Score, 'f', -1, 64)),
		)
		recordMs += dur
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func msToTimecode(ms int, fps int) string {
	if ms < 0 {
		ms = 0
	}
	totalFrames := int(math.Round(float64(ms) * float64(fps) / 1000.0))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
