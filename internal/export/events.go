// Package export renders a processed video's highlights as an edit decision
// list so they can be conformed in an NLE against the original footage.
package export

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
)

const maxNameLen = 64

// Event is one EDL entry: an in/out range of a source media file.
type Event struct {
	Name      string
	MediaPath string
	StartMs   int
	EndMs     int
	Score     float64
}

func (e Event) DurationMs() int { return e.EndMs - e.StartMs }

// EventsForVideo maps each clip of v, in rank order, to an event against the
// original upload.
func EventsForVideo(v *catalog.VideoRecord) []Event {
	media := SanitizeName(v.OriginalName, 0)
	if media == "" {
		media = v.Filename
	}

	events := make([]Event, 0, len(v.Clips))
	for i, c := range v.Clips {
		name := SanitizeName(c.Title, maxNameLen)
		if name == "" {
			name = fmt.Sprintf("Highlight %d", i+1)
		}
		events = append(events, Event{
			Name:      name,
			MediaPath: media,
			StartMs:   secondsToMs(c.StartSeconds),
			EndMs:     secondsToMs(c.EndSeconds),
			Score:     c.Score,
		})
	}
	return events
}

// Title is the EDL title line for v.
func Title(v *catalog.VideoRecord) string {
	base := strings.TrimSuffix(v.OriginalName, filepath.Ext(v.OriginalName))
	if t := SanitizeName(base, maxNameLen); t != "" {
		return t + " highlights"
	}
	return "highlights"
}

func secondsToMs(s float64) int {
	return int(math.Round(s * 1000))
}

// SanitizeName drops control characters and replaces anything outside
// letters, digits and " -_.,()" with '_'. maxLen <= 0 means no limit.
func SanitizeName(s string, maxLen int) string {
	cleaned := strings.TrimSpace(strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return -1
		case unicode.IsLetter(r), unicode.IsDigit(r), strings.ContainsRune(" -_.,()", r):
			return r
		default:
			return '_'
		}
	}, s))
	if maxLen > 0 {
		if runes := []rune(cleaned); len(runes) > maxLen {
			cleaned = string(runes[:maxLen])
		}
	}
	return cleaned
}
