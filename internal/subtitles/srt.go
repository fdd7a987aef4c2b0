// Package subtitles renders the SRT track burned into each clip.
package subtitles

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
)

// Extension is the sidecar suffix written next to each clip.
const Extension = ".srt"

// Render builds an SRT document for the segments fully inside
// [windowStart, windowEnd], with times rebased to the window start. Segments
// that straddle a boundary are dropped, not trimmed. It returns nil when no
// segment qualifies.
func Render(segments []catalog.Segment, windowStart, windowEnd float64) []byte {
	var entries []string
	for _, seg := range segments {
		if seg.StartSeconds < windowStart || seg.EndSeconds > windowEnd {
			continue
		}
		n := len(entries) + 1
		entries = append(entries, fmt.Sprintf("%d\n%s --> %s\n%s",
			n,
			FormatTimestamp(seg.StartSeconds-windowStart),
			FormatTimestamp(seg.EndSeconds-windowStart),
			seg.Text,
		))
	}
	if len(entries) == 0 {
		return nil
	}
	return []byte(strings.Join(entries, "\n\n"))
}

// FormatTimestamp renders seconds as HH:MM:SS,mmm with milliseconds truncated.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	// The epsilon absorbs float error such as 2.3*1000 = 2299.9999999999995.
	total := int64(math.Floor(seconds*1000 + 1e-6))
	hours := total / 3_600_000
	total %= 3_600_000
	minutes := total / 60_000
	total %= 60_000
	secs := total / 1_000
	millis := total % 1_000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}

// ParseTimestamp is the inverse of FormatTimestamp.
func ParseTimestamp(value string) (float64, error) {
	value = strings.TrimSpace(value)
	clock, frac, ok := strings.Cut(value, ",")
	if !ok {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hms := strings.Split(clock, ":")
	if len(hms) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hours, errH := strconv.Atoi(hms[0])
	minutes, errM := strconv.Atoi(hms[1])
	secs, errS := strconv.Atoi(hms[2])
	millis, errMS := strconv.Atoi(frac)
	if errH != nil || errM != nil || errS != nil || errMS != nil {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	return float64(hours*3600+minutes*60+secs) + float64(millis)/1000, nil
}

// CueCount returns the number of entries in an SRT document.
func CueCount(doc []byte) int {
	content := strings.TrimSpace(string(doc))
	if content == "" {
		return 0
	}
	count := 0
	for _, block := range strings.Split(content, "\n\n") {
		if strings.TrimSpace(block) != "" {
			count++
		}
	}
	return count
}

// SidecarPath returns the subtitle path that accompanies a clip.
func SidecarPath(clipPath string) string {
	return strings.TrimSuffix(clipPath, filepath.Ext(clipPath)) + Extension
}

// WriteFile writes doc to path via a temp file and rename.
func WriteFile(path string, doc []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return catalog.Wrap(catalog.ErrStorage, "create subtitle dir", err)
	}
	tmp, err := os.CreateTemp(dir, ".srt-*")
	if err != nil {
		return catalog.Wrap(catalog.ErrStorage, "create subtitle temp file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return catalog.Wrap(catalog.ErrStorage, "write subtitles", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return catalog.Wrap(catalog.ErrStorage, "write subtitles", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return catalog.Wrap(catalog.ErrStorage, "store subtitles", err)
	}
	return nil
}
