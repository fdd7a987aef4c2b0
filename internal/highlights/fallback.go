// Package highlights proposes ranked clip windows from a transcript.
package highlights

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
)

// DefaultMaxDuration caps a highlight's length in seconds.
const DefaultMaxDuration = 60.0

const (
	fallbackTopScore = 85
	fallbackScoreGap = 10
)

// Selector returns at most count highlights ordered by descending score.
// Selection never fails; engine problems degrade to Fallback.
type Selector interface {
	Select(ctx context.Context, transcript *catalog.Transcript, count int) []catalog.Highlight
}

// FallbackSelector is used when no engine is configured.
type FallbackSelector struct {
	MaxDuration float64
}

func (f FallbackSelector) Select(ctx context.Context, transcript *catalog.Transcript, count int) []catalog.Highlight {
	if transcript == nil {
		return []catalog.Highlight{}
	}
	return Fallback(transcript.Segments, count, f.MaxDuration)
}

// Fallback splits the segments into min(count, n) contiguous chunks of
// floor(n/count) segments (at least one), the last chunk taking the
// remainder, and turns each chunk into a highlight starting at its first
// segment. Duration is capped at maxDuration from the chunk start and scores
// step down by 10 from 85, going negative for large counts.
func Fallback(segments []catalog.Segment, count int, maxDuration float64) []catalog.Highlight {
	n := len(segments)
	if n == 0 || count < 1 {
		return []catalog.Highlight{}
	}
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}

	size := n / count
	if size < 1 {
		size = 1
	}
	chunks := count
	if n < chunks {
		chunks = n
	}

	out := make([]catalog.Highlight, 0, chunks)
	for i := 0; i < chunks; i++ {
		first := segments[i*size]
		lastIdx := (i+1)*size - 1
		if i == chunks-1 {
			lastIdx = n - 1
		}
		last := segments[lastIdx]

		end := math.Min(last.EndSeconds, first.StartSeconds+maxDuration)
		out = append(out, catalog.Highlight{
			StartSeconds: first.StartSeconds,
			EndSeconds:   end,
			Title:        fmt.Sprintf("Highlight %d", i+1),
			Description:  fmt.Sprintf("Engaging moment from %ss to %ss", fmtSeconds(first.StartSeconds), fmtSeconds(last.EndSeconds)),
			Score:        float64(fallbackTopScore - i*fallbackScoreGap),
		})
	}
	return out
}

func fmtSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}
