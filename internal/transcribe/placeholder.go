package transcribe

import (
	"context"
	"strings"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
)

var placeholderSegments = []catalog.Segment{
	{Index: 0, StartSeconds: 0, EndSeconds: 15, Text: "This is a sample video transcription."},
	{Index: 1, StartSeconds: 15, EndSeconds: 35, Text: "In this video, we discuss important topics and share valuable insights."},
	{Index: 2, StartSeconds: 35, EndSeconds: 60, Text: "The content is engaging and perfect for social media clips."},
}

// Placeholder returns a fixed 60 second transcript so the pipeline can run
// without a transcription engine.
type Placeholder struct{}

func (Placeholder) Transcribe(ctx context.Context, sourcePath string) (*catalog.Transcript, error) {
	segs := make([]catalog.Segment, len(placeholderSegments))
	copy(segs, placeholderSegments)

	texts := make([]string, len(segs))
	for i, s := range segs {
		texts[i] = s.Text
	}
	return &catalog.Transcript{FullText: strings.Join(texts, " "), Segments: segs}, nil
}
