package highlights

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
	"github.com/heimdex/heimdex-clipper/internal/logging"
)

func evenSegments(n int, each float64) []catalog.Segment {
	segs := make([]catalog.Segment, n)
	for i := range segs {
		segs[i] = catalog.Segment{
			Index:        i,
			StartSeconds: float64(i) * each,
			EndSeconds:   float64(i+1) * each,
			Text:         "segment",
		}
	}
	return segs
}

func TestFallback_SixSegmentsTwoClips(t *testing.T) {
	got := Fallback(evenSegments(6, 10), 2, DefaultMaxDuration)

	require.Len(t, got, 2)
	assert.Equal(t, 0.0, got[0].StartSeconds)
	assert.Equal(t, 30.0, got[0].EndSeconds)
	assert.Equal(t, 30.0, got[1].StartSeconds)
	assert.Equal(t, 60.0, got[1].EndSeconds)
	assert.Equal(t, 85.0, got[0].Score)
	assert.Equal(t, 75.0, got[1].Score)
	assert.Equal(t, "Highlight 1", got[0].Title)
	assert.Equal(t, "Engaging moment from 0s to 30s", got[0].Description)
}

func TestFallback_LastChunkAbsorbsRemainder(t *testing.T) {
	got := Fallback(evenSegments(7, 5), 3, DefaultMaxDuration)

	require.Len(t, got, 3)
	assert.Equal(t, 20.0, got[2].StartSeconds)
	assert.Equal(t, 35.0, got[2].EndSeconds)
}

func TestFallback_ClampsToMaxDuration(t *testing.T) {
	got := Fallback(evenSegments(4, 50), 1, DefaultMaxDuration)

	require.Len(t, got, 1)
	assert.Equal(t, 0.0, got[0].StartSeconds)
	assert.Equal(t, 60.0, got[0].EndSeconds)
	assert.Contains(t, got[0].Description, "to 200s")
}

func TestFallback_FewerSegmentsThanCount(t *testing.T) {
	got := Fallback(evenSegments(2, 10), 5, DefaultMaxDuration)

	require.Len(t, got, 2)
	assert.Equal(t, 10.0, got[1].StartSeconds)
}

func TestFallback_Empty(t *testing.T) {
	got := Fallback(nil, 3, DefaultMaxDuration)
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestFallback_Properties(t *testing.T) {
	for n := 1; n <= 12; n++ {
		for count := 1; count <= 8; count++ {
			got := Fallback(evenSegments(n, 17), count, DefaultMaxDuration)
			assert.LessOrEqual(t, len(got), count, "n=%d count=%d", n, count)
			for i, h := range got {
				assert.LessOrEqual(t, h.Duration(), DefaultMaxDuration+1e-9, "n=%d count=%d", n, count)
				assert.Greater(t, h.EndSeconds, h.StartSeconds)
				if i > 0 {
					assert.LessOrEqual(t, h.Score, got[i-1].Score)
					assert.GreaterOrEqual(t, h.StartSeconds, got[i-1].EndSeconds-1e-9, "chunks overlap")
				}
			}
		}
	}
}

func TestNew_WithoutKeyUsesFallback(t *testing.T) {
	sel := New(Config{Logger: logging.Discard()})
	_, ok := sel.(FallbackSelector)
	require.True(t, ok, "got %T", sel)

	got := sel.Select(context.Background(), &catalog.Transcript{Segments: evenSegments(3, 20)}, 3)
	assert.Len(t, got, 3)
}

func chatServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if rf, ok := req["response_format"].(map[string]any); !ok || rf["type"] != "json_object" {
			t.Errorf("response_format = %v", req["response_format"])
		}

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "boom", "type": "server_error"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"choices": []any{
				map[string]any{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]any{"role": "assistant", "content": content},
				},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestSelector(url string) *LLMSelector {
	return NewLLMSelector(Config{
		APIKey:  "sk-test",
		BaseURL: url + "/v1",
		Model:   "gpt-4",
		Logger:  logging.Discard(),
	})
}

func TestLLMSelector_ParsesAndOrders(t *testing.T) {
	content := `{"highlights":[
		{"startTime":40,"endTime":55,"title":"Second","description":"d2","score":70},
		{"startTime":0,"endTime":90,"title":"First","description":"d1","score":120},
		{"startTime":30,"endTime":20,"title":"Backwards","score":99},
		{"startTime":10,"endTime":20,"title":"","score":50}
	]}`
	srv := chatServer(t, http.StatusOK, content)

	got := newTestSelector(srv.URL).Select(context.Background(), &catalog.Transcript{Segments: evenSegments(6, 10)}, 2)

	require.Len(t, got, 2)
	assert.Equal(t, "First", got[0].Title)
	assert.Equal(t, 100.0, got[0].Score)
	assert.Equal(t, 60.0, got[0].EndSeconds)
	assert.Equal(t, "Second", got[1].Title)
}

func TestLLMSelector_CodeFencedJSON(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "```json\n{\"highlights\":[{\"startTime\":5,\"endTime\":25,\"title\":\"\",\"score\":60}]}\n```")

	got := newTestSelector(srv.URL).Select(context.Background(), &catalog.Transcript{Segments: evenSegments(6, 10)}, 3)

	require.Len(t, got, 1)
	assert.Equal(t, "Highlight 1", got[0].Title)
	assert.Equal(t, 5.0, got[0].StartSeconds)
}

func TestLLMSelector_FallsBack(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		content string
	}{
		{"server error", http.StatusInternalServerError, ""},
		{"bad json", http.StatusOK, "not json at all"},
		{"no highlights", http.StatusOK, `{"highlights":[]}`},
		{"only invalid windows", http.StatusOK, `{"highlights":[{"startTime":-5,"endTime":3}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := chatServer(t, tt.status, tt.content)
			segs := evenSegments(6, 10)

			got := newTestSelector(srv.URL).Select(context.Background(), &catalog.Transcript{Segments: segs}, 2)

			assert.Equal(t, Fallback(segs, 2, DefaultMaxDuration), got)
		})
	}
}

func TestLLMSelector_EmptyTranscriptSkipsEngine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("engine called for empty transcript")
	}))
	defer srv.Close()

	got := newTestSelector(srv.URL).Select(context.Background(), &catalog.Transcript{}, 3)
	assert.Empty(t, got)
}

func TestBuildPrompt(t *testing.T) {
	tr := &catalog.Transcript{Segments: []catalog.Segment{
		{Index: 0, StartSeconds: 0, EndSeconds: 12.5, Text: "hello"},
		{Index: 1, StartSeconds: 12.5, EndSeconds: 20, Text: "world"},
	}}
	p := BuildPrompt(tr, 3, 60)

	assert.Contains(t, p, "identify the 3 most engaging moments")
	assert.Contains(t, p, "[0s - 12.5s]: hello\n[12.5s - 20s]: world")
	assert.Contains(t, p, "max 60 seconds duration")
	assert.True(t, strings.HasSuffix(p, "}"))
}
