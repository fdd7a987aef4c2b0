package export

import (
	"strings"
	"testing"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   string
	}{
		{"control chars dropped", " A\nB\rC\tD\x00 ", 100, "ABCD"},
		{"allowed kept", "Az09 -_.,()", 100, "Az09 -_.,()"},
		{"disallowed replaced", "bad<>|\"name", 100, "bad____name"},
		{"truncated", "abcdefghijklmnopqrstuvwxyz", 10, "abcdefghij"},
		{"unicode letters kept", "Café 東京", 0, "Café 東京"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeName(tt.in, tt.maxLen); got != tt.want {
				t.Errorf("SanitizeName(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestSanitizeName_NoLimit(t *testing.T) {
	long := strings.Repeat("a", 300)
	if got := SanitizeName(long, 0); got != long {
		t.Fatalf("maxLen 0 truncated to %d runes", len([]rune(got)))
	}
}
