package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/heimdex/heimdex-clipper/internal/config"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), "clipper "+config.Version) {
		t.Errorf("output = %q", out.String())
	}
}

func TestRenderTable(t *testing.T) {
	got := renderTable([]string{"ID", "Clips"}, [][]string{{"abc", "3"}, {"short"}}, []columnAlignment{alignLeft, alignRight})
	for _, want := range []string{"ID", "Clips", "abc", "short"} {
		if !strings.Contains(got, want) {
			t.Errorf("table missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "CLIPS") {
		t.Errorf("headers should keep their case:\n%s", got)
	}
	if renderTable(nil, nil, nil) != "" {
		t.Error("empty headers should render nothing")
	}
}
