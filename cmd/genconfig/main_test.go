package main

import (
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"tools.zach/dev/plexcord/internal/config"
)

// ///////////////////////////////////////////////
// render Tests
// ///////////////////////////////////////////////

func TestRender_RoundTrips(t *testing.T) {
	out, err := render(config.DefaultConfig(), config.Docs)
	if err != nil {
		t.Fatalf("render() error: %v", err)
	}
	got := &config.Config{}
	if _, err := toml.Decode(out, got); err != nil {
		t.Fatalf("rendered config does not parse: %v\n%s", err, out)
	}
	if diff := cmp.Diff(config.DefaultConfig(), got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("rendered config mismatch (-want +got):\n%s", diff)
	}
}

func TestRender_Annotations(t *testing.T) {
	docs := map[string]config.FieldDoc{
		"behavior":                       {Comment: "Loop timing."},
		"behavior.poll_interval_seconds": {Comment: "First line\nsecond line", Examples: []string{"poll_interval_seconds = 5"}},
	}
	out, err := render(config.DefaultConfig(), docs)
	if err != nil {
		t.Fatalf("render() error: %v", err)
	}

	want := strings.Join([]string{
		"# ///// Behavior /////",
		"",
		"# Loop timing.",
		"[behavior]",
		"# First line",
		"# second line",
		"poll_interval_seconds = 15",
		"# poll_interval_seconds = 5",
	}, "\n")
	if !strings.Contains(out, want) {
		t.Errorf("render() output missing annotated behavior section:\n%s", out)
	}
	if !strings.HasPrefix(out, "# ///////////////////////////////////////////////\n# Plexcord Configuration\n") {
		t.Errorf("render() output missing header:\n%s", out)
	}
	if strings.Contains(out, "\n  ") {
		t.Errorf("render() output kept encoder indentation:\n%s", out)
	}
}

// ///////////////////////////////////////////////
// sectionName Tests
// ///////////////////////////////////////////////

func TestSectionName(t *testing.T) {
	tests := []struct {
		section string
		want    string
	}{
		{"display", "Display"},
		{"display.button", "Button"},
		{"Log", "Log"},
		{"a", "A"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := sectionName(tt.section); got != tt.want {
			t.Errorf("sectionName(%q) = %q, want %q", tt.section, got, tt.want)
		}
	}
}
