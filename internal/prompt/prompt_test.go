package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultParses(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}
	if strings.TrimSpace(cfg.Description) == "" {
		t.Error("embedded config has no description")
	}
	if len(cfg.Instructions) == 0 {
		t.Error("embedded config has no instructions")
	}
	for _, category := range []string{"REELS_IDEAS", "STORY_IDEAS", "TODAYS_PLAN"} {
		if len(cfg.Categories[category]) == 0 {
			t.Errorf("embedded config missing category %s", category)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	raw := `description: Test assistant for unit tests
instructions:
  - First instruction line
categories:
  REELS_IDEAS:
    - Reel instruction
`
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("failed to write prompt file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Description != "Test assistant for unit tests" {
		t.Errorf("description = %q", cfg.Description)
	}
}

func TestLoadRejectsEmptyDescription(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte("instructions: [hi]\n"), 0644); err != nil {
		t.Fatalf("failed to write prompt file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for config without description")
	}
}

func TestSystemLines(t *testing.T) {
	cfg := &Config{
		Description:  "desc",
		Instructions: []string{"a", "b"},
		Categories:   map[string][]string{"REELS_IDEAS": {"extra"}},
	}

	base := cfg.SystemLines("")
	if len(base) != 3 || base[0] != "desc" || base[2] != "b" {
		t.Errorf("base lines = %q", base)
	}

	withCategory := cfg.SystemLines("REELS_IDEAS")
	if len(withCategory) != 4 || withCategory[3] != "extra" {
		t.Errorf("category lines = %q", withCategory)
	}

	unknown := cfg.SystemLines("NOPE")
	if len(unknown) != 3 {
		t.Errorf("unknown category lines = %q", unknown)
	}
}

func TestProtectedPhrases(t *testing.T) {
	cfg := &Config{
		Description:  "first desc line\nsecond desc line",
		Instructions: []string{"first instruction line\nrest", "other instruction"},
		Categories:   map[string][]string{"REELS_IDEAS": {"category line\nmore"}},
	}

	got := cfg.ProtectedPhrases("")
	want := []string{"first desc line", "first instruction line"}
	if len(got) != len(want) {
		t.Fatalf("phrases = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("phrase[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	withCategory := cfg.ProtectedPhrases("REELS_IDEAS")
	if len(withCategory) != 3 || withCategory[2] != "category line" {
		t.Errorf("category phrases = %q", withCategory)
	}

	unknown := cfg.ProtectedPhrases("NOPE")
	if len(unknown) != 2 {
		t.Errorf("unknown category phrases = %q", unknown)
	}
}

func TestProtectedPhrasesNoInstructions(t *testing.T) {
	cfg := &Config{Description: "only desc"}
	got := cfg.ProtectedPhrases("")
	if len(got) != 1 || got[0] != "only desc" {
		t.Errorf("phrases = %q", got)
	}
}
