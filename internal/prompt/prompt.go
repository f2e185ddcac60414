// Package prompt holds the assistant's prompt configuration: the base
// description, the base instructions, and per-category extra instructions.
// The first lines of these make up the protected phrases the leakage guard
// screens generated output against.
package prompt

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultConfig []byte

// Config is the active prompt configuration. Immutable after load.
type Config struct {
	Description  string              `yaml:"description"`
	Instructions []string            `yaml:"instructions"`
	Categories   map[string][]string `yaml:"categories,omitempty"`
}

// Default returns the embedded prompt configuration.
func Default() (*Config, error) {
	return parse(defaultConfig)
}

// Load reads a prompt configuration from a YAML file. An empty path falls
// back to the embedded default.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt config %s: %w", path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt config %s: %w", path, err)
	}
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Description) == "" {
		return nil, fmt.Errorf("prompt config has no description")
	}
	return &cfg, nil
}

// SystemLines returns the full system prompt for a request: description,
// base instructions, and the extra instructions of the active category, if
// any.
func (c *Config) SystemLines(category string) []string {
	lines := []string{c.Description}
	lines = append(lines, c.Instructions...)
	if category != "" {
		lines = append(lines, c.Categories[category]...)
	}
	return lines
}

// ProtectedPhrases returns the phrases generated output must never echo:
// the description's first line, the base instructions' first line, and the
// active category's first extra-instruction line when a category is set.
// Order is fixed.
func (c *Config) ProtectedPhrases(category string) []string {
	phrases := []string{firstLine(c.Description)}
	if len(c.Instructions) > 0 {
		phrases = append(phrases, firstLine(c.Instructions[0]))
	}
	if category != "" {
		if extras := c.Categories[category]; len(extras) > 0 {
			phrases = append(phrases, firstLine(extras[0]))
		}
	}
	return phrases
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
