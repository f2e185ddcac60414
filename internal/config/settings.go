package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Default server listen address
const DefaultListenAddr = ":8080"

// Settings represents the main service settings
type Settings struct {
	LLM      LLMSettings     `json:"llm"`
	Server   ServerSettings  `json:"server"`
	Storage  StorageSettings `json:"storage"`
	Prompt   PromptSettings  `json:"prompt,omitempty"`
	LogLevel string          `json:"log_level,omitempty"`
}

// LLMSettings contains generation backend configuration
type LLMSettings struct {
	Backend   string `json:"backend"`              // "openai", "anthropic", or "ollama"
	Model     string `json:"model"`                // model name
	MaxTokens int    `json:"max_tokens,omitempty"` // maximum tokens for model responses (0 = use model default)
}

// ServerSettings contains HTTP server configuration
type ServerSettings struct {
	Addr string `json:"addr"`
}

// StorageSettings contains data file locations
type StorageSettings struct {
	DataDir string `json:"data_dir"` // sessions and the subscription roster live here
}

// PromptSettings points at the prompt configuration
type PromptSettings struct {
	Path string `json:"path,omitempty"` // empty = embedded default
}

// GetDefaultSettings returns settings with default values
func GetDefaultSettings() *Settings {
	home, _ := os.UserHomeDir()
	return &Settings{
		LLM: LLMSettings{
			Backend: "openai",
			Model:   "gpt-4o-mini",
		},
		Server: ServerSettings{
			Addr: DefaultListenAddr,
		},
		Storage: StorageSettings{
			DataDir: filepath.Join(home, ".reagent"),
		},
		LogLevel: "info",
	}
}

// DefaultSettingsPath returns the default settings file location
func DefaultSettingsPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".reagent", "settings.json")
}

// LoadSettings loads settings from the given path, creating a default
// settings file when none exists.
func LoadSettings(path string) (*Settings, error) {
	if path == "" {
		path = DefaultSettingsPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return createSettingsFileAtPath(path)
		}
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	settings := GetDefaultSettings()
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}

	applyDefaults(settings)
	return settings, nil
}

// SessionFilePath returns where sessions are persisted.
func (s *Settings) SessionFilePath() string {
	return filepath.Join(s.Storage.DataDir, "sessions.json")
}

// SubscriptionRosterPath returns where the subscription roster lives.
func (s *Settings) SubscriptionRosterPath() string {
	return filepath.Join(s.Storage.DataDir, "subscriptions.json")
}

// createSettingsFileAtPath writes a default settings file and returns the
// defaults.
func createSettingsFileAtPath(path string) (*Settings, error) {
	settings := GetDefaultSettings()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create settings directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize default settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write settings file %s: %w", path, err)
	}

	return settings, nil
}

// applyDefaults fills in missing fields after a partial settings file load
func applyDefaults(s *Settings) {
	defaults := GetDefaultSettings()
	if s.LLM.Backend == "" {
		s.LLM.Backend = defaults.LLM.Backend
	}
	if s.LLM.Model == "" {
		s.LLM.Model = defaults.LLM.Model
	}
	if s.Server.Addr == "" {
		s.Server.Addr = defaults.Server.Addr
	}
	if s.Storage.DataDir == "" {
		s.Storage.DataDir = defaults.Storage.DataDir
	}
	if s.LogLevel == "" {
		s.LogLevel = defaults.LogLevel
	}
}
