package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fmuoria/cv-triage/internal/filters"
	"github.com/fmuoria/cv-triage/internal/models"
)

// Settings holds the recruiter's saved preferences
type Settings struct {
	Selection filters.Selection       `json:"selection"`
	Verticals []models.VerticalConfig `json:"verticals,omitempty"`
	Presets   []models.FilterPreset   `json:"presets,omitempty"`
}

// DefaultSettings returns settings with filtering off
func DefaultSettings() *Settings {
	return &Settings{
		Selection: filters.Off(),
	}
}

// GetSettingsPath returns the path to the settings file
// On Windows: %AppData%/cv-triage/settings.json
// On Unix: $XDG_CONFIG_HOME/cv-triage/settings.json or ~/.config/cv-triage/settings.json
func GetSettingsPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configDir, "cv-triage", "settings.json"), nil
}

// Load loads settings from the default settings path
func Load() (*Settings, error) {
	path, err := GetSettingsPath()
	if err != nil {
		return nil, err
	}

	return LoadFrom(path)
}

// LoadFrom loads settings from a specific path
func LoadFrom(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return default settings if file doesn't exist
			return DefaultSettings(), nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	settings := DefaultSettings()
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Save saves the settings to the default settings path
func (s *Settings) Save() error {
	path, err := GetSettingsPath()
	if err != nil {
		return err
	}

	return s.SaveTo(path)
}

// SaveTo saves the settings to a specific path
func (s *Settings) SaveTo(path string) error {
	if err := s.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	return nil
}

// Validate checks the selection and every custom vertical and preset
func (s *Settings) Validate() error {
	if err := s.Selection.Validate(); err != nil {
		return &ConfigError{Field: "selection", Reason: err.Error()}
	}

	for _, v := range s.Verticals {
		if err := v.Validate(); err != nil {
			return &ConfigError{Field: "verticals." + v.ID, Reason: err.Error()}
		}
	}

	for _, p := range s.Presets {
		if err := p.Validate(); err != nil {
			return &ConfigError{Field: "presets." + p.ID, Reason: err.Error()}
		}
	}

	return nil
}

// Apply registers the custom verticals and presets. Verticals go first so
// presets may build on them.
func (s *Settings) Apply(registry *filters.Registry) error {
	for _, v := range s.Verticals {
		if err := registry.RegisterVertical(v); err != nil {
			return &ConfigError{Field: "verticals." + v.ID, Reason: err.Error()}
		}
	}

	for _, p := range s.Presets {
		if err := registry.RegisterPreset(p); err != nil {
			return &ConfigError{Field: "presets." + p.ID, Reason: err.Error()}
		}
	}

	return nil
}
