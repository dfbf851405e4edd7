package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmuoria/cv-triage/internal/filters"
	"github.com/fmuoria/cv-triage/internal/models"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "uploads", cfg.UploadsDir)
	assert.Equal(t, "us-central1", cfg.GoogleCloudLocation)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, int64(64), cfg.CacheSize)
	assert.Equal(t, 2, cfg.Workers)
}

func TestLoadServerConfigFromEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("CVTRIAGE_PORT=9090\nCVTRIAGE_WORKERS=4\nCVTRIAGE_CACHE_TTL=1m\n"), 0600))
	t.Cleanup(func() {
		os.Unsetenv("CVTRIAGE_PORT")
		os.Unsetenv("CVTRIAGE_WORKERS")
		os.Unsetenv("CVTRIAGE_CACHE_TTL")
	})
	// the real environment wins over the file
	t.Setenv("CVTRIAGE_WORKERS", "3")

	cfg, err := LoadServerConfig(envFile)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, time.Minute, cfg.CacheTTL)
}

func TestLoadServerConfigInvalid(t *testing.T) {
	t.Setenv("CVTRIAGE_WORKERS", "0")

	_, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.env"))
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "WORKERS", cfgErr.Field)
}

func TestSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	minScore := 9

	s := DefaultSettings()
	s.Selection = s.Selection.SelectPreset("top-tutors")
	s.Verticals = []models.VerticalConfig{{
		ID:              "tutoring",
		Name:            "Private tutoring",
		MinScore:        6,
		IncludeKeywords: []string{"tutor"},
	}}
	s.Presets = []models.FilterPreset{{
		ID:         "top-tutors",
		Name:       "Top tutors",
		VerticalID: "tutoring",
		MinScore:   &minScore,
	}}
	require.NoError(t, s.SaveTo(path))

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, s, loaded)

	registry := filters.NewRegistry()
	require.NoError(t, loaded.Apply(registry))
	rules := registry.Resolve(loaded.Selection)
	assert.True(t, rules.Active)
	assert.False(t, rules.Fallback)
	assert.Equal(t, 9, rules.Config.MinScore)
	assert.Equal(t, []string{"tutor"}, rules.Config.IncludeKeywords)
}

func TestLoadFromMissingFile(t *testing.T) {
	s, err := LoadFrom(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	assert.Equal(t, filters.ModeOff, s.Selection.Mode)
}

func TestLoadFromInvalidFile(t *testing.T) {
	dir := t.TempDir()

	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte("{"), 0600))
	_, err := LoadFrom(garbage)
	assert.Error(t, err)

	badSelection := filepath.Join(dir, "selection.json")
	require.NoError(t, os.WriteFile(badSelection, []byte(`{"selection":{"mode":"vertical"}}`), 0600))
	_, err = LoadFrom(badSelection)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "selection", cfgErr.Field)
}

func TestSettingsValidate(t *testing.T) {
	tooHigh := 11
	tests := []struct {
		name     string
		settings Settings
		field    string
	}{
		{
			name:     "valid default",
			settings: *DefaultSettings(),
		},
		{
			name:     "unknown mode",
			settings: Settings{Selection: filters.Selection{Mode: "sometimes"}},
			field:    "selection",
		},
		{
			name:     "vertical without name",
			settings: Settings{Verticals: []models.VerticalConfig{{ID: "x", MinScore: 5}}},
			field:    "verticals.x",
		},
		{
			name:     "preset score out of range",
			settings: Settings{Presets: []models.FilterPreset{{ID: "p", Name: "P", VerticalID: "generic", MinScore: &tooHigh}}},
			field:    "presets.p",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.settings.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestApplyRejectsPresetForUnknownVertical(t *testing.T) {
	s := Settings{Presets: []models.FilterPreset{{ID: "p", Name: "P", VerticalID: "nursing"}}}

	err := s.Apply(filters.NewRegistry())
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "presets.p", cfgErr.Field)
}
