package filters

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fmuoria/cv-triage/internal/models"
)

// Mode is the rule-selection state
type Mode string

const (
	// ModeOff uses the base qualification chain only
	ModeOff Mode = "off"
	// ModeVertical applies a vertical's rules
	ModeVertical Mode = "vertical"
	// ModePreset applies a preset layered over its vertical
	ModePreset Mode = "preset"
)

// DefaultVerticalID always resolves
const DefaultVerticalID = "generic"

// Selection is the user's current rule choice. Values are immutable; the
// transition methods return a new Selection.
type Selection struct {
	Mode       Mode   `json:"mode"`
	VerticalID string `json:"vertical_id,omitempty"`
	PresetID   string `json:"preset_id,omitempty"`
	Strict     bool   `json:"strict"`
}

// Off is the initial selection
func Off() Selection {
	return Selection{Mode: ModeOff}
}

// SelectVertical switches to a vertical, optionally strict
func (s Selection) SelectVertical(id string, strict bool) Selection {
	return Selection{Mode: ModeVertical, VerticalID: id, Strict: strict}
}

// SelectPreset switches to a preset. Strictness comes from the preset.
func (s Selection) SelectPreset(id string) Selection {
	return Selection{Mode: ModePreset, PresetID: id}
}

// Clear returns to ModeOff
func (s Selection) Clear() Selection {
	return Off()
}

// Validate rejects selections that name no target for their mode
func (s Selection) Validate() error {
	switch s.Mode {
	case ModeOff, "":
		return nil
	case ModeVertical:
		if s.VerticalID == "" {
			return fmt.Errorf("vertical selection requires a vertical id")
		}
	case ModePreset:
		if s.PresetID == "" {
			return fmt.Errorf("preset selection requires a preset id")
		}
	default:
		return fmt.Errorf("unknown selection mode %q", s.Mode)
	}
	return nil
}

// Rules is a resolved selection: whether vertical rules apply and which
type Rules struct {
	Active   bool                  `json:"active"`
	Config   models.VerticalConfig `json:"config"`
	PresetID string                `json:"preset_id,omitempty"`
	Fallback bool                  `json:"fallback"`
}

// Registry holds the verticals and presets a selection can name. The default
// vertical is always registered.
type Registry struct {
	mu        sync.RWMutex
	verticals map[string]models.VerticalConfig
	presets   map[string]models.FilterPreset
}

// NewRegistry returns a registry seeded with the built-in verticals and presets
func NewRegistry() *Registry {
	r := &Registry{
		verticals: make(map[string]models.VerticalConfig),
		presets:   make(map[string]models.FilterPreset),
	}
	for _, v := range builtinVerticals() {
		r.verticals[v.ID] = v
	}
	for _, p := range builtinPresets() {
		r.presets[p.ID] = p
	}
	return r
}

// RegisterVertical adds or replaces a vertical after validation
func (r *Registry) RegisterVertical(v models.VerticalConfig) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("invalid vertical %q: %w", v.ID, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verticals[v.ID] = v
	return nil
}

// RegisterPreset adds or replaces a preset after validation. The preset's
// vertical must already be registered.
func (r *Registry) RegisterPreset(p models.FilterPreset) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid preset %q: %w", p.ID, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.verticals[p.VerticalID]; !ok {
		return fmt.Errorf("invalid preset %q: unknown vertical %q", p.ID, p.VerticalID)
	}
	r.presets[p.ID] = p
	return nil
}

// Vertical looks up a vertical by id
func (r *Registry) Vertical(id string) (models.VerticalConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.verticals[id]
	return v, ok
}

// Preset looks up a preset by id
func (r *Registry) Preset(id string) (models.FilterPreset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presets[id]
	return p, ok
}

// Default returns the always-present default vertical
func (r *Registry) Default() models.VerticalConfig {
	if v, ok := r.Vertical(DefaultVerticalID); ok {
		return v
	}
	return genericVertical()
}

// Verticals lists registered verticals sorted by id
func (r *Registry) Verticals() []models.VerticalConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.VerticalConfig, 0, len(r.verticals))
	for _, v := range r.verticals {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Presets lists registered presets sorted by id
func (r *Registry) Presets() []models.FilterPreset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.FilterPreset, 0, len(r.presets))
	for _, p := range r.presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve turns a selection into concrete rules. It never fails: an unknown
// vertical or preset id resolves to the default vertical and is logged.
func (r *Registry) Resolve(sel Selection) Rules {
	switch sel.Mode {
	case ModeVertical:
		v, ok := r.Vertical(sel.VerticalID)
		if !ok {
			log.Warn().Str("vertical", sel.VerticalID).Msg("Unknown vertical, using default")
			v = r.Default()
			v.Strict = sel.Strict
			return Rules{Active: true, Config: v, Fallback: true}
		}
		v.Strict = v.Strict || sel.Strict
		return Rules{Active: true, Config: v}

	case ModePreset:
		p, ok := r.Preset(sel.PresetID)
		if !ok {
			log.Warn().Str("preset", sel.PresetID).Msg("Unknown preset, using default vertical")
			return Rules{Active: true, Config: r.Default(), Fallback: true}
		}
		base, ok := r.Vertical(p.VerticalID)
		fallback := false
		if !ok {
			log.Warn().Str("preset", p.ID).Str("vertical", p.VerticalID).Msg("Preset references unknown vertical, using default")
			base = r.Default()
			fallback = true
		}
		return Rules{Active: true, Config: p.Apply(base), PresetID: p.ID, Fallback: fallback}

	default:
		return Rules{Config: r.Default()}
	}
}

func genericVertical() models.VerticalConfig {
	return models.VerticalConfig{
		ID:       DefaultVerticalID,
		Name:     "Generic",
		MinScore: MinQualifyingScore,
	}
}

func builtinVerticals() []models.VerticalConfig {
	return []models.VerticalConfig{
		genericVertical(),
		{
			ID:       "education",
			Name:     "Education",
			MinScore: 7,
			IncludeKeywords: []string{
				"teacher", "teaching", "tutor", "lecturer", "educator", "school", "classroom", "curriculum",
			},
			RequiredQualifications: []string{
				"b.ed", "bachelor of education", "diploma in education", "pgce", "pgde", "teaching certificate", "tefl", "tesol", "celta",
			},
			MinYearsExperience:  2,
			RequireCurrentRole:  true,
			CurrentRoleKeywords: []string{"teacher", "tutor", "lecturer", "head of", "instructor"},
		},
	}
}

func builtinPresets() []models.FilterPreset {
	minScore := 8
	minYears := 5
	return []models.FilterPreset{
		{
			ID:                 "senior-educators",
			Name:               "Senior educators",
			VerticalID:         "education",
			MinScore:           &minScore,
			MinYearsExperience: &minYears,
			Strict:             true,
		},
	}
}
