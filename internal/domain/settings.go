package domain

import (
	"fmt"
	"math"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Reading settings bounds.
const (
	MinFontSize   = 12
	MaxFontSize   = 24
	MinLineHeight = 1.0
	MaxLineHeight = 2.0
	lineHeightEps = 0.01
)

// ReadingSettings are the display preferences applied to the renderer.
// PresetID is empty when the current values were set by hand rather than by
// picking a preset.
type ReadingSettings struct {
	Font       string  `json:"font" validate:"required,max=128"`
	FontSize   int     `json:"font_size" validate:"min=12,max=24"`
	LineHeight float64 `json:"line_height" validate:"min=1,max=2"`
	Background string  `json:"background" validate:"required,hexcolor"`
	Color      string  `json:"color" validate:"required,hexcolor"`
	PresetID   string  `json:"preset_id,omitempty" validate:"omitempty,max=64"`
}

// Preset is a named, fixed combination of reading settings.
type Preset struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	ReadingSettings
}

// DefaultSettings returns the settings applied when a book has none stored.
func DefaultSettings() ReadingSettings {
	return ReadingSettings{
		Font:       "Inter",
		FontSize:   16,
		LineHeight: 1.6,
		Background: "#ffffff",
		Color:      "#111111",
		PresetID:   "default",
	}
}

// Presets lists the built-in presets in display order.
func Presets() []Preset {
	return []Preset{
		{ID: "serif-day", Name: "Serif Day", ReadingSettings: ReadingSettings{Font: "Georgia", FontSize: 18, LineHeight: 1.7, Background: "#fffdf7", Color: "#1a1a1a", PresetID: "serif-day"}},
		{ID: "serif-night", Name: "Serif Night", ReadingSettings: ReadingSettings{Font: "Georgia", FontSize: 18, LineHeight: 1.7, Background: "#0b0b0b", Color: "#f2f2f2", PresetID: "serif-night"}},
		{ID: "newsprint", Name: "Newsprint", ReadingSettings: ReadingSettings{Font: "Noto Serif", FontSize: 17, LineHeight: 1.65, Background: "#f6f2e8", Color: "#2b2b2b", PresetID: "newsprint"}},
		{ID: "sepia", Name: "Sepia", ReadingSettings: ReadingSettings{Font: "Arbutus Slab", FontSize: 17, LineHeight: 1.65, Background: "#f4ecd8", Color: "#2a2a2a", PresetID: "sepia"}},
	}
}

// PresetByID looks up a built-in preset.
func PresetByID(id string) (Preset, bool) {
	for _, p := range Presets() {
		if p.ID == id {
			return p, true
		}
	}
	return Preset{}, false
}

// MatchPreset returns the id of the preset whose values equal s exactly
// (line height within a small epsilon). It ignores s.PresetID so the answer
// reflects the values, not how they were chosen.
func MatchPreset(s ReadingSettings) (string, bool) {
	for _, p := range Presets() {
		if p.Font == s.Font &&
			p.FontSize == s.FontSize &&
			math.Abs(p.LineHeight-s.LineHeight) < lineHeightEps &&
			p.Background == s.Background &&
			p.Color == s.Color {
			return p.ID, true
		}
	}
	return "", false
}

// AdjustFontSize returns s with the font size moved by delta, bounded to
// [MinFontSize, MaxFontSize]. The preset id is cleared.
func (s ReadingSettings) AdjustFontSize(delta int) ReadingSettings {
	n := s.FontSize + delta
	if n < MinFontSize {
		n = MinFontSize
	}
	if n > MaxFontSize {
		n = MaxFontSize
	}
	s.FontSize = n
	s.PresetID = ""
	return s
}

// AdjustLineHeight returns s with the line height moved by delta, rounded to
// two decimals and bounded to [MinLineHeight, MaxLineHeight]. The preset id
// is cleared.
func (s ReadingSettings) AdjustLineHeight(delta float64) ReadingSettings {
	v := math.Round((s.LineHeight+delta)*100) / 100
	if v < MinLineHeight {
		v = MinLineHeight
	}
	if v > MaxLineHeight {
		v = MaxLineHeight
	}
	s.LineHeight = v
	s.PresetID = ""
	return s
}

// WithPreset returns the preset's values with its id set.
func WithPreset(id string) (ReadingSettings, error) {
	p, ok := PresetByID(id)
	if !ok {
		return ReadingSettings{}, fmt.Errorf("%w: unknown preset %q", ErrInvalidSettings, id)
	}
	return p.ReadingSettings, nil
}

var (
	settingsValidator     *validator.Validate
	settingsValidatorOnce sync.Once
)

// Validate checks the bounds and color formats of s.
func (s ReadingSettings) Validate() error {
	settingsValidatorOnce.Do(func() {
		settingsValidator = validator.New(validator.WithRequiredStructEnabled())
	})
	if err := settingsValidator.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}
