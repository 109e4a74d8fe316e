package persona

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Presets holds the server-trusted whitelists for persona descriptors.
type Presets struct {
	Personalities []string `yaml:"personalities"`
	SpeechStyles  []string `yaml:"speechStyles"`
}

// DefaultPresets returns the compiled-in descriptor whitelists.
func DefaultPresets() *Presets {
	return &Presets{
		Personalities: []string{
			"kind and cheerful",
			"calm and analytical",
			"energetic and playful",
			"gentle and patient",
			"dry and witty",
		},
		SpeechStyles: []string{
			"friendly and polite",
			"casual",
			"formal",
			"concise and direct",
		},
	}
}

// LoadPresets reads descriptor whitelists from a YAML file. A missing path
// falls back to the defaults; a malformed file is an error.
func LoadPresets(path string, logger *slog.Logger) (*Presets, error) {
	if path == "" {
		return DefaultPresets(), nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Debug("persona preset file does not exist, using defaults", "path", path)
		return DefaultPresets(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read persona presets: %w", err)
	}

	var p Presets
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse persona presets %s: %w", path, err)
	}
	if len(p.Personalities) == 0 {
		p.Personalities = DefaultPresets().Personalities
	}
	if len(p.SpeechStyles) == 0 {
		p.SpeechStyles = DefaultPresets().SpeechStyles
	}
	logger.Info("loaded persona presets", "path", path,
		"personalities", len(p.Personalities), "speechStyles", len(p.SpeechStyles))
	return &p, nil
}

func (p *Presets) HasPersonality(v string) bool { return contains(p.Personalities, v) }
func (p *Presets) HasSpeechStyle(v string) bool { return contains(p.SpeechStyles, v) }

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
