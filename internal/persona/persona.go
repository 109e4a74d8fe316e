// Package persona normalizes the client-supplied assistant persona and
// renders it into the system prompt. The persona name is untrusted text
// entering a trusted instruction context, so it is sanitized before
// interpolation; personality and speech style only pass through when they
// match a server-side preset.
package persona

import (
	"fmt"
	"regexp"
	"strings"
)

const nameMaxRunes = 20

// Defaults applied when a field is missing or fails validation.
const (
	DefaultName        = "Assistant"
	DefaultPersonality = "kind and cheerful"
	DefaultSpeechStyle = "friendly and polite"
)

var (
	// namePattern allows letters, digits, spaces, hyphens and underscores
	// in any script.
	namePattern = regexp.MustCompile(`^[\p{L}\p{N}\s\-_]+$`)

	markupChars = strings.NewReplacer(
		"<", "", ">", "", "{", "", "}", "", "[", "", "]", "", `\`, "",
		"\n", "", "\r", "",
	)
	multiSpace = regexp.MustCompile(`\s+`)
)

// Persona is the client-supplied assistant descriptor.
type Persona struct {
	Name        string `json:"name"`
	Personality string `json:"personality"`
	SpeechStyle string `json:"speechStyle"`
}

// SanitizeName caps the length, strips control and markup characters,
// collapses whitespace, and falls back to DefaultName when the remainder
// does not match the allowed pattern.
func SanitizeName(name string) string {
	runes := []rune(name)
	if len(runes) > nameMaxRunes {
		name = string(runes[:nameMaxRunes])
	}
	name = markupChars.Replace(name)
	name = strings.TrimSpace(multiSpace.ReplaceAllString(name, " "))
	if name == "" || !namePattern.MatchString(name) {
		return DefaultName
	}
	return name
}

// Normalize returns a copy of p with the name sanitized and the descriptor
// fields replaced by defaults unless they appear in the given presets.
func Normalize(p Persona, presets *Presets) Persona {
	out := Persona{Name: SanitizeName(p.Name)}

	out.Personality = DefaultPersonality
	if presets.HasPersonality(p.Personality) {
		out.Personality = p.Personality
	}
	out.SpeechStyle = DefaultSpeechStyle
	if presets.HasSpeechStyle(p.SpeechStyle) {
		out.SpeechStyle = p.SpeechStyle
	}
	return out
}

// SystemPrompt renders the trusted instruction string. Only the sanitized
// name is interpolated; the descriptors are preset values.
func (p Persona) SystemPrompt() string {
	return fmt.Sprintf(
		"You are %s, a conversational assistant. Your personality is %s. You speak in a %s manner. Stay in character throughout the conversation.",
		p.Name, p.Personality, p.SpeechStyle,
	)
}
