package config

import (
	"fmt"
	"strings"

	"github.com/SocialNOT/AgainINDIA/pkg/transport"
)

// KeyPersonaID is the transport config key carrying the persona's ID.
const KeyPersonaID = "persona_id"

// DefaultVoice is used for personas with no voice and no known mapping.
const DefaultVoice = "Puck"

// KnownVoices lists the prebuilt voices offered by the Gemini Live endpoint.
// Used by [Validate] to warn about likely typos.
var KnownVoices = []string{
	"Puck", "Charon", "Kore", "Fenrir", "Aoede", "Zephyr",
	"Leda", "Orus", "Callirrhoe", "Autonoe", "Enceladus", "Iapetus",
}

// defaultVoices maps the built-in sage personas to their prebuilt voice.
var defaultVoices = map[string]string{
	"sage_vasishtha":   "Fenrir",
	"sage_vishwamitra": "Zephyr",
	"sage_bharadvaja":  "Puck",
	"sage_atri":        "Kore",
	"sage_gautama":     "Charon",
	"sage_kashyapa":    "Aoede",
}

// Persona is a character the remote voice speaks as.
type Persona struct {
	// ID uniquely identifies the persona (e.g., "sage_atri").
	ID string `yaml:"id"`

	// Name is the display name (e.g., "Maharishi Atri").
	Name string `yaml:"name"`

	// Archetype is a short epithet (e.g., "The Compassionate Moon").
	Archetype string `yaml:"archetype"`

	// Role describes the persona's teaching role.
	Role string `yaml:"role"`

	// Voice is the endpoint's prebuilt voice name. When empty a default
	// mapping by ID is used.
	Voice string `yaml:"voice"`

	// PersonalityTraits are joined into the system instruction.
	PersonalityTraits []string `yaml:"personality_traits"`

	// VoiceStyle describes how the persona speaks.
	VoiceStyle VoiceStyle `yaml:"voice_style"`

	// DialogueStyle describes the persona's dialogue patterns.
	DialogueStyle string `yaml:"dialogue_style"`

	// SystemPrompt is the persona-specific instruction.
	SystemPrompt string `yaml:"system_prompt"`
}

// VoiceStyle is the spoken register of a persona.
type VoiceStyle struct {
	Tone    string `yaml:"tone"`
	Pace    string `yaml:"pace"`
	Emotion string `yaml:"emotion"`
	Texture string `yaml:"texture"`
}

// VoiceName returns the configured voice or the default for the persona ID.
func (p *Persona) VoiceName() string {
	if p.Voice != "" {
		return p.Voice
	}
	if v, ok := defaultVoices[p.ID]; ok {
		return v
	}
	return DefaultVoice
}

// Instructions renders the system instruction sent when a session opens.
func (p *Persona) Instructions(completedLessons int) string {
	var b strings.Builder
	switch a := p.Archetype; {
	case a == "":
		fmt.Fprintf(&b, "You are %s.\n", p.Name)
	case strings.HasPrefix(a, "The "):
		fmt.Fprintf(&b, "You are %s, the %s.\n", p.Name, a[len("The "):])
	default:
		fmt.Fprintf(&b, "You are %s, the %s.\n", p.Name, a)
	}
	if p.Role != "" {
		fmt.Fprintf(&b, "Role: %s\n", p.Role)
	}
	if len(p.PersonalityTraits) > 0 {
		fmt.Fprintf(&b, "\nYour Personality: %s.\n", strings.Join(p.PersonalityTraits, ", "))
	}
	if style := p.VoiceStyle.describe(); style != "" {
		fmt.Fprintf(&b, "Your Voice Style: %s.\n", style)
	}
	if p.DialogueStyle != "" {
		fmt.Fprintf(&b, "\nDialogue Patterns: %s\n", p.DialogueStyle)
	}
	if p.SystemPrompt != "" {
		fmt.Fprintf(&b, "\nInstruction: %s\n", p.SystemPrompt)
	}
	fmt.Fprintf(&b, "\nContext: The user has completed %d lessons.\n", completedLessons)
	b.WriteString("\nGoal: Converse with the user. Be concise. Spoken word format.")
	return b.String()
}

// TransportConfig assembles the connection parameters for a session with
// this persona.
func (p *Persona) TransportConfig(completedLessons int) transport.Config {
	return transport.Config{
		transport.KeyVoice:        p.VoiceName(),
		transport.KeyInstructions: p.Instructions(completedLessons),
		KeyPersonaID:              p.ID,
	}
}

func (s VoiceStyle) describe() string {
	var parts []string
	for _, v := range []string{s.Tone, s.Pace, s.Emotion} {
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}
