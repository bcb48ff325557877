package config

import "slices"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TransportChanged is true if the endpoint selection or credentials
	// changed. It takes effect for the next session.
	TransportChanged bool

	// AudioChanged is true if rates, framing or devices changed.
	AudioChanged bool

	PersonasChanged bool
	PersonaChanges  []PersonaDiff

	// RestartRequired is true if the listen address or the history store
	// changed. Those are bound once at startup.
	RestartRequired bool
}

// PersonaDiff describes what changed for a single persona.
type PersonaDiff struct {
	ID            string
	PromptChanged bool // any field feeding the system instruction
	VoiceChanged  bool
	Added         bool
	Removed       bool
}

// Diff compares old and new configs and returns what changed. Persona
// changes are reported in the order personas appear in new, followed by
// removals in the order they appeared in old.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.TransportChanged = !transportEqual(old.Transport, new.Transport) ||
		!slices.EqualFunc(old.FallbackTransports, new.FallbackTransports, transportEqual)
	d.AudioChanged = !audioEqual(old.Audio, new.Audio)
	d.RestartRequired = old.Server.ListenAddr != new.Server.ListenAddr || old.History != new.History

	for i := range new.Personas {
		np := &new.Personas[i]
		op, ok := old.Persona(np.ID)
		if !ok {
			d.PersonaChanges = append(d.PersonaChanges, PersonaDiff{ID: np.ID, Added: true})
			continue
		}
		pd := PersonaDiff{
			ID:            np.ID,
			PromptChanged: !promptEqual(op, np),
			VoiceChanged:  op.VoiceName() != np.VoiceName(),
		}
		if pd.PromptChanged || pd.VoiceChanged {
			d.PersonaChanges = append(d.PersonaChanges, pd)
		}
	}
	for i := range old.Personas {
		if _, ok := new.Persona(old.Personas[i].ID); !ok {
			d.PersonaChanges = append(d.PersonaChanges, PersonaDiff{ID: old.Personas[i].ID, Removed: true})
		}
	}
	d.PersonasChanged = len(d.PersonaChanges) > 0

	return d
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.TransportChanged && !d.AudioChanged &&
		!d.PersonasChanged && !d.RestartRequired
}

func promptEqual(a, b *Persona) bool {
	return a.Name == b.Name &&
		a.Archetype == b.Archetype &&
		a.Role == b.Role &&
		slices.Equal(a.PersonalityTraits, b.PersonalityTraits) &&
		a.VoiceStyle == b.VoiceStyle &&
		a.DialogueStyle == b.DialogueStyle &&
		a.SystemPrompt == b.SystemPrompt
}

func transportEqual(a, b TransportEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		w, ok := b.Options[k]
		if !ok || !optionEqual(v, w) {
			return false
		}
	}
	return true
}

// optionEqual compares decoded YAML scalars. Nested maps and lists are
// treated as changed.
func optionEqual(a, b any) bool {
	switch a.(type) {
	case string, int, int64, float64, bool, nil:
		return a == b
	}
	return false
}

func audioEqual(a, b AudioConfig) bool {
	return a.CaptureRate == b.CaptureRate &&
		a.PlaybackRate == b.PlaybackRate &&
		a.ChunkSize == b.ChunkSize &&
		a.SendQueue == b.SendQueue &&
		deviceEqual(a.Input, b.Input) &&
		deviceEqual(a.Output, b.Output)
}

func deviceEqual(a, b DeviceConfig) bool {
	return slices.Equal(a.Command, b.Command) && a.File == b.File && a.Realtime == b.Realtime
}
