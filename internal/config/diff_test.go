package config_test

import (
	"testing"

	"github.com/SocialNOT/AgainINDIA/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogInfo},
		Transport: config.TransportEntry{Name: "gemini-live", Options: map[string]any{"region": "eu"}},
		Personas: []config.Persona{
			{ID: "sage_atri", Name: "Maharishi Atri", PersonalityTraits: []string{"gentle"}},
			{ID: "sage_gautama", Name: "Maharishi Gautama"},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if !d.Empty() {
		t.Errorf("Diff of identical configs = %+v, want empty", d)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(*testing.T, config.ConfigDiff)
	}{
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogWarn },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.LogLevelChanged || d.NewLogLevel != config.LogWarn {
					t.Errorf("LogLevelChanged=%v NewLogLevel=%q", d.LogLevelChanged, d.NewLogLevel)
				}
			},
		},
		{
			name:   "transport option",
			mutate: func(c *config.Config) { c.Transport.Options["region"] = "us" },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.TransportChanged {
					t.Error("TransportChanged = false")
				}
			},
		},
		{
			name: "fallback transport added",
			mutate: func(c *config.Config) {
				c.FallbackTransports = append(c.FallbackTransports, config.TransportEntry{Name: "openai-realtime"})
			},
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.TransportChanged {
					t.Error("TransportChanged = false")
				}
			},
		},
		{
			name:   "history backend",
			mutate: func(c *config.Config) { c.History.Backend = config.HistoryBadger },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.RestartRequired || d.Empty() {
					t.Errorf("RestartRequired=%v Empty=%v", d.RestartRequired, d.Empty())
				}
			},
		},
		{
			name:   "audio device",
			mutate: func(c *config.Config) { c.Audio.Input.Command = []string{"arecord"} },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.AudioChanged {
					t.Error("AudioChanged = false")
				}
			},
		},
		{
			name:   "persona traits",
			mutate: func(c *config.Config) { c.Personas[0].PersonalityTraits = []string{"stern"} },
			check: func(t *testing.T, d config.ConfigDiff) {
				if len(d.PersonaChanges) != 1 {
					t.Fatalf("PersonaChanges = %+v", d.PersonaChanges)
				}
				pd := d.PersonaChanges[0]
				if pd.ID != "sage_atri" || !pd.PromptChanged || pd.VoiceChanged {
					t.Errorf("PersonaDiff = %+v", pd)
				}
			},
		},
		{
			name: "explicit voice equal to default",
			// sage_atri maps to Kore by default.
			mutate: func(c *config.Config) { c.Personas[0].Voice = "Kore" },
			check: func(t *testing.T, d config.ConfigDiff) {
				if d.PersonasChanged {
					t.Errorf("PersonaChanges = %+v, want none", d.PersonaChanges)
				}
			},
		},
		{
			name: "added and removed",
			mutate: func(c *config.Config) {
				c.Personas[1] = config.Persona{ID: "sage_kashyapa", Name: "Maharishi Kashyapa"}
			},
			check: func(t *testing.T, d config.ConfigDiff) {
				if len(d.PersonaChanges) != 2 {
					t.Fatalf("PersonaChanges = %+v", d.PersonaChanges)
				}
				if a := d.PersonaChanges[0]; a.ID != "sage_kashyapa" || !a.Added {
					t.Errorf("first change = %+v, want added sage_kashyapa", a)
				}
				if r := d.PersonaChanges[1]; r.ID != "sage_gautama" || !r.Removed {
					t.Errorf("second change = %+v, want removed sage_gautama", r)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			updated := baseConfig()
			tt.mutate(updated)
			d := config.Diff(baseConfig(), updated)
			if d.Empty() && tt.name != "explicit voice equal to default" {
				t.Fatal("Diff reported no changes")
			}
			tt.check(t, d)
		})
	}
}
