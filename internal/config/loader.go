package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidTransportNames lists the transports shipped with sagetalk.
// Used by [Validate] to warn about unrecognised names.
var ValidTransportNames = []string{"gemini-live", "gemini-genai", "openai-realtime"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Transport.Name == "" {
		errs = append(errs, errors.New("transport.name is required"))
	} else if !slices.Contains(ValidTransportNames, cfg.Transport.Name) {
		slog.Warn("unknown transport name; it must be registered by the caller",
			"name", cfg.Transport.Name,
			"known", ValidTransportNames,
		)
	}

	for i, fb := range cfg.FallbackTransports {
		switch {
		case fb.Name == "":
			errs = append(errs, fmt.Errorf("fallback_transports[%d].name is required", i))
		case fb.Name == cfg.Transport.Name && fb.Model == cfg.Transport.Model && fb.BaseURL == cfg.Transport.BaseURL:
			errs = append(errs, fmt.Errorf("fallback_transports[%d] duplicates the primary transport", i))
		case !slices.Contains(ValidTransportNames, fb.Name):
			slog.Warn("unknown fallback transport name; it must be registered by the caller",
				"index", i,
				"name", fb.Name,
			)
		}
	}

	a := cfg.Audio
	for _, f := range []struct {
		name  string
		value int
	}{
		{"audio.capture_rate", a.CaptureRate},
		{"audio.playback_rate", a.PlaybackRate},
		{"audio.chunk_size", a.ChunkSize},
		{"audio.send_queue", a.SendQueue},
	} {
		if f.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", f.name, f.value))
		}
	}
	if len(a.Input.Command) > 0 && a.Input.File != "" {
		slog.Warn("audio.input has both command and file; command wins")
	}
	if len(a.Output.Command) > 0 && a.Output.File != "" {
		slog.Warn("audio.output has both command and file; command wins")
	}

	seen := make(map[string]int, len(cfg.Personas))
	for i, p := range cfg.Personas {
		prefix := fmt.Sprintf("personas[%d]", i)
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := seen[p.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of personas[%d]", prefix, p.ID, prev))
			}
			seen[p.ID] = i
		}
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if p.Voice != "" && !slices.Contains(KnownVoices, p.Voice) {
			slog.Warn("unknown persona voice; the endpoint may reject it",
				"persona", p.ID,
				"voice", p.Voice,
			)
		}
	}

	switch h := cfg.History; {
	case h.Backend != "" && !h.Backend.IsValid():
		errs = append(errs, fmt.Errorf("history.backend %q is invalid; valid values: memory, postgres, badger", h.Backend))
	case h.Backend == HistoryPostgres && h.PostgresDSN == "":
		errs = append(errs, errors.New("history.postgres_dsn is required when backend is postgres"))
	case h.Backend == HistoryBadger && h.BadgerDir == "":
		errs = append(errs, errors.New("history.badger_dir is required when backend is badger"))
	}

	return errors.Join(errs...)
}

// ResolveAPIKey returns the configured API key or, when empty, the first
// non-empty of the transport's conventional environment variables.
func (e TransportEntry) ResolveAPIKey() string {
	if e.APIKey != "" {
		return e.APIKey
	}
	var envs []string
	switch {
	case strings.HasPrefix(e.Name, "gemini"):
		envs = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}
	case strings.HasPrefix(e.Name, "openai"):
		envs = []string{"OPENAI_API_KEY"}
	}
	for _, name := range append(envs, "API_KEY") {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}
