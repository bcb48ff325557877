package main

import (
	"context"
	"log/slog"

	"github.com/SocialNOT/AgainINDIA/internal/config"
	"github.com/SocialNOT/AgainINDIA/pkg/transport"
	"github.com/SocialNOT/AgainINDIA/pkg/transport/gemini"
	"github.com/SocialNOT/AgainINDIA/pkg/transport/genailive"
	"github.com/SocialNOT/AgainINDIA/pkg/transport/openai"
)

// registerBuiltinTransports wires every transport that ships with sagetalk
// into reg.
func registerBuiltinTransports(reg *config.Registry) {
	reg.RegisterTransport("gemini-live", func(_ context.Context, entry config.TransportEntry) (transport.Transport, error) {
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(entry.ResolveAPIKey(), opts...), nil
	})

	reg.RegisterTransport("gemini-genai", func(ctx context.Context, entry config.TransportEntry) (transport.Transport, error) {
		var opts []genailive.Option
		if entry.Model != "" {
			opts = append(opts, genailive.WithModel(entry.Model))
		}
		return genailive.NewFromAPIKey(ctx, entry.ResolveAPIKey(), entry.BaseURL, opts...)
	})

	reg.RegisterTransport("openai-realtime", func(_ context.Context, entry config.TransportEntry) (transport.Transport, error) {
		var opts []openai.Option
		if entry.Model != "" {
			opts = append(opts, openai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if m := optString(entry.Options, "transcription_model"); m != "" {
			opts = append(opts, openai.WithTranscriptionModel(m))
		}
		return openai.New(entry.ResolveAPIKey(), opts...), nil
	})

	for _, name := range reg.Transports() {
		slog.Debug("registered transport", "name", name)
	}
}

// optString extracts a string value from a transport Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
