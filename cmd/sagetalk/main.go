// Command sagetalk is a terminal client for real-time voice conversations
// with a persona hosted by a remote speech-to-speech endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SocialNOT/AgainINDIA/internal/config"
	"github.com/SocialNOT/AgainINDIA/internal/health"
	"github.com/SocialNOT/AgainINDIA/internal/history"
	"github.com/SocialNOT/AgainINDIA/internal/observe"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	personaID := flag.String("persona", "", "persona id to talk to (default: first configured persona)")
	lessons := flag.Int("lessons", 0, "number of completed lessons, passed to the persona as context")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// ── Load configuration (and keep watching it) ─────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(r config.Reload) {
		onConfigChange(level, r)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sagetalk: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sagetalk: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()
	level.Set(slogLevel(cfg.Server.LogLevel))

	persona, err := pickPersona(cfg, *personaID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sagetalk: %v\n", err)
		return 1
	}

	slog.Info("sagetalk starting",
		"version", version,
		"config", *configPath,
		"transport", cfg.Transport.Name,
		"persona", persona.ID,
		"history", cfg.History.Backend,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// SIGHUP re-reads the config without waiting for the next poll.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := watcher.Reload(); err != nil {
					slog.Warn("config reload rejected", "err", err)
				}
			}
		}
	}()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.Init(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Persona:        persona.ID,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := tel.Metrics

	// ── History ───────────────────────────────────────────────────────────────
	store, err := openHistory(ctx, cfg.History)
	if err != nil {
		slog.Error("failed to open history store", "backend", cfg.History.Backend, "err", err)
		return 1
	}
	defer store.Close()
	recorder := history.NewRecorder(store)

	// ── Health + metrics endpoint ─────────────────────────────────────────────
	hh := health.New(health.Checker{Name: "history", Check: store.Ping})
	var srv *http.Server
	if addr := cfg.Server.ListenAddr; addr != "" {
		mux := http.NewServeMux()
		hh.Register(mux)
		mux.Handle("GET /metrics", tel.Handler())
		srv = &http.Server{
			Addr:              addr,
			Handler:           observe.Middleware(metrics, "/healthz", "/readyz", "/metrics")(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "addr", addr, "err", err)
			}
		}()
		slog.Info("observability endpoint listening", "addr", addr)
	}

	// ── Transports ────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinTransports(reg)

	// ── Client loop ───────────────────────────────────────────────────────────
	cl := &client{
		registry:  reg,
		config:    watcher.Current,
		personaID: persona.ID,
		lessons:   *lessons,
		recorder:  recorder,
		metrics:   metrics,
		view:      newView(os.Stdout, persona.Name),
	}

	code := 0
	if err := cl.Run(ctx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("session error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	hh.SetDraining(true)
	cl.Disconnect()
	recorder.Close()

	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}
	}
	slog.Info("goodbye")
	return code
}

// pickPersona returns the persona named id, or the first configured persona
// when id is empty.
func pickPersona(cfg *config.Config, id string) (*config.Persona, error) {
	if id == "" {
		if len(cfg.Personas) == 0 {
			return nil, errors.New("no personas configured")
		}
		return &cfg.Personas[0], nil
	}
	p, ok := cfg.Persona(id)
	if !ok {
		return nil, fmt.Errorf("unknown persona %q", id)
	}
	return p, nil
}

// onConfigChange applies the log level at once. Transport, audio and persona
// changes take effect on the next session; a new transport config also
// starts with fresh circuit breakers.
func onConfigChange(level *slog.LevelVar, r config.Reload) {
	d := r.Diff
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TransportChanged || d.AudioChanged || d.PersonasChanged {
		slog.Info("config reloaded, changes apply to the next session",
			"generation", r.Generation,
			"transport_changed", d.TransportChanged,
			"audio_changed", d.AudioChanged,
			"persona_changes", len(d.PersonaChanges),
		)
	}
	if d.RestartRequired {
		slog.Warn("listen address or history settings changed; restart sagetalk to apply them",
			"generation", r.Generation)
	}
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
