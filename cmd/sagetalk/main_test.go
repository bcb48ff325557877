package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/SocialNOT/AgainINDIA/internal/config"
	"github.com/SocialNOT/AgainINDIA/internal/history"
	"github.com/SocialNOT/AgainINDIA/internal/observe"
	"github.com/SocialNOT/AgainINDIA/pkg/audio"
	"github.com/SocialNOT/AgainINDIA/pkg/audio/mock"
	"github.com/SocialNOT/AgainINDIA/pkg/transport"
	transportmock "github.com/SocialNOT/AgainINDIA/pkg/transport/mock"
)

// ── parseCommand ─────────────────────────────────────────────────────────────

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line    string
		want    command
		wantErr bool
	}{
		{"mute", cmdMute, false},
		{"  MUTE  ", cmdMute, false},
		{"u", cmdUnmute, false},
		{"interrupt", cmdInterrupt, false},
		{"reconnect", cmdReconnect, false},
		{"status", cmdStatus, false},
		{"?", cmdHelp, false},
		{"q", cmdQuit, false},
		{"exit", cmdQuit, false},
		{"", cmdNone, false},
		{"   ", cmdNone, false},
		{"dance", cmdNone, true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()
			got, err := parseCommand(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

// ── helpers ──────────────────────────────────────────────────────────────────

func TestMeterBar(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level float64
		want  string
	}{
		{0, "░░░░"},
		{0.5, "██░░"},
		{1, "████"},
		{-1, "░░░░"},
		{3, "████"},
	}
	for _, tt := range tests {
		if got := meterBar(tt.level, 4); got != tt.want {
			t.Errorf("meterBar(%v) = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestPickPersona(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Personas: []config.Persona{
		{ID: "atri", Name: "Atri"},
		{ID: "kashyapa", Name: "Kashyapa"},
	}}

	p, err := pickPersona(cfg, "")
	if err != nil || p.ID != "atri" {
		t.Errorf("default persona = %v, %v", p, err)
	}
	p, err = pickPersona(cfg, "kashyapa")
	if err != nil || p.ID != "kashyapa" {
		t.Errorf("named persona = %v, %v", p, err)
	}
	if _, err := pickPersona(cfg, "nobody"); err == nil {
		t.Error("expected error for unknown persona")
	}
	if _, err := pickPersona(&config.Config{}, ""); err == nil {
		t.Error("expected error with no personas")
	}
}

func TestOpenHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := openHistory(ctx, config.HistoryConfig{Backend: config.HistoryMemory})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := s.(*history.MemStore); !ok {
		t.Errorf("memory backend = %T", s)
	}
	s.Close()

	s, err = openHistory(ctx, config.HistoryConfig{Backend: config.HistoryBadger, BadgerDir: t.TempDir()})
	if err != nil {
		t.Fatalf("badger: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("badger ping: %v", err)
	}
	s.Close()

	if _, err := openHistory(ctx, config.HistoryConfig{Backend: "sqlite"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestOnConfigChange_LogLevel(t *testing.T) {
	t.Parallel()

	level := new(slog.LevelVar)
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	updated := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	onConfigChange(level, config.Reload{Generation: 2, Old: old, New: updated, Diff: config.Diff(old, updated)})
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
}

// ── client ───────────────────────────────────────────────────────────────────

// lockedBuffer is a bytes.Buffer safe for concurrent writes and reads.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// freshConns is a transport handing out a new mock connection per Open.
type freshConns chan *transportmock.Conn

func (c freshConns) Open(context.Context, transport.Config) (transport.Conn, error) {
	conn := transportmock.NewConn()
	c <- conn
	return conn, nil
}

type clientFixture struct {
	cl     *client
	store  *history.MemStore
	out    *lockedBuffer
	conns  chan *transportmock.Conn
	in     *io.PipeWriter
	errc   chan error
	cancel context.CancelFunc
}

func newClientFixture(t *testing.T) *clientFixture {
	t.Helper()

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &clientFixture{
		store: history.NewMemStore(),
		out:   &lockedBuffer{},
		conns: make(chan *transportmock.Conn, 4),
		errc:  make(chan error, 1),
	}

	reg := config.NewRegistry()
	reg.RegisterTransport("mock", func(context.Context, config.TransportEntry) (transport.Transport, error) {
		return freshConns(f.conns), nil
	})

	cfg := &config.Config{
		Transport: config.TransportEntry{Name: "mock"},
		Personas:  []config.Persona{{ID: "atri", Name: "Atri", Archetype: "The Seer"}},
	}
	cfg.ApplyDefaults()

	recorder := history.NewRecorder(f.store)
	f.cl = &client{
		registry:  reg,
		config:    func() *config.Config { return cfg },
		personaID: "atri",
		recorder:  recorder,
		metrics:   m,
		view:      newView(f.out, "Atri"),
		devices: func(config.AudioConfig) audio.Devices {
			return &mock.Devices{Capture: mock.NewCaptureSource(), Playback: &mock.PlaybackSink{}}
		},
	}

	pr, pw := io.Pipe()
	f.in = pw
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	t.Cleanup(func() {
		cancel()
		pw.Close()
		f.cl.Disconnect()
		recorder.Close()
	})

	go func() { f.errc <- f.cl.Run(ctx, pr) }()
	return f
}

func (f *clientFixture) nextConn(t *testing.T) *transportmock.Conn {
	t.Helper()
	select {
	case c := <-f.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for transport connection")
		return nil
	}
}

func (f *clientFixture) send(t *testing.T, line string) {
	t.Helper()
	if _, err := io.WriteString(f.in, line+"\n"); err != nil {
		t.Fatalf("write %q: %v", line, err)
	}
}

func (f *clientFixture) waitOutput(t *testing.T, want string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !strings.Contains(f.out.String(), want) {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %q in output:\n%s", want, f.out.String())
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func (f *clientFixture) waitExit(t *testing.T) error {
	t.Helper()
	select {
	case err := <-f.errc:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for Run to return")
		return nil
	}
}

func TestClient_TurnsRenderedAndPersisted(t *testing.T) {
	t.Parallel()

	f := newClientFixture(t)
	conn := f.nextConn(t)
	f.waitOutput(t, "talking to Atri")

	conn.Emit(transport.InterimTranscript{Text: "Peace be", Speaker: transport.SpeakerRemote})
	conn.Emit(transport.InterimTranscript{Text: "Peace be with you.", Speaker: transport.SpeakerRemote})
	conn.Emit(transport.TurnComplete{})
	f.waitOutput(t, "Atri: Peace be with you.")

	f.send(t, "quit")
	if err := f.waitExit(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	id := f.cl.current().ID()
	f.cl.Disconnect()
	f.cl.recorder.Close()

	recs, err := f.store.List(context.Background(), id)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %+v, want 1", recs)
	}
	r := recs[0]
	if r.Text != "Peace be with you." || r.Speaker != transport.SpeakerRemote || r.PersonaID != "atri" {
		t.Errorf("record = %+v", r)
	}
}

func TestClient_MuteAndStatus(t *testing.T) {
	t.Parallel()

	f := newClientFixture(t)
	f.nextConn(t)
	f.waitOutput(t, "talking to Atri")

	f.send(t, "mute")
	f.waitOutput(t, "microphone muted")
	if !f.cl.current().Muted() {
		t.Error("session not muted")
	}

	f.send(t, "status")
	f.waitOutput(t, "muted=true")

	f.send(t, "unmute")
	f.waitOutput(t, "microphone live")
	if f.cl.current().Muted() {
		t.Error("session still muted")
	}
}

func TestClient_UnknownCommand(t *testing.T) {
	t.Parallel()

	f := newClientFixture(t)
	f.nextConn(t)
	f.send(t, "levitate")
	f.waitOutput(t, `unknown command "levitate"`)
}

func TestClient_Reconnect(t *testing.T) {
	t.Parallel()

	f := newClientFixture(t)
	first := f.nextConn(t)
	f.waitOutput(t, "talking to Atri")
	firstID := f.cl.current().ID()

	f.send(t, "reconnect")
	second := f.nextConn(t)
	if second == first {
		t.Fatal("reconnect reused the connection")
	}
	f.waitOutput(t, "disconnected: client disconnect")

	deadline := time.After(3 * time.Second)
	for f.cl.current().ID() == firstID {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for new session")
		case <-time.After(2 * time.Millisecond):
		}
	}
	if first.Closes() != 1 {
		t.Errorf("first conn closes = %d, want 1", first.Closes())
	}
}

func TestClient_RemoteDropReported(t *testing.T) {
	t.Parallel()

	f := newClientFixture(t)
	conn := f.nextConn(t)
	f.waitOutput(t, "talking to Atri")

	conn.Drop(errors.New("socket reset"))
	f.waitOutput(t, "disconnected:")
	f.waitOutput(t, "type reconnect")
}

func TestClient_FallbackTransport(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterTransport("down", func(context.Context, config.TransportEntry) (transport.Transport, error) {
		return &transportmock.Transport{OpenErr: errors.New("connection refused")}, nil
	})
	conns := make(freshConns, 1)
	reg.RegisterTransport("up", func(context.Context, config.TransportEntry) (transport.Transport, error) {
		return conns, nil
	})

	cfg := &config.Config{
		Transport:          config.TransportEntry{Name: "down"},
		FallbackTransports: []config.TransportEntry{{Name: "up"}},
	}
	cl := &client{registry: reg}

	tr, err := cl.transport(context.Background(), cfg)
	if err != nil {
		t.Fatalf("transport: %v", err)
	}
	if _, err := tr.Open(context.Background(), transport.Config{}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(conns) != 1 {
		t.Error("fallback transport was not used")
	}

	again, _ := cl.transport(context.Background(), cfg)
	if again != tr {
		t.Error("transport rebuilt for an unchanged config")
	}
}

func TestClient_ContextCancel(t *testing.T) {
	t.Parallel()

	f := newClientFixture(t)
	f.nextConn(t)
	f.cancel()
	if err := f.waitExit(t); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}
