package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/SocialNOT/AgainINDIA/internal/config"
	"github.com/SocialNOT/AgainINDIA/internal/history"
	"github.com/SocialNOT/AgainINDIA/internal/observe"
	"github.com/SocialNOT/AgainINDIA/internal/resilience"
	"github.com/SocialNOT/AgainINDIA/internal/session"
	"github.com/SocialNOT/AgainINDIA/pkg/audio"
	"github.com/SocialNOT/AgainINDIA/pkg/audio/pcmio"
	"github.com/SocialNOT/AgainINDIA/pkg/transport"
)

// command is a line typed on stdin.
type command int

const (
	cmdNone command = iota
	cmdMute
	cmdUnmute
	cmdInterrupt
	cmdReconnect
	cmdStatus
	cmdHelp
	cmdQuit
)

const helpText = "commands: mute, unmute, interrupt, reconnect, status, help, quit"

var commands = map[string]command{
	"mute":      cmdMute,
	"m":         cmdMute,
	"unmute":    cmdUnmute,
	"u":         cmdUnmute,
	"interrupt": cmdInterrupt,
	"i":         cmdInterrupt,
	"reconnect": cmdReconnect,
	"r":         cmdReconnect,
	"status":    cmdStatus,
	"s":         cmdStatus,
	"help":      cmdHelp,
	"?":         cmdHelp,
	"quit":      cmdQuit,
	"q":         cmdQuit,
	"exit":      cmdQuit,
}

// parseCommand maps an input line to a command. Blank lines yield cmdNone.
func parseCommand(line string) (command, error) {
	word := strings.ToLower(strings.TrimSpace(line))
	if word == "" {
		return cmdNone, nil
	}
	cmd, ok := commands[word]
	if !ok {
		return cmdNone, fmt.Errorf("unknown command %q (%s)", word, helpText)
	}
	return cmd, nil
}

// client drives one session at a time from stdin commands. A new
// [session.Controller] is created for every connect; reconnecting is always
// user-initiated.
type client struct {
	registry  *config.Registry
	config    func() *config.Config
	personaID string
	lessons   int
	recorder  *history.Recorder
	metrics   *observe.Metrics
	view      *view

	// devices builds the audio devices for a session. Defaults to pcmio.
	devices func(config.AudioConfig) audio.Devices

	mu    sync.Mutex
	ctl   *session.Controller
	trCfg *config.Config
	tr    transport.Transport
	level atomic.Uint64
}

// Run connects and then executes commands read from in until quit, or
// until ctx is cancelled. EOF on in leaves the session running.
func (c *client) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := c.connect(ctx); err != nil {
		c.view.Error("connect failed: %v", err)
	}
	c.view.Status(helpText)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			cmd, err := parseCommand(line)
			if err != nil {
				c.view.Error("%v", err)
				continue
			}
			if c.exec(ctx, cmd) {
				return nil
			}
		}
	}
}

// exec runs cmd and reports whether the client should exit.
func (c *client) exec(ctx context.Context, cmd command) bool {
	ctl := c.current()
	switch cmd {
	case cmdNone:
	case cmdQuit:
		return true
	case cmdHelp:
		c.view.Status(helpText)
	case cmdReconnect:
		c.Disconnect()
		if err := c.connect(ctx); err != nil {
			c.view.Error("reconnect failed: %v", err)
		}
	case cmdMute, cmdUnmute:
		if ctl == nil {
			c.view.Error("no session")
			return false
		}
		ctl.SetMuted(cmd == cmdMute)
		if cmd == cmdMute {
			c.view.Status("microphone muted")
		} else {
			c.view.Status("microphone live")
		}
	case cmdInterrupt:
		if ctl == nil || ctl.State() != session.StateActive {
			c.view.Error("no active session")
			return false
		}
		ctl.Interrupt()
	case cmdStatus:
		if ctl == nil {
			c.view.Status("no session")
			return false
		}
		c.view.Status("session %s: %s, muted=%t", ctl.ID(), ctl.State(), ctl.Muted())
		c.view.Meter(math.Float64frombits(c.level.Load()))
	}
	return false
}

// connect opens a new session using the current configuration.
func (c *client) connect(ctx context.Context) error {
	cfg := c.config()
	persona, ok := cfg.Persona(c.personaID)
	if !ok {
		return fmt.Errorf("persona %q is no longer configured", c.personaID)
	}

	tr, err := c.transport(ctx, cfg)
	if err != nil {
		return err
	}

	devicesFor := c.devices
	if devicesFor == nil {
		devicesFor = newDevices
	}

	ctl := session.New(session.Config{
		Transport:    tr,
		Devices:      devicesFor(cfg.Audio),
		CaptureRate:  cfg.Audio.CaptureRate,
		PlaybackRate: cfg.Audio.PlaybackRate,
		ChunkSize:    cfg.Audio.ChunkSize,
		SendQueue:    cfg.Audio.SendQueue,
		Metrics:      c.metrics,
	})

	c.mu.Lock()
	c.ctl = ctl
	c.mu.Unlock()

	personaID := persona.ID
	cb := session.Callbacks{
		OnAudioLevel: func(level float64) {
			c.level.Store(math.Float64bits(level))
		},
		OnTranscriptUpdate: c.view.Live,
		OnTurnCommitted: func(speaker transport.Speaker, text string) {
			c.view.Commit(speaker, text)
			c.recorder.Record(history.Record{
				SessionID: ctl.ID(),
				PersonaID: personaID,
				Speaker:   speaker,
				Text:      text,
			})
		},
		OnDisconnected: func(reason string) {
			c.view.Status("disconnected: %s (type reconnect to start again)", reason)
		},
		OnStateChange: func(s session.State) {
			slog.Debug("session state", "session_id", ctl.ID(), "state", s.String())
		},
	}

	if err := ctl.Connect(ctx, persona.TransportConfig(c.lessons), cb); err != nil {
		return err
	}
	c.view.Status("talking to %s (voice %s)", persona.Name, persona.VoiceName())
	return nil
}

// Disconnect ends the current session, if any.
func (c *client) Disconnect() {
	ctl := c.current()
	if ctl == nil {
		return
	}
	if err := ctl.Disconnect(); err != nil {
		slog.Warn("disconnect error", "session_id", ctl.ID(), "err", err)
	}
}

// transport returns the transport for cfg. It is rebuilt only when the
// configuration was reloaded, so breaker state carries over between
// reconnects.
func (c *client) transport(ctx context.Context, cfg *config.Config) (transport.Transport, error) {
	c.mu.Lock()
	if c.trCfg == cfg && c.tr != nil {
		defer c.mu.Unlock()
		return c.tr, nil
	}
	c.mu.Unlock()

	primary, err := c.registry.CreateTransport(ctx, cfg.Transport)
	if err != nil {
		return nil, err
	}
	var tr transport.Transport = primary
	if len(cfg.FallbackTransports) > 0 {
		f := resilience.NewFailover(endpointLabel(cfg.Transport), primary, resilience.BreakerConfig{})
		for _, entry := range cfg.FallbackTransports {
			fb, err := c.registry.CreateTransport(ctx, entry)
			if err != nil {
				slog.Warn("skipping fallback transport", "transport", entry.Name, "err", err)
				continue
			}
			f.Add(endpointLabel(entry), fb)
		}
		tr = f
	}

	c.mu.Lock()
	c.trCfg, c.tr = cfg, tr
	c.mu.Unlock()
	return tr, nil
}

// endpointLabel names a transport entry in logs, e.g. "gemini-live/gemini-2.0-flash".
func endpointLabel(e config.TransportEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + "/" + e.Model
}

func (c *client) current() *session.Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctl
}

// newDevices builds process- or file-backed devices from cfg, falling back
// to the platform's default recorder and player commands.
func newDevices(cfg config.AudioConfig) audio.Devices {
	pc := pcmio.Config{
		InputCommand:  cfg.Input.Command,
		InputFile:     cfg.Input.File,
		Realtime:      cfg.Input.Realtime,
		OutputCommand: cfg.Output.Command,
		OutputFile:    cfg.Output.File,
	}
	if len(pc.InputCommand) == 0 && pc.InputFile == "" {
		pc.InputCommand = pcmio.DefaultInputCommand()
	}
	if len(pc.OutputCommand) == 0 && pc.OutputFile == "" {
		pc.OutputCommand = pcmio.DefaultOutputCommand()
	}
	return pcmio.NewDevices(pc)
}
