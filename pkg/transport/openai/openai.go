// Package openai implements transport.Transport for OpenAI's Realtime API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// Audio is transmitted as base64-encoded PCM16 at 24 kHz; outbound chunks at
// other rates are resampled before they are appended to the input buffer.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/SocialNOT/AgainINDIA/pkg/audio"
	"github.com/SocialNOT/AgainINDIA/pkg/transport"
	"github.com/coder/websocket"
)

// Compile-time assertions that Transport and conn satisfy the transport interfaces.
var _ transport.Transport = (*Transport)(nil)
var _ transport.Conn = (*conn)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// SampleRate is the PCM16 rate used in both directions.
	SampleRate = 24000

	inboundBuffer = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Transport.
type Option func(*Transport)

// WithModel sets the OpenAI model used for connections.
func WithModel(model string) Option {
	return func(t *Transport) { t.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(t *Transport) { t.baseURL = url }
}

// WithTranscriptionModel sets the model used to transcribe user speech.
// Default: whisper-1.
func WithTranscriptionModel(model string) Option {
	return func(t *Transport) { t.transcriptionModel = model }
}

// ── Transport ──────────────────────────────────────────────────────────────────

// Transport implements transport.Transport for OpenAI's Realtime API.
type Transport struct {
	apiKey             string
	model              string
	baseURL            string
	transcriptionModel string
}

// New creates a new OpenAI Realtime Transport with the given API key and options.
func New(apiKey string, opts ...Option) *Transport {
	t := &Transport{
		apiKey:             apiKey,
		model:              defaultModel,
		baseURL:            defaultBaseURL,
		transcriptionModel: "whisper-1",
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Open dials the endpoint, sends session.update and waits for the server to
// confirm it with session.updated.
//
// Recognised config keys: "voice", "instructions" and "model".
func (t *Transport) Open(ctx context.Context, cfg transport.Config) (transport.Conn, error) {
	model := t.model
	if m := cfg.String(transport.KeyModel); m != "" {
		model = m
	}
	wsURL := fmt.Sprintf("%s?model=%s", t.baseURL, model)

	ws, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + t.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}
	ws.SetReadLimit(-1)

	connCtx, connCancel := context.WithCancel(context.Background())
	c := &conn{
		ws:     ws,
		msgs:   make(chan transport.Message, inboundBuffer),
		ctx:    connCtx,
		cancel: connCancel,
	}

	params := sessionParams{
		Voice:             cfg.String(transport.KeyVoice),
		Instructions:      cfg.String(transport.KeyInstructions),
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		InputAudioTranscription: &transcriptionParams{
			Model: t.transcriptionModel,
		},
		TurnDetection: &turnDetection{Type: "server_vad"},
	}
	if err := c.writeJSON(ctx, sessionUpdateMessage{Type: "session.update", Session: params}); err != nil {
		connCancel()
		ws.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}
	if err := c.awaitSessionUpdated(ctx); err != nil {
		connCancel()
		ws.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go c.receiveLoop()

	return c, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice                   string               `json:"voice,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection       `json:"turn_detection,omitempty"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta /
	// conversation.item.input_audio_transcription.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── conn ───────────────────────────────────────────────────────────────────────

type conn struct {
	ws   *websocket.Conn
	msgs chan transport.Message

	mu     sync.Mutex
	errVal error
	closed bool

	// responding is true between response.created and response.done. It is
	// only touched by the receive loop.
	responding bool

	resampler audio.Resampler

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *conn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// awaitSessionUpdated blocks until the server confirms the session.update.
func (c *conn) awaitSessionUpdated(ctx context.Context) error {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}
		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		switch evt.Type {
		case "session.updated":
			return nil
		case "error":
			return errors.New(evt.errorReason())
		}
	}
}

// receiveLoop reads events from the WebSocket and converts them to transport
// messages. It owns msgs and closes it when it exits.
func (c *conn) receiveLoop() {
	defer c.closeMessages()

	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.setErr(fmt.Errorf("openai: read: %w", err))
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Debug("openai: skipping malformed server event", "err", err)
			continue
		}

		if !c.handleServerEvent(&evt) {
			return
		}
	}
}

// handleServerEvent emits the transport message for evt, if any. It returns
// false once the connection is shutting down.
func (c *conn) handleServerEvent(evt *serverEvent) bool {
	switch evt.Type {
	case "response.created":
		c.responding = true

	case "response.audio.delta":
		if evt.Delta == "" {
			return true
		}
		data, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(data) == 0 {
			slog.Debug("openai: skipping undecodable audio delta", "err", err)
			return true
		}
		return c.emit(transport.AudioChunk{Chunk: audio.Chunk{
			Data:     data,
			MIMEType: audio.PCMMIMEType(SampleRate),
		}})

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return true
		}
		return c.emit(transport.InterimTranscript{Text: evt.Delta, Speaker: transport.SpeakerRemote, Delta: true})

	case "conversation.item.input_audio_transcription.delta":
		if evt.Delta == "" {
			return true
		}
		return c.emit(transport.InterimTranscript{Text: evt.Delta, Speaker: transport.SpeakerUser, Delta: true})

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return true
		}
		// The completed transcript supersedes any deltas for the same item.
		return c.emit(transport.InterimTranscript{Text: evt.Transcript, Speaker: transport.SpeakerUser})

	case "input_audio_buffer.speech_started":
		if c.responding {
			c.responding = false
			return c.emit(transport.Interrupted{})
		}

	case "response.done":
		c.responding = false
		return c.emit(transport.TurnComplete{})

	case "error":
		return c.emit(transport.Error{Reason: evt.errorReason()})
	}
	return true
}

func (c *conn) emit(msg transport.Message) bool {
	select {
	case c.msgs <- msg:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (evt *serverEvent) errorReason() string {
	if evt.Error != nil && evt.Error.Message != "" {
		return fmt.Sprintf("openai: %s", evt.Error.Message)
	}
	return "openai: unknown error"
}

func (c *conn) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errVal == nil {
		c.errVal = err
	}
}

func (c *conn) closeMessages() {
	c.closeOnce.Do(func() { close(c.msgs) })
}

// ── Conn methods ───────────────────────────────────────────────────────────────

// Send appends a PCM16 chunk to the input audio buffer, resampling it to
// 24 kHz when its MIME descriptor names a different rate.
func (c *conn) Send(ctx context.Context, chunk audio.Chunk) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrClosed
	}
	if c.resampler.Target == 0 {
		c.resampler.Target = SampleRate
	}
	data := chunk.Data
	if rate, ok := chunk.SampleRate(); ok {
		data = c.resampler.Convert(data, rate)
	}
	c.mu.Unlock()

	return c.writeJSON(ctx, appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(data),
	})
}

// Messages returns the inbound message stream.
func (c *conn) Messages() <-chan transport.Message { return c.msgs }

// Err returns the first non-nil error that ended the inbound stream.
func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// Close terminates the connection and releases all resources. Idempotent.
func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.ws.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
