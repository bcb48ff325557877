// Package genailive implements transport.Transport on top of the official Google
// Gen AI SDK's Live API (google.golang.org/genai).
//
// It is an alternative to the raw WebSocket gemini transport for deployments
// that prefer the SDK's authentication and endpoint handling, including the
// Vertex AI backend.
package genailive

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/SocialNOT/AgainINDIA/pkg/audio"
	"github.com/SocialNOT/AgainINDIA/pkg/transport"
	"google.golang.org/genai"
)

var _ transport.Transport = (*Transport)(nil)
var _ transport.Conn = (*conn)(nil)

const (
	defaultModel  = "gemini-2.5-flash-native-audio-preview-09-2025"
	inboundBuffer = 64
)

// liveSession is the subset of *genai.Session used by conn.
type liveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

// connectFunc opens a live session. It is replaced in tests.
type connectFunc func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error)

// Option configures a Transport.
type Option func(*Transport)

// WithModel sets the default Live model.
func WithModel(model string) Option {
	return func(t *Transport) { t.model = model }
}

// Transport opens Gemini Live sessions through a *genai.Client.
type Transport struct {
	model   string
	connect connectFunc
}

// New returns a Transport that connects through client.
func New(client *genai.Client, opts ...Option) *Transport {
	t := &Transport{
		model: defaultModel,
		connect: func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error) {
			return client.Live.Connect(ctx, model, cfg)
		},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// NewFromAPIKey creates a Gemini API client for apiKey and wraps it. An empty
// baseURL keeps the SDK default endpoint.
func NewFromAPIKey(ctx context.Context, apiKey, baseURL string, opts ...Option) (*Transport, error) {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("genai: new client: %w", err)
	}
	return New(client, opts...), nil
}

// Open connects a Live session and waits for setup to complete.
//
// Recognised config keys: "voice", "instructions" and "model".
func (t *Transport) Open(ctx context.Context, cfg transport.Config) (transport.Conn, error) {
	model := t.model
	if m := cfg.String(transport.KeyModel); m != "" {
		model = m
	}

	sess, err := t.connect(ctx, model, ConnectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("genai: connect: %w", err)
	}

	c := &conn{
		sess:  sess,
		msgs:  make(chan transport.Message, inboundBuffer),
		ready: make(chan struct{}),
		done:  make(chan struct{}),
		stop:  make(chan struct{}),
	}
	go c.receiveLoop()

	select {
	case <-c.ready:
		return c, nil
	case <-c.done:
		err := c.Err()
		if err == nil {
			err = errors.New("session ended before setup completed")
		}
		c.Close()
		return nil, fmt.Errorf("genai: setup: %w", err)
	case <-ctx.Done():
		c.Close()
		return nil, fmt.Errorf("genai: setup: %w", ctx.Err())
	}
}

// ConnectConfig builds the Live connect configuration for cfg: audio
// responses, the prebuilt voice, the system instruction and transcription in
// both directions.
func ConnectConfig(cfg transport.Config) *genai.LiveConnectConfig {
	lc := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if voice := cfg.String(transport.KeyVoice); voice != "" {
		lc.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		}
	}
	if instr := cfg.String(transport.KeyInstructions); instr != "" {
		lc.SystemInstruction = genai.NewContentFromText(instr, genai.RoleUser)
	}
	return lc
}

// Convert maps one server message to transport messages in emission order:
// audio, user transcript, remote transcript, Interrupted, TurnComplete.
func Convert(msg *genai.LiveServerMessage) []transport.Message {
	if msg == nil {
		return nil
	}
	var out []transport.Message
	sc := msg.ServerContent
	if sc == nil {
		return nil
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
				continue
			}
			out = append(out, transport.AudioChunk{Chunk: audio.Chunk{
				Data:     p.InlineData.Data,
				MIMEType: p.InlineData.MIMEType,
			}})
		}
	}
	if tr := sc.InputTranscription; tr != nil && tr.Text != "" {
		out = append(out, transport.InterimTranscript{Text: tr.Text, Speaker: transport.SpeakerUser, Delta: true})
	}
	if tr := sc.OutputTranscription; tr != nil && tr.Text != "" {
		out = append(out, transport.InterimTranscript{Text: tr.Text, Speaker: transport.SpeakerRemote, Delta: true})
	}
	if sc.Interrupted {
		out = append(out, transport.Interrupted{})
	}
	if sc.TurnComplete {
		out = append(out, transport.TurnComplete{})
	}
	return out
}

type conn struct {
	sess liveSession
	msgs chan transport.Message

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	stop      chan struct{}

	mu     sync.Mutex
	errVal error
	closed bool
}

func (c *conn) receiveLoop() {
	defer close(c.done)
	defer close(c.msgs)

	for {
		msg, err := c.sess.Receive()
		if err != nil {
			if !c.isClosed() {
				c.setErr(fmt.Errorf("genai: receive: %w", err))
			}
			return
		}
		if msg.SetupComplete != nil {
			c.readyOnce.Do(func() { close(c.ready) })
		}
		for _, m := range Convert(msg) {
			select {
			case c.msgs <- m:
			case <-c.stop:
				return
			}
		}
	}
}

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *conn) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errVal == nil {
		c.errVal = err
	}
}

// Send forwards an encoded PCM chunk as realtime audio input.
func (c *conn) Send(_ context.Context, chunk audio.Chunk) error {
	if c.isClosed() {
		return transport.ErrClosed
	}
	mimeType := chunk.MIMEType
	if mimeType == "" {
		mimeType = audio.PCMMIMEType(16000)
	}
	return c.sess.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: chunk.Data, MIMEType: mimeType},
	})
}

// Messages returns the inbound message stream.
func (c *conn) Messages() <-chan transport.Message { return c.msgs }

// Err returns the error that ended the inbound stream, if any.
func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// Close closes the Live session. Idempotent.
func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	close(c.stop)
	return c.sess.Close()
}
