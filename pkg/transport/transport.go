// Package transport defines the contract between a voice session and a remote
// conversational endpoint.
//
// A [Transport] opens a [Conn]: a bidirectional stream that accepts encoded
// audio chunks and emits [Message] values in arrival order. Components that
// only need one direction receive the narrow [Sender] or [Receiver] view so
// they can never close the connection out from under its owner.
//
// Implementations live in sub-packages (gemini, genai, openai). All
// implementations must be safe for concurrent use.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/SocialNOT/AgainINDIA/pkg/audio"
)

var (
	// ErrClosed is returned by Send after the connection has been closed.
	ErrClosed = errors.New("transport: connection closed")

	// ErrNotReady is returned by Send before the endpoint acknowledged setup.
	ErrNotReady = errors.New("transport: connection not ready")
)

// Well-known [Config] keys understood by the bundled transports.
const (
	KeyVoice        = "voice"
	KeyInstructions = "instructions"
	KeyModel        = "model"
)

// Config is opaque connection data forwarded verbatim to [Transport.Open].
// The session never interprets it.
type Config map[string]any

// String returns the value at key as a string, or "" when absent.
func (c Config) String(key string) string {
	switch v := c[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Speaker attributes a transcript to one side of the conversation.
type Speaker int

const (
	// SpeakerUser is the local human.
	SpeakerUser Speaker = iota

	// SpeakerRemote is the synthesised voice of the endpoint.
	SpeakerRemote
)

// String returns the human-readable name of the speaker.
func (s Speaker) String() string {
	switch s {
	case SpeakerUser:
		return "user"
	case SpeakerRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Message is a tagged union of everything a [Conn] can emit. The concrete
// types are [AudioChunk], [InterimTranscript], [TurnComplete], [Interrupted]
// and [Error]; the set is closed.
type Message interface {
	isMessage()
}

// AudioChunk carries synthesised speech from the endpoint.
type AudioChunk struct {
	Chunk audio.Chunk
}

// InterimTranscript is a partial transcription for one speaker.
type InterimTranscript struct {
	Text    string
	Speaker Speaker

	// Delta reports that Text extends the previous fragment of the same turn.
	// When false, Text is a cumulative hypothesis that replaces it.
	Delta bool
}

// TurnComplete marks the end of the endpoint's turn.
type TurnComplete struct{}

// Interrupted reports that the endpoint stopped speaking mid-utterance,
// usually because the user started talking.
type Interrupted struct{}

// Error is a fatal error reported by the endpoint.
type Error struct {
	Reason string
}

func (AudioChunk) isMessage()        {}
func (InterimTranscript) isMessage() {}
func (TurnComplete) isMessage()      {}
func (Interrupted) isMessage()       {}
func (Error) isMessage()             {}

// Sender is the outbound half of a connection.
type Sender interface {
	// Send delivers one encoded audio chunk. It must not be called after
	// Close; doing so returns [ErrClosed].
	Send(ctx context.Context, chunk audio.Chunk) error
}

// Receiver is the inbound half of a connection.
type Receiver interface {
	// Messages returns the inbound stream. The channel is closed when the
	// connection ends; call [Conn.Err] afterwards to learn why.
	Messages() <-chan Message
}

// Conn is an open connection. Only its owner may call Close.
type Conn interface {
	Sender
	Receiver

	// Err returns the error that ended the inbound stream, or nil if the
	// connection was closed locally.
	Err() error

	// Close terminates the connection. Idempotent.
	Close() error
}

// Transport opens connections to a remote endpoint.
type Transport interface {
	Open(ctx context.Context, cfg Config) (Conn, error)
}
