// Package mock provides test doubles for the transport package interfaces.
//
// Use Transport to verify Open calls and hand out a controllable Conn. Use
// Conn to script inbound messages and inspect what was sent.
//
// Example:
//
//	conn := mock.NewConn()
//	tr := &mock.Transport{Conn: conn}
//	c, _ := tr.Open(ctx, cfg)
//	conn.Emit(transport.TurnComplete{})
package mock

import (
	"context"
	"sync"

	"github.com/SocialNOT/AgainINDIA/pkg/audio"
	"github.com/SocialNOT/AgainINDIA/pkg/transport"
)

// OpenCall records a single invocation of Transport.Open.
type OpenCall struct {
	// Ctx is the context passed to Open.
	Ctx context.Context
	// Cfg is the Config passed to Open.
	Cfg transport.Config
}

// Transport is a mock implementation of transport.Transport.
type Transport struct {
	mu sync.Mutex

	// Conn is returned by Open. If nil, Open returns a fresh Conn.
	Conn *Conn

	// OpenErr, if non-nil, is returned as the error from Open.
	OpenErr error

	// OpenCalls records every call to Open in order.
	OpenCalls []OpenCall
}

// Open records the call and returns Conn, OpenErr.
func (t *Transport) Open(ctx context.Context, cfg transport.Config) (transport.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.OpenCalls = append(t.OpenCalls, OpenCall{Ctx: ctx, Cfg: cfg})
	if t.OpenErr != nil {
		return nil, t.OpenErr
	}
	if t.Conn == nil {
		t.Conn = NewConn()
	}
	return t.Conn, nil
}

// Opens returns how many times Open was called.
func (t *Transport) Opens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.OpenCalls)
}

// Conn is a mock implementation of transport.Conn.
type Conn struct {
	msgs    chan transport.Message
	endOnce sync.Once

	mu sync.Mutex

	// SendErr, if non-nil, is returned by Send.
	SendErr error

	// Sent records every chunk passed to Send.
	Sent []audio.Chunk

	// CloseCalls records how many times Close was called.
	CloseCalls int

	err error
}

// NewConn returns a Conn with a 64-message inbound buffer.
func NewConn() *Conn {
	return &Conn{msgs: make(chan transport.Message, 64)}
}

// Send records the chunk and returns SendErr.
func (c *Conn) Send(_ context.Context, chunk audio.Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CloseCalls > 0 {
		return transport.ErrClosed
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	c.Sent = append(c.Sent, chunk)
	return nil
}

// Messages returns the scripted inbound stream.
func (c *Conn) Messages() <-chan transport.Message { return c.msgs }

// Emit queues an inbound message. It must not be called after Drop or Close.
func (c *Conn) Emit(msg transport.Message) { c.msgs <- msg }

// Drop ends the inbound stream with err, simulating a network failure.
func (c *Conn) Drop(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.endOnce.Do(func() { close(c.msgs) })
}

// Err returns the error passed to Drop.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close records the call and ends the inbound stream.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.CloseCalls++
	c.mu.Unlock()
	c.endOnce.Do(func() { close(c.msgs) })
	return nil
}

// Closes returns how many times Close was called.
func (c *Conn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CloseCalls
}

// SentChunks returns a copy of the chunks passed to Send.
func (c *Conn) SentChunks() []audio.Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audio.Chunk, len(c.Sent))
	copy(out, c.Sent)
	return out
}
