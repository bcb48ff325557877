// Package mock provides in-memory implementations of [audio.CaptureSource],
// [audio.PlaybackSink] and [audio.Devices] for use in unit tests.
//
// All mocks are safe for concurrent use. They record method calls so tests
// can assert on call counts and arguments, and expose exported fields that
// control return values.
//
// Typical usage:
//
//	src := mock.NewCaptureSource()
//	sink := &mock.PlaybackSink{}
//	devs := &mock.Devices{Capture: src, Playback: sink}
//	src.Push(make([]int16, 4096))
//	sink.Advance(100 * time.Millisecond)
package mock

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/SocialNOT/AgainINDIA/pkg/audio"
)

// ErrClosed is returned by [CaptureSource.ReadChunk] after Close.
var ErrClosed = errors.New("mock: capture source closed")

// ─── CaptureSource ────────────────────────────────────────────────────────────

// CaptureSource is a scripted [audio.CaptureSource]. Chunks queued with Push
// are returned in order by ReadChunk regardless of the requested size.
type CaptureSource struct {
	feed      chan []int16
	closed    chan struct{}
	closeOnce sync.Once
	endOnce   sync.Once

	mu sync.Mutex

	// ReadSizes records the n argument of every ReadChunk call.
	ReadSizes []int

	// CloseCalls records how many times Close was called.
	CloseCalls int
}

// NewCaptureSource returns a CaptureSource with room for 64 queued chunks.
func NewCaptureSource() *CaptureSource {
	return &CaptureSource{
		feed:   make(chan []int16, 64),
		closed: make(chan struct{}),
	}
}

// Push queues a chunk for ReadChunk.
func (c *CaptureSource) Push(samples []int16) { c.feed <- samples }

// End marks the end of input: ReadChunk returns io.EOF once queued chunks
// have been consumed.
func (c *CaptureSource) End() {
	c.endOnce.Do(func() { close(c.feed) })
}

// ReadChunk implements [audio.CaptureSource].
func (c *CaptureSource) ReadChunk(ctx context.Context, n int) ([]int16, error) {
	c.mu.Lock()
	c.ReadSizes = append(c.ReadSizes, n)
	c.mu.Unlock()

	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}

	select {
	case s, ok := <-c.feed:
		if !ok {
			return nil, io.EOF
		}
		return s, nil
	case <-c.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements [audio.CaptureSource].
func (c *CaptureSource) Close() error {
	c.mu.Lock()
	c.CloseCalls++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Reads returns how many times ReadChunk was called.
func (c *CaptureSource) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ReadSizes)
}

// Closes returns how many times Close was called.
func (c *CaptureSource) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CloseCalls
}

// ─── PlaybackSink ─────────────────────────────────────────────────────────────

// Voice is the [audio.Voice] handed out by [PlaybackSink].
type Voice struct {
	mu        sync.Mutex
	cancelled bool
}

// Cancel implements [audio.Voice].
func (v *Voice) Cancel() {
	v.mu.Lock()
	v.cancelled = true
	v.mu.Unlock()
}

// Cancelled reports whether Cancel was called.
func (v *Voice) Cancelled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cancelled
}

// Scheduled records one ScheduleAt call.
type Scheduled struct {
	Buffer audio.Buffer
	At     time.Duration
	Voice  *Voice
}

// PlaybackSink is an [audio.PlaybackSink] with a manual clock. The clock only
// moves when the test calls Advance or SetTime.
type PlaybackSink struct {
	mu  sync.Mutex
	now time.Duration

	// ScheduleErr, if set, is returned by ScheduleAt.
	ScheduleErr error

	// StopError is returned by Stop.
	StopError error

	// Calls records every successful ScheduleAt call in order.
	Calls []Scheduled

	// StopCalls records how many times Stop was called.
	StopCalls int
}

// ScheduleAt implements [audio.PlaybackSink].
func (s *PlaybackSink) ScheduleAt(buf audio.Buffer, at time.Duration) (audio.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ScheduleErr != nil {
		return nil, s.ScheduleErr
	}
	v := &Voice{}
	s.Calls = append(s.Calls, Scheduled{Buffer: buf, At: at, Voice: v})
	return v, nil
}

// CurrentTime implements [audio.PlaybackSink].
func (s *PlaybackSink) CurrentTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Stop implements [audio.PlaybackSink].
func (s *PlaybackSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCalls++
	return s.StopError
}

// Advance moves the clock forward by d.
func (s *PlaybackSink) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	s.mu.Unlock()
}

// SetTime sets the clock to t.
func (s *PlaybackSink) SetTime(t time.Duration) {
	s.mu.Lock()
	s.now = t
	s.mu.Unlock()
}

// Scheduled returns a copy of the recorded ScheduleAt calls.
func (s *PlaybackSink) Scheduled() []Scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Scheduled, len(s.Calls))
	copy(out, s.Calls)
	return out
}

// Stops returns how many times Stop was called.
func (s *PlaybackSink) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StopCalls
}

// ─── Devices ──────────────────────────────────────────────────────────────────

// Devices is a mock [audio.Devices] returning preconfigured devices.
type Devices struct {
	mu sync.Mutex

	// Capture is returned by OpenCapture.
	Capture *CaptureSource

	// Playback is returned by OpenPlayback.
	Playback *PlaybackSink

	// CaptureErr, if set, is returned by OpenCapture.
	CaptureErr error

	// PlaybackErr, if set, is returned by OpenPlayback.
	PlaybackErr error

	// CaptureRates records the sample rate of every OpenCapture call.
	CaptureRates []int

	// PlaybackRates records the sample rate of every OpenPlayback call.
	PlaybackRates []int
}

// OpenCapture implements [audio.Devices].
func (d *Devices) OpenCapture(_ context.Context, sampleRate int) (audio.CaptureSource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CaptureRates = append(d.CaptureRates, sampleRate)
	if d.CaptureErr != nil {
		return nil, d.CaptureErr
	}
	return d.Capture, nil
}

// OpenPlayback implements [audio.Devices].
func (d *Devices) OpenPlayback(_ context.Context, sampleRate int) (audio.PlaybackSink, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.PlaybackRates = append(d.PlaybackRates, sampleRate)
	if d.PlaybackErr != nil {
		return nil, d.PlaybackErr
	}
	return d.Playback, nil
}
