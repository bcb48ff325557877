// Package pcmio implements the audio device interfaces on top of raw mono
// s16le byte streams: files, pipes and external recorder/player processes
// such as ffmpeg and ffplay.
package pcmio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/SocialNOT/AgainINDIA/pkg/audio"
)

// ErrClosed is returned by [ReaderSource.ReadChunk] after Close.
var ErrClosed = errors.New("pcmio: source closed")

var _ audio.CaptureSource = (*ReaderSource)(nil)

// SourceOption configures a [ReaderSource].
type SourceOption func(*ReaderSource)

// WithRealtime paces ReadChunk so that samples are delivered no faster than
// the sample rate, which makes a file behave like a live microphone.
func WithRealtime() SourceOption {
	return func(s *ReaderSource) { s.realtime = true }
}

// ReaderSource is an [audio.CaptureSource] reading mono s16le samples from an
// io.Reader. If the reader is also an io.Closer it is closed by Close, which
// unblocks a pending read on pipes.
type ReaderSource struct {
	r        io.Reader
	rate     int
	realtime bool

	origin time.Time
	read   int64 // samples delivered

	mu        sync.Mutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewReaderSource wraps r as a capture source at rate Hz.
func NewReaderSource(r io.Reader, rate int, opts ...SourceOption) *ReaderSource {
	s := &ReaderSource{r: r, rate: rate, done: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ReadChunk implements [audio.CaptureSource]. It is not safe for concurrent
// use with itself; Close may be called from any goroutine.
func (s *ReaderSource) ReadChunk(ctx context.Context, n int) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, ErrClosed
	}

	if s.realtime {
		if err := s.pace(ctx, n); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, n*audio.SampleWidth)
	k, err := io.ReadFull(s.r, buf)
	switch {
	case err == nil:
	case errors.Is(err, io.ErrUnexpectedEOF):
		if k < audio.SampleWidth {
			return nil, io.EOF
		}
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	default:
		if s.isClosed() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("pcmio: read: %w", err)
	}

	samples := make([]int16, k/audio.SampleWidth)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*audio.SampleWidth:]))
	}
	s.read += int64(len(samples))
	return samples, nil
}

// pace waits until the wall clock has caught up with the end of the next chunk.
func (s *ReaderSource) pace(ctx context.Context, n int) error {
	if s.origin.IsZero() {
		s.origin = time.Now()
	}
	due := s.origin.Add(audio.SamplesDuration(int(s.read)+n, s.rate))
	wait := time.Until(due)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ReaderSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close implements [audio.CaptureSource].
func (s *ReaderSource) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		if c, ok := s.r.(io.Closer); ok {
			s.closeErr = c.Close()
		}
	})
	return s.closeErr
}
