// Package capture reads fixed-size chunks from an input device, encodes them
// and hands them to the transport without ever waiting on the network.
//
// The read loop and the send loop are decoupled by a small bounded queue.
// When the queue is full (the transport is stalled or not ready) the newest
// frame is dropped and counted rather than buffered, so capture timing and
// memory stay bounded during a network stall.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/SocialNOT/AgainINDIA/internal/observe"
	"github.com/SocialNOT/AgainINDIA/pkg/audio"
	"github.com/SocialNOT/AgainINDIA/pkg/transport"
)

const (
	// DefaultChunkSize is the number of samples per outbound frame.
	DefaultChunkSize = 4096
	// DefaultSampleRate is the capture rate in Hz.
	DefaultSampleRate = 16000
	// DefaultSendQueue is how many encoded frames may wait for the sender.
	DefaultSendQueue = 4
)

// ErrDevice wraps a capture device failure returned by [Pipeline.Run].
var ErrDevice = errors.New("capture: device failure")

// Pipeline moves audio from a [audio.CaptureSource] to a [transport.Sender].
type Pipeline struct {
	src    audio.CaptureSource
	sender transport.Sender

	chunkSize int
	rate      int
	queueLen  int
	metrics   *observe.Metrics

	muted  atomic.Bool
	closed atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithChunkSize sets the samples per frame. Non-positive values are ignored.
func WithChunkSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

// WithSampleRate sets the capture rate advertised on each chunk.
func WithSampleRate(rate int) Option {
	return func(p *Pipeline) {
		if rate > 0 {
			p.rate = rate
		}
	}
}

// WithSendQueue sets the depth of the outbound queue.
func WithSendQueue(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queueLen = n
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New returns a Pipeline reading from src and sending through sender. The
// pipeline owns src and closes it in [Pipeline.Close].
func New(src audio.CaptureSource, sender transport.Sender, opts ...Option) *Pipeline {
	p := &Pipeline{
		src:       src,
		sender:    sender,
		chunkSize: DefaultChunkSize,
		rate:      DefaultSampleRate,
		queueLen:  DefaultSendQueue,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// SetMuted toggles muting. While muted, captured chunks are discarded before
// encoding and nothing is sent.
func (p *Pipeline) SetMuted(muted bool) {
	if p.muted.Swap(muted) != muted {
		slog.Info("capture mute changed", "muted", muted)
	}
}

// Muted reports whether the pipeline is muted.
func (p *Pipeline) Muted() bool { return p.muted.Load() }

// Run reads and forwards chunks until ctx is cancelled, the source reaches
// io.EOF or the device fails. It returns nil on cancellation, after Close and
// at end of input; device failures are returned wrapped in [ErrDevice].
//
// Run must be called at most once.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan audio.Chunk, p.queueLen)
	sendDone := make(chan struct{})
	go func() {
		defer close(sendDone)
		p.sendLoop(ctx, queue)
	}()
	defer func() {
		close(queue)
		<-sendDone
	}()

	for {
		samples, err := p.src.ReadChunk(ctx, p.chunkSize)
		if (err == nil || len(samples) > 0) && !p.muted.Load() {
			p.enqueue(ctx, queue, samples)
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF):
			slog.Info("capture input ended")
			return nil
		case ctx.Err() != nil || p.closed.Load():
			return nil
		default:
			return fmt.Errorf("%w: %w", ErrDevice, err)
		}
	}
}

// Close releases the capture device. It unblocks a pending read, returns
// once the device has been closed and is safe to call more than once.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		if err := p.src.Close(); err != nil {
			p.closeErr = fmt.Errorf("capture: close device: %w", err)
		}
	})
	return p.closeErr
}

func (p *Pipeline) enqueue(ctx context.Context, queue chan<- audio.Chunk, samples []int16) {
	chunk, err := audio.Encode(samples, p.rate)
	if err != nil {
		p.metrics.RecordFrameDropped(ctx, "empty")
		return
	}
	select {
	case queue <- chunk:
	default:
		p.metrics.RecordFrameDropped(ctx, "queue_full")
	}
}

func (p *Pipeline) sendLoop(ctx context.Context, queue <-chan audio.Chunk) {
	for chunk := range queue {
		if ctx.Err() != nil {
			continue
		}
		if err := p.sender.Send(ctx, chunk); err != nil {
			p.metrics.RecordFrameDropped(ctx, "send_error")
			if !errors.Is(err, transport.ErrNotReady) && !errors.Is(err, context.Canceled) {
				slog.Debug("capture send failed", "err", err)
			}
			continue
		}
		p.metrics.FramesSent.Add(ctx, 1)
	}
}
