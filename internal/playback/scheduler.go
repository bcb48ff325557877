// Package playback turns a bursty stream of inbound audio chunks into
// continuous, non-overlapping output on an [audio.PlaybackSink].
//
// The [Scheduler] owns the playback cursor: the sample position at which the
// next buffer should start. Each buffer starts at max(cursor, sink clock) and
// the cursor then advances by the buffer's sample count, so back-to-back
// buffers are gapless and a buffer arriving after a stall starts immediately
// instead of in the past. Interrupt cancels everything queued but not yet
// rendering and pulls the cursor back to the sink clock.
//
// The cursor is kept in samples at the playback rate. Positions become
// durations only when they are handed to the sink, so buffer lengths that are
// not a whole number of nanoseconds do not accumulate rounding error.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SocialNOT/AgainINDIA/internal/observe"
	"github.com/SocialNOT/AgainINDIA/pkg/audio"
)

// ErrClosed is returned by Schedule after Close.
var ErrClosed = errors.New("playback: scheduler closed")

// State is the scheduler's playback state.
type State int

const (
	// StateIdle means nothing is queued past the sink clock.
	StateIdle State = iota
	// StatePlaying means at least one buffer is rendering or queued.
	StatePlaying
)

// String returns "idle" or "playing".
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Placement describes where a scheduled buffer landed on the sink clock.
type Placement struct {
	// Start is the sink time the buffer begins rendering.
	Start time.Duration
	// Duration is the buffer's playback length.
	Duration time.Duration
	// Level is the RMS amplitude of the decoded samples.
	Level float64
	// Late is true when the buffer arrived mid-utterance after the cursor
	// had passed, so the output ran dry and the buffer started at the sink
	// clock instead.
	Late bool
}

// queued tracks a voice handed to the sink until it has finished rendering.
type queued struct {
	voice      audio.Voice
	start, end int64
}

// Scheduler places decoded buffers on a sink. It is safe for concurrent use,
// but callers are expected to drive it from one dispatch goroutine so that
// buffers are scheduled in arrival order.
type Scheduler struct {
	sink      audio.PlaybackSink
	rate      int
	resampler *audio.Resampler
	metrics   *observe.Metrics

	mu       sync.Mutex
	next     int64 // cursor, in samples
	speaking bool  // an utterance is in progress
	pending  []queued
	scratch  []float32
	closed   bool
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New returns a Scheduler rendering to sink at rate Hz. Inbound chunks tagged
// with a different rate are resampled to rate before decoding.
func New(sink audio.PlaybackSink, rate int, opts ...Option) *Scheduler {
	s := &Scheduler{
		sink:      sink,
		rate:      rate,
		resampler: &audio.Resampler{Target: rate},
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.next = s.position(sink.CurrentTime())
	return s
}

// Schedule decodes chunk and queues it directly after the previously
// scheduled buffer, or at the sink clock if playback has drained.
//
// A chunk whose length is not a whole number of samples is rejected with an
// error wrapping [audio.ErrMalformedFrame]; the caller drops it and carries
// on. An empty chunk is ignored and returns a zero Placement.
func (s *Scheduler) Schedule(ctx context.Context, chunk audio.Chunk) (Placement, error) {
	data := chunk.Data
	if len(data)%audio.SampleWidth == 0 {
		if rate, ok := chunk.SampleRate(); ok {
			data = s.resampler.Convert(data, rate)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Placement{}, ErrClosed
	}

	samples, err := audio.AppendDecoded(s.scratch[:0], data)
	if err != nil {
		s.metrics.FramesMalformed.Add(ctx, 1)
		return Placement{}, err
	}
	s.scratch = samples
	if len(samples) == 0 {
		return Placement{}, nil
	}

	// The sink keeps the buffer until it renders, so it gets its own copy.
	buf := audio.Buffer{
		Samples:    append([]float32(nil), samples...),
		SampleRate: s.rate,
	}

	now := s.position(s.sink.CurrentTime())
	s.prune(now)

	start, late := s.next, false
	if start < now {
		// Within an utterance this means the sink ran dry before the buffer
		// arrived. After EndUtterance or Interrupt it is ordinary silence.
		start, late = now, s.speaking
		if late {
			s.metrics.LateStarts.Add(ctx, 1)
		}
	}
	end := start + int64(len(buf.Samples))

	p := Placement{
		Start:    s.at(start),
		Duration: buf.Duration(),
		Level:    audio.Level(buf.Samples),
		Late:     late,
	}
	voice, err := s.sink.ScheduleAt(buf, p.Start)
	if err != nil {
		return Placement{}, fmt.Errorf("playback: schedule at %s: %w", p.Start, err)
	}

	s.pending = append(s.pending, queued{voice: voice, start: start, end: end})
	s.next = end
	s.speaking = true
	s.metrics.FramesReceived.Add(ctx, 1)
	return p, nil
}

// EndUtterance marks the end of the remote speaker's turn. Queued audio
// keeps playing, but the next buffer is not counted as a late start when it
// arrives after the output has gone quiet.
func (s *Scheduler) EndUtterance() {
	s.mu.Lock()
	s.speaking = false
	s.mu.Unlock()
}

// Interrupt discards every buffer that has not started rendering and resets
// the cursor to the sink clock. A buffer already rendering plays out. It
// returns how many queued buffers were cancelled.
func (s *Scheduler) Interrupt(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}
	now := s.position(s.sink.CurrentTime())

	var cancelled int
	kept := s.pending[:0]
	for _, q := range s.pending {
		switch {
		case q.start > now:
			q.voice.Cancel()
			cancelled++
		case q.end > now:
			kept = append(kept, q)
		}
	}
	clear(s.pending[len(kept):])
	s.pending = kept

	s.next = now
	s.speaking = false
	s.metrics.Interruptions.Add(ctx, 1)
	if cancelled > 0 {
		slog.Debug("playback interrupted", "cancelled", cancelled, "at", s.at(now))
	}
	return cancelled
}

// State reports whether audio is queued or rendering. Playback returns to
// idle on its own once the sink clock passes the cursor.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && s.position(s.sink.CurrentTime()) < s.next {
		return StatePlaying
	}
	return StateIdle
}

// NextStartTime returns the cursor: the sink time at which the next buffer
// would start if the sink clock has not passed it.
func (s *Scheduler) NextStartTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.at(s.next)
}

// Close stops the sink and releases the output device. Further calls are
// no-ops.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.pending = nil
	s.speaking = false
	s.mu.Unlock()

	if err := s.sink.Stop(); err != nil {
		return fmt.Errorf("playback: stop sink: %w", err)
	}
	return nil
}

// position converts a sink time to a sample index at the playback rate.
func (s *Scheduler) position(t time.Duration) int64 {
	return audio.DurationSamples(t, s.rate)
}

// at converts a sample index back to sink time.
func (s *Scheduler) at(pos int64) time.Duration {
	return audio.SamplesDuration(int(pos), s.rate)
}

// prune forgets buffers that finished rendering before now.
func (s *Scheduler) prune(now int64) {
	n := 0
	for _, q := range s.pending {
		if q.end > now {
			s.pending[n] = q
			n++
		}
	}
	clear(s.pending[n:])
	s.pending = s.pending[:n]
}
