package pcmio

import (
	"container/heap"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/SocialNOT/AgainINDIA/pkg/audio"
)

// ErrStopped is returned by [ClockSink.ScheduleAt] after Stop.
var ErrStopped = errors.New("pcmio: sink stopped")

const defaultPeriod = 20 * time.Millisecond

var _ audio.PlaybackSink = (*ClockSink)(nil)

// SinkOption configures a [ClockSink].
type SinkOption func(*ClockSink)

// WithPeriod sets how often the render loop wakes up. Default: 20ms.
func WithPeriod(d time.Duration) SinkOption {
	return func(s *ClockSink) {
		if d > 0 {
			s.period = d
		}
	}
}

// WithManualClock disables the render loop. The clock then only advances
// through [ClockSink.Render], which is how tests drive the sink.
func WithManualClock() SinkOption {
	return func(s *ClockSink) { s.manual = true }
}

// ClockSink is a software [audio.PlaybackSink]. It mixes scheduled voices on
// a sample timeline and streams the result as mono s16le to an io.Writer,
// typically the stdin of an audio player process. The sample count written so
// far is the output clock.
type ClockSink struct {
	w      io.Writer
	rate   int
	period time.Duration
	manual bool

	mu      sync.Mutex
	pos     int64 // samples rendered
	pending voiceHeap
	active  []*voice
	seq     uint64
	stopped bool
	err     error

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// NewClockSink creates a sink rendering at rate Hz into w. Unless
// [WithManualClock] is given, a render loop paced by the wall clock starts
// immediately. If w is an io.Closer it is closed by Stop.
func NewClockSink(w io.Writer, rate int, opts ...SinkOption) *ClockSink {
	s := &ClockSink{
		w:      w,
		rate:   rate,
		period: defaultPeriod,
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.manual {
		close(s.done)
		return s
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
	return s
}

// ScheduleAt implements [audio.PlaybackSink]. A start time already in the
// past is clamped to the current clock.
func (s *ClockSink) ScheduleAt(buf audio.Buffer, at time.Duration) (audio.Voice, error) {
	if buf.SampleRate != 0 && buf.SampleRate != s.rate {
		return nil, fmt.Errorf("pcmio: buffer rate %d does not match sink rate %d", buf.SampleRate, s.rate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrStopped
	}

	start := audio.DurationSamples(at, s.rate)
	if start < s.pos {
		start = s.pos
	}
	s.seq++
	v := &voice{samples: buf.Samples, start: start, seq: s.seq}
	heap.Push(&s.pending, v)
	return v, nil
}

// CurrentTime implements [audio.PlaybackSink].
func (s *ClockSink) CurrentTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock()
}

func (s *ClockSink) clock() time.Duration {
	return time.Duration(s.pos * int64(time.Second) / int64(s.rate))
}

// Render mixes the next n samples, advances the clock and writes them out.
func (s *ClockSink) Render(n int) error {
	if n <= 0 {
		return nil
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	out := s.mixLocked(n)
	s.mu.Unlock()

	data := make([]byte, len(out)*audio.SampleWidth)
	for i, v := range audio.FloatToPCM16(out) {
		binary.LittleEndian.PutUint16(data[i*audio.SampleWidth:], uint16(v))
	}
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("pcmio: write: %w", err)
	}
	return nil
}

// mixLocked renders [pos, pos+n) and drops voices that have finished.
func (s *ClockSink) mixLocked(n int) []float32 {
	from := s.pos
	to := from + int64(n)
	out := make([]float32, n)

	for s.pending.Len() > 0 && s.pending[0].start < to {
		v := heap.Pop(&s.pending).(*voice)
		if v.cancelled.Load() {
			continue
		}
		s.active = append(s.active, v)
	}

	kept := s.active[:0]
	for _, v := range s.active {
		if !v.started && v.cancelled.Load() {
			continue
		}
		lo := max(v.start, from)
		hi := min(v.end(), to)
		for t := lo; t < hi; t++ {
			out[t-from] += v.samples[t-v.start]
		}
		if hi > lo {
			v.started = true
		}
		if v.end() > to {
			kept = append(kept, v)
		}
	}
	clear(s.active[len(kept):])
	s.active = kept
	s.pos = to
	return out
}

// Pending returns the number of voices scheduled or still rendering.
func (s *ClockSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len() + len(s.active)
}

// Err returns the write error that stopped the render loop, if any.
func (s *ClockSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *ClockSink) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	origin := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		target := audio.DurationSamples(time.Since(origin), s.rate)
		s.mu.Lock()
		n := target - s.pos
		s.mu.Unlock()

		if err := s.Render(int(n)); err != nil {
			s.mu.Lock()
			stopped := s.stopped
			if !stopped {
				s.err = err
			}
			s.mu.Unlock()
			if !stopped {
				slog.Warn("pcmio: render loop stopped", "err", err)
			}
			return
		}
	}
}

// Stop implements [audio.PlaybackSink]. Pending voices are discarded and the
// underlying writer is closed.
func (s *ClockSink) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.pending = nil
		s.active = nil
		s.mu.Unlock()

		if s.cancel != nil {
			s.cancel()
		}
		// Closing first unblocks a render loop stuck writing to a stalled player.
		if c, ok := s.w.(io.Closer); ok {
			s.stopErr = c.Close()
		}
		<-s.done
	})
	return s.stopErr
}
