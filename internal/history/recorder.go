package history

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultQueueSize    = 64
	defaultWriteTimeout = 5 * time.Second
)

// Recorder appends records to a [Store] from a background goroutine.
//
// [Recorder.Record] never blocks: when the queue is full the record is
// dropped and logged. [Recorder.Close] drains whatever is queued before
// returning. All methods are safe for concurrent use.
type Recorder struct {
	store   Store
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Record

	done      chan struct{}
	closeOnce sync.Once
}

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithQueueSize sets how many records may wait for the store. Values below
// one are ignored.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan Record, n)
		}
	}
}

// WithWriteTimeout bounds each Append call.
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRecorder starts a Recorder writing to store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:   store,
		timeout: defaultWriteTimeout,
		queue:   make(chan Record, defaultQueueSize),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	go r.loop()
	return r
}

// Record queues rec. A zero Time is replaced with the current time.
// It reports whether the record was accepted.
func (r *Recorder) Record(rec Record) bool {
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.queue <- rec:
		return true
	default:
		slog.Warn("history: queue full, dropping turn",
			"session_id", rec.SessionID,
			"speaker", rec.Speaker.String(),
		)
		return false
	}
}

// Close stops accepting records and waits until the queue has drained.
// It does not close the underlying store. Safe to call multiple times.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})
	<-r.done
}

func (r *Recorder) loop() {
	defer close(r.done)
	for rec := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.store.Append(ctx, rec); err != nil {
			slog.Warn("history: failed to persist turn",
				"session_id", rec.SessionID,
				"speaker", rec.Speaker.String(),
				"error", err,
			)
		}
		cancel()
	}
}
