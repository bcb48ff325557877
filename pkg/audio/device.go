// Package audio defines the sample types, wire codec and device abstractions
// used by a voice session.
//
// Devices are acquired per session through [Devices] and released when the
// session ends; nothing in this package holds a process-wide device handle.
//
// This package lives under pkg/ because external code (platform audio
// backends) is expected to implement [CaptureSource] and [PlaybackSink].
package audio

import (
	"context"
	"time"
)

// CaptureSource is an input device delivering mono s16 samples.
type CaptureSource interface {
	// ReadChunk blocks until n samples are available and returns them. A short
	// final chunk may be returned before io.EOF. ReadChunk returns promptly
	// after ctx is cancelled or Close is called.
	ReadChunk(ctx context.Context, n int) ([]int16, error)

	// Close releases the device. It unblocks a pending ReadChunk and is
	// safe to call more than once.
	Close() error
}

// Voice is a handle to one buffer scheduled on a [PlaybackSink].
type Voice interface {
	// Cancel prevents the buffer from rendering if it has not started yet.
	Cancel()
}

// PlaybackSink is an output device with its own sample clock. Times are
// offsets from the moment the sink was opened.
type PlaybackSink interface {
	// ScheduleAt queues buf to begin rendering at the absolute clock time at.
	ScheduleAt(buf Buffer, at time.Duration) (Voice, error)

	// CurrentTime returns the sink's output clock.
	CurrentTime() time.Duration

	// Stop halts rendering immediately and releases the device. Safe to call
	// more than once.
	Stop() error
}

// Devices opens the capture and playback devices for one session.
type Devices interface {
	OpenCapture(ctx context.Context, sampleRate int) (CaptureSource, error)
	OpenPlayback(ctx context.Context, sampleRate int) (PlaybackSink, error)
}
