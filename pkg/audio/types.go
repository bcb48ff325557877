package audio

import "time"

// Frame is a chunk of mono linear PCM captured from an input device.
// A Frame is immutable once produced; ownership moves with the value.
type Frame struct {
	// Samples holds signed 16-bit samples.
	Samples []int16

	// SampleRate in Hz (16000 for the default capture path).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples), f.SampleRate)
}

// Buffer is decoded mono audio normalised to [-1.0, 1.0], ready to be
// scheduled on a [PlaybackSink].
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	return SamplesDuration(len(b.Samples), b.SampleRate)
}

// Chunk is the wire representation of a frame: raw little-endian PCM bytes
// plus a MIME descriptor such as "audio/pcm;rate=16000".
type Chunk struct {
	Data     []byte
	MIMEType string
}

// SampleRate extracts the rate from the chunk's MIME descriptor. It reports
// false when the descriptor carries no usable rate.
func (c Chunk) SampleRate() (int, bool) {
	return ParseRate(c.MIMEType)
}

// SamplesDuration converts a sample count at rate Hz to a duration.
func SamplesDuration(n, rate int) time.Duration {
	if rate <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// DurationSamples converts d to the nearest whole number of samples at rate
// Hz. It inverts [SamplesDuration], whose result is truncated to the
// nanosecond, for any rate below 1 GHz.
func DurationSamples(d time.Duration, rate int) int64 {
	if rate <= 0 || d <= 0 {
		return 0
	}
	return (int64(d)*int64(rate) + int64(time.Second)/2) / int64(time.Second)
}
