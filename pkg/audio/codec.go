package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"mime"
	"strconv"
)

// SampleWidth is the size in bytes of one wire sample (s16le).
const SampleWidth = 2

var (
	// ErrEmptyFrame is returned by [Encode] for a nil or empty sample slice.
	// Callers skip the frame; retrying cannot succeed.
	ErrEmptyFrame = errors.New("audio: empty frame")

	// ErrMalformedFrame is returned by [Decode] when the byte length is not a
	// multiple of [SampleWidth].
	ErrMalformedFrame = errors.New("audio: malformed frame")
)

// PCMMIMEType returns the MIME descriptor for raw 16-bit PCM at rate Hz.
func PCMMIMEType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// ParseRate extracts the rate parameter from a MIME descriptor such as
// "audio/pcm;rate=24000".
func ParseRate(mimeType string) (int, bool) {
	if mimeType == "" {
		return 0, false
	}
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return 0, false
	}
	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return 0, false
	}
	return rate, true
}

// Encode converts samples to little-endian wire bytes tagged with a PCM MIME
// descriptor for rate. It has no side effects and is safe for concurrent use.
func Encode(samples []int16, rate int) (Chunk, error) {
	if len(samples) == 0 {
		return Chunk{}, ErrEmptyFrame
	}
	data := make([]byte, len(samples)*SampleWidth)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*SampleWidth:], uint16(s))
	}
	return Chunk{Data: data, MIMEType: PCMMIMEType(rate)}, nil
}

// Decode converts little-endian 16-bit wire bytes to float samples in
// [-1.0, 1.0]. A sample s decodes to s/32768, so decoding an encoded buffer
// and scaling back by 32768 reproduces the original samples exactly.
func Decode(data []byte) ([]float32, error) {
	return AppendDecoded(nil, data)
}

// AppendDecoded is like [Decode] but appends to dst, letting callers reuse a
// buffer across frames.
func AppendDecoded(dst []float32, data []byte) ([]float32, error) {
	if len(data)%SampleWidth != 0 {
		return dst, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(data))
	}
	for i := 0; i < len(data); i += SampleWidth {
		s := int16(binary.LittleEndian.Uint16(data[i:]))
		dst = append(dst, float32(s)/32768)
	}
	return dst, nil
}

// FloatToPCM16 quantises float samples to int16, clamping values outside
// [-1.0, 1.0].
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, f := range samples {
		v := f * 32768
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}
