package audio

import (
	"encoding/binary"
	"log/slog"
	"sync"
)

// Resampler converts inbound s16le chunks to a fixed target rate. It logs a
// warning on the first rate mismatch. Create one per stream.
type Resampler struct {
	Target int

	warnedMismatch sync.Once
}

// Convert returns data resampled from srcRate to the target rate. The input
// is returned unchanged when the rates already match or are unknown.
func (r *Resampler) Convert(data []byte, srcRate int) []byte {
	if srcRate <= 0 || srcRate == r.Target {
		return data
	}
	r.warnedMismatch.Do(func() {
		slog.Warn("audio rate mismatch: resampling",
			"from", srcRate,
			"to", r.Target,
		)
	})
	return ResampleMono16(data, srcRate, r.Target)
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged. A trailing odd byte is ignored.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < SampleWidth {
		return pcm
	}
	srcSamples := len(pcm) / SampleWidth
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	sample := func(i int) int16 {
		return int16(binary.LittleEndian.Uint16(pcm[i*SampleWidth:]))
	}

	out := make([]byte, dstSamples*SampleWidth)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sample(idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = sample(idx + 1)
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		binary.LittleEndian.PutUint16(out[i*SampleWidth:], uint16(v))
	}
	return out
}
