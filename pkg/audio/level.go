package audio

import "math"

// Level returns the RMS amplitude of samples in [0.0, 1.0]. It is the value
// reported to visualisers and is zero for an empty buffer.
func Level(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms > 1 {
		return 1
	}
	return rms
}
