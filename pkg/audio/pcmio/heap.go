package pcmio

import "sync/atomic"

// voice is one buffer scheduled on a [ClockSink].
type voice struct {
	samples []float32
	start   int64 // absolute sample index
	seq     uint64

	started   bool // touched only by the renderer under the sink lock
	cancelled atomic.Bool
}

// Cancel implements audio.Voice. A voice that has begun rendering plays out.
func (v *voice) Cancel() { v.cancelled.Store(true) }

func (v *voice) end() int64 { return v.start + int64(len(v.samples)) }

// voiceHeap implements [container/heap.Interface] as a min-heap ordered by
// start sample, with FIFO tie-breaking on seq.
type voiceHeap []*voice

func (h voiceHeap) Len() int { return len(h) }

func (h voiceHeap) Less(i, j int) bool {
	if h[i].start != h[j].start {
		return h[i].start < h[j].start
	}
	return h[i].seq < h[j].seq
}

func (h voiceHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *voiceHeap) Push(x any) {
	*h = append(*h, x.(*voice))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *voiceHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return v
}
