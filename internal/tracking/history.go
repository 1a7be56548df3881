package tracking

import "github.com/banshee-data/ethotrack/internal/observation"

// Sample is one timestamped DataPoint in a unit's history.
type Sample struct {
	T     int64
	Point *observation.DataPoint
}

// history is a time-windowed deque: appended at the back, trimmed from the
// front while the span exceeds window milliseconds.
type history struct {
	items  []Sample
	head   int
	window int64
}

func (h *history) len() int { return len(h.items) - h.head }

func (h *history) push(s Sample) {
	h.items = append(h.items, s)
	newest := s.T
	for h.len() > 1 && newest-h.items[h.head].T > h.window {
		h.items[h.head] = Sample{}
		h.head++
	}
	// reclaim the dead prefix once it dominates the backing array
	if h.head > 64 && h.head*2 > len(h.items) {
		n := copy(h.items, h.items[h.head:])
		clear(h.items[n:])
		h.items = h.items[:n]
		h.head = 0
	}
}

func (h *history) last() (Sample, bool) {
	if h.len() == 0 {
		return Sample{}, false
	}
	return h.items[len(h.items)-1], true
}

func (h *history) first() (Sample, bool) {
	if h.len() == 0 {
		return Sample{}, false
	}
	return h.items[h.head], true
}

// walkBack visits samples newest first until fn returns false.
func (h *history) walkBack(fn func(Sample) bool) {
	for i := len(h.items) - 1; i >= h.head; i-- {
		if !fn(h.items[i]) {
			return
		}
	}
}

func (h *history) snapshot() []Sample {
	out := make([]Sample, h.len())
	copy(out, h.items[h.head:])
	return out
}
