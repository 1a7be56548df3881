package background

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Features is the appearance snapshot kept for each accepted blob.
type Features struct {
	T      int64
	Area   float64
	Aspect float64 // width / height
}

// ObjectModel is a fixed-capacity ring buffer of recent Features.
type ObjectModel struct {
	items    []Features
	capacity int
	head     int // next write position
	size     int
}

func NewObjectModel(capacity int) *ObjectModel {
	if capacity < 1 {
		capacity = 50
	}
	return &ObjectModel{
		items:    make([]Features, capacity),
		capacity: capacity,
	}
}

// Add records f, overwriting the oldest entry when full.
func (m *ObjectModel) Add(f Features) {
	m.items[m.head] = f
	m.head = (m.head + 1) % m.capacity
	if m.size < m.capacity {
		m.size++
	}
}

func (m *ObjectModel) Size() int     { return m.size }
func (m *ObjectModel) Capacity() int { return m.capacity }

// All returns the stored features, oldest first.
func (m *ObjectModel) All() []Features {
	out := make([]Features, 0, m.size)
	start := (m.head - m.size + m.capacity) % m.capacity
	for i := 0; i < m.size; i++ {
		out = append(out, m.items[(start+i)%m.capacity])
	}
	return out
}

// Distance is how atypical f is relative to the stored history: the sum of
// absolute z-scores of log-area and log-aspect. An empty model returns 0.
func (m *ObjectModel) Distance(f Features) float64 {
	if m.size == 0 {
		return 0
	}
	areas := make([]float64, 0, m.size)
	aspects := make([]float64, 0, m.size)
	for _, s := range m.All() {
		areas = append(areas, math.Log(math.Max(s.Area, 1)))
		aspects = append(aspects, math.Log(math.Max(s.Aspect, 1e-3)))
	}
	return zscore(areas, math.Log(math.Max(f.Area, 1))) +
		zscore(aspects, math.Log(math.Max(f.Aspect, 1e-3)))
}

func zscore(xs []float64, v float64) float64 {
	mean, std := stat.MeanStdDev(xs, nil)
	if math.IsNaN(std) || std < 0.05 {
		std = 0.05
	}
	return math.Abs(v-mean) / std
}
