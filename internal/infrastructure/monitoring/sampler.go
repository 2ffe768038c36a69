package monitoring

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// Sampler is a fixed-capacity reservoir of float64 observations. Once full
// it overwrites the oldest value, so quantiles reflect recent behavior.
type Sampler struct {
	mu   sync.Mutex
	buf  []float64
	next int
	full bool
}

// NewSampler creates a sampler holding up to capacity observations.
func NewSampler(capacity int) *Sampler {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Sampler{buf: make([]float64, 0, capacity)}
}

// Observe records a single observation.
func (s *Sampler) Observe(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.full {
		s.buf = append(s.buf, v)
		if len(s.buf) == cap(s.buf) {
			s.full = true
		}
		return
	}
	s.buf[s.next] = v
	s.next = (s.next + 1) % len(s.buf)
}

// Count reports how many observations are currently held.
func (s *Sampler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Quantiles computes the requested quantiles over the held observations.
// Returns nil when no observations have been recorded.
func (s *Sampler) Quantiles(qs ...float64) []float64 {
	s.mu.Lock()
	data := make([]float64, len(s.buf))
	copy(data, s.buf)
	s.mu.Unlock()

	if len(data) == 0 {
		return nil
	}
	sort.Float64s(data)

	out := make([]float64, len(qs))
	for i, q := range qs {
		out[i] = stat.Quantile(q, stat.Empirical, data, nil)
	}
	return out
}
