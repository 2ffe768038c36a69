package monitoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSamplerQuantiles(t *testing.T) {
	s := NewSampler(100)
	for i := 1; i <= 10; i++ {
		s.Observe(float64(i))
	}

	qs := s.Quantiles(0.5, 0.9)
	assert.Len(t, qs, 2)
	assert.Equal(t, 5.0, qs[0])
	assert.Equal(t, 9.0, qs[1])
}

func TestSamplerEmpty(t *testing.T) {
	s := NewSampler(10)
	assert.Nil(t, s.Quantiles(0.5))
	assert.Equal(t, 0, s.Count())
}

func TestSamplerOverwritesOldest(t *testing.T) {
	s := NewSampler(4)
	for i := 1; i <= 6; i++ {
		s.Observe(float64(i))
	}

	assert.Equal(t, 4, s.Count())

	// 1 and 2 were overwritten, so the minimum held value is 3.
	qs := s.Quantiles(0)
	assert.Equal(t, 3.0, qs[0])
}
