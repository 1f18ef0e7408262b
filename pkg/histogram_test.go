package astropix

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistogramFill(t *testing.T) {
	h := NewHistogram(0, 10, 5)
	assert.Equal(t, []float64{0, 2, 4, 6, 8, 10}, h.Edges)

	h.Fill(9.99, 1, -1, 3, 10, 1.5, 12)
	assert.Equal(t, []float64{2, 1, 0, 0, 1}, h.Counts)
	assert.Equal(t, 1, h.Underflow)
	assert.Equal(t, 2, h.Overflow)
	assert.Equal(t, 4, h.Entries())
	assert.Equal(t, []float64{1, 3, 5, 7, 9}, h.Centers())
	assert.InDelta(t, 3.5, h.Mean(), 1e-12)
	assert.InDelta(t, math.Sqrt(43./3), h.StdDev(), 1e-12)

	h.Fill()
	h.Fill(-5)
	assert.Equal(t, 4, h.Entries())
	assert.Equal(t, 2, h.Underflow)
}

func TestHistogramEmpty(t *testing.T) {
	h := NewHistogram(0, 1, 0)
	assert.Len(t, h.Counts, 1)
	assert.Zero(t, h.Mean())
	assert.Zero(t, h.StdDev())
	h.Fill(0.5)
	assert.Equal(t, 0.5, h.Mean())
	assert.Zero(t, h.StdDev())
}

func TestHistogramClone(t *testing.T) {
	h := NewHistogram(0, 4, 4)
	h.Fill(1)
	clone := h.Clone()
	h.Fill(1, 2, 5)
	assert.Equal(t, []float64{0, 1, 0, 0}, clone.Counts)
	assert.Zero(t, clone.Overflow)
	assert.Equal(t, []float64{0, 2, 1, 0}, h.Counts)
}
