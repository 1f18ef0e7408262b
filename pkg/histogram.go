package astropix

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Histogram is a fixed binning over [Min, Max).
type Histogram struct {
	Edges     []float64
	Counts    []float64
	Underflow int
	Overflow  int
}

func NewHistogram(min, max float64, bins int) *Histogram {
	if bins < 1 {
		bins = 1
	}
	return &Histogram{
		Edges:  floats.Span(make([]float64, bins+1), min, max),
		Counts: make([]float64, bins),
	}
}

func (h *Histogram) Min() float64 { return h.Edges[0] }
func (h *Histogram) Max() float64 { return h.Edges[len(h.Edges)-1] }

// Fill adds values, counting those out of range apart.
func (h *Histogram) Fill(values ...float64) {
	inRange := make([]float64, 0, len(values))
	for _, v := range values {
		switch {
		case v < h.Min():
			h.Underflow++
		case v >= h.Max():
			h.Overflow++
		default:
			inRange = append(inRange, v)
		}
	}
	if len(inRange) == 0 {
		return
	}
	sort.Float64s(inRange)
	counts := stat.Histogram(nil, h.Edges, inRange, nil)
	floats.Add(h.Counts, counts)
}

// Entries counts the values inside the range.
func (h *Histogram) Entries() int {
	return int(floats.Sum(h.Counts))
}

func (h *Histogram) Centers() []float64 {
	centers := make([]float64, len(h.Counts))
	for i := range centers {
		centers[i] = (h.Edges[i] + h.Edges[i+1]) / 2
	}
	return centers
}

// Mean and StdDev are computed over bin centers, weighted by the counts.
func (h *Histogram) Mean() float64 {
	if h.Entries() == 0 {
		return 0
	}
	return stat.Mean(h.Centers(), h.Counts)
}

func (h *Histogram) StdDev() float64 {
	if h.Entries() < 2 {
		return 0
	}
	return stat.StdDev(h.Centers(), h.Counts)
}

func (h *Histogram) Clone() *Histogram {
	return &Histogram{
		Edges:     append([]float64(nil), h.Edges...),
		Counts:    append([]float64(nil), h.Counts...),
		Underflow: h.Underflow,
		Overflow:  h.Overflow,
	}
}
