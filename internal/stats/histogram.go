// Package stats implements the histogram-backed aggregation state
// owned by the session worker.
package stats

import (
	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
)

// sigfigs is the number of significant value digits kept by every
// histogram. Three digits keeps the memory footprint of a histogram
// around a few kilobytes while staying well under 1% value error.
const sigfigs = 3

// Bounds describes the trackable value range of a histogram. Values
// outside the range are clamped on record, never rejected.
type Bounds struct {
	Low  int64
	High int64
}

var (
	// DurationBounds covers 1ns..10s.
	DurationBounds = Bounds{Low: 1, High: 10_000_000_000}
	// ByteBounds covers 1B..1GB per call.
	ByteBounds = Bounds{Low: 1, High: 1_000_000_000}
	// CountBounds covers 1..1e9 allocations per call.
	CountBounds = Bounds{Low: 1, High: 1_000_000_000}
)

// Histogram is a fixed-range, fixed-precision value histogram.
type Histogram struct {
	h      *hdrhistogram.Histogram
	bounds Bounds
}

// NewHistogram creates an empty histogram for the given bounds.
func NewHistogram(bounds Bounds) *Histogram {
	return &Histogram{
		h:      hdrhistogram.New(bounds.Low, bounds.High, sigfigs),
		bounds: bounds,
	}
}

// Record adds one observation, clamped to the histogram bounds.
func (h *Histogram) Record(v uint64) {
	// Clamp the high end before converting: int64(v) wraps negative
	// past math.MaxInt64 and would clamp to the wrong bound.
	if v > uint64(h.bounds.High) {
		v = uint64(h.bounds.High)
	}
	clamped := int64(v)
	if clamped < h.bounds.Low {
		clamped = h.bounds.Low
	}
	// RecordValue only fails for out-of-range values, which clamping
	// has already ruled out.
	_ = h.h.RecordValue(clamped)
}

// Percentile returns the value at percentile p. The requested
// percentile is clamped to [0, 100].
func (h *Histogram) Percentile(p float64) uint64 {
	if h.h.TotalCount() == 0 {
		return 0
	}
	if p < 0 {
		p = 0
	} else if p > 100 {
		p = 100
	}
	return uint64(h.h.ValueAtQuantile(p))
}

// Mean returns the mean of all recorded observations.
func (h *Histogram) Mean() float64 {
	if h.h.TotalCount() == 0 {
		return 0
	}
	return h.h.Mean()
}

// Count returns the number of recorded observations.
func (h *Histogram) Count() uint64 {
	return uint64(h.h.TotalCount())
}
