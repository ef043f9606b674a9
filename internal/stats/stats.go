package stats

// FunctionStats aggregates all measurements observed for one function
// name. It is owned exclusively by the session worker goroutine;
// other goroutines only ever see derived values copied out through
// the completion and query channels.
type FunctionStats struct {
	Count          uint64
	HasData        bool
	IsWrapper      bool
	HasUnsupported bool

	hist *Histogram
}

// NewFunctionStats creates an empty aggregate with a histogram sized
// for the given bounds.
func NewFunctionStats(bounds Bounds) *FunctionStats {
	return &FunctionStats{hist: NewHistogram(bounds)}
}

// Record folds one measurement into the aggregate. Unsupported
// measurements bump the call count and set the unsupported flag but
// contribute no value to the histogram.
func (s *FunctionStats) Record(value uint64, unsupported bool) {
	s.Count++
	if unsupported {
		s.HasUnsupported = true
		return
	}
	s.HasData = true
	if value > 0 {
		s.hist.Record(value)
	}
}

// Percentile returns the value at percentile p, clamped to [0, 100].
func (s *FunctionStats) Percentile(p float64) uint64 {
	return s.hist.Percentile(p)
}

// Mean returns the average recorded value.
func (s *FunctionStats) Mean() uint64 {
	return uint64(s.hist.Mean())
}

// Total approximates the function's aggregate value as
// mean(histogram) * count. A running sum would drift from the clamped
// histogram representation, so the total is derived from it instead.
func (s *FunctionStats) Total() uint64 {
	n := s.hist.Count()
	if n == 0 {
		return 0
	}
	return uint64(s.hist.Mean() * float64(n))
}
