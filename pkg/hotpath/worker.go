package hotpath

import (
	"time"

	"github.com/coral-mesh/hotpath/internal/stats"
	"github.com/coral-mesh/hotpath/pkg/hotpath/report"
)

type queryKind uint8

const (
	querySnapshot queryKind = iota
	querySamples
)

// query is a boxed request answered inline by the worker from its
// live state. resp is buffered so the worker never blocks on a caller
// that gave up.
type query struct {
	kind     queryKind
	function string
	resp     chan queryResponse
}

type queryResponse struct {
	report  *report.Report
	samples []uint64
}

// sampleRing retains the most recent raw values for one function.
type sampleRing struct {
	values []uint64
	next   int
	full   bool
}

func newSampleRing(size int) *sampleRing {
	return &sampleRing{values: make([]uint64, size)}
}

func (r *sampleRing) push(v uint64) {
	r.values[r.next] = v
	r.next++
	if r.next == len(r.values) {
		r.next = 0
		r.full = true
	}
}

// snapshot returns the retained values oldest first.
func (r *sampleRing) snapshot() []uint64 {
	if !r.full {
		return append([]uint64(nil), r.values[:r.next]...)
	}
	out := make([]uint64, 0, len(r.values))
	out = append(out, r.values[r.next:]...)
	out = append(out, r.values[:r.next]...)
	return out
}

// run is the aggregation worker: a single goroutine with exclusive
// ownership of the stats map and sample rings. It folds measurements
// in receipt order, answers queries inline, and on shutdown drains
// whatever is already buffered before handing the final map through
// the completion channel.
func (s *session) run() {
	agg := make(map[string]*stats.FunctionStats)
	rings := make(map[string]*sampleRing)

	fold := func(m Measurement) {
		st := agg[m.Name]
		if st == nil {
			st = stats.NewFunctionStats(boundsFor(m.Kind))
			agg[m.Name] = st
		}
		if m.IsWrapper {
			st.IsWrapper = true
		}
		st.Record(m.Value, m.Unsupported)
		if !m.Unsupported && !m.IsWrapper {
			ring := rings[m.Name]
			if ring == nil {
				ring = newSampleRing(s.cfg.SampleRingSize)
				rings[m.Name] = ring
			}
			ring.push(m.Value)
		}
	}

	for {
		select {
		case m := <-s.measCh:
			fold(m)

		case q := <-s.queryCh:
			s.answer(q, agg, rings)

		case <-s.shutdownCh:
			for {
				select {
				case m := <-s.measCh:
					fold(m)
				default:
					s.doneCh <- agg
					return
				}
			}
		}
	}
}

func (s *session) answer(q query, agg map[string]*stats.FunctionStats, rings map[string]*sampleRing) {
	var resp queryResponse
	switch q.kind {
	case querySnapshot:
		resp.report = report.Build(
			s.mode,
			uint64(time.Since(s.start)),
			s.caller,
			s.cfg.Percentiles,
			s.cfg.DisplayLimit,
			agg,
		)
	case querySamples:
		if ring := rings[q.function]; ring != nil {
			resp.samples = ring.snapshot()
		}
	}
	select {
	case q.resp <- resp:
	default:
	}
}

func boundsFor(k Kind) stats.Bounds {
	switch k {
	case KindBytes:
		return stats.ByteBounds
	case KindCount:
		return stats.CountBounds
	default:
		return stats.DurationBounds
	}
}
