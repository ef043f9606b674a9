package hotpath

import (
	"sync/atomic"
	"time"

	"github.com/coral-mesh/hotpath/internal/alloctrack"
	"github.com/coral-mesh/hotpath/pkg/hotpath/report"
)

type guardKind uint8

const (
	guardNoop guardKind = iota
	guardTimer
	guardAlloc
	guardUnsupported
)

// Guard is a scoped instrumentation token. Starting a guard captures
// a start marker; End computes the measured delta and emits exactly
// one Measurement. The intended shape is
//
//	g := hotpath.Start("my_function")
//	defer g.End()
//
// End is idempotent and safe on a nil guard, and never blocks: under
// channel saturation the sample is dropped rather than stalling the
// instrumented code.
type Guard struct {
	name    string
	kind    guardKind
	wrapper bool

	start time.Time
	gid   int64
	depth int
	ended atomic.Bool
}

// noopGuard is shared by every call made while no session is active,
// so disabled instrumentation does not allocate.
var noopGuard = &Guard{kind: guardNoop}

// Start arms a guard for the named call site, following the active
// session's profiling mode: a timing guard under timing mode, an
// allocation guard under any allocation mode. With no active session
// the returned guard is a shared no-op.
func Start(name string) *Guard {
	return startGuard(name, false)
}

// StartUnsupported arms a guard that performs no accounting and
// reports an explicitly unsupported measurement, for call sites where
// the caller knows attribution is impossible. The report renders such
// cells as "N/A" instead of a silently wrong number.
func StartUnsupported(name string) *Guard {
	s := activeSession()
	if s == nil {
		return noopGuard
	}
	return &Guard{name: name, kind: guardUnsupported}
}

// Measure runs fn under a guard named name.
func Measure(name string, fn func()) {
	g := Start(name)
	defer g.End()
	fn()
}

func startGuard(name string, wrapper bool) *Guard {
	s := activeSession()
	if s == nil {
		return noopGuard
	}
	g := &Guard{name: name, wrapper: wrapper}
	if s.mode == report.ModeTiming {
		g.kind = guardTimer
		g.start = time.Now()
		return g
	}
	g.kind = guardAlloc
	g.gid, g.depth = alloctrack.Push()
	return g
}

// End completes the guard and emits its measurement. It runs exactly
// once per guard regardless of how many times it is called.
func (g *Guard) End() {
	if g == nil || g.kind == guardNoop {
		return
	}
	if !g.ended.CompareAndSwap(false, true) {
		return
	}

	switch g.kind {
	case guardTimer:
		send(Measurement{
			Name:      g.name,
			Kind:      KindDuration,
			Value:     uint64(time.Since(g.start)),
			IsWrapper: g.wrapper,
		})
	case guardUnsupported:
		send(Measurement{Name: g.name, Unsupported: true})
	case guardAlloc:
		g.endAlloc()
	}
}

func (g *Guard) endAlloc() {
	s := activeSession()
	if alloctrack.GID() != g.gid {
		// The accounting stack is goroutine-local; a guard that ends
		// on another goroutine cannot attribute its deltas. The frame
		// left behind is reclaimed by the enclosing guard's Pop.
		send(Measurement{
			Name:           g.name,
			Unsupported:    true,
			CrossGoroutine: true,
			IsWrapper:      g.wrapper,
		})
		return
	}

	cumulative := true
	if s != nil {
		cumulative = !s.cfg.Exclusive
	}
	frame := alloctrack.Pop(g.depth, cumulative)
	if s == nil {
		return
	}

	m := Measurement{Name: g.name, IsWrapper: g.wrapper}
	switch s.mode {
	case report.ModeAllocBytesTotal:
		m.Kind, m.Value = KindBytes, frame.BytesTotal
	case report.ModeAllocBytesMax:
		m.Kind, m.Value = KindBytes, frame.BytesPeak
	case report.ModeAllocCountTotal:
		m.Kind, m.Value = KindCount, frame.CountTotal
	case report.ModeAllocCountMax:
		m.Kind, m.Value = KindCount, frame.CountPeak
	}
	send(m)
}
