package hotpath

// Kind identifies the unit of a measurement value.
type Kind uint8

const (
	// KindDuration means Value is elapsed nanoseconds.
	KindDuration Kind = iota
	// KindBytes means Value is allocated bytes.
	KindBytes
	// KindCount means Value is an allocation count.
	KindCount
)

// Measurement is one immutable profiling event, produced exactly once
// by a guard's End and consumed exactly once by the session worker.
type Measurement struct {
	// Name is the instrumented call site. Call sites are expected to
	// use stable, process-lifetime names.
	Name string
	Kind Kind
	// Value is the measured delta in the unit given by Kind.
	Value uint64
	// IsWrapper marks the top-level measurement bracketing the whole
	// session, used as the percentage-of-total reference.
	IsWrapper bool
	// Unsupported marks a value that is meaningless because the delta
	// could not be attributed; it still counts as a call.
	Unsupported bool
	// CrossGoroutine records that the guard ended on a different
	// goroutine than it started on.
	CrossGoroutine bool
}
