package hotpath

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/hotpath/internal/config"
	"github.com/coral-mesh/hotpath/pkg/hotpath/report"
)

// captureReporter retains the final report for assertions.
type captureReporter struct {
	mu      sync.Mutex
	reports []*report.Report
}

func (c *captureReporter) Report(r *report.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
	return nil
}

func (c *captureReporter) last(t *testing.T) *report.Report {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.reports, "no report captured")
	return c.reports[len(c.reports)-1]
}

func (c *captureReporter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reports)
}

func startTestSession(t *testing.T, rep Reporter, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithReporter(rep), WithCallerName("test_session")}, opts...)
	sess, err := Start(opts...)
	require.NoError(t, err)
	t.Cleanup(sess.Stop)
	return sess
}

func TestSingleSessionInvariant(t *testing.T) {
	cap1 := &captureReporter{}
	sess := startTestSession(t, cap1)

	// A second concurrent session must fail deterministically before
	// any of its guards can record data.
	_, err := Start(WithReporter(&captureReporter{}))
	assert.ErrorIs(t, err, ErrSessionActive)

	assert.Panics(t, func() { MustStart() })

	sess.Stop()

	// Slot cleared; a new session may start.
	cap2 := &captureReporter{}
	sess2, err := Start(WithReporter(cap2), WithCallerName("second"))
	require.NoError(t, err)
	sess2.Stop()
	assert.Equal(t, 1, cap2.count())
}

func TestStopIsIdempotent(t *testing.T) {
	cap := &captureReporter{}
	sess := startTestSession(t, cap)

	Measure("work", func() {})

	sess.Stop()
	sess.Stop()
	assert.Equal(t, 1, cap.count())
}

func TestConcurrentStopRunsOnce(t *testing.T) {
	cap := &captureReporter{}
	sess := startTestSession(t, cap)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.Stop()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, cap.count())
}

func TestGuardsAreNoopsWithoutSession(t *testing.T) {
	// Must not panic, block, or allocate a fresh guard per call.
	g := Start("orphan")
	assert.Same(t, noopGuard, g)
	g.End()
	g.End()

	Measure("orphan_block", func() {})
	StartUnsupported("orphan_async").End()

	var nilGuard *Guard
	nilGuard.End()
}

func TestShutdownDrainsBufferedMeasurements(t *testing.T) {
	cap := &captureReporter{}
	sess := startTestSession(t, cap)

	const calls = 500
	for i := 0; i < calls; i++ {
		Measure("drained", func() {})
	}
	sess.Stop()

	r := cap.last(t)
	row, ok := r.Functions["drained"]
	require.True(t, ok, "function missing from report")
	assert.Equal(t, uint64(calls), row.Calls)
}

func TestTimingScenarioTwoFunctions(t *testing.T) {
	cap := &captureReporter{}
	sess := startTestSession(t, cap, WithPercentiles(50, 95))

	for i := 0; i < 10; i++ {
		Measure("a", func() { time.Sleep(5 * time.Millisecond) })
		Measure("b", func() { time.Sleep(10 * time.Millisecond) })
	}
	sess.Stop()

	r := cap.last(t)
	require.Equal(t, report.ModeTiming, r.Mode)
	a := r.Functions["a"]
	b := r.Functions["b"]

	assert.Equal(t, uint64(10), a.Calls)
	assert.Equal(t, uint64(10), b.Calls)

	// b sleeps twice as long as a; sleep jitter only inflates, so the
	// ratio stays near 2 without being exact.
	ratio := float64(b.Avg.Value) / float64(a.Avg.Value)
	assert.Greater(t, ratio, 1.3, "b.avg=%d a.avg=%d", b.Avg.Value, a.Avg.Value)
	assert.Less(t, ratio, 3.5, "b.avg=%d a.avg=%d", b.Avg.Value, a.Avg.Value)

	// The sleeps are the session's only work, so shares of the
	// wrapper total approach 100% jointly.
	sum := a.PercentTotal + b.PercentTotal
	assert.Greater(t, sum, uint64(8000), "percent sum too low: %d", sum)
	assert.LessOrEqual(t, sum, uint64(10100), "percent sum too high: %d", sum)

	// Percentile columns are present and ordered.
	require.Len(t, a.PercentileValues, 2)
	assert.LessOrEqual(t, a.PercentileValues[0].Value, a.PercentileValues[1].Value)
}

func TestBackpressureNeverBlocksSender(t *testing.T) {
	cap := &captureReporter{}
	cfg := config.Default()
	cfg.ChannelCapacity = 1
	sess := startTestSession(t, cap, WithConfig(cfg))

	const constructed = 5000
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < constructed; i++ {
			Start("burst").End()
		}
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("sender blocked under channel saturation")
	}
	sess.Stop()

	r := cap.last(t)
	if row, ok := r.Functions["burst"]; ok {
		// Under saturation samples may drop, but the aggregate count
		// can never exceed the number of guards constructed.
		assert.LessOrEqual(t, row.Calls, uint64(constructed))
		assert.Greater(t, row.Calls, uint64(0))
	}
}

func TestReporterFailureDoesNotBreakTeardown(t *testing.T) {
	sess, err := Start(
		WithReporter(ReporterFunc(func(*report.Report) error {
			return assert.AnError
		})),
		WithCallerName("failing"),
	)
	require.NoError(t, err)

	Measure("work", func() {})
	sess.Stop()

	// Slot must be free despite the reporter error.
	cap := &captureReporter{}
	sess2, err := Start(WithReporter(cap))
	require.NoError(t, err)
	sess2.Stop()
}

func TestStartRejectsInvalidOptions(t *testing.T) {
	_, err := Start(WithPercentiles(150))
	assert.Error(t, err)

	_, err = Start(WithMode("sampling"))
	assert.Error(t, err)

	// Failed starts must not leave the slot occupied.
	cap := &captureReporter{}
	sess, err := Start(WithReporter(cap))
	require.NoError(t, err)
	sess.Stop()
}

func TestUnsupportedGuardRendersAsNA(t *testing.T) {
	cap := &captureReporter{}
	sess := startTestSession(t, cap, WithMode(report.ModeAllocBytesTotal))

	StartUnsupported("async_hop").End()
	sess.Stop()

	r := cap.last(t)
	require.True(t, r.HasUnsupported)
	row := r.Functions["async_hop"]
	assert.Equal(t, uint64(1), row.Calls)
	assert.True(t, row.Total.Unsupported)
}

func TestCallerNameResolution(t *testing.T) {
	cap := &captureReporter{}
	sess, err := Start(WithReporter(cap))
	require.NoError(t, err)
	sess.Stop()
	assert.Contains(t, cap.last(t).CallerName, "TestCallerNameResolution")
}

func TestMustStartCallerNameSkipsWrapper(t *testing.T) {
	cap := &captureReporter{}
	sess := MustStart(WithReporter(cap))
	sess.Stop()

	name := cap.last(t).CallerName
	assert.NotEqual(t, "hotpath.MustStart", name)
	assert.Contains(t, name, "TestMustStartCallerNameSkipsWrapper")
}

func TestDroppedCounterOnlyUnderSaturation(t *testing.T) {
	cap := &captureReporter{}
	sess := startTestSession(t, cap)

	var constructed atomic.Uint64
	Measure("once", func() { constructed.Add(1) })
	sess.Stop()

	assert.Equal(t, uint64(1), constructed.Load())
	assert.Equal(t, uint64(1), cap.last(t).Functions["once"].Calls)
}
