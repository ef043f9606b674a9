package hotpath

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotWithoutSession(t *testing.T) {
	_, ok := Snapshot()
	assert.False(t, ok)

	_, ok = RecentSamples("anything")
	assert.False(t, ok)
}

func TestSnapshotReflectsLiveAggregate(t *testing.T) {
	cap := &captureReporter{}
	sess := startTestSession(t, cap)

	for i := 0; i < 3; i++ {
		Measure("live", func() {})
	}

	// Measurements travel through the channel; poll until the worker
	// has folded them.
	require.Eventually(t, func() bool {
		r, ok := Snapshot()
		if !ok {
			return false
		}
		row, found := r.Functions["live"]
		return found && row.Calls == 3
	}, 2*time.Second, 5*time.Millisecond)

	sess.Stop()
}

func TestSnapshotFailsFastAfterStop(t *testing.T) {
	cap := &captureReporter{}
	sess := startTestSession(t, cap)
	sess.Stop()

	start := time.Now()
	_, ok := Snapshot()
	assert.False(t, ok)
	// Post-shutdown queries must not burn the full query timeout.
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestRecentSamplesOldestFirst(t *testing.T) {
	cap := &captureReporter{}
	sess := startTestSession(t, cap)

	Measure("sampled", func() { time.Sleep(time.Millisecond) })
	Measure("sampled", func() { time.Sleep(time.Millisecond) })

	require.Eventually(t, func() bool {
		samples, ok := RecentSamples("sampled")
		return ok && len(samples) == 2
	}, 2*time.Second, 5*time.Millisecond)

	_, ok := RecentSamples("never_recorded")
	assert.False(t, ok)

	sess.Stop()
}

func TestSampleRingEvictsOldest(t *testing.T) {
	ring := newSampleRing(3)
	for v := uint64(1); v <= 5; v++ {
		ring.push(v)
	}
	assert.Equal(t, []uint64{3, 4, 5}, ring.snapshot())
}

func TestSampleRingPartialFill(t *testing.T) {
	ring := newSampleRing(4)
	ring.push(7)
	ring.push(8)
	assert.Equal(t, []uint64{7, 8}, ring.snapshot())
}
