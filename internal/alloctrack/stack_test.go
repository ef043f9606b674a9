package alloctrack

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runIsolated runs fn on a fresh goroutine so each test starts with a
// clean accounting stack.
func runIsolated(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	<-done
}

func TestPushPopBalanced(t *testing.T) {
	runIsolated(t, func() {
		_, depth := Push()
		assert.Equal(t, 1, depth)
		assert.Equal(t, 1, Depth())

		Alloc(100)
		frame := Pop(depth, true)

		assert.Equal(t, int64(100), frame.BytesCurrent)
		assert.Equal(t, uint64(100), frame.BytesTotal)
		assert.Equal(t, uint64(1), frame.CountTotal)
		assert.Equal(t, 0, Depth())
	})
}

func TestNestedCumulativeAccounting(t *testing.T) {
	runIsolated(t, func() {
		// outer allocates 1000, inner allocates 500; cumulative mode
		// reports outer = 1500, inner = 500.
		_, outer := Push()
		Alloc(1000)

		_, inner := Push()
		Alloc(500)
		innerFrame := Pop(inner, true)
		assert.Equal(t, uint64(500), innerFrame.BytesTotal)

		outerFrame := Pop(outer, true)
		assert.Equal(t, uint64(1500), outerFrame.BytesTotal)
	})
}

func TestNestedExclusiveAccounting(t *testing.T) {
	runIsolated(t, func() {
		_, outer := Push()
		Alloc(1000)

		_, inner := Push()
		Alloc(500)
		innerFrame := Pop(inner, false)
		assert.Equal(t, uint64(500), innerFrame.BytesTotal)

		outerFrame := Pop(outer, false)
		assert.Equal(t, uint64(1000), outerFrame.BytesTotal)
	})
}

func TestPeakTracksNetHighWater(t *testing.T) {
	runIsolated(t, func() {
		_, depth := Push()

		Alloc(800)
		Free(300)
		Alloc(100)

		frame := Pop(depth, true)
		assert.Equal(t, int64(600), frame.BytesCurrent)
		assert.Equal(t, uint64(800), frame.BytesPeak)
		assert.Equal(t, uint64(900), frame.BytesTotal)
		assert.Equal(t, int64(1), frame.CountCurrent)
		assert.Equal(t, uint64(2), frame.CountTotal)
	})
}

func TestAllocAfterLastPopIsNoop(t *testing.T) {
	runIsolated(t, func() {
		// Return to depth 0; the goroutine's stack is released.
		_, depth := Push()
		Pop(depth, true)

		Alloc(4096)
		assert.Equal(t, 0, Depth())

		_, depth = Push()
		frame := Pop(depth, true)
		assert.Equal(t, uint64(0), frame.BytesTotal)
	})
}

func registrySize() int {
	n := 0
	for i := range registry.shards {
		sh := &registry.shards[i]
		sh.mu.RLock()
		n += len(sh.stacks)
		sh.mu.RUnlock()
	}
	return n
}

func TestRegistryReleasedOnOutermostPop(t *testing.T) {
	before := registrySize()

	// Goroutine ids are never reused, so any stack surviving its
	// goroutine is leaked for the life of the process.
	const goroutines = 10000
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, depth := Push()
			Alloc(64)
			Pop(depth, true)
		}()
	}
	wg.Wait()

	assert.Equal(t, before, registrySize())
}

func TestRegistryReleasedWithLeakedInnerFrames(t *testing.T) {
	before := registrySize()
	runIsolated(t, func() {
		_, outer := Push()
		Push()
		Alloc(50)
		// Only the outer frame pops; the leaked inner frame must not
		// pin the registry entry.
		Pop(outer, true)
	})
	assert.Equal(t, before, registrySize())
}

func TestAllocOnUntrackedGoroutineIsNoop(t *testing.T) {
	runIsolated(t, func() {
		// No Push ever happened here; the hook must be a harmless
		// no-op.
		Alloc(128)
		Free(128)
		assert.Equal(t, 0, Depth())
	})
}

func TestPushBeyondMaxDepthPanics(t *testing.T) {
	runIsolated(t, func() {
		depths := make([]int, 0, MaxDepth)
		defer func() {
			r := recover()
			require.NotNil(t, r, "expected panic past MaxDepth")
			for i := len(depths) - 1; i >= 0; i-- {
				Pop(depths[i], true)
			}
		}()

		for i := 0; i < MaxDepth+1; i++ {
			_, d := Push()
			depths = append(depths, d)
		}
		t.Error("push beyond MaxDepth did not panic")
	})
}

func TestPopReclaimsLeakedFrames(t *testing.T) {
	runIsolated(t, func() {
		_, outer := Push()
		Alloc(100)

		// Inner guard never pops (its End ran on another goroutine).
		Push()
		Alloc(50)

		frame := Pop(outer, true)
		assert.Equal(t, uint64(150), frame.BytesTotal)
		assert.Equal(t, 0, Depth())
	})
}

func TestForeignPopReturnsZero(t *testing.T) {
	runIsolated(t, func() {
		frame := Pop(1, true)
		assert.Equal(t, Frame{}, frame)
	})
}

func TestGoroutineIsolation(t *testing.T) {
	// Each goroutine owns its stack; concurrent accounting must not
	// bleed across goroutines.
	const workers = 16
	var wg sync.WaitGroup
	results := make([]Frame, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, depth := Push()
			for j := 0; j < n+1; j++ {
				Alloc(uintptr(100))
			}
			results[n] = Pop(depth, true)
		}(i)
	}
	wg.Wait()

	for i, frame := range results {
		assert.Equal(t, uint64((i+1)*100), frame.BytesTotal, "worker %d", i)
	}
}
