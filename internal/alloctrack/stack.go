// Package alloctrack implements goroutine-local allocation
// accounting for allocation-profiling guards.
//
// Go exposes no global-allocator interception point, so the hook is
// an explicit pair of entry points (Alloc, Free) that a host wires
// into its own allocation sites: object pools, arenas, codec
// buffers. Every delta reported through the hook is attributed to the
// top accounting frame of the calling goroutine.
package alloctrack

import (
	"fmt"
	"sync"

	"github.com/petermattis/goid"
)

// MaxDepth bounds the number of in-flight allocation guards nested on
// one goroutine. The stack is a fixed array precisely so that pushing
// and popping frames never allocates; blowing past the bound means
// instrumentation is nested pathologically deep and is treated as a
// programming error.
const MaxDepth = 64

// Frame accumulates allocation activity for one in-flight guard.
// All fields are fixed-size primitives.
type Frame struct {
	// BytesCurrent is the net bytes allocated (allocs minus frees)
	// while the frame was on top.
	BytesCurrent int64
	// BytesPeak is the maximum positive BytesCurrent observed.
	BytesPeak uint64
	// BytesTotal is the gross bytes allocated, ignoring frees.
	BytesTotal uint64
	// CountCurrent is the net allocation count.
	CountCurrent int64
	// CountPeak is the maximum positive CountCurrent observed.
	CountPeak uint64
	// CountTotal is the gross allocation count.
	CountTotal uint64
}

// merge folds a popped child frame into its parent so that the
// parent's totals include everything nested inside it.
func (f *Frame) merge(child Frame) {
	f.BytesCurrent += child.BytesCurrent
	if child.BytesPeak > f.BytesPeak {
		f.BytesPeak = child.BytesPeak
	}
	f.BytesTotal += child.BytesTotal
	f.CountCurrent += child.CountCurrent
	if child.CountPeak > f.CountPeak {
		f.CountPeak = child.CountPeak
	}
	f.CountTotal += child.CountTotal
}

// stack is the per-goroutine accounting state. frames[0] is the
// implicit root frame owned by no guard; depth indexes the current
// top. Only the owning goroutine ever touches a stack, so no locking
// is needed beyond the registry that hands them out.
type stack struct {
	depth  int
	inHook bool
	frames [MaxDepth + 1]Frame
}

const shardCount = 64

// registry shards goroutine id -> stack. The shard lock protects only
// the map; frame access is goroutine-local and lock-free.
type shardedRegistry struct {
	shards [shardCount]struct {
		mu     sync.RWMutex
		stacks map[int64]*stack
	}
}

var registry shardedRegistry

func init() {
	for i := range registry.shards {
		registry.shards[i].stacks = make(map[int64]*stack)
	}
}

func (r *shardedRegistry) get(gid int64) *stack {
	sh := &r.shards[uint64(gid)%shardCount]
	sh.mu.RLock()
	s := sh.stacks[gid]
	sh.mu.RUnlock()
	return s
}

func (r *shardedRegistry) getOrCreate(gid int64) *stack {
	sh := &r.shards[uint64(gid)%shardCount]
	sh.mu.RLock()
	s := sh.stacks[gid]
	sh.mu.RUnlock()
	if s != nil {
		return s
	}
	sh.mu.Lock()
	if s = sh.stacks[gid]; s == nil {
		s = &stack{}
		sh.stacks[gid] = s
	}
	sh.mu.Unlock()
	return s
}

func (r *shardedRegistry) remove(gid int64) {
	sh := &r.shards[uint64(gid)%shardCount]
	sh.mu.Lock()
	delete(sh.stacks, gid)
	sh.mu.Unlock()
}

// GID returns the calling goroutine's id.
func GID() int64 {
	return goid.Get()
}

// Push enters a new accounting frame on the calling goroutine. It
// returns the goroutine id and the frame's depth; both go back into
// the matching Pop. Panics if more than MaxDepth guards are nested on
// one goroutine.
func Push() (gid int64, depth int) {
	gid = goid.Get()
	s := registry.getOrCreate(gid)
	if s.depth >= MaxDepth {
		panic(fmt.Sprintf("hotpath: allocation guard nesting exceeds %d frames on goroutine %d", MaxDepth, gid))
	}
	s.depth++
	s.frames[s.depth] = Frame{}
	return gid, s.depth
}

// Pop leaves the accounting frame pushed at depth and returns its
// totals. With cumulative accounting the popped totals are also
// merged into the new top frame, so an outer guard's report includes
// everything nested inside it; exclusive accounting skips the merge.
//
// Pop must run on the goroutine that called Push; callers detect the
// cross-goroutine case themselves (via GID) and mark the measurement
// unsupported instead of popping. Frames deeper than depth that were
// never popped — a nested guard whose End ran on another goroutine —
// are folded into the result so the stack always returns to depth-1.
//
// Popping the outermost frame releases the goroutine's registry entry
// so goroutine churn in the host never accumulates dead stacks; the
// next outermost Push rebuilds it.
func Pop(depth int, cumulative bool) Frame {
	gid := goid.Get()
	s := registry.get(gid)
	if s == nil || s.depth < depth || depth < 1 {
		// Already popped or foreign; nothing to attribute.
		return Frame{}
	}
	popped := s.frames[depth]
	if cumulative {
		for d := depth + 1; d <= s.depth; d++ {
			popped.merge(s.frames[d])
		}
	}
	s.depth = depth - 1
	if cumulative {
		s.frames[s.depth].merge(popped)
	}
	if s.depth == 0 {
		registry.remove(gid)
	}
	return popped
}

// Depth reports the calling goroutine's current guard nesting depth.
func Depth() int {
	if s := registry.get(goid.Get()); s != nil {
		return s.depth
	}
	return 0
}

// Alloc records an allocation of size bytes against the calling
// goroutine's top frame. Goroutines with no accounting stack — no
// guard was ever active, or the last one was popped — are a cheap
// no-op. The hook body never allocates and is guarded against
// re-entering itself.
func Alloc(size uintptr) {
	s := registry.get(goid.Get())
	if s == nil || s.inHook {
		return
	}
	s.inHook = true
	f := &s.frames[s.depth]
	f.BytesCurrent += int64(size)
	if f.BytesCurrent > 0 && uint64(f.BytesCurrent) > f.BytesPeak {
		f.BytesPeak = uint64(f.BytesCurrent)
	}
	f.BytesTotal += uint64(size)
	f.CountCurrent++
	if f.CountCurrent > 0 && uint64(f.CountCurrent) > f.CountPeak {
		f.CountPeak = uint64(f.CountCurrent)
	}
	f.CountTotal++
	s.inHook = false
}

// Free records a deallocation of size bytes against the calling
// goroutine's top frame.
func Free(size uintptr) {
	s := registry.get(goid.Get())
	if s == nil || s.inHook {
		return
	}
	s.inHook = true
	f := &s.frames[s.depth]
	f.BytesCurrent -= int64(size)
	f.CountCurrent--
	s.inHook = false
}
