package hotpath

import "github.com/coral-mesh/hotpath/internal/alloctrack"

// TrackAlloc records an allocation of size bytes against the
// innermost allocation guard on the calling goroutine. Hosts wire
// this into their allocation sites (pools, arenas, codec buffers);
// Go offers no global-allocator hook to do it automatically.
//
// The call is allocation-free and near-zero cost when no guard is
// active.
func TrackAlloc(size uintptr) {
	alloctrack.Alloc(size)
}

// TrackFree records a deallocation of size bytes against the
// innermost allocation guard on the calling goroutine.
func TrackFree(size uintptr) {
	alloctrack.Free(size)
}
