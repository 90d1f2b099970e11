package alloc

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/hostalloc/memutils"
)

// Heap allocates from a single engine heap. The allocator's shared heap may be used from any
// goroutine; heaps created by a Local may only be allocated from by the goroutine that owns the
// Local. Blocks from any heap may be deallocated on any goroutine.
type Heap struct {
	allocator *Allocator
	heap      EngineHeap
	backing   bool
	released  bool
}

// IsBacking reports whether this is the backing heap of a Local
func (h *Heap) IsBacking() bool {
	return h.backing
}

// IsReleased reports whether the heap has been deleted or destroyed. Allocations through a released
// heap return absent blocks.
func (h *Heap) IsReleased() bool {
	return h.released
}

// checkAlignment panics if alignment is not a power of two
func checkAlignment(alignment uintptr) {
	err := memutils.CheckPow2(alignment, "alignment")
	if err != nil {
		panic(errors.Wrap(err, "invalid alignment request"))
	}
}

// engineRequest converts a facade request to the engine's integer types. It returns false if the
// request cannot be expressed, which no engine could satisfy anyway.
func engineRequest(size, alignment, offset uintptr) (int, uint, int, bool) {
	if size > math.MaxInt || alignment > math.MaxInt {
		return 0, 0, 0, false
	}

	return int(size), uint(alignment), int(offset % alignment), true
}

// Allocate returns a block of size bytes with uninitialized contents. It returns an absent block if
// size is zero or memory is exhausted.
func (h *Heap) Allocate(size uintptr) Block {
	if size == 0 || size > math.MaxInt || h.released {
		return Block{}
	}

	return Block{ptr: h.heap.Malloc(int(size)), len: size}.normalize()
}

// AllocateZeroed returns a zeroed block large enough for count elements of size bytes. It returns an
// absent block if either value is zero, if their product overflows, or if memory is exhausted.
func (h *Heap) AllocateZeroed(count, size uintptr) Block {
	if count == 0 || size == 0 || h.released {
		return Block{}
	}

	total, err := memutils.CheckedMul(count, size)
	if err != nil || total > math.MaxInt {
		return Block{}
	}

	return Block{ptr: h.heap.Zalloc(int(total)), len: total}.normalize()
}

// AllocateAligned returns a block of size bytes placed so that (address + offset) is a multiple of
// alignment. It panics if alignment is not a power of two.
func (h *Heap) AllocateAligned(size, alignment, offset uintptr) Block {
	checkAlignment(alignment)

	if size == 0 || h.released {
		return Block{}
	}

	engineSize, engineAlignment, engineOffset, ok := engineRequest(size, alignment, offset)
	if !ok {
		return Block{}
	}

	return Block{ptr: h.heap.MallocAligned(engineSize, engineAlignment, engineOffset), len: size}.normalize()
}

// AllocateAlignedZeroed is AllocateAligned with the contents set to zero
func (h *Heap) AllocateAlignedZeroed(size, alignment, offset uintptr) Block {
	checkAlignment(alignment)

	if size == 0 || h.released {
		return Block{}
	}

	engineSize, engineAlignment, engineOffset, ok := engineRequest(size, alignment, offset)
	if !ok {
		return Block{}
	}

	return Block{ptr: h.heap.ZallocAligned(engineSize, engineAlignment, engineOffset), len: size}.normalize()
}

// Reallocate resizes b to newSize bytes, moving it if necessary. Bytes beyond b's old length are
// uninitialized.
//
// On success, the new block is returned along with true, and b must no longer be used even if the
// address did not change. On failure, b is returned along with false and remains valid.
//
// A newSize of zero deallocates b and succeeds with an absent block. An absent b is allocated.
func (h *Heap) Reallocate(b Block, newSize uintptr) (Block, bool) {
	if newSize == 0 {
		h.allocator.Deallocate(b)
		return Block{}, true
	}

	if b.IsAbsent() {
		allocated := h.Allocate(newSize)
		return allocated, !allocated.IsAbsent()
	}

	if newSize > math.MaxInt || h.released {
		return b, false
	}

	ptr := h.heap.Realloc(b.ptr, int(newSize))
	if ptr == nil {
		return b, false
	}

	return Block{ptr: ptr, len: newSize}, true
}

// ReallocateAligned is Reallocate for aligned blocks. The result satisfies the alignment request
// even if b did not.
func (h *Heap) ReallocateAligned(b Block, newSize, alignment, offset uintptr) (Block, bool) {
	checkAlignment(alignment)

	if newSize == 0 {
		h.allocator.Deallocate(b)
		return Block{}, true
	}

	if b.IsAbsent() {
		allocated := h.AllocateAligned(newSize, alignment, offset)
		return allocated, !allocated.IsAbsent()
	}

	engineSize, engineAlignment, engineOffset, ok := engineRequest(newSize, alignment, offset)
	if !ok || h.released {
		return b, false
	}

	ptr := h.heap.ReallocAligned(b.ptr, engineSize, engineAlignment, engineOffset)
	if ptr == nil {
		return b, false
	}

	return Block{ptr: ptr, len: newSize}, true
}

// ReallocateZeroed is Reallocate, except that the bytes between b's old length and newSize are set
// to zero. Bytes within the old length are preserved rather than cleared.
func (h *Heap) ReallocateZeroed(b Block, newSize uintptr) (Block, bool) {
	oldLen := b.len

	result, ok := h.Reallocate(b, newSize)
	if ok && !result.IsAbsent() && newSize > oldLen {
		clear(result.Bytes()[oldLen:])
	}

	return result, ok
}

// ReallocateOrFree is Reallocate for callers that cannot use b after a failure. When the block
// cannot be resized, b is deallocated and an absent block is returned.
func (h *Heap) ReallocateOrFree(b Block, newSize uintptr) Block {
	result, ok := h.Reallocate(b, newSize)
	if !ok {
		h.allocator.Deallocate(b)
		return Block{}
	}

	return result
}

// Deallocate releases b. It may be called from any goroutine, for a block from any heap.
func (h *Heap) Deallocate(b Block) {
	h.allocator.Deallocate(b)
}
