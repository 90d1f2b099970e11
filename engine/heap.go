package engine

import (
	"log/slog"
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/hostalloc/engine/internal/utils"
	"github.com/vkngwrapper/hostalloc/memutils"
)

// maxAlignment bounds requested alignments so that alignment arithmetic cannot overflow an int
const maxAlignment uint = 1 << 40

// Heap is a collection of segments that allocations are made from. Apart from the engine's shared heap,
// a heap should only be allocated from by one goroutine at a time. Blocks allocated from any heap may
// be freed on any goroutine through Engine.Free.
type Heap struct {
	logger   *slog.Logger
	engine   *Engine
	id       int
	backing  *Heap
	shared   bool
	released atomic.Bool

	list segmentList
}

func (h *Heap) ID() int {
	return h.id
}

// IsShared reports whether this is the engine's shared heap
func (h *Heap) IsShared() bool {
	return h.shared
}

// IsReleased reports whether the heap has been deleted or destroyed
func (h *Heap) IsReleased() bool {
	return h.released.Load()
}

// Malloc allocates size bytes aligned to MinAlignment. The contents are not initialized. It returns
// nil if size is not positive or memory is exhausted.
func (h *Heap) Malloc(size int) unsafe.Pointer {
	ptr, _ := h.allocate(size, MinAlignment, 0)
	return ptr
}

// Zalloc allocates size bytes aligned to MinAlignment, with every usable byte set to zero
func (h *Heap) Zalloc(size int) unsafe.Pointer {
	return h.ZallocAligned(size, MinAlignment, 0)
}

// Calloc allocates zeroed memory for count elements of size bytes each. It returns nil if the total
// size overflows.
func (h *Heap) Calloc(count, size int) unsafe.Pointer {
	if count < 1 || size < 1 {
		return nil
	}

	total, err := memutils.CheckedMul(uintptr(count), uintptr(size))
	if err != nil || total > math.MaxInt {
		return nil
	}

	return h.Zalloc(int(total))
}

// MallocAligned allocates size bytes placed so that (address + alignOffset) is a multiple of alignment,
// which must be a power of two
func (h *Heap) MallocAligned(size int, alignment uint, alignOffset int) unsafe.Pointer {
	ptr, _ := h.allocate(size, alignment, alignOffset)
	return ptr
}

// ZallocAligned is MallocAligned with every usable byte set to zero
func (h *Heap) ZallocAligned(size int, alignment uint, alignOffset int) unsafe.Pointer {
	ptr, dirty := h.allocate(size, alignment, alignOffset)
	if ptr != nil && dirty > 0 {
		clear(unsafe.Slice((*byte)(ptr), dirty))
	}

	return ptr
}

// allocate returns the new block along with the number of bytes at its start that may hold stale data.
// Huge blocks come from fresh mappings and are already zero.
func (h *Heap) allocate(size int, alignment uint, alignOffset int) (unsafe.Pointer, int) {
	if size < 1 || h.released.Load() {
		return nil, 0
	}

	memutils.DebugCheckPow2(alignment, "alignment")
	if !memutils.IsPow2(alignment) || alignment > maxAlignment {
		return nil, 0
	}

	if alignment < MinAlignment {
		alignment = MinAlignment
	}

	alignOffset %= int(alignment)
	if alignOffset < 0 {
		alignOffset += int(alignment)
	}

	h.engine.heartbeat()

	h.list.mutex.Lock()
	defer h.list.mutex.Unlock()

	if h.engine.isHuge(size, alignment) {
		ptr := h.list.AllocateHuge(h, size, alignment, alignOffset)
		if ptr == nil {
			return nil, 0
		}

		h.engine.source.AddAllocation(h.list.hugeTail.hugeSize)
		return ptr, 0
	}

	size = memutils.AlignUp(size, MinAlignment)
	ptr := h.list.Allocate(h, size, alignment, alignOffset)
	if ptr == nil {
		return nil, 0
	}

	h.engine.source.AddAllocation(size)
	return ptr, size
}

// Realloc resizes the block at ptr to newSize bytes, moving it if it cannot be resized in place. The
// first min(old size, newSize) bytes are preserved. If newSize is not positive, the block is freed and
// nil is returned. If nil is returned for a positive newSize, the original block is untouched.
func (h *Heap) Realloc(ptr unsafe.Pointer, newSize int) unsafe.Pointer {
	return h.ReallocAligned(ptr, newSize, MinAlignment, 0)
}

// ReallocAligned is Realloc for blocks allocated with MallocAligned. The returned block satisfies the
// alignment request even when the original did not.
func (h *Heap) ReallocAligned(ptr unsafe.Pointer, newSize int, alignment uint, alignOffset int) unsafe.Pointer {
	if ptr == nil {
		return h.MallocAligned(newSize, alignment, alignOffset)
	}

	if newSize < 1 {
		h.engine.Free(ptr)
		return nil
	}

	if h.released.Load() || !memutils.IsPow2(alignment) || alignment > maxAlignment {
		return nil
	}

	if alignment < MinAlignment {
		alignment = MinAlignment
	}

	oldSize := h.engine.UsableSize(ptr)
	if oldSize == 0 {
		return nil
	}

	if (uintptr(ptr)+uintptr(alignOffset))%uintptr(alignment) == 0 {
		if newSize <= oldSize {
			h.engine.ShrinkInPlace(ptr, newSize)
			return ptr
		}

		if h.engine.ExpandInPlace(ptr, newSize) {
			return ptr
		}
	}

	newPtr := h.MallocAligned(newSize, alignment, alignOffset)
	if newPtr == nil {
		return nil
	}

	copy(unsafe.Slice((*byte)(newPtr), newSize), unsafe.Slice((*byte)(ptr), oldSize))
	h.engine.Free(ptr)

	return newPtr
}

// deleteTarget finds the heap that should receive this heap's segments on Delete
func (h *Heap) deleteTarget() *Heap {
	target := h.backing
	for target != nil && target.released.Load() {
		target = target.backing
	}

	if target == nil {
		target = h.engine.sharedHeap
	}

	return target
}

// Delete releases the heap. Its live blocks, and the segments holding them, are handed to the heap's
// backing heap and remain valid.
func (h *Heap) Delete() error {
	if h.shared {
		return errors.New("the shared heap cannot be deleted")
	}

	if !h.released.CompareAndSwap(false, true) {
		return errors.Newf("heap %d has already been released", h.id)
	}

	h.logger.Debug("Heap::Delete")

	target := h.deleteTarget()

	utils.LockPair(&h.list.mutex, &target.list.mutex)
	h.list.MoveTo(target)
	target.list.Trim(h.engine.options.CachedSegmentCount)
	utils.UnlockPair(&h.list.mutex, &target.list.mutex)

	h.engine.removeHeap(h)
	return nil
}

// Destroy releases the heap and every block allocated from it. Pointers into those blocks become
// invalid immediately.
func (h *Heap) Destroy() error {
	if h.shared {
		return errors.New("the shared heap cannot be destroyed")
	}

	if !h.released.CompareAndSwap(false, true) {
		return errors.Newf("heap %d has already been released", h.id)
	}

	h.logger.Debug("Heap::Destroy")

	h.list.mutex.Lock()
	liveCount, liveBytes := h.list.DestroyAll(false)
	h.list.mutex.Unlock()

	h.engine.source.RemoveAllocations(liveCount, liveBytes)
	h.engine.removeHeap(h)
	return nil
}

// Collect releases empty segments beyond Options.CachedSegmentCount, or every empty segment if force
// is true
func (h *Heap) Collect(force bool) {
	if h.released.Load() {
		return
	}

	h.list.mutex.Lock()
	defer h.list.mutex.Unlock()

	keep := h.engine.options.CachedSegmentCount
	if force {
		keep = 0
	}

	h.list.Trim(keep)
}

// VisitBlocks calls visit with the start and usable size of every live block in the heap until visit
// returns false. Visit must not allocate from or free into this heap.
func (h *Heap) VisitBlocks(visit func(ptr unsafe.Pointer, size int) bool) {
	h.list.mutex.Lock()
	defer h.list.mutex.Unlock()

	h.list.VisitSegments(func(seg *segment) bool {
		return seg.VisitBlocks(visit)
	})
}

// SegmentCount returns the number of regular and huge segments the heap currently owns
func (h *Heap) SegmentCount() (int, int) {
	h.list.mutex.Lock()
	defer h.list.mutex.Unlock()

	return h.list.SegmentCount(), h.list.HugeCount()
}

func (h *Heap) Statistics() memutils.DetailedStatistics {
	h.list.mutex.Lock()
	defer h.list.mutex.Unlock()

	var stats memutils.DetailedStatistics
	stats.Clear()
	h.list.AddDetailedStatistics(&stats)
	return stats
}

func (h *Heap) Validate() error {
	h.list.mutex.Lock()
	defer h.list.mutex.Unlock()

	return h.list.Validate()
}

func (h *Heap) CheckCorruption() error {
	h.list.mutex.Lock()
	defer h.list.mutex.Unlock()

	var err error
	h.list.VisitSegments(func(seg *segment) bool {
		err = seg.CheckCorruption()
		return err == nil
	})

	return err
}
