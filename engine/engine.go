package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/hostalloc/engine/internal/osmem"
	"github.com/vkngwrapper/hostalloc/engine/internal/utils"
	"github.com/vkngwrapper/hostalloc/memutils"
)

// ErrOutOfMemory marks errors caused by the engine's memory limit or the operating system refusing
// to map more memory
var ErrOutOfMemory = osmem.ErrOutOfMemory

// ErrCorruptionDetectionDisabled is returned from CheckCorruption when the module was not built with
// the debug_mem_utils build tag
var ErrCorruptionDetectionDisabled = errors.New("corruption detection is only available when built with the debug_mem_utils tag")

// DeferredFreeFunc is called periodically from allocating goroutines, and from Collect, to give
// callers a chance to free memory whose release they have postponed. Force is true when called from
// a forced collection. Heartbeat increases by one every time the function is called from the
// allocation path.
type DeferredFreeFunc func(force bool, heartbeat uint64)

// Engine hands out blocks of host memory carved from large mappings obtained from the operating system.
// Memory from the engine is not managed by the Go garbage collector: it must not be used to hold Go
// pointers, and every block must be freed explicitly.
//
// Allocation happens through a Heap. The engine always has a shared heap that may be used from any
// goroutine; additional heaps created with NewHeap are intended to be used by a single goroutine at a
// time. Any block may be freed from any goroutine, regardless of which heap allocated it.
type Engine struct {
	logger   *slog.Logger
	options  Options
	useMutex bool
	source   *osmem.Source
	registry segmentRegistry

	heapsMutex utils.OptionalRWMutex
	heaps      *swiss.Map[int, *Heap]
	nextHeapID int
	sharedHeap *Heap

	nextSegmentID   atomic.Int64
	allocationCount atomic.Uint64
	deferredFree    atomic.Pointer[DeferredFreeFunc]
	closed          atomic.Bool
}

// New creates a new Engine
//
// logger - The logger that lifecycle events and unreleased memory reports are written to
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, options Options) (*Engine, error) {
	resolved, err := options.resolve()
	if err != nil {
		return nil, err
	}

	source, err := osmem.NewSource(resolved.MemoryLimit)
	if err != nil {
		return nil, err
	}

	useMutex := resolved.Flags&EngineCreateExternallySynchronized == 0

	engine := &Engine{
		logger:   logger,
		options:  resolved,
		useMutex: useMutex,
		source:   source,
		heaps:    swiss.NewMap[int, *Heap](8),
	}
	engine.registry.Init(useMutex)
	engine.heapsMutex = utils.OptionalRWMutex{UseMutex: useMutex}

	engine.sharedHeap = engine.createHeap(nil, true)

	logger.LogAttrs(context.Background(), slog.LevelDebug, "Engine::New",
		slog.String("flags", resolved.Flags.String()),
		slog.Int("segmentSize", resolved.SegmentSize),
		slog.Int("hugeThreshold", resolved.HugeThreshold),
		slog.Int("pageSize", source.PageSize()),
	)

	return engine, nil
}

// Options returns the engine's configuration with all defaults filled in
func (e *Engine) Options() Options {
	return e.options
}

func (e *Engine) PageSize() int {
	return e.source.PageSize()
}

// SharedHeap returns the heap that is safe to allocate from on any goroutine
func (e *Engine) SharedHeap() *Heap {
	return e.sharedHeap
}

// NewHeap creates a heap whose live blocks and segments will be handed to backing when the heap is
// deleted. If backing is nil, or has itself been released by then, the shared heap receives them.
func (e *Engine) NewHeap(backing *Heap) *Heap {
	e.logger.Debug("Engine::NewHeap")

	return e.createHeap(backing, false)
}

func (e *Engine) createHeap(backing *Heap, shared bool) *Heap {
	e.heapsMutex.Lock()
	defer e.heapsMutex.Unlock()

	heap := &Heap{
		logger:  e.logger,
		engine:  e,
		id:      e.nextHeapID,
		backing: backing,
		shared:  shared,
	}
	heap.list.Init(e.logger, e, e.useMutex)

	e.nextHeapID++
	e.heaps.Put(heap.id, heap)

	return heap
}

func (e *Engine) removeHeap(heap *Heap) {
	e.heapsMutex.Lock()
	defer e.heapsMutex.Unlock()

	e.heaps.Delete(heap.id)
}

// VisitHeaps calls visit for every live heap, in order of creation, until it returns false
func (e *Engine) VisitHeaps(visit func(heap *Heap) bool) {
	e.heapsMutex.RLock()
	heaps := make([]*Heap, 0, e.heaps.Count())
	e.heaps.Iter(func(id int, heap *Heap) bool {
		heaps = append(heaps, heap)
		return false
	})
	e.heapsMutex.RUnlock()

	sort.Slice(heaps, func(i, j int) bool {
		return heaps[i].id < heaps[j].id
	})

	for _, heap := range heaps {
		if !visit(heap) {
			return
		}
	}
}

func (e *Engine) createSegment(owner *Heap) (*segment, error) {
	id := int(e.nextSegmentID.Add(1))
	seg, err := newSegment(e.logger, e.source, id, e.options.SegmentSize, e.useMutex)
	if err != nil {
		return nil, err
	}

	seg.owner.Store(owner)
	e.registry.Register(seg)

	e.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Mapped new segment", slog.Int("segment", id), slog.Int("heap", owner.id))
	return seg, nil
}

func (e *Engine) createHugeSegment(owner *Heap, size int, alignment uint, alignOffset int) (*segment, error) {
	id := int(e.nextSegmentID.Add(1))
	seg, err := newHugeSegment(e.logger, e.source, id, size, alignment, alignOffset, e.useMutex)
	if err != nil {
		return nil, err
	}

	seg.owner.Store(owner)
	e.registry.Register(seg)

	return seg, nil
}

func (e *Engine) destroySegment(seg *segment) {
	e.registry.Unregister(seg)

	err := seg.Destroy()
	if err != nil {
		panic(fmt.Sprintf("unexpected failure when unmapping segment %d: %+v", seg.id, err))
	}
}

// lockOwner locks the list mutex of the heap that currently owns seg and returns that heap. Deleting
// a heap can hand its segments to another heap, so ownership is checked again once the lock is held.
func (e *Engine) lockOwner(seg *segment) *Heap {
	for {
		owner := seg.owner.Load()
		owner.list.mutex.Lock()

		if seg.owner.Load() == owner {
			return owner
		}

		owner.list.mutex.Unlock()
	}
}

func (e *Engine) isHuge(size int, alignment uint) bool {
	threshold := e.options.HugeThreshold
	if alignment > uint(threshold) {
		return true
	}

	return size > threshold-int(alignment)+int(MinAlignment)
}

// GoodSize returns the size that an allocation of n bytes will actually receive. Requesting GoodSize(n)
// bytes wastes nothing to rounding.
func (e *Engine) GoodSize(n int) int {
	if n < 1 {
		return 0
	}

	if n <= e.options.HugeThreshold {
		return memutils.AlignUp(n, MinAlignment)
	}

	good, err := memutils.CheckedAlignUp(uintptr(n), uintptr(e.source.PageSize()))
	if err != nil || good > math.MaxInt {
		return n
	}

	return int(good)
}

// Contains reports whether ptr points anywhere inside memory mapped by this engine
func (e *Engine) Contains(ptr unsafe.Pointer) bool {
	return e.registry.Find(uintptr(ptr)) != nil
}

// UsableSize returns the number of bytes available in the block that begins at ptr, or 0 if ptr does
// not point to the start of a live block
func (e *Engine) UsableSize(ptr unsafe.Pointer) int {
	seg := e.registry.Find(uintptr(ptr))
	if seg == nil {
		return 0
	}

	return seg.UsableSize(ptr)
}

// FindBlock returns the start and usable size of the live block containing ptr, which may point
// anywhere inside the block
func (e *Engine) FindBlock(ptr unsafe.Pointer) (unsafe.Pointer, int, bool) {
	seg := e.registry.Find(uintptr(ptr))
	if seg == nil {
		return nil, 0, false
	}

	return seg.FindBlock(ptr)
}

// Free releases the block that begins at ptr. It may be called from any goroutine. Freeing nil is a
// no-op. Freeing a pointer that does not begin a live block is not detected reliably.
func (e *Engine) Free(ptr unsafe.Pointer) {
	seg := e.registry.Find(uintptr(ptr))
	if seg == nil {
		return
	}

	owner := e.lockOwner(seg)
	defer owner.list.mutex.Unlock()

	size := owner.list.Free(seg, ptr)
	if size > 0 {
		e.source.RemoveAllocation(size)
	}
}

// ExpandInPlace grows the block that begins at ptr so that at least newSize bytes are usable, without
// moving it. It returns false if the space after the block is not free.
func (e *Engine) ExpandInPlace(ptr unsafe.Pointer, newSize int) bool {
	if newSize < 1 {
		return false
	}

	seg := e.registry.Find(uintptr(ptr))
	if seg == nil {
		return false
	}

	if !seg.huge {
		if newSize > e.options.HugeThreshold {
			return false
		}
		newSize = memutils.AlignUp(newSize, MinAlignment)
	}

	owner := e.lockOwner(seg)
	defer owner.list.mutex.Unlock()

	oldSize, grown := seg.GrowInPlace(ptr, newSize)
	if grown && !seg.huge && newSize > oldSize {
		e.source.ResizeAllocation(oldSize, newSize)
		owner.list.incrementallySortSegments()
	}

	return grown
}

// ShrinkInPlace reduces the block that begins at ptr to newSize bytes without moving it. The tail of
// the block is returned to free space when it is large enough to be reused.
func (e *Engine) ShrinkInPlace(ptr unsafe.Pointer, newSize int) bool {
	if newSize < 1 {
		return false
	}

	seg := e.registry.Find(uintptr(ptr))
	if seg == nil {
		return false
	}

	if !seg.huge {
		newSize = memutils.AlignUp(newSize, MinAlignment)
	}

	owner := e.lockOwner(seg)
	defer owner.list.mutex.Unlock()

	oldSize, shrunk := seg.ShrinkInPlace(ptr, newSize)
	if shrunk && !seg.huge && newSize < oldSize && memutils.DebugMargin == 0 {
		e.source.ResizeAllocation(oldSize, newSize)
		owner.list.incrementallySortSegments()
	}

	return shrunk
}

// RegisterDeferredFree installs the function called every Options.DeferredFreeInterval allocations
// and on Collect. Passing nil removes it.
func (e *Engine) RegisterDeferredFree(deferredFree DeferredFreeFunc) {
	if deferredFree == nil {
		e.deferredFree.Store(nil)
		return
	}

	e.deferredFree.Store(&deferredFree)
}

// heartbeat is called at the start of every allocation, before any lock is taken, so that the
// deferred free function may itself free memory
func (e *Engine) heartbeat() {
	interval := uint64(e.options.DeferredFreeInterval)
	if interval == 0 {
		return
	}

	count := e.allocationCount.Add(1)
	if count%interval == 0 {
		e.runDeferredFree(false, count/interval)
	}
}

func (e *Engine) runDeferredFree(force bool, heartbeat uint64) {
	deferredFree := e.deferredFree.Load()
	if deferredFree != nil {
		(*deferredFree)(force, heartbeat)
	}
}

// Collect runs the deferred free function and then releases empty segments that every heap is keeping
// beyond Options.CachedSegmentCount. When force is true, every empty segment is released.
func (e *Engine) Collect(force bool) {
	var heartbeat uint64
	if e.options.DeferredFreeInterval > 0 {
		heartbeat = e.allocationCount.Load() / uint64(e.options.DeferredFreeInterval)
	}
	e.runDeferredFree(force, heartbeat)

	e.VisitHeaps(func(heap *Heap) bool {
		heap.Collect(force)
		return true
	})
}

// Statistics returns running totals of mapped memory and live allocations
func (e *Engine) Statistics() memutils.Statistics {
	return e.source.Statistics()
}

// CalculateStatistics walks every heap and segment to build detailed statistics. It is much slower
// than Statistics.
func (e *Engine) CalculateStatistics() memutils.DetailedStatistics {
	var stats memutils.DetailedStatistics
	stats.Clear()

	e.VisitHeaps(func(heap *Heap) bool {
		heapStats := heap.Statistics()
		stats.AddDetailedStatistics(&heapStats)
		return true
	})

	return stats
}

// CheckCorruption verifies the margins written after every live block. It returns
// ErrCorruptionDetectionDisabled unless built with the debug_mem_utils tag.
func (e *Engine) CheckCorruption() error {
	if memutils.DebugMargin == 0 {
		return ErrCorruptionDetectionDisabled
	}

	var err error
	e.VisitHeaps(func(heap *Heap) bool {
		err = heap.CheckCorruption()
		return err == nil
	})

	return err
}

// Close unmaps every segment in the engine. Blocks that have not been freed are logged and become
// invalid; an error reporting them is returned.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return errors.New("the engine has already been closed")
	}

	e.logger.Debug("Engine::Close")

	var liveCount, liveBytes int
	e.VisitHeaps(func(heap *Heap) bool {
		heap.list.mutex.Lock()
		defer heap.list.mutex.Unlock()

		count, bytes := heap.list.DestroyAll(true)
		heap.released.Store(true)
		liveCount += count
		liveBytes += bytes
		return true
	})
	e.source.RemoveAllocations(liveCount, liveBytes)

	e.heapsMutex.Lock()
	e.heaps = swiss.NewMap[int, *Heap](1)
	e.heapsMutex.Unlock()

	if liveCount > 0 {
		return errors.Newf("%d allocations totalling %d bytes were not freed before the engine was closed", liveCount, liveBytes)
	}

	return nil
}
