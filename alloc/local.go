package alloc

import (
	"context"
	"log/slog"
)

// Local is the heap selection state of a single goroutine: its backing heap, the heaps it created,
// and which of them is the default. A Local must only be used by the goroutine that owns it. Callers
// that need the heap tied to an OS thread should pair the Local with runtime.LockOSThread.
//
// The backing heap is created on first use and cannot be deleted or destroyed through DeleteHeap or
// DestroyHeap. A Local needs no teardown; Release hands its backing heap back to the engine.
type Local struct {
	allocator *Allocator
	backing   *Heap
	current   *Heap
}

// Backing returns the goroutine's backing heap, creating it if necessary
func (l *Local) Backing() *Heap {
	if l.backing == nil {
		l.backing = &Heap{
			allocator: l.allocator,
			heap:      l.allocator.engine.NewHeap(nil),
			backing:   true,
		}
		l.allocator.logger.Debug("Local::Backing created backing heap")
	}

	return l.backing
}

// Default returns the heap currently selected as the default, which starts as the backing heap
func (l *Local) Default() *Heap {
	if l.current == nil {
		return l.Backing()
	}

	return l.current
}

// SetDefault makes h the default heap and returns the previous default so that it can be restored.
// Passing nil selects the backing heap.
func (l *Local) SetDefault(h *Heap) *Heap {
	previous := l.Default()
	l.current = h
	return previous
}

// NewHeap creates a heap whose live blocks move to this goroutine's backing heap when it is deleted
func (l *Local) NewHeap() *Heap {
	return &Heap{
		allocator: l.allocator,
		heap:      l.allocator.engine.NewHeap(l.Backing().heap),
	}
}

// DeleteHeap releases h. Blocks still allocated from h stay valid and now belong to the backing
// heap. If h was the default, the backing heap becomes the default.
func (l *Local) DeleteHeap(h *Heap) {
	if !l.releasable(h, "Local::DeleteHeap") {
		return
	}

	err := h.heap.Delete()
	if err != nil {
		l.allocator.logger.LogAttrs(context.Background(), slog.LevelError, "Local::DeleteHeap failed", slog.Any("error", err))
	}
	l.afterRelease(h)
}

// DestroyHeap releases h along with every block still allocated from it. Those blocks must not be
// used again. If h was the default, the backing heap becomes the default.
func (l *Local) DestroyHeap(h *Heap) {
	if !l.releasable(h, "Local::DestroyHeap") {
		return
	}

	err := h.heap.Destroy()
	if err != nil {
		l.allocator.logger.LogAttrs(context.Background(), slog.LevelError, "Local::DestroyHeap failed", slog.Any("error", err))
	}
	l.afterRelease(h)
}

func (l *Local) releasable(h *Heap, operation string) bool {
	if h == nil || h.released {
		return false
	}

	if h.backing || h == l.allocator.shared {
		l.allocator.logger.LogAttrs(context.Background(), slog.LevelWarn, operation+" ignored a heap that cannot be released",
			slog.Bool("backing", h.backing))
		return false
	}

	return true
}

func (l *Local) afterRelease(h *Heap) {
	h.released = true
	if l.current == h {
		l.current = nil
	}
}

// Release deletes the backing heap. Its live blocks move to the engine's shared heap and remain
// valid. Heaps created by this Local hand their blocks to the shared heap from now on. Using the Local
// again creates a new backing heap.
func (l *Local) Release() error {
	if l.backing == nil {
		return nil
	}

	backing := l.backing
	l.backing = nil
	if l.current == backing {
		l.current = nil
	}

	backing.released = true
	return backing.heap.Delete()
}
