package alloc

//go:generate mockgen -source engine.go -destination ./mocks/engine.go -package mocks

import (
	"unsafe"

	"github.com/vkngwrapper/hostalloc/engine"
)

// Engine is the allocation engine the facade delegates to. Sizes are in bytes. Any method may be
// called from any goroutine.
type Engine interface {
	// SharedHeap returns the heap that any goroutine may allocate from
	SharedHeap() EngineHeap
	// NewHeap creates a heap that hands its live blocks to backing when deleted. A nil backing heap
	// means the shared heap.
	NewHeap(backing EngineHeap) EngineHeap

	Free(ptr unsafe.Pointer)
	UsableSize(ptr unsafe.Pointer) int
	GoodSize(n int) int
	// Contains reports whether ptr falls anywhere inside memory managed by the engine
	Contains(ptr unsafe.Pointer) bool
	// FindBlock returns the start and usable size of the live block containing ptr
	FindBlock(ptr unsafe.Pointer) (unsafe.Pointer, int, bool)
	ExpandInPlace(ptr unsafe.Pointer, newSize int) bool
	ShrinkInPlace(ptr unsafe.Pointer, newSize int) bool
}

// EngineHeap is a single heap within an Engine. Allocation methods return nil when memory is
// exhausted. Realloc methods leave the original block untouched when they return nil.
type EngineHeap interface {
	Malloc(size int) unsafe.Pointer
	Zalloc(size int) unsafe.Pointer
	MallocAligned(size int, alignment uint, alignOffset int) unsafe.Pointer
	ZallocAligned(size int, alignment uint, alignOffset int) unsafe.Pointer
	Realloc(ptr unsafe.Pointer, newSize int) unsafe.Pointer
	ReallocAligned(ptr unsafe.Pointer, newSize int, alignment uint, alignOffset int) unsafe.Pointer

	Delete() error
	Destroy() error
}

var _ EngineHeap = (*engine.Heap)(nil)

type nativeEngine struct {
	*engine.Engine
}

var _ Engine = nativeEngine{}

// NativeEngine adapts an engine.Engine to the Engine interface
func NativeEngine(e *engine.Engine) Engine {
	return nativeEngine{Engine: e}
}

func (n nativeEngine) SharedHeap() EngineHeap {
	return n.Engine.SharedHeap()
}

func (n nativeEngine) NewHeap(backing EngineHeap) EngineHeap {
	nativeBacking, _ := backing.(*engine.Heap)
	return n.Engine.NewHeap(nativeBacking)
}
