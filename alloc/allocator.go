package alloc

import (
	"log/slog"
	"math"
	"unsafe"

	"github.com/vkngwrapper/hostalloc/engine"
	"github.com/vkngwrapper/hostalloc/memutils"
)

// Allocator is the entry point to the facade. Its allocation methods use the engine's shared heap and
// are safe to call from any goroutine, as are all of its other methods. The Allocator holds no state
// beyond its engine; per-goroutine heap selection lives in a Local.
type Allocator struct {
	logger *slog.Logger
	engine Engine
	shared *Heap
}

// New creates an Allocator that delegates to eng
func New(logger *slog.Logger, eng Engine) *Allocator {
	allocator := &Allocator{
		logger: logger,
		engine: eng,
	}
	allocator.shared = &Heap{
		allocator: allocator,
		heap:      eng.SharedHeap(),
	}

	return allocator
}

// NewNative creates an Allocator over an engine from the engine package
func NewNative(logger *slog.Logger, eng *engine.Engine) *Allocator {
	return New(logger, NativeEngine(eng))
}

// Shared returns the heap behind the Allocator's own allocation methods
func (a *Allocator) Shared() *Heap {
	return a.shared
}

// NewLocal creates the heap selection state for one goroutine
func (a *Allocator) NewLocal() *Local {
	return &Local{allocator: a}
}

func (a *Allocator) Allocate(size uintptr) Block {
	return a.shared.Allocate(size)
}

func (a *Allocator) AllocateZeroed(count, size uintptr) Block {
	return a.shared.AllocateZeroed(count, size)
}

func (a *Allocator) AllocateAligned(size, alignment, offset uintptr) Block {
	return a.shared.AllocateAligned(size, alignment, offset)
}

func (a *Allocator) AllocateAlignedZeroed(size, alignment, offset uintptr) Block {
	return a.shared.AllocateAlignedZeroed(size, alignment, offset)
}

func (a *Allocator) Reallocate(b Block, newSize uintptr) (Block, bool) {
	return a.shared.Reallocate(b, newSize)
}

func (a *Allocator) ReallocateAligned(b Block, newSize, alignment, offset uintptr) (Block, bool) {
	return a.shared.ReallocateAligned(b, newSize, alignment, offset)
}

func (a *Allocator) ReallocateZeroed(b Block, newSize uintptr) (Block, bool) {
	return a.shared.ReallocateZeroed(b, newSize)
}

func (a *Allocator) ReallocateOrFree(b Block, newSize uintptr) Block {
	return a.shared.ReallocateOrFree(b, newSize)
}

// Expand grows b by extra bytes without moving it. The new bytes are uninitialized. On failure, b is
// unchanged and the caller should fall back to Reallocate.
func (a *Allocator) Expand(b *Block, extra uintptr) bool {
	if extra == 0 {
		return true
	}

	if b == nil || b.IsAbsent() {
		return false
	}

	newLen, err := memutils.CheckedAdd(b.len, extra)
	if err != nil || newLen > math.MaxInt {
		return false
	}

	if !a.engine.ExpandInPlace(b.ptr, int(newLen)) {
		return false
	}

	b.len = newLen
	return true
}

// Shrink reduces b to newLen bytes without moving it. The engine may reclaim the space after the new
// length. Shrinking to zero is refused; use Deallocate instead.
func (a *Allocator) Shrink(b *Block, newLen uintptr) bool {
	if b == nil || b.IsAbsent() || newLen == 0 || newLen > b.len {
		return false
	}

	if newLen == b.len {
		return true
	}

	if !a.engine.ShrinkInPlace(b.ptr, int(newLen)) {
		return false
	}

	b.len = newLen
	return true
}

// Deallocate releases b. Deallocating an absent block does nothing.
func (a *Allocator) Deallocate(b Block) {
	if b.IsAbsent() {
		return
	}

	a.engine.Free(b.ptr)
}

// Owns reports whether ptr points into memory managed by the engine. It searches every live segment,
// so it should be kept off hot paths. A block that has been deallocated may still be reported as
// owned.
func (a *Allocator) Owns(ptr unsafe.Pointer) bool {
	if ptr == nil {
		return false
	}

	return a.engine.Contains(ptr)
}

// ResolveToBlock returns the live block containing ptr, which may point anywhere inside it. The
// block's length is the engine's usable size, which may exceed the size originally requested.
func (a *Allocator) ResolveToBlock(ptr unsafe.Pointer) Block {
	if !a.Owns(ptr) {
		return Block{}
	}

	start, size, found := a.engine.FindBlock(ptr)
	if !found || start == nil || size < 1 {
		return Block{}
	}

	return Block{ptr: start, len: uintptr(size)}
}

// UsableSize returns the capacity of the block that begins at ptr, or 0 for nil and foreign pointers
func (a *Allocator) UsableSize(ptr unsafe.Pointer) uintptr {
	if ptr == nil {
		return 0
	}

	return uintptr(a.engine.UsableSize(ptr))
}

// GoodSize returns the capacity an allocation of n bytes would receive. Allocating GoodSize(n) bytes
// leaves nothing to rounding.
func (a *Allocator) GoodSize(n uintptr) uintptr {
	if n == 0 || n > math.MaxInt {
		return n
	}

	good := a.engine.GoodSize(int(n))
	if good < int(n) {
		return n
	}

	return uintptr(good)
}
