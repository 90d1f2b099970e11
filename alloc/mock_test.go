package alloc_test

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/hostalloc/alloc"
	"github.com/vkngwrapper/hostalloc/alloc/mocks"
	"go.uber.org/mock/gomock"
)

func readyMockAllocator(t *testing.T) (*mocks.MockEngine, *mocks.MockEngineHeap, *alloc.Allocator) {
	ctrl := gomock.NewController(t)

	engine := mocks.NewMockEngine(ctrl)
	shared := mocks.NewMockEngineHeap(ctrl)
	engine.EXPECT().SharedHeap().Return(shared)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return engine, shared, alloc.New(logger, engine)
}

func fakeMemory(size int) unsafe.Pointer {
	buffer := make([]byte, size)
	return unsafe.Pointer(&buffer[0])
}

func TestTrivialRequestsNeverReachEngine(t *testing.T) {
	// Any call into either mock fails the test
	_, _, allocator := readyMockAllocator(t)

	require.True(t, allocator.Allocate(0).IsAbsent())
	require.True(t, allocator.Allocate(uintptr(math.MaxInt)+1).IsAbsent())
	require.True(t, allocator.AllocateZeroed(0, 16).IsAbsent())
	require.True(t, allocator.AllocateZeroed(16, 0).IsAbsent())
	require.True(t, allocator.AllocateZeroed(^uintptr(0), 2).IsAbsent())
	require.True(t, allocator.AllocateZeroed(^uintptr(0)/2+1, 2).IsAbsent())
	require.True(t, allocator.AllocateAligned(0, 64, 8).IsAbsent())
	require.True(t, allocator.AllocateAlignedZeroed(0, 64, 8).IsAbsent())

	allocator.Deallocate(alloc.Block{})
	require.False(t, allocator.Owns(nil))
	require.True(t, allocator.ResolveToBlock(nil).IsAbsent())
	require.Equal(t, uintptr(0), allocator.UsableSize(nil))
	require.Equal(t, uintptr(0), allocator.GoodSize(0))

	var absent alloc.Block
	require.True(t, allocator.Expand(&absent, 0))
	require.False(t, allocator.Expand(&absent, 16))
	require.False(t, allocator.Expand(nil, 16))
	require.False(t, allocator.Shrink(&absent, 1))

	b, ok := allocator.Reallocate(absent, 0)
	require.True(t, ok)
	require.True(t, b.IsAbsent())
	require.True(t, allocator.ReallocateOrFree(absent, 0).IsAbsent())
}

func TestOutOfMemoryIsAbsent(t *testing.T) {
	_, shared, allocator := readyMockAllocator(t)

	shared.EXPECT().Malloc(64).Return(unsafe.Pointer(nil))
	shared.EXPECT().Zalloc(32).Return(unsafe.Pointer(nil))
	shared.EXPECT().MallocAligned(100, uint(64), 8).Return(unsafe.Pointer(nil))
	shared.EXPECT().ZallocAligned(100, uint(64), 8).Return(unsafe.Pointer(nil))

	require.Equal(t, alloc.Block{}, allocator.Allocate(64))
	require.Equal(t, alloc.Block{}, allocator.AllocateZeroed(4, 8))
	require.Equal(t, alloc.Block{}, allocator.AllocateAligned(100, 64, 72))
	require.Equal(t, alloc.Block{}, allocator.AllocateAlignedZeroed(100, 64, 8))

	// A failed allocation of a missing block reports failure without freeing anything
	shared.EXPECT().Malloc(48).Return(unsafe.Pointer(nil))
	b, ok := allocator.Reallocate(alloc.Block{}, 48)
	require.False(t, ok)
	require.True(t, b.IsAbsent())
}

func TestAlignmentPassesThrough(t *testing.T) {
	_, shared, allocator := readyMockAllocator(t)
	ptr := fakeMemory(256)

	shared.EXPECT().MallocAligned(200, uint(128), 0).Return(ptr)
	b := allocator.AllocateAligned(200, 128, 256)
	require.Equal(t, ptr, b.Ptr())
	require.Equal(t, uintptr(200), b.Len())

	newPtr := fakeMemory(512)
	shared.EXPECT().ReallocAligned(ptr, 400, uint(128), 3).Return(newPtr)
	grown, ok := allocator.ReallocateAligned(b, 400, 128, 131)
	require.True(t, ok)
	require.Equal(t, newPtr, grown.Ptr())
	require.Equal(t, uintptr(400), grown.Len())

	require.Panics(t, func() { allocator.AllocateAligned(200, 96, 0) })
}

func TestReallocateContracts(t *testing.T) {
	engine, shared, allocator := readyMockAllocator(t)
	ptr := fakeMemory(256)

	shared.EXPECT().Malloc(64).Return(ptr)
	b := allocator.Allocate(64)

	// Non-freeing: the original block comes back and nothing is freed
	shared.EXPECT().Realloc(ptr, 128).Return(unsafe.Pointer(nil))
	result, ok := allocator.Reallocate(b, 128)
	require.False(t, ok)
	require.Equal(t, b, result)

	// Freeing: the original block is released
	shared.EXPECT().Realloc(ptr, 128).Return(unsafe.Pointer(nil))
	engine.EXPECT().Free(ptr)
	require.True(t, allocator.ReallocateOrFree(b, 128).IsAbsent())

	newPtr := fakeMemory(256)
	shared.EXPECT().Realloc(ptr, 200).Return(newPtr)
	result, ok = allocator.Reallocate(b, 200)
	require.True(t, ok)
	require.Equal(t, newPtr, result.Ptr())
	require.Equal(t, uintptr(200), result.Len())

	shared.EXPECT().Realloc(newPtr, 220).Return(newPtr)
	moved := allocator.ReallocateOrFree(result, 220)
	require.Equal(t, newPtr, moved.Ptr())
	require.Equal(t, uintptr(220), moved.Len())

	engine.EXPECT().Free(newPtr)
	result, ok = allocator.Reallocate(moved, 0)
	require.True(t, ok)
	require.True(t, result.IsAbsent())

	// Sizes the engine cannot express fail without a call
	result, ok = allocator.Reallocate(b, uintptr(math.MaxInt)+1)
	require.False(t, ok)
	require.Equal(t, b, result)
}

func TestReallocateZeroedClearsOnlyGrowth(t *testing.T) {
	_, shared, allocator := readyMockAllocator(t)

	ptr := fakeMemory(256)
	memory := unsafe.Slice((*byte)(ptr), 256)
	for i := range memory {
		memory[i] = 0xAA
	}

	shared.EXPECT().Malloc(64).Return(ptr)
	b := allocator.Allocate(64)

	shared.EXPECT().Realloc(ptr, 128).Return(ptr)
	grown, ok := allocator.ReallocateZeroed(b, 128)
	require.True(t, ok)
	require.Equal(t, uintptr(128), grown.Len())

	for i, value := range memory {
		if i >= 64 && i < 128 {
			require.Equal(t, byte(0), value, "byte %d", i)
		} else {
			require.Equal(t, byte(0xAA), value, "byte %d", i)
		}
	}

	// Shrinking clears nothing
	shared.EXPECT().Realloc(ptr, 32).Return(ptr)
	_, ok = allocator.ReallocateZeroed(grown, 32)
	require.True(t, ok)
	require.Equal(t, byte(0xAA), memory[0])
	require.Equal(t, byte(0), memory[64])
}

func TestExpandShrinkDelegate(t *testing.T) {
	engine, shared, allocator := readyMockAllocator(t)
	ptr := fakeMemory(256)

	shared.EXPECT().Malloc(64).Return(ptr)
	b := allocator.Allocate(64)

	engine.EXPECT().ExpandInPlace(ptr, 96).Return(true)
	require.True(t, allocator.Expand(&b, 32))
	require.Equal(t, ptr, b.Ptr())
	require.Equal(t, uintptr(96), b.Len())

	engine.EXPECT().ExpandInPlace(ptr, 128).Return(false)
	require.False(t, allocator.Expand(&b, 32))
	require.Equal(t, uintptr(96), b.Len())

	require.False(t, allocator.Expand(&b, ^uintptr(0)))

	engine.EXPECT().ShrinkInPlace(ptr, 32).Return(true)
	require.True(t, allocator.Shrink(&b, 32))
	require.Equal(t, uintptr(32), b.Len())

	require.True(t, allocator.Shrink(&b, 32))
	require.False(t, allocator.Shrink(&b, 64))
}

func TestResolveChecksOwnership(t *testing.T) {
	engine, _, allocator := readyMockAllocator(t)
	ptr := fakeMemory(256)
	interior := unsafe.Add(ptr, 40)

	engine.EXPECT().Contains(interior).Return(false)
	require.True(t, allocator.ResolveToBlock(interior).IsAbsent())

	engine.EXPECT().Contains(interior).Return(true)
	engine.EXPECT().FindBlock(interior).Return(ptr, 64, true)
	resolved := allocator.ResolveToBlock(interior)
	require.Equal(t, ptr, resolved.Ptr())
	require.Equal(t, uintptr(64), resolved.Len())

	engine.EXPECT().Contains(interior).Return(true)
	engine.EXPECT().FindBlock(interior).Return(unsafe.Pointer(nil), 0, false)
	require.True(t, allocator.ResolveToBlock(interior).IsAbsent())

	engine.EXPECT().UsableSize(ptr).Return(64)
	require.Equal(t, uintptr(64), allocator.UsableSize(ptr))

	engine.EXPECT().GoodSize(10).Return(16)
	require.Equal(t, uintptr(16), allocator.GoodSize(10))
}

func TestLocalHeapLifecycle(t *testing.T) {
	engine, _, allocator := readyMockAllocator(t)
	ctrl := gomock.NewController(t)

	backing := mocks.NewMockEngineHeap(ctrl)
	deleted := mocks.NewMockEngineHeap(ctrl)
	destroyed := mocks.NewMockEngineHeap(ctrl)

	local := allocator.NewLocal()

	engine.EXPECT().NewHeap(nil).Return(backing)
	require.Same(t, local.Backing(), local.Default())

	engine.EXPECT().NewHeap(backing).Return(deleted)
	engine.EXPECT().NewHeap(backing).Return(destroyed)
	deletedHeap := local.NewHeap()
	destroyedHeap := local.NewHeap()

	local.SetDefault(deletedHeap)
	deleted.EXPECT().Delete().Return(nil)
	local.DeleteHeap(deletedHeap)
	require.True(t, deletedHeap.IsReleased())
	require.Same(t, local.Backing(), local.Default())

	// Released handles no longer reach the engine
	require.True(t, deletedHeap.Allocate(16).IsAbsent())
	local.DeleteHeap(deletedHeap)

	destroyed.EXPECT().Destroy().Return(errors.New("already gone"))
	local.DestroyHeap(destroyedHeap)
	require.True(t, destroyedHeap.IsReleased())

	// The backing heap ignores deletion
	local.DeleteHeap(local.Backing())
	local.DestroyHeap(local.Backing())

	backing.EXPECT().Delete().Return(nil)
	require.NoError(t, local.Release())
	require.NoError(t, local.Release())
}
