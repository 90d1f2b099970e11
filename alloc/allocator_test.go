package alloc

import (
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/hostalloc/engine"
	"github.com/vkngwrapper/hostalloc/memutils"
)

func readyAllocator(t *testing.T, options engine.Options) (*engine.Engine, *Allocator) {
	if options.SegmentSize == 0 {
		options.SegmentSize = 64 * 1024
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng, err := engine.New(logger, options)
	require.NoError(t, err)

	return eng, NewNative(logger, eng)
}

func fill(b Block, value byte) {
	data := b.Bytes()
	for i := range data {
		data[i] = value
	}
}

func requireFilled(t *testing.T, data []byte, value byte) {
	for i, b := range data {
		require.Equal(t, value, b, "byte %d", i)
	}
}

func requireAlignmentPanic(t *testing.T, f func()) {
	defer func() {
		r := recover()
		err, isErr := r.(error)
		require.True(t, isErr, "expected an error panic, got %v", r)
		require.True(t, errors.Is(err, memutils.PowerOfTwoError))
	}()

	f()
}

func TestBlock(t *testing.T) {
	var absent Block
	require.True(t, absent.IsAbsent())
	require.Nil(t, absent.Bytes())
	require.Nil(t, absent.Ptr())
	require.Equal(t, uintptr(0), absent.Len())

	eng, allocator := readyAllocator(t, engine.Options{})

	b := allocator.Allocate(10)
	require.False(t, b.IsAbsent())
	require.Equal(t, uintptr(10), b.Len())
	require.Len(t, b.Bytes(), 10)
	require.Equal(t, b.Ptr(), unsafe.Pointer(&b.Bytes()[0]))

	allocator.Deallocate(b)
	require.NoError(t, eng.Close())
}

func TestZeroSizeIsAbsent(t *testing.T) {
	eng, allocator := readyAllocator(t, engine.Options{})

	require.True(t, allocator.Allocate(0).IsAbsent())
	require.True(t, allocator.AllocateZeroed(0, 8).IsAbsent())
	require.True(t, allocator.AllocateZeroed(8, 0).IsAbsent())
	require.True(t, allocator.AllocateAligned(0, 64, 0).IsAbsent())
	require.True(t, allocator.AllocateAlignedZeroed(0, 64, 8).IsAbsent())

	b, ok := allocator.Reallocate(Block{}, 0)
	require.True(t, ok)
	require.True(t, b.IsAbsent())

	require.Equal(t, 0, eng.Statistics().AllocationCount)
	require.NoError(t, eng.Close())
}

func TestAllocateZeroed(t *testing.T) {
	eng, allocator := readyAllocator(t, engine.Options{})

	require.True(t, allocator.AllocateZeroed(^uintptr(0), 2).IsAbsent())
	require.True(t, allocator.AllocateZeroed(^uintptr(0)/2+1, 2).IsAbsent())
	require.True(t, allocator.AllocateZeroed(math.MaxInt, 1).IsAbsent())

	dirty := allocator.Allocate(512)
	fill(dirty, 0xFF)
	allocator.Deallocate(dirty)

	b := allocator.AllocateZeroed(4, 16)
	require.Equal(t, uintptr(64), b.Len())
	requireFilled(t, b.Bytes(), 0)

	aligned := allocator.AllocateAlignedZeroed(200, 128, 0)
	require.Zero(t, uintptr(aligned.Ptr())%128)
	requireFilled(t, aligned.Bytes(), 0)

	allocator.Deallocate(b)
	allocator.Deallocate(aligned)
	require.NoError(t, eng.Close())
}

func TestUsableSizeCoversRequest(t *testing.T) {
	eng, allocator := readyAllocator(t, engine.Options{})

	for _, size := range []uintptr{1, 7, 16, 100, 4095, 8192, 8193, 70000} {
		b := allocator.Allocate(size)
		require.False(t, b.IsAbsent())
		require.Equal(t, size, b.Len())
		require.GreaterOrEqual(t, uint64(allocator.UsableSize(b.Ptr())), uint64(size))

		allocator.Deallocate(b)
	}

	var local int
	require.Equal(t, uintptr(0), allocator.UsableSize(nil))
	require.Equal(t, uintptr(0), allocator.UsableSize(unsafe.Pointer(&local)))

	require.NoError(t, eng.Close())
}

func TestAlignedPlacement(t *testing.T) {
	eng, allocator := readyAllocator(t, engine.Options{})

	for _, alignment := range []uintptr{1, 2, 16, 64, 512, 4096, 16384} {
		for _, offset := range []uintptr{0, 1, 7, 24, 4095} {
			b := allocator.AllocateAligned(48, alignment, offset)
			require.False(t, b.IsAbsent())
			require.Zero(t, (uintptr(b.Ptr())+offset)%alignment, "alignment %d offset %d", alignment, offset)

			allocator.Deallocate(b)
		}
	}

	require.NoError(t, eng.Close())
}

func TestAlignmentMustBePowerOfTwo(t *testing.T) {
	eng, allocator := readyAllocator(t, engine.Options{})

	requireAlignmentPanic(t, func() { allocator.AllocateAligned(64, 3, 0) })
	requireAlignmentPanic(t, func() { allocator.AllocateAlignedZeroed(64, 0, 0) })
	requireAlignmentPanic(t, func() { allocator.ReallocateAligned(Block{}, 64, 48, 0) })

	require.NoError(t, eng.Close())
}

func TestOwnsAndResolve(t *testing.T) {
	eng, allocator := readyAllocator(t, engine.Options{})

	b := allocator.Allocate(100)
	require.True(t, allocator.Owns(b.Ptr()))

	resolved := allocator.ResolveToBlock(b.Ptr())
	require.Equal(t, b.Ptr(), resolved.Ptr())
	require.Equal(t, allocator.UsableSize(b.Ptr()), resolved.Len())

	interior := unsafe.Add(b.Ptr(), 60)
	require.True(t, allocator.Owns(interior))
	require.Equal(t, b.Ptr(), allocator.ResolveToBlock(interior).Ptr())

	huge := allocator.Allocate(100000)
	require.Equal(t, huge.Ptr(), allocator.ResolveToBlock(unsafe.Add(huge.Ptr(), 99999)).Ptr())

	var local int
	require.False(t, allocator.Owns(nil))
	require.False(t, allocator.Owns(unsafe.Pointer(&local)))
	require.True(t, allocator.ResolveToBlock(nil).IsAbsent())
	require.True(t, allocator.ResolveToBlock(unsafe.Pointer(&local)).IsAbsent())

	allocator.Deallocate(b)
	allocator.Deallocate(huge)

	// The segment is still cached, so the address is owned but no longer resolves
	require.True(t, allocator.ResolveToBlock(interior).IsAbsent())

	require.NoError(t, eng.Close())
}

func TestExpandShrink(t *testing.T) {
	eng, allocator := readyAllocator(t, engine.Options{})

	first := allocator.Allocate(64)
	second := allocator.Allocate(64)

	usable := allocator.UsableSize(first.Ptr())
	require.True(t, allocator.Expand(&first, 0))
	require.Equal(t, uintptr(64), first.Len())
	require.Equal(t, usable, allocator.UsableSize(first.Ptr()))

	// first is hemmed in by second, second has free space behind it
	require.False(t, allocator.Expand(&first, 64))
	require.Equal(t, uintptr(64), first.Len())

	ptr := second.Ptr()
	require.True(t, allocator.Expand(&second, 64))
	require.Equal(t, ptr, second.Ptr())
	require.Equal(t, uintptr(128), second.Len())
	require.Equal(t, uintptr(128), allocator.UsableSize(second.Ptr()))

	require.False(t, allocator.Expand(&second, ^uintptr(0)))
	require.False(t, allocator.Expand(&Block{}, 16))
	require.False(t, allocator.Expand(nil, 16))

	require.True(t, allocator.Shrink(&second, 16))
	require.Equal(t, uintptr(16), second.Len())
	require.Equal(t, uintptr(16), allocator.UsableSize(second.Ptr()))
	require.True(t, allocator.Shrink(&second, 16))
	require.False(t, allocator.Shrink(&second, 32))
	require.False(t, allocator.Shrink(&second, 0))

	allocator.Deallocate(first)
	allocator.Deallocate(second)
	require.NoError(t, eng.Close())
}

func TestReallocatePreservesContents(t *testing.T) {
	eng, allocator := readyAllocator(t, engine.Options{})

	b := allocator.Allocate(64)
	data := b.Bytes()
	for i := range data {
		data[i] = byte(i)
	}

	// A neighbor forces the block to move
	neighbor := allocator.Allocate(64)

	grown, ok := allocator.Reallocate(b, 256)
	require.True(t, ok)
	require.Equal(t, uintptr(256), grown.Len())
	for i, value := range grown.Bytes()[:64] {
		require.Equal(t, byte(i), value)
	}

	shrunk, ok := allocator.Reallocate(grown, 32)
	require.True(t, ok)
	require.Equal(t, uintptr(32), shrunk.Len())
	for i, value := range shrunk.Bytes() {
		require.Equal(t, byte(i), value)
	}

	fresh, ok := allocator.Reallocate(Block{}, 48)
	require.True(t, ok)
	require.Equal(t, uintptr(48), fresh.Len())

	released, ok := allocator.Reallocate(fresh, 0)
	require.True(t, ok)
	require.True(t, released.IsAbsent())
	require.Equal(t, uintptr(0), allocator.UsableSize(fresh.Ptr()))

	aligned, ok := allocator.ReallocateAligned(shrunk, 5000, 256, 0)
	require.True(t, ok)
	require.Zero(t, uintptr(aligned.Ptr())%256)
	for i, value := range aligned.Bytes()[:32] {
		require.Equal(t, byte(i), value)
	}

	allocator.Deallocate(aligned)
	allocator.Deallocate(neighbor)
	require.Equal(t, 0, eng.Statistics().AllocationCount)
	require.NoError(t, eng.Close())
}

func TestReallocateZeroed(t *testing.T) {
	eng, allocator := readyAllocator(t, engine.Options{})

	dirty := allocator.Allocate(512)
	fill(dirty, 0xFF)
	allocator.Deallocate(dirty)

	// Lands on the dirty region and grows into it in place
	b := allocator.Allocate(64)
	fill(b, 0xAA)

	grown, ok := allocator.ReallocateZeroed(b, 256)
	require.True(t, ok)
	requireFilled(t, grown.Bytes()[:64], 0xAA)
	requireFilled(t, grown.Bytes()[64:], 0)

	fresh, ok := allocator.ReallocateZeroed(Block{}, 100)
	require.True(t, ok)
	requireFilled(t, fresh.Bytes(), 0)

	allocator.Deallocate(grown)
	allocator.Deallocate(fresh)
	require.NoError(t, eng.Close())
}

func TestReallocateFailureContracts(t *testing.T) {
	eng, allocator := readyAllocator(t, engine.Options{MemoryLimit: 64 * 1024})

	b := allocator.Allocate(64)
	fill(b, 0x5A)

	// The limit leaves no room for a dedicated mapping
	result, ok := allocator.Reallocate(b, 1<<20)
	require.False(t, ok)
	require.Equal(t, b, result)
	requireFilled(t, b.Bytes(), 0x5A)
	require.Equal(t, uintptr(64), allocator.UsableSize(b.Ptr()))

	result, ok = allocator.ReallocateAligned(b, 1<<20, 64, 0)
	require.False(t, ok)
	require.Equal(t, b, result)

	require.True(t, allocator.ReallocateOrFree(b, 1<<20).IsAbsent())
	require.Equal(t, uintptr(0), allocator.UsableSize(b.Ptr()))
	require.Equal(t, 0, eng.Statistics().AllocationCount)

	c := allocator.Allocate(32)
	moved := allocator.ReallocateOrFree(c, 4000)
	require.False(t, moved.IsAbsent())
	require.Equal(t, uintptr(4000), moved.Len())

	require.True(t, allocator.Allocate(1<<20).IsAbsent())

	allocator.Deallocate(moved)
	require.NoError(t, eng.Close())
}

func TestGoodSize(t *testing.T) {
	eng, allocator := readyAllocator(t, engine.Options{})

	require.Equal(t, uintptr(0), allocator.GoodSize(0))

	// Leave the segment fragmented so placement is not trivially at offset zero
	fragments := make([]Block, 0, 100)
	for i := uintptr(0); i < 100; i++ {
		b := allocator.AllocateAligned(24+i, 64, i%64)
		require.False(t, b.IsAbsent())
		fragments = append(fragments, b)
	}
	for i := 0; i < len(fragments); i += 2 {
		allocator.Deallocate(fragments[i])
	}

	for _, size := range []uintptr{1, 10, 16, 33, 100, 4095, 8192, 9000, 100000, 524288, 524289, 600000} {
		good := allocator.GoodSize(size)
		require.GreaterOrEqual(t, uint64(good), uint64(size))

		b := allocator.Allocate(good)
		require.False(t, b.IsAbsent())
		require.Equal(t, good, allocator.UsableSize(b.Ptr()))
		allocator.Deallocate(b)
	}

	for i := 1; i < len(fragments); i += 2 {
		allocator.Deallocate(fragments[i])
	}
	require.NoError(t, eng.Close())
}

func TestCrossGoroutineDeallocate(t *testing.T) {
	eng, allocator := readyAllocator(t, engine.Options{})
	local := allocator.NewLocal()
	heap := local.NewHeap()

	blocks := make([]Block, 0, 100)
	for i := 0; i < 100; i++ {
		b := heap.Allocate(uintptr(32 + i))
		require.False(t, b.IsAbsent())
		blocks = append(blocks, b)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		for _, b := range blocks {
			allocator.Deallocate(b)
		}
	}()
	wg.Wait()

	require.Equal(t, 0, eng.Statistics().AllocationCount)

	local.DeleteHeap(heap)
	require.NoError(t, local.Release())
	require.NoError(t, eng.Close())
}

func TestDeleteVersusDestroy(t *testing.T) {
	eng, allocator := readyAllocator(t, engine.Options{})
	local := allocator.NewLocal()

	deleted := local.NewHeap()
	survivor := deleted.Allocate(64)
	fill(survivor, 0x11)

	local.DeleteHeap(deleted)
	require.True(t, deleted.IsReleased())
	require.True(t, deleted.Allocate(8).IsAbsent())

	requireFilled(t, survivor.Bytes(), 0x11)
	require.True(t, allocator.Owns(survivor.Ptr()))
	require.Equal(t, survivor.Ptr(), allocator.ResolveToBlock(survivor.Ptr()).Ptr())

	// The survivor now lives in the backing heap
	regular, _ := local.Backing().heap.(*engine.Heap).SegmentCount()
	require.Equal(t, 1, regular)

	destroyed := local.NewHeap()
	lost := destroyed.Allocate(64)
	require.True(t, allocator.Owns(lost.Ptr()))

	local.DestroyHeap(destroyed)
	require.True(t, destroyed.IsReleased())
	require.False(t, allocator.Owns(lost.Ptr()))

	allocator.Deallocate(survivor)
	require.Equal(t, 0, eng.Statistics().AllocationCount)

	require.NoError(t, local.Release())
	require.NoError(t, eng.Close())
}

func TestLocalDefaultHeap(t *testing.T) {
	eng, allocator := readyAllocator(t, engine.Options{})
	local := allocator.NewLocal()

	backing := local.Default()
	require.Same(t, backing, local.Backing())
	require.True(t, backing.IsBacking())

	heap := local.NewHeap()
	require.False(t, heap.IsBacking())
	require.Same(t, backing, local.SetDefault(heap))
	require.Same(t, heap, local.Default())

	local.DeleteHeap(heap)
	require.Same(t, backing, local.Default())

	other := local.NewHeap()
	local.SetDefault(other)
	local.DestroyHeap(other)
	require.Same(t, backing, local.Default())

	// Releasing a heap that is not the default leaves the default alone
	third := local.NewHeap()
	fourth := local.NewHeap()
	local.SetDefault(third)
	local.DeleteHeap(fourth)
	require.Same(t, third, local.SetDefault(nil))
	require.Same(t, backing, local.Default())
	local.DeleteHeap(third)

	// The backing heap and the shared heap cannot be released through a Local
	local.DeleteHeap(backing)
	local.DestroyHeap(backing)
	local.DestroyHeap(allocator.Shared())
	require.False(t, backing.IsReleased())
	require.False(t, allocator.Shared().IsReleased())

	b := backing.Allocate(64)
	require.False(t, b.IsAbsent())

	// Releasing hands the backing heap's blocks to the shared heap
	require.NoError(t, local.Release())
	require.True(t, backing.IsReleased())
	require.True(t, allocator.Owns(b.Ptr()))
	require.NotSame(t, backing, local.Backing())

	allocator.Deallocate(b)
	require.NoError(t, local.Release())
	require.NoError(t, local.Release())
	require.NoError(t, eng.Close())
}
