package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/hostalloc/engine/internal/osmem"
	"github.com/vkngwrapper/hostalloc/engine/internal/utils"
	"github.com/vkngwrapper/hostalloc/memutils"
	"github.com/vkngwrapper/hostalloc/memutils/metadata"
)

// segment is a single mapping from the operating system. Regular segments are carved into many blocks
// by TLSF metadata, while huge segments hold exactly one block.
//
// Everything that mutates a segment is done while holding the owning heap's list mutex and then the
// segment mutex, in that order. Readers that do not change the segment only take the segment mutex.
type segment struct {
	id     int
	logger *slog.Logger
	source *osmem.Source
	mutex  utils.OptionalMutex
	owner  atomic.Pointer[Heap]

	data []byte
	base uintptr

	huge       bool
	hugeOffset int
	hugeSize   int
	prevHuge   *segment
	nextHuge   *segment

	metadata    metadata.BlockMetadata
	allocations *swiss.Map[int, metadata.BlockAllocationHandle]
}

func newSegment(logger *slog.Logger, source *osmem.Source, id int, size int, useMutex bool) (*segment, error) {
	data, err := source.Map(size)
	if err != nil {
		return nil, err
	}

	seg := &segment{
		id:     id,
		logger: logger,
		source: source,
		mutex:  utils.OptionalMutex{UseMutex: useMutex},
		data:   data,
		base:   uintptr(unsafe.Pointer(&data[0])),

		metadata:    metadata.NewTLSFBlockMetadata(),
		allocations: swiss.NewMap[int, metadata.BlockAllocationHandle](64),
	}
	seg.metadata.Init(len(data))

	return seg, nil
}

func newHugeSegment(logger *slog.Logger, source *osmem.Source, id int, size int, alignment uint, alignOffset int, useMutex bool) (*segment, error) {
	mapSize := uintptr(size)
	if alignment > uint(source.PageSize()) || alignOffset != 0 {
		// Enough slack that some address in the mapping satisfies the alignment
		var err error
		mapSize, err = memutils.CheckedAdd(mapSize, uintptr(alignment))
		if err != nil {
			return nil, errors.Mark(err, osmem.ErrOutOfMemory)
		}
	}

	alignedSize, err := memutils.CheckedAlignUp(mapSize, uintptr(source.PageSize()))
	if err != nil || alignedSize > math.MaxInt {
		return nil, errors.Wrapf(osmem.ErrOutOfMemory, "a huge allocation of %d bytes cannot be mapped", size)
	}

	data, err := source.Map(int(alignedSize))
	if err != nil {
		return nil, err
	}

	base := uintptr(unsafe.Pointer(&data[0]))
	start := memutils.AlignUpPtr(base+uintptr(alignOffset), uintptr(alignment)) - uintptr(alignOffset)
	padding := int(start - base)

	return &segment{
		id:     id,
		logger: logger,
		source: source,
		mutex:  utils.OptionalMutex{UseMutex: useMutex},
		data:   data,
		base:   base,

		huge:       true,
		hugeOffset: padding,
		hugeSize:   len(data) - padding,
	}, nil
}

func (s *segment) containsAddress(addr uintptr) bool {
	return addr >= s.base && addr-s.base < uintptr(len(s.data))
}

func (s *segment) offsetOf(ptr unsafe.Pointer) int {
	return int(uintptr(ptr) - s.base)
}

func (s *segment) pointerAt(offset int) unsafe.Pointer {
	return unsafe.Pointer(&s.data[offset])
}

func (s *segment) Size() int {
	return len(s.data)
}

func (s *segment) IsEmpty() bool {
	if s.huge {
		return false
	}

	return s.metadata.IsEmpty()
}

func (s *segment) SumFreeSize() int {
	if s.huge {
		return 0
	}

	return s.metadata.SumFreeSize()
}

// Alloc places a block of size bytes in this segment such that (address + alignOffset) is a multiple of
// alignment. It returns nil if the segment has no suitable free region.
func (s *segment) Alloc(size int, alignment uint, alignOffset int) unsafe.Pointer {
	if s.huge {
		panic("attempted to suballocate from a huge segment")
	}

	if !s.metadata.MayHaveFreeBlock(size) {
		return nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	bias := int((s.base + uintptr(alignOffset)) % uintptr(alignment))
	success, request, err := s.metadata.CreateAllocationRequest(size, alignment, bias, metadata.AllocationStrategyMinMemory)
	if err != nil {
		panic(fmt.Sprintf("unexpected error when creating an allocation request in segment %d: %+v", s.id, err))
	}
	if !success {
		return nil
	}

	err = s.metadata.Alloc(request)
	if err != nil {
		panic(fmt.Sprintf("unexpected error when committing an allocation request in segment %d: %+v", s.id, err))
	}
	s.allocations.Put(request.Offset, request.BlockAllocationHandle)

	if memutils.DebugMargin > 0 {
		memutils.WriteMagicValue(s.pointerAt(0), request.Offset+request.Size)
	}
	memutils.DebugValidate(s)

	return s.pointerAt(request.Offset)
}

// Free releases the block that begins at ptr and returns its size, or 0 if no block begins there
func (s *segment) Free(ptr unsafe.Pointer) int {
	if s.huge {
		panic("attempted to free a huge segment's block as a suballocation")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	offset := s.offsetOf(ptr)
	handle, ok := s.allocations.Get(offset)
	if !ok {
		return 0
	}

	size, err := s.metadata.AllocationSize(handle)
	if err != nil {
		panic(fmt.Sprintf("unexpected error when retrieving the size of the allocation at offset %d in segment %d: %+v", offset, s.id, err))
	}

	if memutils.DebugMargin > 0 && !memutils.ValidateMagicValue(s.pointerAt(0), offset+size) {
		panic("MEMORY CORRUPTION DETECTED AFTER FREED ALLOCATION")
	}

	err = s.metadata.Free(handle)
	if err != nil {
		panic(fmt.Sprintf("unexpected error when freeing allocation with handle %+v in metadata: %+v", handle, err))
	}
	s.allocations.Delete(offset)
	memutils.DebugValidate(s)

	return size
}

// UsableSize returns the size of the block that begins at ptr, or 0 if no block begins there
func (s *segment) UsableSize(ptr unsafe.Pointer) int {
	offset := s.offsetOf(ptr)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	// Callers reach the segment through the registry without the owner's lock, so it may have been
	// destroyed since
	if s.data == nil {
		return 0
	}

	if s.huge {
		if offset != s.hugeOffset {
			return 0
		}
		return s.hugeSize
	}

	handle, ok := s.allocations.Get(offset)
	if !ok {
		return 0
	}

	size, err := s.metadata.AllocationSize(handle)
	if err != nil {
		return 0
	}

	return size
}

// FindBlock returns the start and size of the live block that contains ptr
func (s *segment) FindBlock(ptr unsafe.Pointer) (unsafe.Pointer, int, bool) {
	offset := s.offsetOf(ptr)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.data == nil {
		return nil, 0, false
	}

	if s.huge {
		if offset < s.hugeOffset || offset >= s.hugeOffset+s.hugeSize {
			return nil, 0, false
		}
		return s.pointerAt(s.hugeOffset), s.hugeSize, true
	}

	_, suballoc, found := s.metadata.FindAllocation(offset)
	if !found {
		return nil, 0, false
	}

	return s.pointerAt(suballoc.Offset), suballoc.Size, true
}

// GrowInPlace extends the block that begins at ptr to newSize bytes if the space after it is free,
// returning the block's size before the call
func (s *segment) GrowInPlace(ptr unsafe.Pointer, newSize int) (int, bool) {
	offset := s.offsetOf(ptr)

	if s.huge {
		if offset != s.hugeOffset {
			return 0, false
		}
		return s.hugeSize, newSize <= s.hugeSize
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	handle, ok := s.allocations.Get(offset)
	if !ok {
		return 0, false
	}

	oldSize, err := s.metadata.AllocationSize(handle)
	if err != nil {
		return 0, false
	}

	grown, err := s.metadata.GrowInPlace(handle, newSize)
	if err != nil {
		panic(fmt.Sprintf("unexpected error when growing the allocation at offset %d in segment %d: %+v", offset, s.id, err))
	}
	memutils.DebugValidate(s)

	return oldSize, grown
}

// ShrinkInPlace reduces the block that begins at ptr to newSize bytes, returning the block's size
// before the call
func (s *segment) ShrinkInPlace(ptr unsafe.Pointer, newSize int) (int, bool) {
	offset := s.offsetOf(ptr)

	if s.huge {
		if offset != s.hugeOffset || newSize > s.hugeSize {
			return 0, false
		}
		return s.hugeSize, true
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	handle, ok := s.allocations.Get(offset)
	if !ok {
		return 0, false
	}

	oldSize, err := s.metadata.AllocationSize(handle)
	if err != nil || newSize > oldSize {
		return 0, false
	}

	err = s.metadata.ShrinkInPlace(handle, newSize)
	if err != nil {
		panic(fmt.Sprintf("unexpected error when shrinking the allocation at offset %d in segment %d: %+v", offset, s.id, err))
	}
	memutils.DebugValidate(s)

	return oldSize, true
}

// VisitBlocks calls visit for every live block in the segment until it returns false
func (s *segment) VisitBlocks(visit func(ptr unsafe.Pointer, size int) bool) bool {
	if s.huge {
		return visit(s.pointerAt(s.hugeOffset), s.hugeSize)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	keepGoing := true
	_ = s.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, free bool) error {
		if free || !keepGoing {
			return nil
		}

		keepGoing = visit(s.pointerAt(offset), size)
		return nil
	})

	return keepGoing
}

func (s *segment) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	if s.huge {
		stats.BlockCount++
		stats.BlockBytes += len(s.data)
		stats.AddAllocation(s.hugeSize)
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.metadata.AddDetailedStatistics(stats)
}

// liveAllocations returns the number and total size of the blocks that have not been freed
func (s *segment) liveAllocations() (int, int) {
	if s.huge {
		return 1, s.hugeSize
	}

	var stats memutils.Statistics
	s.metadata.AddStatistics(&stats)
	return stats.AllocationCount, stats.AllocationBytes
}

func (s *segment) Validate() error {
	if s.data == nil {
		return errors.New("no valid memory for this segment")
	}

	if s.huge {
		if s.hugeOffset < 0 || s.hugeOffset+s.hugeSize != len(s.data) {
			return errors.Newf("huge segment %d has a block at offset %d of size %d that does not fit its mapping of %d bytes", s.id, s.hugeOffset, s.hugeSize, len(s.data))
		}
		return nil
	}

	if s.metadata.Size() != len(s.data) {
		return errors.Newf("segment %d metadata has size %d, but its mapping is %d bytes", s.id, s.metadata.Size(), len(s.data))
	}

	if s.allocations.Count() != s.metadata.AllocationCount() {
		return errors.Newf("segment %d tracks %d allocation offsets, but its metadata has %d allocations", s.id, s.allocations.Count(), s.metadata.AllocationCount())
	}

	return s.metadata.Validate()
}

func (s *segment) CheckCorruption() error {
	if s.huge || memutils.DebugMargin == 0 {
		return nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	err := s.metadata.CheckCorruption(s.pointerAt(0))
	if err != nil {
		return errors.Wrapf(err, "segment %d", s.id)
	}

	return nil
}

// Reset hands the pages of an empty segment back to the operating system while keeping it mapped
func (s *segment) Reset() error {
	if !s.IsEmpty() {
		panic(fmt.Sprintf("attempted to reset segment %d while it still holds allocations", s.id))
	}

	return s.source.Reset(s.data)
}

func (s *segment) logUnreleasedMemory() {
	if s.huge {
		s.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed huge allocation",
			slog.Int("segment", s.id),
			slog.Int("size", s.hugeSize),
		)
		return
	}

	err := s.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, free bool) error {
		if free {
			return nil
		}

		s.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
			slog.Int("segment", s.id),
			slog.Int("offset", offset),
			slog.Int("size", size),
		)
		return nil
	})
	if err != nil {
		s.logger.LogAttrs(context.Background(),
			slog.LevelError,
			"[UNRELEASED MEMORY] error while iterating unreleased memory",
			slog.Any("error", err))
	}
}

// Destroy returns the segment's mapping to the operating system. Any blocks that are still live
// become invalid.
func (s *segment) Destroy() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.data == nil {
		panic(fmt.Sprintf("attempting to destroy segment %d, but it did not have a backing mapping", s.id))
	}

	err := s.source.Unmap(s.data)
	if err != nil {
		return err
	}

	s.data = nil
	s.metadata = nil
	s.allocations = nil
	return nil
}
