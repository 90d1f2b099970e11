package metadata

import (
	"unsafe"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/hostalloc/memutils"
)

// BlockMetadata represents a single large region of memory (a segment of address space reserved from the
// operating system). It manages suballocations within the block, allowing allocations to be requested,
// freed, resized in place, enumerated and queried. It holds only bookkeeping: it never reads or writes
// the memory it describes.
type BlockMetadata interface {
	// Init must be called before the BlockMetadata is used. The size parameter is the size in bytes of the
	// region of memory it will be managing.
	Init(size int)
	// Size retrieves the size in bytes that the block was initialized with
	Size() int

	// Validate performs internal consistency checks on the metadata. These checks may be expensive, depending
	// on the implementation. When the implementation is functioning correctly, it should not be possible
	// for this method to return an error, but this may assist in diagnosing issues with the implementation.
	Validate() error
	// AllocationCount returns the number of suballocations currently live in the implementation.
	AllocationCount() int
	// FreeRegionsCount returns the number of unique regions of free memory in the block.
	FreeRegionsCount() int
	// SumFreeSize returns the number of free bytes of memory in the block.
	SumFreeSize() int
	// MayHaveFreeBlock is a fast heuristic indicating whether the block could possibly support a new
	// allocation of the provided size. It must never produce false negatives.
	MayHaveFreeBlock(size int) bool

	// IsEmpty will return true if this block has no live suballocations
	IsEmpty() bool

	// VisitAllRegions will call the provided callback once for each allocation and free region in
	// the block.  This can be extremely slow and should generally not be done except for diagnostic purposes.
	VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, free bool) error) error
	// FindAllocation locates the live allocation containing the byte at the provided offset, if any.
	// This walks the block's regions and is not cheap.
	FindAllocation(offset int) (BlockAllocationHandle, Suballocation, bool)

	// AllocationSize returns the size in bytes of a live allocation. This is the usable size, which
	// may be larger than the size originally requested.
	AllocationSize(allocHandle BlockAllocationHandle) (int, error)

	// AddDetailedStatistics sums this block's allocation statistics into the provided memutils.DetailedStatistics.
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this block's allocation statistics into the provided memutils.Statistics.
	AddStatistics(stats *memutils.Statistics)

	// Clear instantly frees all allocations
	Clear()
	// BlockJsonData populates a json object with information about this block
	BlockJsonData(json *jwriter.ObjectState)

	// CheckCorruption accepts a pointer to the underlying memory that this block manages. It will return
	// nil if anti-corruption memory markers are present after every suballocation in the block. Markers are
	// only written when memutils is built with the build flag `debug_mem_utils`, and it is the consumer's
	// responsibility to write them with memutils.WriteMagicValue after each allocation.
	CheckCorruption(blockData unsafe.Pointer) error

	// CreateAllocationRequest retrieves an AllocationRequest object indicating where the implementation
	// would prefer to allocate the requested memory. That object can be passed to Alloc to commit the
	// allocation.
	//
	// allocSize - the size in bytes of the requested allocation
	// allocAlignment - the alignment of the requested allocation, a power of two
	// alignmentBias - a value in [0, allocAlignment) added to an offset before checking alignment. The returned
	// offset satisfies (offset + alignmentBias) % allocAlignment == 0, which allows the consumer to align
	// absolute addresses (or addresses plus a caller-provided offset) rather than offsets within the block.
	// strategy - Whether to prioritize memory usage, memory offset, or allocation speed
	CreateAllocationRequest(
		allocSize int, allocAlignment uint, alignmentBias int,
		strategy AllocationStrategy,
	) (bool, AllocationRequest, error)
	// Alloc commits an AllocationRequest object. The implementation must return an error if the
	// request is no longer valid.
	Alloc(request AllocationRequest) error

	// Free frees a suballocation within the block, causing it to become a free region once again.
	Free(allocHandle BlockAllocationHandle) error

	// GrowInPlace attempts to enlarge a live allocation to newSize bytes without changing its offset,
	// by absorbing free space physically following it. It returns false if that is not possible.
	GrowInPlace(allocHandle BlockAllocationHandle, newSize int) (bool, error)
	// ShrinkInPlace reduces a live allocation to newSize bytes without changing its offset, returning
	// the tail to free space.
	ShrinkInPlace(allocHandle BlockAllocationHandle, newSize int) error
}

// BlockMetadataBase is a simple struct that provides a few shared utilities for BlockMetadata
// implementations in the memutils module.
type BlockMetadataBase struct {
	size int
}

// Init prepares this structure for allocations and sizes the block in bytes based on the parameter size.
func (m *BlockMetadataBase) Init(size int) {
	m.size = size
}

// Size returns the size of the block in bytes
func (m *BlockMetadataBase) Size() int { return m.size }

func (m *BlockMetadataBase) blockJsonData(json *jwriter.ObjectState, unusedBytes, allocationCount, unusedRangeCount int) {
	json.Name("TotalBytes").Int(m.Size())
	json.Name("UnusedBytes").Int(unusedBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}
