package osmem

import (
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/hostalloc/memutils"
)

// ErrOutOfMemory is returned from Map when a mapping would exceed the configured limit, or when
// the operating system refuses to map more pages
var ErrOutOfMemory = errors.New("out of memory")

// Source hands out page-aligned regions of memory from the operating system and keeps running
// totals of how much has been mapped and how much of it has been handed to callers. All methods
// are safe to call from multiple goroutines.
type Source struct {
	// Number of live mappings made from the operating system
	mappingCount int32
	// Size of live mappings made from the operating system
	mappingBytes int64
	// Number of user allocations that have been doled out from mappings, including huge
	// allocations that received a mapping of their own
	allocationCount int32
	// Size of user allocations that have been doled out from mappings
	allocationBytes int64

	// Upper bound on mappingBytes, or 0 for no limit
	limit    int
	pageSize int
}

func NewSource(limit int) (*Source, error) {
	if limit < 0 {
		return nil, errors.Newf("memory limit must not be negative, but was %d", limit)
	}

	pageSize := systemPageSize()
	err := memutils.CheckPow2(pageSize, "system page size")
	if err != nil {
		return nil, err
	}

	return &Source{
		limit:    limit,
		pageSize: pageSize,
	}, nil
}

func (s *Source) PageSize() int {
	return s.pageSize
}

func (s *Source) addMappingWithLimit(size int) error {
	for {
		currentVal := atomic.LoadInt64(&s.mappingBytes)
		targetVal := currentVal + int64(size)

		if s.limit > 0 && targetVal > int64(s.limit) {
			return errors.Wrapf(ErrOutOfMemory, "mapping %d bytes would exceed the limit of %d bytes", size, s.limit)
		}

		if atomic.CompareAndSwapInt64(&s.mappingBytes, currentVal, targetVal) {
			break
		}
	}

	atomic.AddInt32(&s.mappingCount, 1)
	return nil
}

func (s *Source) removeMapping(size int) {
	newVal := atomic.AddInt64(&s.mappingBytes, int64(-size))
	if newVal < 0 {
		panic("mapped bytes went negative")
	}

	newCountVal := atomic.AddInt32(&s.mappingCount, -1)
	if newCountVal < 0 {
		panic("mapping count went negative")
	}
}

// Map reserves size bytes of readable, writable, zeroed memory. Size is rounded up to the page size.
func (s *Source) Map(size int) (data []byte, err error) {
	if size < 1 {
		return nil, errors.Newf("cannot map %d bytes", size)
	}
	size = memutils.AlignUp(size, uint(s.pageSize))

	err = s.addMappingWithLimit(size)
	if err != nil {
		return nil, err
	}
	defer func() {
		// If we failed out, roll back the mapping totals
		if err != nil {
			s.removeMapping(size)
		}
	}()

	data, err = mapPages(size)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to map %d bytes", size), ErrOutOfMemory)
	}

	return data, nil
}

// Unmap returns a region received from Map to the operating system. The region must not be used
// afterward.
func (s *Source) Unmap(data []byte) error {
	size := len(data)
	if size == 0 || size%s.pageSize != 0 {
		panic(fmt.Sprintf("attempted to unmap a region of %d bytes that did not come from Map", size))
	}

	err := unmapPages(data)
	if err != nil {
		return errors.Wrapf(err, "failed to unmap %d bytes", size)
	}

	s.removeMapping(size)
	return nil
}

// Reset tells the operating system that the contents of a region are no longer needed. The region
// remains mapped and reads as zero afterward.
func (s *Source) Reset(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	return resetPages(data)
}

func (s *Source) AddAllocation(size int) {
	atomic.AddInt32(&s.allocationCount, 1)
	atomic.AddInt64(&s.allocationBytes, int64(size))
}

func (s *Source) RemoveAllocation(size int) {
	newVal := atomic.AddInt64(&s.allocationBytes, int64(-size))
	if newVal < 0 {
		panic("allocation bytes went negative")
	}

	newCountVal := atomic.AddInt32(&s.allocationCount, -1)
	if newCountVal < 0 {
		panic("allocation count went negative")
	}
}

// ResizeAllocation records that a live allocation changed size in place
func (s *Source) ResizeAllocation(oldSize, newSize int) {
	newVal := atomic.AddInt64(&s.allocationBytes, int64(newSize-oldSize))
	if newVal < 0 {
		panic("allocation bytes went negative")
	}
}

// RemoveAllocations records that count allocations totalling size bytes were released at once, as
// when a heap is destroyed with live blocks
func (s *Source) RemoveAllocations(count, size int) {
	if count == 0 {
		return
	}

	newVal := atomic.AddInt64(&s.allocationBytes, int64(-size))
	if newVal < 0 {
		panic("allocation bytes went negative")
	}

	newCountVal := atomic.AddInt32(&s.allocationCount, int32(-count))
	if newCountVal < 0 {
		panic("allocation count went negative")
	}
}

// Statistics reports the current totals. Each value is read atomically, but the set is not a
// consistent snapshot while other goroutines are allocating.
func (s *Source) Statistics() memutils.Statistics {
	return memutils.Statistics{
		BlockCount:      int(atomic.LoadInt32(&s.mappingCount)),
		BlockBytes:      int(atomic.LoadInt64(&s.mappingBytes)),
		AllocationCount: int(atomic.LoadInt32(&s.allocationCount)),
		AllocationBytes: int(atomic.LoadInt64(&s.allocationBytes)),
	}
}
