package engine

import (
	"github.com/vkngwrapper/hostalloc/engine/internal/utils"
	"golang.org/x/exp/slices"
)

// segmentRegistry tracks every live segment in the engine, ordered by base address, so that a pointer
// can be traced back to the segment that contains it without knowing which heap allocated it
type segmentRegistry struct {
	mutex    utils.OptionalRWMutex
	segments []*segment
}

func (r *segmentRegistry) Init(useMutex bool) {
	r.mutex = utils.OptionalRWMutex{UseMutex: useMutex}
}

func compareSegmentBase(seg *segment, addr uintptr) int {
	if seg.base < addr {
		return -1
	} else if seg.base > addr {
		return 1
	}
	return 0
}

func (r *segmentRegistry) Register(seg *segment) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	index, found := slices.BinarySearchFunc(r.segments, seg.base, compareSegmentBase)
	if found {
		panic("a segment was registered at an address that is already in use")
	}

	r.segments = slices.Insert(r.segments, index, seg)
}

func (r *segmentRegistry) Unregister(seg *segment) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	index, found := slices.BinarySearchFunc(r.segments, seg.base, compareSegmentBase)
	if !found || r.segments[index] != seg {
		panic("attempted to unregister a segment that was not registered")
	}

	r.segments = slices.Delete(r.segments, index, index+1)
}

// Find returns the segment whose mapping contains addr, or nil if no segment does
func (r *segmentRegistry) Find(addr uintptr) *segment {
	if addr == 0 {
		return nil
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	index, found := slices.BinarySearchFunc(r.segments, addr, compareSegmentBase)
	if found {
		return r.segments[index]
	}

	// index is where addr would be inserted, so the only candidate starts below it
	if index == 0 {
		return nil
	}

	seg := r.segments[index-1]
	if !seg.containsAddress(addr) {
		return nil
	}

	return seg
}

func (r *segmentRegistry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.segments)
}
