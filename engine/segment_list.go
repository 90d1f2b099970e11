package engine

import (
	"context"
	"log/slog"
	"sort"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/hostalloc/engine/internal/utils"
	"github.com/vkngwrapper/hostalloc/memutils"
)

// segmentList holds the segments owned by a single heap. Regular segments are kept roughly sorted from
// least to most free space so that allocation prefers the fullest segment that fits. Huge segments are
// kept in a separate intrusive list.
type segmentList struct {
	logger *slog.Logger
	engine *Engine

	mutex           utils.OptionalMutex
	segments        []*segment
	incrementalSort bool

	hugeCount int
	hugeHead  *segment
	hugeTail  *segment
}

func (l *segmentList) Init(logger *slog.Logger, engine *Engine, useMutex bool) {
	l.logger = logger
	l.engine = engine
	l.incrementalSort = true
	l.mutex = utils.OptionalMutex{UseMutex: useMutex}
}

func (l *segmentList) SegmentCount() int { return len(l.segments) }
func (l *segmentList) HugeCount() int    { return l.hugeCount }

func (l *segmentList) Validate() error {
	declaredCount := l.hugeCount
	actualCount := 0

	for seg := l.hugeHead; seg != nil; seg = seg.nextHuge {
		actualCount++
	}

	if declaredCount != actualCount {
		return errors.Newf("the listed number of huge segments in the list (%d) does not match the actual number of segments (%d)", declaredCount, actualCount)
	}

	for _, seg := range l.segments {
		err := seg.Validate()
		if err != nil {
			return err
		}
	}

	return nil
}

// Allocate places a block in one of the list's segments, mapping a new segment if none of the existing
// ones can hold it. It returns nil when the engine is out of memory.
func (l *segmentList) Allocate(owner *Heap, size int, alignment uint, alignOffset int) unsafe.Pointer {
	// Iterate forward through the segments to find the smallest/best segment where this will fit
	for segmentIndex := 0; segmentIndex < len(l.segments); segmentIndex++ {
		ptr := l.segments[segmentIndex].Alloc(size, alignment, alignOffset)
		if ptr != nil {
			l.incrementallySortSegments()
			return ptr
		}
	}

	seg, err := l.engine.createSegment(owner)
	if err != nil {
		l.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Failed to map a new segment", slog.Any("error", err))
		return nil
	}
	l.segments = append(l.segments, seg)

	ptr := seg.Alloc(size, alignment, alignOffset)
	if ptr == nil {
		panic("a freshly mapped segment could not hold an allocation below the huge threshold")
	}

	l.incrementallySortSegments()
	return ptr
}

func (l *segmentList) AllocateHuge(owner *Heap, size int, alignment uint, alignOffset int) unsafe.Pointer {
	seg, err := l.engine.createHugeSegment(owner, size, alignment, alignOffset)
	if err != nil {
		l.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Failed to map a huge segment", slog.Any("error", err))
		return nil
	}

	l.pushHuge(seg)
	return seg.pointerAt(seg.hugeOffset)
}

// Free releases the block at ptr within seg, which must belong to this list. It returns the size
// of the freed block.
func (l *segmentList) Free(seg *segment, ptr unsafe.Pointer) int {
	if seg.huge {
		l.removeHuge(seg)
		size := seg.hugeSize
		l.engine.destroySegment(seg)
		return size
	}

	size := seg.Free(ptr)
	if size == 0 {
		return 0
	}

	if seg.IsEmpty() {
		if l.emptySegmentCount() > l.engine.options.CachedSegmentCount {
			l.remove(seg)
			l.engine.destroySegment(seg)
		} else if l.engine.options.Flags&EngineCreateResetFreedSegments != 0 {
			err := seg.Reset()
			if err != nil {
				l.logger.LogAttrs(context.Background(), slog.LevelWarn, "failed to reset an empty segment", slog.Int("segment", seg.id), slog.Any("error", err))
			}
		}
	}

	l.incrementallySortSegments()
	return size
}

// Trim releases empty segments beyond keep. It returns the number of segments released.
func (l *segmentList) Trim(keep int) int {
	released := 0
	empty := 0

	for segmentIndex := 0; segmentIndex < len(l.segments); {
		seg := l.segments[segmentIndex]
		if !seg.IsEmpty() {
			segmentIndex++
			continue
		}

		empty++
		if empty <= keep {
			segmentIndex++
			continue
		}

		l.segments = append(l.segments[:segmentIndex], l.segments[segmentIndex+1:]...)
		l.engine.destroySegment(seg)
		released++
	}

	return released
}

// MoveTo hands every segment in this list to target. The caller must hold both lists' mutexes.
func (l *segmentList) MoveTo(target *Heap) {
	for _, seg := range l.segments {
		seg.owner.Store(target)
	}
	target.list.segments = append(target.list.segments, l.segments...)
	target.list.SortByFreeSize()
	l.segments = nil

	for seg := l.hugeHead; seg != nil; {
		next := seg.nextHuge
		l.removeHuge(seg)
		seg.owner.Store(target)
		target.list.pushHuge(seg)
		seg = next
	}
}

// DestroyAll unmaps every segment in the list, returning the number and total size of the blocks that
// were still live
func (l *segmentList) DestroyAll(logUnreleased bool) (int, int) {
	liveCount, liveBytes := 0, 0

	destroy := func(seg *segment) {
		count, bytes := seg.liveAllocations()
		if count > 0 && logUnreleased {
			seg.logUnreleasedMemory()
		}
		liveCount += count
		liveBytes += bytes
		l.engine.destroySegment(seg)
	}

	for _, seg := range l.segments {
		destroy(seg)
	}
	l.segments = nil

	for seg := l.hugeHead; seg != nil; {
		next := seg.nextHuge
		l.removeHuge(seg)
		destroy(seg)
		seg = next
	}

	return liveCount, liveBytes
}

func (l *segmentList) VisitSegments(visit func(seg *segment) bool) bool {
	for _, seg := range l.segments {
		if !visit(seg) {
			return false
		}
	}

	for seg := l.hugeHead; seg != nil; seg = seg.nextHuge {
		if !visit(seg) {
			return false
		}
	}

	return true
}

func (l *segmentList) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	l.VisitSegments(func(seg *segment) bool {
		seg.AddDetailedStatistics(stats)
		return true
	})
}

func (l *segmentList) emptySegmentCount() int {
	count := 0
	for _, seg := range l.segments {
		if seg.IsEmpty() {
			count++
		}
	}

	return count
}

func (l *segmentList) remove(seg *segment) {
	for segmentIndex := 0; segmentIndex < len(l.segments); segmentIndex++ {
		if l.segments[segmentIndex] == seg {
			l.segments = append(l.segments[:segmentIndex], l.segments[segmentIndex+1:]...)
			return
		}
	}

	panic("attempted to remove a segment that was not in the list")
}

func (l *segmentList) incrementallySortSegments() {
	if !l.incrementalSort {
		return
	}

	for segmentIndex := 1; segmentIndex < len(l.segments); segmentIndex++ {
		if l.segments[segmentIndex-1].SumFreeSize() > l.segments[segmentIndex].SumFreeSize() {
			l.segments[segmentIndex-1], l.segments[segmentIndex] = l.segments[segmentIndex], l.segments[segmentIndex-1]
			return
		}
	}
}

func (l *segmentList) SortByFreeSize() {
	sort.Slice(l.segments, func(i, j int) bool {
		return l.segments[i].SumFreeSize() < l.segments[j].SumFreeSize()
	})
}

func (l *segmentList) pushHuge(seg *segment) {
	if l.hugeCount == 0 {
		l.hugeHead = seg
		l.hugeTail = seg
		l.hugeCount = 1
		return
	}

	seg.prevHuge = l.hugeTail
	l.hugeTail.nextHuge = seg

	l.hugeTail = seg
	l.hugeCount++
}

func (l *segmentList) removeHuge(seg *segment) {
	prev := seg.prevHuge
	next := seg.nextHuge

	if prev != nil {
		prev.nextHuge = next
	} else {
		l.hugeHead = next
	}

	if next != nil {
		next.prevHuge = prev
	} else {
		l.hugeTail = prev
	}

	seg.prevHuge = nil
	seg.nextHuge = nil

	l.hugeCount--
}
