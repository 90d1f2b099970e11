package engine

import (
	"strconv"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/hostalloc/memutils"
	"github.com/vkngwrapper/hostalloc/memutils/metadata"
)

// BuildStatsString returns a json document describing the engine's configuration and the memory
// held by each heap. When detailedMap is true, every segment and every region within it is listed.
func (e *Engine) BuildStatsString(detailedMap bool) string {
	writer := jwriter.NewWriter()
	objState := writer.Object()

	general := objState.Name("General").Object()
	general.Name("Flags").String(e.options.Flags.String())
	general.Name("SegmentSize").Int(e.options.SegmentSize)
	general.Name("HugeThreshold").Int(e.options.HugeThreshold)
	general.Name("CachedSegmentCount").Int(e.options.CachedSegmentCount)
	general.Name("MemoryLimit").Int(e.options.MemoryLimit)
	general.Name("PageSize").Int(e.source.PageSize())
	general.End()

	var total memutils.DetailedStatistics
	total.Clear()

	heaps := objState.Name("Heaps").Array()
	e.VisitHeaps(func(heap *Heap) bool {
		heapObj := heaps.Object()
		heap.printJson(&heapObj, detailedMap, &total)
		heapObj.End()
		return true
	})
	heaps.End()

	totalObj := objState.Name("Total").Object()
	total.PrintJson(&totalObj)
	totalObj.End()

	objState.End()

	return string(writer.Bytes())
}

func (h *Heap) printJson(json *jwriter.ObjectState, detailedMap bool, total *memutils.DetailedStatistics) {
	h.list.mutex.Lock()
	defer h.list.mutex.Unlock()

	json.Name("ID").Int(h.id)
	json.Name("Shared").Bool(h.shared)
	json.Name("SegmentCount").Int(h.list.SegmentCount())
	json.Name("HugeSegmentCount").Int(h.list.HugeCount())

	var stats memutils.DetailedStatistics
	stats.Clear()
	h.list.AddDetailedStatistics(&stats)
	total.AddDetailedStatistics(&stats)

	statsObj := json.Name("Stats").Object()
	stats.PrintJson(&statsObj)
	statsObj.End()

	if detailedMap {
		h.list.PrintDetailedMap(json)
	}
}

func (l *segmentList) PrintDetailedMap(json *jwriter.ObjectState) {
	segments := json.Name("Segments").Object()
	defer segments.End()

	l.VisitSegments(func(seg *segment) bool {
		segObj := segments.Name(strconv.Itoa(seg.id)).Object()
		defer segObj.End()

		if seg.huge {
			segObj.Name("Huge").Bool(true)
			segObj.Name("TotalBytes").Int(seg.Size())
			segObj.Name("Offset").Int(seg.hugeOffset)
			segObj.Name("Size").Int(seg.hugeSize)
			return true
		}

		seg.mutex.Lock()
		defer seg.mutex.Unlock()

		seg.metadata.BlockJsonData(&segObj)
		printDetailedMapRegions(seg.metadata, &segObj)
		return true
	})
}

func printDetailedMapRegions(md metadata.BlockMetadata, json *jwriter.ObjectState) {
	arrayState := json.Name("Suballocations").Array()
	defer arrayState.End()

	_ = md.VisitAllRegions(
		func(handle metadata.BlockAllocationHandle, offset int, size int, free bool) error {
			obj := arrayState.Object()
			defer obj.End()

			obj.Name("Offset").Int(offset)
			if free {
				obj.Name("Type").String("Free")
			} else {
				obj.Name("Type").String("Used")
			}
			obj.Name("Size").Int(size)

			return nil
		})
}
