package arena

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/arenas/memutils"
)

// RegionVisitor is called by VisitAllRegions once per block. For in-use blocks, offset and size
// describe the whole block, including any padding in front of the aligned allocation.
type RegionVisitor func(token AllocationToken, offset int, size int, userData any, free bool) error

// VisitAllRegions calls handleRegion once for each block in the arena, in offset order, stopping
// at the first error returned.
func (a *Arena) VisitAllRegions(handleRegion RegionVisitor) error {
	if a.destroyed {
		return nil
	}

	for slot := a.blocks.head; slot != noBlock; slot = a.blocks.blocks[slot].next {
		b := &a.blocks.blocks[slot]
		err := handleRegion(b.token, b.offset, b.size, b.userData, !b.inUse)
		if err != nil {
			return err
		}
	}

	return nil
}

// AddStatistics sums this arena's totals into stats
func (a *Arena) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.AllocationCount += a.allocCount
	stats.BlockBytes += a.size
	stats.AllocationBytes += a.size - a.blocks.freeBytes
}

// AddDetailedStatistics sums this arena's totals and the size of every block into stats
func (a *Arena) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += a.size

	for slot := a.blocks.head; !a.destroyed && slot != noBlock; slot = a.blocks.blocks[slot].next {
		b := &a.blocks.blocks[slot]
		if b.inUse {
			stats.AddAllocation(b.size)
		} else {
			stats.AddUnusedRange(b.size)
		}
	}
}

// BlockJsonData populates a json object with summary information about this arena
func (a *Arena) BlockJsonData(json *jwriter.ObjectState) {
	if a.name != "" {
		json.Name("Name").String(a.name)
	}
	json.Name("MemoryTypeIndex").Int(a.memoryTypeIndex)
	json.Name("HostVisible").Bool(a.IsHostVisible())
	json.Name("TotalBytes").Int(a.size)
	json.Name("UnusedBytes").Int(a.blocks.freeBytes)
	json.Name("Allocations").Int(a.allocCount)
	json.Name("UnusedRanges").Int(a.FreeRegionsCount())
}

// PrintDetailedMap writes a json object with summary information about this arena and
// a list of every block in it
func (a *Arena) PrintDetailedMap(writer *jwriter.Writer) {
	objState := writer.Object()
	defer objState.End()

	a.BlockJsonData(&objState)
	a.printDetailedMapRegions(&objState)
}

func (a *Arena) printDetailedMapRegions(json *jwriter.ObjectState) {
	arrayState := json.Name("Suballocations").Array()
	defer arrayState.End()

	for slot := a.blocks.head; !a.destroyed && slot != noBlock; slot = a.blocks.blocks[slot].next {
		b := &a.blocks.blocks[slot]

		obj := arrayState.Object()
		obj.Name("Offset").Int(b.offset)
		obj.Name("Size").Int(b.size)

		if !b.inUse {
			obj.Name("Type").String("FREE")
			obj.End()
			continue
		}

		obj.Name("Type").String("USED")
		obj.Name("Token").Int(int(b.token))
		obj.Name("AlignedOffset").Int(b.alignedOffset)
		obj.Name("RequestedSize").Int(b.requestedSize)
		if b.userData != nil {
			obj.Name("CustomData").String(fmt.Sprintf("%+v", b.userData))
		}
		obj.End()
	}
}
