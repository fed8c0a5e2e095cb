package arena

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/mmalloc/memutils"
	"github.com/vkngwrapper/mmalloc/segment"
)

const (
	chunkTypeFree = "FREE"
	chunkTypeUsed = "USED"
)

// Statistics populates a memutils.Statistics object with summary information about the arena.
// It is cheaper than CalculateStatistics because no chunks are visited.
func (a *Arena) Statistics(stats *memutils.Statistics) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	var listStats memutils.Statistics
	a.chunks.AddStatistics(&listStats)

	stats.Clear()
	stats.AddStatistics(&listStats)
}

// CalculateStatistics populates a memutils.DetailedStatistics object by walking every chunk
// in the arena
func (a *Arena) CalculateStatistics(stats *memutils.DetailedStatistics) error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	var listStats memutils.DetailedStatistics
	listStats.Clear()
	err := a.chunks.AddDetailedStatistics(&listStats)
	if err != nil {
		return err
	}

	stats.Clear()
	stats.AddDetailedStatistics(&listStats)
	return nil
}

// BuildStatsString returns a JSON document describing the arena. When detailed is true, every
// chunk is listed along with the summary.
func (a *Arena) BuildStatsString(detailed bool) string {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	var stats memutils.DetailedStatistics
	stats.Clear()
	statsErr := a.chunks.AddDetailedStatistics(&stats)

	writer := jwriter.NewWriter()
	obj := writer.Object()

	general := obj.Name("General").Object()
	general.Name("Flags").String(a.createFlags.String())
	general.Name("Start").String(fmt.Sprintf("%#x", uintptr(a.chunks.Start())))
	general.Name("End").String(fmt.Sprintf("%#x", uintptr(a.chunks.End())))
	general.Name("MaxArenaBytes").Int(a.maxArenaBytes)
	general.End()

	total := obj.Name("Total").Object()
	printDetailedStatistics(&total, &stats)
	total.End()

	arenaObj := obj.Name("Arena").Object()
	a.chunks.ChunkListJsonData(&arenaObj)
	if detailed {
		a.printDetailedMap(&arenaObj)
	}
	arenaObj.End()

	if statsErr != nil {
		obj.Name("Error").String(statsErr.Error())
	}

	obj.End()
	return string(writer.Bytes())
}

func printDetailedStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("ChunkCount").Int(stats.ChunkCount)
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)
	json.Name("ArenaBytes").Int(stats.ArenaBytes)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)

	if stats.AllocationCount > 0 {
		json.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}

	if stats.UnusedRangeCount > 0 {
		json.Name("UnusedRangeSizeMin").Int(stats.UnusedRangeSizeMin)
		json.Name("UnusedRangeSizeMax").Int(stats.UnusedRangeSizeMax)
	}
}

func (a *Arena) printDetailedMap(json *jwriter.ObjectState) {
	arrayState := json.Name("ChunkMap").Array()
	defer arrayState.End()

	start := a.chunks.Start()
	_ = a.chunks.VisitAllChunks(func(addr segment.Address, size int, requested int, free bool) error {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(int(addr - start))
		obj.Name("Size").Int(size)

		if free {
			obj.Name("Type").String(chunkTypeFree)
			return nil
		}

		obj.Name("Type").String(chunkTypeUsed)
		obj.Name("Handle").String(handleFor(addr).String())
		obj.Name("RequestedSize").Int(requested)
		return nil
	})
}
