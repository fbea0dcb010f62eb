package malloc

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/brkalloc/memutils"
	"github.com/vkngwrapper/brkalloc/memutils/metadata"
)

// BuildStatsString returns a JSON document describing the allocator: its configuration, its running
// counters, and a summary of the region. If detailedMap is true, every block in the region is listed
// as well, in address order.
func (a *Allocator) BuildStatsString(detailedMap bool) string {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("Strategy").String(a.finder.Strategy().String())
	obj.Name("Flags").String(a.createFlags.String())

	counters := obj.Name("Counters").Object()
	writeCounters(&counters, a.counters)
	counters.End()

	regionObj := obj.Name("Region").Object()
	a.ledger.BlockJsonData(regionObj)
	regionObj.End()

	if detailedMap {
		a.printDetailedMap(&obj)
	}

	obj.End()

	return string(writer.Bytes())
}

func writeCounters(json *jwriter.ObjectState, counters memutils.Counters) {
	json.Name("Allocations").Int(counters.Allocations)
	json.Name("Frees").Int(counters.Frees)
	json.Name("Reuses").Int(counters.Reuses)
	json.Name("Grows").Int(counters.Grows)
	json.Name("Splits").Int(counters.Splits)
	json.Name("Coalesces").Int(counters.Coalesces)
	json.Name("Blocks").Int(counters.Blocks)
	json.Name("RequestedBytes").Int(counters.RequestedBytes)
	json.Name("PeakRegionBytes").Int(counters.PeakRegionBytes)
	json.Name("FreeBlocksReused").Float64(counters.FreeBlocksReused())
}

func (a *Allocator) printDetailedMap(json *jwriter.ObjectState) {
	arrayState := json.Name("Blocks").Array()
	defer arrayState.End()

	_ = a.ledger.VisitAllRegions(func(block metadata.BlockOffset, size int, free bool) error {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(int(block))
		obj.Name("Size").Int(size)

		if free {
			obj.Name("Type").String("Free")
			return nil
		}

		obj.Name("Type").String("InUse")
		p := Pointer(a.ledger.PayloadOffset(block))
		requested, ok := a.live.Get(p)
		if ok {
			obj.Name("Pointer").Int(int(p))
			obj.Name("RequestedBytes").Int(requested)
		}

		return nil
	})
}
