package classpool

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/blockpool/memutils"
)

// ClassStatistics describes the occupancy of a single size class
type ClassStatistics struct {
	Class     int
	BlockSize int
	// TotalUnits is the number of blocks of this class an empty pool can hold
	TotalUnits int
	// FreeUnits is the number of blocks of this class that could be allocated right now. It
	// drops when any class allocates over its blocks, so it is not TotalUnits minus
	// AllocationCount.
	FreeUnits int
	// AllocationCount is the number of live blocks handed out from this class
	AllocationCount int
}

// CalculateStatistics retrieves the current allocation totals for the pool
func (p *Pool) CalculateStatistics() memutils.Statistics {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var stats memutils.Statistics
	p.metadata.AddStatistics(&stats)
	return stats
}

// CalculateDetailedStatistics retrieves allocation totals along with the extents of live blocks and
// free ranges. It walks the whole ledger and is slower than CalculateStatistics.
func (p *Pool) CalculateDetailedStatistics() memutils.DetailedStatistics {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var stats memutils.DetailedStatistics
	stats.Clear()
	p.metadata.AddDetailedStatistics(&stats)
	return stats
}

// ClassStatistics retrieves the occupancy of every size class, smallest class first
func (p *Pool) ClassStatistics() []ClassStatistics {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	table := p.metadata.Table()
	stats := make([]ClassStatistics, table.ClassCount())
	for class := range stats {
		stats[class] = ClassStatistics{
			Class:           class,
			BlockSize:       table.BlockSize(class),
			TotalUnits:      table.UnitCount(class),
			FreeUnits:       p.metadata.FreeCount(class),
			AllocationCount: p.metadata.ClassAllocationCount(class),
		}
	}
	return stats
}

// BuildStatsString renders the state of the pool as a JSON document. When detailed is true, every
// live block and free range is listed as well.
func (p *Pool) BuildStatsString(detailed bool) string {
	stats := p.CalculateStatistics()

	p.mutex.Lock()
	defer p.mutex.Unlock()

	writer := jwriter.NewWriter()
	root := writer.Object()

	root.Name("Id").String(p.id.String())
	root.Name("BaseAddress").String(p.base.String())

	total := root.Name("Total").Object()
	total.Name("PoolBytes").Int(stats.PoolBytes)
	total.Name("AllocationCount").Int(stats.AllocationCount)
	total.Name("AllocationBytes").Int(stats.AllocationBytes)
	total.Name("FreeBytes").Int(stats.FreeBytes())
	total.End()

	poolObj := root.Name("Pool").Object()
	p.metadata.BlockJsonData(&poolObj)
	if detailed {
		p.printDetailedMap(&poolObj)
	}
	poolObj.End()

	root.End()
	return string(writer.Bytes())
}

func (p *Pool) printDetailedMap(json *jwriter.ObjectState) {
	arrayState := json.Name("Regions").Array()
	defer arrayState.End()

	_ = p.metadata.VisitAllRegions(func(offset int, size int, class int, free bool) error {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(offset)
		obj.Name("Address").String((p.base + Address(offset)).String())
		obj.Name("Size").Int(size)

		if free {
			obj.Name("Type").String("FREE")
			return nil
		}

		obj.Name("Type").String("ALLOCATION")
		obj.Name("Class").Int(class)

		userData := p.lookupUserData(p.base + Address(offset))
		if userData != nil {
			obj.Name("CustomData").String(fmt.Sprintf("%+v", userData))
		}
		return nil
	})
}
