package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/blockpool/memutils"
)

// BlockMetadata represents the bookkeeping for a single fixed region of memory. It manages
// allocations within the region, allowing them to be requested and freed, as well as
// enumerated and queried. It never reads or writes the region itself.
type BlockMetadata interface {
	// Init must be called before the BlockMetadata is used. It resets the metadata to the
	// state in which the whole region is free. Calling it while allocations are live forgets
	// them without any notification.
	Init()
	// Size retrieves the size in bytes of the managed region
	Size() int

	// Validate performs internal consistency checks on the metadata. When the implementation
	// is functioning correctly, it should not be possible for this method to return an error.
	Validate() error
	// AllocationCount returns the number of allocations currently live in the region
	AllocationCount() int
	// SumFreeSize returns the number of bytes in the region not covered by a live allocation
	SumFreeSize() int
	// IsEmpty will return true if this region has no live allocations
	IsEmpty() bool

	// VisitAllRegions will call the provided callback once for each allocation and each maximal
	// free range in the region, in ascending offset order. class is -1 for free ranges.
	VisitAllRegions(handleRegion func(offset int, size int, class int, free bool) error) error

	// AddDetailedStatistics sums this region's allocation statistics into the provided object
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this region's allocation statistics into the provided object
	AddStatistics(stats *memutils.Statistics)
	// BlockJsonData populates a json object with information about this region
	BlockJsonData(json *jwriter.ObjectState)

	// CreateAllocationRequest retrieves an AllocationRequest indicating where the implementation
	// would place an allocation of allocSize bytes. Nothing is reserved until the request is
	// passed to Alloc.
	CreateAllocationRequest(allocSize int) (AllocationRequest, error)
	// Alloc commits an AllocationRequest. The implementation must return an error if the
	// request is no longer valid, i.e. the run it describes is no longer free.
	Alloc(request AllocationRequest) error
	// Free releases the allocation starting at the provided offset and returns the class it
	// was recorded in. The metadata is left untouched when an error is returned.
	Free(offset int) (int, error)
}

// BlockMetadataBase is a simple struct that provides a few shared utilities for BlockMetadata
// implementations.
type BlockMetadataBase struct {
	size int
}

// NewBlockMetadata creates a new BlockMetadataBase for a region of the provided size in bytes
func NewBlockMetadata(size int) BlockMetadataBase {
	return BlockMetadataBase{
		size: size,
	}
}

// Size returns the size of the region in bytes
func (m *BlockMetadataBase) Size() int { return m.size }

// BlockJsonData populates a json object with information about this region
func (m *BlockMetadataBase) BlockJsonData(json *jwriter.ObjectState, unusedBytes, allocationCount, unusedRangeCount int) {
	json.Name("TotalBytes").Int(m.Size())
	json.Name("UnusedBytes").Int(unusedBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}
