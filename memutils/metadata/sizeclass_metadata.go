package metadata

import (
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/blockpool/memutils"
)

// SizeClassMetadata is a BlockMetadata implementation that partitions a fixed region into
// power-of-two size classes. Each class has its own ledger and a cached count of free
// allocation units, so an exhausted class is rejected without scanning its ledger.
//
// All classes tile the same region: bit i of every ledger stands for base block i of the
// region. A run is only handed out when it is clear in every ledger, so live allocations never
// overlap and every allocated offset is owned by exactly one class.
//
// SizeClassMetadata is not safe for concurrent use. Consumers must serialize every call.
type SizeClassMetadata struct {
	BlockMetadataBase

	table      SizeClassTable
	ledgers    []Ledger
	freeCounts []int
	allocCount int
}

var _ BlockMetadata = &SizeClassMetadata{}

// NewSizeClassMetadata creates the ledgers and free-count cache for the provided table. The
// metadata must be initialized with Init before use.
func NewSizeClassMetadata(table SizeClassTable) *SizeClassMetadata {
	m := &SizeClassMetadata{
		BlockMetadataBase: NewBlockMetadata(table.PoolSize()),
		table:             table,
		ledgers:           make([]Ledger, table.ClassCount()),
		freeCounts:        make([]int, table.ClassCount()),
	}

	for class := range m.ledgers {
		m.ledgers[class] = NewLedger(table.SlotsPerClass())
	}

	return m
}

// Table returns the size-class table this metadata was created from
func (m *SizeClassMetadata) Table() SizeClassTable { return m.table }

// Init marks the entire region free: every ledger is zeroed and every free count is set to the
// class's unit count. It is idempotent, but calling it while allocations are live forgets them.
func (m *SizeClassMetadata) Init() {
	for class := range m.ledgers {
		m.ledgers[class].Clear()
		m.freeCounts[class] = m.table.UnitCount(class)
	}
	m.allocCount = 0
}

// Clear instantly frees all allocations. It is equivalent to Init.
func (m *SizeClassMetadata) Clear() {
	m.Init()
}

// FreeCount returns the number of aligned runs of the provided class that are free in every
// ledger. Because all classes share the region, an allocation in any class lowers the count of
// every class whose runs it touches, not only its own. An allocation of class d takes
// 1<<(d-c) units from each smaller class c and at most one unit from each larger class.
func (m *SizeClassMetadata) FreeCount(class int) int {
	return m.freeCounts[class]
}

// Ledger returns a copy of the provided class's ledger
func (m *SizeClassMetadata) Ledger(class int) Ledger {
	ledger := NewLedger(m.table.SlotsPerClass())
	copy(ledger.containers, m.ledgers[class].containers)
	return ledger
}

// ClassAllocationCount returns the number of live allocations recorded in the provided class
func (m *SizeClassMetadata) ClassAllocationCount(class int) int {
	return m.ledgers[class].OccupiedCount() / m.table.RunLength(class)
}

func (m *SizeClassMetadata) AllocationCount() int {
	return m.allocCount
}

// SumFreeSize returns the number of free bytes in the region. A free class-0 unit is exactly one
// free base block, so the class-0 free count measures the whole region.
func (m *SizeClassMetadata) SumFreeSize() int {
	return m.freeCounts[0] * m.table.BaseBlockSize()
}

func (m *SizeClassMetadata) IsEmpty() bool {
	return m.allocCount == 0
}

// occupied returns the union of every class's ledger for a single container
func (m *SizeClassMetadata) occupied(container int) uint16 {
	var union uint16
	for class := range m.ledgers {
		union |= m.ledgers[class].Container(container)
	}
	return union
}

func (m *SizeClassMetadata) runIsFree(index, length int) bool {
	for class := range m.ledgers {
		if !m.ledgers[class].RunIsClear(index, length) {
			return false
		}
	}
	return true
}

// owner returns the class whose ledger has the provided bit set, along with the number of
// ledgers that have it set
func (m *SizeClassMetadata) owner(index int) (int, int) {
	owner, owners := -1, 0
	for class := range m.ledgers {
		if m.ledgers[class].IsSet(index) {
			if owner < 0 {
				owner = class
			}
			owners++
		}
	}
	return owner, owners
}

// findFreeRun returns the lowest ledger index at which an aligned run of the provided class is
// clear in every ledger
func (m *SizeClassMetadata) findFreeRun(class int) (int, bool) {
	runLength := m.table.RunLength(class)
	containerCount := m.table.SlotsPerClass() / ContainerBits

	if runLength >= ContainerBits {
		step := runLength / ContainerBits

	wholeContainers:
		for container := 0; container < containerCount; container += step {
			for i := container; i < container+step; i++ {
				if m.occupied(i) != 0 {
					continue wholeContainers
				}
			}
			return container * ContainerBits, true
		}

		return 0, false
	}

	mask := uint16(1<<runLength) - 1
	for container := 0; container < containerCount; container++ {
		occupied := m.occupied(container)
		if occupied == fullContainer {
			continue
		}

		// Nothing below the first clear bit can start a run
		bit := memutils.AlignDown(bits.TrailingZeros16(^occupied), uint(runLength))
		for ; bit < ContainerBits; bit += runLength {
			if occupied&(mask<<bit) == 0 {
				return container*ContainerBits + bit, true
			}
		}
	}

	return 0, false
}

func (m *SizeClassMetadata) CreateAllocationRequest(allocSize int) (AllocationRequest, error) {
	var request AllocationRequest

	requestedClass, err := m.table.ClassForSize(allocSize)
	if err != nil {
		return request, err
	}

	// A free run of a larger class always holds free runs of every smaller class, so moving
	// past the requested class never finds room that the requested class lacks. The scan
	// still ends in ErrExhausted rather than trusting that.
	for class := requestedClass; class < m.table.ClassCount(); class++ {
		if m.freeCounts[class] == 0 {
			continue
		}

		index, found := m.findFreeRun(class)
		if !found {
			return request, memutils.LedgerCorruptf("class %d reports %d free units, but its ledger has no free run", class, m.freeCounts[class])
		}

		request.RequestedSize = allocSize
		request.Class = class
		request.Index = index
		request.Offset = (index >> class) * m.table.BlockSize(class)
		request.Size = m.table.BlockSize(class)
		return request, nil
	}

	return request, errors.Wrapf(memutils.ErrExhausted, "requested %d bytes from class %d", allocSize, requestedClass)
}

// countDeltas computes how the free count of every class changes when the aligned run of
// the provided class at the provided index changes state. It must be called while the run is
// free (for an allocation) or after it has been cleared (for a free).
func (m *SizeClassMetadata) countDeltas(class, index int, deltas *[MaxClassCount]int) {
	for other := 0; other < m.table.ClassCount(); other++ {
		if other <= class {
			deltas[other] = 1 << (class - other)
			continue
		}

		runLength := m.table.RunLength(other)
		start := memutils.AlignDown(index, uint(runLength))
		if m.runIsFree(start, runLength) {
			deltas[other] = 1
		} else {
			deltas[other] = 0
		}
	}
}

func (m *SizeClassMetadata) Alloc(request AllocationRequest) error {
	if request.Class < 0 || request.Class >= m.table.ClassCount() {
		return errors.Newf("allocation request names class %d, but the metadata has %d classes", request.Class, m.table.ClassCount())
	}

	runLength := m.table.RunLength(request.Class)
	memutils.DebugCheckPow2(runLength, "run length")
	if request.Index < 0 || request.Index+runLength > m.table.SlotsPerClass() || !memutils.IsAligned(request.Index, uint(runLength)) {
		return errors.Newf("allocation request index %d is not a valid run start for class %d", request.Index, request.Class)
	}

	if !m.runIsFree(request.Index, runLength) {
		return errors.Newf("allocation request at index %d of class %d is no longer free", request.Index, request.Class)
	}

	var deltas [MaxClassCount]int
	m.countDeltas(request.Class, request.Index, &deltas)
	for class := 0; class < m.table.ClassCount(); class++ {
		if m.freeCounts[class] < deltas[class] {
			return memutils.LedgerCorruptf("class %d free count %d would go negative while allocating index %d of class %d",
				class, m.freeCounts[class], request.Index, request.Class)
		}
	}

	m.ledgers[request.Class].SetRun(request.Index, runLength)
	for class := 0; class < m.table.ClassCount(); class++ {
		m.freeCounts[class] -= deltas[class]
	}
	m.allocCount++

	memutils.DebugValidate(m)
	return nil
}

// locate maps an offset to the ledger index and class of the allocation that starts there
func (m *SizeClassMetadata) locate(offset int) (int, int, error) {
	if offset < 0 || offset >= m.Size() {
		return -1, -1, errors.Wrapf(memutils.ErrInvalidAddress, "offset %d is outside of a %d-byte region", offset, m.Size())
	}

	if !memutils.IsAligned(offset, uint(m.table.BaseBlockSize())) {
		return -1, -1, errors.Wrapf(memutils.ErrInvalidAddress, "offset %d is not a multiple of the base block size %d", offset, m.table.BaseBlockSize())
	}

	index := offset / m.table.BaseBlockSize()
	class, owners := m.owner(index)
	switch {
	case owners == 0:
		return -1, -1, errors.Wrapf(memutils.ErrDoubleFree, "offset %d", offset)
	case owners > 1:
		return -1, -1, memutils.LedgerCorruptf("index %d is recorded as allocated in %d classes", index, owners)
	}

	runLength := m.table.RunLength(class)
	if !memutils.IsAligned(index, uint(runLength)) {
		return -1, -1, errors.Wrapf(memutils.ErrInvalidAddress, "offset %d is inside a class %d block", offset, class)
	}

	if !m.ledgers[class].RunIsSet(index, runLength) {
		return -1, -1, memutils.LedgerCorruptf("class %d run at index %d is only partially allocated", class, index)
	}

	return index, class, nil
}

// AllocationClass returns the class of the live allocation starting at the provided offset. It
// fails with memutils.ErrDoubleFree when no allocation covers the offset, and with
// memutils.ErrInvalidAddress when the offset is outside the region or inside an allocation.
func (m *SizeClassMetadata) AllocationClass(offset int) (int, error) {
	_, class, err := m.locate(offset)
	return class, err
}

func (m *SizeClassMetadata) Free(offset int) (int, error) {
	index, class, err := m.locate(offset)
	if err != nil {
		return -1, err
	}

	runLength := m.table.RunLength(class)
	m.ledgers[class].ClearRun(index, runLength)

	var deltas [MaxClassCount]int
	m.countDeltas(class, index, &deltas)
	for other := 0; other < m.table.ClassCount(); other++ {
		if m.freeCounts[other]+deltas[other] > m.table.UnitCount(other) {
			// Put the run back so the metadata is left as it was found
			m.ledgers[class].SetRun(index, runLength)
			return -1, memutils.LedgerCorruptf("class %d free count %d would exceed its %d units while freeing index %d of class %d",
				other, m.freeCounts[other], m.table.UnitCount(other), index, class)
		}
	}

	for other := 0; other < m.table.ClassCount(); other++ {
		m.freeCounts[other] += deltas[other]
	}
	m.allocCount--

	memutils.DebugValidate(m)
	return class, nil
}

func (m *SizeClassMetadata) Validate() error {
	classCount := m.table.ClassCount()
	if len(m.ledgers) != classCount || len(m.freeCounts) != classCount {
		return errors.Newf("metadata has %d ledgers and %d free counts for %d classes", len(m.ledgers), len(m.freeCounts), classCount)
	}

	slots := m.table.SlotsPerClass()
	for class := range m.ledgers {
		if m.ledgers[class].Len() != slots {
			return errors.Errorf("the ledger for class %d holds %d bits, but the region has %d base blocks", class, m.ledgers[class].Len(), slots)
		}
	}

	// No bit may be owned by two classes
	for container := 0; container < slots/ContainerBits; container++ {
		var seen uint16
		for class := range m.ledgers {
			word := m.ledgers[class].Container(container)
			if seen&word != 0 {
				return memutils.LedgerCorruptf("container %d of class %d overlaps an allocation of a smaller class", container, class)
			}
			seen |= word
		}
	}

	allocCount := 0
	for class := range m.ledgers {
		runLength := m.table.RunLength(class)
		for index := 0; index < slots; index += runLength {
			if m.ledgers[class].RunIsSet(index, runLength) {
				allocCount++
			} else if !m.ledgers[class].RunIsClear(index, runLength) {
				return memutils.LedgerCorruptf("class %d has a partial run at index %d", class, index)
			}
		}
	}

	if allocCount != m.allocCount {
		return memutils.LedgerCorruptf("the allocation count of the metadata is %d, but the ledgers only hold %d allocations", m.allocCount, allocCount)
	}

	for class := range m.ledgers {
		runLength := m.table.RunLength(class)
		free := 0
		for index := 0; index < slots; index += runLength {
			if m.runIsFree(index, runLength) {
				free++
			}
		}

		if free != m.freeCounts[class] {
			return memutils.LedgerCorruptf("the free count of class %d is %d, but its ledger has %d free runs", class, m.freeCounts[class], free)
		}
	}

	return nil
}

func (m *SizeClassMetadata) VisitAllRegions(handleRegion func(offset int, size int, class int, free bool) error) error {
	baseBlockSize := m.table.BaseBlockSize()
	slots := m.table.SlotsPerClass()

	freeStart := -1
	for index := 0; index < slots; {
		class, owners := m.owner(index)
		if owners == 0 {
			if freeStart < 0 {
				freeStart = index
			}
			index++
			continue
		}

		if freeStart >= 0 {
			err := handleRegion(freeStart*baseBlockSize, (index-freeStart)*baseBlockSize, -1, true)
			if err != nil {
				return err
			}
			freeStart = -1
		}

		if owners > 1 {
			return memutils.LedgerCorruptf("index %d is recorded as allocated in %d classes", index, owners)
		}

		err := handleRegion(index*baseBlockSize, m.table.BlockSize(class), class, false)
		if err != nil {
			return err
		}
		index += m.table.RunLength(class)
	}

	if freeStart >= 0 {
		return handleRegion(freeStart*baseBlockSize, (slots-freeStart)*baseBlockSize, -1, true)
	}

	return nil
}

func (m *SizeClassMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.PoolCount++
	stats.PoolBytes += m.Size()

	_ = m.VisitAllRegions(func(offset int, size int, class int, free bool) error {
		if free {
			stats.AddFreeRange(size)
		} else {
			stats.AddAllocation(size)
		}
		return nil
	})
}

func (m *SizeClassMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.PoolCount++
	stats.AllocationCount += m.allocCount
	stats.PoolBytes += m.Size()
	stats.AllocationBytes += m.Size() - m.SumFreeSize()
}

func (m *SizeClassMetadata) BlockJsonData(json *jwriter.ObjectState) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	m.AddDetailedStatistics(&stats)

	m.BlockMetadataBase.BlockJsonData(json, m.SumFreeSize(), m.allocCount, stats.FreeRangeCount)

	classes := json.Name("Classes").Array()
	defer classes.End()

	for class := range m.ledgers {
		obj := classes.Object()
		obj.Name("BlockSize").Int(m.table.BlockSize(class))
		obj.Name("TotalUnits").Int(m.table.UnitCount(class))
		obj.Name("FreeUnits").Int(m.freeCounts[class])
		obj.Name("Allocations").Int(m.ClassAllocationCount(class))
		obj.Name("Ledger").String(m.ledgers[class].String())
		obj.End()
	}
}
