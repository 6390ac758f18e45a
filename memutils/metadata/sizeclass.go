package metadata

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/blockpool/memutils"
)

// MaxClassCount is the largest number of size classes a SizeClassTable may describe
const MaxClassCount = 16

// SizeClassTable describes how a pool is partitioned into power-of-two size classes.
// Class d serves blocks of BaseBlockSize() << d bytes, and every class tiles the entire
// pool at its own granularity: UnitCount(d) * BlockSize(d) == PoolSize() for all d.
//
// Every class ledger holds SlotsPerClass() bits, one per base-size block of the pool. An
// allocation in class d occupies RunLength(d) == 1 << d consecutive bits, aligned to
// RunLength(d).
type SizeClassTable struct {
	baseBlockSize int
	classCount    int
	slotsPerClass int
}

// NewSizeClassTable validates a pool geometry and builds the table for it
func NewSizeClassTable(poolSize, baseBlockSize, classCount int) (SizeClassTable, error) {
	var table SizeClassTable

	if classCount < 1 || classCount > MaxClassCount {
		return table, errors.Newf("class count must be between 1 and %d, but was %d", MaxClassCount, classCount)
	}

	if baseBlockSize < 1 {
		return table, errors.Newf("base block size must be positive, but was %d", baseBlockSize)
	}

	err := memutils.CheckPow2(baseBlockSize, "base block size")
	if err != nil {
		return table, err
	}

	if poolSize < baseBlockSize || poolSize%baseBlockSize != 0 {
		return table, errors.Newf("pool size %d is not a positive multiple of the base block size %d", poolSize, baseBlockSize)
	}

	slots := poolSize / baseBlockSize
	if slots%ContainerBits != 0 {
		return table, errors.Newf("pool size %d holds %d base blocks, which is not a multiple of the container width %d", poolSize, slots, ContainerBits)
	}

	largestRun := 1 << (classCount - 1)
	if slots%largestRun != 0 {
		return table, errors.Newf("pool size %d holds %d base blocks, which cannot be tiled by %d-block runs of the largest class", poolSize, slots, largestRun)
	}

	table.baseBlockSize = baseBlockSize
	table.classCount = classCount
	table.slotsPerClass = slots

	return table, nil
}

func (t SizeClassTable) ClassCount() int    { return t.classCount }
func (t SizeClassTable) BaseBlockSize() int { return t.baseBlockSize }
func (t SizeClassTable) SlotsPerClass() int { return t.slotsPerClass }
func (t SizeClassTable) PoolSize() int      { return t.slotsPerClass * t.baseBlockSize }

// BlockSize is the number of bytes handed out by a single allocation in the provided class
func (t SizeClassTable) BlockSize(class int) int {
	return t.baseBlockSize << class
}

// MaxBlockSize is the largest request the table can serve
func (t SizeClassTable) MaxBlockSize() int {
	return t.BlockSize(t.classCount - 1)
}

// RunLength is the number of ledger bits a single allocation in the provided class occupies
func (t SizeClassTable) RunLength(class int) int {
	return 1 << class
}

// UnitCount is the number of allocations the provided class can hold when the pool is empty
func (t SizeClassTable) UnitCount(class int) int {
	return t.slotsPerClass >> class
}

// ClassForSize returns the smallest class whose blocks can hold size bytes
func (t SizeClassTable) ClassForSize(size int) (int, error) {
	if size < 1 {
		return -1, errors.Wrapf(memutils.ErrInvalidRequest, "requested %d bytes", size)
	}

	for class := 0; class < t.classCount; class++ {
		if size <= t.BlockSize(class) {
			return class, nil
		}
	}

	return -1, errors.Wrapf(memutils.ErrRequestTooLarge, "requested %d bytes, largest class holds %d", size, t.MaxBlockSize())
}
