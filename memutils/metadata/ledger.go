package metadata

import (
	"fmt"
	"math"
	"math/bits"
	"strings"
)

const (
	// ContainerBits is the width of a single ledger container. Containers exist only to bound
	// the cost of a search: a full container is skipped with one comparison.
	ContainerBits = 16

	fullContainer uint16 = math.MaxUint16
)

// Ledger is the occupancy bitmap of a single size class. Bit i set means base block i of the
// pool is covered by an allocation made in this class.
type Ledger struct {
	containers []uint16
}

// NewLedger creates an empty ledger holding the provided number of bits, which must be a
// multiple of ContainerBits
func NewLedger(slots int) Ledger {
	return Ledger{
		containers: make([]uint16, slots/ContainerBits),
	}
}

// Len is the number of bits in the ledger
func (l Ledger) Len() int { return len(l.containers) * ContainerBits }

func (l Ledger) ContainerCount() int { return len(l.containers) }

func (l Ledger) Container(index int) uint16 { return l.containers[index] }

// Clear marks every bit in the ledger as free
func (l *Ledger) Clear() {
	for i := range l.containers {
		l.containers[i] = 0
	}
}

func (l Ledger) IsSet(index int) bool {
	return l.containers[index/ContainerBits]&(1<<(index%ContainerBits)) != 0
}

// OccupiedCount is the number of set bits in the ledger
func (l Ledger) OccupiedCount() int {
	count := 0
	for _, container := range l.containers {
		count += bits.OnesCount16(container)
	}
	return count
}

func runMask(bit, length int) uint16 {
	if length >= ContainerBits {
		return fullContainer
	}
	return uint16((1<<length)-1) << bit
}

// visitRun calls visit once for every container touched by the run, along with the mask of
// bits the run covers in that container
func (l Ledger) visitRun(index, length int, visit func(container int, mask uint16) bool) {
	for length > 0 {
		container := index / ContainerBits
		bit := index % ContainerBits
		span := ContainerBits - bit
		if span > length {
			span = length
		}

		if !visit(container, runMask(bit, span)) {
			return
		}

		index += span
		length -= span
	}
}

// RunIsClear reports whether every bit in [index, index+length) is free
func (l Ledger) RunIsClear(index, length int) bool {
	free := true
	l.visitRun(index, length, func(container int, mask uint16) bool {
		free = l.containers[container]&mask == 0
		return free
	})
	return free
}

// RunIsSet reports whether every bit in [index, index+length) is occupied
func (l Ledger) RunIsSet(index, length int) bool {
	set := true
	l.visitRun(index, length, func(container int, mask uint16) bool {
		set = l.containers[container]&mask == mask
		return set
	})
	return set
}

func (l *Ledger) SetRun(index, length int) {
	l.visitRun(index, length, func(container int, mask uint16) bool {
		l.containers[container] |= mask
		return true
	})
}

func (l *Ledger) ClearRun(index, length int) {
	l.visitRun(index, length, func(container int, mask uint16) bool {
		l.containers[container] &^= mask
		return true
	})
}

// String renders the ledger as space-separated hexadecimal containers, lowest container first
func (l Ledger) String() string {
	var sb strings.Builder
	for i, container := range l.containers {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%04x", container)
	}
	return sb.String()
}
