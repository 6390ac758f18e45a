package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/pkg/errors"
)

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

var (
	// ErrInvalidRequest is returned when an allocation is requested for zero or a negative number of bytes
	ErrInvalidRequest = cerrors.New("allocation size must be at least one byte")
	// ErrRequestTooLarge is returned when the requested size exceeds the block size of the largest size class
	ErrRequestTooLarge = cerrors.New("requested size exceeds the largest size class")
	// ErrExhausted is returned when no eligible size class has a free run left
	ErrExhausted = cerrors.New("no free block available in any eligible size class")
	// ErrLedgerCorrupt marks an internal invariant violation: the free-count cache and the
	// ledger bitmaps disagree with each other. It is never the result of caller misuse.
	ErrLedgerCorrupt = cerrors.New("ledger is corrupt")
	// ErrInvalidAddress is returned when a freed address is outside the pool or does not
	// point to the start of an allocation
	ErrInvalidAddress = cerrors.New("address does not point to the start of an allocation in this pool")
	// ErrDoubleFree is returned when a freed address points at a block that is not allocated
	ErrDoubleFree = cerrors.New("block is already free")
)

// LedgerCorruptf builds an assertion failure marked with ErrLedgerCorrupt, so that it can be
// detected both with errors.Is(err, ErrLedgerCorrupt) and errors.HasAssertionFailure. The mark wraps
// the assertion failure, so errors.IsAssertionFailure on the returned error is false.
func LedgerCorruptf(format string, args ...interface{}) error {
	return cerrors.Mark(cerrors.AssertionFailedf(format, args...), ErrLedgerCorrupt)
}
