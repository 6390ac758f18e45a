package classpool

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/google/uuid"
	"github.com/vkngwrapper/blockpool/classpool/internal/utils"
	"github.com/vkngwrapper/blockpool/memutils"
	"github.com/vkngwrapper/blockpool/memutils/metadata"
	"golang.org/x/exp/slog"
)

// Pool hands out power-of-two blocks of a single fixed region. All bookkeeping lives outside the
// region, and the region itself is never read or written.
//
// Pools are independent of one another: several can coexist, each with its own ledgers. Unless
// created with CreateExternallySynchronized, a single mutex serializes every call.
type Pool struct {
	id        uuid.UUID
	logger    *slog.Logger
	mutex     utils.OptionalMutex
	flags     CreateFlags
	callbacks poolCallbacks

	base     Address
	memory   []byte
	metadata *metadata.SizeClassMetadata
	userData *swiss.Map[Address, any]
}

// ID returns the identity this pool reports in its logs and statistics
func (p *Pool) ID() uuid.UUID { return p.id }

// BaseAddress returns the address of the first byte of the pool
func (p *Pool) BaseAddress() Address { return p.base }

// Size returns the size of the pool in bytes
func (p *Pool) Size() int { return p.metadata.Size() }

// Table returns the size-class table of the pool
func (p *Pool) Table() metadata.SizeClassTable { return p.metadata.Table() }

// Contains reports whether the provided address lies within the pool
func (p *Pool) Contains(address Address) bool {
	return address >= p.base && address-p.base < Address(p.metadata.Size())
}

// Init resets the pool so that every block is free. It is called by New, and calling it again is
// harmless while the pool is empty. Calling it while allocations are live forgets them: their
// addresses may be handed out again, and freeing them afterwards fails with memutils.ErrDoubleFree.
func (p *Pool) Init() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.logger.Debug("Pool::Init", slog.Int("ForgottenAllocations", p.metadata.AllocationCount()))

	p.metadata.Init()
	p.userData = nil
}

// Allocate reserves a block of at least size bytes and returns its address. The block is not
// zeroed.
//
// It fails with memutils.ErrRequestTooLarge when size exceeds the largest size class,
// memutils.ErrInvalidRequest when size is less than one, and memutils.ErrExhausted when no block
// large enough is free. memutils.ErrLedgerCorrupt indicates an internal inconsistency in the pool.
func (p *Pool) Allocate(size int) (Address, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.logger.Debug("Pool::Allocate", slog.Int("Size", size))

	request, err := p.metadata.CreateAllocationRequest(size)
	if err != nil {
		p.logFailure("allocation failed", err, slog.Int("Size", size))
		return 0, err
	}

	err = p.metadata.Alloc(request)
	if err != nil {
		p.logFailure("allocation failed", err, slog.Int("Size", size))
		return 0, err
	}

	address := p.base + Address(request.Offset)
	p.callbacks.Allocate(address, request.Class, request.Size)

	p.logger.Debug("    Allocated block",
		slog.String("Address", address.String()),
		slog.Int("Class", request.Class),
		slog.Int("BlockSize", request.Size),
	)

	return address, nil
}

// Free returns a block previously handed out by Allocate. The block is not scrubbed.
//
// It fails with memutils.ErrInvalidAddress when address is outside the pool or does not point to
// the start of a block, and memutils.ErrDoubleFree when the block is not allocated. The pool is
// unchanged when an error is returned.
func (p *Pool) Free(address Address) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.logger.Debug("Pool::Free", slog.String("Address", address.String()))

	if !p.Contains(address) {
		err := errors.Wrapf(memutils.ErrInvalidAddress, "address %s is outside the pool", address)
		p.logFailure("free failed", err, slog.String("Address", address.String()))
		return err
	}

	class, err := p.metadata.Free(int(address - p.base))
	if err != nil {
		p.logFailure("free failed", err, slog.String("Address", address.String()))
		return err
	}

	if p.userData != nil {
		p.userData.Delete(address)
	}

	p.callbacks.Free(address, class, p.metadata.Table().BlockSize(class))
	return nil
}

// logFailure reports ledger corruption at error level. Every other failure is an expected
// outcome for the caller to handle, and only shows up in debug output.
func (p *Pool) logFailure(msg string, err error, attrs ...slog.Attr) {
	level := slog.LevelDebug
	if errors.Is(err, memutils.ErrLedgerCorrupt) {
		level = slog.LevelError
	}

	attrs = append(attrs, slog.Any("error", err))
	p.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// allocationOffset verifies that a live block starts at the provided address and returns its
// offset and class. The pool must be locked.
func (p *Pool) allocationOffset(address Address) (int, int, error) {
	if !p.Contains(address) {
		return -1, -1, errors.Wrapf(memutils.ErrInvalidAddress, "address %s is outside the pool", address)
	}

	offset := int(address - p.base)
	class, err := p.metadata.AllocationClass(offset)
	if err != nil {
		return -1, -1, err
	}

	return offset, class, nil
}

// BlockSize returns the size of the live block starting at the provided address
func (p *Pool) BlockSize(address Address) (int, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	_, class, err := p.allocationOffset(address)
	if err != nil {
		return 0, err
	}

	return p.metadata.Table().BlockSize(class), nil
}

// Bytes returns a view of the backing memory for the live block starting at the provided address.
// The pool must have been created with CreateOptions.Memory.
func (p *Pool) Bytes(address Address) ([]byte, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.memory == nil {
		return nil, errors.New("the pool was created without backing memory")
	}

	offset, class, err := p.allocationOffset(address)
	if err != nil {
		return nil, err
	}

	end := offset + p.metadata.Table().BlockSize(class)
	return p.memory[offset:end:end], nil
}

// SetAllocationUserData attaches an arbitrary value to the live block starting at the provided
// address. The value is dropped when the block is freed.
func (p *Pool) SetAllocationUserData(address Address, userData any) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	_, _, err := p.allocationOffset(address)
	if err != nil {
		return err
	}

	if p.userData == nil {
		p.userData = swiss.NewMap[Address, any](16)
	}

	if userData == nil {
		p.userData.Delete(address)
		return nil
	}

	p.userData.Put(address, userData)
	return nil
}

// AllocationUserData retrieves the value attached to the live block starting at the provided
// address with SetAllocationUserData, or nil if there is none
func (p *Pool) AllocationUserData(address Address) (any, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	_, _, err := p.allocationOffset(address)
	if err != nil {
		return nil, err
	}

	return p.lookupUserData(address), nil
}

func (p *Pool) lookupUserData(address Address) any {
	if p.userData == nil {
		return nil
	}

	userData, _ := p.userData.Get(address)
	return userData
}

// Validate performs internal consistency checks on the pool's ledgers. It should not be possible
// for it to return an error.
func (p *Pool) Validate() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.metadata.Validate()
}

// Destroy verifies that every block has been returned to the pool. Each block that is still live
// is logged, and an error is returned. The pool should not be used after Destroy succeeds.
func (p *Pool) Destroy() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.metadata.IsEmpty() {
		err := p.metadata.VisitAllRegions(func(offset int, size int, class int, free bool) error {
			if free {
				return nil
			}

			p.logUnreleasedMemory(p.base+Address(offset), size, class)
			return nil
		})
		if err != nil {
			p.logger.LogAttrs(context.Background(),
				slog.LevelError,
				"[UNRELEASED MEMORY] error while iterating unreleased memory",
				slog.Any("error", err))
		}

		return errors.Newf("%d allocations were not freed before the destruction of this pool", p.metadata.AllocationCount())
	}

	p.memory = nil
	p.userData = nil
	return nil
}

func (p *Pool) logUnreleasedMemory(address Address, size, class int) {
	p.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
		slog.String("address", address.String()),
		slog.Int("size", size),
		slog.Int("class", class),
		slog.Any("userData", p.lookupUserData(address)),
	)
}
