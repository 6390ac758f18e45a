package classpool

import (
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/vkngwrapper/blockpool/classpool/internal/utils"
	"github.com/vkngwrapper/blockpool/memutils/metadata"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific pool behaviors to activate or deactivate
type CreateFlags int32

const (
	// CreateExternallySynchronized ensures that the pool will not be synchronized internally. The
	// consumer must guarantee it is used from only one goroutine at a time or is synchronized by
	// some other mechanism (on a bare-metal target, by masking interrupts around every call).
	CreateExternallySynchronized CreateFlags = 1 << iota
)

var createFlagsMapping = map[CreateFlags]string{
	CreateExternallySynchronized: "CreateExternallySynchronized",
}

func (f CreateFlags) String() string {
	var names []string
	for flag, name := range createFlagsMapping {
		if f&flag != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}

// The reference pool geometry: a 16KiB region at 0x20004000 served in 128, 256, 512, 1024
// and 2048-byte blocks
const (
	DefaultBaseAddress   Address = 0x20004000
	DefaultPoolSize      int     = 16384
	DefaultBaseBlockSize int     = 128
	DefaultClassCount    int     = 5
)

// CreateOptions contains optional settings when creating a pool. Every zero-valued field is
// replaced with the matching reference value.
type CreateOptions struct {
	// Flags indicates specific pool behaviors to activate or deactivate
	Flags CreateFlags

	// BaseAddress is the address of the first byte of the pool
	BaseAddress Address
	// PoolSize is the size of the pool in bytes
	PoolSize int
	// BaseBlockSize is the block size of the smallest size class. It must be a power of two.
	BaseBlockSize int
	// ClassCount is the number of size classes, each serving blocks twice the size of the previous
	ClassCount int

	// Memory can be left nil. If it is provided, it must be PoolSize bytes long, and it backs the
	// address space of the pool: Pool.Bytes will return views of it. The pool never reads or
	// writes it.
	Memory []byte

	// Callbacks is an optional set of callbacks executed when blocks are handed out and returned
	Callbacks *AllocationCallbacks
}

// New creates a new Pool and initializes it, so it is immediately ready for allocations.
//
// logger - The logger that pool activity is reported to. If nil, pool activity is discarded.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, options CreateOptions) (*Pool, error) {
	if options.BaseAddress == 0 {
		options.BaseAddress = DefaultBaseAddress
	}
	if options.PoolSize == 0 {
		options.PoolSize = DefaultPoolSize
	}
	if options.BaseBlockSize == 0 {
		options.BaseBlockSize = DefaultBaseBlockSize
	}
	if options.ClassCount == 0 {
		options.ClassCount = DefaultClassCount
	}

	table, err := metadata.NewSizeClassTable(options.PoolSize, options.BaseBlockSize, options.ClassCount)
	if err != nil {
		return nil, errors.Wrap(err, "invalid pool geometry")
	}

	if options.BaseAddress > ^Address(0)-Address(options.PoolSize) {
		return nil, errors.Newf("a %d-byte pool at %s would overflow the address space", options.PoolSize, options.BaseAddress)
	}

	if options.Memory != nil && len(options.Memory) != options.PoolSize {
		return nil, errors.Newf("CreateOptions.Memory is %d bytes long, but the pool is %d bytes", len(options.Memory), options.PoolSize)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	id := uuid.New()
	pool := &Pool{
		id:       id,
		logger:   logger.With(slog.String("pool", id.String())),
		mutex:    utils.OptionalMutex{UseMutex: options.Flags&CreateExternallySynchronized == 0},
		flags:    options.Flags,
		base:     options.BaseAddress,
		memory:   options.Memory,
		metadata: metadata.NewSizeClassMetadata(table),
	}
	pool.callbacks = poolCallbacks{
		Callbacks: options.Callbacks,
		Pool:      pool,
	}

	pool.metadata.Init()

	pool.logger.Debug("Pool::New",
		slog.String("BaseAddress", pool.base.String()),
		slog.Int("PoolSize", table.PoolSize()),
		slog.Int("BaseBlockSize", table.BaseBlockSize()),
		slog.Int("ClassCount", table.ClassCount()),
		slog.String("Flags", pool.flags.String()),
	)

	return pool, nil
}
