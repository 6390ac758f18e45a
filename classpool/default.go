package classpool

import (
	"sync"
)

var (
	defaultPool     *Pool
	defaultPoolOnce sync.Once
)

// Default returns the process-wide pool used by Init, Allocate and Deallocate. It is created on
// first use with the reference geometry and is internally synchronized.
func Default() *Pool {
	defaultPoolOnce.Do(func() {
		pool, err := New(nil, CreateOptions{})
		if err != nil {
			// The reference geometry is always valid
			panic(err)
		}
		defaultPool = pool
	})

	return defaultPool
}

// Init resets the default pool to the all-free state. It must be called once before the first
// Allocate or Deallocate. Calling it later forgets every live allocation without any notification.
func Init() {
	Default().Init()
}

// Allocate reserves a block of at least size bytes from the default pool
func Allocate(size int) (Address, error) {
	return Default().Allocate(size)
}

// Deallocate returns a block to the default pool. An address that was not handed out by Allocate
// leaves the pool untouched and is reported through the returned error.
func Deallocate(address Address) error {
	return Default().Free(address)
}
