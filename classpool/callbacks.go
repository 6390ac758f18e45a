package classpool

// AllocateCallback is called after a block has been handed out by a Pool. size is the block size of
// class, not the number of bytes that were requested.
type AllocateCallback func(
	pool *Pool,
	address Address,
	class int,
	size int,
	userData interface{},
)

// FreeCallback is called after a block has been returned to a Pool
type FreeCallback func(
	pool *Pool,
	address Address,
	class int,
	size int,
	userData interface{},
)

// AllocationCallbacks is an optional set of callbacks executed by a Pool. They run while the pool
// is locked and must not call back into it.
type AllocationCallbacks struct {
	Allocate AllocateCallback
	Free     FreeCallback
	UserData interface{}
}

type poolCallbacks struct {
	Callbacks *AllocationCallbacks
	Pool      *Pool
}

func (c *poolCallbacks) Allocate(
	address Address,
	class int,
	size int,
) {
	if c.Callbacks != nil && c.Callbacks.Allocate != nil {
		c.Callbacks.Allocate(c.Pool, address, class, size, c.Callbacks.UserData)
	}
}

func (c *poolCallbacks) Free(
	address Address,
	class int,
	size int,
) {
	if c.Callbacks != nil && c.Callbacks.Free != nil {
		c.Callbacks.Free(c.Pool, address, class, size, c.Callbacks.UserData)
	}
}
