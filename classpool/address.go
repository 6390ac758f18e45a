package classpool

import "fmt"

// Address is a location in the address space of a Pool
type Address uintptr

func (a Address) String() string {
	return fmt.Sprintf("0x%08x", uintptr(a))
}
