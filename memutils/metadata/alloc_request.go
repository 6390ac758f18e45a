package metadata

// AllocationRequest is returned from BlockMetadata.CreateAllocationRequest and indicates where
// the metadata intends to place a new allocation. It can be inspected by the consumer, and is
// then committed to the metadata with BlockMetadata.Alloc
type AllocationRequest struct {
	// RequestedSize is the size in bytes that was originally requested
	RequestedSize int
	// Class is the class whose ledger will record the allocation
	Class int
	// Index is the first ledger bit of the run the allocation will occupy
	Index int
	// Offset is the offset in bytes of the allocation from the start of the region
	Offset int
	// Size is the block size of Class, which may be larger than RequestedSize
	Size int
}
