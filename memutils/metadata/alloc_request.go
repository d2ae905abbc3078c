package metadata

// AllocationRequest is a type returned from BlockMetadata.CreateAllocationRequest which indicates where and how
// the metadata intends to place new memory. The placement can be applied to the actual memory system consuming
// the metadata, and then committed with BlockMetadata.Alloc
type AllocationRequest struct {
	// BlockAllocationHandle is the handle the placement will be identified by once committed
	BlockAllocationHandle BlockAllocationHandle
	// Size is the total size of the placement
	Size int
	// Item is a Suballocation object indicating basic information about the placement
	Item Suballocation

	// AllocType is the value passed into CreateAllocationRequest by the consumer to generate
	// this request
	AllocType uint32
	// AlgorithmData is arbitrary data used by the BlockMetadata implementation for internal
	// purposes
	AlgorithmData uint64
}
