package metadata

// AllocationRequestType is an enum that indicates the type of allocation that is being made.
// It is returned in AllocationRequest from CreateAllocationRequest
type AllocationRequestType uint32

const (
	// AllocationRequestTLSF indicates that the allocation request was sourced from metadata.TLSFBlockMetadata
	AllocationRequestTLSF AllocationRequestType = iota
)

var allocationRequestMapping = map[AllocationRequestType]string{
	AllocationRequestTLSF: "TLSF",
}

func (t AllocationRequestType) String() string {
	return allocationRequestMapping[t]
}

// AllocationRequest is a type returned from BlockMetadata.CreateAllocationRequest which indicates where and how
// the metadata intends to allocate new memory. The consumer commits it with BlockMetadata.Alloc once it has
// decided to go through with the allocation.
type AllocationRequest struct {
	// BlockAllocationHandle is a numeric handle used to identify the free region the allocation will be carved from
	BlockAllocationHandle BlockAllocationHandle
	// Size is the size in bytes of the allocation
	Size int
	// Offset is the offset in bytes within the block at which the allocation will begin. It has already been
	// aligned according to the alignment and alignment bias passed to CreateAllocationRequest.
	Offset int
	// Type identifies the sort of allocation this request represents (and can be used
	// to identify the BlockMetadata implementation used to generate this request).
	Type AllocationRequestType
}
