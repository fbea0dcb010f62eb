package metadata

// AllocationRequestType is an enum that indicates how a free block will be used to satisfy a request.
// It is returned in AllocationRequest from CreateAllocationRequest
type AllocationRequestType uint32

const (
	// AllocationRequestReuse indicates that the whole free block will be handed out unmodified, because
	// the leftover is too small to hold a header of its own
	AllocationRequestReuse AllocationRequestType = iota
	// AllocationRequestSplit indicates that the free block will be shrunk to the requested size and the
	// remainder will become a new free block directly after it
	AllocationRequestSplit
)

var allocationRequestMapping = map[AllocationRequestType]string{
	AllocationRequestReuse: "Reuse",
	AllocationRequestSplit: "Split",
}

func (t AllocationRequestType) String() string {
	return allocationRequestMapping[t]
}

// AllocationRequest is a type returned from Ledger.CreateAllocationRequest which indicates which free block
// the ledger intends to use for a new allocation, and how. It is committed with Ledger.Alloc
type AllocationRequest struct {
	// Block is the free block chosen by the fit strategy
	Block BlockOffset
	// Size is the payload size the block will have once the request is committed, unless the request
	// is a reuse, in which case the block keeps its full size
	Size int
	// Type identifies whether the block will be split
	Type AllocationRequestType
}
