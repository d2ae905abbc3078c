package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/framegraph/memutils"
)

// BlockMetadata represents a single heap page. It manages placements within the page, allowing
// placements to be requested and freed, as well as enumerated and queried. It knows nothing about
// the memory itself: a heap page backend consults it for an offset and binds the resource there.
type BlockMetadata interface {
	// Init must be called before the BlockMetadata is used. It gives the implementation an opportunity
	// to prepare its structures and informs it of the size in bytes of the page it will be managing.
	Init(size int)
	// Size retrieves the size in bytes that the block was initialized with
	Size() int

	// Validate performs internal consistency checks on the metadata. When the implementation is
	// functioning correctly, it should not be possible for this method to return an error.
	Validate() error
	// AllocationCount returns the number of placements currently live in the block
	AllocationCount() int
	// FreeRegionsCount returns the number of unique regions of free memory in the block. Adjacent
	// free regions are always merged, so two free regions are never neighbors.
	FreeRegionsCount() int
	// SumFreeSize returns the number of free bytes of memory in the block.
	SumFreeSize() int
	// MayHaveFreeBlock is a fast heuristic indicating whether the block could possibly hold a new
	// placement of the provided size. It never produces false negatives.
	MayHaveFreeBlock(size int) bool
	// IsEmpty will return true if this block has no live placements
	IsEmpty() bool

	// VisitAllRegions will call the provided callback once for each placement and free region in
	// the block, in offset order.
	VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error

	// AllocationOffset returns the offset in bytes of a live placement. The implementation must return
	// an error if the handle does not map to a live placement.
	AllocationOffset(allocHandle BlockAllocationHandle) (int, error)
	// AllocationUserData returns the userdata value provided by the consumer for a live placement.
	AllocationUserData(allocHandle BlockAllocationHandle) (any, error)
	// SetAllocationUserData replaces the userdata value of a live placement.
	SetAllocationUserData(allocHandle BlockAllocationHandle, userData any) error

	// AddDetailedStatistics sums this block's statistics into the provided memutils.DetailedStatistics object.
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this block's statistics into the provided memutils.Statistics object.
	AddStatistics(stats *memutils.Statistics)

	// Clear instantly frees all placements
	Clear()
	// BlockJsonData populates a json object with information about this block
	BlockJsonData(json *jwriter.ObjectState)

	// CreateAllocationRequest retrieves an AllocationRequest object indicating where the implementation
	// would place the requested memory. That object can be passed to Alloc to commit the placement.
	// The boolean return value is false when no free region can hold the placement; that is not an error.
	//
	// allocSize - the size in bytes of the requested placement
	// allocAlignment - the minimum alignment of the requested placement, a power of two
	// allocType - consumer-defined placement type, stored with the placement
	// strategy - how to choose between several free regions that could hold the placement
	CreateAllocationRequest(
		allocSize int, allocAlignment uint,
		allocType uint32,
		strategy AllocationStrategy,
	) (bool, AllocationRequest, error)
	// Alloc commits an AllocationRequest object. The implementation must return an error if the request
	// is no longer valid: the free region no longer exists or can no longer hold the placement.
	Alloc(request AllocationRequest, allocType uint32, userData any) error

	// Free frees a placement within the block, causing it to become a free region once again.
	//
	// The implementation must return an error if the provided handle does not map to a live placement.
	Free(allocHandle BlockAllocationHandle) error
}

// BlockMetadataBase is a simple struct that provides a few shared utilities for BlockMetadata
// implementations.
type BlockMetadataBase struct {
	size int
}

// Init prepares this structure for placements and sizes the block in bytes based on the parameter size.
func (m *BlockMetadataBase) Init(size int) {
	m.size = size
}

// Size returns the size of the block in bytes
func (m *BlockMetadataBase) Size() int { return m.size }

// BlockJsonData populates a json object with information about this block
func (m *BlockMetadataBase) BlockJsonData(json *jwriter.ObjectState, unusedBytes, allocationCount, unusedRangeCount int) {
	json.Name("TotalBytes").Int(m.Size())
	json.Name("UnusedBytes").Int(unusedBytes)
	json.Name("Placements").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}
