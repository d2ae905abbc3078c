package metadata

import (
	"sync"
	"sync/atomic"

	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/framegraph/memutils"
)

var regionAllocator = sync.Pool{
	New: func() any {
		return &freeListRegion{}
	},
}

type freeListRegion struct {
	offset int
	size   int
	free   bool

	allocType uint32
	userData  any

	prev *freeListRegion
	next *freeListRegion

	handle BlockAllocationHandle
}

// FreeListBlockMetadata is a BlockMetadata implementation that tracks every region of the page
// in a single list sorted by offset. Placements in a heap page are few and short-lived, so a
// linear walk over the regions is cheaper than maintaining size-segregated free lists.
type FreeListBlockMetadata struct {
	BlockMetadataBase

	allocCount     int
	freeCount      int
	sumFreeSize    int
	largestFreeRun int

	nextHandle BlockAllocationHandle
	handleKey  *swiss.Map[BlockAllocationHandle, *freeListRegion]
	head       *freeListRegion
}

var _ BlockMetadata = &FreeListBlockMetadata{}

func NewFreeListBlockMetadata() *FreeListBlockMetadata {
	return &FreeListBlockMetadata{}
}

func (m *FreeListBlockMetadata) allocateRegion(offset, size int) *freeListRegion {
	r := regionAllocator.Get().(*freeListRegion)
	r.offset = offset
	r.size = size
	r.free = true
	r.allocType = 0
	r.userData = nil
	r.prev = nil
	r.next = nil
	r.handle = BlockAllocationHandle(atomic.AddUint64((*uint64)(&m.nextHandle), 1))
	m.handleKey.Put(r.handle, r)
	return r
}

func (m *FreeListBlockMetadata) freeRegion(r *freeListRegion) {
	m.handleKey.Delete(r.handle)
	regionAllocator.Put(r)
}

func (m *FreeListBlockMetadata) getRegion(handle BlockAllocationHandle) (*freeListRegion, error) {
	region, ok := m.handleKey.Get(handle)
	if !ok {
		return nil, errors.New("received a handle that was incompatible with this metadata")
	}
	return region, nil
}

func (m *FreeListBlockMetadata) getLiveRegion(handle BlockAllocationHandle) (*freeListRegion, error) {
	region, err := m.getRegion(handle)
	if err != nil {
		return nil, err
	}
	if region.free {
		return nil, errors.New("provided handle refers to a free region")
	}
	return region, nil
}

func (m *FreeListBlockMetadata) Init(size int) {
	m.BlockMetadataBase.Init(size)
	m.handleKey = swiss.NewMap[BlockAllocationHandle, *freeListRegion](42)
	m.reset()
}

func (m *FreeListBlockMetadata) reset() {
	m.allocCount = 0
	m.freeCount = 0
	m.sumFreeSize = 0
	m.largestFreeRun = 0
	m.head = nil

	if m.size > 0 {
		m.head = m.allocateRegion(0, m.size)
		m.freeCount = 1
		m.sumFreeSize = m.size
		m.largestFreeRun = m.size
	}
}

func (m *FreeListBlockMetadata) Validate() error {
	offset := 0
	allocCount := 0
	freeCount := 0
	freeSize := 0
	var prev *freeListRegion

	for r := m.head; r != nil; r = r.next {
		if r.prev != prev {
			return errors.Errorf("region at offset %d has an incorrect back link", r.offset)
		}
		if r.offset != offset {
			return errors.Errorf("region at offset %d does not begin where its predecessor ends (%d)", r.offset, offset)
		}
		if r.size <= 0 {
			return errors.Errorf("region at offset %d has invalid size %d", r.offset, r.size)
		}
		if r.free {
			if prev != nil && prev.free {
				return errors.Errorf("free region at offset %d was not merged with its free neighbor", r.offset)
			}
			freeCount++
			freeSize += r.size
		} else {
			allocCount++
		}

		found, ok := m.handleKey.Get(r.handle)
		if !ok || found != r {
			return errors.Errorf("region at offset %d is missing from the handle map", r.offset)
		}

		offset += r.size
		prev = r
	}

	if offset != m.size {
		return errors.Errorf("regions cover %d bytes but the block is %d bytes", offset, m.size)
	}
	if allocCount != m.allocCount {
		return errors.Errorf("found %d placements but expected %d", allocCount, m.allocCount)
	}
	if freeCount != m.freeCount {
		return errors.Errorf("found %d free regions but expected %d", freeCount, m.freeCount)
	}
	if freeSize != m.sumFreeSize {
		return errors.Errorf("found %d free bytes but expected %d", freeSize, m.sumFreeSize)
	}
	if m.handleKey.Count() != allocCount+freeCount {
		return errors.Errorf("handle map holds %d regions but the list holds %d", m.handleKey.Count(), allocCount+freeCount)
	}

	return nil
}

func (m *FreeListBlockMetadata) AllocationCount() int {
	return m.allocCount
}

func (m *FreeListBlockMetadata) FreeRegionsCount() int {
	return m.freeCount
}

func (m *FreeListBlockMetadata) SumFreeSize() int {
	return m.sumFreeSize
}

// MayHaveFreeBlock uses the largest free region ever observed since the last full scan. It can be
// stale in the optimistic direction only.
func (m *FreeListBlockMetadata) MayHaveFreeBlock(size int) bool {
	return size <= m.largestFreeRun
}

func (m *FreeListBlockMetadata) IsEmpty() bool {
	return m.allocCount == 0
}

func (m *FreeListBlockMetadata) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error {
	for r := m.head; r != nil; r = r.next {
		err := handleBlock(r.handle, r.offset, r.size, r.userData, r.free)
		if err != nil {
			return err
		}
	}

	return nil
}

func (m *FreeListBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	r, err := m.getLiveRegion(allocHandle)
	if err != nil {
		return 0, err
	}
	return r.offset, nil
}

func (m *FreeListBlockMetadata) AllocationUserData(allocHandle BlockAllocationHandle) (any, error) {
	r, err := m.getLiveRegion(allocHandle)
	if err != nil {
		return nil, err
	}
	return r.userData, nil
}

func (m *FreeListBlockMetadata) SetAllocationUserData(allocHandle BlockAllocationHandle, userData any) error {
	r, err := m.getLiveRegion(allocHandle)
	if err != nil {
		return err
	}
	r.userData = userData
	return nil
}

func (m *FreeListBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.PageCount++
	stats.PageBytes += m.size

	for r := m.head; r != nil; r = r.next {
		if r.free {
			stats.AddUnusedRange(r.size)
		} else {
			stats.AddPlacement(r.size)
		}
	}
}

func (m *FreeListBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.PageCount++
	stats.PlacementCount += m.allocCount
	stats.PageBytes += m.size
	stats.PlacementBytes += m.size - m.sumFreeSize
}

func (m *FreeListBlockMetadata) Clear() {
	for r := m.head; r != nil; {
		next := r.next
		m.freeRegion(r)
		r = next
	}

	m.reset()
}

func (m *FreeListBlockMetadata) BlockJsonData(json *jwriter.ObjectState) {
	m.BlockMetadataBase.BlockJsonData(json, m.sumFreeSize, m.allocCount, m.freeCount)

	regions := json.Name("Regions").Array()
	defer regions.End()

	for r := m.head; r != nil; r = r.next {
		obj := regions.Object()
		obj.Name("Offset").Int(r.offset)
		obj.Name("Size").Int(r.size)
		if r.free {
			obj.Name("Type").String("FREE")
		} else {
			obj.Name("Type").Int(int(r.allocType))
		}
		obj.End()
	}
}

func (m *FreeListBlockMetadata) CreateAllocationRequest(
	allocSize int, allocAlignment uint,
	allocType uint32,
	strategy AllocationStrategy,
) (bool, AllocationRequest, error) {
	var allocRequest AllocationRequest

	if allocSize < 1 {
		return false, allocRequest, errors.Errorf("invalid allocSize: %d", allocSize)
	}
	if allocAlignment == 0 {
		allocAlignment = 1
	}
	err := memutils.CheckPow2(allocAlignment, "allocAlignment")
	if err != nil {
		return false, allocRequest, err
	}

	memutils.DebugValidate(m)

	if allocSize > m.sumFreeSize {
		return false, allocRequest, nil
	}

	var chosen *freeListRegion
	chosenOffset := 0
	largest := 0

	for r := m.head; r != nil; r = r.next {
		if !r.free {
			continue
		}
		if r.size > largest {
			largest = r.size
		}

		alignedOffset := memutils.AlignUp(r.offset, allocAlignment)
		if alignedOffset+allocSize > r.offset+r.size {
			continue
		}

		if chosen == nil || (strategy == AllocationStrategyMinMemory && r.size < chosen.size) {
			chosen = r
			chosenOffset = alignedOffset
		}

		if strategy != AllocationStrategyMinMemory {
			break
		}
	}

	if chosen == nil {
		// A full pass was made, so the heuristic can be tightened
		m.largestFreeRun = largest
		return false, allocRequest, nil
	}

	allocRequest.BlockAllocationHandle = chosen.handle
	allocRequest.Size = allocSize
	allocRequest.AllocType = allocType
	allocRequest.AlgorithmData = uint64(chosenOffset)
	allocRequest.Item = Suballocation{
		Offset: chosenOffset,
		Size:   allocSize,
		Type:   allocType,
	}

	return true, allocRequest, nil
}

func (m *FreeListBlockMetadata) Alloc(req AllocationRequest, allocType uint32, userData any) error {
	current, err := m.getRegion(req.BlockAllocationHandle)
	if err != nil {
		return err
	}
	if !current.free {
		return errors.New("allocation request refers to a region that is no longer free")
	}

	offset := int(req.AlgorithmData)
	if offset < current.offset || offset+req.Size > current.offset+current.size {
		return errors.New("allocation request no longer fits in its free region")
	}

	m.freeCount--
	m.sumFreeSize -= current.size

	// Alignment padding becomes its own free region ahead of the placement
	missingAlignment := offset - current.offset
	if missingAlignment > 0 {
		pad := m.allocateRegion(current.offset, missingAlignment)
		pad.prev = current.prev
		pad.next = current
		if current.prev != nil {
			current.prev.next = pad
		} else {
			m.head = pad
		}
		current.prev = pad

		current.offset = offset
		current.size -= missingAlignment
		m.freeCount++
		m.sumFreeSize += missingAlignment
	}

	tailSize := current.size - req.Size
	if tailSize > 0 {
		tail := m.allocateRegion(offset+req.Size, tailSize)
		tail.prev = current
		tail.next = current.next
		if current.next != nil {
			current.next.prev = tail
		}
		current.next = tail

		current.size = req.Size
		m.freeCount++
		m.sumFreeSize += tailSize
	}

	current.free = false
	current.allocType = allocType
	current.userData = userData
	m.allocCount++

	memutils.DebugValidate(m)
	return nil
}

func (m *FreeListBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	region, err := m.getRegion(allocHandle)
	if err != nil {
		return err
	}
	if region.free {
		return errors.New("block is already free")
	}

	region.free = true
	region.allocType = 0
	region.userData = nil
	m.allocCount--
	m.freeCount++
	m.sumFreeSize += region.size

	if next := region.next; next != nil && next.free {
		m.mergeRegion(region, next)
	}
	if prev := region.prev; prev != nil && prev.free {
		m.mergeRegion(prev, region)
		region = prev
	}

	if region.size > m.largestFreeRun {
		m.largestFreeRun = region.size
	}

	memutils.DebugValidate(m)
	return nil
}

// mergeRegion absorbs next into region. Both must be free and physically adjacent.
func (m *FreeListBlockMetadata) mergeRegion(region *freeListRegion, next *freeListRegion) {
	if region.next != next {
		panic("cannot merge separate physical regions")
	}
	if !region.free || !next.free {
		panic("cannot merge a region that holds a placement")
	}

	region.size += next.size
	region.next = next.next
	if region.next != nil {
		region.next.prev = region
	}
	m.freeCount--

	m.freeRegion(next)
}
