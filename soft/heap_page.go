package soft

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/framegraph/memutils"
	"github.com/vkngwrapper/framegraph/memutils/metadata"
	"github.com/vkngwrapper/framegraph/transient"
	"golang.org/x/exp/slog"
)

type cacheKey struct {
	image  transient.ImageDesc
	buffer transient.BufferDesc
	offset int
}

type cacheEntry struct {
	key    cacheKey
	image  *Image
	buffer *Buffer
	inUse  bool
}

type placement struct {
	handle metadata.BlockAllocationHandle
	kind   transient.ResourceKind
	entry  *cacheEntry
}

// HeapPage is a soft transient.HeapPage. Resource objects are cached by description and offset,
// so a frame that places the same resources at the same offsets as the last frame gets the same
// objects back.
type HeapPage struct {
	logger *slog.Logger
	device *Device
	desc   transient.HeapPageDesc

	metadata   *metadata.FreeListBlockMetadata
	placements *swiss.Map[transient.ResourceID, placement]
	cache      *swiss.Map[cacheKey, *cacheEntry]
	cacheOrder []*cacheEntry
	destroyed  bool
}

var _ transient.HeapPage = &HeapPage{}

func newHeapPage(device *Device, desc transient.HeapPageDesc) *HeapPage {
	page := &HeapPage{
		logger:     device.logger,
		device:     device,
		desc:       desc,
		metadata:   metadata.NewFreeListBlockMetadata(),
		placements: swiss.NewMap[transient.ResourceID, placement](42),
		cache:      swiss.NewMap[cacheKey, *cacheEntry](uint32(desc.CacheSize)),
	}
	page.metadata.Init(desc.Size)
	return page
}

func (p *HeapPage) Desc() transient.HeapPageDesc {
	return p.desc
}

func (p *HeapPage) PlacementCount() int {
	return p.placements.Count()
}

// CachedObjectCount returns the number of resource objects the page is holding for reuse
func (p *HeapPage) CachedObjectCount() int {
	return p.cache.Count()
}

func (p *HeapPage) checkPlacement(kind transient.ResourceKind, id transient.ResourceID) error {
	if p.destroyed {
		return errors.New("heap page has been destroyed")
	}
	if kind != p.desc.Kind {
		return errors.Wrapf(transient.ErrResourceKindMismatch, "page holds %s but %s was requested", p.desc.Kind, kind)
	}
	if _, ok := p.placements.Get(id); ok {
		return errors.Wrapf(transient.ErrResourceAlreadyAllocated, "resource %d", id)
	}
	return nil
}

// place finds room for size bytes. fits is false when the page cannot hold them.
func (p *HeapPage) place(id transient.ResourceID, size int) (handle metadata.BlockAllocationHandle, offset int, fits bool, err error) {
	fits, request, err := p.metadata.CreateAllocationRequest(size, p.desc.Alignment, uint32(p.desc.Kind), metadata.AllocationStrategyMinOffset)
	if err != nil || !fits {
		return metadata.NoAllocation, 0, false, err
	}

	err = p.metadata.Alloc(request, uint32(p.desc.Kind), id)
	if err != nil {
		return metadata.NoAllocation, 0, false, err
	}

	if p.placements.Count() >= p.desc.CacheSize {
		err = p.metadata.Free(request.BlockAllocationHandle)
		return metadata.NoAllocation, 0, false, errors.CombineErrors(
			errors.Wrapf(transient.ErrResourceCacheOverflow, "page already holds %d placements", p.placements.Count()),
			err,
		)
	}

	return request.BlockAllocationHandle, request.Item.Offset, true, nil
}

// lookup returns the cached entry for key, creating one with create if there is none. A full
// cache evicts its oldest entry that is not backing a live placement.
func (p *HeapPage) lookup(key cacheKey, create func() *cacheEntry) *cacheEntry {
	entry, ok := p.cache.Get(key)
	if ok {
		return entry
	}

	if p.cache.Count() >= p.desc.CacheSize {
		for i, candidate := range p.cacheOrder {
			if candidate.inUse {
				continue
			}

			p.cache.Delete(candidate.key)
			p.cacheOrder = append(p.cacheOrder[:i], p.cacheOrder[i+1:]...)
			break
		}
	}

	entry = create()
	entry.key = key
	p.cache.Put(key, entry)
	p.cacheOrder = append(p.cacheOrder, entry)
	return entry
}

func (p *HeapPage) TryCreateImage(desc transient.TransientImageDesc) (transient.Image, transient.AllocationStats, bool, error) {
	p.logger.Debug("HeapPage::TryCreateImage")

	var stats transient.AllocationStats
	err := p.checkPlacement(transient.ResourceKindImage, desc.ID)
	if err != nil {
		return nil, stats, false, err
	}

	imageDesc := desc.Desc.Normalized()
	size := p.device.ImageSize(imageDesc)
	handle, offset, fits, err := p.place(desc.ID, size)
	if err != nil || !fits {
		return nil, stats, false, err
	}

	entry := p.lookup(cacheKey{image: imageDesc, offset: offset}, func() *cacheEntry {
		return &cacheEntry{image: &Image{
			objectID: p.device.objectID(),
			desc:     imageDesc,
			page:     p,
			offset:   offset,
			size:     size,
		}}
	})
	entry.inUse = true

	p.placements.Put(desc.ID, placement{handle: handle, kind: transient.ResourceKindImage, entry: entry})

	stats.MinOffset = offset
	stats.MaxOffset = memutils.LastByte(offset, size)
	return entry.image, stats, true, nil
}

func (p *HeapPage) TryCreateBuffer(desc transient.TransientBufferDesc) (transient.Buffer, transient.AllocationStats, bool, error) {
	p.logger.Debug("HeapPage::TryCreateBuffer")

	var stats transient.AllocationStats
	err := p.checkPlacement(transient.ResourceKindBuffer, desc.ID)
	if err != nil {
		return nil, stats, false, err
	}

	size := desc.Desc.Size
	handle, offset, fits, err := p.place(desc.ID, size)
	if err != nil || !fits {
		return nil, stats, false, err
	}

	entry := p.lookup(cacheKey{buffer: desc.Desc, offset: offset}, func() *cacheEntry {
		return &cacheEntry{buffer: &Buffer{
			objectID: p.device.objectID(),
			desc:     desc.Desc,
			page:     p,
			offset:   offset,
			size:     size,
		}}
	})
	entry.inUse = true

	p.placements.Put(desc.ID, placement{handle: handle, kind: transient.ResourceKindBuffer, entry: entry})

	stats.MinOffset = offset
	stats.MaxOffset = memutils.LastByte(offset, size)
	return entry.buffer, stats, true, nil
}

func (p *HeapPage) release(kind transient.ResourceKind, id transient.ResourceID) error {
	placed, ok := p.placements.Get(id)
	if !ok {
		return errors.Wrapf(transient.ErrUnknownResource, "resource %d is not placed in this page", id)
	}
	if placed.kind != kind {
		return errors.Wrapf(transient.ErrResourceKindMismatch, "resource %d is %s but was released as %s", id, placed.kind, kind)
	}

	err := p.metadata.Free(placed.handle)
	if err != nil {
		return err
	}

	placed.entry.inUse = false
	p.placements.Delete(id)

	if p.placements.Count() == 0 {
		p.metadata.Clear()
	}
	return nil
}

func (p *HeapPage) ReleaseImage(id transient.ResourceID) error {
	p.logger.Debug("HeapPage::ReleaseImage")

	return p.release(transient.ResourceKindImage, id)
}

func (p *HeapPage) ReleaseBuffer(id transient.ResourceID) error {
	p.logger.Debug("HeapPage::ReleaseBuffer")

	return p.release(transient.ResourceKindBuffer, id)
}

func (p *HeapPage) Reset() {
	p.logger.Debug("HeapPage::Reset")

	p.metadata.Clear()
	p.placements = swiss.NewMap[transient.ResourceID, placement](42)
	for _, entry := range p.cacheOrder {
		entry.inUse = false
	}
}

func (p *HeapPage) Destroy() error {
	p.logger.Debug("HeapPage::Destroy")

	if p.destroyed {
		return errors.New("heap page was destroyed twice")
	}

	p.Reset()
	p.cache = swiss.NewMap[cacheKey, *cacheEntry](42)
	p.cacheOrder = nil
	p.destroyed = true
	return nil
}

func (p *HeapPage) AddStatistics(stats *memutils.Statistics) {
	p.metadata.AddStatistics(stats)
}

func (p *HeapPage) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	p.metadata.AddDetailedStatistics(stats)
}

func (p *HeapPage) PrintDetailedMap(json *jwriter.ObjectState) {
	json.Name("Kind").String(p.desc.Kind.String())
	json.Name("CachedObjects").Int(p.cache.Count())
	p.metadata.BlockJsonData(json)
}

// Validate checks the page's sub-allocator and that every live placement holds a cached object
func (p *HeapPage) Validate() error {
	err := p.metadata.Validate()
	if err != nil {
		return err
	}

	if p.metadata.AllocationCount() != p.placements.Count() {
		return errors.Newf("sub-allocator holds %d placements but the page holds %d", p.metadata.AllocationCount(), p.placements.Count())
	}

	inUse := 0
	for _, entry := range p.cacheOrder {
		if entry.inUse {
			inUse++
		}
	}
	if inUse != p.placements.Count() {
		return errors.Newf("%d cached objects are in use but the page holds %d placements", inUse, p.placements.Count())
	}

	return nil
}
