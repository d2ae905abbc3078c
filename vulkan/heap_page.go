package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/framegraph/memutils"
	"github.com/vkngwrapper/framegraph/memutils/metadata"
	"github.com/vkngwrapper/framegraph/transient"
	"golang.org/x/exp/slog"
)

type objectKey struct {
	image  transient.ImageDesc
	buffer transient.BufferDesc
	offset int
}

type cachedObject struct {
	key    objectKey
	image  *Image
	buffer *Buffer
	inUse  bool
}

func (o *cachedObject) destroy() {
	if o.image != nil {
		o.image.destroy()
	}
	if o.buffer != nil {
		o.buffer.destroy()
	}
}

type pagePlacement struct {
	handle metadata.BlockAllocationHandle
	kind   transient.ResourceKind
	object *cachedObject
}

// HeapPage is one VkDeviceMemory allocation carved into aliasing images or buffers. Vulkan objects
// are cached by description and offset: a placement that lands where an identical resource
// was placed before reuses that object instead of creating and binding a new one.
type HeapPage struct {
	logger *slog.Logger
	device *Device
	desc   transient.HeapPageDesc
	memory core1_0.DeviceMemory

	metadata    *metadata.FreeListBlockMetadata
	placements  *swiss.Map[transient.ResourceID, pagePlacement]
	objects     *swiss.Map[objectKey, *cachedObject]
	objectOrder []*cachedObject
}

var _ transient.HeapPage = &HeapPage{}

func newHeapPage(device *Device, desc transient.HeapPageDesc, memory core1_0.DeviceMemory) *HeapPage {
	page := &HeapPage{
		logger:     device.logger,
		device:     device,
		desc:       desc,
		memory:     memory,
		metadata:   metadata.NewFreeListBlockMetadata(),
		placements: swiss.NewMap[transient.ResourceID, pagePlacement](42),
		objects:    swiss.NewMap[objectKey, *cachedObject](uint32(desc.CacheSize)),
	}
	page.metadata.Init(desc.Size)
	return page
}

func (p *HeapPage) Desc() transient.HeapPageDesc {
	return p.desc
}

// VulkanDeviceMemory returns the memory backing the page
func (p *HeapPage) VulkanDeviceMemory() core1_0.DeviceMemory {
	return p.memory
}

func (p *HeapPage) PlacementCount() int {
	return p.placements.Count()
}

func (p *HeapPage) CachedObjectCount() int {
	return p.objects.Count()
}

func (p *HeapPage) checkPlacement(kind transient.ResourceKind, id transient.ResourceID) error {
	if p.memory == nil {
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

func (p *HeapPage) place(id transient.ResourceID, requirements core1_0.MemoryRequirements) (metadata.BlockAllocationHandle, int, bool, error) {
	alignment := p.desc.Alignment
	if uint(requirements.Alignment) > alignment {
		alignment = uint(requirements.Alignment)
	}
	memutils.DebugCheckPow2(alignment, "alignment")

	fits, request, err := p.metadata.CreateAllocationRequest(requirements.Size, alignment, uint32(p.desc.Kind), metadata.AllocationStrategyMinOffset)
	if err != nil || !fits {
		return metadata.NoAllocation, 0, false, err
	}

	if p.placements.Count() >= p.desc.CacheSize {
		return metadata.NoAllocation, 0, false, errors.Wrapf(transient.ErrResourceCacheOverflow, "page already holds %d placements", p.placements.Count())
	}

	err = p.metadata.Alloc(request, uint32(p.desc.Kind), id)
	if err != nil {
		return metadata.NoAllocation, 0, false, err
	}

	return request.BlockAllocationHandle, request.Item.Offset, true, nil
}

// object returns the cached object for key, calling create when there is none. When the cache is
// full, the oldest object not backing a live placement is destroyed first.
func (p *HeapPage) object(key objectKey, create func() (*cachedObject, error)) (*cachedObject, error) {
	object, ok := p.objects.Get(key)
	if ok {
		return object, nil
	}

	if p.objects.Count() >= p.desc.CacheSize {
		for i, candidate := range p.objectOrder {
			if candidate.inUse {
				continue
			}

			candidate.destroy()
			p.objects.Delete(candidate.key)
			p.objectOrder = append(p.objectOrder[:i], p.objectOrder[i+1:]...)
			break
		}
	}

	object, err := create()
	if err != nil {
		return nil, err
	}

	object.key = key
	p.objects.Put(key, object)
	p.objectOrder = append(p.objectOrder, object)
	return object, nil
}

func (p *HeapPage) TryCreateImage(desc transient.TransientImageDesc) (transient.Image, transient.AllocationStats, bool, error) {
	p.logger.Debug("HeapPage::TryCreateImage")

	var stats transient.AllocationStats
	err := p.checkPlacement(transient.ResourceKindImage, desc.ID)
	if err != nil {
		return nil, stats, false, err
	}

	imageDesc := desc.Desc.Normalized()
	requirements, err := p.device.ImageRequirements(imageDesc)
	if err != nil {
		return nil, stats, false, err
	}

	handle, offset, fits, err := p.place(desc.ID, requirements)
	if err != nil || !fits {
		return nil, stats, false, err
	}

	object, err := p.object(objectKey{image: imageDesc, offset: offset}, func() (*cachedObject, error) {
		image, err := createImage(p.device, imageDesc, p.memory, offset, requirements.Size)
		if err != nil {
			return nil, err
		}
		image.page = p
		return &cachedObject{image: image}, nil
	})
	if err != nil {
		return nil, stats, false, errors.CombineErrors(err, p.metadata.Free(handle))
	}
	object.inUse = true

	p.placements.Put(desc.ID, pagePlacement{handle: handle, kind: transient.ResourceKindImage, object: object})

	stats.MinOffset = offset
	stats.MaxOffset = memutils.LastByte(offset, requirements.Size)
	return object.image, stats, true, nil
}

func (p *HeapPage) TryCreateBuffer(desc transient.TransientBufferDesc) (transient.Buffer, transient.AllocationStats, bool, error) {
	p.logger.Debug("HeapPage::TryCreateBuffer")

	var stats transient.AllocationStats
	err := p.checkPlacement(transient.ResourceKindBuffer, desc.ID)
	if err != nil {
		return nil, stats, false, err
	}

	requirements, err := p.device.BufferRequirements(desc.Desc)
	if err != nil {
		return nil, stats, false, err
	}

	handle, offset, fits, err := p.place(desc.ID, requirements)
	if err != nil || !fits {
		return nil, stats, false, err
	}

	object, err := p.object(objectKey{buffer: desc.Desc, offset: offset}, func() (*cachedObject, error) {
		buffer, err := createBuffer(p.device, desc.Desc, p.memory, offset, requirements.Size)
		if err != nil {
			return nil, err
		}
		buffer.page = p
		return &cachedObject{buffer: buffer}, nil
	})
	if err != nil {
		return nil, stats, false, errors.CombineErrors(err, p.metadata.Free(handle))
	}
	object.inUse = true

	p.placements.Put(desc.ID, pagePlacement{handle: handle, kind: transient.ResourceKindBuffer, object: object})

	stats.MinOffset = offset
	stats.MaxOffset = memutils.LastByte(offset, requirements.Size)
	return object.buffer, stats, true, nil
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

	placed.object.inUse = false
	p.placements.Delete(id)
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

// Reset drops every placement. Cached objects are kept for the next frame.
func (p *HeapPage) Reset() {
	p.logger.Debug("HeapPage::Reset")

	p.metadata.Clear()
	p.placements = swiss.NewMap[transient.ResourceID, pagePlacement](42)
	for _, object := range p.objectOrder {
		object.inUse = false
	}
}

// Destroy destroys every cached object and frees the page's memory
func (p *HeapPage) Destroy() error {
	p.logger.Debug("HeapPage::Destroy")

	if p.memory == nil {
		return errors.New("heap page was destroyed twice")
	}

	p.Reset()
	for _, object := range p.objectOrder {
		object.destroy()
	}
	p.objects = swiss.NewMap[objectKey, *cachedObject](42)
	p.objectOrder = nil

	p.memory.Free(p.device.allocationCallbacks)
	p.memory = nil
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
	json.Name("MemoryTypeIndex").Int(p.device.memoryTypeIndex)
	json.Name("CachedObjects").Int(p.objects.Count())
	p.metadata.BlockJsonData(json)
}
