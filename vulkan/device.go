// Package vulkan is a transient.Device backed by vkngwrapper. Every heap page is a single
// VkDeviceMemory allocation, and transient images and buffers are created as aliasing resources
// bound at the offsets the page's sub-allocator hands out.
package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/extensions/v2/ext_memory_priority"
	"github.com/vkngwrapper/framegraph/memutils"
	"github.com/vkngwrapper/framegraph/transient"
	"golang.org/x/exp/slog"
)

// DefaultPriority is the memory priority used when CreateOptions.Priority is left at zero
const DefaultPriority float32 = 0.5

// CreateOptions contains optional settings when creating a Device
type CreateOptions struct {
	// AllocationCallbacks is passed to every Vulkan create, destroy, allocate, and free call
	AllocationCallbacks *driver.AllocationCallbacks
	// MemoryTypeIndex is the memory type every heap page and dedicated resource is allocated from.
	// It must be usable by every image and buffer the frame graph creates.
	MemoryTypeIndex int
	// Priority is the ext_memory_priority priority applied to heap page memory, between 0 and 1.
	// It is ignored when the extension is not active.
	Priority float32
}

// Device creates heap pages out of VkDeviceMemory allocations
type Device struct {
	logger *slog.Logger
	device core1_0.Device

	allocationCallbacks *driver.AllocationCallbacks
	memoryTypeIndex     int
	priority            float32
	useMemoryPriority   bool

	imageRequirements  *swiss.Map[transient.ImageDesc, core1_0.MemoryRequirements]
	bufferRequirements *swiss.Map[transient.BufferDesc, core1_0.MemoryRequirements]
}

var _ transient.Device = &Device{}

func NewDevice(logger *slog.Logger, device core1_0.Device, options CreateOptions) (*Device, error) {
	if options.Priority < 0 || options.Priority > 1 {
		return nil, errors.Wrapf(transient.ErrInvalidDesc, "memory priority must be between 0 and 1, got %f", options.Priority)
	}
	if options.MemoryTypeIndex < 0 || options.MemoryTypeIndex > 31 {
		return nil, errors.Wrapf(transient.ErrInvalidDesc, "invalid memory type index %d", options.MemoryTypeIndex)
	}

	priority := options.Priority
	if priority == 0 {
		priority = DefaultPriority
	}

	return &Device{
		logger:              logger,
		device:              device,
		allocationCallbacks: options.AllocationCallbacks,
		memoryTypeIndex:     options.MemoryTypeIndex,
		priority:            priority,
		useMemoryPriority:   device.IsDeviceExtensionActive(ext_memory_priority.ExtensionName),
		imageRequirements:   swiss.NewMap[transient.ImageDesc, core1_0.MemoryRequirements](42),
		bufferRequirements:  swiss.NewMap[transient.BufferDesc, core1_0.MemoryRequirements](42),
	}, nil
}

func imageCreateInfo(desc transient.ImageDesc) core1_0.ImageCreateInfo {
	return core1_0.ImageCreateInfo{
		ImageType: desc.ImageType,
		Format:    desc.Format,
		Extent: core1_0.Extent3D{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  desc.Depth,
		},
		MipLevels:   desc.MipLevels,
		ArrayLayers: desc.ArrayLayers,
		Samples:     desc.Samples,
		Tiling:      desc.Tiling,
		Usage:       desc.Usage,
		SharingMode: core1_0.SharingModeExclusive,
	}
}

func bufferCreateInfo(desc transient.BufferDesc) core1_0.BufferCreateInfo {
	return core1_0.BufferCreateInfo{
		Size:        desc.Size,
		Usage:       desc.Usage,
		SharingMode: core1_0.SharingModeExclusive,
	}
}

func (d *Device) checkMemoryType(requirements core1_0.MemoryRequirements, what string) error {
	if requirements.MemoryTypeBits&(1<<uint(d.memoryTypeIndex)) == 0 {
		return errors.Wrapf(transient.ErrInvalidDesc, "memory type %d cannot back %s", d.memoryTypeIndex, what)
	}
	return nil
}

// ImageRequirements returns the memory requirements of an image with the provided description.
// Requirements are cached per description; the first request creates and destroys a probe image.
func (d *Device) ImageRequirements(desc transient.ImageDesc) (core1_0.MemoryRequirements, error) {
	requirements, ok := d.imageRequirements.Get(desc)
	if ok {
		return requirements, nil
	}

	image, _, err := d.device.CreateImage(d.allocationCallbacks, imageCreateInfo(desc))
	if err != nil {
		return requirements, err
	}
	defer image.Destroy(d.allocationCallbacks)

	requirements = *image.MemoryRequirements()
	err = d.checkMemoryType(requirements, "image")
	if err != nil {
		return requirements, err
	}

	d.imageRequirements.Put(desc, requirements)
	return requirements, nil
}

// BufferRequirements is ImageRequirements for buffers
func (d *Device) BufferRequirements(desc transient.BufferDesc) (core1_0.MemoryRequirements, error) {
	requirements, ok := d.bufferRequirements.Get(desc)
	if ok {
		return requirements, nil
	}

	buffer, _, err := d.device.CreateBuffer(d.allocationCallbacks, bufferCreateInfo(desc))
	if err != nil {
		return requirements, err
	}
	defer buffer.Destroy(d.allocationCallbacks)

	requirements = *buffer.MemoryRequirements()
	err = d.checkMemoryType(requirements, "buffer")
	if err != nil {
		return requirements, err
	}

	d.bufferRequirements.Put(desc, requirements)
	return requirements, nil
}

func (d *Device) allocateMemory(size int) (core1_0.DeviceMemory, error) {
	var allocInfo core1_0.MemoryAllocateInfo
	allocInfo.MemoryTypeIndex = d.memoryTypeIndex
	allocInfo.AllocationSize = size

	if d.useMemoryPriority {
		priorityInfo := ext_memory_priority.MemoryPriorityAllocateInfo{
			Priority: d.priority,
		}
		priorityInfo.Next = allocInfo.Next
		allocInfo.Next = priorityInfo
	}

	memory, res, err := d.device.AllocateMemory(d.allocationCallbacks, allocInfo)
	if err != nil {
		if isOutOfMemory(res) {
			return nil, errors.Wrapf(transient.ErrOutOfMemory, "failed to allocate %d bytes: %v", size, err)
		}
		return nil, err
	}

	return memory, nil
}

func isOutOfMemory(res common.VkResult) bool {
	return res == core1_0.VKErrorOutOfDeviceMemory || res == core1_0.VKErrorOutOfHostMemory
}

// CreateImage creates an image with its own dedicated memory. Destroy it with Image.Destroy.
func (d *Device) CreateImage(desc transient.ImageDesc) (transient.Image, error) {
	d.logger.Debug("Device::CreateImage")

	desc = desc.Normalized()
	err := desc.Validate()
	if err != nil {
		return nil, err
	}

	requirements, err := d.ImageRequirements(desc)
	if err != nil {
		return nil, err
	}

	memory, err := d.allocateMemory(requirements.Size)
	if err != nil {
		return nil, err
	}

	image, err := createImage(d, desc, memory, 0, requirements.Size)
	if err != nil {
		memory.Free(d.allocationCallbacks)
		return nil, err
	}

	image.memory = memory
	return image, nil
}

// CreateBuffer creates a buffer with its own dedicated memory. Destroy it with Buffer.Destroy.
func (d *Device) CreateBuffer(desc transient.BufferDesc) (transient.Buffer, error) {
	d.logger.Debug("Device::CreateBuffer")

	err := desc.Validate()
	if err != nil {
		return nil, err
	}

	requirements, err := d.BufferRequirements(desc)
	if err != nil {
		return nil, err
	}

	memory, err := d.allocateMemory(requirements.Size)
	if err != nil {
		return nil, err
	}

	buffer, err := createBuffer(d, desc, memory, 0, requirements.Size)
	if err != nil {
		memory.Free(d.allocationCallbacks)
		return nil, err
	}

	buffer.memory = memory
	return buffer, nil
}

// CreateHeapPage allocates desc.Size bytes of device memory for a page
func (d *Device) CreateHeapPage(desc transient.HeapPageDesc) (transient.HeapPage, error) {
	d.logger.Debug("Device::CreateHeapPage")

	if desc.Kind != transient.ResourceKindImage && desc.Kind != transient.ResourceKindBuffer {
		return nil, errors.Wrapf(transient.ErrInvalidDesc, "unknown heap page kind %s", desc.Kind)
	}
	if desc.Size < 1 {
		return nil, errors.Wrapf(transient.ErrInvalidDesc, "heap page size must be positive, got %d", desc.Size)
	}
	if desc.CacheSize < 1 {
		return nil, errors.Wrapf(transient.ErrInvalidDesc, "heap page cache size must be positive, got %d", desc.CacheSize)
	}
	err := memutils.CheckPow2(desc.Alignment, "alignment")
	if err != nil {
		return nil, err
	}

	memory, err := d.allocateMemory(desc.Size)
	if err != nil {
		return nil, err
	}

	return newHeapPage(d, desc, memory), nil
}
