package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/framegraph/transient"
)

// Image is a VkImage bound either inside a HeapPage or to its own dedicated memory
type Image struct {
	device *Device
	image  core1_0.Image
	desc   transient.ImageDesc
	page   *HeapPage
	offset int
	size   int

	memory core1_0.DeviceMemory
}

var _ transient.Image = &Image{}

func createImage(device *Device, desc transient.ImageDesc, memory core1_0.DeviceMemory, offset int, size int) (*Image, error) {
	image, _, err := device.device.CreateImage(device.allocationCallbacks, imageCreateInfo(desc))
	if err != nil {
		return nil, err
	}

	_, err = image.BindImageMemory(memory, offset)
	if err != nil {
		image.Destroy(device.allocationCallbacks)
		return nil, err
	}

	return &Image{
		device: device,
		image:  image,
		desc:   desc,
		offset: offset,
		size:   size,
	}, nil
}

func (i *Image) Desc() transient.ImageDesc  { return i.desc }
func (i *Image) VulkanImage() core1_0.Image { return i.image }
func (i *Image) Page() *HeapPage            { return i.page }
func (i *Image) Offset() int                { return i.offset }
func (i *Image) Size() int                  { return i.size }

// Destroy destroys an image created by Device.CreateImage along with its memory. Images placed in a
// heap page are owned by the page.
func (i *Image) Destroy() error {
	if i.page != nil {
		return errors.New("placed images are destroyed with their heap page")
	}
	if i.image == nil {
		return errors.New("image was destroyed twice")
	}

	i.destroy()
	i.memory.Free(i.device.allocationCallbacks)
	i.memory = nil
	return nil
}

func (i *Image) destroy() {
	i.image.Destroy(i.device.allocationCallbacks)
	i.image = nil
}

// Buffer is a VkBuffer bound either inside a HeapPage or to its own dedicated memory
type Buffer struct {
	device *Device
	buffer core1_0.Buffer
	desc   transient.BufferDesc
	page   *HeapPage
	offset int
	size   int

	memory core1_0.DeviceMemory
}

var _ transient.Buffer = &Buffer{}

func createBuffer(device *Device, desc transient.BufferDesc, memory core1_0.DeviceMemory, offset int, size int) (*Buffer, error) {
	buffer, _, err := device.device.CreateBuffer(device.allocationCallbacks, bufferCreateInfo(desc))
	if err != nil {
		return nil, err
	}

	_, err = buffer.BindBufferMemory(memory, offset)
	if err != nil {
		buffer.Destroy(device.allocationCallbacks)
		return nil, err
	}

	return &Buffer{
		device: device,
		buffer: buffer,
		desc:   desc,
		offset: offset,
		size:   size,
	}, nil
}

func (b *Buffer) Desc() transient.BufferDesc   { return b.desc }
func (b *Buffer) VulkanBuffer() core1_0.Buffer { return b.buffer }
func (b *Buffer) Page() *HeapPage              { return b.page }
func (b *Buffer) Offset() int                  { return b.offset }
func (b *Buffer) Size() int                    { return b.size }

// Destroy destroys a buffer created by Device.CreateBuffer along with its memory
func (b *Buffer) Destroy() error {
	if b.page != nil {
		return errors.New("placed buffers are destroyed with their heap page")
	}
	if b.buffer == nil {
		return errors.New("buffer was destroyed twice")
	}

	b.destroy()
	b.memory.Free(b.device.allocationCallbacks)
	b.memory = nil
	return nil
}

func (b *Buffer) destroy() {
	b.buffer.Destroy(b.device.allocationCallbacks)
	b.buffer = nil
}
