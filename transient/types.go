package transient

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/framegraph/memutils"
)

// ResourceID identifies a single logical resource within one frame
type ResourceID uint64

// ResourceKind is the closed set of resource types that heap pages can hold
type ResourceKind uint8

const (
	ResourceKindImage ResourceKind = iota + 1
	ResourceKindBuffer
)

var resourceKindMapping = map[ResourceKind]string{
	ResourceKindImage:  "ResourceKindImage",
	ResourceKindBuffer: "ResourceKindBuffer",
}

func (k ResourceKind) String() string {
	str, ok := resourceKindMapping[k]
	if !ok {
		return "unknown"
	}
	return str
}

// QueueType names the hardware queue a pass is recorded on
type QueueType uint8

const (
	QueueGraphics QueueType = iota
	QueueCompute
	QueueTransfer
)

var queueTypeMapping = map[QueueType]string{
	QueueGraphics: "QueueGraphics",
	QueueCompute:  "QueueCompute",
	QueueTransfer: "QueueTransfer",
}

func (q QueueType) String() string {
	str, ok := queueTypeMapping[q]
	if !ok {
		return "unknown"
	}
	return str
}

// PassInfo is the part of a render pass that the allocator needs to key barriers: the pass's
// position in execution order and the queue it runs on
type PassInfo struct {
	Index int
	Queue QueueType
}

func (p PassInfo) String() string {
	return fmt.Sprintf("pass %d (%s)", p.Index, p.Queue)
}

// ImageDesc describes an image in the Vulkan vocabulary. It is comparable, so it can be used as
// part of a cache key.
type ImageDesc struct {
	ImageType   core1_0.ImageType
	Format      core1_0.Format
	Width       int
	Height      int
	Depth       int
	MipLevels   int
	ArrayLayers int
	Samples     core1_0.SampleCountFlags
	Tiling      core1_0.ImageTiling
	Usage       core1_0.ImageUsageFlags
}

// Normalized fills the zero-valued fields that have an obvious default
func (d ImageDesc) Normalized() ImageDesc {
	if d.ImageType == 0 && d.Depth <= 1 {
		d.ImageType = core1_0.ImageType2D
	}
	if d.Depth < 1 {
		d.Depth = 1
	}
	if d.MipLevels < 1 {
		d.MipLevels = 1
	}
	if d.ArrayLayers < 1 {
		d.ArrayLayers = 1
	}
	if d.Samples == 0 {
		d.Samples = core1_0.Samples1
	}
	return d
}

// Validate returns ErrInvalidDesc when the image could never be created
func (d ImageDesc) Validate() error {
	if d.Width < 1 || d.Height < 1 {
		return invalidDesc("image extent must be positive, got %dx%d", d.Width, d.Height)
	}
	if d.Usage == 0 {
		return invalidDesc("image usage must not be empty")
	}
	return nil
}

// BufferDesc describes a buffer in the Vulkan vocabulary
type BufferDesc struct {
	Size  int
	Usage core1_0.BufferUsageFlags
}

// Validate returns ErrInvalidDesc when the buffer could never be created
func (d BufferDesc) Validate() error {
	if d.Size < 1 {
		return invalidDesc("buffer size must be positive, got %d", d.Size)
	}
	if d.Usage == 0 {
		return invalidDesc("buffer usage must not be empty")
	}
	return nil
}

// TransientImageDesc is an image request for a heap page: the image plus the frame-unique id the
// placement will be released by
type TransientImageDesc struct {
	ID   ResourceID
	Desc ImageDesc
}

// TransientBufferDesc is a buffer request for a heap page
type TransientBufferDesc struct {
	ID   ResourceID
	Desc BufferDesc
}

// Image is a concrete image produced by a Device or a HeapPage
type Image interface {
	Desc() ImageDesc
}

// Buffer is a concrete buffer produced by a Device or a HeapPage
type Buffer interface {
	Desc() BufferDesc
}

// Resource is a tagged variant over the two resource kinds. Exactly one of Image and Buffer is
// set, matching Kind.
type Resource struct {
	Kind   ResourceKind
	Image  Image
	Buffer Buffer
}

func ImageResource(image Image) Resource {
	return Resource{Kind: ResourceKindImage, Image: image}
}

func BufferResource(buffer Buffer) Resource {
	return Resource{Kind: ResourceKindBuffer, Buffer: buffer}
}

const (
	imageWriteUsages = core1_0.ImageUsageStorage | core1_0.ImageUsageColorAttachment |
		core1_0.ImageUsageDepthStencilAttachment | core1_0.ImageUsageTransferDst
	bufferWriteUsages = core1_0.BufferUsageStorageBuffer | core1_0.BufferUsageTransferDst
)

// HasWriteUsage reports whether the resource can be written by the device, which means the memory
// it leaves behind may still be in flight when another resource takes the same bytes
func (r Resource) HasWriteUsage() bool {
	switch r.Kind {
	case ResourceKindImage:
		return r.Image.Desc().Usage&imageWriteUsages != 0
	case ResourceKindBuffer:
		return r.Buffer.Desc().Usage&bufferWriteUsages != 0
	default:
		panic(fmt.Sprintf("unknown resource kind: %s", r.Kind))
	}
}

// AllocationStats reports the inclusive byte range a placement consumes within its heap page
type AllocationStats struct {
	MinOffset int
	MaxOffset int
}

// HeapPageDesc configures a single heap page
type HeapPageDesc struct {
	Kind      ResourceKind
	Size      int
	Alignment uint
	CacheSize int
}

// Device creates concrete resources and heap pages. It is implemented by the soft and vulkan packages.
type Device interface {
	CreateImage(desc ImageDesc) (Image, error)
	CreateBuffer(desc BufferDesc) (Buffer, error)
	CreateHeapPage(desc HeapPageDesc) (HeapPage, error)
}

// HeapPage is a fixed-size arena that places resources at byte offsets. The Try methods return
// fits == false, with no error, when the page does not have room for the request.
type HeapPage interface {
	Desc() HeapPageDesc

	TryCreateImage(desc TransientImageDesc) (image Image, stats AllocationStats, fits bool, err error)
	TryCreateBuffer(desc TransientBufferDesc) (buffer Buffer, stats AllocationStats, fits bool, err error)
	ReleaseImage(id ResourceID) error
	ReleaseBuffer(id ResourceID) error

	// PlacementCount returns the number of placements that have not been released
	PlacementCount() int
	// Reset releases every placement at once
	Reset()
	// Destroy frees the page's memory and every cached resource object
	Destroy() error

	AddStatistics(stats *memutils.Statistics)
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	PrintDetailedMap(json *jwriter.ObjectState)
}
