// Package soft is a transient.Device that never touches a GPU. Heap pages are pure bookkeeping:
// placements are computed with the same sub-allocator a hardware backend uses, so the offsets,
// page growth, and aliasing barriers it produces match what a real device would see.
package soft

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/framegraph/memutils"
	"github.com/vkngwrapper/framegraph/transient"
	"golang.org/x/exp/slog"
)

// TexelSizeFunc returns the number of bytes one texel of the provided format occupies
type TexelSizeFunc func(format core1_0.Format) int

// CreateOptions contains optional settings when creating a Device
type CreateOptions struct {
	// TexelSize overrides the per-format texel size used to estimate image sizes. When nil,
	// DefaultTexelSize is used.
	TexelSize TexelSizeFunc
}

var texelSizes = map[core1_0.Format]int{
	core1_0.FormatR8G8B8A8SRGB:                       4,
	core1_0.FormatB8G8R8A8SRGB:                       4,
	core1_0.FormatA8B8G8R8UnsignedIntPacked:          4,
	core1_0.FormatA1R5G5B5UnsignedNormalizedPacked:   2,
	core1_0.FormatR32G32SignedFloat:                  8,
	core1_0.FormatR32G32B32SignedFloat:               12,
	core1_0.FormatD32SignedFloat:                     4,
	core1_0.FormatD24UnsignedNormalizedS8UnsignedInt: 4,
	core1_0.FormatD32SignedFloatS8UnsignedInt:        8,
}

// DefaultTexelSize knows a handful of common formats and assumes 4 bytes for the rest
func DefaultTexelSize(format core1_0.Format) int {
	size, ok := texelSizes[format]
	if !ok {
		return 4
	}
	return size
}

// Device creates soft images, buffers, and heap pages
type Device struct {
	logger    *slog.Logger
	texelSize TexelSizeFunc

	nextObjectID uint64
}

var _ transient.Device = &Device{}

func NewDevice(logger *slog.Logger, options CreateOptions) *Device {
	texelSize := options.TexelSize
	if texelSize == nil {
		texelSize = DefaultTexelSize
	}

	return &Device{
		logger:    logger,
		texelSize: texelSize,
	}
}

func (d *Device) objectID() uint64 {
	return atomic.AddUint64(&d.nextObjectID, 1)
}

// ImageSize estimates the number of bytes an image occupies: every mip level of every layer and
// sample, with no padding
func (d *Device) ImageSize(desc transient.ImageDesc) int {
	desc = desc.Normalized()

	texel := d.texelSize(desc.Format)
	size := 0
	for mip := 0; mip < desc.MipLevels; mip++ {
		width := desc.Width >> mip
		height := desc.Height >> mip
		depth := desc.Depth >> mip
		if width < 1 {
			width = 1
		}
		if height < 1 {
			height = 1
		}
		if depth < 1 {
			depth = 1
		}

		size += width * height * depth * texel
	}

	return size * desc.ArrayLayers * int(desc.Samples)
}

func (d *Device) CreateImage(desc transient.ImageDesc) (transient.Image, error) {
	d.logger.Debug("Device::CreateImage")

	desc = desc.Normalized()
	err := desc.Validate()
	if err != nil {
		return nil, err
	}

	return &Image{
		objectID: d.objectID(),
		desc:     desc,
		size:     d.ImageSize(desc),
	}, nil
}

func (d *Device) CreateBuffer(desc transient.BufferDesc) (transient.Buffer, error) {
	d.logger.Debug("Device::CreateBuffer")

	err := desc.Validate()
	if err != nil {
		return nil, err
	}

	return &Buffer{
		objectID: d.objectID(),
		desc:     desc,
		size:     desc.Size,
	}, nil
}

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

	return newHeapPage(d, desc), nil
}
