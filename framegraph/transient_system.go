package framegraph

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/framegraph/memutils"
	"github.com/vkngwrapper/framegraph/transient"
	"golang.org/x/exp/slog"
)

// TransientResourceSystem routes transient resources to the allocator for their kind
type TransientResourceSystem struct {
	logger *slog.Logger

	imageAllocator  *transient.Allocator
	bufferAllocator *transient.Allocator
}

func NewTransientResourceSystem(logger *slog.Logger, device transient.Device, imageDesc, bufferDesc transient.AllocatorDesc) (*TransientResourceSystem, error) {
	imageAllocator, err := transient.NewAllocator(logger, device, imageDesc)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create image allocator")
	}

	bufferAllocator, err := transient.NewAllocator(logger, device, bufferDesc)
	if err != nil {
		return nil, errors.CombineErrors(
			errors.Wrap(err, "failed to create buffer allocator"),
			imageAllocator.Destroy(),
		)
	}

	return &TransientResourceSystem{
		logger:          logger,
		imageAllocator:  imageAllocator,
		bufferAllocator: bufferAllocator,
	}, nil
}

func (s *TransientResourceSystem) ImageAllocator() *transient.Allocator  { return s.imageAllocator }
func (s *TransientResourceSystem) BufferAllocator() *transient.Allocator { return s.bufferAllocator }

// AllocateResource places a transient resource node and stores the concrete object on it. The
// returned barriers must be honored before the creator pass runs.
func (s *TransientResourceSystem) AllocateResource(node *ResourceNode, creator, lastUser transient.PassInfo) ([]transient.Barrier, error) {
	var barriers []transient.Barrier

	switch node.kind {
	case transient.ResourceKindImage:
		image, imageBarriers, err := s.imageAllocator.AllocateImage(node.transientImageDesc(), creator, lastUser)
		if err != nil {
			return nil, err
		}
		node.image = image
		barriers = imageBarriers
	case transient.ResourceKindBuffer:
		buffer, bufferBarriers, err := s.bufferAllocator.AllocateBuffer(node.transientBufferDesc(), creator, lastUser)
		if err != nil {
			return nil, err
		}
		node.buffer = buffer
		barriers = bufferBarriers
	default:
		panic(errors.Newf("unknown resource kind: %s", node.kind))
	}

	node.allocated = true
	return barriers, nil
}

// DeallocateResource returns a node's memory to its heap page. The concrete object stays on the
// node so it can still be used while the frame executes; its memory may be aliased by resources
// placed afterward.
func (s *TransientResourceSystem) DeallocateResource(node *ResourceNode) error {
	var err error

	switch node.kind {
	case transient.ResourceKindImage:
		err = s.imageAllocator.ReleaseImage(node.id)
	case transient.ResourceKindBuffer:
		err = s.bufferAllocator.ReleaseBuffer(node.id)
	default:
		panic(errors.Newf("unknown resource kind: %s", node.kind))
	}

	if err != nil {
		return errors.Wrapf(err, "failed to release %q", node.name)
	}

	node.allocated = false
	return nil
}

// Reset prepares both allocators for a new frame
func (s *TransientResourceSystem) Reset() {
	s.imageAllocator.Reset()
	s.bufferAllocator.Reset()
}

// Destroy destroys every heap page owned by either allocator
func (s *TransientResourceSystem) Destroy() error {
	return errors.CombineErrors(s.imageAllocator.Destroy(), s.bufferAllocator.Destroy())
}

// AddStatistics sums statistics across both allocators
func (s *TransientResourceSystem) AddStatistics(stats *memutils.Statistics) {
	s.imageAllocator.AddStatistics(stats)
	s.bufferAllocator.AddStatistics(stats)
}

func (s *TransientResourceSystem) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	s.imageAllocator.AddDetailedStatistics(stats)
	s.bufferAllocator.AddDetailedStatistics(stats)
}

// PrintDetailedMap writes one object per allocator
func (s *TransientResourceSystem) PrintDetailedMap(json *jwriter.ObjectState) {
	images := json.Name("Images").Object()
	s.imageAllocator.PrintDetailedMap(&images)
	images.End()

	buffers := json.Name("Buffers").Object()
	s.bufferAllocator.PrintDetailedMap(&buffers)
	buffers.End()
}
