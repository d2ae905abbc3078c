package framegraph

import (
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/framegraph/transient"
)

// CreateFlags indicate specific frame graph behaviors to activate or deactivate
type CreateFlags int32

var createFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	createFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return createFlagsMapping.FlagsToString(f)
}

const (
	// CreateDisableCulling keeps every pass and resource alive regardless of reference counts. It is
	// a debugging aid: passes whose output is never consumed still execute and still receive memory.
	CreateDisableCulling CreateFlags = 1 << iota
)

func init() {
	CreateDisableCulling.Register("CreateDisableCulling")
}

// CreateOptions contains optional settings when creating a FrameGraph
type CreateOptions struct {
	// Flags indicates specific frame graph behaviors to activate or deactivate
	Flags CreateFlags

	// ImageAllocator configures the allocator that places transient images. A zero value is
	// replaced by transient.DefaultAllocatorDesc(transient.ResourceKindImage). AllocatedResourceType
	// is always forced to images.
	ImageAllocator transient.AllocatorDesc
	// BufferAllocator configures the allocator that places transient buffers. A zero value is
	// replaced by transient.DefaultAllocatorDesc(transient.ResourceKindBuffer).
	BufferAllocator transient.AllocatorDesc
}

func allocatorDescOrDefault(desc transient.AllocatorDesc, kind transient.ResourceKind) transient.AllocatorDesc {
	if desc == (transient.AllocatorDesc{}) {
		return transient.DefaultAllocatorDesc(kind)
	}

	desc.AllocatedResourceType = kind
	return desc
}
