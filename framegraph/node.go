package framegraph

import (
	"github.com/vkngwrapper/framegraph/transient"
	"golang.org/x/exp/slices"
)

const noPass = -1

// PassHandle identifies a registered render pass within the current frame. The zero value is invalid.
type PassHandle uint32

// ImageHandle identifies an image resource within the current frame. The zero value is invalid.
type ImageHandle uint32

// BufferHandle identifies a buffer resource within the current frame. The zero value is invalid.
type BufferHandle uint32

func (h PassHandle) index() int   { return int(h) - 1 }
func (h ImageHandle) index() int  { return int(h) - 1 }
func (h BufferHandle) index() int { return int(h) - 1 }

// ResourceNode is one logical image or buffer used during a frame. Imported resources have no
// creator pass; they are never culled and never placed in a heap page.
type ResourceNode struct {
	id   transient.ResourceID
	name string
	kind transient.ResourceKind

	imageDesc  transient.ImageDesc
	bufferDesc transient.BufferDesc

	creator int
	readers []int
	writers []int

	refCount int
	lastUser int

	image     transient.Image
	buffer    transient.Buffer
	allocated bool
}

func (n *ResourceNode) ID() transient.ResourceID     { return n.id }
func (n *ResourceNode) Name() string                 { return n.name }
func (n *ResourceNode) Kind() transient.ResourceKind { return n.kind }

// IsTransient is true for resources created by a pass, which are the only ones that can be culled
// or aliased
func (n *ResourceNode) IsTransient() bool { return n.creator != noPass }

// ReferenceCount is the number of passes still reading the resource after culling
func (n *ResourceNode) ReferenceCount() int { return n.refCount }

// Image returns the concrete image backing the node. It is nil for buffers and for transient
// images that have not been allocated.
func (n *ResourceNode) Image() transient.Image { return n.image }

// Buffer returns the concrete buffer backing the node
func (n *ResourceNode) Buffer() transient.Buffer { return n.buffer }

func (n *ResourceNode) culled() bool {
	return n.IsTransient() && n.refCount == 0
}

func (n *ResourceNode) transientImageDesc() transient.TransientImageDesc {
	return transient.TransientImageDesc{ID: n.id, Desc: n.imageDesc}
}

func (n *ResourceNode) transientBufferDesc() transient.TransientBufferDesc {
	return transient.TransientBufferDesc{ID: n.id, Desc: n.bufferDesc}
}

type passNode struct {
	pass  RenderPass
	name  string
	queue transient.QueueType

	creates []int
	reads   []int
	writes  []int

	refCount   int
	cullImmune bool

	barriers []transient.Barrier
}

func (p *passNode) culled() bool {
	return p.refCount == 0 && !p.cullImmune
}

// addEdge appends value to list unless it is already present
func addEdge(list []int, value int) []int {
	if slices.Contains(list, value) {
		return list
	}
	return append(list, value)
}

// dropLastEdge removes value from the end of list. Edges are appended in pass order, so the most
// recent pass is always last.
func dropLastEdge(list []int, value int) []int {
	if len(list) > 0 && list[len(list)-1] == value {
		return list[:len(list)-1]
	}
	return list
}

// removeReference decrements a reference count without letting it go negative, and reports
// whether this call took it from one to zero
func removeReference(count *int) bool {
	if *count == 0 {
		return false
	}
	*count--
	return *count == 0
}
