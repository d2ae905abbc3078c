package framegraph

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/framegraph/transient"
)

// Builder is handed to RenderPass.Initialize and records the pass's resource edges. Handle
// errors are collected and returned from FrameGraph.RegisterRenderPass.
type Builder struct {
	graph *FrameGraph
	pass  int
	err   error
}

func (b *Builder) node() *passNode {
	return &b.graph.passes[b.pass]
}

func (b *Builder) fail(err error) {
	b.err = errors.CombineErrors(b.err, err)
}

// CreateImage adds a transient image owned by this pass. Creating a resource counts as writing it.
func (b *Builder) CreateImage(name string, desc transient.ImageDesc) ImageHandle {
	desc = desc.Normalized()
	if err := desc.Validate(); err != nil {
		b.fail(errors.Wrapf(err, "image %q", name))
	}

	index := b.graph.addResource(ResourceNode{
		name:      name,
		kind:      transient.ResourceKindImage,
		imageDesc: desc,
		creator:   b.pass,
	})
	b.recordCreate(index)
	return ImageHandle(index + 1)
}

// CreateBuffer adds a transient buffer owned by this pass. Creating a resource counts as writing it.
func (b *Builder) CreateBuffer(name string, desc transient.BufferDesc) BufferHandle {
	if err := desc.Validate(); err != nil {
		b.fail(errors.Wrapf(err, "buffer %q", name))
	}

	index := b.graph.addResource(ResourceNode{
		name:       name,
		kind:       transient.ResourceKindBuffer,
		bufferDesc: desc,
		creator:    b.pass,
	})
	b.recordCreate(index)
	return BufferHandle(index + 1)
}

func (b *Builder) recordCreate(index int) {
	pass := b.node()
	pass.creates = append(pass.creates, index)
	b.recordWrite(index)
}

func (b *Builder) recordRead(index int) {
	pass := b.node()
	pass.reads = addEdge(pass.reads, index)

	resource := &b.graph.resources[index]
	resource.readers = addEdge(resource.readers, b.pass)
}

func (b *Builder) recordWrite(index int) {
	pass := b.node()
	pass.writes = addEdge(pass.writes, index)

	resource := &b.graph.resources[index]
	resource.writers = addEdge(resource.writers, b.pass)
}

func (b *Builder) resolve(index int, kind transient.ResourceKind) bool {
	_, err := b.graph.resource(index, kind)
	if err != nil {
		b.fail(err)
		return false
	}
	return true
}

// ReadImage records that this pass reads the image, and returns the same handle
func (b *Builder) ReadImage(image ImageHandle) ImageHandle {
	if b.resolve(image.index(), transient.ResourceKindImage) {
		b.recordRead(image.index())
	}
	return image
}

// WriteImage records that this pass writes the image, and returns the same handle
func (b *Builder) WriteImage(image ImageHandle) ImageHandle {
	if b.resolve(image.index(), transient.ResourceKindImage) {
		b.recordWrite(image.index())
	}
	return image
}

// ReadBuffer records that this pass reads the buffer, and returns the same handle
func (b *Builder) ReadBuffer(buffer BufferHandle) BufferHandle {
	if b.resolve(buffer.index(), transient.ResourceKindBuffer) {
		b.recordRead(buffer.index())
	}
	return buffer
}

// WriteBuffer records that this pass writes the buffer, and returns the same handle
func (b *Builder) WriteBuffer(buffer BufferHandle) BufferHandle {
	if b.resolve(buffer.index(), transient.ResourceKindBuffer) {
		b.recordWrite(buffer.index())
	}
	return buffer
}

// SetCullImmune marks the pass as one that must execute even if nothing consumes its output
func (b *Builder) SetCullImmune() {
	b.node().cullImmune = true
}

// SetQueue selects the queue the pass is recorded on. Passes run on QueueGraphics by default.
func (b *Builder) SetQueue(queue transient.QueueType) {
	b.node().queue = queue
}

// RenderTarget returns the handle of the imported render target, or the zero handle if none was set
func (b *Builder) RenderTarget() ImageHandle {
	return b.graph.renderTarget
}

// DepthStencil returns the handle of the imported depth/stencil target, or the zero handle if none was set
func (b *Builder) DepthStencil() ImageHandle {
	return b.graph.depthStencil
}
