package framegraph

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/framegraph/transient"
	"golang.org/x/exp/slog"
)

// RenderPass is a unit of rendering work. Passes are registered in execution order.
type RenderPass interface {
	Name() string
	// Initialize declares the resources the pass creates, reads, and writes
	Initialize(builder *Builder) error
	// Execute records the pass's commands. It is only called for passes that survive culling.
	Execute(ctx *PassContext) error
}

// FrameGraph owns the passes and resources of one frame. Passes are registered, the graph is
// compiled (culled, then transient resources are placed), and surviving passes are executed.
// Reset starts the next frame; heap pages are kept across frames.
type FrameGraph struct {
	logger  *slog.Logger
	device  transient.Device
	options CreateOptions

	transientSystem *TransientResourceSystem

	passes    []passNode
	resources []ResourceNode

	renderTargetImage transient.Image
	depthStencilImage transient.Image
	renderTarget      ImageHandle
	depthStencil      ImageHandle

	compiled bool
}

// New creates a frame graph along with the allocators for its transient images and buffers
func New(logger *slog.Logger, device transient.Device, options CreateOptions) (*FrameGraph, error) {
	system, err := NewTransientResourceSystem(logger, device,
		allocatorDescOrDefault(options.ImageAllocator, transient.ResourceKindImage),
		allocatorDescOrDefault(options.BufferAllocator, transient.ResourceKindBuffer),
	)
	if err != nil {
		return nil, err
	}

	return &FrameGraph{
		logger:          logger,
		device:          device,
		options:         options,
		transientSystem: system,
	}, nil
}

// TransientResourceSystem returns the allocators backing the graph's transient resources
func (g *FrameGraph) TransientResourceSystem() *TransientResourceSystem {
	return g.transientSystem
}

func (g *FrameGraph) cullingDisabled() bool {
	return g.options.Flags&CreateDisableCulling != 0
}

func (g *FrameGraph) addResource(node ResourceNode) int {
	index := len(g.resources)
	node.id = transient.ResourceID(index)
	node.lastUser = noPass
	g.resources = append(g.resources, node)
	return index
}

func (g *FrameGraph) resource(index int, kind transient.ResourceKind) (*ResourceNode, error) {
	if index < 0 || index >= len(g.resources) {
		return nil, errors.Wrapf(ErrInvalidHandle, "resource handle %d", index+1)
	}

	node := &g.resources[index]
	if node.kind != kind {
		return nil, errors.Wrapf(ErrInvalidHandle, "resource %q is %s, not %s", node.name, node.kind, kind)
	}
	return node, nil
}

func (g *FrameGraph) pass(handle PassHandle) (*passNode, error) {
	index := handle.index()
	if index < 0 || index >= len(g.passes) {
		return nil, errors.Wrapf(ErrInvalidHandle, "pass handle %d", handle)
	}
	return &g.passes[index], nil
}

// RegisterRenderPass appends pass to the frame and lets it declare its resources
func (g *FrameGraph) RegisterRenderPass(pass RenderPass) (PassHandle, error) {
	g.logger.Debug("FrameGraph::RegisterRenderPass")

	if g.compiled {
		return 0, ErrAlreadyCompiled
	}

	index := len(g.passes)
	g.passes = append(g.passes, passNode{
		pass:  pass,
		name:  pass.Name(),
		queue: transient.QueueGraphics,
	})

	resourceCount := len(g.resources)
	builder := &Builder{graph: g, pass: index}
	err := pass.Initialize(builder)
	err = errors.CombineErrors(err, builder.err)
	if err != nil {
		g.discardPass(index, resourceCount)
		return 0, errors.Wrapf(err, "failed to initialize render pass %q", pass.Name())
	}

	return PassHandle(index + 1), nil
}

// discardPass removes the most recently registered pass along with the resources and edges it added
func (g *FrameGraph) discardPass(index int, resourceCount int) {
	for i := resourceCount; i < len(g.resources); i++ {
		g.resources[i] = ResourceNode{}
	}
	g.resources = g.resources[:resourceCount]

	for i := range g.resources {
		node := &g.resources[i]
		node.readers = dropLastEdge(node.readers, index)
		node.writers = dropLastEdge(node.writers, index)
	}

	g.passes[index] = passNode{}
	g.passes = g.passes[:index]
}

func (g *FrameGraph) importImage(name string, image transient.Image) ImageHandle {
	index := g.addResource(ResourceNode{
		name:      name,
		kind:      transient.ResourceKindImage,
		imageDesc: image.Desc(),
		creator:   noPass,
		image:     image,
	})
	return ImageHandle(index + 1)
}

// ImportImage adds an externally owned image to the current frame. Imported images are never
// culled or aliased.
func (g *FrameGraph) ImportImage(name string, image transient.Image) (ImageHandle, error) {
	if g.compiled {
		return 0, ErrAlreadyCompiled
	}
	return g.importImage(name, image), nil
}

// ImportBuffer adds an externally owned buffer to the current frame
func (g *FrameGraph) ImportBuffer(name string, buffer transient.Buffer) (BufferHandle, error) {
	if g.compiled {
		return 0, ErrAlreadyCompiled
	}

	index := g.addResource(ResourceNode{
		name:       name,
		kind:       transient.ResourceKindBuffer,
		bufferDesc: buffer.Desc(),
		creator:    noPass,
		buffer:     buffer,
	})
	return BufferHandle(index + 1), nil
}

// SetRenderTarget imports the image passes render the final frame into. The image is imported
// again automatically after each Reset.
func (g *FrameGraph) SetRenderTarget(image transient.Image) (ImageHandle, error) {
	if g.compiled {
		return 0, ErrAlreadyCompiled
	}

	g.renderTargetImage = image
	g.renderTarget = g.importImage("RenderTarget", image)
	return g.renderTarget, nil
}

// SetDepthStencil imports the frame's main depth/stencil target. The image is imported again
// automatically after each Reset.
func (g *FrameGraph) SetDepthStencil(image transient.Image) (ImageHandle, error) {
	if g.compiled {
		return 0, ErrAlreadyCompiled
	}

	g.depthStencilImage = image
	g.depthStencil = g.importImage("DepthStencil", image)
	return g.depthStencil, nil
}

// CreateDepthStencil creates a depth/stencil image with the render target's extent through the
// device, and imports it as the frame's depth/stencil target
func (g *FrameGraph) CreateDepthStencil(format core1_0.Format) (ImageHandle, error) {
	g.logger.Debug("FrameGraph::CreateDepthStencil")

	if g.renderTargetImage == nil {
		return 0, errors.New("a render target must be set before a depth/stencil target can be created")
	}

	target := g.renderTargetImage.Desc()
	image, err := g.device.CreateImage(transient.ImageDesc{
		ImageType:   core1_0.ImageType2D,
		Format:      format,
		Width:       target.Width,
		Height:      target.Height,
		Depth:       1,
		MipLevels:   1,
		ArrayLayers: 1,
		Samples:     target.Samples,
		Tiling:      core1_0.ImageTilingOptimal,
		Usage:       core1_0.ImageUsageDepthStencilAttachment,
	})
	if err != nil {
		return 0, err
	}

	return g.SetDepthStencil(image)
}

// RenderTarget returns the handle of the imported render target
func (g *FrameGraph) RenderTarget() ImageHandle { return g.renderTarget }

// DepthStencil returns the handle of the imported depth/stencil target
func (g *FrameGraph) DepthStencil() ImageHandle { return g.depthStencil }

// PassCount returns the number of passes registered this frame
func (g *FrameGraph) PassCount() int { return len(g.passes) }

// IsCompiled reports whether Compile has succeeded since the last Reset
func (g *FrameGraph) IsCompiled() bool { return g.compiled }

// Compile culls the frame's passes and resources, then places every surviving transient resource.
// On failure, every placement made so far is released, the aliasing history is cleared, and the
// frame stays uncompiled.
func (g *FrameGraph) Compile() error {
	g.logger.Debug("FrameGraph::Compile")

	if g.compiled {
		return ErrAlreadyCompiled
	}

	g.initializeReferenceCounts()
	if !g.cullingDisabled() {
		g.cull()
	}
	g.computeLastUsers()

	err := g.finishCompilation()
	if err != nil {
		g.releaseAllocated()
		g.transientSystem.Reset()
		return err
	}

	g.compiled = true

	culledPasses, culledResources := g.culledCounts()
	g.logger.LogAttrs(context.Background(), slog.LevelDebug, "FrameGraph::Compile complete",
		slog.Int("passes", len(g.passes)),
		slog.Int("culledPasses", culledPasses),
		slog.Int("resources", len(g.resources)),
		slog.Int("culledResources", culledResources),
	)
	return nil
}

func (g *FrameGraph) finishCompilation() error {
	releases := make([][]int, len(g.passes))
	for i := range g.resources {
		node := &g.resources[i]
		if node.lastUser != noPass {
			releases[node.lastUser] = append(releases[node.lastUser], i)
		}
	}

	for passIndex := range g.passes {
		pass := &g.passes[passIndex]
		pass.barriers = nil
		if g.isPassCulled(passIndex) {
			continue
		}

		info := transient.PassInfo{Index: passIndex, Queue: pass.queue}
		for _, resourceIndex := range pass.creates {
			node := &g.resources[resourceIndex]
			if g.isResourceCulled(node) {
				continue
			}

			lastUser := g.passes[node.lastUser]
			barriers, err := g.transientSystem.AllocateResource(node, info, transient.PassInfo{Index: node.lastUser, Queue: lastUser.queue})
			if err != nil {
				return errors.Wrapf(err, "failed to allocate %q for render pass %q", node.name, pass.name)
			}
			pass.barriers = append(pass.barriers, barriers...)
		}

		for _, resourceIndex := range releases[passIndex] {
			err := g.transientSystem.DeallocateResource(&g.resources[resourceIndex])
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func (g *FrameGraph) releaseAllocated() {
	for i := range g.resources {
		node := &g.resources[i]
		if !node.allocated {
			continue
		}

		err := g.transientSystem.DeallocateResource(node)
		if err != nil {
			g.logger.LogAttrs(context.Background(), slog.LevelError, "FrameGraph::Compile failed to release resource",
				slog.String("resource", node.name),
				slog.Any("error", err),
			)
		}
	}
}

func (g *FrameGraph) isPassCulled(index int) bool {
	return !g.cullingDisabled() && g.passes[index].culled()
}

func (g *FrameGraph) isResourceCulled(node *ResourceNode) bool {
	return !g.cullingDisabled() && node.culled()
}

func (g *FrameGraph) culledCounts() (passes int, resources int) {
	for i := range g.passes {
		if g.isPassCulled(i) {
			passes++
		}
	}
	for i := range g.resources {
		if g.isResourceCulled(&g.resources[i]) {
			resources++
		}
	}
	return passes, resources
}

// Reset discards the frame's passes and resources and starts a new frame. The render target and
// depth/stencil target are imported again.
func (g *FrameGraph) Reset() {
	g.logger.Debug("FrameGraph::Reset")

	g.releaseAllocated()

	for i := range g.passes {
		g.passes[i] = passNode{}
	}
	for i := range g.resources {
		g.resources[i] = ResourceNode{}
	}
	g.passes = g.passes[:0]
	g.resources = g.resources[:0]
	g.compiled = false

	g.transientSystem.Reset()

	g.renderTarget = 0
	g.depthStencil = 0
	if g.renderTargetImage != nil {
		g.renderTarget = g.importImage("RenderTarget", g.renderTargetImage)
	}
	if g.depthStencilImage != nil {
		g.depthStencil = g.importImage("DepthStencil", g.depthStencilImage)
	}
}

// Destroy releases the frame and destroys every heap page
func (g *FrameGraph) Destroy() error {
	g.logger.Debug("FrameGraph::Destroy")

	g.releaseAllocated()
	g.passes = nil
	g.resources = nil
	g.compiled = false

	return g.transientSystem.Destroy()
}

// ResourceReferenceCount returns the reference count of the resource a handle refers to. Only
// meaningful after Compile.
func (g *FrameGraph) ResourceReferenceCount(handle ImageHandle) (int, error) {
	node, err := g.resource(handle.index(), transient.ResourceKindImage)
	if err != nil {
		return 0, err
	}
	return node.refCount, nil
}

// BufferReferenceCount is ResourceReferenceCount for buffers
func (g *FrameGraph) BufferReferenceCount(handle BufferHandle) (int, error) {
	node, err := g.resource(handle.index(), transient.ResourceKindBuffer)
	if err != nil {
		return 0, err
	}
	return node.refCount, nil
}

// ImageNode returns the node an image handle refers to
func (g *FrameGraph) ImageNode(handle ImageHandle) (*ResourceNode, error) {
	return g.resource(handle.index(), transient.ResourceKindImage)
}

// BufferNode returns the node a buffer handle refers to
func (g *FrameGraph) BufferNode(handle BufferHandle) (*ResourceNode, error) {
	return g.resource(handle.index(), transient.ResourceKindBuffer)
}

// IsTransient reports whether the image was created by a pass rather than imported
func (g *FrameGraph) IsTransient(handle ImageHandle) (bool, error) {
	node, err := g.resource(handle.index(), transient.ResourceKindImage)
	if err != nil {
		return false, err
	}
	return node.IsTransient(), nil
}

// IsResourceCulled reports whether the image was culled. Only meaningful after Compile.
func (g *FrameGraph) IsResourceCulled(handle ImageHandle) (bool, error) {
	node, err := g.resource(handle.index(), transient.ResourceKindImage)
	if err != nil {
		return false, err
	}
	return g.isResourceCulled(node), nil
}

// IsBufferCulled reports whether the buffer was culled. Only meaningful after Compile.
func (g *FrameGraph) IsBufferCulled(handle BufferHandle) (bool, error) {
	node, err := g.resource(handle.index(), transient.ResourceKindBuffer)
	if err != nil {
		return false, err
	}
	return g.isResourceCulled(node), nil
}

// PassReferenceCount returns the reference count of a pass. Only meaningful after Compile.
func (g *FrameGraph) PassReferenceCount(handle PassHandle) (int, error) {
	pass, err := g.pass(handle)
	if err != nil {
		return 0, err
	}
	return pass.refCount, nil
}

// IsPassCulled reports whether a pass will be skipped by Execute. Only meaningful after Compile.
func (g *FrameGraph) IsPassCulled(handle PassHandle) (bool, error) {
	_, err := g.pass(handle)
	if err != nil {
		return false, err
	}
	return g.isPassCulled(handle.index()), nil
}

// IsPassCullImmune reports whether the pass called Builder.SetCullImmune
func (g *FrameGraph) IsPassCullImmune(handle PassHandle) (bool, error) {
	pass, err := g.pass(handle)
	if err != nil {
		return false, err
	}
	return pass.cullImmune, nil
}

// PassBarriers returns the aliasing barriers that must be honored before the pass runs
func (g *FrameGraph) PassBarriers(handle PassHandle) ([]transient.Barrier, error) {
	pass, err := g.pass(handle)
	if err != nil {
		return nil, err
	}
	return pass.barriers, nil
}
