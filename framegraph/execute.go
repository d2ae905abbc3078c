package framegraph

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/framegraph/transient"
)

// CallbackPass adapts a pair of functions to the RenderPass interface
type CallbackPass struct {
	PassName  string
	OnInit    func(builder *Builder) error
	OnExecute func(ctx *PassContext) error
}

func (p *CallbackPass) Name() string { return p.PassName }

func (p *CallbackPass) Initialize(builder *Builder) error {
	if p.OnInit == nil {
		return nil
	}
	return p.OnInit(builder)
}

func (p *CallbackPass) Execute(ctx *PassContext) error {
	if p.OnExecute == nil {
		return nil
	}
	return p.OnExecute(ctx)
}

// PassContext is handed to RenderPass.Execute and resolves the pass's handles to concrete objects
type PassContext struct {
	graph *FrameGraph
	pass  int
}

func (c *PassContext) PassName() string {
	return c.graph.passes[c.pass].name
}

func (c *PassContext) Queue() transient.QueueType {
	return c.graph.passes[c.pass].queue
}

// Barriers returns the aliasing barriers that must be honored before the pass's commands
func (c *PassContext) Barriers() []transient.Barrier {
	return c.graph.passes[c.pass].barriers
}

// RenderTarget returns the handle of the frame's imported render target
func (c *PassContext) RenderTarget() ImageHandle {
	return c.graph.renderTarget
}

// Image returns the concrete image for a handle. Culled images return ErrResourceCulled.
func (c *PassContext) Image(handle ImageHandle) (transient.Image, error) {
	node, err := c.graph.resource(handle.index(), transient.ResourceKindImage)
	if err != nil {
		return nil, err
	}
	if c.graph.isResourceCulled(node) {
		return nil, errors.Wrapf(ErrResourceCulled, "image %q", node.name)
	}
	return node.image, nil
}

// Buffer returns the concrete buffer for a handle. Culled buffers return ErrResourceCulled.
func (c *PassContext) Buffer(handle BufferHandle) (transient.Buffer, error) {
	node, err := c.graph.resource(handle.index(), transient.ResourceKindBuffer)
	if err != nil {
		return nil, err
	}
	if c.graph.isResourceCulled(node) {
		return nil, errors.Wrapf(ErrResourceCulled, "buffer %q", node.name)
	}
	return node.buffer, nil
}

// Execute runs every surviving pass in registration order. The first failing pass stops execution.
func (g *FrameGraph) Execute() error {
	g.logger.Debug("FrameGraph::Execute")

	if !g.compiled {
		return ErrNotCompiled
	}

	for i := range g.passes {
		if g.isPassCulled(i) {
			continue
		}

		pass := &g.passes[i]
		err := pass.pass.Execute(&PassContext{graph: g, pass: i})
		if err != nil {
			return errors.Wrapf(err, "render pass %q failed", pass.name)
		}
	}

	return nil
}
