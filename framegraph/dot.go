package framegraph

import (
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
)

type dotWriter struct {
	w   io.Writer
	err error
}

func (d *dotWriter) line(format string, args ...any) {
	if d.err != nil {
		return
	}
	_, d.err = fmt.Fprintf(d.w, format+"\n", args...)
}

func dotQuote(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

// WriteDot writes the frame as a graphviz digraph. Passes are boxes and resources are ellipses.
// Edges run from a pass to the resources it writes and from a resource to the passes that read
// it. Culled nodes are dashed. Call after Compile to see culling results.
func (g *FrameGraph) WriteDot(w io.Writer) error {
	d := &dotWriter{w: w}

	d.line("digraph framegraph {")
	d.line("\trankdir=LR;")

	for i := range g.passes {
		pass := &g.passes[i]
		style := "filled"
		if g.compiled && g.isPassCulled(i) {
			style = "dashed"
		}

		label := fmt.Sprintf("%s\\lqueue: %s\\lrefs: %d\\l", dotQuote(pass.name), pass.queue, pass.refCount)
		if pass.cullImmune {
			label += "cull immune\\l"
		}
		d.line("\tp%d [shape=box, style=%s, fillcolor=orange, label=\"%s\"];", i, style, label)
	}

	for i := range g.resources {
		node := &g.resources[i]
		style := "filled"
		if g.compiled && g.isResourceCulled(node) {
			style = "dashed"
		}

		color := "lightskyblue"
		if !node.IsTransient() {
			color = "palegreen"
		}

		label := fmt.Sprintf("%s\\lid: %d\\l%s\\lrefs: %d\\l", dotQuote(node.name), node.id, node.kind, node.refCount)
		d.line("\tr%d [shape=ellipse, style=%s, fillcolor=%s, label=\"%s\"];", i, style, color, label)
	}

	for i := range g.passes {
		pass := &g.passes[i]
		for _, resource := range pass.writes {
			d.line("\tp%d -> r%d [color=firebrick];", i, resource)
		}
		for _, resource := range pass.reads {
			d.line("\tr%d -> p%d [color=olivedrab];", resource, i)
		}
	}

	d.line("}")

	if d.err != nil {
		return errors.Wrap(d.err, "failed to write frame graph")
	}
	return nil
}
