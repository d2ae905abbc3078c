package framegraph

// A resource is referenced once by each pass that reads it. A pass is referenced once by each
// resource it writes and once by each resource it reads. When all of a pass's write references
// are gone nothing consumes its output, so it gives up its read references as well, which can
// in turn leave its inputs unreferenced.

func (g *FrameGraph) initializeReferenceCounts() {
	for i := range g.resources {
		node := &g.resources[i]
		node.refCount = len(node.readers)
		node.lastUser = noPass
	}

	for i := range g.passes {
		pass := &g.passes[i]
		pass.refCount = len(pass.writes) + len(pass.reads)
		pass.barriers = nil
	}
}

func (g *FrameGraph) cull() {
	var stack []int
	for i := range g.resources {
		node := &g.resources[i]
		if node.IsTransient() && node.refCount == 0 {
			stack = append(stack, i)
		}
	}

	for len(stack) > 0 {
		top := len(stack) - 1
		resourceIndex := stack[top]
		stack = stack[:top]

		// A pass's count never drops below len(reads) while its reads are held, so reaching
		// len(reads) means every write reference is gone.
		for _, writer := range g.resources[resourceIndex].writers {
			pass := &g.passes[writer]
			if pass.refCount <= len(pass.reads) {
				continue
			}

			pass.refCount--
			if pass.refCount > len(pass.reads) || pass.cullImmune {
				continue
			}

			// The pass has no consumers left
			for _, read := range pass.reads {
				pass.refCount--

				input := &g.resources[read]
				if removeReference(&input.refCount) && input.IsTransient() {
					stack = append(stack, read)
				}
			}
		}
	}
}

func (g *FrameGraph) computeLastUsers() {
	for i := range g.resources {
		node := &g.resources[i]
		node.lastUser = noPass
		if !node.IsTransient() || g.isResourceCulled(node) {
			continue
		}

		node.lastUser = node.creator
		for _, reader := range node.readers {
			if reader > node.lastUser && !g.isPassCulled(reader) {
				node.lastUser = reader
			}
		}
		for _, writer := range node.writers {
			if writer > node.lastUser && !g.isPassCulled(writer) {
				node.lastUser = writer
			}
		}
	}
}
