package framegraph_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/framegraph/framegraph"
	"github.com/vkngwrapper/framegraph/memutils"
	"github.com/vkngwrapper/framegraph/soft"
	"github.com/vkngwrapper/framegraph/transient"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

func colorDesc() transient.ImageDesc {
	return transient.ImageDesc{
		Format: core1_0.FormatR8G8B8A8SRGB,
		Width:  32,
		Height: 32,
		Usage:  core1_0.ImageUsageColorAttachment | core1_0.ImageUsageSampled,
	}
}

func newGraph(t *testing.T, options framegraph.CreateOptions) (*framegraph.FrameGraph, transient.Image) {
	device := soft.NewDevice(testLogger(), soft.CreateOptions{})
	graph, err := framegraph.New(testLogger(), device, options)
	require.NoError(t, err)

	swapchain, err := device.CreateImage(transient.ImageDesc{
		Format: core1_0.FormatB8G8R8A8SRGB,
		Width:  64,
		Height: 64,
		Usage:  core1_0.ImageUsageColorAttachment,
	})
	require.NoError(t, err)

	_, err = graph.SetRenderTarget(swapchain)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, graph.Destroy())
	})
	return graph, swapchain
}

type passRecorder struct {
	executed []string
}

func (r *passRecorder) pass(name string, init func(b *framegraph.Builder)) *framegraph.CallbackPass {
	return &framegraph.CallbackPass{
		PassName: name,
		OnInit: func(b *framegraph.Builder) error {
			init(b)
			return nil
		},
		OnExecute: func(ctx *framegraph.PassContext) error {
			r.executed = append(r.executed, ctx.PassName())
			return nil
		},
	}
}

func register(t *testing.T, graph *framegraph.FrameGraph, pass framegraph.RenderPass) framegraph.PassHandle {
	handle, err := graph.RegisterRenderPass(pass)
	require.NoError(t, err)
	return handle
}

func requirePassCulled(t *testing.T, graph *framegraph.FrameGraph, pass framegraph.PassHandle, expected bool) {
	culled, err := graph.IsPassCulled(pass)
	require.NoError(t, err)
	require.Equal(t, expected, culled)
}

func requireImageCulled(t *testing.T, graph *framegraph.FrameGraph, image framegraph.ImageHandle, expected bool) {
	culled, err := graph.IsResourceCulled(image)
	require.NoError(t, err)
	require.Equal(t, expected, culled)
}

func TestPresentPassSurvivesCulling(t *testing.T) {
	graph, swapchain := newGraph(t, framegraph.CreateOptions{})
	recorder := &passRecorder{}

	present := register(t, graph, recorder.pass("Present", func(b *framegraph.Builder) {
		b.WriteImage(b.RenderTarget())
		b.SetCullImmune()
	}))

	require.NoError(t, graph.Compile())

	requirePassCulled(t, graph, present, false)
	immune, err := graph.IsPassCullImmune(present)
	require.NoError(t, err)
	require.True(t, immune)

	// One reference remains rather than zero: the imported render target is never culled, so the
	// write reference it holds on its writer is never released
	refs, err := graph.PassReferenceCount(present)
	require.NoError(t, err)
	require.Equal(t, 1, refs)

	transientTarget, err := graph.IsTransient(graph.RenderTarget())
	require.NoError(t, err)
	require.False(t, transientTarget)
	requireImageCulled(t, graph, graph.RenderTarget(), false)

	node, err := graph.ImageNode(graph.RenderTarget())
	require.NoError(t, err)
	require.Same(t, swapchain, node.Image())

	require.NoError(t, graph.Execute())
	require.Equal(t, []string{"Present"}, recorder.executed)
}

func TestUnconsumedChainIsCulled(t *testing.T) {
	graph, _ := newGraph(t, framegraph.CreateOptions{})
	recorder := &passRecorder{}

	var resource, output framegraph.ImageHandle
	passA := register(t, graph, recorder.pass("A", func(b *framegraph.Builder) {
		resource = b.CreateImage("R", colorDesc())
	}))
	passB := register(t, graph, recorder.pass("B", func(b *framegraph.Builder) {
		b.ReadImage(resource)
		output = b.CreateImage("O", colorDesc())
	}))

	require.NoError(t, graph.Compile())

	requirePassCulled(t, graph, passA, true)
	requirePassCulled(t, graph, passB, true)
	requireImageCulled(t, graph, resource, true)
	requireImageCulled(t, graph, output, true)

	for _, pass := range []framegraph.PassHandle{passA, passB} {
		refs, err := graph.PassReferenceCount(pass)
		require.NoError(t, err)
		require.Equal(t, 0, refs)
	}

	refs, err := graph.ResourceReferenceCount(resource)
	require.NoError(t, err)
	require.Equal(t, 0, refs)

	node, err := graph.ImageNode(resource)
	require.NoError(t, err)
	require.Nil(t, node.Image())

	require.NoError(t, graph.Execute())
	require.Empty(t, recorder.executed)

	var stats memutils.Statistics
	graph.TransientResourceSystem().AddStatistics(&stats)
	require.Equal(t, 0, stats.PlacementCount)
}

func TestProducerWithLiveOutputSurvives(t *testing.T) {
	graph, _ := newGraph(t, framegraph.CreateOptions{})
	recorder := &passRecorder{}

	var used, unused framegraph.ImageHandle
	producer := register(t, graph, recorder.pass("Producer", func(b *framegraph.Builder) {
		used = b.CreateImage("Used", colorDesc())
		unused = b.CreateImage("Unused", colorDesc())
	}))
	consumer := register(t, graph, recorder.pass("Consumer", func(b *framegraph.Builder) {
		b.ReadImage(used)
		b.WriteImage(b.RenderTarget())
	}))

	require.NoError(t, graph.Compile())

	requirePassCulled(t, graph, producer, false)
	requirePassCulled(t, graph, consumer, false)
	requireImageCulled(t, graph, used, false)
	requireImageCulled(t, graph, unused, true)

	refs, err := graph.ResourceReferenceCount(used)
	require.NoError(t, err)
	require.Equal(t, 1, refs)

	require.NoError(t, graph.Execute())
	require.Equal(t, []string{"Producer", "Consumer"}, recorder.executed)
}

func TestCullImmunePassKeepsInputs(t *testing.T) {
	graph, _ := newGraph(t, framegraph.CreateOptions{})
	recorder := &passRecorder{}

	var input, output framegraph.ImageHandle
	producer := register(t, graph, recorder.pass("Producer", func(b *framegraph.Builder) {
		input = b.CreateImage("Input", colorDesc())
	}))
	capture := register(t, graph, recorder.pass("Capture", func(b *framegraph.Builder) {
		b.ReadImage(input)
		output = b.CreateImage("Output", colorDesc())
		b.SetCullImmune()
	}))

	require.NoError(t, graph.Compile())

	requirePassCulled(t, graph, producer, false)
	requirePassCulled(t, graph, capture, false)
	requireImageCulled(t, graph, input, false)
	requireImageCulled(t, graph, output, true)

	// Nothing reads Output, so it is never placed even though its creator runs
	node, err := graph.ImageNode(output)
	require.NoError(t, err)
	require.Nil(t, node.Image())

	refs, err := graph.PassReferenceCount(capture)
	require.NoError(t, err)
	require.Equal(t, 1, refs)

	require.NoError(t, graph.Execute())
	require.Equal(t, []string{"Producer", "Capture"}, recorder.executed)
}

func TestReadOnlyPassSurvives(t *testing.T) {
	graph, _ := newGraph(t, framegraph.CreateOptions{})
	recorder := &passRecorder{}

	var resource framegraph.ImageHandle
	producer := register(t, graph, recorder.pass("Producer", func(b *framegraph.Builder) {
		resource = b.CreateImage("R", colorDesc())
	}))
	reader := register(t, graph, recorder.pass("Readback", func(b *framegraph.Builder) {
		b.ReadImage(resource)
	}))

	require.NoError(t, graph.Compile())

	requirePassCulled(t, graph, producer, false)
	requirePassCulled(t, graph, reader, false)
	requireImageCulled(t, graph, resource, false)
}

func TestDisableCulling(t *testing.T) {
	graph, _ := newGraph(t, framegraph.CreateOptions{Flags: framegraph.CreateDisableCulling})
	recorder := &passRecorder{}

	var resource, output framegraph.ImageHandle
	passA := register(t, graph, recorder.pass("A", func(b *framegraph.Builder) {
		resource = b.CreateImage("R", colorDesc())
	}))
	passB := register(t, graph, recorder.pass("B", func(b *framegraph.Builder) {
		b.ReadImage(resource)
		output = b.CreateImage("O", colorDesc())
	}))

	require.NoError(t, graph.Compile())

	requirePassCulled(t, graph, passA, false)
	requirePassCulled(t, graph, passB, false)
	requireImageCulled(t, graph, resource, false)
	requireImageCulled(t, graph, output, false)

	node, err := graph.ImageNode(output)
	require.NoError(t, err)
	require.NotNil(t, node.Image())

	require.NoError(t, graph.Execute())
	require.Equal(t, []string{"A", "B"}, recorder.executed)
}

type randomPass struct {
	handle         framegraph.PassHandle
	reads          []framegraph.ImageHandle
	outputs        []framegraph.ImageHandle
	writesImported bool
	immune         bool
}

// randomGraph registers passCount passes. Each pass reads and writes only images created by
// earlier passes, so registration order is a topological order.
func randomGraph(t *testing.T, rng *rand.Rand, graph *framegraph.FrameGraph, passCount int) ([]randomPass, []framegraph.ImageHandle) {
	var images []framegraph.ImageHandle
	passes := make([]randomPass, 0, passCount)

	for i := 0; i < passCount; i++ {
		var info randomPass
		available := images

		info.handle = register(t, graph, &framegraph.CallbackPass{
			PassName: fmt.Sprintf("Pass%d", i),
			OnInit: func(b *framegraph.Builder) error {
				for _, image := range available {
					if rng.Intn(4) == 0 {
						info.reads = append(info.reads, b.ReadImage(image))
					}
				}
				if len(available) > 0 && rng.Intn(5) == 0 {
					info.outputs = append(info.outputs, b.WriteImage(available[rng.Intn(len(available))]))
				}
				for n := rng.Intn(3); n > 0; n-- {
					image := b.CreateImage(fmt.Sprintf("Image%d", len(images)), colorDesc())
					images = append(images, image)
					info.outputs = append(info.outputs, image)
				}
				if rng.Intn(6) == 0 {
					b.WriteImage(b.RenderTarget())
					info.writesImported = true
				}
				if rng.Intn(8) == 0 {
					b.SetCullImmune()
					info.immune = true
				}
				return nil
			},
		})
		passes = append(passes, info)
	}

	return passes, images
}

func TestRandomGraphCulling(t *testing.T) {
	rng := rand.New(rand.NewSource(2024))

	for round := 0; round < 100; round++ {
		graph, _ := newGraph(t, framegraph.CreateOptions{})
		passes, images := randomGraph(t, rng, graph, 4+rng.Intn(12))
		require.NoError(t, graph.Compile())

		culledPass := make([]bool, len(passes))
		for i, pass := range passes {
			culled, err := graph.IsPassCulled(pass.handle)
			require.NoError(t, err)
			culledPass[i] = culled

			refs, err := graph.PassReferenceCount(pass.handle)
			require.NoError(t, err)
			require.GreaterOrEqual(t, refs, 0)
		}

		culledImage := map[framegraph.ImageHandle]bool{}
		for _, image := range images {
			culled, err := graph.IsResourceCulled(image)
			require.NoError(t, err)
			culledImage[image] = culled

			refs, err := graph.ResourceReferenceCount(image)
			require.NoError(t, err)
			require.GreaterOrEqual(t, refs, 0)
		}

		liveReaders := map[framegraph.ImageHandle]int{}
		for i, pass := range passes {
			if culledPass[i] {
				continue
			}
			for _, image := range pass.reads {
				require.False(t, culledImage[image], "round %d: live pass %d reads a culled image", round, i)
				liveReaders[image]++
			}
		}

		for i, pass := range passes {
			if culledPass[i] {
				require.False(t, pass.immune, "round %d: pass %d", round, i)
				require.False(t, pass.writesImported, "round %d: pass %d", round, i)
				for _, image := range pass.outputs {
					require.True(t, culledImage[image], "round %d: culled pass %d has a live output", round, i)
				}
				continue
			}

			if pass.immune || pass.writesImported || (len(pass.outputs) == 0 && len(pass.reads) > 0) {
				continue
			}

			consumed := false
			for _, image := range pass.outputs {
				if liveReaders[image] > 0 {
					consumed = true
				}
			}
			require.True(t, consumed, "round %d: pass %d survived without a consumer", round, i)
		}
	}
}

func TestCompileAliasesReleasedMemory(t *testing.T) {
	graph, _ := newGraph(t, framegraph.CreateOptions{})
	recorder := &passRecorder{}

	var first, second, third framegraph.ImageHandle
	register(t, graph, recorder.pass("First", func(b *framegraph.Builder) {
		first = b.CreateImage("First", colorDesc())
	}))
	register(t, graph, recorder.pass("Second", func(b *framegraph.Builder) {
		b.ReadImage(first)
		second = b.CreateImage("Second", colorDesc())
	}))
	thirdPass := register(t, graph, recorder.pass("Third", func(b *framegraph.Builder) {
		b.ReadImage(second)
		third = b.CreateImage("Third", colorDesc())
	}))
	register(t, graph, recorder.pass("Composite", func(b *framegraph.Builder) {
		b.ReadImage(third)
		b.WriteImage(b.RenderTarget())
	}))

	require.NoError(t, graph.Compile())

	firstNode, err := graph.ImageNode(first)
	require.NoError(t, err)
	secondNode, err := graph.ImageNode(second)
	require.NoError(t, err)
	thirdNode, err := graph.ImageNode(third)
	require.NoError(t, err)

	require.Equal(t, 0, firstNode.Image().(*soft.Image).Offset())
	require.Equal(t, 4096, secondNode.Image().(*soft.Image).Offset())
	require.Equal(t, 0, thirdNode.Image().(*soft.Image).Offset())

	// The third image reuses the cached object of the first
	require.Same(t, firstNode.Image(), thirdNode.Image())

	barriers, err := graph.PassBarriers(thirdPass)
	require.NoError(t, err)
	require.Len(t, barriers, 1)
	require.Equal(t, firstNode.ID(), barriers[0].Old.ResourceID)
	require.Equal(t, thirdNode.ID(), barriers[0].New.ResourceID)
	require.Equal(t, 0, barriers[0].OverlapMin)
	require.Equal(t, 4095, barriers[0].OverlapMax)
	require.True(t, barriers[0].WriteHazard)
	require.False(t, barriers[0].CrossQueue)

	var stats memutils.Statistics
	graph.TransientResourceSystem().AddStatistics(&stats)
	require.Equal(t, 0, stats.PlacementCount)

	recorder.executed = nil
	_, err = graph.RegisterRenderPass(recorder.pass("Late", func(b *framegraph.Builder) {}))
	require.ErrorIs(t, err, framegraph.ErrAlreadyCompiled)

	require.NoError(t, graph.Execute())
	require.Equal(t, []string{"First", "Second", "Third", "Composite"}, recorder.executed)
}

func TestCompileCrossQueueBarrier(t *testing.T) {
	graph, _ := newGraph(t, framegraph.CreateOptions{})

	var first, second framegraph.ImageHandle
	register(t, graph, &framegraph.CallbackPass{
		PassName: "Compute",
		OnInit: func(b *framegraph.Builder) error {
			b.SetQueue(transient.QueueCompute)
			first = b.CreateImage("Scratch", transient.ImageDesc{
				Format: core1_0.FormatR8G8B8A8SRGB, Width: 32, Height: 32, Usage: core1_0.ImageUsageStorage,
			})
			return nil
		},
	})
	register(t, graph, &framegraph.CallbackPass{
		PassName: "Resolve",
		OnInit: func(b *framegraph.Builder) error {
			b.SetQueue(transient.QueueCompute)
			b.ReadImage(first)
			b.WriteImage(b.RenderTarget())
			return nil
		},
	})
	lighting := register(t, graph, &framegraph.CallbackPass{
		PassName: "Lighting",
		OnInit: func(b *framegraph.Builder) error {
			second = b.CreateImage("Lighting", colorDesc())
			return nil
		},
	})
	register(t, graph, &framegraph.CallbackPass{
		PassName: "Composite",
		OnInit: func(b *framegraph.Builder) error {
			b.ReadImage(second)
			b.WriteImage(b.RenderTarget())
			return nil
		},
	})

	require.NoError(t, graph.Compile())

	barriers, err := graph.PassBarriers(lighting)
	require.NoError(t, err)
	require.Len(t, barriers, 1)
	require.True(t, barriers[0].CrossQueue)
	require.Equal(t, transient.QueueCompute, barriers[0].Old.LastUserPass.Queue)
	require.Equal(t, transient.QueueGraphics, barriers[0].New.CreatorPass.Queue)
}

func TestCompileOutOfMemory(t *testing.T) {
	imageDesc := transient.DefaultAllocatorDesc(transient.ResourceKindImage)
	imageDesc.AllocationPolicy = transient.AllocationPolicyFixedSize
	imageDesc.InitialPageSize = 4096
	imageDesc.MemoryBudget = 4096

	graph, _ := newGraph(t, framegraph.CreateOptions{ImageAllocator: imageDesc})

	var first, second framegraph.ImageHandle
	register(t, graph, &framegraph.CallbackPass{
		PassName: "Both",
		OnInit: func(b *framegraph.Builder) error {
			first = b.CreateImage("First", colorDesc())
			second = b.CreateImage("Second", colorDesc())
			return nil
		},
	})
	register(t, graph, &framegraph.CallbackPass{
		PassName: "Consume",
		OnInit: func(b *framegraph.Builder) error {
			b.ReadImage(first)
			b.ReadImage(second)
			b.WriteImage(b.RenderTarget())
			return nil
		},
	})

	err := graph.Compile()
	require.ErrorIs(t, err, transient.ErrOutOfMemory)
	require.True(t, transient.IsOutOfMemory(err))
	require.False(t, graph.IsCompiled())
	require.ErrorIs(t, graph.Execute(), framegraph.ErrNotCompiled)

	var stats memutils.Statistics
	graph.TransientResourceSystem().ImageAllocator().AddStatistics(&stats)
	require.Equal(t, 0, stats.PlacementCount)
	require.Equal(t, 1, stats.PageCount)
}

func TestBuffersAndPassContext(t *testing.T) {
	graph, swapchain := newGraph(t, framegraph.CreateOptions{})

	var particles framegraph.BufferHandle
	var scratch framegraph.ImageHandle
	register(t, graph, &framegraph.CallbackPass{
		PassName: "Simulate",
		OnInit: func(b *framegraph.Builder) error {
			b.SetQueue(transient.QueueCompute)
			particles = b.CreateBuffer("Particles", transient.BufferDesc{
				Size:  1000,
				Usage: core1_0.BufferUsageStorageBuffer,
			})
			return nil
		},
	})

	var sawBuffer transient.Buffer
	var scratchErr error
	var queue transient.QueueType
	register(t, graph, &framegraph.CallbackPass{
		PassName: "Draw",
		OnInit: func(b *framegraph.Builder) error {
			b.ReadBuffer(particles)
			b.WriteImage(b.RenderTarget())
			scratch = b.CreateImage("Scratch", colorDesc())
			return nil
		},
		OnExecute: func(ctx *framegraph.PassContext) error {
			var err error
			sawBuffer, err = ctx.Buffer(particles)
			if err != nil {
				return err
			}

			target, err := ctx.Image(ctx.RenderTarget())
			if err != nil {
				return err
			}
			if target != swapchain {
				return errors.New("unexpected render target")
			}

			queue = ctx.Queue()
			_, scratchErr = ctx.Image(scratch)
			return nil
		},
	})

	require.NoError(t, graph.Compile())
	require.NoError(t, graph.Execute())

	require.NotNil(t, sawBuffer)
	require.Equal(t, 1000, sawBuffer.Desc().Size)
	require.Equal(t, 1000, sawBuffer.(*soft.Buffer).Size())
	require.Equal(t, transient.QueueGraphics, queue)
	require.ErrorIs(t, scratchErr, framegraph.ErrResourceCulled)

	culled, err := graph.IsBufferCulled(particles)
	require.NoError(t, err)
	require.False(t, culled)

	refs, err := graph.BufferReferenceCount(particles)
	require.NoError(t, err)
	require.Equal(t, 1, refs)
}

func TestExecuteWrapsPassErrors(t *testing.T) {
	graph, _ := newGraph(t, framegraph.CreateOptions{})
	failure := errors.New("device lost")

	register(t, graph, &framegraph.CallbackPass{
		PassName: "Broken",
		OnInit: func(b *framegraph.Builder) error {
			b.WriteImage(b.RenderTarget())
			return nil
		},
		OnExecute: func(ctx *framegraph.PassContext) error {
			return failure
		},
	})

	require.NoError(t, graph.Compile())
	err := graph.Execute()
	require.ErrorIs(t, err, failure)
	require.Contains(t, err.Error(), "Broken")
}

func TestRegisterRenderPassErrors(t *testing.T) {
	graph, _ := newGraph(t, framegraph.CreateOptions{})

	_, err := graph.RegisterRenderPass(&framegraph.CallbackPass{
		PassName: "BadHandle",
		OnInit: func(b *framegraph.Builder) error {
			b.ReadImage(framegraph.ImageHandle(42))
			return nil
		},
	})
	require.ErrorIs(t, err, framegraph.ErrInvalidHandle)

	_, err = graph.RegisterRenderPass(&framegraph.CallbackPass{
		PassName: "WrongKind",
		OnInit: func(b *framegraph.Builder) error {
			b.ReadBuffer(framegraph.BufferHandle(b.RenderTarget()))
			return nil
		},
	})
	require.ErrorIs(t, err, framegraph.ErrInvalidHandle)

	_, err = graph.RegisterRenderPass(&framegraph.CallbackPass{
		PassName: "BadDesc",
		OnInit: func(b *framegraph.Builder) error {
			b.CreateImage("Empty", transient.ImageDesc{Width: 0, Height: 4, Usage: core1_0.ImageUsageSampled})
			return nil
		},
	})
	require.ErrorIs(t, err, transient.ErrInvalidDesc)

	initErr := errors.New("init failed")
	_, err = graph.RegisterRenderPass(&framegraph.CallbackPass{
		PassName: "InitFails",
		OnInit: func(b *framegraph.Builder) error {
			return initErr
		},
	})
	require.ErrorIs(t, err, initErr)

	_, err = graph.PassReferenceCount(framegraph.PassHandle(0))
	require.ErrorIs(t, err, framegraph.ErrInvalidHandle)
}

func TestResetStartsNewFrame(t *testing.T) {
	graph, swapchain := newGraph(t, framegraph.CreateOptions{})
	recorder := &passRecorder{}

	buildFrame := func() {
		var resource framegraph.ImageHandle
		register(t, graph, recorder.pass("Produce", func(b *framegraph.Builder) {
			resource = b.CreateImage("R", colorDesc())
		}))
		register(t, graph, recorder.pass("Present", func(b *framegraph.Builder) {
			b.ReadImage(resource)
			b.WriteImage(b.RenderTarget())
		}))
	}

	buildFrame()
	require.NoError(t, graph.Compile())
	require.ErrorIs(t, graph.Compile(), framegraph.ErrAlreadyCompiled)
	require.NoError(t, graph.Execute())

	pages := graph.TransientResourceSystem().ImageAllocator().PageCount()

	graph.Reset()
	require.False(t, graph.IsCompiled())
	require.Equal(t, 0, graph.PassCount())
	require.NotZero(t, graph.RenderTarget())

	node, err := graph.ImageNode(graph.RenderTarget())
	require.NoError(t, err)
	require.Same(t, swapchain, node.Image())

	buildFrame()
	require.NoError(t, graph.Compile())
	require.NoError(t, graph.Execute())
	require.Equal(t, []string{"Produce", "Present", "Produce", "Present"}, recorder.executed)
	require.Equal(t, pages, graph.TransientResourceSystem().ImageAllocator().PageCount())
}

func TestCreateDepthStencil(t *testing.T) {
	graph, _ := newGraph(t, framegraph.CreateOptions{})

	handle, err := graph.CreateDepthStencil(core1_0.FormatD32SignedFloat)
	require.NoError(t, err)
	require.Equal(t, handle, graph.DepthStencil())

	node, err := graph.ImageNode(handle)
	require.NoError(t, err)
	require.False(t, node.IsTransient())

	desc := node.Image().Desc()
	require.Equal(t, 64, desc.Width)
	require.Equal(t, 64, desc.Height)
	require.Equal(t, core1_0.ImageUsageDepthStencilAttachment, desc.Usage)

	graph.Reset()
	require.NotZero(t, graph.DepthStencil())
}

func TestCreateDepthStencilWithoutRenderTarget(t *testing.T) {
	device := soft.NewDevice(testLogger(), soft.CreateOptions{})
	graph, err := framegraph.New(testLogger(), device, framegraph.CreateOptions{})
	require.NoError(t, err)

	_, err = graph.CreateDepthStencil(core1_0.FormatD32SignedFloat)
	require.Error(t, err)
	require.NoError(t, graph.Destroy())
}

func TestInvalidAllocatorOptions(t *testing.T) {
	device := soft.NewDevice(testLogger(), soft.CreateOptions{})

	desc := transient.DefaultAllocatorDesc(transient.ResourceKindBuffer)
	desc.Alignment = 3
	_, err := framegraph.New(testLogger(), device, framegraph.CreateOptions{BufferAllocator: desc})
	require.ErrorIs(t, err, transient.ErrInvalidDesc)
}

func TestWriteDotAndStats(t *testing.T) {
	graph, _ := newGraph(t, framegraph.CreateOptions{})

	var used framegraph.ImageHandle
	register(t, graph, &framegraph.CallbackPass{
		PassName: "Producer",
		OnInit: func(b *framegraph.Builder) error {
			used = b.CreateImage("Used", colorDesc())
			b.CreateImage("Unused", colorDesc())
			return nil
		},
	})
	register(t, graph, &framegraph.CallbackPass{
		PassName: "Present",
		OnInit: func(b *framegraph.Builder) error {
			b.ReadImage(used)
			b.WriteImage(b.RenderTarget())
			return nil
		},
	})
	require.NoError(t, graph.Compile())

	var buf bytes.Buffer
	require.NoError(t, graph.WriteDot(&buf))
	dot := buf.String()
	require.Contains(t, dot, "digraph framegraph {")
	require.Contains(t, dot, "Producer")
	require.Contains(t, dot, "style=dashed")
	require.Contains(t, dot, "p0 -> r1")
	require.Contains(t, dot, "r1 -> p1")

	stats := graph.BuildStatsString(true)
	require.True(t, json.Valid([]byte(stats)))
	require.Contains(t, stats, `"CulledResources":1`)
	require.Contains(t, stats, `"DetailedMap"`)

	summary := graph.BuildStatsString(false)
	require.True(t, json.Valid([]byte(summary)))
	require.NotContains(t, summary, `"DetailedMap"`)
}

func TestDetailedStatsNestPageData(t *testing.T) {
	graph, _ := newGraph(t, framegraph.CreateOptions{})

	var scratch framegraph.ImageHandle
	register(t, graph, &framegraph.CallbackPass{
		PassName: "Producer",
		OnInit: func(b *framegraph.Builder) error {
			scratch = b.CreateImage("Scratch", colorDesc())
			return nil
		},
	})
	register(t, graph, &framegraph.CallbackPass{
		PassName: "Present",
		OnInit: func(b *framegraph.Builder) error {
			b.ReadImage(scratch)
			b.WriteImage(b.RenderTarget())
			return nil
		},
	})
	require.NoError(t, graph.Compile())

	type page struct {
		Kind         string
		TotalBytes   int
		Placements   int
		UnusedRanges int
		Regions      []struct {
			Offset int
			Size   int
		}
	}
	var decoded struct {
		Total struct {
			PageCount        int
			PlacementCount   int
			PageBytes        int
			UnusedRangeCount int
		}
		DetailedMap struct {
			Images struct {
				BytesAllocated int
				Pages          map[string]page
			}
			Buffers struct {
				BytesAllocated int
				Pages          map[string]page
			}
		}
	}
	require.NoError(t, json.Unmarshal([]byte(graph.BuildStatsString(true)), &decoded))

	require.Equal(t, 2, decoded.Total.PageCount)
	require.Equal(t, 0, decoded.Total.PlacementCount)
	require.Equal(t, 2*transient.DefaultInitialPageSize, decoded.Total.PageBytes)
	require.Equal(t, 2, decoded.Total.UnusedRangeCount)

	imagePage, ok := decoded.DetailedMap.Images.Pages["0"]
	require.True(t, ok)
	require.Equal(t, "ResourceKindImage", imagePage.Kind)
	require.Equal(t, transient.DefaultInitialPageSize, imagePage.TotalBytes)
	require.Equal(t, 0, imagePage.Placements)
	require.Equal(t, 1, imagePage.UnusedRanges)
	require.Len(t, imagePage.Regions, 1)
	require.Equal(t, transient.DefaultInitialPageSize, imagePage.Regions[0].Size)

	bufferPage, ok := decoded.DetailedMap.Buffers.Pages["0"]
	require.True(t, ok)
	require.Equal(t, "ResourceKindBuffer", bufferPage.Kind)
	require.Equal(t, transient.DefaultInitialPageSize, decoded.DetailedMap.Buffers.BytesAllocated)
}

func TestFailedRegistrationLeavesNoEdges(t *testing.T) {
	graph, _ := newGraph(t, framegraph.CreateOptions{})

	_, err := graph.RegisterRenderPass(&framegraph.CallbackPass{
		PassName: "Broken",
		OnInit: func(b *framegraph.Builder) error {
			b.WriteImage(b.RenderTarget())
			b.CreateImage("Orphan", colorDesc())
			b.ReadImage(framegraph.ImageHandle(99))
			return nil
		},
	})
	require.ErrorIs(t, err, framegraph.ErrInvalidHandle)
	require.Equal(t, 0, graph.PassCount())

	_, err = graph.ImageNode(framegraph.ImageHandle(2))
	require.ErrorIs(t, err, framegraph.ErrInvalidHandle)

	require.NoError(t, graph.Compile())

	var buf bytes.Buffer
	require.NoError(t, graph.WriteDot(&buf))
	require.NotContains(t, buf.String(), "->")
}
