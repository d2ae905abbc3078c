package transient

import (
	"context"
	"math"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/framegraph/memutils"
	"golang.org/x/exp/slog"
)

type resourceInfo struct {
	page     int
	stats    AllocationStats
	creator  PassInfo
	lastUser PassInfo
	resource Resource
}

// Allocator places transient resources of a single kind into a list of heap pages, and records
// which page backs each resource id so the release can be routed back to it. Every page has its
// own AliasedResourceTracker, which is fed each placement.
type Allocator struct {
	logger *slog.Logger
	device Device
	desc   AllocatorDesc

	pages          []HeapPage
	trackers       []*AliasedResourceTracker
	resources      *swiss.Map[ResourceID, resourceInfo]
	bytesAllocated int
}

// NewAllocator validates desc and creates the allocator's first heap page
func NewAllocator(logger *slog.Logger, device Device, desc AllocatorDesc) (*Allocator, error) {
	err := desc.Validate()
	if err != nil {
		return nil, err
	}

	if desc.AllocationPolicy == AllocationPolicyFixedSize {
		desc.PageGrowFactor = 1.0
	}

	allocator := &Allocator{
		logger:    logger,
		device:    device,
		desc:      desc,
		resources: swiss.NewMap[ResourceID, resourceInfo](42),
	}

	err = allocator.addHeapPage()
	if err != nil {
		return nil, err
	}

	return allocator, nil
}

func (a *Allocator) Desc() AllocatorDesc {
	return a.desc
}

// PageCount returns the number of heap pages the allocator has created
func (a *Allocator) PageCount() int {
	return len(a.pages)
}

// BytesAllocated returns the number of bytes committed across all heap pages
func (a *Allocator) BytesAllocated() int {
	return a.bytesAllocated
}

// Tracker returns the aliasing tracker for the page at the provided index, or nil if there is no
// such page
func (a *Allocator) Tracker(pageIndex int) *AliasedResourceTracker {
	if pageIndex < 0 || pageIndex >= len(a.trackers) {
		return nil
	}
	return a.trackers[pageIndex]
}

func (a *Allocator) nextPageSize() int {
	remaining := a.desc.MemoryBudget - a.bytesAllocated
	growth := math.Pow(a.desc.EffectivePageGrowFactor(), float64(len(a.pages)))
	size := float64(a.desc.InitialPageSize) * growth

	if size >= float64(remaining) {
		return remaining
	}
	return int(size)
}

func (a *Allocator) addHeapPage() error {
	if a.bytesAllocated >= a.desc.MemoryBudget {
		return errors.Wrapf(ErrOutOfMemory, "memory budget of %d bytes is exhausted", a.desc.MemoryBudget)
	}

	size := a.nextPageSize()
	page, err := a.device.CreateHeapPage(HeapPageDesc{
		Kind:      a.desc.AllocatedResourceType,
		Size:      size,
		Alignment: a.desc.Alignment,
		CacheSize: a.desc.PageCacheSize,
	})
	if err != nil {
		return err
	}

	a.bytesAllocated += size
	a.pages = append(a.pages, page)
	a.trackers = append(a.trackers, NewAliasedResourceTracker())

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Allocator::addHeapPage",
		slog.Int("page", len(a.pages)-1),
		slog.Int("size", size),
		slog.Int("bytesAllocated", a.bytesAllocated),
	)
	return nil
}

type placeFunc func(page HeapPage) (Resource, AllocationStats, bool, error)

func (a *Allocator) allocate(kind ResourceKind, id ResourceID, place placeFunc, creator, lastUser PassInfo) (Resource, []Barrier, error) {
	if kind != a.desc.AllocatedResourceType {
		return Resource{}, nil, errors.Wrapf(ErrResourceKindMismatch, "allocator holds %s but %s was requested", a.desc.AllocatedResourceType, kind)
	}

	if _, ok := a.resources.Get(id); ok {
		return Resource{}, nil, errors.Wrapf(ErrResourceAlreadyAllocated, "resource %d", id)
	}

	pageIndex := -1
	var resource Resource
	var stats AllocationStats

	for i, page := range a.pages {
		res, pageStats, fits, err := place(page)
		if err != nil {
			return Resource{}, nil, err
		}
		if fits {
			pageIndex = i
			resource = res
			stats = pageStats
			break
		}
	}

	if pageIndex < 0 {
		switch a.desc.AllocationPolicy {
		case AllocationPolicyFixedSize:
			return Resource{}, nil, errors.Wrapf(ErrOutOfMemory, "resource %d does not fit and the fixed size allocation policy was used", id)
		case AllocationPolicyAllocatePages:
			err := a.addHeapPage()
			if err != nil {
				return Resource{}, nil, err
			}

			res, pageStats, fits, err := place(a.pages[len(a.pages)-1])
			if err != nil {
				return Resource{}, nil, err
			}
			if !fits {
				return Resource{}, nil, errors.Wrapf(ErrOutOfMemory, "resource %d is larger than a fresh heap page", id)
			}

			pageIndex = len(a.pages) - 1
			resource = res
			stats = pageStats
		default:
			panic("unknown allocation policy: " + a.desc.AllocationPolicy.String())
		}
	}

	a.resources.Put(id, resourceInfo{
		page:     pageIndex,
		stats:    stats,
		creator:  creator,
		lastUser: lastUser,
		resource: resource,
	})

	barriers := a.trackers[pageIndex].Add(AliasedResourceDesc{
		ResourceID:    id,
		Resource:      resource,
		CreatorPass:   creator,
		LastUserPass:  lastUser,
		HeapOffsetMin: stats.MinOffset,
		HeapOffsetMax: stats.MaxOffset,
	})

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Allocator::allocate",
		slog.Uint64("id", uint64(id)),
		slog.Int("page", pageIndex),
		slog.Int("minOffset", stats.MinOffset),
		slog.Int("maxOffset", stats.MaxOffset),
		slog.Int("barriers", len(barriers)),
	)
	return resource, barriers, nil
}

// AllocateImage places an image in the first page that can hold it, adding a page if the policy
// permits. The returned barriers must be honored before the creator pass runs.
func (a *Allocator) AllocateImage(desc TransientImageDesc, creator, lastUser PassInfo) (Image, []Barrier, error) {
	a.logger.Debug("Allocator::AllocateImage")

	desc.Desc = desc.Desc.Normalized()
	err := desc.Desc.Validate()
	if err != nil {
		return nil, nil, err
	}

	resource, barriers, err := a.allocate(ResourceKindImage, desc.ID, func(page HeapPage) (Resource, AllocationStats, bool, error) {
		image, stats, fits, err := page.TryCreateImage(desc)
		return ImageResource(image), stats, fits, err
	}, creator, lastUser)
	if err != nil {
		return nil, nil, err
	}

	return resource.Image, barriers, nil
}

// AllocateBuffer places a buffer in the first page that can hold it, adding a page if the policy
// permits. The returned barriers must be honored before the creator pass runs.
func (a *Allocator) AllocateBuffer(desc TransientBufferDesc, creator, lastUser PassInfo) (Buffer, []Barrier, error) {
	a.logger.Debug("Allocator::AllocateBuffer")

	err := desc.Desc.Validate()
	if err != nil {
		return nil, nil, err
	}

	resource, barriers, err := a.allocate(ResourceKindBuffer, desc.ID, func(page HeapPage) (Resource, AllocationStats, bool, error) {
		buffer, stats, fits, err := page.TryCreateBuffer(desc)
		return BufferResource(buffer), stats, fits, err
	}, creator, lastUser)
	if err != nil {
		return nil, nil, err
	}

	return resource.Buffer, barriers, nil
}

func (a *Allocator) release(kind ResourceKind, id ResourceID) error {
	info, ok := a.resources.Get(id)
	if !ok {
		return errors.Wrapf(ErrUnknownResource, "resource %d", id)
	}
	if info.resource.Kind != kind {
		return errors.Wrapf(ErrResourceKindMismatch, "resource %d is %s but was released as %s", id, info.resource.Kind, kind)
	}

	var err error
	page := a.pages[info.page]
	switch kind {
	case ResourceKindImage:
		err = page.ReleaseImage(id)
	case ResourceKindBuffer:
		err = page.ReleaseBuffer(id)
	}
	if err != nil {
		return err
	}

	a.resources.Delete(id)
	return nil
}

// ReleaseImage returns an image's bytes to its page. The bytes stay tracked for aliasing until
// the next Reset.
func (a *Allocator) ReleaseImage(id ResourceID) error {
	a.logger.Debug("Allocator::ReleaseImage")

	return a.release(ResourceKindImage, id)
}

// ReleaseBuffer returns a buffer's bytes to its page. The bytes stay tracked for aliasing until
// the next Reset.
func (a *Allocator) ReleaseBuffer(id ResourceID) error {
	a.logger.Debug("Allocator::ReleaseBuffer")

	return a.release(ResourceKindBuffer, id)
}

// Reset prepares the allocator for a new frame. Placements that were never released are dropped
// and every tracker forgets its live ranges. Pages are kept.
func (a *Allocator) Reset() {
	a.logger.Debug("Allocator::Reset")

	if count := a.resources.Count(); count > 0 {
		a.logger.LogAttrs(context.Background(), slog.LevelWarn, "Allocator::Reset dropping unreleased placements",
			slog.Int("count", count))
	}

	for i, page := range a.pages {
		page.Reset()
		a.trackers[i].Reset()
	}

	a.resources = swiss.NewMap[ResourceID, resourceInfo](42)
}

// Destroy destroys every heap page. Placements that were never released are reported.
func (a *Allocator) Destroy() error {
	a.logger.Debug("Allocator::Destroy")

	var err error
	for i, page := range a.pages {
		if count := page.PlacementCount(); count > 0 {
			a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] heap page destroyed with live placements",
				slog.Int("page", i),
				slog.Int("count", count),
			)
		}

		err = errors.CombineErrors(err, page.Destroy())
	}

	a.pages = nil
	a.trackers = nil
	a.bytesAllocated = 0
	a.resources = swiss.NewMap[ResourceID, resourceInfo](42)
	return err
}

func (a *Allocator) AddStatistics(stats *memutils.Statistics) {
	for _, page := range a.pages {
		page.AddStatistics(stats)
	}
}

func (a *Allocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	for _, page := range a.pages {
		page.AddDetailedStatistics(stats)
	}
}

// PrintDetailedMap writes one object per heap page, including the page's placements and the
// number of live ranges and barriers its tracker holds
func (a *Allocator) PrintDetailedMap(json *jwriter.ObjectState) {
	json.Name("Policy").String(a.desc.AllocationPolicy.String())
	json.Name("ResourceType").String(a.desc.AllocatedResourceType.String())
	json.Name("BytesAllocated").Int(a.bytesAllocated)

	pages := json.Name("Pages").Object()
	defer pages.End()

	for i, page := range a.pages {
		pageObj := pages.Name(strconv.Itoa(i)).Object()

		pageObj.Name("LiveRanges").Int(len(a.trackers[i].Resources()))
		pageObj.Name("Barriers").Int(len(a.trackers[i].Barriers()))
		page.PrintDetailedMap(&pageObj)

		pageObj.End()
	}
}
