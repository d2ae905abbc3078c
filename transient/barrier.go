package transient

import "fmt"

// AliasedResourceDesc is one live placement within a heap page, as seen by the aliasing tracker.
// CreatorPass and LastUserPass are barrier keys only.
type AliasedResourceDesc struct {
	ResourceID    ResourceID
	Resource      Resource
	CreatorPass   PassInfo
	LastUserPass  PassInfo
	HeapOffsetMin int
	HeapOffsetMax int
}

// Barrier records that New takes over bytes previously used by Old. The command recorder must
// make Old's last use visible before New's creator runs.
type Barrier struct {
	Old AliasedResourceDesc
	New AliasedResourceDesc

	// OverlapMin and OverlapMax are the inclusive byte range the two placements share
	OverlapMin int
	OverlapMax int

	// WriteHazard is set when the old resource can be written by the device
	WriteHazard bool
	// CrossQueue is set when the old resource's last user and the new resource's creator
	// run on different queues
	CrossQueue bool
}

func newBarrier(old, incoming AliasedResourceDesc) Barrier {
	overlapMin := old.HeapOffsetMin
	if incoming.HeapOffsetMin > overlapMin {
		overlapMin = incoming.HeapOffsetMin
	}
	overlapMax := old.HeapOffsetMax
	if incoming.HeapOffsetMax < overlapMax {
		overlapMax = incoming.HeapOffsetMax
	}

	return Barrier{
		Old:         old,
		New:         incoming,
		OverlapMin:  overlapMin,
		OverlapMax:  overlapMax,
		WriteHazard: old.Resource.HasWriteUsage(),
		CrossQueue:  old.LastUserPass.Queue != incoming.CreatorPass.Queue,
	}
}

func (b Barrier) String() string {
	return fmt.Sprintf("resource %d (%s) -> resource %d (%s) [%d, %d]",
		b.Old.ResourceID, b.Old.LastUserPass,
		b.New.ResourceID, b.New.CreatorPass,
		b.OverlapMin, b.OverlapMax)
}
