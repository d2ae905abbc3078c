package transient

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/framegraph/memutils"
	"golang.org/x/exp/slices"
)

// Intersection classifies how an existing placement relates to an incoming one
type Intersection uint8

const (
	IntersectionNone Intersection = iota
	IntersectionFull
	IntersectionPartial
)

var intersectionMapping = map[Intersection]string{
	IntersectionNone:    "IntersectionNone",
	IntersectionFull:    "IntersectionFull",
	IntersectionPartial: "IntersectionPartial",
}

func (i Intersection) String() string {
	str, ok := intersectionMapping[i]
	if !ok {
		return fmt.Sprintf("Intersection(%d)", uint8(i))
	}
	return str
}

// Classify reports whether incoming misses existing, covers it completely, or covers only part of it
func Classify(existing, incoming AliasedResourceDesc) Intersection {
	if !memutils.RangesOverlap(existing.HeapOffsetMin, existing.HeapOffsetMax, incoming.HeapOffsetMin, incoming.HeapOffsetMax) {
		return IntersectionNone
	}
	if existing.HeapOffsetMin >= incoming.HeapOffsetMin && existing.HeapOffsetMax <= incoming.HeapOffsetMax {
		return IntersectionFull
	}
	return IntersectionPartial
}

type barrierKey struct {
	from ResourceID
	to   ResourceID
}

// AliasedResourceTracker keeps the live byte ranges of one heap page sorted by offset. Each new
// placement supersedes whatever it overlaps and yields one barrier per overlapped resource.
type AliasedResourceTracker struct {
	resources []AliasedResourceDesc
	barriers  []Barrier
	emitted   *swiss.Map[barrierKey, struct{}]
}

var _ memutils.Validatable = &AliasedResourceTracker{}

func NewAliasedResourceTracker() *AliasedResourceTracker {
	return &AliasedResourceTracker{
		emitted: swiss.NewMap[barrierKey, struct{}](42),
	}
}

// Add incorporates a new placement and returns the barriers it requires. A resource that is
// split into two fragments still produces a single barrier.
func (t *AliasedResourceTracker) Add(newResource AliasedResourceDesc) []Barrier {
	var barriers []Barrier

	i := 0
	for i < len(t.resources) {
		existing := t.resources[i]

		switch Classify(existing, newResource) {
		case IntersectionNone:
			i++
		case IntersectionFull:
			barriers = t.emit(barriers, existing, newResource)
			t.resources = slices.Delete(t.resources, i, i+1)
		case IntersectionPartial:
			barriers = t.emit(barriers, existing, newResource)

			keptLeft := false
			if existing.HeapOffsetMin < newResource.HeapOffsetMin {
				t.resources[i].HeapOffsetMax = newResource.HeapOffsetMin - 1
				keptLeft = true
			}

			if existing.HeapOffsetMax > newResource.HeapOffsetMax {
				if keptLeft {
					right := existing
					right.HeapOffsetMin = newResource.HeapOffsetMax + 1
					t.resources = slices.Insert(t.resources, i+1, right)
					i++
				} else {
					t.resources[i].HeapOffsetMin = newResource.HeapOffsetMax + 1
				}
			}
			i++
		default:
			panic("unreachable intersection")
		}
	}

	insertAt := slices.IndexFunc(t.resources, func(r AliasedResourceDesc) bool {
		return r.HeapOffsetMin > newResource.HeapOffsetMin
	})
	if insertAt < 0 {
		t.resources = append(t.resources, newResource)
	} else {
		t.resources = slices.Insert(t.resources, insertAt, newResource)
	}

	memutils.DebugValidate(t)
	return barriers
}

func (t *AliasedResourceTracker) emit(barriers []Barrier, old, incoming AliasedResourceDesc) []Barrier {
	if old.ResourceID == incoming.ResourceID {
		return barriers
	}

	key := barrierKey{from: old.ResourceID, to: incoming.ResourceID}
	if _, ok := t.emitted.Get(key); ok {
		return barriers
	}
	t.emitted.Put(key, struct{}{})

	barrier := newBarrier(old, incoming)
	t.barriers = append(t.barriers, barrier)
	return append(barriers, barrier)
}

// Reset clears all live ranges and emitted barriers for a new frame
func (t *AliasedResourceTracker) Reset() {
	t.resources = nil
	t.barriers = nil
	t.emitted = swiss.NewMap[barrierKey, struct{}](42)
}

// Resources returns the live ranges in offset order
func (t *AliasedResourceTracker) Resources() []AliasedResourceDesc {
	return t.resources
}

// Barriers returns every barrier emitted since the last Reset, in emission order
func (t *AliasedResourceTracker) Barriers() []Barrier {
	return t.barriers
}

func (t *AliasedResourceTracker) Validate() error {
	for i, r := range t.resources {
		err := memutils.CheckRange(r.HeapOffsetMin, r.HeapOffsetMax, "live range")
		if err != nil {
			return err
		}

		if i == 0 {
			continue
		}

		prev := t.resources[i-1]
		if prev.HeapOffsetMin > r.HeapOffsetMin {
			return errors.Newf("live range [%d, %d] is out of order", r.HeapOffsetMin, r.HeapOffsetMax)
		}
		if prev.HeapOffsetMax >= r.HeapOffsetMin {
			return errors.Newf("live ranges [%d, %d] and [%d, %d] overlap",
				prev.HeapOffsetMin, prev.HeapOffsetMax, r.HeapOffsetMin, r.HeapOffsetMax)
		}
	}

	if t.emitted.Count() != len(t.barriers) {
		return errors.Newf("tracker emitted %d barriers but holds %d", t.emitted.Count(), len(t.barriers))
	}

	return nil
}
