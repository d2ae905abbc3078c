package transient

import (
	"fmt"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/framegraph/memutils"
)

// AllocationPolicy decides what an Allocator does when none of its heap pages can hold a placement
type AllocationPolicy uint8

const (
	// AllocationPolicyFixedSize never adds pages after the first. A placement that does not fit
	// fails with ErrOutOfMemory.
	AllocationPolicyFixedSize AllocationPolicy = iota + 1
	// AllocationPolicyAllocatePages adds pages, each PageGrowFactor times larger than the last, until
	// MemoryBudget is committed
	AllocationPolicyAllocatePages
)

var allocationPolicyMapping = map[AllocationPolicy]string{
	AllocationPolicyFixedSize:     "AllocationPolicyFixedSize",
	AllocationPolicyAllocatePages: "AllocationPolicyAllocatePages",
}

func (p AllocationPolicy) String() string {
	str, ok := allocationPolicyMapping[p]
	if !ok {
		return fmt.Sprintf("AllocationPolicy(%d)", uint8(p))
	}
	return str
}

const (
	DefaultInitialPageSize int     = 512 * 1024
	DefaultAlignment       uint    = 256
	DefaultPageGrowFactor  float64 = 1.0
	DefaultMemoryBudget    int     = math.MaxInt
	DefaultPageCacheSize   int     = 256
)

// AllocatorDesc configures an Allocator. It does not change for the lifetime of the allocator.
type AllocatorDesc struct {
	// AllocatedResourceType is the kind of resource this allocator's pages hold
	AllocatedResourceType ResourceKind
	AllocationPolicy      AllocationPolicy
	// InitialPageSize is the size in bytes of the first heap page
	InitialPageSize int
	// Alignment is the minimum alignment of every placement, a power of two
	Alignment uint
	// PageGrowFactor multiplies the size of each page over the last. It is ignored under
	// AllocationPolicyFixedSize.
	PageGrowFactor float64
	// MemoryBudget is the maximum number of bytes committed across all pages
	MemoryBudget int
	// PageCacheSize is the number of resource objects each page may keep for reuse across frames
	PageCacheSize int
}

// DefaultAllocatorDesc returns a growable allocator description with 512KiB pages
func DefaultAllocatorDesc(kind ResourceKind) AllocatorDesc {
	return AllocatorDesc{
		AllocatedResourceType: kind,
		AllocationPolicy:      AllocationPolicyAllocatePages,
		InitialPageSize:       DefaultInitialPageSize,
		Alignment:             DefaultAlignment,
		PageGrowFactor:        DefaultPageGrowFactor,
		MemoryBudget:          DefaultMemoryBudget,
		PageCacheSize:         DefaultPageCacheSize,
	}
}

// Validate returns ErrInvalidPolicy or ErrInvalidDesc when the allocator could not operate
func (d AllocatorDesc) Validate() error {
	_, ok := allocationPolicyMapping[d.AllocationPolicy]
	if !ok {
		return errors.Wrapf(ErrInvalidPolicy, "%s", d.AllocationPolicy)
	}

	if d.AllocatedResourceType != ResourceKindImage && d.AllocatedResourceType != ResourceKindBuffer {
		return invalidDesc("unknown allocated resource type %s", d.AllocatedResourceType)
	}
	if d.InitialPageSize < 1 {
		return invalidDesc("initial page size must be positive, got %d", d.InitialPageSize)
	}
	if err := memutils.CheckPow2(d.Alignment, "alignment"); err != nil {
		return invalidDesc("%v", err)
	}
	if d.PageGrowFactor < 1.0 || math.IsNaN(d.PageGrowFactor) || math.IsInf(d.PageGrowFactor, 0) {
		return invalidDesc("page grow factor must be at least 1.0, got %f", d.PageGrowFactor)
	}
	if d.MemoryBudget < 1 {
		return invalidDesc("memory budget must be positive, got %d", d.MemoryBudget)
	}
	if d.PageCacheSize < 1 {
		return invalidDesc("page cache size must be positive, got %d", d.PageCacheSize)
	}

	return nil
}

// EffectivePageGrowFactor is PageGrowFactor, except that fixed-size allocators never grow
func (d AllocatorDesc) EffectivePageGrowFactor() float64 {
	if d.AllocationPolicy != AllocationPolicyAllocatePages {
		return 1.0
	}
	return d.PageGrowFactor
}
