package transient

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrOutOfMemory indicates that no heap page could hold a placement and the allocator was not
	// permitted to add one, either because of its policy or its memory budget. Callers may retry with
	// different sizing.
	ErrOutOfMemory = errors.New("transient allocator out of memory")
	// ErrUnknownResource indicates a release for a resource id that is not currently allocated
	ErrUnknownResource = errors.New("resource was not allocated by this allocator")
	// ErrResourceAlreadyAllocated indicates that a resource id was allocated twice without a release
	ErrResourceAlreadyAllocated = errors.New("resource is already allocated")
	// ErrResourceKindMismatch indicates an image operation on a buffer allocator or placement, or the reverse
	ErrResourceKindMismatch = errors.New("resource kind does not match")
	// ErrInvalidPolicy indicates an AllocatorDesc with an unknown AllocationPolicy
	ErrInvalidPolicy = errors.New("invalid allocation policy")
	// ErrInvalidDesc indicates a malformed AllocatorDesc, HeapPageDesc, ImageDesc, or BufferDesc
	ErrInvalidDesc = errors.New("invalid descriptor")
	// ErrResourceCacheOverflow indicates that a heap page was asked to hold more live placements than
	// its cache size permits
	ErrResourceCacheOverflow = errors.New("heap page resource cache overflow")
)

// IsOutOfMemory separates resource exhaustion, which a caller can respond to, from configuration
// and logic errors
func IsOutOfMemory(err error) bool {
	return errors.Is(err, ErrOutOfMemory)
}

func invalidDesc(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidDesc, format, args...)
}
