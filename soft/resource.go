package soft

import "github.com/vkngwrapper/framegraph/transient"

// Image is a soft image. Images created by a HeapPage report the offset they were placed at;
// images created directly by the Device have no page.
type Image struct {
	objectID uint64
	desc     transient.ImageDesc
	page     *HeapPage
	offset   int
	size     int
}

var _ transient.Image = &Image{}

func (i *Image) Desc() transient.ImageDesc { return i.desc }

// ObjectID is unique per Image object. A HeapPage that reuses a cached image returns the same id.
func (i *Image) ObjectID() uint64 { return i.objectID }
func (i *Image) Page() *HeapPage  { return i.page }
func (i *Image) Offset() int      { return i.offset }
func (i *Image) Size() int        { return i.size }

// Buffer is a soft buffer
type Buffer struct {
	objectID uint64
	desc     transient.BufferDesc
	page     *HeapPage
	offset   int
	size     int
}

var _ transient.Buffer = &Buffer{}

func (b *Buffer) Desc() transient.BufferDesc { return b.desc }
func (b *Buffer) ObjectID() uint64          { return b.objectID }
func (b *Buffer) Page() *HeapPage           { return b.page }
func (b *Buffer) Offset() int               { return b.offset }
func (b *Buffer) Size() int                 { return b.size }
