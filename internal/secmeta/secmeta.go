package secmeta

import (
	"errors"

	"github.com/jitmem/codeheap/pagealloc"
)

// ErrExhausted indicates the allocator's backing buffer has no room left
// for the requested descriptor.
var ErrExhausted = errors.New("secmeta: secondary data allocator exhausted")

// Allocator is a bump-pointer pagealloc.SecondaryAllocator over a
// fixed-size backing buffer, one per segment.
type Allocator struct {
	buf    []byte
	offset int
}

// New creates an Allocator with capacity bytes of backing storage.
func New(capacity int) *Allocator {
	return &Allocator{buf: make([]byte, capacity)}
}

// Alloc reserves xdataSize + pdataCount*pdataEntrySize bytes (one
// pdataEntrySize granule when that sum is not positive) and returns a
// descriptor pointing at them.
func (a *Allocator) Alloc(fnStart uintptr, fnSize int, pdataCount, xdataSize int) (pagealloc.SecondaryDescriptor, error) {
	need := xdataSize + pdataCount*pdataEntrySize
	if need <= 0 {
		need = pdataEntrySize
	}
	if a.offset+need > len(a.buf) {
		return pagealloc.SecondaryDescriptor{}, ErrExhausted
	}
	d := pagealloc.SecondaryDescriptor{Offset: uintptr(a.offset), Size: need}
	a.offset += need
	return d, nil
}

// Release is a no-op: bump allocation never reclaims space mid-segment.
// The space is reclaimed in bulk when the owning segment is released.
func (a *Allocator) Release(pagealloc.SecondaryDescriptor) error { return nil }

// CanAlloc reports whether at least one minimum-sized descriptor still
// fits.
func (a *Allocator) CanAlloc() bool {
	return a.offset+pdataEntrySize <= len(a.buf)
}

// pdataEntrySize is the minimum secondary-data granule this allocator
// will reserve for a zero-sized request, large enough to hold one ARM64
// compact-unwind pdata entry (8 bytes) plus slack.
const pdataEntrySize = 16

var _ pagealloc.SecondaryAllocator = (*Allocator)(nil)
