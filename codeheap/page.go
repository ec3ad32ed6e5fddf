package codeheap

import "github.com/jitmem/codeheap/pagealloc"

// page is one OS page dedicated to sub-page allocation. Its chunk count is
// fixed at 32, one per bit of freeVector: NewHeap accepts only a page size
// and ChunkSize whose quotient is exactly 32 (4096/128 by default).
type page struct {
	address       uintptr
	segment       pagealloc.Segment // non-owning: segment is owned by the underlying allocator
	freeVector    freeBits
	currentBucket Bucket
	isDecommitted bool
}

// hasNoSpace reports whether the page has no free chunk left at all. A
// page in this state must live on the heap's full list.
func (p *page) hasNoSpace() bool { return p.freeVector.IsEmpty() }

// isEmpty reports whether every chunk on the page is free. An empty page
// is eligible for release or decommit.
func (p *page) isEmpty() bool { return p.freeVector.IsFull() }

// canAllocate reports whether the page has a contiguous run of free
// chunks long enough to satisfy bucket b.
func (p *page) canAllocate(b Bucket) bool {
	return p.freeVector.canAllocate(b.chunks())
}

// firstFreeRun returns the chunk index of the first run of `length` free
// chunks, or ok=false if none exists.
func (p *page) firstFreeRun(length int) (index int, ok bool) {
	return p.freeVector.firstRunOfOnes(length)
}

// chunkAddress returns the byte address of chunk index i on this page.
func (p *page) chunkAddress(i, chunkSize int) uintptr {
	return p.address + uintptr(i*chunkSize)
}

// indexOf returns the chunk index containing addr, or ok=false if addr
// does not fall within this page.
func (p *page) indexOf(addr uintptr, pageSize, chunkSize int) (index int, ok bool) {
	if addr < p.address || addr >= p.address+uintptr(pageSize) {
		return 0, false
	}
	return int(addr-p.address) / chunkSize, true
}
