package codeheap

import "github.com/jitmem/codeheap/pagealloc"

// Allocation is one handed-out region of executable memory. It is a
// two-variant sum type rather than the union-of-struct the original
// source used: Large is nil for a small allocation and non-nil for a
// large one, and IsLarge is simply "large != nil". Callers should treat
// Allocation as opaque and pass it back to Heap.Free/Decommit/Protect*.
type Allocation struct {
	Address uintptr
	Size    int

	page  *page       // set when this is a small (sub-page) allocation
	large *largeExtra // set when this is a large (multi-page) allocation

	secondary    pagealloc.SecondaryDescriptor
	hasSecondary bool
}

// largeExtra holds the fields a large allocation needs that a small one
// reaches through its page instead.
type largeExtra struct {
	segment pagealloc.Segment
}

// IsLarge reports whether this allocation bypassed bucketing (size >
// Options.MaxSubPageAlloc at allocation time).
func (a *Allocation) IsLarge() bool { return a.large != nil }

// PageCount returns the number of OS pages spanned by a large allocation.
// Panics if called on a small allocation.
func (a *Allocation) PageCount(pageSize int) int {
	if !a.IsLarge() {
		panic("codeheap: PageCount called on a small allocation")
	}
	return a.Size / pageSize
}

// segmentRef returns the Segment this allocation's memory is backed by,
// regardless of variant.
func (a *Allocation) segmentRef() pagealloc.Segment {
	if a.IsLarge() {
		return a.large.segment
	}
	return a.page.segment
}
