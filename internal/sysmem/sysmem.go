package sysmem

import (
	"fmt"
	"sync"

	"github.com/jitmem/codeheap/internal/secmeta"
	"github.com/jitmem/codeheap/pagealloc"
)

// secondaryCapacityPerSegment is the default backing-buffer size handed
// to each segment's secmeta.Allocator.
const secondaryCapacityPerSegment = 4096

// Allocator is an OS-backed pagealloc.PageAllocator. Construct with New;
// the zero value is not usable.
type Allocator struct {
	pageSize    int
	preReserved bool

	mu       sync.Mutex
	segments map[uintptr]*segment
}

// New creates an Allocator. preReserved marks every segment it produces
// as belonging to the pre-reserved region (callers wanting a two-tier
// Multiplexer construct two Allocators, one with preReserved=true).
func New(pageSize int, preReserved bool) *Allocator {
	if pageSize <= 0 {
		pageSize = osPageSize()
	}
	return &Allocator{
		pageSize:    pageSize,
		preReserved: preReserved,
		segments:    make(map[uintptr]*segment),
	}
}

// PageSize returns the OS page size this allocator was configured with.
func (a *Allocator) PageSize() int { return a.pageSize }

// segment is the Segment implementation backing one AllocPages call.
type segment struct {
	alloc     *Allocator
	base      uintptr
	npages    int
	secondary *secmeta.Allocator // nil if secondary data was never requested
}

func (s *segment) Allocator() pagealloc.PageAllocator { return s.alloc }

func (s *segment) SecondaryAllocator() pagealloc.SecondaryAllocator {
	if s.secondary == nil {
		return nil
	}
	return s.secondary
}

func (s *segment) CanAllocSecondary() bool {
	return s.secondary != nil && s.secondary.CanAlloc()
}

func (s *segment) IsPreReserved() bool { return s.alloc.preReserved }

// AllocPages reserves and commits n pages, mapped execute-read: codeheap
// flips a page to read-write only for the duration of a write.
func (a *Allocator) AllocPages(n int) (uintptr, pagealloc.Segment, error) {
	if n <= 0 {
		return 0, nil, fmt.Errorf("sysmem: AllocPages requires n > 0, got %d", n)
	}
	addr, err := mmapExecutable(n * a.pageSize)
	if err != nil {
		return 0, nil, fmt.Errorf("sysmem: AllocPages(%d): %w", n, err)
	}
	seg := &segment{alloc: a, base: addr, npages: n}

	a.mu.Lock()
	a.segments[addr] = seg
	a.mu.Unlock()

	return addr, seg, nil
}

// ReleasePages unmaps a range and drops its segment bookkeeping.
func (a *Allocator) ReleasePages(addr uintptr, n int, seg pagealloc.Segment) error {
	if err := munmapRange(addr, n*a.pageSize); err != nil {
		return fmt.Errorf("sysmem: ReleasePages: %w", err)
	}
	a.mu.Lock()
	delete(a.segments, addr)
	a.mu.Unlock()
	return nil
}

// DecommitPages drops the physical backing of a range while keeping its
// address-space reservation. Nothing in this package recommits such a
// range: ReleaseDecommitted unmaps it, and AllocPages always maps fresh
// addresses.
func (a *Allocator) DecommitPages(addr uintptr, n int, seg pagealloc.Segment) error {
	if err := decommitRange(addr, n*a.pageSize); err != nil {
		return fmt.Errorf("sysmem: DecommitPages: %w", err)
	}
	return nil
}

// TrackDecommitted is pure bookkeeping here: decommitRange already told
// the OS to drop the physical pages, there is nothing further to record
// at the OS level. Kept as a distinct call (rather than folded into
// DecommitPages) to match the collaborator contract's split between the
// OS action and the heap's intent to keep the range reserved.
func (a *Allocator) TrackDecommitted(addr uintptr, n int, seg pagealloc.Segment) error {
	return nil
}

// ReleaseDecommitted unreserves a previously decommitted range.
func (a *Allocator) ReleaseDecommitted(addr uintptr, n int, seg pagealloc.Segment) error {
	return a.ReleasePages(addr, n, seg)
}

// ProtectPages changes protection on [addr, addr+n*PageSize) to newProt.
// expectedOld is not compared with the range's current protection; it
// only appears in the error returned for a failed OS call.
func (a *Allocator) ProtectPages(addr uintptr, n int, seg pagealloc.Segment, newProt, expectedOld pagealloc.Protection) error {
	if err := protectRange(addr, n*a.pageSize, newProt); err != nil {
		return fmt.Errorf("sysmem: ProtectPages(%s -> %s): %w", expectedOld, newProt, err)
	}
	return nil
}

// AllocSecondary lazily creates the segment's secmeta.Allocator on first
// use and delegates to it.
func (a *Allocator) AllocSecondary(seg pagealloc.Segment, fnStart uintptr, fnSize, pdataCount, xdataSize int) (pagealloc.SecondaryDescriptor, error) {
	s, ok := seg.(*segment)
	if !ok {
		return pagealloc.SecondaryDescriptor{}, fmt.Errorf("sysmem: AllocSecondary: segment not owned by this allocator")
	}
	if s.secondary == nil {
		s.secondary = secmeta.New(secondaryCapacityPerSegment)
	}
	return s.secondary.Alloc(fnStart, fnSize, pdataCount, xdataSize)
}

// ReleaseSecondary delegates to the segment's secmeta.Allocator.
func (a *Allocator) ReleaseSecondary(d pagealloc.SecondaryDescriptor, seg pagealloc.Segment) error {
	s, ok := seg.(*segment)
	if !ok || s.secondary == nil {
		return nil
	}
	return s.secondary.Release(d)
}

var _ pagealloc.PageAllocator = (*Allocator)(nil)
