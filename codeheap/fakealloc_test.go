package codeheap

import (
	"fmt"
	"testing"
	"unsafe"

	"github.com/jitmem/codeheap/internal/secmeta"
	"github.com/jitmem/codeheap/pagealloc"
)

// fakeSegment and fakeAllocator are a PageAllocator test double backed by
// real Go heap memory instead of mmap, so Heap's trap-fill writes land
// somewhere safe to touch. It tracks each segment's protection state and
// rejects a ProtectPages call whose expectedOld doesn't match, the same
// invariant internal/sysmem's real OS calls enforce implicitly.
type fakeSegment struct {
	alloc       *fakeAllocator
	buf         []byte
	addr        uintptr
	npages      int
	prot        pagealloc.Protection
	preReserved bool
	secondary   *secmeta.Allocator
}

func (s *fakeSegment) Allocator() pagealloc.PageAllocator { return s.alloc }

func (s *fakeSegment) SecondaryAllocator() pagealloc.SecondaryAllocator {
	if s.secondary == nil {
		return nil
	}
	return s.secondary
}

func (s *fakeSegment) CanAllocSecondary() bool {
	return s.secondary != nil && s.secondary.CanAlloc()
}

func (s *fakeSegment) IsPreReserved() bool { return s.preReserved }

type fakeAllocator struct {
	pageSize      int
	preReserved   bool
	failNextAlloc bool
	segments      map[uintptr]*fakeSegment
}

func newFakeAllocator(pageSize int, preReserved bool) *fakeAllocator {
	return &fakeAllocator{pageSize: pageSize, preReserved: preReserved, segments: map[uintptr]*fakeSegment{}}
}

func (a *fakeAllocator) PageSize() int { return a.pageSize }

func (a *fakeAllocator) AllocPages(n int) (uintptr, pagealloc.Segment, error) {
	if a.failNextAlloc {
		a.failNextAlloc = false
		return 0, nil, fmt.Errorf("fake: out of memory")
	}
	buf := make([]byte, n*a.pageSize)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	seg := &fakeSegment{alloc: a, buf: buf, addr: addr, npages: n, prot: pagealloc.ProtectExecuteRead, preReserved: a.preReserved}
	a.segments[addr] = seg
	return addr, seg, nil
}

func (a *fakeAllocator) ReleasePages(addr uintptr, n int, seg pagealloc.Segment) error {
	delete(a.segments, addr)
	return nil
}

func (a *fakeAllocator) DecommitPages(addr uintptr, n int, seg pagealloc.Segment) error {
	return nil
}

func (a *fakeAllocator) TrackDecommitted(addr uintptr, n int, seg pagealloc.Segment) error {
	return nil
}

func (a *fakeAllocator) ReleaseDecommitted(addr uintptr, n int, seg pagealloc.Segment) error {
	return a.ReleasePages(addr, n, seg)
}

func (a *fakeAllocator) ProtectPages(addr uintptr, n int, seg pagealloc.Segment, new, expectedOld pagealloc.Protection) error {
	fs := seg.(*fakeSegment)
	if fs.prot != expectedOld {
		return fmt.Errorf("fake: protection mismatch on %#x: have %s want %s", addr, fs.prot, expectedOld)
	}
	fs.prot = new
	return nil
}

func (a *fakeAllocator) AllocSecondary(seg pagealloc.Segment, fnStart uintptr, fnSize int, pdataCount, xdataSize int) (pagealloc.SecondaryDescriptor, error) {
	fs := seg.(*fakeSegment)
	if fs.secondary == nil {
		fs.secondary = secmeta.New(4096)
	}
	return fs.secondary.Alloc(fnStart, fnSize, pdataCount, xdataSize)
}

func (a *fakeAllocator) ReleaseSecondary(d pagealloc.SecondaryDescriptor, seg pagealloc.Segment) error {
	fs := seg.(*fakeSegment)
	if fs.secondary == nil {
		return nil
	}
	return fs.secondary.Release(d)
}

var _ pagealloc.PageAllocator = (*fakeAllocator)(nil)
var _ pagealloc.Segment = (*fakeSegment)(nil)

// newTestHeap builds a Heap over a fresh fakeAllocator-backed Multiplexer
// with no pre-reserved region, using opts (zero value is fine - it
// defaults the same way NewHeap does).
func newTestHeap(t *testing.T, opts Options) (*Heap, *fakeAllocator) {
	t.Helper()
	general := newFakeAllocator(4096, false)
	mux := pagealloc.New(general, nil, 0, nil)
	h, err := NewHeap(mux, opts, nil)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	return h, general
}
