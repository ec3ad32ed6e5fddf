package pagealloc

import (
	"container/heap"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Guard is proof that a Multiplexer's critical section is held. The only
// way to obtain one is Multiplexer.Lock, and its field is unexported.
// Every Multiplexer method that takes one checks that it is a live Guard
// of that Multiplexer and panics otherwise, so the "caller must hold the
// lock" contract is enforced in code rather than left to a comment.
type Guard struct {
	m *Multiplexer
}

// Unlock releases the critical section. Using a Guard after Unlock panics
// the next time it is passed to a Multiplexer method.
func (g *Guard) Unlock() {
	if g.m == nil {
		return
	}
	m := g.m
	g.m = nil
	m.mu.Unlock()
}

// Multiplexer routes allocation and lifecycle calls between a general
// PageAllocator and a pre-reserved one, preferring the pre-reserved
// region for JIT code so short, position-independent call encodings stay
// available as long as that region has room.
//
// Multiplexer is safe for concurrent use by multiple goroutines that each
// hold their own Guard around mutating calls; see the package doc for
// which methods require one.
type Multiplexer struct {
	general     PageAllocator
	preReserved PageAllocator // nil if no region was pre-reserved
	mu          sync.Mutex
	spinCount   int
	log         *slog.Logger

	decommitted decommitHeap
}

// New builds a Multiplexer over the given general allocator and an
// optional pre-reserved one (nil disables pre-reserved placement
// entirely, and AllocPages behaves as if preferPreReserved were always
// false). spinCount is the number of TryLock attempts Lock makes before
// falling back to a blocking acquire - the Go equivalent of a Windows
// CRITICAL_SECTION's spin count, avoiding a kernel transition for a lock
// that is about to be released. 0 disables spinning.
func New(general, preReserved PageAllocator, spinCount int, log *slog.Logger) *Multiplexer {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if spinCount < 0 {
		spinCount = 0
	}
	return &Multiplexer{general: general, preReserved: preReserved, spinCount: spinCount, log: log}
}

// Lock acquires the critical section and returns a Guard. Callers must
// call Guard.Unlock when done, typically via defer.
func (m *Multiplexer) Lock() *Guard {
	for i := 0; i < m.spinCount; i++ {
		if m.mu.TryLock() {
			return &Guard{m: m}
		}
	}
	m.mu.Lock()
	return &Guard{m: m}
}

func (m *Multiplexer) requireGuard(g *Guard) {
	if g == nil || g.m != m {
		panic(fmt.Errorf("pagealloc: method called without holding this Multiplexer's Guard"))
	}
}

// AllocPages tries the pre-reserved allocator first when preferPreReserved
// is true and a pre-reserved allocator is configured; on failure, or when
// not preferred, it falls back to the general allocator. If isJIT and the
// fallback to general actually happened, *allJITInPreReserved is set to
// false - once any JIT code lands outside the pre-reserved window, the
// caller can no longer assume every JIT address is within short-branch
// range. Returns an error wrapping errOutOfMemory if both allocators failed (or the
// pre-reserved one was never configured and general failed).
func (m *Multiplexer) AllocPages(
	g *Guard,
	n int,
	preferPreReserved bool,
	isJIT bool,
	allJITInPreReserved *bool,
) (uintptr, Segment, error) {
	m.requireGuard(g)

	if preferPreReserved && m.preReserved != nil {
		addr, seg, err := m.preReserved.AllocPages(n)
		if err == nil {
			m.log.Debug("codeheap: allocated in pre-reserved region", "pages", n, "addr", addr)
			return addr, seg, nil
		}
		m.log.Debug("codeheap: pre-reserved region exhausted, falling back", "pages", n, "err", err)
	}

	if isJIT && allJITInPreReserved != nil && *allJITInPreReserved {
		*allJITInPreReserved = false
	}

	addr, seg, err := m.general.AllocPages(n)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", errOutOfMemory, err)
	}
	return addr, seg, nil
}

// ReleasePages returns seg's range to whichever underlying allocator owns
// it.
func (m *Multiplexer) ReleasePages(g *Guard, addr uintptr, n int, seg Segment) error {
	m.requireGuard(g)
	return m.allocatorFor(seg).ReleasePages(addr, n, seg)
}

// TrackDecommitted records a decommitted range on the allocator that owns
// seg, and adds it to the address-ordered decommit heap so a later
// ReleaseDecommitted call can coalesce it with an adjacent span.
func (m *Multiplexer) TrackDecommitted(g *Guard, addr uintptr, n int, seg Segment) error {
	m.requireGuard(g)
	if err := m.allocatorFor(seg).TrackDecommitted(addr, n, seg); err != nil {
		return err
	}
	heap.Push(&m.decommitted, decommitRange{addr: addr, n: n, seg: seg})
	return nil
}

// ReleaseDecommitted returns a tracked decommitted range to the OS. Before
// releasing, it pulls [addr, addr+n*PageSize) out of the decommit heap and
// merges it with any address-adjacent span belonging to the same segment,
// so two pages decommitted separately but lying next to each other in the
// same segment cost one ReleaseDecommitted call instead of two.
func (m *Multiplexer) ReleaseDecommitted(g *Guard, addr uintptr, n int, seg Segment) error {
	m.requireGuard(g)
	pageSize := m.allocatorFor(seg).PageSize()
	mergedAddr, mergedN := m.coalesceDecommitted(addr, n, seg, pageSize)
	return m.allocatorFor(seg).ReleaseDecommitted(mergedAddr, mergedN, seg)
}

// coalesceDecommitted drains the decommit heap, merging every entry that
// is address-adjacent to [addr, addr+n*pageSize) and shares seg into one
// run, dropping the exact [addr,n,seg] entry being released, and pushes
// everything else back. It returns the merged range's base address and
// page count.
func (m *Multiplexer) coalesceDecommitted(addr uintptr, n int, seg Segment, pageSize int) (uintptr, int) {
	merged := decommitRange{addr: addr, n: n, seg: seg}
	var kept []decommitRange
	removedSelf := false

	for m.decommitted.Len() > 0 {
		r := heap.Pop(&m.decommitted).(decommitRange)
		switch {
		case !removedSelf && r.seg == seg && r.addr == addr && r.n == n:
			removedSelf = true
		case r.seg == merged.seg &&
			(r.addr == merged.addr+uintptr(merged.n*pageSize) || merged.addr == r.addr+uintptr(r.n*pageSize)):
			if r.addr < merged.addr {
				merged.addr = r.addr
			}
			merged.n += r.n
		default:
			kept = append(kept, r)
		}
	}
	for _, r := range kept {
		heap.Push(&m.decommitted, r)
	}
	return merged.addr, merged.n
}

// AllocSecondary dispatches to seg's owning allocator.
func (m *Multiplexer) AllocSecondary(
	g *Guard,
	seg Segment,
	fnStart uintptr,
	fnSize int,
	pdataCount, xdataSize int,
) (SecondaryDescriptor, error) {
	m.requireGuard(g)
	return m.allocatorFor(seg).AllocSecondary(seg, fnStart, fnSize, pdataCount, xdataSize)
}

// ReleaseSecondary dispatches to seg's owning allocator.
func (m *Multiplexer) ReleaseSecondary(g *Guard, d SecondaryDescriptor, seg Segment) error {
	m.requireGuard(g)
	return m.allocatorFor(seg).ReleaseSecondary(d, seg)
}

// ProtectPages wraps the OS protect call directly. It takes no Guard: the
// underlying VirtualProtect/mprotect call is atomic and this method reads
// no Multiplexer state beyond the immutable seg.Allocator() reference.
func (m *Multiplexer) ProtectPages(addr uintptr, n int, seg Segment, new, expectedOld Protection) error {
	return m.allocatorFor(seg).ProtectPages(addr, n, seg, new, expectedOld)
}

// DecommitPages wraps the OS decommit call directly, same no-Guard
// rationale as ProtectPages.
func (m *Multiplexer) DecommitPages(addr uintptr, n int, seg Segment) error {
	return m.allocatorFor(seg).DecommitPages(addr, n, seg)
}

// IsPreReservedSegment reports whether seg was carved from the
// pre-reserved region. This is an immutable property of the segment, so
// no Guard is required to read it.
func (m *Multiplexer) IsPreReservedSegment(seg Segment) bool {
	return seg.IsPreReserved()
}

func (m *Multiplexer) allocatorFor(seg Segment) PageAllocator {
	return seg.Allocator()
}

// PageSize returns the general allocator's page size. Callers that need
// the pre-reserved allocator's page size (should it ever differ) read it
// directly from their own handle to that allocator.
func (m *Multiplexer) PageSize() int {
	return m.general.PageSize()
}
