package pagealloc

// Protection names the page protection states codeheap transitions
// between. The concrete bit patterns are assigned by whatever
// PageAllocator implementation maps them onto the host OS's protection
// flags (PAGE_EXECUTE_* on Windows, PROT_* on Unix).
type Protection int

const (
	ProtectExecuteRead Protection = iota
	ProtectExecuteReadWrite
	ProtectReadWrite
	ProtectNoAccess
)

func (p Protection) String() string {
	switch p {
	case ProtectExecuteRead:
		return "execute-read"
	case ProtectExecuteReadWrite:
		return "execute-readwrite"
	case ProtectReadWrite:
		return "readwrite"
	case ProtectNoAccess:
		return "no-access"
	default:
		return "unknown"
	}
}

// SecondaryDescriptor identifies one secondary-data (unwind/pdata-xdata)
// allocation. Its fields are opaque to codeheap; only the owning
// SecondaryAllocator interprets them.
type SecondaryDescriptor struct {
	Offset uintptr
	Size   int
}

// SecondaryAllocator allocates and releases the platform unwind metadata
// that accompanies a code allocation. One instance is owned per Segment;
// its lifetime is coupled to that segment's.
type SecondaryAllocator interface {
	// Alloc reserves unwind metadata for a function living at
	// [fnStart, fnStart+fnSize). pdataCount and xdataSize are
	// platform-specific unwind-table sizing inputs (ARM pdata entries,
	// x64 UNWIND_INFO bytes respectively); either may be zero.
	Alloc(fnStart uintptr, fnSize int, pdataCount, xdataSize int) (SecondaryDescriptor, error)
	// Release frees a descriptor previously returned by Alloc.
	Release(SecondaryDescriptor) error
	// CanAlloc reports whether this allocator has room for at least one
	// more descriptor of the minimum platform size.
	CanAlloc() bool
}

// Segment identifies one contiguous reservation owned by exactly one
// PageAllocator. Page and Allocation records in package codeheap hold a
// non-owning Segment reference to find their way back to the right
// underlying allocator and secondary-data allocator.
type Segment interface {
	// Allocator returns the PageAllocator that owns this segment.
	Allocator() PageAllocator
	// SecondaryAllocator returns this segment's secondary-data allocator.
	// Returns nil if secondary data is disabled for this heap.
	SecondaryAllocator() SecondaryAllocator
	// CanAllocSecondary reports whether SecondaryAllocator().CanAlloc()
	// would currently succeed; false if secondary data is disabled.
	CanAllocSecondary() bool
	// IsPreReserved reports whether this segment was carved from the
	// pre-reserved region rather than the general one.
	IsPreReserved() bool
}

// PageAllocator is the collaborator contract for one underlying virtual
// memory region. A Multiplexer holds exactly two: general and
// pre-reserved. Implementations are expected to be safe for the same
// locking discipline Multiplexer documents: callers hold Multiplexer's
// Guard around AllocPages/ReleasePages/TrackDecommitted/ReleaseDecommitted/
// AllocSecondary/ReleaseSecondary, but not around ProtectPages/
// DecommitPages.
type PageAllocator interface {
	// AllocPages reserves and commits n consecutive OS pages, returning
	// their base address and an owning Segment. On failure it returns a
	// zero address and a non-nil error; it never partially succeeds.
	AllocPages(n int) (addr uintptr, seg Segment, err error)
	// ReleasePages returns a previously allocated range to the OS,
	// unreserving the address space.
	ReleasePages(addr uintptr, n int, seg Segment) error
	// DecommitPages releases the physical backing of a range while
	// keeping its address-space reservation intact.
	DecommitPages(addr uintptr, n int, seg Segment) error
	// TrackDecommitted records that [addr, addr+n*PageSize) is
	// decommitted but still reserved, so a later AllocPages call may
	// recommit and reuse it instead of reserving fresh address space.
	TrackDecommitted(addr uintptr, n int, seg Segment) error
	// ReleaseDecommitted returns a previously-decommitted, tracked range
	// to the OS, unreserving it.
	ReleaseDecommitted(addr uintptr, n int, seg Segment) error
	// ProtectPages changes the protection of n pages starting at addr,
	// asserting the previous protection matched expectedOld. Returns an
	// error only for a genuine OS-level failure; a protection mismatch is
	// an invariant violation, not an ordinary error.
	ProtectPages(addr uintptr, n int, seg Segment, new, expectedOld Protection) error
	// AllocSecondary is a convenience that dispatches to
	// seg.SecondaryAllocator().Alloc, present on the interface so
	// Multiplexer can route it without the caller needing to know which
	// underlying allocator owns seg.
	AllocSecondary(seg Segment, fnStart uintptr, fnSize int, pdataCount, xdataSize int) (SecondaryDescriptor, error)
	// ReleaseSecondary mirrors AllocSecondary for release.
	ReleaseSecondary(d SecondaryDescriptor, seg Segment) error
	// PageSize returns this allocator's OS page size in bytes.
	PageSize() int
}
