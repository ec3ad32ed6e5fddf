package codeheap

import (
	"testing"

	"github.com/jitmem/codeheap/pagealloc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario 1: empty heap, alloc(100) on a fresh page.
func TestAllocOnFreshPage(t *testing.T) {
	h, _ := newTestHeap(t, Options{})

	a, err := h.Alloc(100, 0, 0, false, false)
	require.NoError(t, err)
	require.NotNil(t, a)

	assert.Equal(t, a.page.address, a.Address)
	assert.False(t, a.page.freeVector.chunkFree(0))
	assert.Contains(t, h.buckets[SmallObjectList], a.page)
	assert.Equal(t, a.page.segment, a.segmentRef())
}

// Scenario 2: fill a page with 32 x alloc(128); the 33rd triggers a new page.
func TestFillPageThenOverflow(t *testing.T) {
	h, _ := newTestHeap(t, Options{})

	var allocs []*Allocation
	var pageAddr uintptr
	for i := 0; i < 32; i++ {
		a, err := h.Alloc(128, 0, 0, false, false)
		require.NoError(t, err, "alloc %d", i)
		if i == 0 {
			pageAddr = a.page.address
		}
		allocs = append(allocs, a)
	}

	last := allocs[31]
	assert.Equal(t, pageAddr+31*128, last.Address)
	assert.NotContains(t, h.buckets[SmallObjectList], last.page)
	assert.Contains(t, h.fullPages[SmallObjectList], last.page)

	a33, err := h.Alloc(128, 0, 0, false, false)
	require.NoError(t, err)
	assert.NotEqual(t, pageAddr, a33.page.address, "33rd alloc must land on a new page")
}

// Scenario 3: alloc(256) then alloc(128) on the same page.
func TestMixedBucketSizesSamePage(t *testing.T) {
	h, _ := newTestHeap(t, Options{})

	a256, err := h.Alloc(256, 0, 0, false, false)
	require.NoError(t, err)
	base := a256.page.address
	assert.Equal(t, base, a256.Address)

	a128, err := h.Alloc(128, 0, 0, false, false)
	require.NoError(t, err)
	assert.Equal(t, base+256, a128.Address)

	// chunks 0,1 (from the 256-byte alloc) and 2 (from the 128-byte alloc)
	// are busy; everything else remains free.
	assert.False(t, a256.page.freeVector.chunkFree(0))
	assert.False(t, a256.page.freeVector.chunkFree(1))
	assert.False(t, a256.page.freeVector.chunkFree(2))
	assert.True(t, a256.page.freeVector.chunkFree(3))
}

// Scenario 4: alloc(200) -> free -> alloc(200) returns the same address,
// with a writable flip observed in between via the fake allocator's
// protection tracking, and the trap-fill pattern present at free time.
func TestFreeThenReallocSameAddress(t *testing.T) {
	h, _ := newTestHeap(t, Options{})

	a, err := h.Alloc(200, 0, 0, false, false)
	require.NoError(t, err)
	addr := a.Address
	seg := a.page.segment.(*fakeSegment)

	require.NoError(t, h.Free(a))
	assert.Equal(t, pagealloc.ProtectExecuteRead, seg.prot, "page must end up execute-read again")

	// trap-fill pattern (INT3, 0xCC on amd64/386) is present at the freed
	// address on architectures that fill it; skip the byte check when the
	// build's fallback fill (0x00) is in effect by just asserting the
	// bytes are uniform across the allocation.
	first := seg.buf[int(addr-a.page.address)]
	for i := 0; i < 200; i++ {
		assert.Equal(t, first, seg.buf[int(addr-a.page.address)+i])
	}

	a2, err := h.Alloc(200, 0, 0, false, false)
	require.NoError(t, err)
	assert.Equal(t, addr, a2.Address)
}

// Scenario 5: alloc(8192) is a two-page large allocation tracked in
// largeObjectAllocations and visible to IsInHeap across its whole range.
func TestLargeAllocation(t *testing.T) {
	h, _ := newTestHeap(t, Options{})

	a, err := h.Alloc(8192, 0, 0, false, false)
	require.NoError(t, err)
	require.True(t, a.IsLarge())
	assert.Equal(t, 2, a.PageCount(4096))
	assert.Contains(t, h.largeObjectAllocations, a)
	assert.Equal(t, a.large.segment, a.segmentRef())

	assert.True(t, h.IsInHeap(a.Address+4095))
	assert.True(t, h.IsInHeap(a.Address+8191))
	assert.False(t, h.IsInHeap(a.Address+8192))

	require.NoError(t, h.Free(a))
	assert.NotContains(t, h.largeObjectAllocations, a)
}

// Scenario 6: pre-reserved-preferred alloc falls back to general once the
// pre-reserved region is exhausted, flipping allJITInPreReserved false.
func TestPreReservedFallbackFlipsFlag(t *testing.T) {
	general := newFakeAllocator(4096, false)
	preReserved := newFakeAllocator(4096, true)
	mux := pagealloc.New(general, preReserved, 0, nil)
	h, err := NewHeap(mux, Options{}, nil)
	require.NoError(t, err)

	a1, err := h.Alloc(128, 0, 0, true, true)
	require.NoError(t, err)
	assert.True(t, a1.page.segment.IsPreReserved())
	assert.True(t, h.allJITInPreReserved)

	// Exhaust the pre-reserved region's next AllocPages call so the 33rd
	// alloc (needing a fresh page) must fall back to general.
	for i := 1; i < 32; i++ {
		_, err := h.Alloc(128, 0, 0, true, true)
		require.NoError(t, err)
	}
	preReserved.failNextAlloc = true

	a33, err := h.Alloc(128, 0, 0, true, true)
	require.NoError(t, err)
	assert.False(t, a33.page.segment.IsPreReserved())
	assert.False(t, h.allJITInPreReserved)
}

// Boundary: alloc(1)..alloc(128) all land in SmallObjectList consuming one
// chunk; alloc(129) lands in Bucket256 consuming two.
func TestBoundarySizes(t *testing.T) {
	h, _ := newTestHeap(t, Options{})

	a1, err := h.Alloc(1, 0, 0, false, false)
	require.NoError(t, err)
	assert.Equal(t, SmallObjectList, a1.page.currentBucket)

	h2, _ := newTestHeap(t, Options{})
	a128, err := h2.Alloc(128, 0, 0, false, false)
	require.NoError(t, err)
	assert.Equal(t, SmallObjectList, a128.page.currentBucket)

	a129, err := h2.Alloc(129, 0, 0, false, false)
	require.NoError(t, err)
	assert.Equal(t, Bucket256, a129.page.currentBucket)
}

// alloc(4096) fills a page outright (one allocation, whole bucket).
func TestBucket4096FillsPageImmediately(t *testing.T) {
	h, _ := newTestHeap(t, Options{})

	a, err := h.Alloc(4096, 0, 0, false, false)
	require.NoError(t, err)
	assert.Contains(t, h.fullPages[Bucket4096], a.page)
}

// alloc(4097) bypasses bucketing entirely.
func TestJustOverPageIsLarge(t *testing.T) {
	h, _ := newTestHeap(t, Options{})

	a, err := h.Alloc(4097, 0, 0, false, false)
	require.NoError(t, err)
	assert.True(t, a.IsLarge())
}

// Round-trip: allocs followed by frees in reverse order restore an
// all-ones free vector.
func TestRoundTripRestoresFreeVector(t *testing.T) {
	h, _ := newTestHeap(t, Options{})

	var allocs []*Allocation
	for i := 0; i < 10; i++ {
		a, err := h.Alloc(128, 0, 0, false, false)
		require.NoError(t, err)
		allocs = append(allocs, a)
	}
	p := allocs[0].page

	for i := len(allocs) - 1; i >= 0; i-- {
		require.NoError(t, h.Free(allocs[i]))
	}

	assert.Contains(t, h.decommittedPages, p)
	assert.True(t, p.freeVector.IsFull())
}

// FindPageToSplit: a Bucket512 page serving a 257-byte allocation only
// consumes 3 of its 32 chunks (chunks_for_size, not the bucket's worst-
// case width), leaving a free run long enough for a Bucket256 request.
// With buckets[Bucket256] empty, that request must find and logically
// split the Bucket512 page rather than allocate a fresh one.
func TestFindPageToSplitScansCoarserBuckets(t *testing.T) {
	h, _ := newTestHeap(t, Options{})

	seed, err := h.Alloc(257, 0, 0, false, false)
	require.NoError(t, err)
	require.Equal(t, Bucket512, seed.page.currentBucket)
	seedPage := seed.page
	assert.False(t, seedPage.freeVector.chunkFree(2), "3 chunks busy for a 257-byte alloc")
	assert.True(t, seedPage.freeVector.chunkFree(3), "4th chunk onward still free")

	a, err := h.Alloc(129, 0, 0, false, false)
	require.NoError(t, err)

	assert.Same(t, seedPage, a.page, "the split must reuse the existing page")
	assert.Equal(t, Bucket256, a.page.currentBucket, "the page is re-homed to the finer bucket")
	assert.Equal(t, seedPage.address+3*128, a.Address)
	assert.NotContains(t, h.buckets[Bucket512], seedPage)
	assert.Contains(t, h.buckets[Bucket256], seedPage)
}

// allocInPage consumes exactly chunks_for_size(bytes), not the bucket's
// worst-case chunk width - a 257-byte request (Bucket512, 4-chunk class)
// only clears 3 chunks.
func TestAllocInPageUsesExactChunkWidth(t *testing.T) {
	h, _ := newTestHeap(t, Options{})

	a, err := h.Alloc(257, 0, 0, false, false)
	require.NoError(t, err)
	assert.Equal(t, Bucket512, a.page.currentBucket)
	assert.False(t, a.page.freeVector.chunkFree(0))
	assert.False(t, a.page.freeVector.chunkFree(1))
	assert.False(t, a.page.freeVector.chunkFree(2))
	assert.True(t, a.page.freeVector.chunkFree(3), "only 3 chunks should be consumed, not the bucket's 4")
}

func TestDecommitRetainsPageRecord(t *testing.T) {
	h, _ := newTestHeap(t, Options{})

	a, err := h.Alloc(128, 0, 0, false, false)
	require.NoError(t, err)
	p := a.page

	require.NoError(t, h.Decommit(a))
	assert.Contains(t, h.decommittedPages, p)
	assert.True(t, p.isDecommitted)
}

func TestFreeAllDecommitsEverything(t *testing.T) {
	h, _ := newTestHeap(t, Options{})

	for i := 0; i < 5; i++ {
		_, err := h.Alloc(128, 0, 0, false, false)
		require.NoError(t, err)
	}
	_, err := h.Alloc(8192, 0, 0, false, false)
	require.NoError(t, err)

	require.NoError(t, h.FreeAll())
	assert.Empty(t, h.buckets[SmallObjectList])
	assert.Empty(t, h.fullPages[SmallObjectList])
	assert.Empty(t, h.largeObjectAllocations)
	assert.NotEmpty(t, h.decommittedPages)
}

func TestCloseReleasesEverything(t *testing.T) {
	h, _ := newTestHeap(t, Options{})

	_, err := h.Alloc(128, 0, 0, false, false)
	require.NoError(t, err)
	_, err = h.Alloc(8192, 0, 0, false, false)
	require.NoError(t, err)

	require.NoError(t, h.Close())
	assert.Empty(t, h.buckets[SmallObjectList])
	assert.Empty(t, h.decommittedPages)
	assert.Empty(t, h.largeObjectAllocations)

	require.NoError(t, h.Close(), "Close must be idempotent")
}

func TestSecondaryDataCouplesToAllocation(t *testing.T) {
	h, _ := newTestHeap(t, Options{SecondaryDataEnabled: true})

	a, err := h.Alloc(128, 1, 16, false, false)
	require.NoError(t, err)
	assert.True(t, a.hasSecondary)

	require.NoError(t, h.Free(a))
}

// A page whose secondary-data allocator runs out of room, while its bit
// vector still has free chunks, must be moved to the full list so Alloc
// never re-selects it; the request itself must transparently retry on a
// fresh page rather than surfacing ErrSecondaryExhausted to the caller.
func TestSecondaryExhaustionMovesPageToFullListAndRetries(t *testing.T) {
	h, _ := newTestHeap(t, Options{SecondaryDataEnabled: true})

	a1, err := h.Alloc(64, 0, 2000, false, false)
	require.NoError(t, err)
	a2, err := h.Alloc(64, 0, 2000, false, false)
	require.NoError(t, err)
	require.Same(t, a1.page, a2.page, "first two allocations should share the first page")

	firstPage := a1.page
	bucket := firstPage.currentBucket

	a3, err := h.Alloc(64, 0, 2000, false, false)
	require.NoError(t, err, "exhaustion on the first page must retry rather than surface an error")
	assert.NotSame(t, firstPage, a3.page, "an exhausted page must not be reused")

	assert.Contains(t, h.fullPages[bucket], firstPage)
	assert.NotContains(t, h.buckets[bucket], firstPage)
}

func TestProtectAllocationExecuteReadWriteRoundTrip(t *testing.T) {
	h, _ := newTestHeap(t, Options{})

	a, err := h.Alloc(128, 0, 0, false, false)
	require.NoError(t, err)
	seg := a.page.segment.(*fakeSegment)

	require.NoError(t, h.ProtectAllocationExecuteReadWrite(a))
	assert.Equal(t, pagealloc.ProtectExecuteReadWrite, seg.prot)

	require.NoError(t, h.ProtectAllocationExecuteReadOnly(a))
	assert.Equal(t, pagealloc.ProtectExecuteRead, seg.prot)
}

func TestOutOfMemorySurfacesFromAllocNewPage(t *testing.T) {
	h, general := newTestHeap(t, Options{})
	general.failNextAlloc = true

	_, err := h.Alloc(128, 0, 0, false, false)
	require.ErrorIs(t, err, ErrOutOfMemory)
}

func TestNewHeapRejectsOversizedChunkGeometry(t *testing.T) {
	general := newFakeAllocator(4096, false)
	mux := pagealloc.New(general, nil, 0, nil)

	_, err := NewHeap(mux, Options{ChunkSize: 64, MaxSubPageAlloc: 4096}, nil)
	require.Error(t, err, "64-byte chunks on a 4096-byte page need 64 > 32 bits")
}

// chunkFree is a tiny test-only accessor: true iff the bit at index i is
// set (chunk free) in the free vector, matching the test's plain-English
// phrasing of "is this chunk free".
func (f freeBits) chunkFree(i int) bool {
	return f&(1<<uint(i)) != 0
}
