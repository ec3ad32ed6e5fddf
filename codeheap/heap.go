package codeheap

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jitmem/codeheap/internal/recordpool"
	"github.com/jitmem/codeheap/pagealloc"
)

// Heap is the sub-page allocator. It owns a set of Pages segregated by
// Bucket, a list of large (multi-page) Allocations, and the decommitted
// remnants of both. A Heap is not safe for concurrent use by itself: see
// the package doc for the single-writer-under-external-lock contract.
// Construct with NewHeap; the zero value is not usable.
type Heap struct {
	opts Options
	mux  *pagealloc.Multiplexer
	log  *slog.Logger

	pageSize      int
	chunksPerPage int

	pagePool *recordpool.Pool[page]
	allocPool *recordpool.Pool[Allocation]

	buckets   [numBuckets][]*page
	fullPages [numBuckets][]*page

	decommittedPages        []*page
	largeObjectAllocations  []*Allocation
	decommittedLargeObjects []*Allocation

	// allJITInPreReserved tracks whether every JIT allocation so far has
	// landed in the pre-reserved region; once any JIT page falls back to
	// general it latches false and stays false for the Heap's lifetime.
	allJITInPreReserved bool

	closed bool
}

// NewHeap constructs a Heap over mux. mux's PageSize is queried once to
// fix this Heap's chunk geometry; opts.OSPageSize, if set, overrides that
// query instead (useful for a test double whose Segment lies about its
// own page size).
func NewHeap(mux *pagealloc.Multiplexer, opts Options, log *slog.Logger) (*Heap, error) {
	opts, err := opts.defaulted()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	pageSize := opts.OSPageSize
	if pageSize == 0 {
		pageSize = mux.PageSize()
	}
	if pageSize <= 0 {
		return nil, fmt.Errorf("codeheap: could not resolve a page size")
	}
	chunksPerPage := opts.chunksPerPage(pageSize)
	if chunksPerPage != 32 {
		return nil, fmt.Errorf("codeheap: %d chunks of %d bytes per %d-byte page; the 32-bit free vector needs exactly 32", chunksPerPage, opts.ChunkSize, pageSize)
	}

	return &Heap{
		opts:          opts,
		mux:           mux,
		log:           log,
		pageSize:      pageSize,
		chunksPerPage: chunksPerPage,
		pagePool:      recordpool.New[page](),
		allocPool:     recordpool.New[Allocation](),
		allJITInPreReserved: true,
	}, nil
}

// Alloc reserves bytes of executable memory. preferPreReserved asks the
// underlying Multiplexer to try the pre-reserved region first; isJIT
// marks the request as JIT-compiled code for allJITInPreReserved
// bookkeeping (irrelevant to non-JIT callers, who should pass false).
func (h *Heap) Alloc(bytes, pdataCount, xdataSize int, preferPreReserved, isJIT bool) (*Allocation, error) {
	if bytes <= 0 {
		return nil, fmt.Errorf("codeheap: Alloc requires bytes > 0, got %d", bytes)
	}
	if bytes > h.opts.MaxSubPageAlloc {
		return h.allocLargeObject(bytes, pdataCount, xdataSize, preferPreReserved, isJIT)
	}

	b := bucketForSize(bytes, h.opts.ChunkSize, h.opts.MaxSubPageAlloc)

	// A page that fails its secondary-data reservation is moved to the
	// full list by allocInPage before returning, so retrying the search
	// always lands on a different page or, failing that, a fresh one. A
	// fresh page that fails the reservation too ends the search with
	// ErrSecondaryExhausted.
	for {
		if p := h.findPageWithRoom(b); p != nil {
			a, err := h.allocInPage(p, b, bytes, pdataCount, xdataSize)
			if errors.Is(err, ErrSecondaryExhausted) {
				continue
			}
			return a, err
		}

		if p := h.findPageToSplit(b); p != nil {
			h.moveToBucket(p, b)
			a, err := h.allocInPage(p, b, bytes, pdataCount, xdataSize)
			if errors.Is(err, ErrSecondaryExhausted) {
				continue
			}
			return a, err
		}

		p, err := h.allocNewPage(b, preferPreReserved, isJIT)
		if err != nil {
			return nil, err
		}
		return h.allocInPage(p, b, bytes, pdataCount, xdataSize)
	}
}

// findPageWithRoom returns the first page in buckets[b] that can satisfy
// an allocation for bucket b, or nil.
func (h *Heap) findPageWithRoom(b Bucket) *page {
	for _, p := range h.buckets[b] {
		if p.canAllocate(b) {
			return p
		}
	}
	return nil
}

// findPageToSplit scans buckets coarser than b (larger chunk counts) for
// a page that happens to still have a contiguous run of chunks(b) free
// chunks, and returns the first one found. Scanning coarser rather than
// finer buckets is the only direction that keeps the split purely
// logical: a finer bucket's pages are already subdivided into smaller
// runs than chunks(b) needs, so moving one of those into bucket b could
// require relocating live sub-allocations, which the split must not do.
func (h *Heap) findPageToSplit(b Bucket) *page {
	want := b.chunks()
	for coarser := b + 1; coarser <= Bucket4096; coarser++ {
		for _, p := range h.buckets[coarser] {
			if p.freeVector.canAllocate(want) {
				return p
			}
		}
	}
	return nil
}

// moveToBucket removes p from its current bucket list and current-bucket
// full list (wherever it is) and re-homes it in buckets[b] with
// current_bucket = b.
func (h *Heap) moveToBucket(p *page, b Bucket) {
	h.removePageFrom(&h.buckets[p.currentBucket], p)
	h.removePageFrom(&h.fullPages[p.currentBucket], p)
	p.currentBucket = b
	h.buckets[b] = append(h.buckets[b], p)
}

// allocInPage finds a free run long enough for bytes, clears it,
// optionally reserves secondary data, and hands back an Allocation. On
// any failure the bit clear (and any partial secondary reservation) is
// rolled back before returning.
func (h *Heap) allocInPage(p *page, b Bucket, bytes, pdataCount, xdataSize int) (*Allocation, error) {
	length := chunksForSize(bytes, h.opts.ChunkSize)
	i, ok := p.firstFreeRun(length)
	if !ok {
		return nil, fmt.Errorf("codeheap: page reported room for bucket %s but no run was found", b)
	}

	p.freeVector = p.freeVector.clearRun(i, length)

	a := h.allocPool.Get()
	*a = Allocation{
		Address: p.chunkAddress(i, h.opts.ChunkSize),
		Size:    bytes,
		page:    p,
	}

	if h.opts.SecondaryDataEnabled && (pdataCount > 0 || xdataSize > 0) {
		g := h.mux.Lock()
		d, err := h.mux.AllocSecondary(g, p.segment, a.Address, bytes, pdataCount, xdataSize)
		g.Unlock()
		if err != nil {
			h.log.Warn("codeheap: secondary data exhausted, rolling back allocation", "addr", p.address, "bytes", bytes)
			p.freeVector = p.freeVector.setRun(i, length)
			h.allocPool.Put(a)
			// p's secondary allocator is exhausted even though its bit
			// vector still has room; it cannot serve this bucket again
			// until freed, so it goes to the full list rather than
			// staying in buckets[b] where Alloc would just re-select it.
			h.moveToFullList(p)
			return nil, fmt.Errorf("codeheap: %w", ErrSecondaryExhausted)
		}
		a.secondary = d
		a.hasSecondary = true
	}

	h.postAllocListMaintenance(p)
	return a, nil
}

// postAllocListMaintenance moves p to the full list if the allocation
// that just landed on it used up its last usable run.
func (h *Heap) postAllocListMaintenance(p *page) {
	if h.shouldBeInFullList(p) {
		h.moveToFullList(p)
	}
}

// moveToFullList removes p from its current bucket's open list and homes
// it in that bucket's full list.
func (h *Heap) moveToFullList(p *page) {
	h.removePageFrom(&h.buckets[p.currentBucket], p)
	h.fullPages[p.currentBucket] = append(h.fullPages[p.currentBucket], p)
	h.log.Debug("codeheap: page moved to full list", "addr", p.address, "bucket", p.currentBucket)
}

// shouldBeInFullList reports whether p has no more room for another
// allocation of its current bucket, either because its chunks are
// exhausted or its secondary-data allocator is.
func (h *Heap) shouldBeInFullList(p *page) bool {
	if p.hasNoSpace() {
		return true
	}
	return h.opts.SecondaryDataEnabled && !p.segment.CanAllocSecondary()
}

// allocNewPage implements AllocNewPage: ask the multiplexer for one fresh
// page, initialize its record and home it in buckets[b].
func (h *Heap) allocNewPage(b Bucket, preferPreReserved, isJIT bool) (*page, error) {
	g := h.mux.Lock()
	addr, seg, err := h.mux.AllocPages(g, 1, preferPreReserved, isJIT, &h.allJITInPreReserved)
	g.Unlock()
	if err != nil {
		return nil, fmt.Errorf("codeheap: %w", ErrOutOfMemory)
	}

	p := h.pagePool.Get()
	*p = page{
		address:       addr,
		segment:       seg,
		freeVector:    fullFreeBits,
		currentBucket: b,
	}
	assertf(p.freeVector.IsFull(), "freshly allocated page %#x is not fully free", p.address)
	h.buckets[b] = append(h.buckets[b], p)
	h.log.Debug("codeheap: page created", "addr", p.address, "bucket", b)
	return p, nil
}

// Free returns allocation's memory for reuse (small case) or to the OS
// (large case). Individually freed small pages are decommitted rather
// than released outright.
func (h *Heap) Free(a *Allocation) error {
	if a == nil {
		return ErrBadAllocation
	}
	if a.IsLarge() {
		return h.freeLargeObject(a, false)
	}

	p := a.page
	assertf(!p.isDecommitted, "Free called on allocation %#x whose page was already decommitted", a.Address)
	if err := h.fillAndRelease(p, a.Address, a.Size); err != nil {
		return err
	}

	if a.hasSecondary {
		g := h.mux.Lock()
		_ = h.mux.ReleaseSecondary(g, a.secondary, a.segmentRef())
		g.Unlock()
	}

	if wasFull := h.removePageFrom(&h.fullPages[p.currentBucket], p); wasFull {
		h.buckets[p.currentBucket] = append(h.buckets[p.currentBucket], p)
		h.log.Debug("codeheap: page moved to open list", "addr", p.address, "bucket", p.currentBucket)
	}

	h.allocPool.Put(a)

	if p.isEmpty() {
		return h.decommitEmptyPage(p)
	}
	return nil
}

// fillAndRelease flips p writable, overwrites [addr, addr+size) with the
// trap-fill pattern, flips p back to executable, and marks the chunks
// free in p's bit vector. It does not touch list membership.
func (h *Heap) fillAndRelease(p *page, addr uintptr, size int) error {
	if err := h.protectPage(p, pagealloc.ProtectReadWrite, pagealloc.ProtectExecuteRead); err != nil {
		return err
	}
	fillDebugBreak(addrToBytes(addr, size), size)
	if err := h.protectPage(p, pagealloc.ProtectExecuteRead, pagealloc.ProtectReadWrite); err != nil {
		return err
	}

	i, ok := p.indexOf(addr, h.pageSize, h.opts.ChunkSize)
	if !ok {
		return ErrBadAllocation
	}
	length := chunksForSize(size, h.opts.ChunkSize)
	p.freeVector = p.freeVector.setRun(i, length)
	return nil
}

// protectPage wraps Multiplexer.ProtectPages for one page, panicking (via
// protectionFailed) on an OS-level failure - a refused protection
// change is a fatal invariant violation, not an ordinary error.
func (h *Heap) protectPage(p *page, new, expectedOld pagealloc.Protection) error {
	if err := h.mux.ProtectPages(p.address, 1, p.segment, new, expectedOld); err != nil {
		protectionFailed(fmt.Sprintf("page %#x %s->%s", p.address, expectedOld, new), err)
	}
	return nil
}

// decommitEmptyPage removes an empty page from its bucket list and
// decommits it, retaining the record on decommittedPages until Close
// releases it. Alloc does not recommit a decommitted page; later requests
// are served from other pages or fresh ones. This is the "freed
// individually" decommit branch; FreeAll uses decommitPageAndTrack and
// Close uses releasePage instead.
func (h *Heap) decommitEmptyPage(p *page) error {
	assertf(!p.isDecommitted, "decommitEmptyPage called twice on page %#x", p.address)
	h.removePageFrom(&h.buckets[p.currentBucket], p)

	g := h.mux.Lock()
	err := h.mux.DecommitPages(p.address, 1, p.segment)
	if err == nil {
		err = h.mux.TrackDecommitted(g, p.address, 1, p.segment)
	}
	g.Unlock()
	if err != nil {
		return fmt.Errorf("codeheap: decommit page %#x: %w", p.address, err)
	}

	p.isDecommitted = true
	h.decommittedPages = append(h.decommittedPages, p)
	h.log.Debug("codeheap: page decommitted", "addr", p.address)
	return nil
}

// releasePage removes p from its bucket list and releases it to the OS
// outright, regardless of whether it still has live allocations on it -
// Close (the destructor path) tears down everything, not just empty
// pages.
func (h *Heap) releasePage(p *page) error {
	h.removePageFrom(&h.buckets[p.currentBucket], p)

	g := h.mux.Lock()
	err := h.mux.ReleasePages(g, p.address, 1, p.segment)
	g.Unlock()
	if err != nil {
		return fmt.Errorf("codeheap: release page %#x: %w", p.address, err)
	}
	h.pagePool.Put(p)
	h.log.Debug("codeheap: segment released", "addr", p.address)
	return nil
}

// Decommit marks a small allocation's chunks free and releases its
// secondary data; a page left empty is decommitted and its record kept,
// as in Free. A large allocation's pages are decommitted and tracked.
// Unlike Free, it does not trap-fill: the caller is asserting the memory
// will never be observed again, not merely that it is being reused.
func (h *Heap) Decommit(a *Allocation) error {
	if a == nil {
		return ErrBadAllocation
	}
	if a.IsLarge() {
		return h.decommitLargeObject(a)
	}

	p := a.page
	i, ok := p.indexOf(a.Address, h.pageSize, h.opts.ChunkSize)
	if !ok {
		return ErrBadAllocation
	}
	length := chunksForSize(a.Size, h.opts.ChunkSize)
	p.freeVector = p.freeVector.setRun(i, length)

	if a.hasSecondary {
		g := h.mux.Lock()
		_ = h.mux.ReleaseSecondary(g, a.secondary, a.segmentRef())
		g.Unlock()
	}

	if wasFull := h.removePageFrom(&h.fullPages[p.currentBucket], p); wasFull {
		h.buckets[p.currentBucket] = append(h.buckets[p.currentBucket], p)
		h.log.Debug("codeheap: page moved to open list", "addr", p.address, "bucket", p.currentBucket)
	}

	h.allocPool.Put(a)

	if p.isEmpty() {
		return h.decommitEmptyPage(p)
	}
	return nil
}

// allocLargeObject handles requests bigger than MaxSubPageAlloc, which
// bypass bucketing entirely and reserve whole pages directly.
func (h *Heap) allocLargeObject(bytes, pdataCount, xdataSize int, preferPreReserved, isJIT bool) (*Allocation, error) {
	pages := (bytes + h.pageSize - 1) / h.pageSize
	if pages <= 0 {
		return nil, ErrSizeOverflow
	}

	g := h.mux.Lock()
	addr, seg, err := h.mux.AllocPages(g, pages, preferPreReserved, isJIT, &h.allJITInPreReserved)
	g.Unlock()
	if err != nil {
		return nil, fmt.Errorf("codeheap: %w", ErrOutOfMemory)
	}

	a := &Allocation{
		Address: addr,
		Size:    pages * h.pageSize,
		large:   &largeExtra{segment: seg},
	}

	if h.opts.SecondaryDataEnabled && (pdataCount > 0 || xdataSize > 0) {
		g := h.mux.Lock()
		d, err := h.mux.AllocSecondary(g, seg, addr, bytes, pdataCount, xdataSize)
		g.Unlock()
		if err != nil {
			h.log.Warn("codeheap: secondary data exhausted, rolling back large allocation", "addr", addr, "bytes", bytes)
			g2 := h.mux.Lock()
			_ = h.mux.ReleasePages(g2, addr, pages, seg)
			g2.Unlock()
			return nil, fmt.Errorf("codeheap: %w", ErrSecondaryExhausted)
		}
		a.secondary = d
		a.hasSecondary = true
	}

	h.largeObjectAllocations = append(h.largeObjectAllocations, a)
	h.log.Debug("codeheap: page created", "addr", addr, "pages", pages, "large", true)
	return a, nil
}

// freeLargeObject reverses allocLargeObject. release chooses between the
// full-release and decommit branches, same split as the small-object
// path.
func (h *Heap) freeLargeObject(a *Allocation, release bool) error {
	seg := a.segmentRef()
	if a.hasSecondary {
		g := h.mux.Lock()
		_ = h.mux.ReleaseSecondary(g, a.secondary, seg)
		g.Unlock()
	}

	h.unlinkLargeAllocation(a)

	pages := a.PageCount(h.pageSize)
	g := h.mux.Lock()
	var err error
	if release {
		err = h.mux.ReleasePages(g, a.Address, pages, seg)
	} else {
		err = h.mux.DecommitPages(a.Address, pages, seg)
		if err == nil {
			err = h.mux.TrackDecommitted(g, a.Address, pages, seg)
		}
	}
	g.Unlock()
	if err != nil {
		return fmt.Errorf("codeheap: release/decommit large allocation %#x: %w", a.Address, err)
	}

	if release {
		h.log.Debug("codeheap: segment released", "addr", a.Address, "large", true)
	} else {
		h.decommittedLargeObjects = append(h.decommittedLargeObjects, a)
		h.log.Debug("codeheap: page decommitted", "addr", a.Address, "large", true)
	}
	return nil
}

func (h *Heap) decommitLargeObject(a *Allocation) error {
	return h.freeLargeObject(a, false)
}

func (h *Heap) unlinkLargeAllocation(a *Allocation) {
	for i, cur := range h.largeObjectAllocations {
		if cur == a {
			h.largeObjectAllocations = append(h.largeObjectAllocations[:i], h.largeObjectAllocations[i+1:]...)
			return
		}
	}
}

// FreeAll releases every live allocation and page this Heap owns back to
// the OS via decommit, leaving page records on the decommitted lists
// until Close releases them; Alloc does not recommit them. This is the
// explicit-call half of the release-vs-
// decommit policy split; Close (the destructor path) fully releases
// instead.
func (h *Heap) FreeAll() error {
	for b := SmallObjectList; b <= Bucket4096; b++ {
		for _, p := range append([]*page{}, h.buckets[b]...) {
			if err := h.decommitPageAndTrack(p); err != nil {
				return err
			}
		}
		for _, p := range append([]*page{}, h.fullPages[b]...) {
			if err := h.decommitPageAndTrack(p); err != nil {
				return err
			}
		}
		h.buckets[b] = nil
		h.fullPages[b] = nil
	}

	for _, a := range append([]*Allocation{}, h.largeObjectAllocations...) {
		if err := h.freeLargeObject(a, false); err != nil {
			return err
		}
	}
	return nil
}

func (h *Heap) decommitPageAndTrack(p *page) error {
	g := h.mux.Lock()
	err := h.mux.DecommitPages(p.address, 1, p.segment)
	if err == nil {
		err = h.mux.TrackDecommitted(g, p.address, 1, p.segment)
	}
	g.Unlock()
	if err != nil {
		return fmt.Errorf("codeheap: FreeAll decommit page %#x: %w", p.address, err)
	}
	p.isDecommitted = true
	h.decommittedPages = append(h.decommittedPages, p)
	return nil
}

// Close is the destructor path: every page and large allocation this
// Heap still owns, including previously decommitted ones, is released to
// the OS outright. A second call to Close does nothing and returns nil.
func (h *Heap) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true

	for b := SmallObjectList; b <= Bucket4096; b++ {
		for _, p := range append([]*page{}, h.buckets[b]...) {
			if err := h.releasePage(p); err != nil {
				return err
			}
		}
		for _, p := range append([]*page{}, h.fullPages[b]...) {
			if err := h.releasePage(p); err != nil {
				return err
			}
		}
		h.buckets[b] = nil
		h.fullPages[b] = nil
	}

	for _, p := range h.decommittedPages {
		g := h.mux.Lock()
		err := h.mux.ReleaseDecommitted(g, p.address, 1, p.segment)
		g.Unlock()
		if err != nil {
			return fmt.Errorf("codeheap: release decommitted page %#x: %w", p.address, err)
		}
		h.pagePool.Put(p)
	}
	h.decommittedPages = nil

	for _, a := range append([]*Allocation{}, h.largeObjectAllocations...) {
		if err := h.freeLargeObject(a, true); err != nil {
			return err
		}
	}

	for _, a := range h.decommittedLargeObjects {
		pages := a.PageCount(h.pageSize)
		g := h.mux.Lock()
		err := h.mux.ReleaseDecommitted(g, a.Address, pages, a.segmentRef())
		g.Unlock()
		if err != nil {
			return fmt.Errorf("codeheap: release decommitted large allocation %#x: %w", a.Address, err)
		}
	}
	h.decommittedLargeObjects = nil

	return nil
}

// IsInHeap reports whether addr lies within some page or large
// allocation this Heap currently tracks, including decommitted ones.
func (h *Heap) IsInHeap(addr uintptr) bool {
	for b := SmallObjectList; b <= Bucket4096; b++ {
		if pageListContains(h.buckets[b], addr, h.pageSize) {
			return true
		}
		if pageListContains(h.fullPages[b], addr, h.pageSize) {
			return true
		}
	}
	if pageListContains(h.decommittedPages, addr, h.pageSize) {
		return true
	}
	for _, a := range h.largeObjectAllocations {
		if addr >= a.Address && addr < a.Address+uintptr(a.Size) {
			return true
		}
	}
	for _, a := range h.decommittedLargeObjects {
		if addr >= a.Address && addr < a.Address+uintptr(a.Size) {
			return true
		}
	}
	return false
}

func pageListContains(list []*page, addr uintptr, pageSize int) bool {
	for _, p := range list {
		if addr >= p.address && addr < p.address+uintptr(pageSize) {
			return true
		}
	}
	return false
}

// removePageFrom removes p from *list if present, reporting whether it
// was found.
func (h *Heap) removePageFrom(list *[]*page, p *page) bool {
	for i, cur := range *list {
		if cur == p {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

// addrToBytes reinterprets a raw heap address as a []byte of length size,
// for fillDebugBreak to write trap bytes into. Safe because the caller
// just flipped this exact range writable and owns it until it flips back.
func addrToBytes(addr uintptr, size int) []byte {
	return unsafeBytesAt(addr, size)
}
