package codeheap

// BucketStats summarizes one page bucket's occupancy.
type BucketStats struct {
	Bucket    Bucket
	OpenPages int
	FullPages int
}

// Stats summarizes a Heap's current page and large-object occupancy.
type Stats struct {
	Buckets                 [numBuckets]BucketStats
	DecommittedPages        int
	LargeObjects            int
	DecommittedLargeObjects int
	AllJITInPreReserved     bool
}

// Stats takes a point-in-time snapshot of h's bookkeeping. Like every
// other Heap method, the caller must serialize this against concurrent
// Alloc/Free calls itself.
func (h *Heap) Stats() Stats {
	var s Stats
	for b := SmallObjectList; b <= Bucket4096; b++ {
		s.Buckets[b] = BucketStats{
			Bucket:    b,
			OpenPages: len(h.buckets[b]),
			FullPages: len(h.fullPages[b]),
		}
	}
	s.DecommittedPages = len(h.decommittedPages)
	s.LargeObjects = len(h.largeObjectAllocations)
	s.DecommittedLargeObjects = len(h.decommittedLargeObjects)
	s.AllJITInPreReserved = h.allJITInPreReserved
	return s
}
