package codeheap

import "fmt"

// Options configures a Heap. There is no builder: construct the struct
// literal directly and pass it to NewHeap.
type Options struct {
	// ChunkSize is the sub-page allocation quantum in bytes. Defaults to
	// 128 when zero.
	ChunkSize int
	// MaxSubPageAlloc is the largest request size served by bucketing;
	// anything bigger is a large (whole-page) allocation. Defaults to
	// 4096 when zero.
	MaxSubPageAlloc int
	// OSPageSize is the host's page size in bytes. Zero defers to the
	// Multiplexer's PageSize, queried once by NewHeap.
	OSPageSize int
	// SecondaryDataEnabled turns on unwind/pdata-xdata coupling. When
	// false, AllocSecondary is never called and pages are never pushed
	// to the full list for secondary exhaustion.
	SecondaryDataEnabled bool
}

// defaulted returns a copy of o with zero fields filled in, after
// validating that nothing was set to a nonsensical negative value.
func (o Options) defaulted() (Options, error) {
	if o.ChunkSize < 0 || o.MaxSubPageAlloc < 0 || o.OSPageSize < 0 {
		return o, fmt.Errorf("codeheap: Options fields must be non-negative: %+v", o)
	}
	if o.ChunkSize == 0 {
		o.ChunkSize = 128
	}
	if o.MaxSubPageAlloc == 0 {
		o.MaxSubPageAlloc = 4096
	}
	if o.MaxSubPageAlloc%o.ChunkSize != 0 {
		return o, fmt.Errorf("codeheap: MaxSubPageAlloc (%d) must be a multiple of ChunkSize (%d)", o.MaxSubPageAlloc, o.ChunkSize)
	}
	return o, nil
}

// chunksPerPage returns how many ChunkSize-sized chunks fit in one page
// of the given size.
func (o Options) chunksPerPage(pageSize int) int {
	return pageSize / o.ChunkSize
}
