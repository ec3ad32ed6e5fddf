package main

import (
	"fmt"

	"github.com/jitmem/codeheap"
	"github.com/jitmem/codeheap/internal/sysmem"
	"github.com/jitmem/codeheap/pagealloc"
)

// buildHeap wires a codeheap.Heap over a real OS-backed Multiplexer, the
// same collaborator graph an embedding process would assemble, just with
// no pre-reserved region unless preReservedPages asks for one.
func buildHeap(chunkSize, maxSubPageAlloc, preReservedPages, spinCount int) (*codeheap.Heap, error) {
	general := sysmem.New(0, false)

	var preReserved pagealloc.PageAllocator
	if preReservedPages > 0 {
		pre := sysmem.New(general.PageSize(), true)
		preReserved = pre
	}

	mux := pagealloc.New(general, preReserved, spinCount, nil)

	opts := codeheap.Options{ChunkSize: chunkSize, MaxSubPageAlloc: maxSubPageAlloc}
	h, err := codeheap.NewHeap(mux, opts, nil)
	if err != nil {
		return nil, fmt.Errorf("build heap: %w", err)
	}
	return h, nil
}
