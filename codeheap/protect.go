package codeheap

import (
	"fmt"

	"github.com/jitmem/codeheap/pagealloc"
)

// ProtectAllocation flips a's memory from expectedOld to new, asserting
// the pair matches what the caller claims the current state is. A
// mismatch, or a refused OS call, is an invariant violation and
// panics via protectionFailed rather than returning an error: continuing
// after a protection failure risks running data as code.
func (h *Heap) ProtectAllocation(a *Allocation, new, expectedOld pagealloc.Protection) error {
	if a == nil {
		return ErrBadAllocation
	}

	if a.IsLarge() {
		pages := a.PageCount(h.pageSize)
		if err := h.mux.ProtectPages(a.Address, pages, a.large.segment, new, expectedOld); err != nil {
			protectionFailed(fmt.Sprintf("large allocation %#x %s->%s", a.Address, expectedOld, new), err)
		}
		return nil
	}

	if err := h.mux.ProtectPages(a.page.address, 1, a.page.segment, new, expectedOld); err != nil {
		protectionFailed(fmt.Sprintf("allocation %#x %s->%s", a.Address, expectedOld, new), err)
	}
	return nil
}

// ProtectAllocationExecuteReadWrite flips a from published (execute-read)
// to patch-while-running (execute-readwrite), keeping it executable the
// whole time. Use this, not Free's internal writable flip, when patching
// a live function in place.
func (h *Heap) ProtectAllocationExecuteReadWrite(a *Allocation) error {
	return h.ProtectAllocation(a, pagealloc.ProtectExecuteReadWrite, pagealloc.ProtectExecuteRead)
}

// ProtectAllocationExecuteReadOnly re-publishes a, flipping it back from
// patch-while-running to execute-read.
func (h *Heap) ProtectAllocationExecuteReadOnly(a *Allocation) error {
	return h.ProtectAllocation(a, pagealloc.ProtectExecuteRead, pagealloc.ProtectExecuteReadWrite)
}
