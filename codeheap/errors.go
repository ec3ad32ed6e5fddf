package codeheap

import "errors"

var (
	// ErrOutOfMemory indicates the underlying page allocator returned no
	// space for a new page or segment. No internal state was mutated.
	ErrOutOfMemory = errors.New("codeheap: out of memory")

	// ErrSecondaryExhausted indicates the segment backing a page could not
	// allocate the requested secondary (unwind/pdata-xdata) data. A small
	// allocation is retried on other existing pages and then on one fresh
	// page before this surfaces to the caller; a large allocation surfaces
	// it without a retry.
	ErrSecondaryExhausted = errors.New("codeheap: secondary data allocator exhausted")

	// ErrBadAllocation indicates an Allocation passed to Free, Decommit or
	// a protect call did not originate from this Heap.
	ErrBadAllocation = errors.New("codeheap: allocation not owned by this heap")

	// ErrSizeOverflow indicates a requested size could not be converted to
	// a page count without overflow.
	ErrSizeOverflow = errors.New("codeheap: size overflows page count")
)

// protectionFailed panics. A refused VirtualProtect/mprotect call means the
// process's view of its own address space is no longer trustworthy -
// continuing risks running data as code or silently losing W^X, so this
// is treated as fatal rather than returned to the caller.
func protectionFailed(op string, err error) {
	panic(invariantError{msg: "codeheap: protection failed during " + op, cause: err})
}

// invariantError is the panic value raised by assertf and protectionFailed.
type invariantError struct {
	msg   string
	cause error
}

func (e invariantError) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e invariantError) Unwrap() error { return e.cause }
