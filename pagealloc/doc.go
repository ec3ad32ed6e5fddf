// Package pagealloc defines the page-allocator collaborator contract that
// package codeheap consumes, and provides Multiplexer, the two-tier
// router between a pre-reserved address-space region and a general one.
//
// # Why two regions
//
// Many architectures encode a shorter call/jump when the callee address
// is within a known short displacement of the call site. Multiplexer
// prefers handing out JIT pages from a single large pre-reserved region
// so that as much code as possible stays within that window, falling
// back to a general-purpose region only once the reserved one fills.
//
// # Locking
//
// Multiplexer owns a critical section. Every method that mutates its
// segment bookkeeping takes a *Guard obtained from Lock and panics if
// that Guard is nil, already unlocked, or belongs to another Multiplexer:
// Multiplexer.AllocPages cannot run without a live Guard. Methods that only
// wrap an atomic OS call and touch no shared state (ProtectPages,
// DecommitPages) take no Guard.
//
// # Default implementation
//
// package internal/sysmem provides an OS-backed PageAllocator
// (mmap/mprotect/munmap on Unix, VirtualAlloc/VirtualProtect/VirtualFree
// on Windows) suitable for both the general and pre-reserved slots of a
// Multiplexer. Callers needing a different backing store (a test double,
// a simulated arena) implement PageAllocator and Segment directly.
package pagealloc
