// Package codeheap implements a bucketed sub-page allocator for executable
// JIT code.
//
// # Overview
//
// A JIT compiler emits many small machine-code functions of independent
// lifetime. Handing each one its own OS page would waste most of every
// page and force a protection flip per function. codeheap instead carves
// OS pages into 128-byte chunks, tracks free chunks with a 32-bit bit
// vector per page, and segregates pages by size class (bucket) so an
// allocation request walks straight to a page that is likely to fit.
//
// Allocations larger than one page (>4096 bytes) bypass bucketing
// entirely and are served as whole-page "large object" ranges.
//
// # Buckets
//
//	SmallObjectList:  1 chunk   (<=128 bytes)
//	Bucket256:        2 chunks  (<=256 bytes)
//	Bucket512:        4 chunks  (<=512 bytes)
//	Bucket1024:       8 chunks  (<=1024 bytes)
//	Bucket2048:      16 chunks  (<=2048 bytes)
//	Bucket4096:      32 chunks  (<=4096 bytes)
//	LargeObjectList: >4096 bytes, whole pages
//
// # Page protection
//
// Executable pages start and end read-execute. Free flips the owning page
// to read-write while it overwrites the freed bytes with a trap
// instruction, and flips it back before returning. Alloc changes no
// protection and writes no bytes; [Heap.ProtectAllocation] exposes
// protection changes to callers that need to write or patch a function in
// place.
//
// # Concurrency
//
// Heap is single-writer: every exported method assumes the caller holds
// whatever external lock guards the emit-buffer-manager's
// Alloc -> write -> protect -> publish sequence. The page-allocator
// multiplexer in package pagealloc enforces its own lock for the state it
// owns; see that package's documentation.
package codeheap
