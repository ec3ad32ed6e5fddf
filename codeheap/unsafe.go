package codeheap

import "unsafe"

// unsafeBytesAt reconstructs a []byte view over a raw heap address. Valid
// only for the duration the caller holds the memory writable - the same
// convention internal/sysmem's unix build uses to bridge uintptr
// addresses to the []byte the mmap syscalls expect.
func unsafeBytesAt(addr uintptr, size int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}
