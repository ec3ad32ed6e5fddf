//go:build unix

package sysmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/jitmem/codeheap/pagealloc"
)

// addrOf and sliceAt convert between the uintptr addresses codeheap deals
// in and the []byte slices the unix mmap family wants. unix.Mmap/Munmap/
// Mprotect/Madvise only read the slice's pointer and length, so
// reconstructing a slice header over a raw address (never read past its
// known length) is safe.
func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

func sliceAt(addr uintptr, size int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}

func osPageSize() int {
	return unix.Getpagesize()
}

func mmapExecutable(size int) (uintptr, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_EXEC, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, err
	}
	return addrOf(data), nil
}

func munmapRange(addr uintptr, size int) error {
	return unix.Munmap(sliceAt(addr, size))
}

func decommitRange(addr uintptr, size int) error {
	b := sliceAt(addr, size)
	if err := unix.Madvise(b, unix.MADV_DONTNEED); err != nil {
		return err
	}
	return unix.Mprotect(b, unix.PROT_NONE)
}

func protectRange(addr uintptr, size int, newProt pagealloc.Protection) error {
	prot, err := unixProt(newProt)
	if err != nil {
		return err
	}
	return unix.Mprotect(sliceAt(addr, size), prot)
}

func unixProt(p pagealloc.Protection) (int, error) {
	switch p {
	case pagealloc.ProtectExecuteRead:
		return unix.PROT_READ | unix.PROT_EXEC, nil
	case pagealloc.ProtectExecuteReadWrite:
		return unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC, nil
	case pagealloc.ProtectReadWrite:
		return unix.PROT_READ | unix.PROT_WRITE, nil
	case pagealloc.ProtectNoAccess:
		return unix.PROT_NONE, nil
	default:
		return 0, fmt.Errorf("sysmem: unknown protection %v", p)
	}
}
