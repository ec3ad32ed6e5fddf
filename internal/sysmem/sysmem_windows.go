//go:build windows

package sysmem

import (
	"fmt"

	"golang.org/x/sys/windows"

	"github.com/jitmem/codeheap/pagealloc"
)

func osPageSize() int {
	var info windows.SystemInfo
	windows.GetSystemInfo(&info)
	if info.PageSize == 0 {
		return 4096
	}
	return int(info.PageSize)
}

func mmapExecutable(size int) (uintptr, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READ)
	if err != nil {
		return 0, err
	}
	return addr, nil
}

func munmapRange(addr uintptr, size int) error {
	return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}

func decommitRange(addr uintptr, size int) error {
	return windows.VirtualFree(addr, uintptr(size), windows.MEM_DECOMMIT)
}

func protectRange(addr uintptr, size int, newProt pagealloc.Protection) error {
	prot, err := windowsProt(newProt)
	if err != nil {
		return err
	}
	var old uint32
	return windows.VirtualProtect(addr, uintptr(size), prot, &old)
}

func windowsProt(p pagealloc.Protection) (uint32, error) {
	switch p {
	case pagealloc.ProtectExecuteRead:
		return windows.PAGE_EXECUTE_READ, nil
	case pagealloc.ProtectExecuteReadWrite:
		return windows.PAGE_EXECUTE_READWRITE, nil
	case pagealloc.ProtectReadWrite:
		return windows.PAGE_READWRITE, nil
	case pagealloc.ProtectNoAccess:
		return windows.PAGE_NOACCESS, nil
	default:
		return 0, fmt.Errorf("sysmem: unknown protection %v", p)
	}
}
