//go:build !unix && !windows

package sysmem

import (
	"errors"

	"github.com/jitmem/codeheap/pagealloc"
)

// ErrUnsupportedPlatform is returned by every OS call on platforms with
// neither a unix nor a windows build tag - there is no portable way to
// mmap executable memory, so sysmem offers no silent, wrong fallback the
// way internal/mmfile's mmfile_fallback.go does for plain file reads.
var ErrUnsupportedPlatform = errors.New("sysmem: no executable memory support on this platform")

func osPageSize() int { return 4096 }

func mmapExecutable(size int) (uintptr, error) { return 0, ErrUnsupportedPlatform }

func munmapRange(addr uintptr, size int) error { return ErrUnsupportedPlatform }

func decommitRange(addr uintptr, size int) error { return ErrUnsupportedPlatform }

func protectRange(addr uintptr, size int, newProt pagealloc.Protection) error {
	return ErrUnsupportedPlatform
}
