//go:build amd64 || 386

package codeheap

// fillArchDebugBreak fills buf with INT3 (0xCC), the x86 one-byte
// software breakpoint trap.
func fillArchDebugBreak(buf []byte) {
	for i := range buf {
		buf[i] = 0xCC
	}
}
