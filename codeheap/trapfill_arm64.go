//go:build arm64

package codeheap

// brk0 is the little-endian encoding of AArch64's BRK #0.
var brk0 = [4]byte{0x00, 0x00, 0x20, 0xD4}

// fillArchDebugBreak fills buf with BRK #0, repeated a whole instruction
// at a time. A trailing partial instruction (buf not a multiple of 4)
// still decodes to a different immediate of the same BRK opcode family,
// which still traps.
func fillArchDebugBreak(buf []byte) {
	for i := 0; i < len(buf); i++ {
		buf[i] = brk0[i%4]
	}
}
