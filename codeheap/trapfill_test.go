package codeheap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFillDebugBreakClampsToBufferLength(t *testing.T) {
	buf := make([]byte, 4)
	fillDebugBreak(buf, 100)
	for _, b := range buf {
		assert.NotEqual(t, byte(0xFF), b)
	}
}

func TestFillDebugBreakFillsWholeBufferWhenByteCountMatches(t *testing.T) {
	buf := make([]byte, 16)
	for i := range buf {
		buf[i] = 0xAA
	}
	fillDebugBreak(buf, len(buf))
	for _, b := range buf {
		assert.NotEqual(t, byte(0xAA), b, "every byte of the filled range must be overwritten")
	}
}

func TestFillDebugBreakZeroByteCountLeavesBufferUntouched(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	want := append([]byte{}, buf...)
	fillDebugBreak(buf, 0)
	assert.Equal(t, want, buf)
}

func TestFillDebugBreakIsDeterministic(t *testing.T) {
	a := make([]byte, 8)
	b := make([]byte, 8)
	fillDebugBreak(a, 8)
	fillDebugBreak(b, 8)
	assert.Equal(t, a, b)
}
