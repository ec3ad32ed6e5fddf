//go:build !amd64 && !386 && !arm64 && !arm

package codeheap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFillArchDebugBreakFallbackZeroFills(t *testing.T) {
	buf := make([]byte, 5)
	fillArchDebugBreak(buf)
	for _, b := range buf {
		assert.Equal(t, byte(0x00), b)
	}
}
