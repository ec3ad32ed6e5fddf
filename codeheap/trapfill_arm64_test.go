//go:build arm64

package codeheap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFillArchDebugBreakBrk0(t *testing.T) {
	buf := make([]byte, 9)
	fillArchDebugBreak(buf)
	for i, b := range buf {
		assert.Equal(t, brk0[i%4], b)
	}
}
