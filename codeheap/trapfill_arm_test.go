//go:build arm

package codeheap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFillArchDebugBreakBkpt0(t *testing.T) {
	buf := make([]byte, 9)
	fillArchDebugBreak(buf)
	for i, b := range buf {
		assert.Equal(t, bkpt0[i%4], b)
	}
}
