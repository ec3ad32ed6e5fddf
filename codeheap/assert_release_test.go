//go:build !codeheap_debug

package codeheap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssertfIsANoOpInReleaseBuilds(t *testing.T) {
	assert.NotPanics(t, func() {
		assertf(false, "this would panic under codeheap_debug")
	})
}

func TestDebugAssertionsFlagIsOffInReleaseBuilds(t *testing.T) {
	assert.False(t, debugAssertions)
}
