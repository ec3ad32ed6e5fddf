//go:build !codeheap_debug

package codeheap

const debugAssertions = false

// assertf is a no-op in release builds.
func assertf(cond bool, format string, args ...any) {}
