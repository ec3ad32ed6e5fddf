//go:build codeheap_debug

package codeheap

import "fmt"

// debugAssertions reports whether invariant checks are compiled in,
// expressed as a build tag so release builds pay nothing for it rather
// than branching on a constant.
const debugAssertions = true

// assertf panics with an InvariantViolation-flavored error if cond is
// false. Only compiled in under the codeheap_debug build tag; release
// builds assume these conditions unreachable.
func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(invariantError{msg: "codeheap: invariant violated: " + fmt.Sprintf(format, args...)})
	}
}
