// Package sysmem is the default OS-backed pagealloc.PageAllocator: it
// reserves, commits, decommits and reprotects real virtual memory via
// golang.org/x/sys, split per platform into one file per GOOS build tag,
// each implementing the same function signatures differently.
//
// An Allocator here fills either slot of a pagealloc.Multiplexer - pass
// two instances to pagealloc.New, the one for the pre-reserved slot
// constructed with preReserved=true.
package sysmem
