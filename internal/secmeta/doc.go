// Package secmeta is a default, in-process implementation of
// pagealloc.SecondaryAllocator: a bump-pointer allocator for the platform
// unwind/exception-data (pdata/xdata) blobs that accompany a code
// allocation.
//
// It is a bump-pointer allocator: no free list, no coalescing, pure
// forward allocation into a backing buffer sized when the Allocator is
// created. Secondary data shares the code allocation's lifetime almost
// exactly - it is released when the code is freed - so never reclaiming
// space mid-segment and simply discarding the whole buffer when the
// segment is released is the right trade.
package secmeta
