// Package recordpool is the scratch arena codeheap uses to hold page and
// allocation bookkeeping records, pooled via sync.Pool rather than a raw
// slice or plain `new` to keep the hot Alloc/Free path allocation-light.
package recordpool
