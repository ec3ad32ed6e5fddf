package pagealloc

import "errors"

// errOutOfMemory indicates both the pre-reserved and general allocators
// failed to satisfy an AllocPages request.
var errOutOfMemory = errors.New("pagealloc: out of memory")
