package recordpool

import "sync"

// Pool is a typed wrapper over sync.Pool for bookkeeping records of type
// T. The zero value is not usable; construct with New.
type Pool[T any] struct {
	pool sync.Pool
}

// New creates a Pool whose Get returns a zeroed *T when the pool is
// empty.
func New[T any]() *Pool[T] {
	p := &Pool[T]{}
	p.pool.New = func() any { return new(T) }
	return p
}

// Get returns a record, either reused from the pool or freshly allocated.
// Callers must not assume any particular field values; zero it themselves
// if that matters.
func (p *Pool[T]) Get() *T {
	return p.pool.Get().(*T)
}

// Put returns a record to the pool for reuse. Callers must not use rec
// after calling Put.
func (p *Pool[T]) Put(rec *T) {
	p.pool.Put(rec)
}
