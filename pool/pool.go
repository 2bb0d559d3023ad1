// Package pool recycles the packets and frames travelling through the
// pipeline.
package pool

import (
	"sync"
)

// ReuseMemory may be switched off to make use-after-free bugs easier to catch.
var ReuseMemory = true

// Pool is a typed sync.Pool that resets the items it gets back.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(*T)
}

func NewPool[T any](alloc func() *T, reset func(*T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() any { return alloc() }
	return p
}

func (p *Pool[T]) Get() *T {
	return p.pool.Get().(*T)
}

// Put resets the item and makes it available to Get; the caller must
// not use it afterwards.
func (p *Pool[T]) Put(item *T) {
	p.reset(item)
	if ReuseMemory {
		p.pool.Put(item)
	}
}
