// Package clock provides a millisecond wall clock that can be swapped out
// for a fake in tests.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time as Unix milliseconds.
type Clock interface {
	Now() int64
}

// Wall is the production clock.
type Wall struct{}

func (Wall) Now() int64 {
	return time.Now().UnixMilli()
}

// Fake is a manually-advanced clock for tests.
type Fake struct {
	mu sync.Mutex
	ms int64
}

func NewFake(start int64) *Fake {
	return &Fake{ms: start}
}

func (f *Fake) Now() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ms
}

// Advance moves the clock forward by d milliseconds.
func (f *Fake) Advance(d int64) {
	f.mu.Lock()
	f.ms += d
	f.mu.Unlock()
}

// Set jumps the clock to an absolute time.
func (f *Fake) Set(ms int64) {
	f.mu.Lock()
	f.ms = ms
	f.mu.Unlock()
}
