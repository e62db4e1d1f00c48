// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package fence provides the synchronization primitives of the present
// pipeline: one-shot fences and a per-session FIFO queue of fence-gated
// tasks.
//
// A Fence stands in for the acquire/release signals exchanged with
// producers and consumers of buffer memory. Signaling is idempotent and
// observable either by polling or by waiting on a channel.
package fence

import "sync"

// Fence is a one-shot event. The zero value is not usable; create fences
// with New. All methods are safe for concurrent use.
type Fence struct {
	once sync.Once
	done chan struct{}
}

// New creates an unsignaled fence.
func New() *Fence {
	return &Fence{done: make(chan struct{})}
}

// Signal fires the fence. Signaling an already-signaled fence is a no-op.
func (f *Fence) Signal() {
	f.once.Do(func() { close(f.done) })
}

// Signaled reports whether the fence has fired.
func (f *Fence) Signaled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the fence fires.
func (f *Fence) Done() <-chan struct{} {
	return f.done
}

// allSignaled reports whether every fence in the slice has fired.
func allSignaled(fences []*Fence) bool {
	for _, f := range fences {
		if !f.Signaled() {
			return false
		}
	}
	return true
}
