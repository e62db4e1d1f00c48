// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package link

import "sync"

// hangingGet is a single-slot value watcher. Producers Set values,
// consumers Watch for the next change. Equal values coalesce. At most
// one watcher may be parked; a second Watch while one is parked is a
// protocol violation reported through the error sink, matching the
// one-callback-in-flight contract of event pipelining.
type hangingGet[T any] struct {
	mu      sync.Mutex
	value   T
	dirty   bool
	waiter  func(T)
	equal   func(a, b T) bool
	onError func(error)
}

func newHangingGet[T any](equal func(a, b T) bool, onError func(error)) *hangingGet[T] {
	return &hangingGet[T]{equal: equal, onError: onError}
}

// Set publishes a value. A value equal to the pending one is dropped.
// A parked watcher receives the value immediately.
func (h *hangingGet[T]) Set(v T) {
	h.mu.Lock()
	if h.dirty && h.equal(h.value, v) {
		h.mu.Unlock()
		return
	}
	if h.waiter != nil {
		fn := h.waiter
		h.waiter = nil
		var zero T
		h.value = zero
		h.dirty = false
		h.mu.Unlock()
		fn(v)
		return
	}
	h.value = v
	h.dirty = true
	h.mu.Unlock()
}

// Watch registers a one-shot observer for the next value. A pending
// value is delivered immediately. Watching while another observer is
// parked reports ErrBadHangingGet to the error sink and drops fn.
func (h *hangingGet[T]) Watch(fn func(T)) {
	h.mu.Lock()
	if h.dirty {
		v := h.value
		var zero T
		h.value = zero
		h.dirty = false
		h.mu.Unlock()
		fn(v)
		return
	}
	if h.waiter != nil {
		sink := h.onError
		h.mu.Unlock()
		if sink != nil {
			sink(ErrBadHangingGet)
		}
		return
	}
	h.waiter = fn
	h.mu.Unlock()
}
