// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package scheduling

import (
	"sync"
	"time"
)

// PresentHelper records when each Present of a session was received so
// that OnFramePresented can report PresentReceivedTime alongside the
// latch time chosen by the scheduler.
type PresentHelper struct {
	mu       sync.Mutex
	received map[PresentID]time.Time
}

// NewPresentHelper returns an empty helper.
func NewPresentHelper() *PresentHelper {
	return &PresentHelper{received: make(map[PresentID]time.Time)}
}

// RegisterPresent records the receive time of a present.
func (h *PresentHelper) RegisterPresent(id PresentID, receivedTime time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received[id] = receivedTime
}

// ExtractPresent removes and returns the receive time of a present.
// ok is false when the present was never registered or already extracted.
func (h *PresentHelper) ExtractPresent(id PresentID) (t time.Time, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok = h.received[id]
	if ok {
		delete(h.received, id)
	}
	return t, ok
}

// Pending reports the number of presents registered but not yet extracted.
func (h *PresentHelper) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.received)
}
