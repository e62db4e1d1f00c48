// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package flatland

import (
	"testing"
	"time"

	"github.com/gogpu/flatland/scheduling"
)

func TestManagerCoalescesTokenReturns(t *testing.T) {
	h := newHarness()
	var returns []int
	s := h.manager.NewSession(WithPresentProcessedFunc(func(n int, _ []scheduling.FuturePresentationInfo) {
		returns = append(returns, n)
	}))
	returns = nil

	// Three presents published across two UpdateSessions calls flush
	// as one callback carrying the total.
	for i := 0; i < 3; i++ {
		if err := s.Present(PresentArgs{}); err != nil {
			t.Fatalf("Present %d: %v", i, err)
		}
	}
	h.sched.mu.Lock()
	first := h.sched.scheduled[0]
	third := h.sched.scheduled[2]
	h.sched.mu.Unlock()

	h.manager.UpdateSessions(map[scheduling.SessionID]scheduling.PresentID{
		first.SessionID: first.PresentID,
	})
	h.manager.UpdateSessions(map[scheduling.SessionID]scheduling.PresentID{
		third.SessionID: third.PresentID,
	})
	if len(returns) != 0 {
		t.Fatalf("tokens returned before OnCpuWorkDone: %v", returns)
	}

	h.manager.OnCpuWorkDone()
	if len(returns) != 1 || returns[0] != 3 {
		t.Errorf("returns = %v, want [3]", returns)
	}

	// A second flush with nothing pending is silent.
	h.manager.OnCpuWorkDone()
	if len(returns) != 1 {
		t.Errorf("empty flush invoked the callback: %v", returns)
	}
}

func TestManagerTracksMultipleSessions(t *testing.T) {
	h := newHarness()
	returned := make(map[scheduling.SessionID]int)
	a := h.manager.NewSession()
	b := h.manager.NewSession()
	for _, s := range []*Session{a, b} {
		id := s.ID()
		s.mu.Lock()
		s.onPresentProcessed = func(n int, _ []scheduling.FuturePresentationInfo) { returned[id] += n }
		s.mu.Unlock()
	}

	if err := a.Present(PresentArgs{}); err != nil {
		t.Fatalf("Present: %v", err)
	}
	if err := a.Present(PresentArgs{}); err != nil {
		t.Fatalf("Present: %v", err)
	}
	if err := b.Present(PresentArgs{}); err != nil {
		t.Fatalf("Present: %v", err)
	}

	h.sched.mu.Lock()
	updates := make(map[scheduling.SessionID]scheduling.PresentID)
	for _, pair := range h.sched.scheduled {
		updates[pair.SessionID] = pair.PresentID
	}
	h.sched.mu.Unlock()

	h.manager.UpdateSessions(updates)
	h.manager.OnCpuWorkDone()
	if returned[a.ID()] != 2 {
		t.Errorf("session a returns = %d, want 2", returned[a.ID()])
	}
	if returned[b.ID()] != 1 {
		t.Errorf("session b returns = %d, want 1", returned[b.ID()])
	}
}

func TestManagerOnFramePresented(t *testing.T) {
	h := newHarness()
	var got scheduling.FramePresentedInfo
	notified := 0
	s := h.manager.NewSession(WithFramePresentedFunc(func(info scheduling.FramePresentedInfo) {
		got = info
		notified++
	}))

	before := time.Now()
	if err := s.Present(PresentArgs{}); err != nil {
		t.Fatalf("Present: %v", err)
	}
	pair := h.sched.lastScheduled(t)
	h.publish(t, s)

	presented := time.Now().Add(16 * time.Millisecond)
	latch := time.Now()
	h.manager.OnFramePresented(map[scheduling.SessionID]map[scheduling.PresentID]time.Time{
		s.ID(): {pair.PresentID: latch},
	}, scheduling.PresentTimestamps{PresentedTime: presented, VsyncInterval: 16 * time.Millisecond})

	if notified != 1 {
		t.Fatalf("frame notifications = %d, want 1", notified)
	}
	if !got.ActualPresentationTime.Equal(presented) {
		t.Errorf("ActualPresentationTime = %v, want %v", got.ActualPresentationTime, presented)
	}
	if len(got.PresentationInfos) != 1 {
		t.Fatalf("PresentationInfos length = %d, want 1", len(got.PresentationInfos))
	}
	info := got.PresentationInfos[0]
	if info.PresentReceivedTime.Before(before) {
		t.Errorf("PresentReceivedTime %v earlier than the Present call", info.PresentReceivedTime)
	}
	if !info.LatchedTime.Equal(latch) {
		t.Errorf("LatchedTime = %v, want %v", info.LatchedTime, latch)
	}
	if got.NumPresentsAllowed != 0 {
		t.Errorf("NumPresentsAllowed = %d, want 0 (tokens flow through OnCpuWorkDone)", got.NumPresentsAllowed)
	}

	// A second notification for the same present finds nothing.
	h.manager.OnFramePresented(map[scheduling.SessionID]map[scheduling.PresentID]time.Time{
		s.ID(): {pair.PresentID: latch},
	}, scheduling.PresentTimestamps{PresentedTime: presented})
	if len(got.PresentationInfos) != 0 {
		t.Errorf("replayed present produced infos: %v", got.PresentationInfos)
	}
}

func TestManagerTeardownOnClose(t *testing.T) {
	h := newHarness()
	s := h.manager.NewSession()
	if err := s.Present(PresentArgs{}); err != nil {
		t.Fatalf("Present: %v", err)
	}
	s.Close()
	s.Close()

	if h.manager.SessionCount() != 0 {
		t.Errorf("SessionCount = %d, want 0", h.manager.SessionCount())
	}
	if h.uberSystem.SessionCount() != 0 {
		t.Errorf("snapshot queue survived teardown")
	}
	h.sched.mu.Lock()
	removed := len(h.sched.removed)
	h.sched.mu.Unlock()
	if removed != 1 {
		t.Errorf("scheduler RemoveSession calls = %d, want 1", removed)
	}

	// Late token flushes for the dead session are dropped.
	h.manager.OnCpuWorkDone()
	if err := s.Present(PresentArgs{}); err != ErrSessionClosed {
		t.Errorf("Present after close = %v, want ErrSessionClosed", err)
	}
}

func TestManagerSessionLookup(t *testing.T) {
	h := newHarness()
	s := h.manager.NewSession()
	if got, ok := h.manager.Session(s.ID()); !ok || got != s {
		t.Errorf("Session(%d) = %v, %v", s.ID(), got, ok)
	}
	if _, ok := h.manager.Session(99999); ok {
		t.Errorf("lookup of unknown session succeeded")
	}
}
