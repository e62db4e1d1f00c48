// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package flatland

import (
	"sync"
	"time"

	"github.com/gogpu/flatland/allocation"
	"github.com/gogpu/flatland/fence"
	"github.com/gogpu/flatland/graph"
	"github.com/gogpu/flatland/link"
	"github.com/gogpu/flatland/scheduling"
	"github.com/gogpu/flatland/snapshot"
)

// Manager creates sessions and drives their update lifecycle against
// the frame scheduler. It owns the token flow back to clients: token
// counts accumulate across UpdateSessions calls and flush to the
// clients exactly once, when the scheduler signals OnCpuWorkDone.
type Manager struct {
	scheduler  scheduling.FrameScheduler
	uberSystem *snapshot.System
	linkSystem *link.System
	importers  []allocation.BufferCollectionImporter

	mu            sync.Mutex
	sessions      map[scheduling.SessionID]*Session
	pendingTokens map[scheduling.SessionID]int
}

// NewManager wires a Manager to its collaborators. The importer set is
// handed to every session for image registration.
func NewManager(scheduler scheduling.FrameScheduler, uberSystem *snapshot.System, linkSystem *link.System, importers []allocation.BufferCollectionImporter) *Manager {
	return &Manager{
		scheduler:     scheduler,
		uberSystem:    uberSystem,
		linkSystem:    linkSystem,
		importers:     importers,
		sessions:      make(map[scheduling.SessionID]*Session),
		pendingTokens: make(map[scheduling.SessionID]int),
	}
}

// NewSession creates a session with a fresh instance id. The session
// starts with the full present budget: one token held back for the
// session itself plus an initial allotment delivered through the
// presents-returned callback.
func (m *Manager) NewSession(opts ...SessionOption) *Session {
	id := scheduling.SessionID(snapshot.NextInstanceID())
	s := &Session{
		id:             id,
		manager:        m,
		scheduler:      m.scheduler,
		linkSystem:     m.linkSystem,
		importers:      m.importers,
		transforms:     graph.New(graph.InstanceID(id)),
		transformIDs:   make(map[TransformID]graph.TransformHandle),
		contentIDs:     make(map[ContentID]*contentRecord),
		releasedImages: make(map[graph.TransformHandle]*contentRecord),
		matrices:       make(map[graph.TransformHandle]matrixData),
		opacities:      make(map[graph.TransformHandle]float64),
		fenceQueue:     fence.NewQueue(),
		presentHelper:  scheduling.NewPresentHelper(),
		tokens:         1,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.localRoot = s.transforms.CreateTransform()
	s.uberQueue = m.uberSystem.AllocateQueueForSession(id)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	s.returnTokens(scheduling.MaxPresentsInFlight - 1)
	Logger().Info("session created", "session", uint64(id))
	return s
}

// Session returns a live session by id.
func (m *Manager) Session(id scheduling.SessionID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// SessionCount reports the number of live sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// UpdateSessions publishes the named presents into the snapshot system
// and accumulates the consumed token counts. Called by the scheduler,
// possibly several times per frame; the accumulated counts flush on
// OnCpuWorkDone.
func (m *Manager) UpdateSessions(sessionsToUpdate map[scheduling.SessionID]scheduling.PresentID) {
	consumed := m.uberSystem.UpdateSessions(sessionsToUpdate)
	m.mu.Lock()
	for id, n := range consumed {
		m.pendingTokens[id] += n
	}
	m.mu.Unlock()
}

// OnCpuWorkDone flushes the accumulated token counts to the sessions.
// Each token consumed since the previous flush returns exactly once.
func (m *Manager) OnCpuWorkDone() {
	m.mu.Lock()
	flush := m.pendingTokens
	m.pendingTokens = make(map[scheduling.SessionID]int)
	targets := make(map[scheduling.SessionID]*Session, len(flush))
	for id := range flush {
		if s, ok := m.sessions[id]; ok {
			targets[id] = s
		}
	}
	m.mu.Unlock()

	for id, n := range flush {
		if s, ok := targets[id]; ok {
			s.returnTokens(n)
		}
	}
}

// OnFramePresented fans a frame-done notification out to the sessions
// whose presents latched into the frame.
func (m *Manager) OnFramePresented(latchedTimes map[scheduling.SessionID]map[scheduling.PresentID]time.Time, stamps scheduling.PresentTimestamps) {
	m.mu.Lock()
	targets := make(map[*Session]map[scheduling.PresentID]time.Time, len(latchedTimes))
	for id, latched := range latchedTimes {
		if s, ok := m.sessions[id]; ok {
			targets[s] = latched
		}
	}
	m.mu.Unlock()

	for s, latched := range targets {
		s.framePresented(latched, stamps)
	}
}

// removeSession forgets a closing session. Called from Session.close.
func (m *Manager) removeSession(id scheduling.SessionID) {
	m.mu.Lock()
	delete(m.sessions, id)
	delete(m.pendingTokens, id)
	m.mu.Unlock()

	m.uberSystem.RemoveSession(id)
	m.scheduler.RemoveSession(id)
}
