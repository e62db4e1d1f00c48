// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package snapshot

import (
	"sync"
	"sync/atomic"

	"github.com/gogpu/flatland/graph"
	"github.com/gogpu/flatland/scheduling"
)

// instanceCounter backs NextInstanceID. Session ids and transform
// instance ids share one id space so that a session's transform handles
// carry its session id; value 0 stays reserved for link handles.
var instanceCounter atomic.Uint64

// NextInstanceID mints an id usable both as a scheduling.SessionID and
// as a graph.InstanceID. Safe for concurrent use.
func NextInstanceID() uint64 {
	return instanceCounter.Add(1)
}

// System collects the published UberStructs of every session. Sessions
// push through their Queue; the render loop publishes with
// UpdateSessions and reads with Snapshot.
type System struct {
	mu        sync.Mutex
	queues    map[scheduling.SessionID]*Queue
	published InstanceMap
}

// NewSystem returns an empty System.
func NewSystem() *System {
	return &System{
		queues:    make(map[scheduling.SessionID]*Queue),
		published: make(InstanceMap),
	}
}

// AllocateQueueForSession creates the push queue for a new session.
// Allocating twice for one session replaces the old queue.
func (s *System) AllocateQueueForSession(id scheduling.SessionID) *Queue {
	q := &Queue{sessionID: id}
	s.mu.Lock()
	s.queues[id] = q
	s.mu.Unlock()
	return q
}

// RemoveSession drops a session's queue and published UberStruct. Any
// still-pending UberStructs are discarded.
func (s *System) RemoveSession(id scheduling.SessionID) {
	s.mu.Lock()
	delete(s.queues, id)
	delete(s.published, id)
	s.mu.Unlock()
}

// SessionCount reports the number of sessions with a live queue.
func (s *System) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues)
}

// UpdateSessions publishes, for each listed session, every pending
// UberStruct up to and including the named present. The last one
// popped becomes the session's published UberStruct. The return maps
// each session to the number of UberStructs consumed, which is the
// number of present tokens owed back to that session's client.
//
// A session with no pending entry at or below its named present keeps
// its current published UberStruct and consumes nothing.
func (s *System) UpdateSessions(sessionsToUpdate map[scheduling.SessionID]scheduling.PresentID) map[scheduling.SessionID]int {
	consumed := make(map[scheduling.SessionID]int)
	s.mu.Lock()
	defer s.mu.Unlock()
	for sessionID, presentID := range sessionsToUpdate {
		q, ok := s.queues[sessionID]
		if !ok {
			continue
		}
		q.mu.Lock()
		n := 0
		for n < len(q.pending) && q.pending[n].presentID <= presentID {
			n++
		}
		if n > 0 {
			s.published[sessionID] = q.pending[n-1].uber
			q.pending = q.pending[n:]
			consumed[sessionID] = n
		}
		q.mu.Unlock()
	}
	return consumed
}

// Snapshot returns a copy of the published map. The UberStructs inside
// are shared and must not be mutated.
func (s *System) Snapshot() InstanceMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(InstanceMap, len(s.published))
	for id, uber := range s.published {
		out[id] = uber
	}
	return out
}

// PublishedTopology returns the published local topology of one
// session, or nil when the session has never published.
func (s *System) PublishedTopology(id scheduling.SessionID) graph.TopologyVector {
	s.mu.Lock()
	defer s.mu.Unlock()
	uber, ok := s.published[id]
	if !ok {
		return nil
	}
	return uber.LocalTopology
}
