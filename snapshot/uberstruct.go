// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package snapshot carries session scene state from the session
// goroutines to the render loop. Each Present produces one UberStruct,
// an immutable copy of everything the compositor needs from that
// session. UberStructs queue per session until their acquire fences
// clear, then UpdateSessions publishes them; Snapshot hands the render
// loop a consistent view across all sessions.
package snapshot

import (
	"sync"

	"github.com/gogpu/gg"

	"github.com/gogpu/flatland/allocation"
	"github.com/gogpu/flatland/graph"
	"github.com/gogpu/flatland/scheduling"
)

// LinkProperties is the layout contract a parent pushes across a link
// to its child.
type LinkProperties struct {
	// LogicalSize is the coordinate space, in logical pixels, the
	// child should fill. Both components are positive.
	LogicalSize gg.Point
}

// UberStruct is the published form of one session's scene after a
// Present. It is immutable once pushed; readers share it freely.
type UberStruct struct {
	// LocalTopology is the session's reachable topology in pre-order,
	// with per-entry child counts.
	LocalTopology graph.TopologyVector

	// LocalMatrices holds the transform matrix of every handle whose
	// matrix is not identity.
	LocalMatrices map[graph.TransformHandle]gg.Matrix

	// LocalOpacityValues holds the opacity of every handle whose
	// opacity is below 1.
	LocalOpacityValues map[graph.TransformHandle]float64

	// Images maps content-bearing handles to the image they sample.
	Images map[graph.TransformHandle]allocation.ImageMetadata

	// LinkProperties maps child link handles to the layout most
	// recently set for that link.
	LinkProperties map[graph.TransformHandle]LinkProperties
}

// NewUberStruct returns an UberStruct with all maps allocated.
func NewUberStruct() *UberStruct {
	return &UberStruct{
		LocalMatrices:      make(map[graph.TransformHandle]gg.Matrix),
		LocalOpacityValues: make(map[graph.TransformHandle]float64),
		Images:             make(map[graph.TransformHandle]allocation.ImageMetadata),
		LinkProperties:     make(map[graph.TransformHandle]LinkProperties),
	}
}

// InstanceMap is one consistent view across sessions: the most recently
// published UberStruct of every live session.
type InstanceMap map[scheduling.SessionID]*UberStruct

type pendingUberStruct struct {
	presentID scheduling.PresentID
	uber      *UberStruct
}

// Queue is a session's private channel into the System. Pushes happen
// from the session's fence queue; pops happen from the render loop via
// System.UpdateSessions.
type Queue struct {
	sessionID scheduling.SessionID

	mu         sync.Mutex
	pending    []pendingUberStruct
	lastPushed scheduling.PresentID
}

// SessionID returns the owning session.
func (q *Queue) SessionID() scheduling.SessionID { return q.sessionID }

// Push appends an UberStruct for the given present. Present ids are
// minted in call order and the session's fence queue commits in FIFO
// order, so pushes must arrive in increasing id order; an out-of-order
// push means corrupted present bookkeeping and panics.
func (q *Queue) Push(id scheduling.PresentID, uber *UberStruct) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if id <= q.lastPushed {
		panic("snapshot: present ids pushed out of order")
	}
	q.lastPushed = id
	q.pending = append(q.pending, pendingUberStruct{presentID: id, uber: uber})
}

// Pending reports the number of unpublished UberStructs.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
