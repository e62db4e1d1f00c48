// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package scheduling defines the frame-scheduler seam of the compositor
// core: session and present identity, the FrameScheduler collaborator
// interface, and the timing types exchanged with it.
//
// The engine never owns frame timing. It registers presents, asks the
// scheduler to place them on a frame, and hears back through
// Manager.UpdateSessions / OnCpuWorkDone / OnFramePresented.
package scheduling

import (
	"sync/atomic"
	"time"

	"github.com/gogpu/flatland/fence"
)

// SessionID identifies one client session for its whole lifetime.
// Session ids share an id space with transform instance ids; id 0 is
// reserved and never granted to a session.
type SessionID uint64

// PresentID identifies one Present call. Present ids are minted from one
// process-wide counter and are therefore strictly increasing per session.
type PresentID uint64

// InvalidID is never a valid SessionID or PresentID.
const InvalidID = 0

// MaxPresentsInFlight is the present-token budget of a session: the
// number of Present calls that may be outstanding before the client must
// wait for tokens to return.
const MaxPresentsInFlight = 5

var presentCounter atomic.Uint64

// NextPresentID mints a new present id. Safe for concurrent use.
// Session ids have no counter here; they come from the shared instance
// counter in snapshot.
func NextPresentID() PresentID {
	return PresentID(presentCounter.Add(1))
}

// IDPair couples a present with its owning session; the key used for all
// cross-system present bookkeeping.
type IDPair struct {
	SessionID SessionID
	PresentID PresentID
}

// FuturePresentationInfo predicts one upcoming frame.
type FuturePresentationInfo struct {
	// LatchPoint is the deadline for updates to make this frame.
	LatchPoint time.Time

	// PresentationTime is when the frame is expected on screen.
	PresentationTime time.Time
}

// PresentTimestamps describes a frame that reached the display.
type PresentTimestamps struct {
	PresentedTime time.Time
	VsyncInterval time.Duration
}

// PresentReceivedInfo correlates one Present with its frame.
type PresentReceivedInfo struct {
	// PresentReceivedTime is when the engine accepted the Present call.
	PresentReceivedTime time.Time

	// LatchedTime is when the scheduler latched the Present's content.
	LatchedTime time.Time
}

// FramePresentedInfo is delivered to a session through its
// OnFramePresented event once a frame carrying its content is on screen.
type FramePresentedInfo struct {
	ActualPresentationTime time.Time
	PresentationInfos      []PresentReceivedInfo
	NumPresentsAllowed     int
}

// FrameScheduler is the collaborator that places session updates on
// display frames. The engine calls it; a concrete implementation (vsync
// driven, test fake, ...) lives outside this module.
//
// Implementations must be safe for concurrent use: sessions register
// presents from their own goroutines.
type FrameScheduler interface {
	// RegisterPresent mints a PresentID for a Present call and takes
	// ownership of its release fences, to be signaled once the present
	// leaves the display.
	RegisterPresent(session SessionID, releaseFences []*fence.Fence) PresentID

	// ScheduleUpdateForSession requests that the registered present be
	// applied no earlier than presentationTime. Squashable presents may
	// be folded into a later one on the same frame.
	ScheduleUpdateForSession(presentationTime time.Time, id IDPair, squashable bool)

	// GetFuturePresentationInfos predicts upcoming frames within span.
	GetFuturePresentationInfos(span time.Duration) []FuturePresentationInfo

	// RemoveSession forgets all state for a session being torn down.
	// Consumed present tokens of the session count as released.
	RemoveSession(session SessionID)
}
