// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package flatland

import (
	"math"
	"sync"
	"time"

	"github.com/gogpu/gg"

	"github.com/gogpu/flatland/allocation"
	"github.com/gogpu/flatland/fence"
	"github.com/gogpu/flatland/graph"
	"github.com/gogpu/flatland/link"
	"github.com/gogpu/flatland/scheduling"
	"github.com/gogpu/flatland/snapshot"
)

// TransformID names a transform within one session. Ids are chosen by
// the client; zero is invalid.
type TransformID uint64

// ContentID names a piece of content (an image or a link) within one
// session. Ids are chosen by the client; zero is invalid.
type ContentID uint64

// LinkProperties is re-exported for session callers.
type LinkProperties = snapshot.LinkProperties

// ImageProperties describes the part of a buffer an image samples.
type ImageProperties struct {
	Width  uint32
	Height uint32
}

// Orientation is a counterclockwise quarter-turn rotation.
type Orientation int

const (
	OrientationCCW0Degrees Orientation = iota
	OrientationCCW90Degrees
	OrientationCCW180Degrees
	OrientationCCW270Degrees
)

func (o Orientation) angle() float64 {
	switch o {
	case OrientationCCW90Degrees:
		return math.Pi / 2
	case OrientationCCW180Degrees:
		return math.Pi
	case OrientationCCW270Degrees:
		return 3 * math.Pi / 2
	}
	return 0
}

// PresentArgs parameterizes one Present call.
type PresentArgs struct {
	// RequestedPresentationTime is the earliest frame the update may
	// appear on. Zero means as soon as possible.
	RequestedPresentationTime time.Time

	// AcquireFences gate the update: it is not applied until all of
	// them signal.
	AcquireFences []*fence.Fence

	// ReleaseFences are signaled once the frame carrying this update
	// has left the display.
	ReleaseFences []*fence.Fence

	// Squashable allows the scheduler to fold this update into a later
	// one on the same frame.
	Squashable bool
}

// maxGraphIterations bounds a single topology walk. A DAG with heavy
// diamond fan-out can explode combinatorially; walks that hit the limit
// fail the Present.
const maxGraphIterations = 1 << 16

// presentPredictionSpan is how far ahead the scheduler is asked for
// frame times when tokens are returned to a client.
const presentPredictionSpan = 500 * time.Millisecond

type contentKind int

const (
	contentImage contentKind = iota + 1
	contentLink
)

type contentRecord struct {
	kind   contentKind
	handle graph.TransformHandle

	// image content
	image allocation.ImageMetadata
	token *allocation.ImportToken

	// link content
	link  link.ChildLink
	props snapshot.LinkProperties
	size  gg.Point
}

type matrixData struct {
	translation gg.Point
	angle       float64
	scale       gg.Point
}

func (d matrixData) matrix() gg.Matrix {
	m := gg.Translate(d.translation.X, d.translation.Y)
	if d.angle != 0 {
		m = m.Multiply(gg.Rotate(d.angle))
	}
	if d.scale != gg.Pt(1, 1) {
		m = m.Multiply(gg.Scale(d.scale.X, d.scale.Y))
	}
	return m
}

// Session is one client's connection to the compositor. A session owns
// a transform graph, stages mutations against it, and commits them with
// Present. Mutations are feed-forward: an invalid operation returns its
// error immediately and also poisons the session, failing the next
// Present and closing the session.
//
// A Session's mutating methods are confined to the client's goroutine.
// Internal callbacks (token returns, link errors) synchronize on their
// own.
type Session struct {
	id scheduling.SessionID

	manager    *Manager
	scheduler  scheduling.FrameScheduler
	linkSystem *link.System
	importers  []allocation.BufferCollectionImporter

	transforms *graph.TransformGraph
	localRoot  graph.TransformHandle

	transformIDs map[TransformID]graph.TransformHandle
	contentIDs   map[ContentID]*contentRecord

	// releasedImages holds image records whose content id is gone but
	// whose handle may still be reachable; they are released from the
	// importers once their handle is reported dead.
	releasedImages map[graph.TransformHandle]*contentRecord

	matrices  map[graph.TransformHandle]matrixData
	opacities map[graph.TransformHandle]float64

	parentLink *link.ParentLink

	// pendingLinkOps holds link destruction work deferred to the next
	// Present, so a released link only leaves the global scene once the
	// topology without it has been published.
	pendingLinkOps []func()

	uberQueue     *snapshot.Queue
	fenceQueue    *fence.Queue
	presentHelper *scheduling.PresentHelper

	// mu guards the fields below, which are touched from the manager
	// and the render loop as well as the client goroutine.
	mu      sync.Mutex
	tokens  int
	failure error
	closed  bool

	onPresentProcessed func(int, []scheduling.FuturePresentationInfo)
	onFramePresented   func(scheduling.FramePresentedInfo)
	onError            func(error)
}

// SessionOption configures a Session at creation.
type SessionOption func(*Session)

// WithPresentProcessedFunc registers the callback invoked when present
// tokens flow back to the session, together with the scheduler's
// upcoming latch and presentation times.
func WithPresentProcessedFunc(fn func(numPresents int, infos []scheduling.FuturePresentationInfo)) SessionOption {
	return func(s *Session) { s.onPresentProcessed = fn }
}

// WithFramePresentedFunc registers the callback invoked when a frame
// carrying this session's content reaches the display.
func WithFramePresentedFunc(fn func(scheduling.FramePresentedInfo)) SessionOption {
	return func(s *Session) { s.onFramePresented = fn }
}

// WithErrorFunc registers the callback invoked when the session fails
// asynchronously, for example through a link protocol violation.
func WithErrorFunc(fn func(error)) SessionOption {
	return func(s *Session) { s.onError = fn }
}

// ID returns the session's identity.
func (s *Session) ID() scheduling.SessionID { return s.id }

// Root returns the handle at the base of this session's topology. It
// exists for the session's whole lifetime; SetRootTransform changes
// what hangs beneath it.
func (s *Session) Root() graph.TransformHandle { return s.localRoot }

// reportError latches the first failure. Later Present calls fail with
// it. Safe for concurrent use; the link system calls it from the render
// loop.
func (s *Session) reportError(err error) {
	s.mu.Lock()
	if s.failure == nil {
		s.failure = err
	}
	s.mu.Unlock()
	Logger().Warn("session operation failed", "session", uint64(s.id), "err", err)
}

// fail latches err and returns it, the shape of every validation exit.
func (s *Session) fail(err error) error {
	s.reportError(err)
	return err
}

// CreateTransform mints a transform under a client-chosen id.
func (s *Session) CreateTransform(id TransformID) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if id == 0 {
		return s.fail(ErrInvalidID)
	}
	if _, ok := s.transformIDs[id]; ok {
		return s.fail(ErrIDInUse)
	}
	s.transformIDs[id] = s.transforms.CreateTransform()
	return nil
}

// ReleaseTransform forgets the client id of a transform. The transform
// stays in the scene while reachable and is reclaimed afterwards.
func (s *Session) ReleaseTransform(id TransformID) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if id == 0 {
		return s.fail(ErrInvalidID)
	}
	handle, ok := s.transformIDs[id]
	if !ok {
		return s.fail(ErrNotFound)
	}
	s.transforms.ReleaseTransform(handle)
	delete(s.transformIDs, id)
	return nil
}

// AddChild appends child to parent's child list. A parent made
// translucent with SetOpacity cannot take children.
func (s *Session) AddChild(parent, child TransformID) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	parentHandle, childHandle, err := s.edgeHandles(parent, child)
	if err != nil {
		return err
	}
	if a, ok := s.opacities[parentHandle]; ok && a < 1 {
		return s.fail(ErrOpacityConflict)
	}
	if !s.transforms.AddChild(parentHandle, childHandle) {
		return s.fail(ErrBadOperation)
	}
	return nil
}

// RemoveChild removes the parent/child edge.
func (s *Session) RemoveChild(parent, child TransformID) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	parentHandle, childHandle, err := s.edgeHandles(parent, child)
	if err != nil {
		return err
	}
	if !s.transforms.RemoveChild(parentHandle, childHandle) {
		return s.fail(ErrBadOperation)
	}
	return nil
}

func (s *Session) edgeHandles(parent, child TransformID) (graph.TransformHandle, graph.TransformHandle, error) {
	var zero graph.TransformHandle
	if parent == 0 || child == 0 {
		return zero, zero, s.fail(ErrInvalidID)
	}
	parentHandle, ok := s.transformIDs[parent]
	if !ok {
		return zero, zero, s.fail(ErrNotFound)
	}
	childHandle, ok := s.transformIDs[child]
	if !ok {
		return zero, zero, s.fail(ErrNotFound)
	}
	return parentHandle, childHandle, nil
}

// SetRootTransform hangs the named transform beneath the session root,
// replacing whatever hung there before. Id zero clears the scene.
func (s *Session) SetRootTransform(id TransformID) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if id == 0 {
		s.transforms.ClearChildren(s.localRoot)
		return nil
	}
	handle, ok := s.transformIDs[id]
	if !ok {
		return s.fail(ErrNotFound)
	}
	s.transforms.ClearChildren(s.localRoot)
	if !s.transforms.AddChild(s.localRoot, handle) {
		return s.fail(ErrBadOperation)
	}
	return nil
}

// SetTranslation positions a transform relative to its parent.
func (s *Session) SetTranslation(id TransformID, translation gg.Point) error {
	return s.setMatrixData(id, func(d *matrixData) { d.translation = translation })
}

// SetOrientation rotates a transform about its origin by quarter
// turns.
func (s *Session) SetOrientation(id TransformID, orientation Orientation) error {
	if orientation < OrientationCCW0Degrees || orientation > OrientationCCW270Degrees {
		if s.isClosed() {
			return ErrSessionClosed
		}
		return s.fail(ErrBadOperation)
	}
	return s.setMatrixData(id, func(d *matrixData) { d.angle = orientation.angle() })
}

// SetScale scales a transform and its subtree.
func (s *Session) SetScale(id TransformID, scale gg.Point) error {
	return s.setMatrixData(id, func(d *matrixData) { d.scale = scale })
}

func (s *Session) setMatrixData(id TransformID, apply func(*matrixData)) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if id == 0 {
		return s.fail(ErrInvalidID)
	}
	handle, ok := s.transformIDs[id]
	if !ok {
		return s.fail(ErrNotFound)
	}
	d, ok := s.matrices[handle]
	if !ok {
		d = matrixData{scale: gg.Pt(1, 1)}
	}
	apply(&d)
	if d.matrix() == gg.Identity() {
		delete(s.matrices, handle)
	} else {
		s.matrices[handle] = d
	}
	return nil
}

// SetOpacity sets a transform's translucency in [0, 1]. Translucency
// below 1 is only valid on transforms without children.
func (s *Session) SetOpacity(id TransformID, value float64) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if id == 0 {
		return s.fail(ErrInvalidID)
	}
	if value < 0 || value > 1 {
		return s.fail(ErrBadOperation)
	}
	handle, ok := s.transformIDs[id]
	if !ok {
		return s.fail(ErrNotFound)
	}
	if value < 1 && s.transforms.HasChildren(handle) {
		return s.fail(ErrOpacityConflict)
	}
	if value == 1 {
		delete(s.opacities, handle)
	} else {
		s.opacities[handle] = value
	}
	return nil
}

// SetContent attaches content to a transform's content slot, replacing
// the previous content. Content id zero empties the slot.
func (s *Session) SetContent(id TransformID, content ContentID) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if id == 0 {
		return s.fail(ErrInvalidID)
	}
	handle, ok := s.transformIDs[id]
	if !ok {
		return s.fail(ErrNotFound)
	}
	if content == 0 {
		s.transforms.ClearPriorityChild(handle)
		return nil
	}
	record, ok := s.contentIDs[content]
	if !ok {
		return s.fail(ErrNotFound)
	}
	s.transforms.SetPriorityChild(handle, record.handle)
	return nil
}

// isClosed reports whether the session was torn down.
func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
