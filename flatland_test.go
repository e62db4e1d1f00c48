// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package flatland

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gg"

	"github.com/gogpu/flatland/allocation"
	"github.com/gogpu/flatland/fence"
	"github.com/gogpu/flatland/link"
	"github.com/gogpu/flatland/scheduling"
	"github.com/gogpu/flatland/snapshot"
)

// fakeScheduler records scheduler traffic and lets tests drive it.
type fakeScheduler struct {
	mu        sync.Mutex
	presents  map[scheduling.PresentID][]*fence.Fence
	scheduled []scheduling.IDPair
	removed   []scheduling.SessionID
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{presents: make(map[scheduling.PresentID][]*fence.Fence)}
}

func (f *fakeScheduler) RegisterPresent(session scheduling.SessionID, releaseFences []*fence.Fence) scheduling.PresentID {
	id := scheduling.NextPresentID()
	f.mu.Lock()
	f.presents[id] = releaseFences
	f.mu.Unlock()
	return id
}

func (f *fakeScheduler) ScheduleUpdateForSession(_ time.Time, id scheduling.IDPair, _ bool) {
	f.mu.Lock()
	f.scheduled = append(f.scheduled, id)
	f.mu.Unlock()
}

func (f *fakeScheduler) GetFuturePresentationInfos(span time.Duration) []scheduling.FuturePresentationInfo {
	now := time.Now()
	return []scheduling.FuturePresentationInfo{
		{LatchPoint: now, PresentationTime: now.Add(16 * time.Millisecond)},
	}
}

func (f *fakeScheduler) RemoveSession(session scheduling.SessionID) {
	f.mu.Lock()
	f.removed = append(f.removed, session)
	f.mu.Unlock()
}

func (f *fakeScheduler) lastScheduled(t *testing.T) scheduling.IDPair {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.scheduled) == 0 {
		t.Fatalf("nothing scheduled")
	}
	return f.scheduled[len(f.scheduled)-1]
}

func (f *fakeScheduler) releaseFencesFor(id scheduling.PresentID) []*fence.Fence {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presents[id]
}

// testImporter is a minimal importer recording image traffic.
type testImporter struct {
	mu             sync.Mutex
	rejectImages   bool
	images         map[allocation.GlobalImageID]bool
	imageReleases  int
	imageImports   int
	collectionsSet map[allocation.GlobalBufferCollectionID]bool
}

func newTestImporter() *testImporter {
	return &testImporter{
		images:         make(map[allocation.GlobalImageID]bool),
		collectionsSet: make(map[allocation.GlobalBufferCollectionID]bool),
	}
}

func (f *testImporter) ImportBufferCollection(id allocation.GlobalBufferCollectionID, _ *allocation.BufferCollectionInfo) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collectionsSet[id] = true
	return true
}

func (f *testImporter) ReleaseBufferCollection(id allocation.GlobalBufferCollectionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.collectionsSet, id)
}

func (f *testImporter) ImportBufferImage(metadata allocation.ImageMetadata) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectImages {
		return false
	}
	f.images[metadata.ID] = true
	f.imageImports++
	return true
}

func (f *testImporter) ReleaseBufferImage(id allocation.GlobalImageID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.images, id)
	f.imageReleases++
}

func (f *testImporter) releases() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.imageReleases
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// harness bundles a manager with its collaborators.
type harness struct {
	sched      *fakeScheduler
	uberSystem *snapshot.System
	linkSystem *link.System
	importer   *testImporter
	manager    *Manager
}

func newHarness() *harness {
	h := &harness{
		sched:      newFakeScheduler(),
		uberSystem: snapshot.NewSystem(),
		linkSystem: link.NewSystem(),
		importer:   newTestImporter(),
	}
	h.manager = NewManager(h.sched, h.uberSystem, h.linkSystem,
		[]allocation.BufferCollectionImporter{h.importer})
	return h
}

// publish drives the committed present of s through the snapshot
// system, returning the consumed tokens to the session.
func (h *harness) publish(t *testing.T, s *Session) {
	t.Helper()
	pair := h.sched.lastScheduled(t)
	h.manager.UpdateSessions(map[scheduling.SessionID]scheduling.PresentID{
		pair.SessionID: pair.PresentID,
	})
	h.manager.OnCpuWorkDone()
}

func TestCreateTransformValidation(t *testing.T) {
	h := newHarness()
	s := h.manager.NewSession()

	if err := s.CreateTransform(0); err != ErrInvalidID {
		t.Errorf("CreateTransform(0) = %v, want ErrInvalidID", err)
	}
	s2 := h.manager.NewSession()
	if err := s2.CreateTransform(1); err != nil {
		t.Fatalf("CreateTransform: %v", err)
	}
	if err := s2.CreateTransform(1); err != ErrIDInUse {
		t.Errorf("duplicate CreateTransform = %v, want ErrIDInUse", err)
	}
	if err := s2.ReleaseTransform(2); err != ErrNotFound {
		t.Errorf("ReleaseTransform(2) = %v, want ErrNotFound", err)
	}
	_ = s
}

func TestPresentPublishesTopology(t *testing.T) {
	h := newHarness()
	s := h.manager.NewSession()

	if err := s.CreateTransform(1); err != nil {
		t.Fatalf("CreateTransform: %v", err)
	}
	if err := s.SetRootTransform(1); err != nil {
		t.Fatalf("SetRootTransform: %v", err)
	}
	if err := s.Present(PresentArgs{}); err != nil {
		t.Fatalf("Present: %v", err)
	}
	h.publish(t, s)

	uber := h.uberSystem.Snapshot()[s.ID()]
	if uber == nil {
		t.Fatalf("no UberStruct published")
	}
	// Session root plus the attached transform.
	if len(uber.LocalTopology) != 2 {
		t.Errorf("topology length = %d, want 2", len(uber.LocalTopology))
	}
	if uber.LocalTopology[0].Handle != s.Root() {
		t.Errorf("topology root = %v, want %v", uber.LocalTopology[0].Handle, s.Root())
	}
}

func TestFailedOperationFailsNextPresent(t *testing.T) {
	h := newHarness()
	s := h.manager.NewSession()

	if err := s.AddChild(1, 2); err != ErrNotFound {
		t.Fatalf("AddChild = %v, want ErrNotFound", err)
	}
	err := s.Present(PresentArgs{})
	if !errors.Is(err, ErrBadOperation) {
		t.Errorf("Present = %v, want ErrBadOperation", err)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Present error does not carry the latched cause: %v", err)
	}
	if err := s.CreateTransform(1); err != ErrSessionClosed {
		t.Errorf("operation after failed Present = %v, want ErrSessionClosed", err)
	}
	if h.manager.SessionCount() != 0 {
		t.Errorf("failed session still registered")
	}
}

func TestCycleFailsPresent(t *testing.T) {
	h := newHarness()
	s := h.manager.NewSession()

	for id := TransformID(1); id <= 2; id++ {
		if err := s.CreateTransform(id); err != nil {
			t.Fatalf("CreateTransform: %v", err)
		}
	}
	if err := s.AddChild(1, 2); err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	if err := s.AddChild(2, 1); err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	if err := s.SetRootTransform(1); err != nil {
		t.Fatalf("SetRootTransform: %v", err)
	}
	if err := s.Present(PresentArgs{}); !errors.Is(err, ErrBadOperation) {
		t.Errorf("Present = %v, want ErrBadOperation", err)
	}
}

func TestPresentTokenBudget(t *testing.T) {
	h := newHarness()
	var returned int
	s := h.manager.NewSession(WithPresentProcessedFunc(func(n int, _ []scheduling.FuturePresentationInfo) { returned += n }))

	if returned != scheduling.MaxPresentsInFlight-1 {
		t.Fatalf("initial allotment = %d, want %d", returned, scheduling.MaxPresentsInFlight-1)
	}
	for i := 0; i < scheduling.MaxPresentsInFlight; i++ {
		if err := s.Present(PresentArgs{}); err != nil {
			t.Fatalf("Present %d: %v", i, err)
		}
	}
	if err := s.Present(PresentArgs{}); err != ErrNoPresentsRemaining {
		t.Errorf("Present over budget = %v, want ErrNoPresentsRemaining", err)
	}
	if err := s.CreateTransform(1); err != ErrSessionClosed {
		t.Errorf("operation after exhaustion = %v, want ErrSessionClosed", err)
	}
}

func TestTokensFlowBack(t *testing.T) {
	h := newHarness()
	var returned int
	var futures []scheduling.FuturePresentationInfo
	s := h.manager.NewSession(WithPresentProcessedFunc(func(n int, infos []scheduling.FuturePresentationInfo) {
		returned += n
		futures = infos
	}))
	returned = 0

	if err := s.Present(PresentArgs{}); err != nil {
		t.Fatalf("Present: %v", err)
	}
	if got := s.Tokens(); got != scheduling.MaxPresentsInFlight-1 {
		t.Fatalf("Tokens() after Present = %d, want %d", got, scheduling.MaxPresentsInFlight-1)
	}
	h.publish(t, s)
	if returned != 1 {
		t.Errorf("returned tokens = %d, want 1", returned)
	}
	if len(futures) == 0 {
		t.Errorf("no future presentation infos delivered with the tokens")
	}
	if got := s.Tokens(); got != scheduling.MaxPresentsInFlight {
		t.Errorf("Tokens() after flush = %d, want %d", got, scheduling.MaxPresentsInFlight)
	}
}

func TestAcquireFenceGatesPublish(t *testing.T) {
	h := newHarness()
	s := h.manager.NewSession()

	if err := s.CreateTransform(1); err != nil {
		t.Fatalf("CreateTransform: %v", err)
	}
	if err := s.SetRootTransform(1); err != nil {
		t.Fatalf("SetRootTransform: %v", err)
	}
	gate := fence.New()
	if err := s.Present(PresentArgs{AcquireFences: []*fence.Fence{gate}}); err != nil {
		t.Fatalf("Present: %v", err)
	}

	h.sched.mu.Lock()
	scheduled := len(h.sched.scheduled)
	h.sched.mu.Unlock()
	if scheduled != 0 {
		t.Fatalf("update scheduled before acquire fence signaled")
	}

	gate.Signal()
	waitFor(t, "fence-gated schedule", func() bool {
		h.sched.mu.Lock()
		defer h.sched.mu.Unlock()
		return len(h.sched.scheduled) == 1
	})
	h.publish(t, s)
	if h.uberSystem.Snapshot()[s.ID()] == nil {
		t.Errorf("no UberStruct published after fence signaled")
	}
}

func TestPresentsApplyInOrderAcrossFences(t *testing.T) {
	h := newHarness()
	s := h.manager.NewSession()

	if err := s.CreateTransform(1); err != nil {
		t.Fatalf("CreateTransform: %v", err)
	}
	if err := s.SetRootTransform(1); err != nil {
		t.Fatalf("SetRootTransform: %v", err)
	}
	gate := fence.New()
	if err := s.Present(PresentArgs{AcquireFences: []*fence.Fence{gate}}); err != nil {
		t.Fatalf("Present: %v", err)
	}
	// The second Present has no fences but must still apply after the
	// first.
	if err := s.CreateTransform(2); err != nil {
		t.Fatalf("CreateTransform: %v", err)
	}
	if err := s.AddChild(1, 2); err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	if err := s.Present(PresentArgs{}); err != nil {
		t.Fatalf("Present: %v", err)
	}

	h.sched.mu.Lock()
	scheduled := len(h.sched.scheduled)
	h.sched.mu.Unlock()
	if scheduled != 0 {
		t.Fatalf("later present bypassed the blocked one")
	}

	gate.Signal()
	waitFor(t, "both presents scheduled", func() bool {
		h.sched.mu.Lock()
		defer h.sched.mu.Unlock()
		return len(h.sched.scheduled) == 2
	})
	h.publish(t, s)
	uber := h.uberSystem.Snapshot()[s.ID()]
	if len(uber.LocalTopology) != 3 {
		t.Errorf("topology length = %d, want 3", len(uber.LocalTopology))
	}
}

func TestOpacityRules(t *testing.T) {
	h := newHarness()
	s := h.manager.NewSession()

	for id := TransformID(1); id <= 2; id++ {
		if err := s.CreateTransform(id); err != nil {
			t.Fatalf("CreateTransform: %v", err)
		}
	}
	if err := s.SetOpacity(1, 1.5); err != ErrBadOperation {
		t.Errorf("SetOpacity(1.5) = %v, want ErrBadOperation", err)
	}

	s2 := h.manager.NewSession()
	for id := TransformID(1); id <= 2; id++ {
		if err := s2.CreateTransform(id); err != nil {
			t.Fatalf("CreateTransform: %v", err)
		}
	}
	if err := s2.SetOpacity(1, 0.5); err != nil {
		t.Fatalf("SetOpacity: %v", err)
	}
	if err := s2.AddChild(1, 2); err != ErrOpacityConflict {
		t.Errorf("AddChild under translucent parent = %v, want ErrOpacityConflict", err)
	}

	s3 := h.manager.NewSession()
	for id := TransformID(1); id <= 2; id++ {
		if err := s3.CreateTransform(id); err != nil {
			t.Fatalf("CreateTransform: %v", err)
		}
	}
	if err := s3.AddChild(1, 2); err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	if err := s3.SetOpacity(1, 0.5); err != ErrOpacityConflict {
		t.Errorf("SetOpacity on parent with children = %v, want ErrOpacityConflict", err)
	}
	if err := s3.SetOpacity(2, 0.5); err != nil {
		t.Errorf("SetOpacity on leaf = %v", err)
	}
}

func TestSetRootTransformClears(t *testing.T) {
	h := newHarness()
	s := h.manager.NewSession()

	if err := s.CreateTransform(1); err != nil {
		t.Fatalf("CreateTransform: %v", err)
	}
	if err := s.SetRootTransform(1); err != nil {
		t.Fatalf("SetRootTransform: %v", err)
	}
	if err := s.SetRootTransform(0); err != nil {
		t.Fatalf("SetRootTransform(0): %v", err)
	}
	if err := s.Present(PresentArgs{}); err != nil {
		t.Fatalf("Present: %v", err)
	}
	h.publish(t, s)

	uber := h.uberSystem.Snapshot()[s.ID()]
	if len(uber.LocalTopology) != 1 {
		t.Errorf("topology length = %d, want 1 (root only)", len(uber.LocalTopology))
	}
}

func TestMatrixCommit(t *testing.T) {
	h := newHarness()
	s := h.manager.NewSession()

	if err := s.CreateTransform(1); err != nil {
		t.Fatalf("CreateTransform: %v", err)
	}
	if err := s.SetRootTransform(1); err != nil {
		t.Fatalf("SetRootTransform: %v", err)
	}
	if err := s.SetTranslation(1, gg.Pt(10, 20)); err != nil {
		t.Fatalf("SetTranslation: %v", err)
	}
	if err := s.SetScale(1, gg.Pt(2, 2)); err != nil {
		t.Fatalf("SetScale: %v", err)
	}
	if err := s.Present(PresentArgs{}); err != nil {
		t.Fatalf("Present: %v", err)
	}
	h.publish(t, s)

	uber := h.uberSystem.Snapshot()[s.ID()]
	handle := uber.LocalTopology[1].Handle
	want := gg.Translate(10, 20).Multiply(gg.Scale(2, 2))
	if got := uber.LocalMatrices[handle]; got != want {
		t.Errorf("committed matrix = %+v, want %+v", got, want)
	}

	// Resetting to identity drops the entry entirely.
	if err := s.SetTranslation(1, gg.Pt(0, 0)); err != nil {
		t.Fatalf("SetTranslation: %v", err)
	}
	if err := s.SetScale(1, gg.Pt(1, 1)); err != nil {
		t.Fatalf("SetScale: %v", err)
	}
	if err := s.Present(PresentArgs{}); err != nil {
		t.Fatalf("Present: %v", err)
	}
	h.publish(t, s)
	uber = h.uberSystem.Snapshot()[s.ID()]
	if _, ok := uber.LocalMatrices[handle]; ok {
		t.Errorf("identity matrix still committed")
	}
}

func TestSetOrientationQuarterTurns(t *testing.T) {
	h := newHarness()
	s := h.manager.NewSession()

	if err := s.CreateTransform(1); err != nil {
		t.Fatalf("CreateTransform: %v", err)
	}
	if err := s.SetRootTransform(1); err != nil {
		t.Fatalf("SetRootTransform: %v", err)
	}
	if err := s.SetOrientation(1, Orientation(7)); !errors.Is(err, ErrBadOperation) {
		t.Fatalf("SetOrientation out of range = %v, want ErrBadOperation", err)
	}
	s2 := h.manager.NewSession()
	if err := s2.CreateTransform(1); err != nil {
		t.Fatalf("CreateTransform: %v", err)
	}
	if err := s2.SetRootTransform(1); err != nil {
		t.Fatalf("SetRootTransform: %v", err)
	}
	if err := s2.SetOrientation(1, OrientationCCW90Degrees); err != nil {
		t.Fatalf("SetOrientation: %v", err)
	}
	if err := s2.Present(PresentArgs{}); err != nil {
		t.Fatalf("Present: %v", err)
	}
	h.publish(t, s2)

	uber := h.uberSystem.Snapshot()[s2.ID()]
	handle := uber.LocalTopology[1].Handle
	got := uber.LocalMatrices[handle]
	p := got.TransformPoint(gg.Pt(1, 0))
	if math.Abs(p.X) > 1e-9 || math.Abs(p.Y-1) > 1e-9 {
		t.Errorf("quarter turn maps (1,0) to (%g, %g), want (0, 1)", p.X, p.Y)
	}
}

func TestClearGraphKeepsSessionUsable(t *testing.T) {
	h := newHarness()
	parent, _, parentEnd := linkSessions(t, h)
	parentEnd.Graph.WatchLayout(func(link.LayoutInfo) {})

	if err := parent.ClearGraph(); err != nil {
		t.Fatalf("ClearGraph: %v", err)
	}

	// The link lives on until the clearing Present commits.
	if h.linkSystem.LinkCount() != 1 {
		t.Fatalf("link dissolved before the clearing Present")
	}
	if err := parent.Present(PresentArgs{}); err != nil {
		t.Fatalf("Present: %v", err)
	}
	h.publish(t, parent)
	if h.linkSystem.LinkCount() != 0 {
		t.Errorf("link still resolved after the clearing Present")
	}

	// Ids are free again and the root survives.
	if err := parent.CreateTransform(1); err != nil {
		t.Fatalf("CreateTransform after ClearGraph: %v", err)
	}
	if err := parent.SetRootTransform(1); err != nil {
		t.Fatalf("SetRootTransform after ClearGraph: %v", err)
	}
	if err := parent.Present(PresentArgs{}); err != nil {
		t.Fatalf("Present after ClearGraph: %v", err)
	}
	h.publish(t, parent)
	uber := h.uberSystem.Snapshot()[parent.ID()]
	if len(uber.LocalTopology) != 2 || uber.LocalTopology[0].Handle != parent.Root() {
		t.Errorf("topology after ClearGraph = %v", uber.LocalTopology)
	}
}
