// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package flatland

import (
	"errors"
	"time"

	"github.com/gogpu/flatland/fence"
	"github.com/gogpu/flatland/graph"
	"github.com/gogpu/flatland/scheduling"
	"github.com/gogpu/flatland/snapshot"
)

// Present commits every mutation staged since the previous Present.
//
// The commit is fence gated: the new scene is queued and only published
// to the render loop once every acquire fence has signaled. Present
// consumes one present token; calling with none left is fatal. Any
// failed operation since the previous Present is fatal here too, even
// though the operation already returned its error: feed-forward clients
// that ignore per-call errors still find out.
func (s *Session) Present(args PresentArgs) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.tokens == 0 {
		s.mu.Unlock()
		s.close()
		return ErrNoPresentsRemaining
	}
	failure := s.failure
	if failure != nil {
		s.mu.Unlock()
		s.close()
		return errors.Join(ErrBadOperation, failure)
	}
	s.tokens--
	s.mu.Unlock()

	root := s.localRoot
	if s.parentLink != nil {
		root = s.parentLink.LinkOrigin
	}
	data := s.transforms.ComputeAndCleanup(root, maxGraphIterations)
	if len(data.CyclicalEdges) > 0 || data.Iterations == maxGraphIterations {
		s.reportError(ErrBadOperation)
		s.close()
		return ErrBadOperation
	}

	s.releaseDeadImages(data.DeadTransforms, &args)

	uber := s.buildUberStruct(data.SortedTransforms)
	presentID := s.scheduler.RegisterPresent(s.id, args.ReleaseFences)
	s.presentHelper.RegisterPresent(presentID, time.Now())

	requested := args.RequestedPresentationTime
	squashable := args.Squashable
	linkOps := s.pendingLinkOps
	s.pendingLinkOps = nil
	s.fenceQueue.QueueTask(func() {
		s.uberQueue.Push(presentID, uber)
		s.scheduler.ScheduleUpdateForSession(requested, scheduling.IDPair{
			SessionID: s.id,
			PresentID: presentID,
		}, squashable)

		// Link destruction runs after the new snapshot is queued, so
		// nothing the dying links referenced is still being published.
		for _, op := range linkOps {
			op()
		}
	}, args.AcquireFences)

	Logger().Debug("present queued",
		"session", uint64(s.id),
		"present", uint64(presentID),
		"topology", len(uber.LocalTopology),
		"acquires", len(args.AcquireFences))
	return nil
}

// releaseDeadImages frees the backing buffers of images whose handles
// fell out of the scene. The release waits on a synthetic fence added
// to this Present's release set, so the previous frame, which may still
// sample the image, retires first.
func (s *Session) releaseDeadImages(dead []graph.TransformHandle, args *PresentArgs) {
	var doomed []*contentRecord
	for _, handle := range dead {
		if record, ok := s.releasedImages[handle]; ok {
			doomed = append(doomed, record)
			delete(s.releasedImages, handle)
		}
	}
	if len(doomed) == 0 {
		return
	}

	retire := fence.New()
	args.ReleaseFences = append(args.ReleaseFences, retire)
	importers := s.importers
	go func() {
		<-retire.Done()
		for _, record := range doomed {
			for _, importer := range importers {
				importer.ReleaseBufferImage(record.image.ID)
			}
			if record.token != nil {
				record.token.Close()
			}
		}
	}()
}

// buildUberStruct copies the session's committed state into an
// immutable snapshot for the render loop.
func (s *Session) buildUberStruct(topology graph.TopologyVector) *snapshot.UberStruct {
	uber := snapshot.NewUberStruct()
	uber.LocalTopology = append(graph.TopologyVector(nil), topology...)

	inTopology := make(map[graph.TransformHandle]struct{}, len(topology))
	for _, entry := range topology {
		inTopology[entry.Handle] = struct{}{}
	}

	for handle, d := range s.matrices {
		if _, ok := inTopology[handle]; ok {
			uber.LocalMatrices[handle] = d.matrix()
		}
	}
	for handle, a := range s.opacities {
		if _, ok := inTopology[handle]; ok {
			uber.LocalOpacityValues[handle] = a
		}
	}
	for _, record := range s.contentIDs {
		switch record.kind {
		case contentImage:
			if _, ok := inTopology[record.handle]; ok {
				uber.Images[record.handle] = record.image
			}
		case contentLink:
			uber.LinkProperties[record.handle] = record.props
		}
	}
	// Released images keep rendering while still reachable.
	for handle, record := range s.releasedImages {
		if _, ok := inTopology[handle]; ok {
			uber.Images[handle] = record.image
		}
	}
	return uber
}

// ClearGraph resets the session to its initial state: every transform
// and content id is released. The local root survives; link destruction
// is deferred to the next Present like every other link operation.
func (s *Session) ClearGraph() error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	s.transforms.ResetGraph(s.localRoot)
	s.transformIDs = make(map[TransformID]graph.TransformHandle)
	s.matrices = make(map[graph.TransformHandle]matrixData)
	s.opacities = make(map[graph.TransformHandle]float64)

	var doomedLinks []graph.TransformHandle
	for id, record := range s.contentIDs {
		switch record.kind {
		case contentImage:
			s.releasedImages[record.handle] = record
		case contentLink:
			doomedLinks = append(doomedLinks, record.link.LinkHandle)
		}
		delete(s.contentIDs, id)
	}
	if len(doomedLinks) > 0 {
		s.pendingLinkOps = append(s.pendingLinkOps, func() {
			for _, handle := range doomedLinks {
				s.linkSystem.ReleaseChildLink(handle)
			}
		})
	}
	if s.parentLink != nil {
		linkOrigin := s.parentLink.LinkOrigin
		s.parentLink = nil
		s.pendingLinkOps = append(s.pendingLinkOps, func() {
			s.linkSystem.ReleaseParentLink(linkOrigin)
		})
	}
	return nil
}

// returnTokens credits present tokens back to the session and notifies
// the client, handing along the scheduler's upcoming frame times.
func (s *Session) returnTokens(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	closed := s.closed
	if !closed {
		s.tokens += n
	}
	fn := s.onPresentProcessed
	s.mu.Unlock()
	if !closed && fn != nil {
		fn(n, s.scheduler.GetFuturePresentationInfos(presentPredictionSpan))
	}
}

// Tokens reports the session's current present budget.
func (s *Session) Tokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens
}

// close tears the session down: pending fence-gated updates are
// dropped, links dissolve, and every imported image is released from
// the consumers. Idempotent.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	failure := s.failure
	fn := s.onError
	s.mu.Unlock()

	s.fenceQueue.Cancel()

	// Links already detached locally still hold link-system state; their
	// deferred release runs now instead of at a Present that will never
	// come.
	ops := s.pendingLinkOps
	s.pendingLinkOps = nil
	for _, op := range ops {
		op()
	}

	for id, record := range s.contentIDs {
		switch record.kind {
		case contentImage:
			s.releaseImageNow(record)
		case contentLink:
			s.linkSystem.ReleaseChildLink(record.link.LinkHandle)
		}
		delete(s.contentIDs, id)
	}
	for handle, record := range s.releasedImages {
		s.releaseImageNow(record)
		delete(s.releasedImages, handle)
	}
	if s.parentLink != nil {
		s.linkSystem.ReleaseParentLink(s.parentLink.LinkOrigin)
		s.parentLink = nil
	}

	if s.manager != nil {
		s.manager.removeSession(s.id)
	}
	if failure != nil && fn != nil {
		fn(failure)
	}
	Logger().Info("session closed", "session", uint64(s.id), "err", failure)
}

func (s *Session) releaseImageNow(record *contentRecord) {
	for _, importer := range s.importers {
		importer.ReleaseBufferImage(record.image.ID)
	}
	if record.token != nil {
		record.token.Close()
	}
}

// Close shuts the session down voluntarily.
func (s *Session) Close() {
	s.close()
}

// framePresented routes a frame-done notification to the client.
func (s *Session) framePresented(latched map[scheduling.PresentID]time.Time, stamps scheduling.PresentTimestamps) {
	infos := make([]scheduling.PresentReceivedInfo, 0, len(latched))
	for presentID, latchTime := range latched {
		received, ok := s.presentHelper.ExtractPresent(presentID)
		if !ok {
			continue
		}
		infos = append(infos, scheduling.PresentReceivedInfo{
			PresentReceivedTime: received,
			LatchedTime:         latchTime,
		})
	}

	s.mu.Lock()
	fn := s.onFramePresented
	closed := s.closed
	s.mu.Unlock()
	if closed || fn == nil {
		return
	}
	fn(scheduling.FramePresentedInfo{
		ActualPresentationTime: stamps.PresentedTime,
		PresentationInfos:      infos,
		NumPresentsAllowed:     0,
	})
}
