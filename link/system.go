// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package link connects the scene graphs of different sessions. A
// parent embeds a child session's content by consuming one half of a
// token pair; the child consumes the other half. Neither side learns
// the other's identity: all communication flows through the link as
// layout pushes (parent to child) and status pushes (both ways),
// delivered with a single-slot watch protocol.
package link

import (
	"math"
	"sync"

	"github.com/gogpu/gg"

	"github.com/gogpu/flatland/graph"
	"github.com/gogpu/flatland/scheduling"
	"github.com/gogpu/flatland/snapshot"
)

// GraphLinkStatus is pushed to the child side of a link.
type GraphLinkStatus int

const (
	// GraphLinkStatusConnectedToDisplay means the child's content is
	// reachable from the display root.
	GraphLinkStatusConnectedToDisplay GraphLinkStatus = iota + 1

	// GraphLinkStatusDisconnectedFromDisplay means it is not.
	GraphLinkStatusDisconnectedFromDisplay
)

// ContentLinkStatus is pushed to the parent side of a link.
type ContentLinkStatus int

// ContentLinkStatusContentHasPresented means the child session has
// presented at least once since the link resolved.
const ContentLinkStatusContentHasPresented ContentLinkStatus = 1

// LayoutInfo is pushed to the child when its layout changes.
type LayoutInfo struct {
	// LogicalSize is the space the parent asks the child to fill.
	LogicalSize gg.Point

	// PixelScale is the physical pixels per logical unit along each
	// axis, folding in the display scale and the parent's transform.
	PixelScale gg.Point
}

// GraphEndpoint is the child's receive side of a link.
type GraphEndpoint struct {
	layout *hangingGet[LayoutInfo]
	status *hangingGet[GraphLinkStatus]
}

// WatchLayout registers a one-shot observer for the next layout change.
func (e *GraphEndpoint) WatchLayout(fn func(LayoutInfo)) { e.layout.Watch(fn) }

// WatchStatus registers a one-shot observer for the next status change.
func (e *GraphEndpoint) WatchStatus(fn func(GraphLinkStatus)) { e.status.Watch(fn) }

// ContentEndpoint is the parent's receive side of a link.
type ContentEndpoint struct {
	status *hangingGet[ContentLinkStatus]
}

// WatchStatus registers a one-shot observer for the next status change.
func (e *ContentEndpoint) WatchStatus(fn func(ContentLinkStatus)) { e.status.Watch(fn) }

// ChildLink is the parent's grip on a link. GraphHandle lives in the
// parent session's own graph and carries the link in the local
// topology; LinkHandle is the stand-in the global pass splices the
// child's content onto.
type ChildLink struct {
	GraphHandle graph.TransformHandle
	LinkHandle  graph.TransformHandle
	Content     *ContentEndpoint
}

// ParentLink is the child's grip on a link.
type ParentLink struct {
	LinkOrigin graph.TransformHandle
	Graph      *GraphEndpoint
}

type contentSide struct {
	graphHandle graph.TransformHandle
	linkHandle  graph.TransformHandle
	initial     snapshot.LinkProperties
	endpoint    *ContentEndpoint
}

type graphSide struct {
	childOrigin graph.TransformHandle
	endpoint    *GraphEndpoint
}

// System performs link rendezvous and owns the resolved link topology.
// Link handles are minted from a private graph in the reserved link
// instance, so they can never collide with session transforms.
type System struct {
	linkGraph *graph.TransformGraph

	mu            sync.RWMutex
	resolved      map[graph.TransformHandle]*pairState
	byChildOrigin map[graph.TransformHandle]*pairState
	byLinkHandle  map[graph.TransformHandle]*pairState
}

// NewSystem returns an empty link System.
func NewSystem() *System {
	return &System{
		linkGraph:     graph.New(graph.LinkInstanceID),
		resolved:      make(map[graph.TransformHandle]*pairState),
		byChildOrigin: make(map[graph.TransformHandle]*pairState),
		byLinkHandle:  make(map[graph.TransformHandle]*pairState),
	}
}

// CreateChildLink consumes the parent half of a token pair. graphHandle
// is the transform in the parent session's graph that carries the link;
// the session keys the link's layout properties by it. The returned
// link handle is valid immediately and may be attached as content
// before the child side arrives. Protocol violations on the returned
// endpoint are reported through errSink.
func (s *System) CreateChildLink(token *ContentToken, graphHandle graph.TransformHandle, properties snapshot.LinkProperties, errSink func(error)) (ChildLink, error) {
	if properties.LogicalSize.X <= 0 || properties.LogicalSize.Y <= 0 {
		return ChildLink{}, ErrInvalidProperties
	}
	state := token.take()
	if state == nil {
		return ChildLink{}, ErrTokenInvalid
	}

	ep := &ContentEndpoint{
		status: newHangingGet(func(a, b ContentLinkStatus) bool { return a == b }, errSink),
	}
	side := &contentSide{
		graphHandle: graphHandle,
		linkHandle:  s.linkGraph.CreateTransform(),
		endpoint:    ep,
		initial:     properties,
	}

	state.mu.Lock()
	state.content = side
	other := state.graph
	state.mu.Unlock()

	s.mu.Lock()
	s.byLinkHandle[side.linkHandle] = state
	if other != nil {
		s.resolve(state, side, other)
	}
	s.mu.Unlock()

	return ChildLink{GraphHandle: graphHandle, LinkHandle: side.linkHandle, Content: ep}, nil
}

// CreateParentLink consumes the child half of a token pair. linkOrigin
// is the transform in the child's own graph that the parent's content
// slot will splice onto. Protocol violations on the returned endpoint
// are reported through errSink.
func (s *System) CreateParentLink(token *GraphToken, linkOrigin graph.TransformHandle, errSink func(error)) (ParentLink, error) {
	state := token.take()
	if state == nil {
		return ParentLink{}, ErrTokenInvalid
	}

	ep := &GraphEndpoint{
		layout: newHangingGet(func(a, b LayoutInfo) bool { return a == b }, errSink),
		status: newHangingGet(func(a, b GraphLinkStatus) bool { return a == b }, errSink),
	}
	side := &graphSide{childOrigin: linkOrigin, endpoint: ep}

	state.mu.Lock()
	state.graph = side
	other := state.content
	state.mu.Unlock()

	s.mu.Lock()
	s.byChildOrigin[linkOrigin] = state
	if other != nil {
		s.resolve(state, other, side)
	}
	s.mu.Unlock()

	return ParentLink{LinkOrigin: linkOrigin, Graph: ep}, nil
}

// resolve is called with s.mu held once both sides of a pair exist.
// The child hears its first layout here, before either side presents.
func (s *System) resolve(state *pairState, content *contentSide, graphEnd *graphSide) {
	s.resolved[content.linkHandle] = state
	graphEnd.endpoint.layout.Set(LayoutInfo{
		LogicalSize: content.initial.LogicalSize,
		PixelScale:  gg.Pt(1, 1),
	})
}

// ReleaseChildLink detaches the parent side of a link and returns a
// fresh token for it, so the content can be linked again elsewhere.
// Returns nil for a handle the system does not know.
func (s *System) ReleaseChildLink(linkHandle graph.TransformHandle) *ContentToken {
	s.mu.Lock()
	state, ok := s.byLinkHandle[linkHandle]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.byLinkHandle, linkHandle)
	delete(s.resolved, linkHandle)
	s.linkGraph.ReleaseTransform(linkHandle)
	s.mu.Unlock()

	state.mu.Lock()
	state.content = nil
	orphan := state.graph
	state.mu.Unlock()
	if orphan != nil {
		orphan.endpoint.status.Set(GraphLinkStatusDisconnectedFromDisplay)
	}
	return &ContentToken{state: state}
}

// ReleaseParentLink detaches the child side of a link and returns a
// fresh token for it. Returns nil for an origin the system does not
// know.
func (s *System) ReleaseParentLink(linkOrigin graph.TransformHandle) *GraphToken {
	s.mu.Lock()
	state, ok := s.byChildOrigin[linkOrigin]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.byChildOrigin, linkOrigin)
	state.mu.Lock()
	if state.content != nil {
		delete(s.resolved, state.content.linkHandle)
	}
	state.graph = nil
	state.mu.Unlock()
	s.mu.Unlock()
	return &GraphToken{state: state}
}

// GetResolvedTopologyLinks maps each resolved link handle to the child
// transform it splices onto.
func (s *System) GetResolvedTopologyLinks() map[graph.TransformHandle]graph.TransformHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[graph.TransformHandle]graph.TransformHandle, len(s.resolved))
	for handle, state := range s.resolved {
		state.mu.Lock()
		if state.graph != nil {
			out[handle] = state.graph.childOrigin
		}
		state.mu.Unlock()
	}
	return out
}

// LinkCount reports the number of resolved links.
func (s *System) LinkCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.resolved)
}

// UpdateLinks pushes layout and status to every resolved link after a
// global topology pass. liveHandles is the set of handles reachable
// from the display root, globalMatrices their world transforms,
// displayPixelScale the display's pixels per logical unit, and
// instances the UberStruct snapshot the pass ran on.
func (s *System) UpdateLinks(liveHandles map[graph.TransformHandle]bool, globalMatrices map[graph.TransformHandle]gg.Matrix, displayPixelScale gg.Point, instances snapshot.InstanceMap) {
	type resolvedLink struct {
		content  *contentSide
		graphEnd *graphSide
	}
	s.mu.RLock()
	links := make([]resolvedLink, 0, len(s.resolved))
	for _, state := range s.resolved {
		state.mu.Lock()
		if state.content != nil && state.graph != nil {
			links = append(links, resolvedLink{content: state.content, graphEnd: state.graph})
		}
		state.mu.Unlock()
	}
	s.mu.RUnlock()

	for _, l := range links {
		parentUber, parentOK := instances[scheduling.SessionID(l.content.graphHandle.Instance())]
		if parentOK {
			if props, ok := parentUber.LinkProperties[l.content.graphHandle]; ok {
				scale := matrixScale(globalMatrices[l.content.graphHandle])
				l.graphEnd.endpoint.layout.Set(LayoutInfo{
					LogicalSize: props.LogicalSize,
					PixelScale:  gg.Pt(displayPixelScale.X*scale.X, displayPixelScale.Y*scale.Y),
				})
			}
		}

		if liveHandles[l.graphEnd.childOrigin] {
			l.graphEnd.endpoint.status.Set(GraphLinkStatusConnectedToDisplay)
		} else {
			l.graphEnd.endpoint.status.Set(GraphLinkStatusDisconnectedFromDisplay)
		}

		childUber, childOK := instances[scheduling.SessionID(l.graphEnd.childOrigin.Instance())]
		if childOK && len(childUber.LocalTopology) > 0 {
			l.content.endpoint.status.Set(ContentLinkStatusContentHasPresented)
		}
	}
}

// matrixScale extracts the per-axis scale factors of an affine matrix.
// The zero Matrix scales to (1, 1) so absent entries read as identity.
func matrixScale(m gg.Matrix) gg.Point {
	if m == (gg.Matrix{}) {
		return gg.Pt(1, 1)
	}
	return gg.Pt(math.Hypot(m.A, m.D), math.Hypot(m.B, m.E))
}
