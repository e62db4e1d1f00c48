// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package flatland

import (
	"image"
	"sync"

	"github.com/gogpu/gg"

	"github.com/gogpu/flatland/compose"
	"github.com/gogpu/flatland/graph"
	"github.com/gogpu/flatland/link"
	"github.com/gogpu/flatland/render"
	"github.com/gogpu/flatland/snapshot"
)

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithDisplayPixelScale sets the display's physical pixels per logical
// unit. The default is 1 on both axes.
func WithDisplayPixelScale(scale gg.Point) EngineOption {
	return func(e *Engine) { e.pixelScale = scale }
}

// Engine is the render loop core. Each RenderFrame takes one snapshot
// across all sessions, flattens it from the display root, pushes link
// updates derived from the flattened scene, and hands the frame to the
// renderer.
type Engine struct {
	uberSystem *snapshot.System
	linkSystem *link.System
	renderer   render.Renderer
	pixelScale gg.Point

	mu   sync.Mutex
	root graph.TransformHandle
}

// NewEngine wires an Engine to its collaborators.
func NewEngine(uberSystem *snapshot.System, linkSystem *link.System, renderer render.Renderer, opts ...EngineOption) *Engine {
	e := &Engine{
		uberSystem: uberSystem,
		linkSystem: linkSystem,
		renderer:   renderer,
		pixelScale: gg.Pt(1, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetRootSession marks a session as the display root: its topology is
// where every frame's flattening starts.
func (e *Engine) SetRootSession(s *Session) {
	e.mu.Lock()
	e.root = s.Root()
	e.mu.Unlock()
}

// ComposeSnapshot flattens the current snapshot and pushes link
// updates, without rendering. The render loop's CPU half.
func (e *Engine) ComposeSnapshot() compose.Frame {
	e.mu.Lock()
	root := e.root
	e.mu.Unlock()

	instances := e.uberSystem.Snapshot()
	links := e.linkSystem.GetResolvedTopologyLinks()
	frame := compose.ComposeFrame(instances, links, root)

	matrices := compose.MatricesByHandle(frame.Topology, frame.Matrices)
	e.linkSystem.UpdateLinks(frame.Topology.LiveHandles, matrices, e.pixelScale, instances)

	Logger().Debug("frame composed",
		"topology", len(frame.Topology.Topology),
		"rects", len(frame.Rectangles))
	return frame
}

// RenderFrame composes the current snapshot and draws it.
func (e *Engine) RenderFrame() (image.Image, error) {
	return e.renderer.Render(e.ComposeSnapshot())
}
