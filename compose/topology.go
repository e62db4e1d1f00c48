// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package compose flattens the per-session UberStructs of a snapshot
// into one global scene: a spliced topology across links, world
// matrices and opacities for every visited transform, and the final
// image rectangle list the renderer consumes.
package compose

import (
	"github.com/gogpu/gg"

	"github.com/gogpu/flatland/allocation"
	"github.com/gogpu/flatland/graph"
	"github.com/gogpu/flatland/scheduling"
	"github.com/gogpu/flatland/snapshot"
)

// GlobalTopologyData is the flattened scene topology. Entries are in
// pre-order; a transform reachable along several paths appears once per
// path. Link handles never appear: a resolved link is replaced by the
// child session's topology, an unresolved or mismatched one vanishes.
type GlobalTopologyData struct {
	// Topology holds the visited handles with their global child counts.
	Topology graph.TopologyVector

	// ParentIndices holds, for each entry, the index of its parent
	// entry. The root's parent index is 0.
	ParentIndices []int

	// LiveHandles is the set of handles appearing in Topology.
	LiveHandles map[graph.TransformHandle]bool
}

// ComputeGlobalTopologyData splices the local topologies in instances
// into one global vector rooted at root. links maps each resolved link
// handle to the child transform it stands in for. A missing root
// session or a root mismatch yields an empty result.
func ComputeGlobalTopologyData(instances snapshot.InstanceMap, links map[graph.TransformHandle]graph.TransformHandle, root graph.TransformHandle) GlobalTopologyData {
	data := GlobalTopologyData{LiveHandles: make(map[graph.TransformHandle]bool)}

	uber, ok := instances[scheduling.SessionID(root.Instance())]
	if !ok || len(uber.LocalTopology) == 0 || uber.LocalTopology[0].Handle != root {
		return data
	}

	var splice func(vec graph.TopologyVector, idx, parentIdx int) (next int, emitted int)
	splice = func(vec graph.TopologyVector, idx, parentIdx int) (int, int) {
		entry := vec[idx]

		if entry.Handle.IsLinkHandle() {
			// Link handles are leaves locally; they either expand into
			// the linked child's topology or disappear.
			target, resolved := links[entry.Handle]
			if !resolved {
				return idx + 1, 0
			}
			childUber, ok := instances[scheduling.SessionID(target.Instance())]
			if !ok || len(childUber.LocalTopology) == 0 || childUber.LocalTopology[0].Handle != target {
				return idx + 1, 0
			}
			_, sub := splice(childUber.LocalTopology, 0, parentIdx)
			return idx + 1, sub
		}

		myIdx := len(data.Topology)
		data.Topology = append(data.Topology, graph.TopologyEntry{Handle: entry.Handle})
		data.ParentIndices = append(data.ParentIndices, parentIdx)
		data.LiveHandles[entry.Handle] = true

		next := idx + 1
		children := 0
		for i := 0; i < entry.ChildCount; i++ {
			var sub int
			next, sub = splice(vec, next, myIdx)
			children += sub
		}
		data.Topology[myIdx].ChildCount = children
		return next, 1
	}

	splice(uber.LocalTopology, 0, 0)
	return data
}

// ComputeGlobalMatrices returns the world matrix of each topology
// entry: the entry's local matrix composed onto its parent's world
// matrix. Entries without a local matrix read as identity.
func ComputeGlobalMatrices(data GlobalTopologyData, instances snapshot.InstanceMap) []gg.Matrix {
	out := make([]gg.Matrix, len(data.Topology))
	for i, entry := range data.Topology {
		local := gg.Identity()
		if uber, ok := instances[scheduling.SessionID(entry.Handle.Instance())]; ok {
			if m, ok := uber.LocalMatrices[entry.Handle]; ok {
				local = m
			}
		}
		if i == 0 {
			out[i] = local
			continue
		}
		out[i] = out[data.ParentIndices[i]].Multiply(local)
	}
	return out
}

// ComputeGlobalOpacities returns the effective opacity of each topology
// entry: the product of its own opacity and every ancestor's. Entries
// without a local opacity read as 1.
func ComputeGlobalOpacities(data GlobalTopologyData, instances snapshot.InstanceMap) []float64 {
	out := make([]float64, len(data.Topology))
	for i, entry := range data.Topology {
		local := 1.0
		if uber, ok := instances[scheduling.SessionID(entry.Handle.Instance())]; ok {
			if a, ok := uber.LocalOpacityValues[entry.Handle]; ok {
				local = a
			}
		}
		if i == 0 {
			out[i] = local
			continue
		}
		out[i] = out[data.ParentIndices[i]] * local
	}
	return out
}

// MatricesByHandle folds a matrix vector into a handle-keyed map. A
// handle visited along several paths keeps its first occurrence.
func MatricesByHandle(data GlobalTopologyData, matrices []gg.Matrix) map[graph.TransformHandle]gg.Matrix {
	out := make(map[graph.TransformHandle]gg.Matrix, len(matrices))
	for i, entry := range data.Topology {
		if _, ok := out[entry.Handle]; !ok {
			out[entry.Handle] = matrices[i]
		}
	}
	return out
}

// ImageRect is one renderable: an image with its world transform and
// effective opacity. Rectangles render in list order, which is scene
// back-to-front pre-order.
type ImageRect struct {
	Image     allocation.ImageMetadata
	Transform gg.Matrix
	Opacity   float64
}

// ComputeImageRectangles extracts the renderable list from a flattened
// scene.
func ComputeImageRectangles(data GlobalTopologyData, instances snapshot.InstanceMap, matrices []gg.Matrix, opacities []float64) []ImageRect {
	var out []ImageRect
	for i, entry := range data.Topology {
		uber, ok := instances[scheduling.SessionID(entry.Handle.Instance())]
		if !ok {
			continue
		}
		image, ok := uber.Images[entry.Handle]
		if !ok {
			continue
		}
		out = append(out, ImageRect{
			Image:     image,
			Transform: matrices[i],
			Opacity:   opacities[i],
		})
	}
	return out
}

// Frame is one fully composed scene, ready for a renderer.
type Frame struct {
	Topology   GlobalTopologyData
	Matrices   []gg.Matrix
	Opacities  []float64
	Rectangles []ImageRect
}

// ComposeFrame runs the full flattening pass over a snapshot.
func ComposeFrame(instances snapshot.InstanceMap, links map[graph.TransformHandle]graph.TransformHandle, root graph.TransformHandle) Frame {
	data := ComputeGlobalTopologyData(instances, links, root)
	matrices := ComputeGlobalMatrices(data, instances)
	opacities := ComputeGlobalOpacities(data, instances)
	return Frame{
		Topology:   data,
		Matrices:   matrices,
		Opacities:  opacities,
		Rectangles: ComputeImageRectangles(data, instances, matrices, opacities),
	}
}
