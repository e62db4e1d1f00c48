// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package graph provides the per-session transform hierarchy: opaque
// transform handles, an ordered parent/child adjacency, and the
// topological flattening used to publish a session's scene.
//
// A TransformGraph is a DAG, not a tree: a transform may be the child of
// several parents, in which case its subtree appears once per path in the
// flattened topology. Cycles can be staged by a misbehaving client and
// are detected (never committed) by ComputeAndCleanup.
//
// TransformGraph is not safe for concurrent use; each session confines
// its graph to its own synchronization domain.
package graph

// TopologyData is the result of ComputeAndCleanup.
type TopologyData struct {
	// SortedTransforms is the pre-order flattening from the requested
	// root. Empty when cycles were detected.
	SortedTransforms TopologyVector

	// DeadTransforms lists released handles that are no longer reachable
	// from the root. Their adjacency has been reclaimed; resources staged
	// against them should be released by the caller.
	DeadTransforms []TransformHandle

	// CyclicalEdges lists every edge whose target was already on the DFS
	// stack. Non-empty means the walk failed and nothing was reclaimed.
	CyclicalEdges []Edge

	// Iterations is the number of node visits the walk performed. Equal
	// to the maxIterations argument when the walk was truncated.
	Iterations uint64
}

// TransformGraph owns the handles and adjacency of a single instance.
type TransformGraph struct {
	instance InstanceID
	nextID   uint64

	// live holds handles created and not yet released by the client.
	// released holds handles released but potentially still referenced;
	// they are forgotten once ComputeAndCleanup reports them dead.
	live     map[TransformHandle]struct{}
	released map[TransformHandle]struct{}

	// children is insertion-ordered; child order is paint order.
	children map[TransformHandle][]TransformHandle

	// priority holds the content slot of each transform, visited before
	// ordinary children so attached content always precedes them.
	priority map[TransformHandle]TransformHandle
}

// New creates an empty graph minting handles for the given instance.
func New(instance InstanceID) *TransformGraph {
	return &TransformGraph{
		instance: instance,
		live:     make(map[TransformHandle]struct{}),
		released: make(map[TransformHandle]struct{}),
		children: make(map[TransformHandle][]TransformHandle),
		priority: make(map[TransformHandle]TransformHandle),
	}
}

// Instance returns the instance this graph mints handles for.
func (g *TransformGraph) Instance() InstanceID { return g.instance }

// CreateTransform mints a new live handle. Handle ids are never reused.
func (g *TransformGraph) CreateTransform() TransformHandle {
	h := TransformHandle{instance: g.instance, id: g.nextID}
	g.nextID++
	g.live[h] = struct{}{}
	return h
}

// ReleaseTransform marks a handle as released by the client. The handle
// keeps its edges and remains part of the topology while reachable; it is
// reclaimed by the first ComputeAndCleanup that cannot reach it. Returns
// false if the handle is not live in this graph.
func (g *TransformGraph) ReleaseTransform(h TransformHandle) bool {
	if _, ok := g.live[h]; !ok {
		return false
	}
	delete(g.live, h)
	g.released[h] = struct{}{}
	return true
}

// known reports whether the graph still tracks the handle.
func (g *TransformGraph) known(h TransformHandle) bool {
	if _, ok := g.live[h]; ok {
		return true
	}
	_, ok := g.released[h]
	return ok
}

// AddChild appends child to parent's ordered child list. Returns false
// without mutating if either handle is unknown or the edge already exists.
func (g *TransformGraph) AddChild(parent, child TransformHandle) bool {
	if !g.known(parent) || !g.known(child) {
		return false
	}
	for _, c := range g.children[parent] {
		if c == child {
			return false
		}
	}
	g.children[parent] = append(g.children[parent], child)
	return true
}

// RemoveChild removes the parent→child edge. Returns false without
// mutating if either handle is unknown or the edge does not exist.
func (g *TransformGraph) RemoveChild(parent, child TransformHandle) bool {
	if !g.known(parent) || !g.known(child) {
		return false
	}
	kids := g.children[parent]
	for i, c := range kids {
		if c == child {
			g.children[parent] = append(kids[:i], kids[i+1:]...)
			return true
		}
	}
	return false
}

// ClearChildren removes every ordinary child edge from the handle. The
// priority child, if any, is unaffected.
func (g *TransformGraph) ClearChildren(h TransformHandle) {
	delete(g.children, h)
}

// SetPriorityChild sets the content slot of a transform. The priority
// child is emitted before ordinary children in topology order.
func (g *TransformGraph) SetPriorityChild(h, content TransformHandle) {
	g.priority[h] = content
}

// ClearPriorityChild empties the content slot of a transform.
func (g *TransformGraph) ClearPriorityChild(h TransformHandle) {
	delete(g.priority, h)
}

// HasChildren reports whether the handle has any ordinary children.
func (g *TransformGraph) HasChildren(h TransformHandle) bool {
	return len(g.children[h]) > 0
}

// ResetGraph drops every handle and edge except keepRoot, which remains
// live with no children. Everything else becomes reclaimable on the next
// ComputeAndCleanup.
func (g *TransformGraph) ResetGraph(keepRoot TransformHandle) {
	for h := range g.live {
		if h != keepRoot {
			delete(g.live, h)
			g.released[h] = struct{}{}
		}
	}
	g.children = make(map[TransformHandle][]TransformHandle)
	g.priority = make(map[TransformHandle]TransformHandle)
}

// ComputeAndCleanup flattens the graph from root in pre-order, visiting
// each transform's priority child before its ordered children.
//
// Cycle handling: an edge whose target is already on the DFS stack is
// recorded in CyclicalEdges and not descended into. If any such edge is
// found, the computation has failed: SortedTransforms is empty and no
// state is reclaimed.
//
// On success, released handles that were not reached are reported in
// DeadTransforms, their adjacency is dropped, and the graph forgets them.
//
// The walk performs at most maxIterations node visits; Iterations equals
// maxIterations when the limit was hit (diagnostic for pathological DAG
// fan-out).
func (g *TransformGraph) ComputeAndCleanup(root TransformHandle, maxIterations uint64) TopologyData {
	var data TopologyData

	type frame struct {
		handle   TransformHandle
		index    int // position of this node's entry in SortedTransforms
		pending  []TransformHandle
		visiting bool
	}

	// onStack counts occurrences on the current DFS path so diamonds
	// (revisits of finished nodes) are distinguished from true cycles.
	onStack := make(map[TransformHandle]int)
	reached := make(map[TransformHandle]struct{})

	childrenOf := func(h TransformHandle) []TransformHandle {
		var kids []TransformHandle
		if p, ok := g.priority[h]; ok {
			kids = append(kids, p)
		}
		kids = append(kids, g.children[h]...)
		return kids
	}

	stack := []*frame{{handle: root, pending: childrenOf(root)}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]

		if !top.visiting {
			if data.Iterations == maxIterations {
				break
			}
			data.Iterations++
			top.visiting = true
			top.index = len(data.SortedTransforms)
			data.SortedTransforms = append(data.SortedTransforms, TopologyEntry{Handle: top.handle})
			reached[top.handle] = struct{}{}
			onStack[top.handle]++
		}

		if len(top.pending) == 0 {
			onStack[top.handle]--
			if onStack[top.handle] == 0 {
				delete(onStack, top.handle)
			}
			stack = stack[:len(stack)-1]
			continue
		}

		next := top.pending[0]
		top.pending = top.pending[1:]

		if onStack[next] > 0 {
			data.CyclicalEdges = append(data.CyclicalEdges, Edge{Parent: top.handle, Child: next})
			continue
		}

		data.SortedTransforms[top.index].ChildCount++
		stack = append(stack, &frame{handle: next, pending: childrenOf(next)})
	}

	if len(data.CyclicalEdges) > 0 {
		data.SortedTransforms = nil
		return data
	}

	// Reclaim released handles that the walk never reached.
	dead := make(map[TransformHandle]struct{})
	for h := range g.released {
		if _, ok := reached[h]; ok {
			continue
		}
		dead[h] = struct{}{}
		data.DeadTransforms = append(data.DeadTransforms, h)
		delete(g.released, h)
		delete(g.children, h)
		delete(g.priority, h)
	}

	// Dangling edges to dead handles would otherwise resurface if their
	// unreachable parent is reattached later.
	if len(dead) > 0 {
		for parent, kids := range g.children {
			filtered := kids[:0]
			for _, c := range kids {
				if _, isDead := dead[c]; !isDead {
					filtered = append(filtered, c)
				}
			}
			g.children[parent] = filtered
		}
		for parent, p := range g.priority {
			if _, isDead := dead[p]; isDead {
				delete(g.priority, parent)
			}
		}
	}

	return data
}
