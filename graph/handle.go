// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

import "fmt"

// InstanceID identifies the owner of a set of transform handles. Each
// client session owns one instance; instance 0 is reserved for handles
// minted by the link system, which never appear in global topologies.
type InstanceID uint64

// LinkInstanceID is the reserved instance for link-internal handles.
const LinkInstanceID InstanceID = 0

// TransformHandle is an opaque identifier for a transform. It is a pure
// value: handles are compared and hashed, never dereferenced. A handle is
// only meaningful to the TransformGraph (and global systems) that minted
// and track it.
type TransformHandle struct {
	instance InstanceID
	id       uint64
}

// NewTransformHandle creates a handle with explicit components. Most
// callers receive handles from TransformGraph.CreateTransform; this
// constructor exists for global systems that mint well-known handles.
func NewTransformHandle(instance InstanceID, id uint64) TransformHandle {
	return TransformHandle{instance: instance, id: id}
}

// Instance returns the owning instance of this handle.
func (h TransformHandle) Instance() InstanceID { return h.instance }

// ID returns the per-instance id of this handle.
func (h TransformHandle) ID() uint64 { return h.id }

// IsLinkHandle reports whether this handle belongs to the link system's
// reserved instance.
func (h TransformHandle) IsLinkHandle() bool { return h.instance == LinkInstanceID }

// String formats the handle as "instance:id".
func (h TransformHandle) String() string {
	return fmt.Sprintf("%d:%d", h.instance, h.id)
}

// Edge is a directed parent→child connection between two handles.
type Edge struct {
	Parent TransformHandle
	Child  TransformHandle
}

// TopologyEntry is one node of a flattened local topology: the handle and
// the number of children emitted for it in the same vector.
type TopologyEntry struct {
	Handle     TransformHandle
	ChildCount int
}

// TopologyVector is a pre-order flattening of a transform hierarchy.
// A parent always precedes its children, and a node's subtree occupies a
// contiguous range starting immediately after it.
type TopologyVector []TopologyEntry
