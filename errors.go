// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package flatland

import "errors"

var (
	// ErrNotFound is returned when an operation names a transform,
	// image, or link id the session never created or already released.
	ErrNotFound = errors.New("flatland: id not found")

	// ErrInvalidID is returned when an operation passes the zero id.
	ErrInvalidID = errors.New("flatland: invalid id")

	// ErrIDInUse is returned when a create operation reuses a live id.
	ErrIDInUse = errors.New("flatland: id already in use")

	// ErrBadOperation is returned by Present when an earlier operation
	// in the batch failed or the graph contains a cycle. The session is
	// closed.
	ErrBadOperation = errors.New("flatland: bad operation")

	// ErrNoPresentsRemaining is returned by Present when the session has
	// no present tokens left. The session is closed.
	ErrNoPresentsRemaining = errors.New("flatland: no presents remaining")

	// ErrNotLink is returned when a link operation names content that is
	// not a link.
	ErrNotLink = errors.New("flatland: content is not a link")

	// ErrNotImage is returned when an image operation names content that
	// is not an image.
	ErrNotImage = errors.New("flatland: content is not an image")

	// ErrBufferImport is returned when an importer rejects an image and
	// the registration is rolled back.
	ErrBufferImport = errors.New("flatland: buffer image import failed")

	// ErrOpacityConflict is returned when translucency is combined with
	// children, which the compositor does not group yet.
	ErrOpacityConflict = errors.New("flatland: opacity on a transform with children")

	// ErrSessionClosed is returned by every operation after the session
	// has been torn down.
	ErrSessionClosed = errors.New("flatland: session closed")
)
