// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package allocation manages buffer collections and the images cut from
// them. A buffer collection is a set of CPU-visible pixel buffers shared
// between a client and every consumer (renderer, display, capture) that
// has registered as a BufferCollectionImporter. Collections and images
// are registered with all importers atomically: if any importer rejects
// a registration, the ones before it are rolled back.
package allocation

import (
	"sync/atomic"

	"github.com/gogpu/gputypes"
)

// GlobalBufferCollectionID identifies a buffer collection across every
// importer in the process. Zero is invalid.
type GlobalBufferCollectionID uint64

// GlobalImageID identifies an image across every importer in the
// process. Zero is invalid.
type GlobalImageID uint64

// InvalidImageID is never granted to an image.
const InvalidImageID GlobalImageID = 0

var (
	collectionCounter atomic.Uint64
	imageCounter      atomic.Uint64
)

// NextBufferCollectionID mints a new collection id. Safe for concurrent use.
func NextBufferCollectionID() GlobalBufferCollectionID {
	return GlobalBufferCollectionID(collectionCounter.Add(1))
}

// NextImageID mints a new image id. Safe for concurrent use.
func NextImageID() GlobalImageID {
	return GlobalImageID(imageCounter.Add(1))
}

// ImageMetadata describes one image cut from a buffer collection. The
// struct is plain data; it is copied freely between sessions, snapshots
// and importers.
type ImageMetadata struct {
	// ID is the process-wide identity of the image.
	ID GlobalImageID

	// Collection is the buffer collection backing the image.
	Collection GlobalBufferCollectionID

	// VmoIndex selects the buffer within the collection.
	VmoIndex uint32

	// Width and Height are the image dimensions in pixels.
	Width  uint32
	Height uint32

	// Opaque marks the image as fully opaque regardless of its alpha
	// channel, enabling blend-free composition.
	Opaque bool
}

// BufferCollectionInfo is the negotiated layout of an allocated
// collection, shared by every buffer in it.
type BufferCollectionInfo struct {
	Format gputypes.TextureFormat
	Width  uint32
	Height uint32

	// Buffers holds the pixel storage, one slice per buffer, in
	// row-major order at 4 bytes per pixel.
	Buffers [][]byte
}

// BufferCollectionImporter is a consumer of buffer collections. The
// renderer is one; a display controller or screen-capture sink are
// others. All methods must be safe for concurrent use.
type BufferCollectionImporter interface {
	// ImportBufferCollection registers a collection with the importer.
	// Returns false when the importer cannot use the collection.
	ImportBufferCollection(id GlobalBufferCollectionID, info *BufferCollectionInfo) bool

	// ReleaseBufferCollection unregisters a collection. Implementations
	// tolerate ids they never imported.
	ReleaseBufferCollection(id GlobalBufferCollectionID)

	// ImportBufferImage registers an image cut from an imported
	// collection. Returns false when the metadata does not fit the
	// collection (unknown collection, out-of-range buffer index, zero
	// or oversized dimensions).
	ImportBufferImage(metadata ImageMetadata) bool

	// ReleaseBufferImage unregisters an image once nothing on screen
	// references it anymore.
	ReleaseBufferImage(id GlobalImageID)
}
