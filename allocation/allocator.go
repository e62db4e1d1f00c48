// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package allocation

import (
	"errors"
	"sync"
)

var (
	// ErrTokenInvalid is returned when a token was already consumed or closed.
	ErrTokenInvalid = errors.New("allocation: token invalid")

	// ErrImportFailed is returned when an importer rejected a collection.
	ErrImportFailed = errors.New("allocation: importer rejected buffer collection")
)

// Allocator registers buffer collections with a fixed set of importers.
// Registration is atomic across importers: when importer i rejects a
// collection, importers 0..i-1 have it released again and the
// registration fails as a whole.
type Allocator struct {
	importers []BufferCollectionImporter

	mu          sync.Mutex
	collections map[GlobalBufferCollectionID]*BufferCollectionInfo
}

// NewAllocator returns an Allocator feeding the given importers. The
// importer set is fixed for the allocator's lifetime.
func NewAllocator(importers []BufferCollectionImporter) *Allocator {
	a := &Allocator{
		importers:   make([]BufferCollectionImporter, len(importers)),
		collections: make(map[GlobalBufferCollectionID]*BufferCollectionInfo),
	}
	copy(a.importers, importers)
	return a
}

// RegisterBufferCollection consumes the export token and registers its
// collection with every importer. The collection is released from all
// importers once the last import token of the pair closes.
func (a *Allocator) RegisterBufferCollection(token *ExportToken, info *BufferCollectionInfo) error {
	if !token.Valid() {
		return ErrTokenInvalid
	}
	state := token.state
	token.state = nil

	id := state.id
	for i, imp := range a.importers {
		if !imp.ImportBufferCollection(id, info) {
			for j := 0; j < i; j++ {
				a.importers[j].ReleaseBufferCollection(id)
			}
			return ErrImportFailed
		}
	}

	a.mu.Lock()
	a.collections[id] = info
	a.mu.Unlock()

	state.mu.Lock()
	state.onRelease = a.release
	alreadyDead := state.imports == 0
	state.mu.Unlock()
	if alreadyDead {
		a.release(id)
	}
	return nil
}

// CollectionInfo returns the negotiated layout of a registered
// collection. ok is false for unknown or released collections.
func (a *Allocator) CollectionInfo(id GlobalBufferCollectionID) (*BufferCollectionInfo, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	info, ok := a.collections[id]
	return info, ok
}

// Importers returns the importer set shared by all registrations.
func (a *Allocator) Importers() []BufferCollectionImporter {
	out := make([]BufferCollectionImporter, len(a.importers))
	copy(out, a.importers)
	return out
}

func (a *Allocator) release(id GlobalBufferCollectionID) {
	a.mu.Lock()
	_, ok := a.collections[id]
	delete(a.collections, id)
	a.mu.Unlock()
	if !ok {
		return
	}
	for _, imp := range a.importers {
		imp.ReleaseBufferCollection(id)
	}
}
