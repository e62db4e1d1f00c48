// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package allocation

import "sync"

// tokenState is the shared core of one token pair. Import tokens are
// reference counted; the release hook runs once, when the last import
// token closes.
type tokenState struct {
	mu        sync.Mutex
	id        GlobalBufferCollectionID
	imports   int
	onRelease func(GlobalBufferCollectionID)
}

func (s *tokenState) drop() {
	s.mu.Lock()
	s.imports--
	done := s.imports == 0
	hook := s.onRelease
	s.mu.Unlock()
	if done && hook != nil {
		hook(s.id)
	}
}

// ExportToken is the registration half of a token pair. It is consumed
// exactly once, by Allocator.RegisterBufferCollection.
type ExportToken struct {
	state *tokenState
}

// Valid reports whether the token still carries a registration right.
func (t *ExportToken) Valid() bool { return t != nil && t.state != nil }

// ImportToken is the usage half of a token pair. Sessions present it to
// prove access to a registered collection. Tokens may be duplicated and
// handed to other sessions; the collection stays alive until every
// duplicate is closed.
type ImportToken struct {
	mu     sync.Mutex
	state  *tokenState
	closed bool
}

// NewTokenPair mints a fresh buffer collection id and returns the token
// pair controlling it.
func NewTokenPair() (*ExportToken, *ImportToken) {
	s := &tokenState{id: NextBufferCollectionID(), imports: 1}
	return &ExportToken{state: s}, &ImportToken{state: s}
}

// CollectionID returns the collection the token grants access to, or
// zero if the token is closed.
func (t *ImportToken) CollectionID() GlobalBufferCollectionID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0
	}
	return t.state.id
}

// Duplicate returns a new import token for the same collection.
// Duplicating a closed token returns nil.
func (t *ImportToken) Duplicate() *ImportToken {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.state.mu.Lock()
	t.state.imports++
	t.state.mu.Unlock()
	return &ImportToken{state: t.state}
}

// Close releases the token. Closing the last import token of a
// registered collection releases the collection from every importer.
// Close is idempotent.
func (t *ImportToken) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	s := t.state
	t.mu.Unlock()
	s.drop()
}
