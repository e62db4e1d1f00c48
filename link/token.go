// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package link

import "sync"

// pairState is the rendezvous point of one token pair. Each side
// attaches at most one endpoint; when both are attached the link
// resolves. Detaching either side unresolves it again.
type pairState struct {
	mu      sync.Mutex
	content *contentSide
	graph   *graphSide
}

// ContentToken is the parent half of a token pair, consumed by
// System.CreateChildLink.
type ContentToken struct {
	mu    sync.Mutex
	state *pairState
}

// GraphToken is the child half of a token pair, consumed by
// System.CreateParentLink.
type GraphToken struct {
	mu    sync.Mutex
	state *pairState
}

// NewTokenPair returns the two halves of a fresh link channel. The
// parent keeps the ContentToken and sends the GraphToken to the child.
func NewTokenPair() (*ContentToken, *GraphToken) {
	s := &pairState{}
	return &ContentToken{state: s}, &GraphToken{state: s}
}

func (t *ContentToken) take() *pairState {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state
	t.state = nil
	return s
}

// Valid reports whether the token is still unconsumed.
func (t *ContentToken) Valid() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state != nil
}

func (t *GraphToken) take() *pairState {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state
	t.state = nil
	return s
}

// Valid reports whether the token is still unconsumed.
func (t *GraphToken) Valid() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state != nil
}
