// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package flatland

import (
	"github.com/gogpu/gg"

	"github.com/gogpu/flatland/allocation"
	"github.com/gogpu/flatland/link"
)

// CreateImage registers an image cut from a buffer collection under a
// client-chosen content id. The image is imported into every consumer;
// if any of them rejects it, the ones before it are rolled back and the
// call fails.
func (s *Session) CreateImage(id ContentID, token *allocation.ImportToken, vmoIndex uint32, properties ImageProperties) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if id == 0 {
		return s.fail(ErrInvalidID)
	}
	if _, ok := s.contentIDs[id]; ok {
		return s.fail(ErrIDInUse)
	}
	collection := token.CollectionID()
	if collection == 0 {
		return s.fail(ErrBufferImport)
	}
	if properties.Width == 0 || properties.Height == 0 {
		return s.fail(ErrBadOperation)
	}

	metadata := allocation.ImageMetadata{
		ID:         allocation.NextImageID(),
		Collection: collection,
		VmoIndex:   vmoIndex,
		Width:      properties.Width,
		Height:     properties.Height,
	}
	for i, importer := range s.importers {
		if !importer.ImportBufferImage(metadata) {
			for j := 0; j < i; j++ {
				s.importers[j].ReleaseBufferImage(metadata.ID)
			}
			return s.fail(ErrBufferImport)
		}
	}

	// The image holds its own reference to the collection so the
	// client may close its token right after this call.
	s.contentIDs[id] = &contentRecord{
		kind:   contentImage,
		handle: s.transforms.CreateTransform(),
		image:  metadata,
		token:  token.Duplicate(),
	}
	return nil
}

// ReleaseImage schedules an image for destruction. The image keeps
// rendering while any presented topology references it; the backing
// buffers are released once it falls out of the scene.
func (s *Session) ReleaseImage(id ContentID) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	record, err := s.takeContent(id, contentImage, ErrNotImage)
	if err != nil {
		return err
	}
	s.transforms.ReleaseTransform(record.handle)
	s.releasedImages[record.handle] = record
	return nil
}

// CreateLink consumes the parent half of a link token pair under a
// client-chosen content id. The link participates in the scene once
// attached with SetContent and committed with Present.
func (s *Session) CreateLink(id ContentID, token *link.ContentToken, properties LinkProperties) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if id == 0 {
		return s.fail(ErrInvalidID)
	}
	if _, ok := s.contentIDs[id]; ok {
		return s.fail(ErrIDInUse)
	}
	graphHandle := s.transforms.CreateTransform()
	child, err := s.linkSystem.CreateChildLink(token, graphHandle, properties, s.reportError)
	if err != nil {
		s.transforms.ReleaseTransform(graphHandle)
		return s.fail(err)
	}
	// The graph handle carries the link in the local topology; the link
	// handle beneath it is what the global pass splices the child onto.
	s.transforms.SetPriorityChild(graphHandle, child.LinkHandle)
	s.contentIDs[id] = &contentRecord{
		kind:   contentLink,
		handle: graphHandle,
		link:   child,
		props:  properties,
		size:   properties.LogicalSize,
	}
	return nil
}

// WatchContentStatus registers a one-shot observer on a link's content
// status.
func (s *Session) WatchContentStatus(id ContentID, fn func(link.ContentLinkStatus)) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	record, ok := s.contentIDs[id]
	if !ok {
		return s.fail(ErrNotFound)
	}
	if record.kind != contentLink {
		return s.fail(ErrNotLink)
	}
	record.link.Content.WatchStatus(fn)
	return nil
}

// SetLinkProperties replaces the layout contract pushed to the linked
// child. The change reaches the child after the next Present.
func (s *Session) SetLinkProperties(id ContentID, properties LinkProperties) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if properties.LogicalSize.X <= 0 || properties.LogicalSize.Y <= 0 {
		return s.fail(link.ErrInvalidProperties)
	}
	record, ok := s.contentIDs[id]
	if !ok || id == 0 {
		return s.fail(ErrNotFound)
	}
	if record.kind != contentLink {
		return s.fail(ErrNotLink)
	}
	record.props = properties
	s.updateLinkScale(record)
	return nil
}

// SetLinkSize changes how much space the link occupies in this
// session's coordinate system without touching the child's logical
// coordinate space. The difference between the two becomes a scale on
// the link's carrier transform.
func (s *Session) SetLinkSize(id ContentID, size gg.Point) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if size.X <= 0 || size.Y <= 0 {
		return s.fail(link.ErrInvalidProperties)
	}
	record, ok := s.contentIDs[id]
	if !ok || id == 0 {
		return s.fail(ErrNotFound)
	}
	if record.kind != contentLink {
		return s.fail(ErrNotLink)
	}
	record.size = size
	s.updateLinkScale(record)
	return nil
}

// updateLinkScale restages the size/logical-size ratio as the scale of
// the link's carrier transform. At the ratio's identity the staged
// matrix is dropped so the handle publishes no matrix at all.
func (s *Session) updateLinkScale(record *contentRecord) {
	d := s.matrices[record.handle]
	d.scale = gg.Pt(record.size.X/record.props.LogicalSize.X, record.size.Y/record.props.LogicalSize.Y)
	if d == (matrixData{scale: gg.Pt(1, 1)}) {
		delete(s.matrices, record.handle)
	} else {
		s.matrices[record.handle] = d
	}
}

// ReleaseLink dissolves a link. The content id is free for re-use
// immediately; the link itself leaves the global scene at the next
// Present, after which fn receives a fresh token for the other half so
// the same child content can be linked again elsewhere.
func (s *Session) ReleaseLink(id ContentID, fn func(*link.ContentToken)) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	record, err := s.takeContent(id, contentLink, ErrNotLink)
	if err != nil {
		return err
	}
	s.transforms.ClearPriorityChild(record.handle)
	s.transforms.ReleaseTransform(record.handle)
	delete(s.matrices, record.handle)

	linkHandle := record.link.LinkHandle
	s.pendingLinkOps = append(s.pendingLinkOps, func() {
		token := s.linkSystem.ReleaseChildLink(linkHandle)
		if token == nil {
			// The peer vanished in the meantime; hand back an orphan so
			// the caller still holds a well-formed capability.
			token, _ = link.NewTokenPair()
		}
		if fn != nil {
			fn(token)
		}
	})
	return nil
}

// takeContent removes and returns the record under id, checking kind.
func (s *Session) takeContent(id ContentID, kind contentKind, kindErr error) (*contentRecord, error) {
	if id == 0 {
		return nil, s.fail(ErrInvalidID)
	}
	record, ok := s.contentIDs[id]
	if !ok {
		return nil, s.fail(ErrNotFound)
	}
	if record.kind != kind {
		return nil, s.fail(kindErr)
	}
	delete(s.contentIDs, id)
	return record, nil
}

// LinkToParent consumes the child half of a link token pair, attaching
// this session's root beneath the linking parent. The returned endpoint
// carries layout and status pushes from the parent side; the first
// layout arrives before either side presents.
func (s *Session) LinkToParent(token *link.GraphToken) (*link.ParentLink, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	if s.parentLink != nil {
		return nil, s.fail(ErrBadOperation)
	}
	// Each parent link gets its own origin transform above the local
	// root, so releasing it never races a relink on the same handle.
	linkOrigin := s.transforms.CreateTransform()
	parent, err := s.linkSystem.CreateParentLink(token, linkOrigin, s.reportError)
	if err != nil {
		s.transforms.ReleaseTransform(linkOrigin)
		return nil, s.fail(err)
	}
	if !s.transforms.AddChild(linkOrigin, s.localRoot) {
		s.transforms.ReleaseTransform(linkOrigin)
		s.linkSystem.ReleaseParentLink(linkOrigin)
		return nil, s.fail(ErrBadOperation)
	}
	s.parentLink = &parent
	return s.parentLink, nil
}

// UnlinkFromParent detaches this session from its parent. The detach
// takes global effect at the next Present, after which fn receives a
// fresh token for re-linking.
func (s *Session) UnlinkFromParent(fn func(*link.GraphToken)) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if s.parentLink == nil {
		return s.fail(ErrBadOperation)
	}
	linkOrigin := s.parentLink.LinkOrigin
	s.transforms.RemoveChild(linkOrigin, s.localRoot)
	s.transforms.ReleaseTransform(linkOrigin)
	s.parentLink = nil

	s.pendingLinkOps = append(s.pendingLinkOps, func() {
		token := s.linkSystem.ReleaseParentLink(linkOrigin)
		if token == nil {
			_, token = link.NewTokenPair()
		}
		if fn != nil {
			fn(token)
		}
	})
	return nil
}
