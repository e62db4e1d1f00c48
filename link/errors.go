// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package link

import "errors"

var (
	// ErrTokenInvalid is returned when a link token was already
	// consumed or belongs to a torn-down pair.
	ErrTokenInvalid = errors.New("link: token invalid")

	// ErrInvalidProperties is returned when link properties carry a
	// non-positive logical size.
	ErrInvalidProperties = errors.New("link: invalid link properties")

	// ErrBadHangingGet is reported through a link's error sink when a
	// watcher is registered while another is still parked.
	ErrBadHangingGet = errors.New("link: hanging get overwritten")
)
