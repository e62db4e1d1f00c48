// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package render turns composed frames into pixels. A Renderer is also
// a buffer collection importer, so clients' pixel buffers register with
// it through the allocation layer like with any other consumer.
package render

import (
	"image"

	"github.com/gogpu/flatland/allocation"
	"github.com/gogpu/flatland/compose"
)

// Renderer consumes composed frames. Implementations must be safe for
// concurrent use as importers; Render itself is called from the render
// loop only.
type Renderer interface {
	allocation.BufferCollectionImporter

	// Render draws the frame's rectangles back to front.
	Render(frame compose.Frame) (image.Image, error)
}
