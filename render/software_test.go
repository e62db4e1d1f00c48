// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"image"
	"testing"

	"github.com/gogpu/gg"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/flatland/allocation"
	"github.com/gogpu/flatland/compose"
)

// solidCollection builds a one-buffer collection filled with a solid
// RGBA color.
func solidCollection(w, h uint32, r, g, b, a byte) *allocation.BufferCollectionInfo {
	buf := make([]byte, int(w)*int(h)*4)
	for i := 0; i < len(buf); i += 4 {
		buf[i], buf[i+1], buf[i+2], buf[i+3] = r, g, b, a
	}
	return &allocation.BufferCollectionInfo{
		Format:  gputypes.TextureFormatRGBA8Unorm,
		Width:   w,
		Height:  h,
		Buffers: [][]byte{buf},
	}
}

func importSolid(t *testing.T, r *Software, w, h uint32, red, green, blue, alpha byte) allocation.ImageMetadata {
	t.Helper()
	id := allocation.NextBufferCollectionID()
	if !r.ImportBufferCollection(id, solidCollection(w, h, red, green, blue, alpha)) {
		t.Fatalf("ImportBufferCollection rejected")
	}
	meta := allocation.ImageMetadata{
		ID:         allocation.NextImageID(),
		Collection: id,
		Width:      w,
		Height:     h,
	}
	if !r.ImportBufferImage(meta) {
		t.Fatalf("ImportBufferImage rejected")
	}
	return meta
}

func nrgbaAt(t *testing.T, img image.Image, x, y int) (byte, byte, byte) {
	t.Helper()
	c := img.At(x, y)
	r, g, b, _ := c.RGBA()
	return byte(r >> 8), byte(g >> 8), byte(b >> 8)
}

func TestImportValidation(t *testing.T) {
	r := NewSoftware(8, 8)
	id := allocation.NextBufferCollectionID()

	if r.ImportBufferCollection(id, &allocation.BufferCollectionInfo{}) {
		t.Errorf("empty collection accepted")
	}
	if r.ImportBufferCollection(id, &allocation.BufferCollectionInfo{
		Format:  gputypes.TextureFormatR8Unorm,
		Width:   2,
		Height:  2,
		Buffers: [][]byte{make([]byte, 16)},
	}) {
		t.Errorf("unsupported format accepted")
	}
	if !r.ImportBufferCollection(id, solidCollection(2, 2, 0, 0, 0, 255)) {
		t.Fatalf("valid collection rejected")
	}

	cases := []struct {
		name string
		meta allocation.ImageMetadata
	}{
		{"unknown collection", allocation.ImageMetadata{ID: 1, Collection: id + 999, Width: 1, Height: 1}},
		{"buffer out of range", allocation.ImageMetadata{ID: 2, Collection: id, VmoIndex: 1, Width: 1, Height: 1}},
		{"zero size", allocation.ImageMetadata{ID: 3, Collection: id, Width: 0, Height: 1}},
		{"too large", allocation.ImageMetadata{ID: 4, Collection: id, Width: 3, Height: 1}},
	}
	for _, tc := range cases {
		if r.ImportBufferImage(tc.meta) {
			t.Errorf("%s: image accepted", tc.name)
		}
	}
}

func TestRenderSolidRect(t *testing.T) {
	r := NewSoftware(8, 8)
	meta := importSolid(t, r, 4, 4, 255, 0, 0, 255)

	frame := compose.Frame{
		Rectangles: []compose.ImageRect{{
			Image:     meta,
			Transform: gg.Translate(2, 2),
			Opacity:   1,
		}},
	}
	img, err := r.Render(frame)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if red, _, _ := nrgbaAt(t, img, 3, 3); red != 255 {
		t.Errorf("pixel inside rect red = %d, want 255", red)
	}
	if red, _, _ := nrgbaAt(t, img, 0, 0); red != 0 {
		t.Errorf("pixel outside rect red = %d, want 0", red)
	}
	if red, _, _ := nrgbaAt(t, img, 7, 7); red != 0 {
		t.Errorf("pixel past rect red = %d, want 0", red)
	}
}

func TestRenderBGRASwapsChannels(t *testing.T) {
	r := NewSoftware(4, 4)
	id := allocation.NextBufferCollectionID()
	info := solidCollection(2, 2, 255, 0, 0, 255)
	info.Format = gputypes.TextureFormatBGRA8Unorm
	if !r.ImportBufferCollection(id, info) {
		t.Fatalf("ImportBufferCollection rejected")
	}
	meta := allocation.ImageMetadata{
		ID: allocation.NextImageID(), Collection: id, Width: 2, Height: 2,
	}
	if !r.ImportBufferImage(meta) {
		t.Fatalf("ImportBufferImage rejected")
	}

	frame := compose.Frame{
		Rectangles: []compose.ImageRect{{Image: meta, Transform: gg.Identity(), Opacity: 1}},
	}
	img, err := r.Render(frame)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	red, _, blue := nrgbaAt(t, img, 0, 0)
	if red != 0 || blue != 255 {
		t.Errorf("pixel = (r=%d, b=%d), want (0, 255)", red, blue)
	}
}

func TestRenderScaledRect(t *testing.T) {
	r := NewSoftware(8, 8)
	meta := importSolid(t, r, 2, 2, 0, 255, 0, 255)

	frame := compose.Frame{
		Rectangles: []compose.ImageRect{{
			Image:     meta,
			Transform: gg.Scale(4, 4),
			Opacity:   1,
		}},
	}
	img, err := r.Render(frame)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if _, green, _ := nrgbaAt(t, img, 7, 7); green != 255 {
		t.Errorf("scaled rect corner green = %d, want 255", green)
	}
}

func TestRenderRotatedRect(t *testing.T) {
	// A 4x4 rect rotated a quarter turn about the output center still
	// covers the center pixel and leaves the far corner untouched.
	r := NewSoftware(16, 16)
	meta := importSolid(t, r, 4, 4, 0, 0, 255, 255)

	m := gg.Translate(8, 8).Multiply(gg.Rotate(0.5)).Multiply(gg.Translate(-2, -2))
	frame := compose.Frame{
		Rectangles: []compose.ImageRect{{Image: meta, Transform: m, Opacity: 1}},
	}
	img, err := r.Render(frame)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if _, _, blue := nrgbaAt(t, img, 8, 8); blue != 255 {
		t.Errorf("rotated rect center blue = %d, want 255", blue)
	}
	if _, _, blue := nrgbaAt(t, img, 15, 0); blue != 0 {
		t.Errorf("far corner blue = %d, want 0", blue)
	}
}

func TestRenderUnknownImage(t *testing.T) {
	r := NewSoftware(4, 4)
	frame := compose.Frame{
		Rectangles: []compose.ImageRect{{
			Image:   allocation.ImageMetadata{ID: 12345},
			Opacity: 1,
		}},
	}
	if _, err := r.Render(frame); err != ErrUnknownImage {
		t.Errorf("Render = %v, want ErrUnknownImage", err)
	}
}

func TestReleaseImage(t *testing.T) {
	r := NewSoftware(4, 4)
	meta := importSolid(t, r, 2, 2, 1, 2, 3, 255)
	if got := r.ImageCount(); got != 1 {
		t.Fatalf("ImageCount() = %d, want 1", got)
	}
	r.ReleaseBufferImage(meta.ID)
	if got := r.ImageCount(); got != 0 {
		t.Errorf("ImageCount() after release = %d, want 0", got)
	}
}
