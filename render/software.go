// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"errors"
	"image"
	"math"
	"sync"

	"github.com/gogpu/gg"
	"github.com/gogpu/gputypes"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/gogpu/flatland/allocation"
	"github.com/gogpu/flatland/compose"
)

// ErrUnknownImage is returned when a frame references an image that was
// never imported or was already released.
var ErrUnknownImage = errors.New("render: unknown image")

// SoftwareOption configures a Software renderer.
type SoftwareOption func(*Software)

// WithBackground sets the clear color of each rendered frame. The
// default is opaque black.
func WithBackground(col gg.RGBA) SoftwareOption {
	return func(r *Software) { r.background = col }
}

// Software is a CPU compositor. Axis-aligned rectangles draw through a
// gg context directly; rotated or sheared ones are resampled first with
// a bilinear affine transform.
type Software struct {
	width      int
	height     int
	background gg.RGBA

	mu          sync.Mutex
	collections map[allocation.GlobalBufferCollectionID]*allocation.BufferCollectionInfo
	images      map[allocation.GlobalImageID]allocation.ImageMetadata
}

// NewSoftware returns a Software renderer targeting a width by height
// output.
func NewSoftware(width, height int, opts ...SoftwareOption) *Software {
	r := &Software{
		width:       width,
		height:      height,
		background:  gg.RGBA{A: 1},
		collections: make(map[allocation.GlobalBufferCollectionID]*allocation.BufferCollectionInfo),
		images:      make(map[allocation.GlobalImageID]allocation.ImageMetadata),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ImportBufferCollection registers a collection. Collections without
// buffers or with an unsupported format are rejected.
func (r *Software) ImportBufferCollection(id allocation.GlobalBufferCollectionID, info *allocation.BufferCollectionInfo) bool {
	if info == nil || len(info.Buffers) == 0 || info.Width == 0 || info.Height == 0 {
		return false
	}
	switch info.Format {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatBGRA8Unorm:
	default:
		return false
	}
	stride := int(info.Width) * int(info.Height) * 4
	for _, buf := range info.Buffers {
		if len(buf) < stride {
			return false
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collections[id] = info
	return true
}

// ReleaseBufferCollection unregisters a collection.
func (r *Software) ReleaseBufferCollection(id allocation.GlobalBufferCollectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.collections, id)
}

// ImportBufferImage registers an image. The image must name a known
// collection, a buffer inside it, and dimensions that fit.
func (r *Software) ImportBufferImage(metadata allocation.ImageMetadata) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.collections[metadata.Collection]
	if !ok {
		return false
	}
	if int(metadata.VmoIndex) >= len(info.Buffers) {
		return false
	}
	if metadata.Width == 0 || metadata.Height == 0 ||
		metadata.Width > info.Width || metadata.Height > info.Height {
		return false
	}
	r.images[metadata.ID] = metadata
	return true
}

// ReleaseBufferImage unregisters an image.
func (r *Software) ReleaseBufferImage(id allocation.GlobalImageID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.images, id)
}

// ImageCount reports the number of currently imported images.
func (r *Software) ImageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.images)
}

// Render draws the frame into a fresh output image.
func (r *Software) Render(frame compose.Frame) (image.Image, error) {
	ctx := gg.NewContext(r.width, r.height)
	ctx.ClearWithColor(r.background)

	for _, rect := range frame.Rectangles {
		src, err := r.decode(rect.Image)
		if err != nil {
			return nil, err
		}
		drawRect(ctx, src, rect)
	}
	return ctx.Image(), nil
}

// decode copies an image's pixels out of its collection buffer into an
// NRGBA image.
func (r *Software) decode(meta allocation.ImageMetadata) (*image.NRGBA, error) {
	r.mu.Lock()
	stored, ok := r.images[meta.ID]
	var info *allocation.BufferCollectionInfo
	if ok {
		info, ok = r.collections[stored.Collection]
	}
	r.mu.Unlock()
	if !ok {
		return nil, ErrUnknownImage
	}

	buf := info.Buffers[stored.VmoIndex]
	bgra := info.Format == gputypes.TextureFormatBGRA8Unorm
	w, h := int(stored.Width), int(stored.Height)
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		srcRow := buf[y*int(info.Width)*4:]
		dstRow := out.Pix[y*out.Stride:]
		for x := 0; x < w; x++ {
			s := srcRow[x*4 : x*4+4]
			d := dstRow[x*4 : x*4+4]
			if bgra {
				d[0], d[1], d[2] = s[2], s[1], s[0]
			} else {
				d[0], d[1], d[2] = s[0], s[1], s[2]
			}
			if stored.Opaque {
				d[3] = 0xff
			} else {
				d[3] = s[3]
			}
		}
	}
	return out, nil
}

// drawRect composites one rectangle. The transform maps the image's
// pixel rect into output space.
func drawRect(ctx *gg.Context, src *image.NRGBA, rect compose.ImageRect) {
	m := rect.Transform
	if m.B == 0 && m.D == 0 && m.A >= 0 && m.E >= 0 {
		ctx.DrawImageEx(gg.ImageBufFromImage(src), gg.DrawImageOptions{
			X:         m.C,
			Y:         m.F,
			DstWidth:  m.A * float64(src.Rect.Dx()),
			DstHeight: m.E * float64(src.Rect.Dy()),
			Opacity:   rect.Opacity,
		})
		return
	}

	warped, origin := warp(src, m)
	ctx.DrawImageEx(gg.ImageBufFromImage(warped), gg.DrawImageOptions{
		X:       float64(origin.X),
		Y:       float64(origin.Y),
		Opacity: rect.Opacity,
	})
}

// warp resamples src through an arbitrary affine matrix and returns the
// result together with its top-left position in output space.
func warp(src *image.NRGBA, m gg.Matrix) (*image.NRGBA, image.Point) {
	w := float64(src.Rect.Dx())
	h := float64(src.Rect.Dy())
	corners := []gg.Point{
		m.TransformPoint(gg.Pt(0, 0)),
		m.TransformPoint(gg.Pt(w, 0)),
		m.TransformPoint(gg.Pt(0, h)),
		m.TransformPoint(gg.Pt(w, h)),
	}
	minX, minY := corners[0].X, corners[0].Y
	maxX, maxY := minX, minY
	for _, c := range corners[1:] {
		minX = math.Min(minX, c.X)
		minY = math.Min(minY, c.Y)
		maxX = math.Max(maxX, c.X)
		maxY = math.Max(maxY, c.Y)
	}
	ox := int(math.Floor(minX))
	oy := int(math.Floor(minY))
	dst := image.NewNRGBA(image.Rect(0, 0, int(math.Ceil(maxX))-ox, int(math.Ceil(maxY))-oy))

	aff := f64.Aff3{
		m.A, m.B, m.C - float64(ox),
		m.D, m.E, m.F - float64(oy),
	}
	xdraw.BiLinear.Transform(dst, aff, src, src.Bounds(), xdraw.Over, nil)
	return dst, image.Pt(ox, oy)
}
