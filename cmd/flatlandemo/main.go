// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Command flatlandemo composes a two-session scene and writes it to a
// PNG: a parent session embeds a child session through a link, and the
// child shows an image cut from a shared buffer collection.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gogpu/gg"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/flatland"
	"github.com/gogpu/flatland/allocation"
	"github.com/gogpu/flatland/fence"
	"github.com/gogpu/flatland/link"
	"github.com/gogpu/flatland/render"
	"github.com/gogpu/flatland/scheduling"
	"github.com/gogpu/flatland/snapshot"
)

// immediateScheduler applies every update as soon as it is scheduled.
// Good enough for a one-frame demo; a real compositor drives this from
// vsync.
type immediateScheduler struct {
	manager *flatland.Manager
}

func (s *immediateScheduler) RegisterPresent(_ scheduling.SessionID, releaseFences []*fence.Fence) scheduling.PresentID {
	// Nothing outlives the single demo frame.
	for _, f := range releaseFences {
		f.Signal()
	}
	return scheduling.NextPresentID()
}

func (s *immediateScheduler) ScheduleUpdateForSession(_ time.Time, id scheduling.IDPair, _ bool) {
	s.manager.UpdateSessions(map[scheduling.SessionID]scheduling.PresentID{id.SessionID: id.PresentID})
	s.manager.OnCpuWorkDone()
}

func (s *immediateScheduler) GetFuturePresentationInfos(time.Duration) []scheduling.FuturePresentationInfo {
	now := time.Now()
	return []scheduling.FuturePresentationInfo{{LatchPoint: now, PresentationTime: now}}
}

func (s *immediateScheduler) RemoveSession(scheduling.SessionID) {}

func main() {
	out := flag.String("o", "flatlandemo.png", "output PNG path")
	size := flag.Int("size", 256, "output size in pixels")
	verbose := flag.Bool("v", false, "log composition details")
	flag.Parse()

	if *verbose {
		flatland.SetLogger(slog.Default())
	}
	if err := run(*out, *size); err != nil {
		fmt.Fprintln(os.Stderr, "flatlandemo:", err)
		os.Exit(1)
	}
}

func run(out string, size int) error {
	renderer := render.NewSoftware(size, size,
		render.WithBackground(gg.RGBA{R: 0.1, G: 0.1, B: 0.12, A: 1}))
	importers := []allocation.BufferCollectionImporter{renderer}

	uberSystem := snapshot.NewSystem()
	linkSystem := link.NewSystem()
	sched := &immediateScheduler{}
	manager := flatland.NewManager(sched, uberSystem, linkSystem, importers)
	sched.manager = manager
	engine := flatland.NewEngine(uberSystem, linkSystem, renderer)

	parent := manager.NewSession()
	child := manager.NewSession()
	engine.SetRootSession(parent)

	// The parent reserves a rotated, scaled region for the child.
	contentTok, graphTok := link.NewTokenPair()
	if err := firstErr(
		parent.CreateTransform(1),
		parent.SetRootTransform(1),
		parent.SetTranslation(1, gg.Pt(float64(size)/2, float64(size)/2)),
		parent.SetOrientation(1, flatland.OrientationCCW90Degrees),
		parent.SetScale(1, gg.Pt(1.5, 1.5)),
		parent.CreateLink(1, contentTok, flatland.LinkProperties{LogicalSize: gg.Pt(64, 64)}),
		parent.SetContent(1, 1),
	); err != nil {
		return err
	}
	if err := parent.Present(flatland.PresentArgs{}); err != nil {
		return err
	}

	// The child fills its region with a checkerboard image.
	parentEnd, err := child.LinkToParent(graphTok)
	if err != nil {
		return err
	}
	parentEnd.Graph.WatchLayout(func(l link.LayoutInfo) {
		fmt.Printf("child layout: %gx%g logical\n", l.LogicalSize.X, l.LogicalSize.Y)
	})

	collectionTok, err := registerCheckerboard(importers, 64)
	if err != nil {
		return err
	}
	defer collectionTok.Close()

	if err := firstErr(
		child.CreateTransform(1),
		child.SetRootTransform(1),
		child.SetTranslation(1, gg.Pt(-32, -32)),
		child.CreateImage(1, collectionTok, 0, flatland.ImageProperties{Width: 64, Height: 64}),
		child.SetContent(1, 1),
	); err != nil {
		return err
	}
	if err := child.Present(flatland.PresentArgs{}); err != nil {
		return err
	}

	img, err := engine.RenderFrame()
	if err != nil {
		return err
	}
	if err := gg.NewContextForImage(img).SavePNG(out); err != nil {
		return err
	}
	fmt.Println("wrote", out)
	return nil
}

// registerCheckerboard allocates a one-buffer collection holding a
// checkerboard pattern and returns its import token.
func registerCheckerboard(importers []allocation.BufferCollectionImporter, size int) (*allocation.ImportToken, error) {
	buf := make([]byte, size*size*4)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := (y*size + x) * 4
			if (x/8+y/8)%2 == 0 {
				buf[i], buf[i+1], buf[i+2] = 0xe8, 0x9c, 0x2c
			} else {
				buf[i], buf[i+1], buf[i+2] = 0x2c, 0x6e, 0xe8
			}
			buf[i+3] = 0xff
		}
	}

	a := allocation.NewAllocator(importers)
	export, tok := allocation.NewTokenPair()
	err := a.RegisterBufferCollection(export, &allocation.BufferCollectionInfo{
		Format:  gputypes.TextureFormatRGBA8Unorm,
		Width:   uint32(size),
		Height:  uint32(size),
		Buffers: [][]byte{buf},
	})
	if err != nil {
		return nil, err
	}
	return tok, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
