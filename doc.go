// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package flatland is a multi-client 2D composition engine. Clients
// open sessions, build retained transform graphs with attached images,
// and commit changes transactionally with Present. Sessions embed each
// other's content through links negotiated over token pairs, without
// ever learning who is on the other side. A render loop flattens the
// published per-session scenes into one global scene and draws it.
//
// The package splits into layers:
//
//   - graph: per-session transform topology
//   - snapshot: immutable published scene state
//   - link: cross-session content embedding
//   - allocation: shared pixel buffer lifecycle
//   - scheduling: session and present identity, frame scheduler seam
//   - fence: one-shot events and fence-gated task queues
//   - compose: global scene flattening
//   - render: frame output
//
// This root package ties them together with Session, Manager, and
// Engine.
package flatland
