// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package fence

import "sync"

// Queue runs tasks strictly in submission order, each gated on its own
// set of acquire fences. A later task never runs before an earlier one,
// even if the later task's fences signal first.
//
// When the queue is idle and a task's fences are all already signaled
// (in particular, when it has none), the task runs synchronously inside
// QueueTask. Otherwise a single worker goroutine drains the queue as
// fences fire.
//
// Cancel drops every pending task without running it; tasks already
// started are unaffected. A canceled queue ignores further submissions.
type Queue struct {
	mu       sync.Mutex
	pending  []queueTask
	draining bool
	canceled bool
	cancel   chan struct{}
}

type queueTask struct {
	run    func()
	fences []*Fence
}

// NewQueue creates an empty task queue.
func NewQueue() *Queue {
	return &Queue{cancel: make(chan struct{})}
}

// QueueTask submits a task gated on the given fences. The fast path runs
// the task inline when nothing is pending and every fence has signaled.
func (q *Queue) QueueTask(run func(), fences []*Fence) {
	q.mu.Lock()
	if q.canceled {
		q.mu.Unlock()
		return
	}
	if !q.draining && len(q.pending) == 0 && allSignaled(fences) {
		q.mu.Unlock()
		run()
		return
	}
	q.pending = append(q.pending, queueTask{run: run, fences: fences})
	if !q.draining {
		q.draining = true
		go q.drain()
	}
	q.mu.Unlock()
}

// Cancel drops all pending tasks and marks the queue dead. Pending fence
// waits are abandoned without running their tasks.
func (q *Queue) Cancel() {
	q.mu.Lock()
	if !q.canceled {
		q.canceled = true
		q.pending = nil
		close(q.cancel)
	}
	q.mu.Unlock()
}

// Pending returns the number of tasks waiting to run.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if q.canceled || len(q.pending) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		task := q.pending[0]
		q.mu.Unlock()

		for _, f := range task.fences {
			select {
			case <-f.Done():
			case <-q.cancel:
				return
			}
		}

		q.mu.Lock()
		if q.canceled {
			q.mu.Unlock()
			return
		}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		task.run()
	}
}
