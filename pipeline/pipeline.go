// Package pipeline implements the bounded, staged FIFO pipeline
// described in §4.1: N numbered stages, each a mutex+condvar-guarded
// deque, ownership-transferring queue/dequeue, and a routing function
// that decides where an item goes next after a stage finishes with it.
//
// Per the design note in §9, builder and sender do not derive from a
// shared base class; instead they construct a Pipeline value with their
// own RouteFunc.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package pipeline

import "sync"

// RouteFunc decides, after a producer finishes with an item taken from
// (or newly admitted into) `fromStage`, which stage it is queued into
// next. It is evaluated by the caller of Queue with the stage the item
// was produced at.
type RouteFunc func(fromStage int, item any) int

// Pipeline is a fixed number of FIFO stages plus the routing function
// used to move items between them. It is a plain value, not a class
// hierarchy: callers parameterize behavior via Route.
type Pipeline struct {
	stages []*stageQueue
	Route  RouteFunc
}

// New creates a pipeline with n numbered stages [0, n).
func New(n int, route RouteFunc) *Pipeline {
	p := &Pipeline{stages: make([]*stageQueue, n), Route: route}
	for i := range p.stages {
		p.stages[i] = newStageQueue()
	}
	return p
}

// Queue transfers ownership of item into stage's FIFO. Never blocks.
func (p *Pipeline) Queue(stage int, item any) {
	p.stages[stage].push(item)
}

// Dequeue blocks until an item is available on stage or the pipeline is
// stopped, in which case ok is false.
func (p *Pipeline) Dequeue(stage int) (item any, ok bool) {
	return p.stages[stage].pop()
}

// TryPop is the non-blocking variant used by the drop policy (§4.3): it
// returns ok=false immediately if the stage is empty.
func (p *Pipeline) TryPop(stage int) (item any, ok bool) {
	return p.stages[stage].tryPop()
}

// Size returns the current number of items queued at stage.
func (p *Pipeline) Size(stage int) int { return p.stages[stage].size() }

// TotalSize sums Size across every stage - used for observability.
func (p *Pipeline) TotalSize() int {
	total := 0
	for _, s := range p.stages {
		total += s.size()
	}
	return total
}

// Stop unblocks every waiting Dequeue; subsequent Dequeue calls drain
// whatever remains queued and then return ok=false.
func (p *Pipeline) Stop() {
	for _, s := range p.stages {
		s.stop()
	}
}

// NumStages returns how many stages this pipeline has.
func (p *Pipeline) NumStages() int { return len(p.stages) }

// stageQueue is a single stage's FIFO: a mutex+condvar-guarded deque,
// matching §5's "mutex + condition variable per stage" concurrency note.
type stageQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []any
	stopped bool
}

func newStageQueue() *stageQueue {
	q := &stageQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *stageQueue) push(item any) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *stageQueue) pop() (any, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.stopped {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

func (q *stageQueue) tryPop() (any, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

func (q *stageQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *stageQueue) stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
