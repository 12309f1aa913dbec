// Package task runs groups of cooperating goroutines which share a
// cancellation Context, such as the accept and serve loops of a node.
package task

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Group is a set of described tasks which run concurrently and are waited
// on together. The first task to fail cancels the Group Context, and every
// task is expected to return promptly once that Context is Done.
// A Group is not itself safe for concurrent use.
type Group struct {
	ctx      context.Context
	cancelFn context.CancelFunc
	eg       *errgroup.Group
	tasks    []task
	started  bool
}

type task struct {
	desc string
	fn   func() error
}

// NewGroup returns an empty Group deriving from |ctx|.
func NewGroup(ctx context.Context) *Group {
	var cancel context.CancelFunc
	ctx, cancel = context.WithCancel(ctx)
	var eg, egCtx = errgroup.WithContext(ctx)
	return &Group{ctx: egCtx, cancelFn: cancel, eg: eg}
}

// Context of the Group. It's cancelled by a failed task, by Cancel,
// or by cancellation of the parent Context.
func (g *Group) Context() context.Context { return g.ctx }

// Cancel the Group Context.
func (g *Group) Cancel() { g.cancelFn() }

// Queue |fn| for execution, described by |desc| in a returned error.
// Queue panics if called after GoRun.
func (g *Group) Queue(desc string, fn func() error) {
	if g.started {
		panic("Queue called after GoRun")
	}
	g.tasks = append(g.tasks, task{desc: desc, fn: fn})
}

// GoRun starts all queued tasks. It may be called only once.
func (g *Group) GoRun() {
	if g.started {
		panic("GoRun already called")
	}
	g.started = true

	for _, t := range g.tasks {
		var t = t
		g.eg.Go(func() error { return errors.WithMessage(t.fn(), t.desc) })
	}
}

// Wait for all started tasks to return, and return the first error.
// Wait panics if GoRun wasn't called.
func (g *Group) Wait() error {
	if !g.started {
		panic("Wait called before GoRun")
	}
	var err = g.eg.Wait()
	g.cancelFn()
	return err
}
