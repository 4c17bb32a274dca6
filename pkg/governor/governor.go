// Package governor runs batches of independent upstream calls under a
// concurrency cap with a fixed pause between dispatches.
package governor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultInterval is the minimum spacing between two task dispatches.
const DefaultInterval = 100 * time.Millisecond

// Task is one unit of work submitted to the governor.
type Task[T any] func(ctx context.Context) (T, error)

// Result holds the outcome of the task submitted at the same index.
type Result[T any] struct {
	Value T
	Err   error
}

// OK reports whether the task completed without error.
func (r Result[T]) OK() bool {
	return r.Err == nil
}

// Observer receives dispatch notifications, e.g. for in-flight gauges.
type Observer interface {
	TaskStarted(governor string)
	TaskFinished(governor string, err error, duration time.Duration)
}

// Options configures a Governor.
type Options struct {
	Name     string
	Limit    int
	Interval time.Duration
	Observer Observer
}

// Governor bounds in-flight tasks and paces their dispatch.
type Governor struct {
	name     string
	limit    int
	interval time.Duration
	observer Observer
	sleep    func(time.Duration)
}

// New builds a governor. A non-positive limit is treated as 1 and a negative
// interval as no pacing.
func New(opts Options) *Governor {
	if opts.Limit <= 0 {
		opts.Limit = 1
	}
	if opts.Interval < 0 {
		opts.Interval = 0
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	return &Governor{
		name:     opts.Name,
		limit:    opts.Limit,
		interval: opts.Interval,
		observer: opts.Observer,
		sleep:    time.Sleep,
	}
}

// Name returns the label used for observation.
func (g *Governor) Name() string { return g.name }

// Limit returns the concurrency cap.
func (g *Governor) Limit() int { return g.limit }

// Run executes tasks with at most g.Limit() in flight and returns their
// results in input order. A failing task never cancels its siblings; every
// task runs to completion before Run returns.
func Run[T any](ctx context.Context, g *Governor, tasks []Task[T]) []Result[T] {
	results := make([]Result[T], len(tasks))
	if len(tasks) == 0 {
		return results
	}

	var eg errgroup.Group
	eg.SetLimit(g.limit)
	for i, task := range tasks {
		if i > 0 && g.interval > 0 {
			g.sleep(g.interval)
		}
		i, task := i, task
		eg.Go(func() error {
			results[i] = invoke(ctx, g, task)
			return nil
		})
	}
	_ = eg.Wait()

	return results
}

func invoke[T any](ctx context.Context, g *Governor, task Task[T]) (result Result[T]) {
	start := time.Now()
	if g.observer != nil {
		g.observer.TaskStarted(g.name)
	}
	defer func() {
		if rec := recover(); rec != nil {
			result = Result[T]{Err: fmt.Errorf("governor %s: task panicked: %v", g.name, rec)}
		}
		if g.observer != nil {
			g.observer.TaskFinished(g.name, result.Err, time.Since(start))
		}
	}()

	value, err := task(ctx)
	return Result[T]{Value: value, Err: err}
}
