// Package pool runs a homogeneous batch of work items on a fixed number of
// workers. One item failing, timing out or panicking never affects its
// siblings; callers read per-item results after the batch drains.
package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options configures one batch execution.
type Options struct {
	// Name labels progress logs.
	Name string
	// Size is the number of concurrent workers. Defaults to 1.
	Size int
	// ItemTimeout bounds each item. Zero means no per-item deadline.
	ItemTimeout time.Duration
	// ProgressEvery logs a progress line every N completed items. Zero disables it.
	ProgressEvery int
}

// Result is the outcome of one item.
type Result[T, R any] struct {
	Item     T
	Value    R
	Err      error
	Duration time.Duration
}

// Batch holds the results of a drained batch, in submission order.
type Batch[T, R any] struct {
	Results   []Result[T, R]
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// Run processes items with fn on opts.Size workers and blocks until every
// item has finished. Each worker writes only its own result slot.
func Run[T, R any](ctx context.Context, opts Options, items []T, fn func(ctx context.Context, item T) (R, error)) Batch[T, R] {
	size := opts.Size
	if size < 1 {
		size = 1
	}
	start := time.Now()
	results := make([]Result[T, R], len(items))

	var g errgroup.Group
	g.SetLimit(size)

	var done atomic.Int64
	total := len(items)

	for i, item := range items {
		g.Go(func() error {
			results[i] = runOne(ctx, opts.ItemTimeout, item, fn)

			n := done.Add(1)
			if opts.ProgressEvery > 0 && (n%int64(opts.ProgressEvery) == 0 || n == int64(total)) {
				zap.L().Info("pool: progress",
					zap.String("pool", opts.Name),
					zap.Int64("done", n),
					zap.Int("total", total),
				)
			}
			return nil // item errors live in results
		})
	}
	_ = g.Wait()

	batch := Batch[T, R]{Results: results, Duration: time.Since(start)}
	for _, r := range results {
		if r.Err != nil {
			batch.Failed++
		} else {
			batch.Succeeded++
		}
	}
	return batch
}

func runOne[T, R any](ctx context.Context, timeout time.Duration, item T, fn func(ctx context.Context, item T) (R, error)) (res Result[T, R]) {
	start := time.Now()
	res.Item = item

	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("pool: item panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			var zero R
			res.Value = zero
			res.Err = &PanicError{Value: r}
		}
		res.Duration = time.Since(start)
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	itemCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res.Value, res.Err = fn(itemCtx, item)
	return res
}

// PanicError reports a work item that panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("pool: item panicked: %v", e.Value)
}
