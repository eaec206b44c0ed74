// Package runner executes work items with bounded concurrency while keeping
// results aligned with their inputs.
package runner

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Factory produces one result. Factories that want partial failure tolerance
// must recover their own errors; a returned error aborts the whole run.
type Factory[T any] func(ctx context.Context) (T, error)

// Run executes factories with at most limit in flight. results[i] is always the
// outcome of factories[i], whatever order they complete in.
func Run[T any](ctx context.Context, factories []Factory[T], limit int) ([]T, error) {
	results := make([]T, len(factories))
	if len(factories) == 0 {
		return results, nil
	}
	if limit < 1 {
		limit = 1
	}
	workers := min(limit, len(factories))

	var next atomic.Int64
	eg, egCtx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		eg.Go(func() error {
			for {
				i := int(next.Add(1) - 1)
				if i >= len(factories) {
					return nil
				}
				if err := egCtx.Err(); err != nil {
					return err
				}
				res, err := factories[i](egCtx)
				if err != nil {
					return err
				}
				results[i] = res
			}
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
