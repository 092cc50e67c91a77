package scheduler

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunBounded calls fn for every item with at most width calls in flight.
// fn owns its failures; one item never cancels another. Items not yet started
// when ctx is done are skipped and ctx.Err() is returned.
func RunBounded[T any](ctx context.Context, width int, items []T, fn func(context.Context, T)) error {
	if width <= 0 {
		width = 1
	}
	var g errgroup.Group
	g.SetLimit(width)
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}
