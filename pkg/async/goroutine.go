package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/cohort/pkg/observability"
)

// SafeGo executes fn in a goroutine with panic recovery, a timeout and error
// logging. The parent's values are kept but its cancellation is not, so
// work started from a request handler outlives the request.
//
// Example:
//
//	async.SafeGo(r.Context(), logger, 5*time.Second, "notify mentor", func(ctx context.Context) error {
//	    return relay.Publish(ctx, group, event)
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			observability.FromContext(ctx, logger).
				WithError(err).
				WithField("task", taskName).
				Warn("background task failed")
		}
	}()
}

// Batch runs fn over items with at most workers concurrent calls, each with
// its own timeout. It waits for every item and returns all errors; one
// failing item does not stop the others.
//
// Example:
//
//	errs := async.Batch(ctx, users, 4, "link accounts", 10*time.Second, func(ctx context.Context, u User) error {
//	    return linker.Link(ctx, u)
//	})
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {
	if workers < 1 {
		workers = 1
	}

	var g errgroup.Group
	g.SetLimit(workers)

	var mu sync.Mutex
	var errs []error
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for _, item := range items {
		if ctx.Err() != nil {
			record(fmt.Errorf("%s: %w", taskName, ctx.Err()))
			break
		}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					record(fmt.Errorf("%s: %w", taskName, observability.MustRecover(r)))
				}
			}()
			itemCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := fn(itemCtx, item); err != nil {
				record(err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
