package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// CheckBatch checks every text against one registry snapshot with at most
// limit reports in flight. Results keep input order. Cancellation stops the
// batch as a whole; there are no partial results.
func CheckBatch(ctx context.Context, checker *Checker, texts []string, at time.Time, limit int) ([]Result, error) {
	snap := checker.store.Current()
	if snap == nil {
		return nil, ErrNoRegistry
	}
	if limit < 1 {
		limit = 1
	}
	if at.IsZero() {
		at = checker.Now()
	}

	results := make([]Result, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, text := range texts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = checker.checkSnapshot(snap, text, at)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
