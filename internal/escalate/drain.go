package escalate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DeusData/lg2jiuwen/internal/model"
)

// Drain closes queue, escalates every item with bounded concurrency and
// resolves each item exactly once, in ID order, after all have finished.
// Items whose escalation fails get the placeholder and an
// *model.EscalationFailure in the returned warnings. The error is non-nil
// only when the queue rejects a resolution or ctx is cancelled.
func Drain(ctx context.Context, queue *model.PendingQueue, esc *Escalator) ([]model.ConvertedNode, []error, error) {
	items := queue.Close()
	if len(items) == 0 {
		return nil, nil, nil
	}
	start := time.Now()

	results := make([]model.ConvertedNode, len(items))
	failures := make([]error, len(items))

	if !esc.Available() {
		for i, it := range items {
			results[i] = Placeholder(it)
			failures[i] = &model.EscalationFailure{ItemID: it.ID, Err: ErrNoClient}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(esc.concurrency)
		for i, it := range items {
			g.Go(func() error {
				node, err := esc.Escalate(gctx, it)
				if err != nil {
					esc.logger.Warn("escalate.fallback", "id", it.ID, "err", err)
					results[i] = Placeholder(it)
					failures[i] = &model.EscalationFailure{ItemID: it.ID, Err: err}
					return nil
				}
				results[i] = node
				return nil
			})
		}
		_ = g.Wait()
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("escalate: %w", err)
	}

	var warnings []error
	for i, it := range items {
		if err := queue.Resolve(it.ID, results[i]); err != nil {
			return nil, nil, fmt.Errorf("escalate: %w", err)
		}
		if failures[i] != nil {
			warnings = append(warnings, failures[i])
		}
	}

	slog.Info("escalate.done", "items", len(items),
		"fallbacks", len(warnings), "elapsed", time.Since(start))
	return results, warnings, nil
}

// IsDisabled reports whether err records escalation running without a model.
func IsDisabled(err error) bool {
	return errors.Is(err, ErrNoClient)
}
