package enrich

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/postsync/internal/ingest"
	"github.com/JakeFAU/postsync/internal/metrics"
)

// BackfillSummary counts what a Backfill pass did.
type BackfillSummary struct {
	Scanned  int `json:"scanned"`
	Attached int `json:"attached"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Backfill enriches stored posts that have no media reference yet. Media is
// attached through the classifier, which creates the record only when absent
// and merges the reference into the post. Per-post failures are logged and
// counted; only listing failures and cancellation abort the pass.
func (e *Enricher) Backfill(ctx context.Context, store ingest.PostUpdater, limit, concurrency int) (BackfillSummary, error) {
	posts, err := store.PostsMissingMedia(ctx, limit)
	if err != nil {
		return BackfillSummary{}, fmt.Errorf("list posts missing media: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	var attached, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, sp := range posts {
		g.Go(func() error {
			ok, err := e.backfillOne(gctx, store, sp)
			switch {
			case err != nil && gctx.Err() != nil:
				return gctx.Err()
			case err != nil:
				failed.Add(1)
				metrics.ObserveEnrichFailure(string(sp.Source))
				e.logger.Warn("backfill failed", zap.String("post", sp.ID), zap.String("url", sp.URL), zap.Error(err))
			case ok:
				attached.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	summary := BackfillSummary{
		Scanned:  len(posts),
		Attached: int(attached.Load()),
		Skipped:  int(skipped.Load()),
		Failed:   int(failed.Load()),
	}
	if err != nil {
		return summary, fmt.Errorf("backfill: %w", err)
	}
	e.logger.Info("backfill finished",
		zap.Int("scanned", summary.Scanned),
		zap.Int("attached", summary.Attached),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (e *Enricher) backfillOne(ctx context.Context, store ingest.PostUpdater, sp ingest.StoredPost) (bool, error) {
	profile, err := ProfileFor(sp.Source)
	if err != nil {
		return false, err
	}
	// Inline embeds are only known at crawl time.
	if profile.Inline {
		return false, nil
	}
	embed, date, err := e.resolve(ctx, sp.Source, sp.URL, "")
	if err != nil {
		return false, err
	}
	if date.set {
		if err := store.SetPostDate(ctx, sp.ID, date.value); err != nil {
			return false, fmt.Errorf("set date on post %s: %w", sp.ID, err)
		}
	}
	rec, err := e.classifier.Attach(ctx, store, sp.ID, embed)
	if err != nil {
		return false, fmt.Errorf("attach media to post %s: %w", sp.ID, err)
	}
	return rec != nil, nil
}
