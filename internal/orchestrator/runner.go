// Package orchestrator runs one sync: crawl every source, enrich the posts,
// then hand them to the batcher as a single write-set.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/postsync/internal/ingest"
	"github.com/JakeFAU/postsync/internal/metrics"
)

// ErrRunInProgress is returned when Run is called while another run on the
// same Runner is active.
var ErrRunInProgress = errors.New("sync run already in progress")

// OnError selects what happens to a post whose enrichment failed.
type OnError string

// Enrichment failure policies.
const (
	OnErrorAbort OnError = "abort"
	OnErrorKeep  OnError = "keep"
	OnErrorDrop  OnError = "drop"
)

// ParseOnError validates a policy name. An empty name selects abort.
func ParseOnError(s string) (OnError, error) {
	switch p := OnError(s); p {
	case "":
		return OnErrorAbort, nil
	case OnErrorAbort, OnErrorKeep, OnErrorDrop:
		return p, nil
	default:
		return "", fmt.Errorf("unknown enrichment failure policy %q", s)
	}
}

// Submitter commits crawl results.
type Submitter interface {
	Submit(ctx context.Context, results []ingest.SourceResult, store ingest.Store) (ingest.Summary, error)
}

// Config controls Runner behavior.
type Config struct {
	Concurrency   int
	OnError       OnError
	ArchivePrefix string
	Topic         string
}

// Runner executes sync runs, one at a time.
type Runner struct {
	crawlers  []ingest.Crawler
	enricher  ingest.Enricher
	submitter Submitter
	archive   ingest.BlobStore
	publisher ingest.Publisher
	ids       ingest.IDGenerator
	clock     ingest.Clock
	cfg       Config
	logger    *zap.Logger

	running atomic.Bool
	mu      sync.RWMutex
	last    *Report
}

// New constructs a Runner. archive and publisher may be nil.
func New(
	crawlers []ingest.Crawler,
	enricher ingest.Enricher,
	submitter Submitter,
	archive ingest.BlobStore,
	publisher ingest.Publisher,
	ids ingest.IDGenerator,
	clock ingest.Clock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.OnError == "" {
		cfg.OnError = OnErrorAbort
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "runs"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		crawlers:  crawlers,
		enricher:  enricher,
		submitter: submitter,
		archive:   archive,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Running reports whether a run is active.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Last returns the report of the most recent finished run.
func (r *Runner) Last() (Report, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return Report{}, false
	}
	return *r.last, true
}

// Run performs one sync against store. Crawlers run concurrently and any
// failure aborts the run before enrichment. Posts are then enriched
// concurrently and submitted as one write-set. The report is archived and
// announced only after a successful commit; failures there are logged.
func (r *Runner) Run(ctx context.Context, store ingest.Store) (Report, error) {
	if !r.running.CompareAndSwap(false, true) {
		return Report{}, ErrRunInProgress
	}
	defer r.running.Store(false)

	report := Report{StartedAt: r.clock.Now()}
	runID, err := r.ids.NewID()
	if err != nil {
		return report, fmt.Errorf("allocate run id: %w", err)
	}
	report.RunID = runID
	logger := r.logger.With(zap.String("run_id", runID))
	logger.Info("sync run started", zap.Int("crawlers", len(r.crawlers)))

	err = r.execute(ctx, store, &report, logger)
	report.FinishedAt = r.clock.Now()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)
	if err != nil {
		report.Status = StatusFailed
		report.Error = err.Error()
		metrics.ObserveRun(StatusFailed, report.Duration)
		logger.Error("sync run failed", zap.Error(err))
		r.remember(report)
		return report, err
	}

	report.Status = StatusSucceeded
	metrics.ObserveRun(StatusSucceeded, report.Duration)
	r.announce(ctx, &report, logger)
	r.remember(report)
	logger.Info("sync run finished",
		zap.Int("ingested", report.Summary.Ingested),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (r *Runner) execute(ctx context.Context, store ingest.Store, report *Report, logger *zap.Logger) error {
	results, err := r.crawl(ctx)
	if err != nil {
		return err
	}
	report.Sources = make([]SourceReport, len(results))
	for i, res := range results {
		report.Sources[i] = SourceReport{Crawler: res.Crawler, Source: res.Source, Crawled: len(res.Posts)}
		metrics.ObservePosts(string(res.Source), "crawled", len(res.Posts))
	}

	cutoff := r.cutoff(ctx, store, logger)
	results, err = r.enrich(ctx, results, cutoff, report.Sources, logger)
	if err != nil {
		return err
	}

	summary, err := r.submitter.Submit(ctx, results, store)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	report.Summary = &summary
	metrics.ObservePosts("all", "ingested", summary.Ingested)
	metrics.ObservePosts("all", "dropped_by_cutoff", summary.DroppedByCutoff)
	metrics.ObservePosts("all", "invalid", summary.Invalid)
	metrics.SetCheckpoint(summary.Checkpoint)
	return nil
}

func (r *Runner) crawl(ctx context.Context) ([]ingest.SourceResult, error) {
	results := make([]ingest.SourceResult, len(r.crawlers))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range r.crawlers {
		g.Go(func() error {
			posts, err := c.Crawl(gctx)
			if err != nil {
				return fmt.Errorf("crawler %s: %w", c.Name(), err)
			}
			results[i] = ingest.SourceResult{Crawler: c.Name(), Source: c.Source(), Posts: posts}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// cutoff returns the stored checkpoint, or nil when none exists or it cannot
// be read. The batcher reads it again before filtering.
func (r *Runner) cutoff(ctx context.Context, store ingest.Store, logger *zap.Logger) *time.Time {
	ts, ok, err := store.Checkpoint(ctx)
	if err != nil {
		logger.Warn("checkpoint read failed; enriching every post", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	return &ts
}

type outcome uint8

const (
	outcomeOK outcome = iota
	outcomeKept
	outcomeDropped
	outcomeStale
)

// enrich completes every post in place and applies the failure policy.
// Posts whose listing date is already before cutoff are passed through
// untouched; the batcher drops them. Under the drop policy failed posts are
// removed from the returned results.
func (r *Runner) enrich(
	ctx context.Context,
	results []ingest.SourceResult,
	cutoff *time.Time,
	sources []SourceReport,
	logger *zap.Logger,
) ([]ingest.SourceResult, error) {
	outcomes := make([][]outcome, len(results))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i := range results {
		outcomes[i] = make([]outcome, len(results[i].Posts))
		for j := range results[i].Posts {
			post := &results[i].Posts[j]
			if cutoff != nil && post.Date != nil && post.Date.Before(*cutoff) {
				outcomes[i][j] = outcomeStale
				continue
			}
			g.Go(func() error {
				err := r.enricher.Enrich(gctx, post)
				if err == nil {
					return nil
				}
				metrics.ObserveEnrichFailure(string(post.Source))
				switch r.cfg.OnError {
				case OnErrorKeep:
					logger.Warn("enrichment failed; keeping post without media",
						zap.String("url", post.URL), zap.Error(err))
					post.Media = nil
					outcomes[i][j] = outcomeKept
				case OnErrorDrop:
					logger.Warn("enrichment failed; dropping post",
						zap.String("url", post.URL), zap.Error(err))
					outcomes[i][j] = outcomeDropped
				default:
					return fmt.Errorf("enrich: %w", err)
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range results {
		kept := results[i].Posts[:0]
		for j, post := range results[i].Posts {
			switch outcomes[i][j] {
			case outcomeDropped:
				sources[i].Dropped++
				continue
			case outcomeKept:
				sources[i].KeptWithoutMedia++
			case outcomeStale:
				sources[i].Stale++
			}
			kept = append(kept, post)
		}
		results[i].Posts = kept
		metrics.ObservePosts(string(results[i].Source), "enrich_dropped", sources[i].Dropped)
		metrics.ObservePosts(string(results[i].Source), "enrich_kept", sources[i].KeptWithoutMedia)
	}
	return results, nil
}

func (r *Runner) announce(ctx context.Context, report *Report, logger *zap.Logger) {
	if r.archive != nil {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			logger.Warn("encode run report failed", zap.Error(err))
		} else {
			key := path.Join(r.cfg.ArchivePrefix, report.StartedAt.UTC().Format("2006/01/02"), report.RunID+".json")
			uri, err := r.archive.PutObject(ctx, key, "application/json", data)
			if err != nil {
				logger.Warn("archive run report failed", zap.String("path", key), zap.Error(err))
			} else {
				report.ArchiveURI = uri
			}
		}
	}
	if r.publisher == nil || r.cfg.Topic == "" {
		return
	}
	msg := Notification{
		RunID:      report.RunID,
		Status:     report.Status,
		Ingested:   report.Summary.Ingested,
		Checkpoint: report.Summary.Checkpoint,
		ArchiveURI: report.ArchiveURI,
	}
	id, err := r.publisher.Publish(ctx, r.cfg.Topic, msg)
	if err != nil {
		logger.Warn("publish run notification failed", zap.String("topic", r.cfg.Topic), zap.Error(err))
		return
	}
	report.MessageID = id
}

func (r *Runner) remember(report Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = &report
}
