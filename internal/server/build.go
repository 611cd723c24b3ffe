package server

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/postsync/internal/clock/system"
	"github.com/JakeFAU/postsync/internal/config"
	"github.com/JakeFAU/postsync/internal/crawl"
	"github.com/JakeFAU/postsync/internal/enrich"
	collyfetcher "github.com/JakeFAU/postsync/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/postsync/internal/fetcher/headless"
	"github.com/JakeFAU/postsync/internal/hash/sha256"
	"github.com/JakeFAU/postsync/internal/id/uuid"
	"github.com/JakeFAU/postsync/internal/ingest"
	"github.com/JakeFAU/postsync/internal/logging"
	"github.com/JakeFAU/postsync/internal/media"
	"github.com/JakeFAU/postsync/internal/orchestrator"
	"github.com/JakeFAU/postsync/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/postsync/internal/publisher/pubsub"
	"github.com/JakeFAU/postsync/internal/scrape"
	gcsstorage "github.com/JakeFAU/postsync/internal/storage/gcs"
	localstorage "github.com/JakeFAU/postsync/internal/storage/local"
	memorystorage "github.com/JakeFAU/postsync/internal/storage/memory"
	pgstore "github.com/JakeFAU/postsync/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/postsync/internal/storage/sqlite"
)

// Build creates the application's dependencies. On error everything built
// so far is closed.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := newApp(cfg, logger)
	if err := app.build(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	a.logger.Info("building application dependencies")

	store, err := a.setupStore(ctx)
	if err != nil {
		return err
	}
	a.store = store

	scraper, err := a.setupScraper()
	if err != nil {
		return err
	}

	hasher := sha256.New()
	classifier := media.NewClassifier(hasher, nil, a.logger.Named("media"))
	a.enricher = enrich.New(scraper, classifier, a.logger.Named("enrich"))

	crawlers, err := crawl.Roster(a.cfg.Sources.Enabled, a.cfg.Sources.Crawlers, scraper, a.logger.Named("crawl"))
	if err != nil {
		return fmt.Errorf("crawler roster: %w", err)
	}
	if len(crawlers) == 0 {
		a.logger.Warn("no crawlers enabled; runs will only advance the checkpoint")
	}

	archive, err := a.setupArchive(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}

	policy, err := orchestrator.ParseOnError(a.cfg.Enrich.OnError)
	if err != nil {
		return fmt.Errorf("enrichment policy: %w", err)
	}
	ids := uuid.New()
	clock := system.New()
	a.runner = orchestrator.New(
		crawlers,
		a.enricher,
		ingest.NewBatcher(hasher, ids, clock, a.logger.Named("ingest")),
		archive,
		publisher,
		ids,
		clock,
		orchestrator.Config{
			Concurrency:   a.cfg.Enrich.Concurrency,
			OnError:       policy,
			ArchivePrefix: a.cfg.Archive.Prefix,
			Topic:         a.cfg.PubSub.TopicName,
		},
		a.logger.Named("orchestrator"),
	)
	return nil
}

func (a *App) setupStore(ctx context.Context) (ingest.DocumentStore, error) {
	var store ingest.DocumentStore
	switch a.cfg.Store.Driver {
	case "postgres":
		a.logger.Info("using postgres document store")
		pg, err := pgstore.Open(ctx, pgstore.Config{
			DSN:             a.cfg.Store.DSN,
			MaxConns:        a.cfg.Store.MaxConns,
			MinConns:        a.cfg.Store.MinConns,
			MaxConnLifetime: a.cfg.Store.MaxConnLifetime,
		}, a.logger.Named("postgres"))
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		store = pg
	case "sqlite":
		a.logger.Info("using sqlite document store", zap.String("path", a.cfg.Store.Path))
		lite, err := sqlitestore.Open(ctx, a.cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		store = lite
	default:
		a.logger.Warn("using in-memory document store; data is lost on exit")
		store = memorystorage.NewDocStore()
	}
	a.onClose("document store", store.Close)
	return store, nil
}

func (a *App) setupScraper() (*scrape.Scraper, error) {
	hostRates := make(map[string]float64, len(a.cfg.Scrape.HostRates))
	for _, hr := range a.cfg.Scrape.HostRates {
		hostRates[hr.Host] = hr.RPS
	}
	opts := []scrape.Option{
		scrape.WithLimiter(ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.Scrape.RatePerHost,
			DefaultBurst: a.cfg.Scrape.Burst,
			HostRPS:      hostRates,
		})),
		scrape.WithLogger(a.logger.Named("scrape")),
	}
	if a.cfg.Headless.Enabled {
		hf, err := headlessfetcher.New(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Scrape.UserAgent,
			NavigationTimeout: a.cfg.NavTimeout(),
			SettleDelay:       a.cfg.SettleDelay(),
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.onClose("headless fetcher", hf.Close)
		opts = append(opts, scrape.WithHeadless(hf))
		a.logger.Info("headless promotion enabled", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	}
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Scrape.UserAgent,
		RespectRobots: a.cfg.Scrape.RespectRobots,
		Timeout:       a.cfg.ScrapeTimeout(),
	})
	return scrape.New(static, opts...), nil
}

func (a *App) setupArchive(ctx context.Context) (ingest.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case "gcs":
		a.logger.Info("archiving run reports to GCS", zap.String("bucket", a.cfg.Archive.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.onClose("gcs client", client.Close)
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Archive.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case "local":
		a.logger.Info("archiving run reports locally", zap.String("path", a.cfg.Archive.BaseDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	case "memory":
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Debug("run report archive disabled")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (ingest.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured; run notifications disabled")
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	publisher, err := gcppublisher.New(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.onClose("pubsub publisher", publisher.Close)
	a.logger.Info("publishing run notifications", zap.String("topic", a.cfg.PubSub.TopicName))
	return publisher, nil
}
