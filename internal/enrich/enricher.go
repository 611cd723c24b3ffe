// Package enrich completes crawled posts with their embedded media and
// publication date by scraping each post's own page.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/postsync/internal/ingest"
	"github.com/JakeFAU/postsync/internal/scrape"
)

const (
	fieldEmbed = "embed"
	fieldDate  = "date"
)

// PageScraper extracts fields from a single page.
type PageScraper interface {
	Scrape(ctx context.Context, rawURL string, spec scrape.Spec) (scrape.Result, error)
}

// Classifier turns embed URLs into media records.
type Classifier interface {
	Classify(rawURL string) (*ingest.MediaRecord, error)
	Attach(ctx context.Context, w ingest.MediaWriter, postID, rawURL string) (*ingest.MediaRecord, error)
}

// Enricher implements ingest.Enricher.
type Enricher struct {
	scraper    PageScraper
	classifier Classifier
	logger     *zap.Logger
}

var _ ingest.Enricher = (*Enricher)(nil)

// New builds an Enricher.
func New(scraper PageScraper, classifier Classifier, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		scraper:    scraper,
		classifier: classifier,
		logger:     logger,
	}
}

// Enrich sets post.Media (and post.Date for sources with a date rule). The
// classification finishes before Enrich returns.
func (e *Enricher) Enrich(ctx context.Context, post *ingest.Post) error {
	embed, date, err := e.resolve(ctx, post.Source, post.URL, post.EmbedURL)
	if err != nil {
		return err
	}
	if date.set {
		post.Date = date.value
	}
	post.EmbedURL = embed
	rec, err := e.classifier.Classify(embed)
	if err != nil {
		return fmt.Errorf("enrich %s post %s: %w", post.Source, post.URL, err)
	}
	post.Media = rec
	return nil
}

type resolvedDate struct {
	set   bool
	value *time.Time
}

// resolve returns the post's embed URL and, when the source has a date
// rule, its page date.
func (e *Enricher) resolve(ctx context.Context, src ingest.Source, rawURL, inlineEmbed string) (string, resolvedDate, error) {
	profile, err := ProfileFor(src)
	if err != nil {
		return "", resolvedDate{}, fmt.Errorf("enrich post %s: %w", rawURL, err)
	}
	if profile.Inline {
		return inlineEmbed, resolvedDate{}, nil
	}

	spec := scrape.Spec{fieldEmbed: profile.Embed}
	if profile.Date != nil {
		spec[fieldDate] = profile.Date.Rule
	}
	res, err := e.scraper.Scrape(ctx, rawURL, spec)
	if err != nil {
		if errors.Is(err, scrape.ErrMissingField) && !errors.Is(err, ErrEmbedNotFound) {
			err = fmt.Errorf("%w: %w", ErrEmbedNotFound, err)
		}
		return "", resolvedDate{}, fmt.Errorf("enrich %s post %s: %w", src, rawURL, err)
	}

	var date resolvedDate
	if profile.Date != nil {
		parsed, err := profile.Date.Parse(res.Get(fieldDate))
		if err != nil {
			return "", resolvedDate{}, fmt.Errorf("enrich %s post %s: %w", src, rawURL, err)
		}
		date = resolvedDate{set: true, value: parsed}
	}
	embed := res.Get(fieldEmbed)
	if embed == "" {
		e.logger.Debug("post page has no embed", zap.String("source", string(src)), zap.String("url", rawURL))
	}
	return embed, date, nil
}
