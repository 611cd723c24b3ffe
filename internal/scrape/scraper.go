package scrape

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/postsync/internal/metrics"
)

// Scraper fetches pages with a static fetcher, promotes to a headless
// fetcher when required fields are missing, and extracts fields with goquery.
type Scraper struct {
	static   Fetcher
	headless Fetcher
	limiter  Limiter
	headers  http.Header
	logger   *zap.Logger
}

// Option customizes a Scraper.
type Option func(*Scraper)

// WithHeadless sets the fetcher used to re-fetch pages that need rendering.
func WithHeadless(f Fetcher) Option {
	return func(s *Scraper) { s.headless = f }
}

// WithLimiter throttles every fetch through l.
func WithLimiter(l Limiter) Option {
	return func(s *Scraper) { s.limiter = l }
}

// WithHeaders adds headers to every request.
func WithHeaders(h http.Header) Option {
	return func(s *Scraper) { s.headers = h.Clone() }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scraper) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds a Scraper around the static fetcher.
func New(static Fetcher, opts ...Option) *Scraper {
	s := &Scraper{
		static: static,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scrape fetches rawURL and extracts spec from the whole document.
func (s *Scraper) Scrape(ctx context.Context, rawURL string, spec Spec) (Result, error) {
	page, err := s.load(ctx, rawURL, s.static)
	if err != nil {
		return nil, err
	}
	res, missing, err := extract(page.doc.Selection, page.base, spec)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", rawURL, err)
	}
	if len(missing) > 0 && s.canPromote(page) {
		s.logger.Debug("required fields missing; re-fetching rendered page",
			zap.String("url", rawURL), zap.Strings("fields", missing))
		page, err = s.load(ctx, rawURL, s.headless)
		if err != nil {
			return nil, err
		}
		res, missing, err = extract(page.doc.Selection, page.base, spec)
		if err != nil {
			return nil, fmt.Errorf("scrape %s: %w", rawURL, err)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("scrape %s: %w: %s", rawURL, ErrMissingField, strings.Join(missing, ", "))
	}
	return res, nil
}

// ScrapeList fetches rawURL and extracts spec relative to every element
// matching itemSelector, in document order. Items missing a required field
// or failing conversion are skipped.
func (s *Scraper) ScrapeList(ctx context.Context, rawURL, itemSelector string, spec Spec) ([]Result, error) {
	page, err := s.load(ctx, rawURL, s.static)
	if err != nil {
		return nil, err
	}
	items := page.doc.Find(itemSelector)
	if items.Length() == 0 && s.canPromote(page) {
		s.logger.Debug("listing empty; re-fetching rendered page", zap.String("url", rawURL))
		page, err = s.load(ctx, rawURL, s.headless)
		if err != nil {
			return nil, err
		}
		items = page.doc.Find(itemSelector)
	}

	out := make([]Result, 0, items.Length())
	items.Each(func(i int, item *goquery.Selection) {
		res, missing, err := extract(item, page.base, spec)
		switch {
		case err != nil:
			s.logger.Warn("skipping listing item", zap.String("url", rawURL), zap.Int("index", i), zap.Error(err))
		case len(missing) > 0:
			s.logger.Debug("skipping incomplete listing item",
				zap.String("url", rawURL), zap.Int("index", i), zap.Strings("missing", missing))
		default:
			out = append(out, res)
		}
	})
	return out, nil
}

type page struct {
	doc          *goquery.Document
	base         *url.URL
	usedHeadless bool
}

func (s *Scraper) canPromote(p page) bool {
	return s.headless != nil && !p.usedHeadless
}

func (s *Scraper) load(ctx context.Context, rawURL string, f Fetcher) (page, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, rawURL); err != nil {
			return page{}, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
	}
	resp, err := f.Fetch(ctx, FetchRequest{URL: rawURL, Headers: s.headers})
	fetcher := "static"
	if f == s.headless {
		fetcher = "headless"
	}
	if err != nil {
		metrics.ObserveFetch(rawURL, fetcher, "error", 0)
		return page{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	metrics.ObserveFetch(rawURL, fetcher, strconv.Itoa(resp.StatusCode), len(resp.Body))
	if resp.StatusCode >= http.StatusBadRequest {
		return page{}, fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return page{}, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	final := resp.URL
	if final == "" {
		final = rawURL
	}
	// A nil base leaves relative values unresolved.
	base, _ := url.Parse(final)
	return page{doc: doc, base: base, usedHeadless: resp.UsedHeadless || f == s.headless}, nil
}
