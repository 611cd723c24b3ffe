// Package crawl turns configured listing pages into normalized posts.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/postsync/internal/ingest"
	"github.com/JakeFAU/postsync/internal/metrics"
	"github.com/JakeFAU/postsync/internal/scrape"
)

const (
	fieldTitle   = "title"
	fieldURL     = "url"
	fieldArtists = "artists"
	fieldDate    = "date"
	fieldEmbed   = "embed"
	fieldType    = "type"
)

// ErrInvalidDefinition is returned for listing definitions that cannot be
// crawled.
var ErrInvalidDefinition = errors.New("invalid listing definition")

// Field selects one value inside a listing item. An empty Attr selects the
// element's text.
type Field struct {
	Selector string `mapstructure:"selector"`
	Attr     string `mapstructure:"attr"`
}

func (f Field) empty() bool {
	return f.Selector == "" && f.Attr == ""
}

// Definition describes one listing page and how to read its items.
type Definition struct {
	Source  ingest.Source `mapstructure:"source"`
	URL     string        `mapstructure:"url"`
	Item    string        `mapstructure:"item"`
	Type    string        `mapstructure:"type"`
	Title   Field         `mapstructure:"title"`
	Link    Field         `mapstructure:"link"`
	Artists Field         `mapstructure:"artists"`
	Date    Field         `mapstructure:"date"`
	Embed   Field         `mapstructure:"embed"`
	Kind    Field         `mapstructure:"kind"`

	// ArtistSeparator splits the artists field into credits.
	ArtistSeparator string `mapstructure:"artist_separator"`
	// TitleSeparator splits "Artist - Title" headings when the item has no
	// separate artists field.
	TitleSeparator string `mapstructure:"title_separator"`
	DateLayout     string `mapstructure:"date_layout"`
}

// Validate checks the definition for the fields every listing needs.
func (d Definition) Validate() error {
	var problems []string
	switch d.Source {
	case ingest.SourceBleep, ingest.SourceGVB, ingest.SourcePitchfork, ingest.SourceStereogum:
	default:
		problems = append(problems, fmt.Sprintf("unknown source %q", d.Source))
	}
	if d.URL == "" {
		problems = append(problems, "url is required")
	}
	if d.Item == "" {
		problems = append(problems, "item selector is required")
	}
	if d.Title.empty() {
		problems = append(problems, "title field is required")
	}
	if d.Link.empty() {
		problems = append(problems, "link field is required")
	}
	if d.Artists.empty() && d.TitleSeparator == "" {
		problems = append(problems, "artists field or title_separator is required")
	}
	if d.Kind.empty() {
		if _, ok := ingest.PostType(d.Type).WorkKind(); !ok {
			problems = append(problems, fmt.Sprintf("type must be album or track, got %q", d.Type))
		}
	}
	if !d.Date.empty() && d.DateLayout == "" {
		problems = append(problems, "date_layout is required with a date field")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDefinition, strings.Join(problems, "; "))
	}
	return nil
}

func (d Definition) spec() scrape.Spec {
	spec := scrape.Spec{
		fieldTitle: {Selector: d.Title.Selector, Attr: d.Title.Attr, Required: true},
		fieldURL:   {Selector: d.Link.Selector, Attr: d.Link.Attr, Required: true, Resolve: true},
	}
	if !d.Artists.empty() {
		spec[fieldArtists] = scrape.Rule{Selector: d.Artists.Selector, Attr: d.Artists.Attr, Required: true}
	}
	if !d.Date.empty() {
		spec[fieldDate] = scrape.Rule{Selector: d.Date.Selector, Attr: d.Date.Attr}
	}
	if !d.Embed.empty() {
		spec[fieldEmbed] = scrape.Rule{Selector: d.Embed.Selector, Attr: d.Embed.Attr, Resolve: true}
	}
	if !d.Kind.empty() {
		spec[fieldType] = scrape.Rule{Selector: d.Kind.Selector, Attr: d.Kind.Attr}
	}
	return spec
}

// ListScraper extracts repeated items from a listing page.
type ListScraper interface {
	ScrapeList(ctx context.Context, rawURL, itemSelector string, spec scrape.Spec) ([]scrape.Result, error)
}

// ListingCrawler implements ingest.Crawler for one listing page.
type ListingCrawler struct {
	name    string
	def     Definition
	scraper ListScraper
	logger  *zap.Logger
}

var _ ingest.Crawler = (*ListingCrawler)(nil)

// NewListingCrawler validates def and returns a crawler for it.
func NewListingCrawler(name string, def Definition, scraper ListScraper, logger *zap.Logger) (*ListingCrawler, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("crawler %s: %w", name, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListingCrawler{
		name:    name,
		def:     def,
		scraper: scraper,
		logger:  logger.With(zap.String("crawler", name)),
	}, nil
}

// Name returns the crawler's roster name.
func (c *ListingCrawler) Name() string { return c.name }

// Source returns the source the crawler's posts belong to.
func (c *ListingCrawler) Source() ingest.Source { return c.def.Source }

// Crawl scrapes the listing and normalizes every usable item, in page
// order.
func (c *ListingCrawler) Crawl(ctx context.Context) ([]ingest.Post, error) {
	start := time.Now()
	items, err := c.scraper.ScrapeList(ctx, c.def.URL, c.def.Item, c.def.spec())
	if err != nil {
		metrics.ObserveCrawler(c.name, "error", time.Since(start))
		return nil, fmt.Errorf("crawl %s: %w", c.name, err)
	}
	posts := make([]ingest.Post, 0, len(items))
	for i, item := range items {
		post, err := c.normalize(item)
		if err != nil {
			c.logger.Warn("skipping listing item", zap.Int("index", i), zap.Error(err))
			continue
		}
		posts = append(posts, post)
	}
	metrics.ObserveCrawler(c.name, "ok", time.Since(start))
	c.logger.Debug("listing crawled", zap.Int("items", len(items)), zap.Int("posts", len(posts)))
	return posts, nil
}

func (c *ListingCrawler) normalize(item scrape.Result) (ingest.Post, error) {
	post := ingest.Post{
		Source:   c.def.Source,
		URL:      item.Get(fieldURL),
		Title:    item.Get(fieldTitle),
		Type:     ingest.PostType(c.def.Type),
		EmbedURL: item.Get(fieldEmbed),
	}
	if kind := strings.ToLower(item.Get(fieldType)); kind != "" {
		post.Type = ingest.PostType(kind)
	}
	if _, ok := post.Type.WorkKind(); !ok {
		return ingest.Post{}, fmt.Errorf("unknown post type %q", post.Type)
	}

	credits := item.Get(fieldArtists)
	if credits == "" && c.def.TitleSeparator != "" {
		left, right, ok := strings.Cut(post.Title, c.def.TitleSeparator)
		if !ok {
			return ingest.Post{}, fmt.Errorf("title %q has no artist separator", post.Title)
		}
		credits, post.Title = left, strings.TrimSpace(right)
	}
	post.Artists = SplitArtists(credits, c.def.ArtistSeparator)
	if len(post.CreditedArtists()) == 0 {
		return ingest.Post{}, errors.New("no artists credited")
	}

	if raw := item.Get(fieldDate); raw != "" {
		ts, err := time.Parse(c.def.DateLayout, raw)
		if err != nil {
			return ingest.Post{}, fmt.Errorf("parse date %q: %w", raw, err)
		}
		ts = ts.UTC()
		post.Date = &ts
	}
	return post, nil
}

// SplitArtists splits a credit line on sep, keeping order and dropping
// empty names. An empty sep keeps the line whole.
func SplitArtists(credits, sep string) []string {
	credits = strings.TrimSpace(credits)
	if credits == "" {
		return nil
	}
	if sep == "" {
		return []string{credits}
	}
	var out []string
	for _, name := range strings.Split(credits, sep) {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}
