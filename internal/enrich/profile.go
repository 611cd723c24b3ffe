package enrich

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/JakeFAU/postsync/internal/ingest"
	"github.com/JakeFAU/postsync/internal/scrape"
)

var (
	// ErrUnknownSource is returned for posts whose source has no profile.
	ErrUnknownSource = errors.New("unknown source")
	// ErrEmbedNotFound is returned when a required embed is absent or unreadable.
	ErrEmbedNotFound = errors.New("embed not found")
)

// Profile tells the enricher where a source keeps its embed and date.
type Profile struct {
	// Inline sources carry the embed on the listing; no page is fetched.
	Inline bool
	Embed  scrape.Rule
	Date   *DateRule
}

// DateRule reads and parses a publication date from the post page.
type DateRule struct {
	Rule   scrape.Rule
	Trim   string
	Layout string
}

// Parse converts the scraped value to a UTC time. An empty value means the
// page carries no date.
func (r DateRule) Parse(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), r.Trim))
	if raw == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(r.Layout, raw, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", raw, err)
	}
	t = t.UTC()
	return &t, nil
}

// ProfileFor returns the enrichment profile of a source.
func ProfileFor(src ingest.Source) (Profile, error) {
	switch src {
	case ingest.SourceBleep:
		return Profile{Inline: true}, nil
	case ingest.SourceGVB:
		return Profile{
			Embed: scrape.Rule{
				Selector: ".pod-content .lazyload-placeholder",
				Attr:     "data-pod",
				Required: true,
				Convert:  podEmbedSrc,
			},
			Date: &DateRule{
				Rule:   scrape.Rule{Selector: ".page-header .byline time", Attr: "datetime"},
				Trim:   " +0000",
				Layout: "2006-01-02 15:04:05",
			},
		}, nil
	// Pitchfork and Stereogum run many reviews without a player, so a missing
	// iframe leaves the post without media instead of failing it.
	case ingest.SourcePitchfork:
		return Profile{
			Embed: scrape.Rule{Selector: ".contents .contents__embed iframe", Attr: "src"},
		}, nil
	case ingest.SourceStereogum:
		return Profile{
			Embed: scrape.Rule{Selector: ".article-content iframe", Attr: "data-src"},
		}, nil
	default:
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownSource, src)
	}
}

var srcAttr = regexp.MustCompile(`src="([^"]+)"`)

// podEmbedSrc pulls the player URL out of a lazy-load placeholder whose
// attribute holds {"html": "<iframe src=...>"}.
func podEmbedSrc(raw string) (string, error) {
	var pod struct {
		HTML string `json:"html"`
	}
	if err := json.Unmarshal([]byte(raw), &pod); err != nil {
		return "", fmt.Errorf("%w: decode placeholder: %w", ErrEmbedNotFound, err)
	}
	m := srcAttr.FindStringSubmatch(pod.HTML)
	if m == nil {
		return "", fmt.Errorf("%w: placeholder html has no src", ErrEmbedNotFound)
	}
	return html.UnescapeString(m[1]), nil
}
