// Package scrape fetches pages and extracts fields from them with CSS
// selectors.
package scrape

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrMissingField is returned when a required rule matches nothing, even
// after a rendered re-fetch.
var ErrMissingField = errors.New("required field missing")

// FetchRequest describes a single page fetch.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse holds the fetched document.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Fetcher retrieves a page body.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// Limiter throttles fetches per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Rule extracts one field. An empty Attr selects the element's text.
// Resolve turns a relative value into an absolute URL against the page.
// Convert runs on non-empty raw values.
type Rule struct {
	Selector string
	Attr     string
	Required bool
	Resolve  bool
	Convert  func(string) (string, error)
}

// Spec maps field names to rules.
type Spec map[string]Rule

// Result maps field names to extracted values. Fields that matched nothing
// are absent.
type Result map[string]string

// Get returns a field value, or "" when it is absent.
func (r Result) Get(field string) string {
	return r[field]
}
