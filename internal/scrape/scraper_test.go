package scrape

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const articleHTML = `<html><body>
<div class="article-content">
  <h1> Big   Thief </h1>
  <iframe data-src="https://open.spotify.com/embed/album/abc"></iframe>
  <a class="next" href="/reviews/2">next</a>
</div></body></html>`

func TestScrapeExtractsFields(t *testing.T) {
	t.Parallel()

	static := &fakeFetcher{body: articleHTML}
	s := New(static)
	res, err := s.Scrape(context.Background(), "https://example.com/reviews/1", Spec{
		"title": {Selector: "h1"},
		"embed": {Selector: ".article-content iframe", Attr: "data-src", Required: true},
		"next":  {Selector: "a.next", Attr: "href", Resolve: true},
		"date":  {Selector: "time", Attr: "datetime"},
	})
	require.NoError(t, err)
	require.Equal(t, "Big Thief", res.Get("title"))
	require.Equal(t, "https://open.spotify.com/embed/album/abc", res.Get("embed"))
	require.Equal(t, "https://example.com/reviews/2", res.Get("next"))
	_, ok := res["date"]
	require.False(t, ok)
	require.Equal(t, 1, static.calls)
}

func TestScrapePromotesToHeadless(t *testing.T) {
	t.Parallel()

	static := &fakeFetcher{body: `<div class="article-content"></div>`}
	headless := &fakeFetcher{body: articleHTML, headless: true}
	s := New(static, WithHeadless(headless))

	res, err := s.Scrape(context.Background(), "https://example.com/a", Spec{
		"embed": {Selector: ".article-content iframe", Attr: "data-src", Required: true},
	})
	require.NoError(t, err)
	require.Equal(t, "https://open.spotify.com/embed/album/abc", res.Get("embed"))
	require.Equal(t, 1, static.calls)
	require.Equal(t, 1, headless.calls)
}

func TestScrapeMissingRequiredField(t *testing.T) {
	t.Parallel()

	s := New(&fakeFetcher{body: `<p>nothing</p>`})
	_, err := s.Scrape(context.Background(), "https://example.com/a", Spec{
		"embed": {Selector: "iframe", Attr: "src", Required: true},
	})
	require.ErrorIs(t, err, ErrMissingField)
	require.ErrorContains(t, err, "embed")
}

func TestScrapeConvertErrorAndStatus(t *testing.T) {
	t.Parallel()

	boom := errors.New("bad value")
	s := New(&fakeFetcher{body: articleHTML})
	_, err := s.Scrape(context.Background(), "https://example.com/a", Spec{
		"title": {Selector: "h1", Convert: func(string) (string, error) { return "", boom }},
	})
	require.ErrorIs(t, err, boom)

	s = New(&fakeFetcher{body: "gone", status: http.StatusNotFound})
	_, err = s.Scrape(context.Background(), "https://example.com/a", Spec{})
	require.ErrorContains(t, err, "unexpected status 404")

	s = New(&fakeFetcher{err: errors.New("dial tcp")})
	_, err = s.Scrape(context.Background(), "https://example.com/a", Spec{})
	require.ErrorContains(t, err, "dial tcp")
}

func TestScrapeListSkipsIncompleteItems(t *testing.T) {
	t.Parallel()

	listing := `<ul>
<li class="item"><a href="/p/1">First</a><span class="by">A</span></li>
<li class="item"><span class="by">no link</span></li>
<li class="item"><a href="https://other.example/p/3">Third</a></li>
</ul>`
	limiter := &fakeLimiter{}
	s := New(&fakeFetcher{body: listing}, WithLimiter(limiter))
	items, err := s.ScrapeList(context.Background(), "https://example.com/list", "li.item", Spec{
		"url":    {Selector: "a", Attr: "href", Required: true, Resolve: true},
		"title":  {Selector: "a", Required: true},
		"artist": {Selector: ".by"},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "https://example.com/p/1", items[0].Get("url"))
	require.Equal(t, "A", items[0].Get("artist"))
	require.Equal(t, "https://other.example/p/3", items[1].Get("url"))
	require.Equal(t, "", items[1].Get("artist"))
	require.Equal(t, []string{"https://example.com/list"}, limiter.urls)
}

func TestScrapeListPromotesEmptyListing(t *testing.T) {
	t.Parallel()

	headless := &fakeFetcher{body: `<div class="card"><a href="/x">X</a></div>`, headless: true}
	s := New(&fakeFetcher{body: `<div id="app"></div>`}, WithHeadless(headless))
	items, err := s.ScrapeList(context.Background(), "https://example.com/", ".card", Spec{
		"url": {Selector: "a", Attr: "href", Resolve: true},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "https://example.com/x", items[0].Get("url"))
}

func TestScrapeLimiterError(t *testing.T) {
	t.Parallel()

	static := &fakeFetcher{body: articleHTML}
	s := New(static, WithLimiter(&fakeLimiter{err: context.Canceled}))
	_, err := s.Scrape(context.Background(), "https://example.com/a", Spec{})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, static.calls)
}

type fakeFetcher struct {
	body     string
	status   int
	err      error
	headless bool
	calls    int
}

func (f *fakeFetcher) Fetch(_ context.Context, req FetchRequest) (FetchResponse, error) {
	f.calls++
	if f.err != nil {
		return FetchResponse{}, f.err
	}
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	return FetchResponse{
		URL:          req.URL,
		StatusCode:   status,
		Body:         []byte(strings.TrimSpace(f.body)),
		UsedHeadless: f.headless,
	}, nil
}

type fakeLimiter struct {
	urls []string
	err  error
}

func (l *fakeLimiter) Wait(_ context.Context, rawURL string) error {
	if l.err != nil {
		return l.err
	}
	l.urls = append(l.urls, rawURL)
	return nil
}
