package enrich_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/postsync/internal/ingest"
)

func TestBackfillAttachesMediaAndDates(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	store := newFakeUpdater(
		ingest.StoredPost{ID: "p1", Source: ingest.SourceGVB, URL: h.srv.URL + "/gvb/ok"},
		ingest.StoredPost{ID: "p2", Source: ingest.SourcePitchfork, URL: h.srv.URL + "/pitchfork/ok"},
		ingest.StoredPost{ID: "p3", Source: ingest.SourceStereogum, URL: h.srv.URL + "/stereogum/bare"},
		ingest.StoredPost{ID: "p4", Source: ingest.SourceBleep, URL: h.srv.URL + "/bleep"},
		ingest.StoredPost{ID: "p5", Source: ingest.SourceGVB, URL: h.srv.URL + "/gvb/no-embed"},
		ingest.StoredPost{ID: "p6", Source: ingest.SourceGVB, URL: h.srv.URL + "/gvb/no-date"},
	)

	summary, err := h.enricher.Backfill(context.Background(), store, 0, 3)
	require.NoError(t, err)
	require.Equal(t, 6, summary.Scanned)
	require.Equal(t, 3, summary.Attached)
	require.Equal(t, 2, summary.Skipped)
	require.Equal(t, 1, summary.Failed)

	require.NotEmpty(t, store.postMedia["p1"])
	require.NotEmpty(t, store.postMedia["p2"])
	require.Empty(t, store.postMedia["p3"])
	require.Empty(t, store.postMedia["p5"])
	// p1 and p6 embed the same video.
	require.Equal(t, store.postMedia["p1"], store.postMedia["p6"])
	require.Len(t, store.media, 2)

	want := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	require.Equal(t, &want, store.dates["p1"])
	d, ok := store.dates["p6"]
	require.True(t, ok)
	require.Nil(t, d)
	_, ok = store.dates["p2"]
	require.False(t, ok)
}

func TestBackfillListFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	store := newFakeUpdater()
	store.listErr = errors.New("db down")
	_, err := h.enricher.Backfill(context.Background(), store, 10, 1)
	require.ErrorContains(t, err, "db down")
}

type fakeUpdater struct {
	mu        sync.Mutex
	posts     []ingest.StoredPost
	media     map[string]ingest.MediaRecord
	postMedia map[string]string
	dates     map[string]*time.Time
	listErr   error
}

func newFakeUpdater(posts ...ingest.StoredPost) *fakeUpdater {
	return &fakeUpdater{
		posts:     posts,
		media:     make(map[string]ingest.MediaRecord),
		postMedia: make(map[string]string),
		dates:     make(map[string]*time.Time),
	}
}

func (f *fakeUpdater) PostsMissingMedia(_ context.Context, limit int) ([]ingest.StoredPost, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if limit > 0 && limit < len(f.posts) {
		return f.posts[:limit], nil
	}
	return f.posts, nil
}

func (f *fakeUpdater) MediaExists(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.media[id]
	return ok, nil
}

func (f *fakeUpdater) CreateMedia(_ context.Context, rec ingest.MediaRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.media[rec.ID]; !ok {
		f.media[rec.ID] = rec
	}
	return nil
}

func (f *fakeUpdater) SetPostMedia(_ context.Context, postID, mediaID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postMedia[postID] = mediaID
	return nil
}

func (f *fakeUpdater) SetPostDate(_ context.Context, postID string, date *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dates[postID] = date
	return nil
}
