package ingest

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by store lookups for missing documents.
var ErrNotFound = errors.New("document not found")

// Store is the document store the batcher commits to.
type Store interface {
	// Checkpoint returns the last successful sync time; ok is false when
	// no run has committed yet.
	Checkpoint(ctx context.Context) (ts time.Time, ok bool, err error)
	// Commit applies every write in ws atomically, or none of them.
	Commit(ctx context.Context, ws *WriteSet) error
}

// MediaWriter receives classified media for an already stored post.
type MediaWriter interface {
	MediaExists(ctx context.Context, id string) (bool, error)
	// CreateMedia inserts rec unless a record with the same id exists.
	CreateMedia(ctx context.Context, rec MediaRecord) error
	// SetPostMedia merges a media reference into the post document.
	SetPostMedia(ctx context.Context, postID, mediaID string) error
}

// PostUpdater is the store surface used to enrich stored posts.
type PostUpdater interface {
	MediaWriter
	SetPostDate(ctx context.Context, postID string, date *time.Time) error
	PostsMissingMedia(ctx context.Context, limit int) ([]StoredPost, error)
}

// DocumentStore is implemented by every storage backend.
type DocumentStore interface {
	Store
	PostUpdater
	Artist(ctx context.Context, id string) (Artist, error)
	Work(ctx context.Context, ref WorkRef) (Work, error)
	Media(ctx context.Context, id string) (MediaRecord, error)
	Post(ctx context.Context, id string) (StoredPost, error)
	Close() error
}

// Crawler produces normalized posts for one source.
type Crawler interface {
	Name() string
	Source() Source
	Crawl(ctx context.Context) ([]Post, error)
}

// Enricher completes a post's media reference and date before batching.
type Enricher interface {
	Enrich(ctx context.Context, post *Post) error
}

// IDHasher derives deterministic document ids from content.
type IDHasher interface {
	ID(value string) string
}

// IDGenerator produces ids for new documents.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// BlobStore writes run artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
