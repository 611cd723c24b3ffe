// Package postgres stores the post graph in Postgres. Every write-set is
// applied inside one transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/postsync/internal/ingest"
)

const checkpointKey = "timestamps.lastScrape"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// DocStore implements ingest.DocumentStore on Postgres.
type DocStore struct {
	pool   pgxPool
	logger *zap.Logger
}

var _ ingest.DocumentStore = (*DocStore)(nil)

// Open connects, then creates the schema if needed.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*DocStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewDocStoreWithPool(pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewDocStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewDocStoreWithPool(pool pgxPool, logger *zap.Logger) (*DocStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocStore{pool: pool, logger: logger}, nil
}

// Close releases the underlying pool resources.
func (s *DocStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Checkpoint implements ingest.Store.
func (s *DocStore) Checkpoint(ctx context.Context) (time.Time, bool, error) {
	var ts time.Time
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, checkpointKey).Scan(&ts)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return time.Time{}, false, nil
	case err != nil:
		return time.Time{}, false, fmt.Errorf("read checkpoint: %w", err)
	}
	return ts.UTC(), true, nil
}

// Commit implements ingest.Store.
func (s *DocStore) Commit(ctx context.Context, ws *ingest.WriteSet) error {
	if err := ws.Validate(); err != nil {
		return fmt.Errorf("invalid write set: %w", err)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	for i, w := range ws.Writes() {
		if err := applyWrite(ctx, tx, w); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Error("rollback failed", zap.Error(rbErr))
			}
			return fmt.Errorf("apply write %d: %w", i, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx (%d writes): %w", ws.Len(), err)
	}
	return nil
}

const (
	upsertArtistSQL = `INSERT INTO artists (id, name) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`
	upsertWorkSQL = `INSERT INTO works (artist_id, kind, id, name) VALUES ($1, $2, $3, $4)
ON CONFLICT (artist_id, kind, id) DO UPDATE SET name = EXCLUDED.name`
	addFeaturedSQL = `INSERT INTO artist_featured (artist_id, work_artist_id, work_kind, work_id)
VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`
	ensureMediaSQL = `INSERT INTO media (id, type, external_id, url) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING`
	createPostSQL = `INSERT INTO posts (id, source, url, title, type, work_artist_id, work_kind, work_id, date, media_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	postArtistSQL    = `INSERT INTO post_artists (post_id, position, artist_id) VALUES ($1, $2, $3)`
	setCheckpointSQL = `INSERT INTO settings (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func applyWrite(ctx context.Context, tx execer, w ingest.Write) error {
	var err error
	switch v := w.(type) {
	case ingest.UpsertArtist:
		_, err = tx.Exec(ctx, upsertArtistSQL, v.ID, v.Name)
	case ingest.UpsertWork:
		_, err = tx.Exec(ctx, upsertWorkSQL, v.Ref.ArtistID, string(v.Ref.Kind), v.Ref.ID, v.Name)
	case ingest.AddFeatured:
		_, err = tx.Exec(ctx, addFeaturedSQL, v.ArtistID, v.Work.ArtistID, string(v.Work.Kind), v.Work.ID)
	case ingest.EnsureMedia:
		r := v.Record
		_, err = tx.Exec(ctx, ensureMediaSQL, r.ID, string(r.Type), r.ExternalID, r.URL)
	case ingest.CreatePost:
		err = createPost(ctx, tx, v.Post)
	case ingest.SetCheckpoint:
		_, err = tx.Exec(ctx, setCheckpointSQL, checkpointKey, v.At)
	default:
		err = fmt.Errorf("unsupported write %T", w)
	}
	return err
}

func createPost(ctx context.Context, tx execer, p ingest.StoredPost) error {
	_, err := tx.Exec(ctx, createPostSQL,
		p.ID, string(p.Source), p.URL, p.Title, string(p.Type),
		p.Work.ArtistID, string(p.Work.Kind), p.Work.ID,
		p.Date, nullable(p.MediaID),
	)
	if err != nil {
		return fmt.Errorf("insert post %s: %w", p.ID, err)
	}
	for i, artistID := range p.ArtistIDs {
		if _, err := tx.Exec(ctx, postArtistSQL, p.ID, i, artistID); err != nil {
			return fmt.Errorf("insert post %s artist %d: %w", p.ID, i, err)
		}
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Artist returns an artist with its featured references in insertion order.
func (s *DocStore) Artist(ctx context.Context, id string) (ingest.Artist, error) {
	a := ingest.Artist{ID: id}
	err := s.pool.QueryRow(ctx, `SELECT name FROM artists WHERE id = $1`, id).Scan(&a.Name)
	if err != nil {
		return ingest.Artist{}, notFound(err, "artist "+id)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT work_artist_id, work_kind, work_id FROM artist_featured WHERE artist_id = $1 ORDER BY seq`, id)
	if err != nil {
		return ingest.Artist{}, fmt.Errorf("query featured for %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var ref ingest.WorkRef
		var kind string
		if err := rows.Scan(&ref.ArtistID, &kind, &ref.ID); err != nil {
			return ingest.Artist{}, fmt.Errorf("scan featured: %w", err)
		}
		ref.Kind = ingest.WorkKind(kind)
		a.Featured = append(a.Featured, ref)
	}
	if err := rows.Err(); err != nil {
		return ingest.Artist{}, fmt.Errorf("iterate featured: %w", err)
	}
	return a, nil
}

// Work returns an album or track.
func (s *DocStore) Work(ctx context.Context, ref ingest.WorkRef) (ingest.Work, error) {
	w := ingest.Work{Ref: ref}
	err := s.pool.QueryRow(ctx, `SELECT name FROM works WHERE artist_id = $1 AND kind = $2 AND id = $3`,
		ref.ArtistID, string(ref.Kind), ref.ID).Scan(&w.Name)
	if err != nil {
		return ingest.Work{}, notFound(err, "work "+ref.Path())
	}
	return w, nil
}

// Media returns a media record.
func (s *DocStore) Media(ctx context.Context, id string) (ingest.MediaRecord, error) {
	rec := ingest.MediaRecord{ID: id}
	var typ string
	err := s.pool.QueryRow(ctx, `SELECT type, external_id, url FROM media WHERE id = $1`, id).
		Scan(&typ, &rec.ExternalID, &rec.URL)
	if err != nil {
		return ingest.MediaRecord{}, notFound(err, "media "+id)
	}
	rec.Type = ingest.MediaType(typ)
	return rec, nil
}

const postColumns = `id, source, url, title, type, work_artist_id, work_kind, work_id, date, media_id`

// Post returns a stored post with its artist references in credit order.
func (s *DocStore) Post(ctx context.Context, id string) (ingest.StoredPost, error) {
	p, err := scanPost(s.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id))
	if err != nil {
		return ingest.StoredPost{}, notFound(err, "post "+id)
	}
	rows, err := s.pool.Query(ctx, `SELECT artist_id FROM post_artists WHERE post_id = $1 ORDER BY position`, id)
	if err != nil {
		return ingest.StoredPost{}, fmt.Errorf("query post artists: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var artistID string
		if err := rows.Scan(&artistID); err != nil {
			return ingest.StoredPost{}, fmt.Errorf("scan post artist: %w", err)
		}
		p.ArtistIDs = append(p.ArtistIDs, artistID)
	}
	if err := rows.Err(); err != nil {
		return ingest.StoredPost{}, fmt.Errorf("iterate post artists: %w", err)
	}
	return p, nil
}

func scanPost(row pgx.Row) (ingest.StoredPost, error) {
	var (
		p                 ingest.StoredPost
		source, typ, kind string
		date              *time.Time
		mediaID           *string
	)
	if err := row.Scan(&p.ID, &source, &p.URL, &p.Title, &typ,
		&p.Work.ArtistID, &kind, &p.Work.ID, &date, &mediaID); err != nil {
		return ingest.StoredPost{}, err //nolint:wrapcheck // callers wrap
	}
	p.Source = ingest.Source(source)
	p.Type = ingest.PostType(typ)
	p.Work.Kind = ingest.WorkKind(kind)
	if date != nil {
		d := date.UTC()
		p.Date = &d
	}
	if mediaID != nil {
		p.MediaID = *mediaID
	}
	return p, nil
}

// MediaExists implements ingest.MediaWriter.
func (s *DocStore) MediaExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM media WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check media %s: %w", id, err)
	}
	return exists, nil
}

// CreateMedia implements ingest.MediaWriter.
func (s *DocStore) CreateMedia(ctx context.Context, rec ingest.MediaRecord) error {
	if _, err := s.pool.Exec(ctx, ensureMediaSQL, rec.ID, string(rec.Type), rec.ExternalID, rec.URL); err != nil {
		return fmt.Errorf("insert media %s: %w", rec.ID, err)
	}
	return nil
}

// SetPostMedia implements ingest.MediaWriter.
func (s *DocStore) SetPostMedia(ctx context.Context, postID, mediaID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE posts SET media_id = $2 WHERE id = $1`, postID, mediaID)
	if err != nil {
		return fmt.Errorf("update post %s media: %w", postID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("post %s: %w", postID, ingest.ErrNotFound)
	}
	return nil
}

// SetPostDate implements ingest.PostUpdater.
func (s *DocStore) SetPostDate(ctx context.Context, postID string, date *time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE posts SET date = $2 WHERE id = $1`, postID, date)
	if err != nil {
		return fmt.Errorf("update post %s date: %w", postID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("post %s: %w", postID, ingest.ErrNotFound)
	}
	return nil
}

// PostsMissingMedia implements ingest.PostUpdater. Artist references are
// not loaded.
func (s *DocStore) PostsMissingMedia(ctx context.Context, limit int) ([]ingest.StoredPost, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE media_id IS NULL ORDER BY created_at, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts missing media: %w", err)
	}
	defer rows.Close()
	var out []ingest.StoredPost
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return out, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ingest.ErrNotFound)
	}
	return fmt.Errorf("read %s: %w", what, err)
}
