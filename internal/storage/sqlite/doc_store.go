// Package sqlite stores the post graph in an embedded SQLite database for
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/JakeFAU/postsync/internal/ingest"
)

const checkpointKey = "timestamps.lastScrape"

// DocStore implements ingest.DocumentStore on SQLite.
type DocStore struct {
	db *sql.DB
}

var _ ingest.DocumentStore = (*DocStore)(nil)

// Open opens (or creates) the database at path and bootstraps the schema.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*DocStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store.path is required")
	}
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection keeps :memory: databases whole and serializes commits.
	db.SetMaxOpenConns(1)
	s := &DocStore{db: db}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_busy_timeout=5000"
}

// Close closes the database.
func (s *DocStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Checkpoint implements ingest.Store.
func (s *DocStore) Checkpoint(ctx context.Context) (time.Time, bool, error) {
	var ts time.Time
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, checkpointKey).Scan(&ts)
	switch {
	case errors.Is(err, sql.ErrNoRows):
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // ignored if committed
	}()
	for i, w := range ws.Writes() {
		if err := applyWrite(ctx, tx, w); err != nil {
			return fmt.Errorf("apply write %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx (%d writes): %w", ws.Len(), err)
	}
	return nil
}

const (
	upsertArtistSQL = `INSERT INTO artists (id, name) VALUES (?, ?)
ON CONFLICT (id) DO UPDATE SET name = excluded.name`
	upsertWorkSQL = `INSERT INTO works (artist_id, kind, id, name) VALUES (?, ?, ?, ?)
ON CONFLICT (artist_id, kind, id) DO UPDATE SET name = excluded.name`
	addFeaturedSQL = `INSERT OR IGNORE INTO artist_featured (artist_id, work_artist_id, work_kind, work_id)
VALUES (?, ?, ?, ?)`
	ensureMediaSQL = `INSERT OR IGNORE INTO media (id, type, external_id, url) VALUES (?, ?, ?, ?)`
	createPostSQL  = `INSERT INTO posts (id, source, url, title, type, work_artist_id, work_kind, work_id, date, media_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	postArtistSQL    = `INSERT INTO post_artists (post_id, position, artist_id) VALUES (?, ?, ?)`
	setCheckpointSQL = `INSERT INTO settings (key, value) VALUES (?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value`
)

func applyWrite(ctx context.Context, tx *sql.Tx, w ingest.Write) error {
	var err error
	switch v := w.(type) {
	case ingest.UpsertArtist:
		_, err = tx.ExecContext(ctx, upsertArtistSQL, v.ID, v.Name)
	case ingest.UpsertWork:
		_, err = tx.ExecContext(ctx, upsertWorkSQL, v.Ref.ArtistID, string(v.Ref.Kind), v.Ref.ID, v.Name)
	case ingest.AddFeatured:
		_, err = tx.ExecContext(ctx, addFeaturedSQL, v.ArtistID, v.Work.ArtistID, string(v.Work.Kind), v.Work.ID)
	case ingest.EnsureMedia:
		r := v.Record
		_, err = tx.ExecContext(ctx, ensureMediaSQL, r.ID, string(r.Type), r.ExternalID, r.URL)
	case ingest.CreatePost:
		err = createPost(ctx, tx, v.Post)
	case ingest.SetCheckpoint:
		_, err = tx.ExecContext(ctx, setCheckpointSQL, checkpointKey, v.At.UTC())
	default:
		err = fmt.Errorf("unsupported write %T", w)
	}
	return err
}

func createPost(ctx context.Context, tx *sql.Tx, p ingest.StoredPost) error {
	var date sql.NullTime
	if p.Date != nil {
		date = sql.NullTime{Time: p.Date.UTC(), Valid: true}
	}
	media := sql.NullString{String: p.MediaID, Valid: p.MediaID != ""}
	_, err := tx.ExecContext(ctx, createPostSQL,
		p.ID, string(p.Source), p.URL, p.Title, string(p.Type),
		p.Work.ArtistID, string(p.Work.Kind), p.Work.ID, date, media,
	)
	if err != nil {
		return fmt.Errorf("insert post %s: %w", p.ID, err)
	}
	for i, artistID := range p.ArtistIDs {
		if _, err := tx.ExecContext(ctx, postArtistSQL, p.ID, i, artistID); err != nil {
			return fmt.Errorf("insert post %s artist %d: %w", p.ID, i, err)
		}
	}
	return nil
}

// Artist returns an artist with its featured references in insertion order.
func (s *DocStore) Artist(ctx context.Context, id string) (ingest.Artist, error) {
	a := ingest.Artist{ID: id}
	if err := s.db.QueryRowContext(ctx, `SELECT name FROM artists WHERE id = ?`, id).Scan(&a.Name); err != nil {
		return ingest.Artist{}, notFound(err, "artist "+id)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT work_artist_id, work_kind, work_id FROM artist_featured WHERE artist_id = ? ORDER BY rowid`, id)
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
	err := s.db.QueryRowContext(ctx, `SELECT name FROM works WHERE artist_id = ? AND kind = ? AND id = ?`,
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
	err := s.db.QueryRowContext(ctx, `SELECT type, external_id, url FROM media WHERE id = ?`, id).
		Scan(&typ, &rec.ExternalID, &rec.URL)
	if err != nil {
		return ingest.MediaRecord{}, notFound(err, "media "+id)
	}
	rec.Type = ingest.MediaType(typ)
	return rec, nil
}

const postColumns = `id, source, url, title, type, work_artist_id, work_kind, work_id, date, media_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(row scanner) (ingest.StoredPost, error) {
	var (
		p                 ingest.StoredPost
		source, typ, kind string
		date              sql.NullTime
		mediaID           sql.NullString
	)
	if err := row.Scan(&p.ID, &source, &p.URL, &p.Title, &typ,
		&p.Work.ArtistID, &kind, &p.Work.ID, &date, &mediaID); err != nil {
		return ingest.StoredPost{}, err //nolint:wrapcheck // callers wrap
	}
	p.Source = ingest.Source(source)
	p.Type = ingest.PostType(typ)
	p.Work.Kind = ingest.WorkKind(kind)
	if date.Valid {
		d := date.Time.UTC()
		p.Date = &d
	}
	p.MediaID = mediaID.String
	return p, nil
}

// Post returns a stored post with its artist references in credit order.
func (s *DocStore) Post(ctx context.Context, id string) (ingest.StoredPost, error) {
	p, err := scanPost(s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id))
	if err != nil {
		return ingest.StoredPost{}, notFound(err, "post "+id)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT artist_id FROM post_artists WHERE post_id = ? ORDER BY position`, id)
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

// MediaExists implements ingest.MediaWriter.
func (s *DocStore) MediaExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM media WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("check media %s: %w", id, err)
	}
	return n > 0, nil
}

// CreateMedia implements ingest.MediaWriter.
func (s *DocStore) CreateMedia(ctx context.Context, rec ingest.MediaRecord) error {
	if _, err := s.db.ExecContext(ctx, ensureMediaSQL, rec.ID, string(rec.Type), rec.ExternalID, rec.URL); err != nil {
		return fmt.Errorf("insert media %s: %w", rec.ID, err)
	}
	return nil
}

// SetPostMedia implements ingest.MediaWriter.
func (s *DocStore) SetPostMedia(ctx context.Context, postID, mediaID string) error {
	return s.updatePost(ctx, postID, `UPDATE posts SET media_id = ? WHERE id = ?`, mediaID)
}

// SetPostDate implements ingest.PostUpdater.
func (s *DocStore) SetPostDate(ctx context.Context, postID string, date *time.Time) error {
	var v sql.NullTime
	if date != nil {
		v = sql.NullTime{Time: date.UTC(), Valid: true}
	}
	return s.updatePost(ctx, postID, `UPDATE posts SET date = ? WHERE id = ?`, v)
}

func (s *DocStore) updatePost(ctx context.Context, postID, query string, value any) error {
	res, err := s.db.ExecContext(ctx, query, value, postID)
	if err != nil {
		return fmt.Errorf("update post %s: %w", postID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update post %s: %w", postID, err)
	}
	if n == 0 {
		return fmt.Errorf("post %s: %w", postID, ingest.ErrNotFound)
	}
	return nil
}

// PostsMissingMedia implements ingest.PostUpdater. Artist references are
// not loaded.
func (s *DocStore) PostsMissingMedia(ctx context.Context, limit int) ([]ingest.StoredPost, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE media_id IS NULL ORDER BY rowid LIMIT ?`, limit)
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
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ingest.ErrNotFound)
	}
	return fmt.Errorf("read %s: %w", what, err)
}
