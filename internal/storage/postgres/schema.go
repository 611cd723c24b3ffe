package postgres

import (
	"context"
	"fmt"
)

// schema creates the document tables when they are missing. Statements run
// one at a time so a failure names the table.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS artists (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS works (
	artist_id TEXT NOT NULL REFERENCES artists(id),
	kind      TEXT NOT NULL CHECK (kind IN ('albums', 'tracks')),
	id        TEXT NOT NULL,
	name      TEXT NOT NULL,
	PRIMARY KEY (artist_id, kind, id)
)`,
	`CREATE TABLE IF NOT EXISTS artist_featured (
	seq            BIGSERIAL,
	artist_id      TEXT NOT NULL REFERENCES artists(id),
	work_artist_id TEXT NOT NULL,
	work_kind      TEXT NOT NULL,
	work_id        TEXT NOT NULL,
	PRIMARY KEY (artist_id, work_artist_id, work_kind, work_id),
	FOREIGN KEY (work_artist_id, work_kind, work_id) REFERENCES works(artist_id, kind, id)
)`,
	`CREATE TABLE IF NOT EXISTS media (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	external_id TEXT NOT NULL,
	url         TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS posts (
	id             TEXT PRIMARY KEY,
	source         TEXT NOT NULL,
	url            TEXT NOT NULL,
	title          TEXT NOT NULL,
	type           TEXT NOT NULL,
	work_artist_id TEXT NOT NULL,
	work_kind      TEXT NOT NULL,
	work_id        TEXT NOT NULL,
	date           TIMESTAMPTZ,
	media_id       TEXT REFERENCES media(id),
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	FOREIGN KEY (work_artist_id, work_kind, work_id) REFERENCES works(artist_id, kind, id)
)`,
	`CREATE INDEX IF NOT EXISTS posts_missing_media_idx ON posts (created_at) WHERE media_id IS NULL`,
	`CREATE TABLE IF NOT EXISTS post_artists (
	post_id   TEXT NOT NULL REFERENCES posts(id),
	position  INTEGER NOT NULL,
	artist_id TEXT NOT NULL REFERENCES artists(id),
	PRIMARY KEY (post_id, position)
)`,
	`CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TIMESTAMPTZ NOT NULL
)`,
}

// EnsureSchema creates missing tables and indexes.
func (s *DocStore) EnsureSchema(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
