package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/postsync/internal/ingest"
)

var (
	work = ingest.WorkRef{ArtistID: "a1", Kind: ingest.WorkKindTrack, ID: "w1"}
	at   = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *DocStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewDocStoreWithPool(mock, nil)
	require.NoError(t, err)
	return mock, store
}

func writeSet() *ingest.WriteSet {
	ws := ingest.NewWriteSet()
	ws.Add(ingest.UpsertArtist{ID: "a1", Name: "Owner"})
	ws.Add(ingest.UpsertWork{Ref: work, Name: "Song"})
	ws.Add(ingest.UpsertArtist{ID: "a2", Name: "Guest"})
	ws.Add(ingest.AddFeatured{ArtistID: "a2", Work: work})
	ws.Add(ingest.EnsureMedia{Record: ingest.MediaRecord{ID: "m1", Type: ingest.MediaTypeSpotify, ExternalID: "track:x", URL: "u"}})
	ws.Add(ingest.CreatePost{Post: ingest.StoredPost{
		ID: "p1", Source: ingest.SourcePitchfork, URL: "https://p/1", Title: "Song", Type: ingest.PostTypeTrack,
		ArtistIDs: []string{"a1", "a2"}, Work: work, MediaID: "m1",
	}})
	ws.Add(ingest.SetCheckpoint{At: at})
	return ws
}

func TestCommitAppliesWritesInOneTransaction(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	insert := pgxmock.NewResult("INSERT", 1)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO artists").WithArgs("a1", "Owner").WillReturnResult(insert)
	mock.ExpectExec("INSERT INTO works").WithArgs("a1", "tracks", "w1", "Song").WillReturnResult(insert)
	mock.ExpectExec("INSERT INTO artists").WithArgs("a2", "Guest").WillReturnResult(insert)
	mock.ExpectExec("INSERT INTO artist_featured").WithArgs("a2", "a1", "tracks", "w1").WillReturnResult(insert)
	mock.ExpectExec("INSERT INTO media").WithArgs("m1", "spotify", "track:x", "u").WillReturnResult(insert)
	mock.ExpectExec("INSERT INTO posts").
		WithArgs("p1", "pitchfork", "https://p/1", "Song", "track", "a1", "tracks", "w1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(insert)
	mock.ExpectExec("INSERT INTO post_artists").WithArgs("p1", 0, "a1").WillReturnResult(insert)
	mock.ExpectExec("INSERT INTO post_artists").WithArgs("p1", 1, "a2").WillReturnResult(insert)
	mock.ExpectExec("INSERT INTO settings").WithArgs(checkpointKey, at).WillReturnResult(insert)
	mock.ExpectCommit()

	require.NoError(t, store.Commit(context.Background(), writeSet()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	insert := pgxmock.NewResult("INSERT", 1)
	boom := errors.New("fk violation")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO artists").WithArgs("a1", "Owner").WillReturnResult(insert)
	mock.ExpectExec("INSERT INTO works").WithArgs("a1", "tracks", "w1", "Song").WillReturnError(boom)
	mock.ExpectRollback()

	err := store.Commit(context.Background(), writeSet())
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitRejectsInvalidSetWithoutTransaction(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	ws := ingest.NewWriteSet()
	ws.Add(ingest.SetCheckpoint{})
	require.Error(t, store.Commit(context.Background(), ws))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpoint(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery("SELECT value FROM settings").WithArgs(checkpointKey).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT value FROM settings").WithArgs(checkpointKey).
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow(at))
	mock.ExpectQuery("SELECT value FROM settings").WithArgs(checkpointKey).WillReturnError(errors.New("timeout"))

	_, ok, err := store.Checkpoint(context.Background())
	require.NoError(t, err)
	require.False(t, ok)

	ts, ok, err := store.Checkpoint(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, at, ts)

	_, _, err = store.Checkpoint(context.Background())
	require.ErrorContains(t, err, "timeout")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArtistLoadsFeatured(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery("SELECT name FROM artists").WithArgs("a2").
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("Guest"))
	mock.ExpectQuery("SELECT work_artist_id, work_kind, work_id FROM artist_featured").WithArgs("a2").
		WillReturnRows(pgxmock.NewRows([]string{"work_artist_id", "work_kind", "work_id"}).AddRow("a1", "tracks", "w1"))
	mock.ExpectQuery("SELECT name FROM artists").WithArgs("zz").WillReturnError(pgx.ErrNoRows)

	a, err := store.Artist(context.Background(), "a2")
	require.NoError(t, err)
	require.Equal(t, "Guest", a.Name)
	require.Equal(t, []ingest.WorkRef{work}, a.Featured)

	_, err = store.Artist(context.Background(), "zz")
	require.ErrorIs(t, err, ingest.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRoundTripsReferences(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mediaID := "m1"
	date := at
	mock.ExpectQuery("SELECT id, source, url, title, type").WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "source", "url", "title", "type", "work_artist_id", "work_kind", "work_id", "date", "media_id"}).
			AddRow("p1", "pitchfork", "https://p/1", "Song", "track", "a1", "tracks", "w1", &date, &mediaID))
	mock.ExpectQuery("SELECT artist_id FROM post_artists").WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"artist_id"}).AddRow("a1").AddRow("a2"))

	p, err := store.Post(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, []string{"a1", "a2"}, p.ArtistIDs)
	require.Equal(t, work, p.Work)
	require.Equal(t, "m1", p.MediaID)
	require.Equal(t, at, *p.Date)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMediaWriter(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	ctx := context.Background()
	mock.ExpectQuery("SELECT EXISTS").WithArgs("m1").WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO media").WithArgs("m1", "youtube", "abc", "u").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE posts SET media_id").WithArgs("p1", "m1").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE posts SET media_id").WithArgs("nope", "m1").WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	exists, err := store.MediaExists(ctx, "m1")
	require.NoError(t, err)
	require.False(t, exists)
	require.NoError(t, store.CreateMedia(ctx, ingest.MediaRecord{ID: "m1", Type: ingest.MediaTypeYouTube, ExternalID: "abc", URL: "u"}))
	require.NoError(t, store.SetPostMedia(ctx, "p1", "m1"))
	require.ErrorIs(t, store.SetPostMedia(ctx, "nope", "m1"), ingest.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostsMissingMediaHonorsLimit(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	cols := []string{"id", "source", "url", "title", "type", "work_artist_id", "work_kind", "work_id", "date", "media_id"}
	mock.ExpectQuery("WHERE media_id IS NULL ORDER BY created_at, id LIMIT").WithArgs(5).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("p2", "gvb", "https://g/2", "Song", "track", "a1", "tracks", "w1", (*time.Time)(nil), (*string)(nil)))
	mock.ExpectExec("UPDATE posts SET date").WithArgs("p2", pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	posts, err := store.PostsMissingMedia(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, ingest.SourceGVB, posts[0].Source)
	require.Nil(t, posts[0].Date)
	require.Empty(t, posts[0].MediaID)

	require.NoError(t, store.SetPostDate(context.Background(), "p2", &at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaRunsEveryStatement(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	for range schema {
		mock.ExpectExec("CREATE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewDocStoreWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewDocStoreWithPool(nil, nil)
	require.Error(t, err)
	_, err = Open(context.Background(), Config{}, nil)
	require.Error(t, err)
}
