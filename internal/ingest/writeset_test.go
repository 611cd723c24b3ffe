package ingest_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/postsync/internal/ingest"
)

func validRef() ingest.WorkRef {
	return ingest.WorkRef{ArtistID: "a1", Kind: ingest.WorkKindTrack, ID: "w1"}
}

func TestWriteSetCountsAndCopies(t *testing.T) {
	t.Parallel()

	ws := ingest.NewWriteSet()
	ws.Add(ingest.UpsertArtist{ID: "a1", Name: "A"})
	ws.Add(ingest.CreatePost{Post: ingest.StoredPost{ID: "p1", Work: validRef()}})
	require.Equal(t, 2, ws.Len())
	require.Equal(t, 1, ws.Posts())

	writes := ws.Writes()
	writes[0] = ingest.SetCheckpoint{At: time.Now()}
	require.IsType(t, ingest.UpsertArtist{}, ws.Writes()[0])

	var nilSet *ingest.WriteSet
	require.Zero(t, nilSet.Len())
	require.Nil(t, nilSet.Writes())
	require.Error(t, nilSet.Validate())
}

func TestWriteSetValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		write ingest.Write
		want  string
	}{
		{name: "artist id", write: ingest.UpsertArtist{Name: "x"}, want: "artist id"},
		{name: "work ref", write: ingest.UpsertWork{Ref: ingest.WorkRef{Kind: ingest.WorkKindAlbum}}, want: "incomplete"},
		{name: "work kind", write: ingest.UpsertWork{Ref: ingest.WorkRef{ArtistID: "a", ID: "w", Kind: "eps"}}, want: "unknown work kind"},
		{name: "featured artist", write: ingest.AddFeatured{Work: validRef()}, want: "featured artist id"},
		{name: "media id", write: ingest.EnsureMedia{}, want: "media id"},
		{name: "post id", write: ingest.CreatePost{Post: ingest.StoredPost{Work: validRef()}}, want: "post id"},
		{name: "checkpoint", write: ingest.SetCheckpoint{}, want: "checkpoint time"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ws := ingest.NewWriteSet()
			ws.Add(tc.write)
			require.ErrorContains(t, ws.Validate(), tc.want)
		})
	}
}

func TestWriteSetRejectsDuplicatePosts(t *testing.T) {
	t.Parallel()

	ws := ingest.NewWriteSet()
	post := ingest.CreatePost{Post: ingest.StoredPost{ID: "p1", Work: validRef()}}
	ws.Add(post)
	require.NoError(t, ws.Validate())
	ws.Add(post)
	require.ErrorContains(t, ws.Validate(), "duplicate post id")
}

func TestWorkRefPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "artists/a1/tracks/w1", validRef().Path())
}

func TestPostCreditedArtists(t *testing.T) {
	t.Parallel()

	p := ingest.Post{Artists: []string{" A ", "", "B"}}
	require.Equal(t, []string{"A", "B"}, p.CreditedArtists())
	kind, ok := ingest.PostTypeTrack.WorkKind()
	require.True(t, ok)
	require.Equal(t, ingest.WorkKindTrack, kind)
	_, ok = ingest.PostType("single").WorkKind()
	require.False(t, ok)
}
