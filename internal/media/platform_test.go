package media

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestYouTubeID(t *testing.T) {
	t.Parallel()

	for raw, want := range map[string]string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PL1": "dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ?t=42":                    "dQw4w9WgXcQ",
		"https://www.youtube.com/shorts/abc_DEF-1":             "abc_DEF-1",
		"https://www.youtube.com/v/abc":                        "abc",
	} {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		got, err := YouTubeID(u)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}

	u, _ := url.Parse("https://www.youtube.com/watch?v=bad%20id")
	_, err := YouTubeID(u)
	require.ErrorIs(t, err, ErrNoExternalID)
}

func TestSpotifyIDRejectsUnknownKinds(t *testing.T) {
	t.Parallel()

	u, _ := url.Parse("https://open.spotify.com/user/someone")
	_, err := SpotifyID(u)
	require.ErrorIs(t, err, ErrNoExternalID)

	u, _ = url.Parse("spotify:user:someone")
	_, err = SpotifyID(u)
	require.ErrorIs(t, err, ErrNoExternalID)
}

func TestBandcampIDWithoutWork(t *testing.T) {
	t.Parallel()

	u, _ := url.Parse("https://artist.bandcamp.com/")
	_, err := BandcampID(u)
	require.ErrorIs(t, err, ErrNoExternalID)
}

func TestDefaultPlatformOrder(t *testing.T) {
	t.Parallel()

	platforms := DefaultPlatforms()
	require.Len(t, platforms, 3)
	require.Equal(t, "youtu", platforms[0].Marker)
	require.Equal(t, "spotify", platforms[1].Marker)
	require.Equal(t, "bandcamp", platforms[2].Marker)
}
