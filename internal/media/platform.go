package media

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/postsync/internal/ingest"
)

// ErrNoExternalID is returned when a URL matches a platform but carries no
// recognizable id.
var ErrNoExternalID = errors.New("no external id in media url")

// Platform pairs a URL marker with the parser for that platform's ids.
type Platform struct {
	Type   ingest.MediaType
	Marker string
	Parse  func(u *url.URL) (string, error)
}

// DefaultPlatforms returns the supported platforms in match order.
func DefaultPlatforms() []Platform {
	return []Platform{
		{Type: ingest.MediaTypeYouTube, Marker: "youtu", Parse: YouTubeID},
		{Type: ingest.MediaTypeSpotify, Marker: "spotify", Parse: SpotifyID},
		{Type: ingest.MediaTypeBandcamp, Marker: "bandcamp", Parse: BandcampID},
	}
}

var youtubeID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// YouTubeID extracts the video id from watch, short, embed and youtu.be URLs.
// Query parameters other than v (timestamps, playlists) are ignored.
func YouTubeID(u *url.URL) (string, error) {
	if v := u.Query().Get("v"); youtubeID.MatchString(v) {
		return v, nil
	}
	segments := pathSegments(u)
	host := strings.ToLower(u.Hostname())
	switch {
	case strings.HasSuffix(host, "youtu.be") && len(segments) > 0:
		return checkYouTube(segments[0])
	case len(segments) > 1 && (segments[0] == "embed" || segments[0] == "shorts" || segments[0] == "v"):
		return checkYouTube(segments[1])
	}
	return "", ErrNoExternalID
}

func checkYouTube(candidate string) (string, error) {
	if !youtubeID.MatchString(candidate) {
		return "", ErrNoExternalID
	}
	return candidate, nil
}

var spotifyKinds = map[string]struct{}{
	"track":    {},
	"album":    {},
	"playlist": {},
	"artist":   {},
	"episode":  {},
	"show":     {},
}

// SpotifyID extracts "<kind>:<id>" from open.spotify.com URLs, with or
// without the embed/ prefix, and from spotify: URIs.
func SpotifyID(u *url.URL) (string, error) {
	if u.Scheme == "spotify" {
		parts := strings.Split(u.Opaque, ":")
		if len(parts) == 2 {
			if _, ok := spotifyKinds[parts[0]]; ok && parts[1] != "" {
				return parts[0] + ":" + parts[1], nil
			}
		}
		return "", ErrNoExternalID
	}
	segments := pathSegments(u)
	for i := 0; i+1 < len(segments); i++ {
		if _, ok := spotifyKinds[segments[i]]; ok && segments[i+1] != "" {
			return segments[i] + ":" + segments[i+1], nil
		}
	}
	return "", ErrNoExternalID
}

var bandcampPlayerID = regexp.MustCompile(`(?:^|/)(album|track)=(\d+)`)

// BandcampID extracts "<kind>:<n>" from EmbeddedPlayer URLs and falls back to
// host/path for public album and track pages.
func BandcampID(u *url.URL) (string, error) {
	if m := bandcampPlayerID.FindStringSubmatch(u.EscapedPath()); m != nil {
		return m[1] + ":" + m[2], nil
	}
	segments := pathSegments(u)
	host := strings.ToLower(u.Hostname())
	if len(segments) >= 2 && (segments[0] == "album" || segments[0] == "track") {
		return host + "/" + segments[0] + "/" + segments[1], nil
	}
	return "", ErrNoExternalID
}

func pathSegments(u *url.URL) []string {
	raw := strings.Split(strings.Trim(u.Path, "/"), "/")
	out := raw[:0]
	for _, s := range raw {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
