package ingest

import (
	"strings"
	"time"
)

// Source identifies the site a post was crawled from.
type Source string

// Known sources. Each one has a matching enrichment profile.
const (
	SourceBleep     Source = "bleep"
	SourceGVB       Source = "gvb"
	SourcePitchfork Source = "pitchfork"
	SourceStereogum Source = "stereogum"
)

// PostType distinguishes album posts from track posts.
type PostType string

// Post types.
const (
	PostTypeAlbum PostType = "album"
	PostTypeTrack PostType = "track"
)

// WorkKind returns the artist sub-collection a post's work is stored in.
func (t PostType) WorkKind() (WorkKind, bool) {
	switch t {
	case PostTypeAlbum:
		return WorkKindAlbum, true
	case PostTypeTrack:
		return WorkKindTrack, true
	default:
		return "", false
	}
}

// WorkKind names an artist sub-collection.
type WorkKind string

// Work sub-collections.
const (
	WorkKindAlbum WorkKind = "albums"
	WorkKindTrack WorkKind = "tracks"
)

// MediaType is the platform hosting an embedded player.
type MediaType string

// Supported media platforms, in match order.
const (
	MediaTypeYouTube  MediaType = "youtube"
	MediaTypeSpotify  MediaType = "spotify"
	MediaTypeBandcamp MediaType = "bandcamp"
)

// Post is a normalized item produced by a crawler. Artists is in credit
// order and index 0 owns the work. EmbedURL is only set by crawlers for
// sources that embed media directly in the listing.
type Post struct {
	ID       string       `json:"id,omitempty"`
	Source   Source       `json:"source"`
	URL      string       `json:"url"`
	Title    string       `json:"title"`
	Type     PostType     `json:"type"`
	Artists  []string     `json:"artists"`
	Date     *time.Time   `json:"date,omitempty"`
	EmbedURL string       `json:"embed_url,omitempty"`
	Media    *MediaRecord `json:"media,omitempty"`
}

// CreditedArtists returns the trimmed, non-empty artist names in credit order.
func (p Post) CreditedArtists() []string {
	out := make([]string, 0, len(p.Artists))
	for _, name := range p.Artists {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out = append(out, name)
	}
	return out
}

// Artist is a stored artist document.
type Artist struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Featured []WorkRef `json:"featured,omitempty"`
}

// WorkRef addresses a work inside its owner's sub-collection.
type WorkRef struct {
	ArtistID string   `json:"artist_id"`
	Kind     WorkKind `json:"kind"`
	ID       string   `json:"id"`
}

// Path renders the reference in document-path form.
func (r WorkRef) Path() string {
	return "artists/" + r.ArtistID + "/" + string(r.Kind) + "/" + r.ID
}

// Work is a stored album or track.
type Work struct {
	Ref  WorkRef `json:"ref"`
	Name string  `json:"name"`
}

// MediaRecord is a deduplicated embedded-media reference.
type MediaRecord struct {
	ID         string    `json:"id"`
	Type       MediaType `json:"type"`
	ExternalID string    `json:"external_id"`
	URL        string    `json:"url"`
}

// StoredPost is the persisted form of a Post with resolved references.
type StoredPost struct {
	ID        string     `json:"id"`
	Source    Source     `json:"source"`
	URL       string     `json:"url"`
	Title     string     `json:"title"`
	Type      PostType   `json:"type"`
	ArtistIDs []string   `json:"artists"`
	Work      WorkRef    `json:"work"`
	Date      *time.Time `json:"date,omitempty"`
	MediaID   string     `json:"media,omitempty"`
}

// SourceResult is one crawler's output.
type SourceResult struct {
	Crawler string
	Source  Source
	Posts   []Post
}
