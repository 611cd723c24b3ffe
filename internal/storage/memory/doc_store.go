package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/postsync/internal/ingest"
)

// DocStore is an in-process document store. Commits build a modified copy of
// the graph and swap it in, so a failing write leaves no trace.
type DocStore struct {
	mu    sync.RWMutex
	graph *graph
}

var _ ingest.DocumentStore = (*DocStore)(nil)

type artistDoc struct {
	name     string
	featured []ingest.WorkRef
}

type graph struct {
	artists    map[string]*artistDoc
	works      map[ingest.WorkRef]string
	media      map[string]ingest.MediaRecord
	posts      map[string]ingest.StoredPost
	order      []string
	checkpoint *time.Time
}

func newGraph() *graph {
	return &graph{
		artists: make(map[string]*artistDoc),
		works:   make(map[ingest.WorkRef]string),
		media:   make(map[string]ingest.MediaRecord),
		posts:   make(map[string]ingest.StoredPost),
	}
}

func (g *graph) clone() *graph {
	out := newGraph()
	for id, a := range g.artists {
		out.artists[id] = &artistDoc{name: a.name, featured: append([]ingest.WorkRef(nil), a.featured...)}
	}
	for ref, name := range g.works {
		out.works[ref] = name
	}
	for id, rec := range g.media {
		out.media[id] = rec
	}
	for id, p := range g.posts {
		out.posts[id] = p
	}
	out.order = append([]string(nil), g.order...)
	if g.checkpoint != nil {
		cp := *g.checkpoint
		out.checkpoint = &cp
	}
	return out
}

// NewDocStore returns an empty store.
func NewDocStore() *DocStore {
	return &DocStore{graph: newGraph()}
}

// Checkpoint implements ingest.Store.
func (s *DocStore) Checkpoint(_ context.Context) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.graph.checkpoint == nil {
		return time.Time{}, false, nil
	}
	return *s.graph.checkpoint, true, nil
}

// Commit implements ingest.Store.
func (s *DocStore) Commit(_ context.Context, ws *ingest.WriteSet) error {
	if err := ws.Validate(); err != nil {
		return fmt.Errorf("invalid write set: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.graph.clone()
	for i, w := range ws.Writes() {
		if err := next.apply(w); err != nil {
			return fmt.Errorf("apply write %d: %w", i, err)
		}
	}
	s.graph = next
	return nil
}

func (g *graph) apply(w ingest.Write) error {
	switch v := w.(type) {
	case ingest.UpsertArtist:
		if a, ok := g.artists[v.ID]; ok {
			a.name = v.Name
			return nil
		}
		g.artists[v.ID] = &artistDoc{name: v.Name}
	case ingest.UpsertWork:
		if _, ok := g.artists[v.Ref.ArtistID]; !ok {
			return fmt.Errorf("work owner %s: %w", v.Ref.ArtistID, ingest.ErrNotFound)
		}
		g.works[v.Ref] = v.Name
	case ingest.AddFeatured:
		a, ok := g.artists[v.ArtistID]
		if !ok {
			return fmt.Errorf("featured artist %s: %w", v.ArtistID, ingest.ErrNotFound)
		}
		if _, ok := g.works[v.Work]; !ok {
			return fmt.Errorf("featured work %s: %w", v.Work.Path(), ingest.ErrNotFound)
		}
		for _, ref := range a.featured {
			if ref == v.Work {
				return nil
			}
		}
		a.featured = append(a.featured, v.Work)
	case ingest.EnsureMedia:
		if _, ok := g.media[v.Record.ID]; !ok {
			g.media[v.Record.ID] = v.Record
		}
	case ingest.CreatePost:
		return g.createPost(v.Post)
	case ingest.SetCheckpoint:
		at := v.At
		g.checkpoint = &at
	default:
		return fmt.Errorf("unsupported write %T", w)
	}
	return nil
}

func (g *graph) createPost(p ingest.StoredPost) error {
	if _, exists := g.posts[p.ID]; exists {
		return fmt.Errorf("post %s already exists", p.ID)
	}
	for _, id := range p.ArtistIDs {
		if _, ok := g.artists[id]; !ok {
			return fmt.Errorf("post %s artist %s: %w", p.ID, id, ingest.ErrNotFound)
		}
	}
	if _, ok := g.works[p.Work]; !ok {
		return fmt.Errorf("post %s work %s: %w", p.ID, p.Work.Path(), ingest.ErrNotFound)
	}
	if p.MediaID != "" {
		if _, ok := g.media[p.MediaID]; !ok {
			return fmt.Errorf("post %s media %s: %w", p.ID, p.MediaID, ingest.ErrNotFound)
		}
	}
	p.ArtistIDs = append([]string(nil), p.ArtistIDs...)
	g.posts[p.ID] = p
	g.order = append(g.order, p.ID)
	return nil
}

// Artist returns an artist with its featured references in insertion order.
func (s *DocStore) Artist(_ context.Context, id string) (ingest.Artist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.graph.artists[id]
	if !ok {
		return ingest.Artist{}, fmt.Errorf("artist %s: %w", id, ingest.ErrNotFound)
	}
	return ingest.Artist{
		ID:       id,
		Name:     a.name,
		Featured: append([]ingest.WorkRef(nil), a.featured...),
	}, nil
}

// Work returns an album or track.
func (s *DocStore) Work(_ context.Context, ref ingest.WorkRef) (ingest.Work, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.graph.works[ref]
	if !ok {
		return ingest.Work{}, fmt.Errorf("work %s: %w", ref.Path(), ingest.ErrNotFound)
	}
	return ingest.Work{Ref: ref, Name: name}, nil
}

// Media returns a media record.
func (s *DocStore) Media(_ context.Context, id string) (ingest.MediaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.graph.media[id]
	if !ok {
		return ingest.MediaRecord{}, fmt.Errorf("media %s: %w", id, ingest.ErrNotFound)
	}
	return rec, nil
}

// Post returns a stored post.
func (s *DocStore) Post(_ context.Context, id string) (ingest.StoredPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.graph.posts[id]
	if !ok {
		return ingest.StoredPost{}, fmt.Errorf("post %s: %w", id, ingest.ErrNotFound)
	}
	p.ArtistIDs = append([]string(nil), p.ArtistIDs...)
	return p, nil
}

// Posts returns every stored post in creation order.
func (s *DocStore) Posts(_ context.Context) ([]ingest.StoredPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.StoredPost, 0, len(s.graph.order))
	for _, id := range s.graph.order {
		out = append(out, s.graph.posts[id])
	}
	return out, nil
}

// Counts reports how many artists, works, media records and posts exist.
func (s *DocStore) Counts() (artists, works, media, posts int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.graph.artists), len(s.graph.works), len(s.graph.media), len(s.graph.posts)
}

// MediaExists implements ingest.MediaWriter.
func (s *DocStore) MediaExists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.graph.media[id]
	return ok, nil
}

// CreateMedia implements ingest.MediaWriter.
func (s *DocStore) CreateMedia(_ context.Context, rec ingest.MediaRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("media id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graph.media[rec.ID]; !ok {
		s.graph.media[rec.ID] = rec
	}
	return nil
}

// SetPostMedia implements ingest.MediaWriter.
func (s *DocStore) SetPostMedia(_ context.Context, postID, mediaID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.graph.posts[postID]
	if !ok {
		return fmt.Errorf("post %s: %w", postID, ingest.ErrNotFound)
	}
	if _, ok := s.graph.media[mediaID]; !ok {
		return fmt.Errorf("media %s: %w", mediaID, ingest.ErrNotFound)
	}
	p.MediaID = mediaID
	s.graph.posts[postID] = p
	return nil
}

// SetPostDate implements ingest.PostUpdater.
func (s *DocStore) SetPostDate(_ context.Context, postID string, date *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.graph.posts[postID]
	if !ok {
		return fmt.Errorf("post %s: %w", postID, ingest.ErrNotFound)
	}
	if date != nil {
		d := *date
		date = &d
	}
	p.Date = date
	s.graph.posts[postID] = p
	return nil
}

// PostsMissingMedia implements ingest.PostUpdater. A non-positive limit
// returns every match.
func (s *DocStore) PostsMissingMedia(_ context.Context, limit int) ([]ingest.StoredPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ingest.StoredPost
	for _, id := range s.graph.order {
		if limit > 0 && len(out) == limit {
			break
		}
		if p := s.graph.posts[id]; p.MediaID == "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// Close implements ingest.DocumentStore.
func (s *DocStore) Close() error {
	return nil
}
