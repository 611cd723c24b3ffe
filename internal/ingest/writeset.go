package ingest

import (
	"errors"
	"fmt"
	"time"
)

// Write is one staged document mutation. The set of implementations is
// closed; backends apply them with a type switch.
type Write interface {
	isWrite()
}

// UpsertArtist merges the artist's name into artists/{ID}.
type UpsertArtist struct {
	ID   string
	Name string
}

// UpsertWork merges the work's name into its owner's sub-collection.
type UpsertWork struct {
	Ref  WorkRef
	Name string
}

// AddFeatured adds Work to artists/{ArtistID}.featured without duplicates.
type AddFeatured struct {
	ArtistID string
	Work     WorkRef
}

// EnsureMedia creates the record unless one with the same id exists.
type EnsureMedia struct {
	Record MediaRecord
}

// CreatePost writes a new post document.
type CreatePost struct {
	Post StoredPost
}

// SetCheckpoint overwrites settings.timestamps.lastScrape.
type SetCheckpoint struct {
	At time.Time
}

func (UpsertArtist) isWrite()  {}
func (UpsertWork) isWrite()    {}
func (AddFeatured) isWrite()   {}
func (EnsureMedia) isWrite()   {}
func (CreatePost) isWrite()    {}
func (SetCheckpoint) isWrite() {}

// WriteSet accumulates writes in construction order. It is not safe for
// concurrent use.
type WriteSet struct {
	writes []Write
	posts  int
}

// NewWriteSet returns an empty WriteSet.
func NewWriteSet() *WriteSet {
	return &WriteSet{}
}

// Add appends a write.
func (ws *WriteSet) Add(w Write) {
	if _, ok := w.(CreatePost); ok {
		ws.posts++
	}
	ws.writes = append(ws.writes, w)
}

// Writes returns a copy of the staged writes in order.
func (ws *WriteSet) Writes() []Write {
	if ws == nil {
		return nil
	}
	out := make([]Write, len(ws.writes))
	copy(out, ws.writes)
	return out
}

// Len reports the number of staged writes.
func (ws *WriteSet) Len() int {
	if ws == nil {
		return 0
	}
	return len(ws.writes)
}

// Posts reports how many posts the set creates.
func (ws *WriteSet) Posts() int {
	if ws == nil {
		return 0
	}
	return ws.posts
}

// Validate rejects sets a backend could only partially apply.
func (ws *WriteSet) Validate() error {
	if ws == nil {
		return errors.New("write set is nil")
	}
	postIDs := make(map[string]struct{}, ws.posts)
	for i, w := range ws.writes {
		if err := validateWrite(w); err != nil {
			return fmt.Errorf("write %d: %w", i, err)
		}
		if cp, ok := w.(CreatePost); ok {
			if _, dup := postIDs[cp.Post.ID]; dup {
				return fmt.Errorf("write %d: duplicate post id %q", i, cp.Post.ID)
			}
			postIDs[cp.Post.ID] = struct{}{}
		}
	}
	return nil
}

func validateWrite(w Write) error {
	switch v := w.(type) {
	case UpsertArtist:
		if v.ID == "" {
			return errors.New("artist id is required")
		}
	case UpsertWork:
		return validateRef(v.Ref)
	case AddFeatured:
		if v.ArtistID == "" {
			return errors.New("featured artist id is required")
		}
		return validateRef(v.Work)
	case EnsureMedia:
		if v.Record.ID == "" {
			return errors.New("media id is required")
		}
	case CreatePost:
		if v.Post.ID == "" {
			return errors.New("post id is required")
		}
		return validateRef(v.Post.Work)
	case SetCheckpoint:
		if v.At.IsZero() {
			return errors.New("checkpoint time is required")
		}
	default:
		return fmt.Errorf("unsupported write %T", w)
	}
	return nil
}

func validateRef(ref WorkRef) error {
	if ref.ArtistID == "" || ref.ID == "" {
		return errors.New("work reference is incomplete")
	}
	switch ref.Kind {
	case WorkKindAlbum, WorkKindTrack:
		return nil
	default:
		return fmt.Errorf("unknown work kind %q", ref.Kind)
	}
}
