package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Summary describes what a Submit call staged and committed.
type Summary struct {
	Candidates         int        `json:"candidates"`
	Ingested           int        `json:"ingested"`
	DroppedByCutoff    int        `json:"dropped_by_cutoff"`
	Invalid            int        `json:"invalid"`
	Writes             int        `json:"writes"`
	PreviousCheckpoint *time.Time `json:"previous_checkpoint,omitempty"`
	Checkpoint         time.Time  `json:"checkpoint"`
}

// Batcher builds the artist/work/post write-set for a run and commits it.
type Batcher struct {
	hasher IDHasher
	ids    IDGenerator
	clock  Clock
	logger *zap.Logger
}

// NewBatcher constructs a Batcher.
func NewBatcher(hasher IDHasher, ids IDGenerator, clock Clock, logger *zap.Logger) *Batcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{
		hasher: hasher,
		ids:    ids,
		clock:  clock,
		logger: logger,
	}
}

// Submit filters results against the stored checkpoint, stages every write
// for the surviving posts plus a new checkpoint, and commits them with a
// single store.Commit. When the commit fails nothing is applied and the
// checkpoint stays where it was.
func (b *Batcher) Submit(ctx context.Context, results []SourceResult, store Store) (Summary, error) {
	var cutoff *time.Time
	ts, ok, err := store.Checkpoint(ctx)
	switch {
	case err != nil:
		b.logger.Warn("checkpoint read failed; running full resync", zap.Error(err))
	case ok:
		cutoff = &ts
	}

	ws, summary, err := b.build(cutoff, results)
	if err != nil {
		return summary, err
	}
	if err := store.Commit(ctx, ws); err != nil {
		return summary, fmt.Errorf("commit write set: %w", err)
	}
	b.logger.Info("write set committed",
		zap.Int("posts", summary.Ingested),
		zap.Int("writes", summary.Writes),
		zap.Int("dropped_by_cutoff", summary.DroppedByCutoff),
		zap.Int("invalid", summary.Invalid),
		zap.Time("checkpoint", summary.Checkpoint),
	)
	return summary, nil
}

func (b *Batcher) build(cutoff *time.Time, results []SourceResult) (*WriteSet, Summary, error) {
	summary := Summary{PreviousCheckpoint: cutoff}
	ws := NewWriteSet()
	for _, result := range results {
		for _, post := range result.Posts {
			summary.Candidates++
			if cutoff != nil && (post.Date == nil || post.Date.Before(*cutoff)) {
				summary.DroppedByCutoff++
				continue
			}
			staged, err := b.stagePost(ws, post)
			if err != nil {
				return nil, summary, err
			}
			if !staged {
				summary.Invalid++
				continue
			}
			summary.Ingested++
		}
	}
	summary.Checkpoint = b.clock.Now()
	ws.Add(SetCheckpoint{At: summary.Checkpoint})
	summary.Writes = ws.Len()
	return ws, summary, nil
}

// stagePost adds the writes for one post. It reports false for posts that
// cannot be placed in the graph.
func (b *Batcher) stagePost(ws *WriteSet, post Post) (bool, error) {
	kind, ok := post.Type.WorkKind()
	if !ok {
		b.logger.Warn("skipping post with unknown type",
			zap.String("url", post.URL), zap.String("type", string(post.Type)))
		return false, nil
	}
	artists := post.CreditedArtists()
	title := strings.TrimSpace(post.Title)
	if len(artists) == 0 || title == "" {
		b.logger.Warn("skipping post without artist or title", zap.String("url", post.URL))
		return false, nil
	}

	postID, err := b.ids.NewID()
	if err != nil {
		return false, fmt.Errorf("allocate post id: %w", err)
	}

	// The owner and its work are fixed before any featured reference is
	// staged.
	ownerID := b.hasher.ID(artists[0])
	work := WorkRef{ArtistID: ownerID, Kind: kind, ID: b.hasher.ID(title)}
	ws.Add(UpsertArtist{ID: ownerID, Name: artists[0]})
	ws.Add(UpsertWork{Ref: work, Name: title})

	artistIDs := make([]string, len(artists))
	artistIDs[0] = ownerID
	featured := make(map[string]struct{}, len(artists)-1)
	for i := 1; i < len(artists); i++ {
		id := b.hasher.ID(artists[i])
		artistIDs[i] = id
		if id == ownerID {
			continue
		}
		ws.Add(UpsertArtist{ID: id, Name: artists[i]})
		if _, seen := featured[id]; seen {
			continue
		}
		featured[id] = struct{}{}
		ws.Add(AddFeatured{ArtistID: id, Work: work})
	}

	stored := StoredPost{
		ID:        postID,
		Source:    post.Source,
		URL:       post.URL,
		Title:     post.Title,
		Type:      post.Type,
		ArtistIDs: artistIDs,
		Work:      work,
		Date:      post.Date,
	}
	if post.Media != nil && post.Media.ID != "" {
		ws.Add(EnsureMedia{Record: *post.Media})
		stored.MediaID = post.Media.ID
	}
	ws.Add(CreatePost{Post: stored})
	return true, nil
}
