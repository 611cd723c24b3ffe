// Package media classifies embedded-player URLs into deduplicated media
// records.
package media

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/postsync/internal/ingest"
)

// Classifier maps raw embed URLs to media records keyed by
// hash("type_externalID"), so cosmetic URL variants share one record.
type Classifier struct {
	platforms []Platform
	hasher    ingest.IDHasher
	logger    *zap.Logger
}

// NewClassifier builds a Classifier over the given platforms. A nil slice
// selects DefaultPlatforms.
func NewClassifier(hasher ingest.IDHasher, platforms []Platform, logger *zap.Logger) *Classifier {
	if platforms == nil {
		platforms = DefaultPlatforms()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		platforms: platforms,
		hasher:    hasher,
		logger:    logger,
	}
}

// Classify returns the media record for rawURL. An empty URL or one that
// matches no platform yields nil without error.
func (c *Classifier) Classify(rawURL string) (*ingest.MediaRecord, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, nil
	}
	u, err := parseEmbedURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse media url %q: %w", rawURL, err)
	}
	host := strings.ToLower(u.Hostname())
	for _, p := range c.platforms {
		if !strings.Contains(host, p.Marker) && !(u.Scheme == p.Marker) {
			continue
		}
		externalID, err := p.Parse(u)
		if err != nil {
			return nil, fmt.Errorf("%s url %q: %w", p.Type, rawURL, err)
		}
		return &ingest.MediaRecord{
			ID:         c.hasher.ID(string(p.Type) + "_" + externalID),
			Type:       p.Type,
			ExternalID: externalID,
			URL:        rawURL,
		}, nil
	}
	c.logger.Debug("media url matched no platform", zap.String("url", rawURL))
	return nil, nil
}

// Attach classifies rawURL for a stored post. When a record results it is
// created if absent and the post's media field is merged; other post fields
// are untouched.
func (c *Classifier) Attach(
	ctx context.Context,
	w ingest.MediaWriter,
	postID string,
	rawURL string,
) (*ingest.MediaRecord, error) {
	rec, err := c.Classify(rawURL)
	if err != nil || rec == nil {
		return nil, err
	}
	exists, err := w.MediaExists(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("check media %s: %w", rec.ID, err)
	}
	if !exists {
		if err := w.CreateMedia(ctx, *rec); err != nil {
			return nil, fmt.Errorf("create media %s: %w", rec.ID, err)
		}
	}
	if err := w.SetPostMedia(ctx, postID, rec.ID); err != nil {
		return nil, fmt.Errorf("set media on post %s: %w", postID, err)
	}
	return rec, nil
}

func parseEmbedURL(raw string) (*url.URL, error) {
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	} else if !strings.Contains(raw, "://") && !strings.HasPrefix(raw, "spotify:") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller
	}
	return u, nil
}
