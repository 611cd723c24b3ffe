package crawl

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/postsync/internal/ingest"
)

// Roster builds the enabled crawlers, in order, from their definitions.
// Naming a crawler without a definition is an error.
func Roster(enabled []string, defs map[string]Definition, scraper ListScraper, logger *zap.Logger) ([]ingest.Crawler, error) {
	crawlers := make([]ingest.Crawler, 0, len(enabled))
	seen := make(map[string]struct{}, len(enabled))
	for _, name := range enabled {
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: crawler %s enabled twice", ErrInvalidDefinition, name)
		}
		seen[name] = struct{}{}
		def, ok := defs[name]
		if !ok {
			return nil, fmt.Errorf("%w: no definition for crawler %s", ErrInvalidDefinition, name)
		}
		c, err := NewListingCrawler(name, def, scraper, logger)
		if err != nil {
			return nil, err
		}
		crawlers = append(crawlers, c)
	}
	return crawlers, nil
}
