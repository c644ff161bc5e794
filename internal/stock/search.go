package stock

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/text/width"

	"github.com/omahaaigc/agent-chat/internal/domain"
)

// Source performs the raw upstream search call.
type Source interface {
	SearchStocks(ctx context.Context, key string) (json.RawMessage, error)
}

// Searcher runs stock searches with a short-lived result cache.
type Searcher struct {
	src   Source
	cache *ttlcache.Cache[string, []domain.StockItem]
}

// NewSearcher creates a searcher. A non-positive cacheTTL disables caching.
func NewSearcher(src Source, cacheTTL time.Duration) *Searcher {
	s := &Searcher{src: src}
	if cacheTTL > 0 {
		s.cache = ttlcache.New[string, []domain.StockItem](
			ttlcache.WithTTL[string, []domain.StockItem](cacheTTL),
			ttlcache.WithDisableTouchOnHit[string, []domain.StockItem](),
		)
		go s.cache.Start()
	}
	return s
}

// Search returns normalized matches for query. An empty query returns an
// empty list without contacting upstream.
func (s *Searcher) Search(ctx context.Context, query string) ([]domain.StockItem, error) {
	key := NormalizeQuery(query)
	if key == "" {
		return []domain.StockItem{}, nil
	}

	if s.cache != nil {
		if item := s.cache.Get(key); item != nil {
			return item.Value(), nil
		}
	}

	body, err := s.src.SearchStocks(ctx, key)
	if err != nil {
		return nil, err
	}
	items, err := Normalize(body)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(key, items, ttlcache.DefaultTTL)
	}
	slog.Debug("Stock search completed", "query", key, "results", len(items))
	return items, nil
}

// Close stops the cache janitor.
func (s *Searcher) Close() {
	if s.cache != nil {
		s.cache.Stop()
	}
}

// NormalizeQuery trims the query and folds full-width characters typed by
// CJK input methods to their narrow forms.
func NormalizeQuery(query string) string {
	return strings.TrimSpace(width.Fold.String(strings.TrimSpace(query)))
}
