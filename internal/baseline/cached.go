package baseline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/resistance-prediction-engine/internal/domain"
)

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Errors int64 `json:"errors"`
}

// CachedProvider keeps recently used population baselines in an in-memory LRU cache.
type CachedProvider struct {
	next   Provider
	cache  *lru.Cache
	ttl    time.Duration
	logger *logrus.Logger

	statsMu sync.Mutex
	stats   CacheStats
}

type cacheEntry struct {
	snapshot *domain.FeatureSnapshot
	expiry   time.Time
}

func (e *cacheEntry) isExpired() bool {
	return time.Now().After(e.expiry)
}

// NewCachedProvider wraps next with an LRU cache of size entries, each kept for ttl.
func NewCachedProvider(next Provider, size int, ttl time.Duration, logger *logrus.Logger) (*CachedProvider, error) {
	if size <= 0 {
		size = 64
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create baseline cache: %w", err)
	}

	return &CachedProvider{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// PopulationBaseline implements Provider.
func (p *CachedProvider) PopulationBaseline(ctx context.Context, disease string) (*domain.FeatureSnapshot, error) {
	key := domain.NormalizeDisease(disease)

	if value, ok := p.cache.Get(key); ok {
		if entry, ok := value.(*cacheEntry); ok && !entry.isExpired() {
			p.record(func(s *CacheStats) { s.Hits++ })
			return entry.snapshot, nil
		}
		p.cache.Remove(key)
	}
	p.record(func(s *CacheStats) { s.Misses++ })

	snapshot, err := p.next.PopulationBaseline(ctx, disease)
	if err != nil {
		p.record(func(s *CacheStats) { s.Errors++ })
		return nil, err
	}

	// Snapshots are immutable so the cached pointer can be shared across requests.
	p.cache.Add(key, &cacheEntry{snapshot: snapshot, expiry: time.Now().Add(p.ttl)})

	p.logger.WithFields(logrus.Fields{
		"disease":  key,
		"features": snapshot.Len(),
	}).Debug("Cached population baseline")

	return snapshot, nil
}

// Stats returns a copy of the cache statistics.
func (p *CachedProvider) Stats() CacheStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

// Invalidate drops the cached baseline for a disease.
func (p *CachedProvider) Invalidate(disease string) {
	p.cache.Remove(domain.NormalizeDisease(disease))
}

func (p *CachedProvider) record(update func(*CacheStats)) {
	p.statsMu.Lock()
	update(&p.stats)
	p.statsMu.Unlock()
}
