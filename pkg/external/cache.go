package external

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/resistance-prediction-engine/internal/domain"
)

const playbookKeyPrefix = "playbook:next-line:"

// PlaybookCache keeps playbook responses in Redis.
type PlaybookCache struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// NewPlaybookCache connects to Redis and verifies the connection.
func NewPlaybookCache(config domain.CacheConfig) (*PlaybookCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	if config.MaxRetries > 0 {
		opts.MaxRetries = config.MaxRetries
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := config.DefaultTTL
	if ttl == 0 {
		ttl = time.Hour
	}

	return &PlaybookCache{
		redis:      client,
		defaultTTL: ttl,
	}, nil
}

// CachedNextLineResponse represents a cached playbook answer with metadata
type CachedNextLineResponse struct {
	Data      *NextLineResponse `json:"data"`
	CachedAt  time.Time         `json:"cached_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Get retrieves a cached response for the request.
func (c *PlaybookCache) Get(ctx context.Context, req *NextLineRequest) (*NextLineResponse, bool, error) {
	key := PlaybookCacheKey(req)

	val, err := c.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get playbook cache: %w", err)
	}

	var cached CachedNextLineResponse
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	return cached.Data, true, nil
}

// Set caches a response. A zero ttl uses the default.
func (c *PlaybookCache) Set(ctx context.Context, req *NextLineRequest, resp *NextLineResponse, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	cached := CachedNextLineResponse{
		Data:      resp,
		CachedAt:  time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}

	jsonData, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal playbook cache data: %w", err)
	}

	return c.redis.Set(ctx, PlaybookCacheKey(req), jsonData, ttl).Err()
}

// Invalidate removes every cached playbook response.
func (c *PlaybookCache) Invalidate(ctx context.Context) error {
	keys, err := c.redis.Keys(ctx, playbookKeyPrefix+"*").Result()
	if err != nil {
		return fmt.Errorf("failed to list playbook cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...).Err()
}

// Health pings Redis.
func (c *PlaybookCache) Health(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *PlaybookCache) Close() error {
	return c.redis.Close()
}

// PlaybookCacheKey hashes the request fields that determine the answer. Patient ID is excluded
// so identical clinical situations share entries and no identifier is stored in the key.
func PlaybookCacheKey(req *NextLineRequest) string {
	resistance := append([]string(nil), req.DetectedResistance...)
	sort.Strings(resistance)
	priors := make([]string, 0, len(req.PriorTherapies))
	for _, p := range req.PriorTherapies {
		priors = append(priors, domain.NormalizeDrugClass(p))
	}
	sort.Strings(priors)

	parts := []string{
		domain.NormalizeDisease(req.Disease),
		strings.Join(resistance, ","),
		strings.ToLower(strings.TrimSpace(req.CurrentRegimen)),
		domain.NormalizeDrugClass(req.CurrentDrugClass),
		fmt.Sprintf("%d", req.TreatmentLine),
		strings.Join(priors, ","),
	}
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%s%x", playbookKeyPrefix, hash[:16])
}
