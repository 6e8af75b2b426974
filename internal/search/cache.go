package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"tutormarket/searchservice/internal/domain"
	"tutormarket/searchservice/internal/metrics"
	"tutormarket/searchservice/internal/providers/common"
)

const (
	defaultCoverageCacheTTL        = 15 * time.Minute
	defaultCoverageCacheMaxEntries = 500
)

type cachedCoverage struct {
	collection *domain.CoverageCollection
	updatedAt  time.Time
	expiresAt  time.Time
}

// coverageCache keeps bulk coverage responses per instructor-id set. Redis is
// consulted first when configured; memory is always kept as a second tier.
// Cached collections are shared between sessions and must not be mutated.
type coverageCache struct {
	mu         sync.Mutex
	entries    map[string]*cachedCoverage
	ttl        time.Duration
	maxEntries int
	disabled   bool
	redis      *RedisCoverageCache
}

func newCoverageCache() *coverageCache {
	return &coverageCache{
		entries:    make(map[string]*cachedCoverage),
		ttl:        defaultCoverageCacheTTL,
		maxEntries: defaultCoverageCacheMaxEntries,
	}
}

func (c *coverageCache) lookup(ctx context.Context, key string, now time.Time) (*domain.CoverageCollection, bool) {
	if c.disabled {
		return nil, false
	}
	if c.redis != nil {
		collection, found, err := c.redis.Get(ctx, key)
		if err == nil && found {
			metrics.CoverageCacheHitsTotal.Inc()
			c.storeMemory(key, collection, now)
			return collection, true
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		metrics.CoverageCacheMissesTotal.Inc()
		return nil, false
	}
	if now.Before(entry.expiresAt) {
		metrics.CoverageCacheHitsTotal.Inc()
		return entry.collection, true
	}
	metrics.CoverageCacheMissesTotal.Inc()
	delete(c.entries, key)
	return nil, false
}

func (c *coverageCache) store(ctx context.Context, key string, collection *domain.CoverageCollection, now time.Time, logger *slog.Logger) {
	if c.disabled || collection == nil {
		return
	}
	if c.redis != nil {
		if err := c.redis.Set(ctx, key, collection, c.ttl); err != nil {
			logger.Debug("coverage redis store failed", slog.String("error", err.Error()))
		}
	}
	c.storeMemory(key, collection, now)
}

func (c *coverageCache) storeMemory(key string, collection *domain.CoverageCollection, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &cachedCoverage{
		collection: collection,
		updatedAt:  now,
		expiresAt:  now.Add(c.ttl),
	}
	c.trimLocked(now)
}

func (c *coverageCache) trimLocked(now time.Time) {
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) <= c.maxEntries {
		return
	}

	type pair struct {
		key   string
		entry *cachedCoverage
	}
	items := make([]pair, 0, len(c.entries))
	for key, entry := range c.entries {
		items = append(items, pair{key: key, entry: entry})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].entry.updatedAt.Before(items[j].entry.updatedAt)
	})
	for i := 0; i < len(items)-c.maxEntries; i++ {
		delete(c.entries, items[i].key)
	}
}

// coverageCacheKey is order-insensitive over the id set.
func coverageCacheKey(ids []string) string {
	sum := sha256.Sum256([]byte(strings.Join(common.UniqueIDs(ids), ",")))
	return hex.EncodeToString(sum[:])
}

// loadCoverage returns coverage for the given instructors, or nil when the
// source is missing, cooling down or failing. Map features are optional, so
// failures never reach the caller.
func (s *Service) loadCoverage(ctx context.Context, ids []string) *domain.CoverageCollection {
	if s.coverage == nil || len(ids) == 0 {
		return nil
	}
	now := time.Now()
	key := coverageCacheKey(ids)
	if collection, ok := s.coverageCache.lookup(ctx, key, now); ok {
		return collection
	}
	if blocked, until := s.isUpstreamBlocked(upstreamCoverage, now); blocked {
		s.logger.Debug("coverage upstream cooling down", slog.Time("until", until))
		return nil
	}

	var collection *domain.CoverageCollection
	err := s.callUpstream(ctx, upstreamCoverage, func(ctx context.Context) error {
		result, err := s.coverage.BulkCoverage(ctx, ids)
		collection = result
		return err
	})
	if err != nil {
		s.logger.Warn("coverage lookup failed",
			slog.Int("instructors", len(ids)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	s.coverageCache.store(ctx, key, collection, time.Now(), s.logger)
	return collection
}

// buildQueryKey identifies one query; responses tagged with an older key are
// stale.
func buildQueryKey(params domain.SearchParams) string {
	return strings.Join([]string{
		"q=" + strings.ToLower(strings.TrimSpace(params.Query)),
		"m=" + string(params.Mode),
		"pp=" + strconv.Itoa(params.PerPage),
		"f=" + filtersKey(params.Filters),
	}, "|")
}

func filtersKey(filters domain.SearchFilters) string {
	return strings.Join([]string{
		"c=" + strings.ToLower(strings.TrimSpace(filters.CatalogID)),
		"min=" + strconv.FormatFloat(filters.MinPrice, 'f', 2, 64),
		"max=" + strconv.FormatFloat(filters.MaxPrice, 'f', 2, 64),
		"ag=" + strings.ToLower(strings.TrimSpace(filters.AgeGroup)),
		"sl=" + strings.Join(normalizeNames(filters.SkillLevels), ","),
		"lt=" + strings.Join(normalizeNames(filters.LocationTypes), ","),
		"d=" + strconv.Itoa(filters.Duration),
		"dt=" + strings.TrimSpace(filters.Date),
	}, ";")
}

func normalizeNames(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	names := make([]string, 0, len(values))
	for _, raw := range values {
		value := strings.ToLower(strings.TrimSpace(raw))
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		names = append(names, value)
	}
	sort.Strings(names)
	return names
}
