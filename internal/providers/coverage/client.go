package coverage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"tutormarket/searchservice/internal/domain"
	"tutormarket/searchservice/internal/geo"
	"tutormarket/searchservice/internal/providers/common"
)

const (
	defaultBaseURL     = "http://localhost:8000"
	defaultUserAgent   = "tutormarket-search/1.0"
	defaultChunkSize   = 100
	defaultConcurrency = 4
	maxPayloadBytes    = 16 * 1024 * 1024

	bulkPath = "/api/addresses/coverage/bulk"
)

type Config struct {
	BaseURL     string
	UserAgent   string
	ChunkSize   int
	Concurrency int
	Client      *http.Client
	Logger      *slog.Logger
}

// Client fetches instructor coverage areas as GeoJSON.
type Client struct {
	client      *http.Client
	baseURL     string
	userAgent   string
	chunkSize   int
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

func NewClient(cfg Config) *Client {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client:      client,
		baseURL:     baseURL,
		userAgent:   userAgent,
		chunkSize:   chunkSize,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// BulkCoverage fetches coverage for ids in chunks and merges the features.
// Features returned by several chunks are merged by id.
func (c *Client) BulkCoverage(ctx context.Context, ids []string) (*domain.CoverageCollection, error) {
	unique := common.UniqueIDs(ids)
	if len(unique) == 0 {
		return &domain.CoverageCollection{}, nil
	}
	chunks := common.ChunkIDs(unique, c.chunkSize)
	parts := make([]*domain.CoverageCollection, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			part, err := c.fetchChunk(gctx, chunk)
			if err != nil {
				return err
			}
			parts[i] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("bulk coverage: %w", err)
	}
	return mergeCollections(parts), nil
}

func (c *Client) fetchChunk(ctx context.Context, ids []string) (*domain.CoverageCollection, error) {
	values := url.Values{}
	values.Set("ids", strings.Join(ids, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+bulkPath+"?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, common.NewStatusError("coverage", resp, c.now())
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, err
	}
	collection, dropped, err := geo.DecodeCoverage(payload)
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		c.logger.Debug("skipped unusable coverage features", slog.Int("dropped", dropped), slog.Int("ids", len(ids)))
	}
	return collection, nil
}

func mergeCollections(parts []*domain.CoverageCollection) *domain.CoverageCollection {
	merged := &domain.CoverageCollection{}
	byID := make(map[string]int)
	for _, part := range parts {
		if part == nil {
			continue
		}
		for _, feature := range part.Features {
			if feature.ID == "" {
				merged.Features = append(merged.Features, feature)
				continue
			}
			pos, ok := byID[feature.ID]
			if !ok {
				byID[feature.ID] = len(merged.Features)
				feature.InstructorIDs = append([]string(nil), feature.InstructorIDs...)
				merged.Features = append(merged.Features, feature)
				continue
			}
			existing := &merged.Features[pos]
			for _, id := range feature.InstructorIDs {
				if !slices.Contains(existing.InstructorIDs, id) {
					existing.InstructorIDs = append(existing.InstructorIDs, id)
				}
			}
		}
	}
	return merged
}
