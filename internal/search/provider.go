package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"tutormarket/searchservice/internal/domain"
	"tutormarket/searchservice/internal/geo"
)

var (
	ErrInvalidQuery      = errors.New("query is required")
	ErrInvalidMode       = errors.New("unknown search mode")
	ErrMissingCatalogID  = errors.New("catalog search requires a service catalog id")
	ErrSessionNotFound   = errors.New("search session not found")
	ErrUnknownInstructor = errors.New("instructor is not in the displayed results")
	ErrInvalidDateRange  = errors.New("invalid availability date range")
	ErrInvalidViewport   = errors.New("viewport coordinates are out of range")
	ErrNoViewport        = errors.New("no map viewport to apply")
)

// SearchBackend returns raw upstream payloads; the normalizer owns decoding.
type SearchBackend interface {
	SearchNL(ctx context.Context, query string, filters domain.SearchFilters) ([]byte, error)
	SearchCatalog(ctx context.Context, filters domain.SearchFilters, page, perPage int) ([]byte, error)
}

type CoverageSource interface {
	BulkCoverage(ctx context.Context, instructorIDs []string) (*domain.CoverageCollection, error)
}

type AvailabilitySource interface {
	InstructorAvailability(ctx context.Context, instructorID, start, end string) (domain.InstructorAvailability, error)
}

type ClickTracker interface {
	Track(ctx context.Context, event domain.ClickEvent)
}

type Service struct {
	backend      SearchBackend
	coverage     CoverageSource
	availability AvailabilitySource
	tracker      ClickTracker
	timeout      time.Duration
	logger       *slog.Logger
	matchMode    geo.MatchMode
	retry        RetryConfig

	availabilityConcurrency int

	coverageCache *coverageCache
	sessions      *SessionStore
	flight        singleflight.Group
	janitorRun    atomic.Bool

	healthMu sync.Mutex
	health   map[string]*upstreamHealth
}

type ServiceOption func(*Service)

func WithCoverage(source CoverageSource) ServiceOption {
	return func(s *Service) {
		s.coverage = source
	}
}

func WithAvailability(source AvailabilitySource) ServiceOption {
	return func(s *Service) {
		s.availability = source
	}
}

func WithTracker(tracker ClickTracker) ServiceOption {
	return func(s *Service) {
		s.tracker = tracker
	}
}

func WithRedisCoverageCache(backend *RedisCoverageCache) ServiceOption {
	return func(s *Service) {
		s.coverageCache.redis = backend
	}
}

func WithCoverageCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.coverageCache.ttl = ttl
		}
	}
}

func WithCoverageCacheDisabled(disabled bool) ServiceOption {
	return func(s *Service) {
		s.coverageCache.disabled = disabled
	}
}

func WithMatchMode(mode geo.MatchMode) ServiceOption {
	return func(s *Service) {
		if mode != "" {
			s.matchMode = mode
		}
	}
}

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.sessions.ttl = ttl
		}
	}
}

func WithMaxSessions(limit int) ServiceOption {
	return func(s *Service) {
		if limit > 0 {
			s.sessions.maxEntries = limit
		}
	}
}

func WithAvailabilityConcurrency(limit int) ServiceOption {
	return func(s *Service) {
		if limit > 0 {
			s.availabilityConcurrency = limit
		}
	}
}

func WithRetryConfig(cfg RetryConfig) ServiceOption {
	return func(s *Service) {
		s.retry = cfg
	}
}

func NewService(backend SearchBackend, timeout time.Duration, opts ...ServiceOption) *Service {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	svc := &Service{
		backend:                 backend,
		timeout:                 timeout,
		logger:                  slog.Default(),
		matchMode:               geo.MatchIntersect,
		retry:                   DefaultRetryConfig(),
		availabilityConcurrency: defaultAvailabilityConcurrency,
		coverageCache:           newCoverageCache(),
		sessions:                newSessionStore(),
		health:                  make(map[string]*upstreamHealth),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// StartBackground runs the idle-session janitor until ctx is done.
func (s *Service) StartBackground(ctx context.Context) {
	if s.janitorRun.CompareAndSwap(false, true) {
		go s.runJanitor(ctx)
	}
}

func (s *Service) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(s.sessions.janitorInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := s.sessions.evictIdle(time.Now()); evicted > 0 {
				s.logger.Debug("evicted idle search sessions", slog.Int("count", evicted))
			}
		}
	}
}

// ValidateParams returns params with the mode canonicalized and perPage
// clamped, or the first problem found.
func ValidateParams(params domain.SearchParams) (domain.SearchParams, error) {
	mode, ok := domain.NormalizeMode(string(params.Mode))
	if !ok {
		return params, ErrInvalidMode
	}
	params.Mode = mode
	params.Query = strings.TrimSpace(params.Query)
	params.Filters.CatalogID = strings.TrimSpace(params.Filters.CatalogID)
	switch mode {
	case domain.ModeNL:
		if params.Query == "" {
			return params, ErrInvalidQuery
		}
	case domain.ModeCatalog:
		if params.Filters.CatalogID == "" {
			return params, ErrMissingCatalogID
		}
	}
	params.PerPage = clampPerPage(params.PerPage)
	return params, nil
}

func clampPerPage(perPage int) int {
	switch {
	case perPage <= 0:
		return defaultPerPage
	case perPage > maxPerPage:
		return maxPerPage
	default:
		return perPage
	}
}

func (s *Service) searchUpstream(ctx context.Context, params domain.SearchParams, page int) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	var (
		payload []byte
		err     error
	)
	switch params.Mode {
	case domain.ModeCatalog:
		payload, err = s.backend.SearchCatalog(callCtx, params.Filters, page, params.PerPage)
	default:
		payload, err = s.backend.SearchNL(callCtx, params.Query, params.Filters)
	}
	s.recordUpstreamResult(upstreamSearch, err, time.Since(start), time.Now())
	return payload, err
}
