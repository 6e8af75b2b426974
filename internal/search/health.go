package search

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"tutormarket/searchservice/internal/domain"
	"tutormarket/searchservice/internal/metrics"
	"tutormarket/searchservice/internal/providers/common"
)

const (
	upstreamSearch       = "search"
	upstreamCoverage     = "coverage"
	upstreamAvailability = "availability"

	upstreamFailureThreshold = 3
	upstreamBlockBase        = 30 * time.Second
	upstreamBlockMax         = 5 * time.Minute
)

type upstreamHealth struct {
	consecutiveFailures int
	blockedUntil        time.Time
	lastError           string
	lastStatus          int
	lastRetryAfter      time.Duration
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	lastLatency         time.Duration
	lastTimeout         bool
	totalRequests       int64
	totalFailures       int64
	rateLimitedCount    int64
}

// isUpstreamBlocked reports whether a best-effort upstream (coverage,
// availability) is cooling down. The search upstream is never skipped: its
// failures reach the user through the guard instead.
func (s *Service) isUpstreamBlocked(name string, now time.Time) (bool, time.Time) {
	if s == nil || name == upstreamSearch {
		return false, time.Time{}
	}

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	state := s.health[name]
	if state == nil {
		return false, time.Time{}
	}
	if state.blockedUntil.IsZero() || now.After(state.blockedUntil) {
		return false, time.Time{}
	}
	return true, state.blockedUntil
}

func (s *Service) recordUpstreamResult(name string, err error, latency time.Duration, now time.Time) {
	if s == nil || name == "" {
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	state := s.health[name]
	if state == nil {
		state = &upstreamHealth{}
		s.health[name] = state
	}
	state.totalRequests++
	if latency > 0 {
		state.lastLatency = latency
		metrics.UpstreamRequestDuration.WithLabelValues(name).Observe(latency.Seconds())
	}
	state.lastTimeout = isTimeoutLikeError(err)

	if err == nil {
		state.consecutiveFailures = 0
		state.blockedUntil = time.Time{}
		state.lastError = ""
		state.lastStatus = 0
		state.lastRetryAfter = 0
		state.lastSuccessAt = now
		metrics.UpstreamRequestsTotal.WithLabelValues(name, "ok").Inc()
		metrics.UpstreamAvailable.WithLabelValues(name).Set(1)
		return
	}

	state.consecutiveFailures++
	state.totalFailures++
	state.lastFailureAt = now
	state.lastError = common.Truncate(err.Error(), 300)
	state.lastStatus = common.StatusCode(err)

	status := "error"
	switch {
	case state.lastTimeout:
		status = "timeout"
	case common.IsRateLimited(err):
		status = "rate_limited"
		state.rateLimitedCount++
		var statusErr *common.StatusError
		if errors.As(err, &statusErr) {
			state.lastRetryAfter = statusErr.RetryAfter
			if until := now.Add(statusErr.RetryAfter); statusErr.RetryAfter > 0 && until.After(state.blockedUntil) {
				state.blockedUntil = until
			}
		}
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(name, status).Inc()

	if state.consecutiveFailures >= upstreamFailureThreshold {
		if until := now.Add(exponentialBlockDuration(state.consecutiveFailures)); until.After(state.blockedUntil) {
			state.blockedUntil = until
		}
		metrics.UpstreamAvailable.WithLabelValues(name).Set(0)
	}
}

// exponentialBlockDuration is base × 2^(failures - threshold), capped.
func exponentialBlockDuration(consecutiveFailures int) time.Duration {
	exponent := consecutiveFailures - upstreamFailureThreshold
	if exponent < 0 {
		exponent = 0
	}
	d := upstreamBlockBase
	for i := 0; i < exponent; i++ {
		d *= 2
		if d > upstreamBlockMax {
			return upstreamBlockMax
		}
	}
	return d
}

func isTimeoutLikeError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "timeout") || strings.Contains(value, "deadline exceeded")
}

func (s *Service) upstreamNames() []string {
	names := []string{upstreamSearch}
	if s.coverage != nil {
		names = append(names, upstreamCoverage)
	}
	if s.availability != nil {
		names = append(names, upstreamAvailability)
	}
	return names
}

func (s *Service) UpstreamDiagnostics() []domain.UpstreamDiagnostics {
	names := s.upstreamNames()
	now := time.Now()

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	items := make([]domain.UpstreamDiagnostics, 0, len(names))
	for _, name := range names {
		item := domain.UpstreamDiagnostics{Name: name, Available: true}
		state := s.health[name]
		if state != nil {
			item.Available = state.consecutiveFailures < upstreamFailureThreshold
			item.ConsecutiveFailures = state.consecutiveFailures
			item.LastError = state.lastError
			item.LastStatus = state.lastStatus
			item.LastRetryAfterSec = int((state.lastRetryAfter + time.Second - 1) / time.Second)
			if !state.blockedUntil.IsZero() && now.Before(state.blockedUntil) {
				blockedUntil := state.blockedUntil
				item.BlockedUntil = &blockedUntil
			}
			if !state.lastSuccessAt.IsZero() {
				lastSuccessAt := state.lastSuccessAt
				item.LastSuccessAt = &lastSuccessAt
			}
			if !state.lastFailureAt.IsZero() {
				lastFailureAt := state.lastFailureAt
				item.LastFailureAt = &lastFailureAt
			}
			item.LastLatencyMS = state.lastLatency.Milliseconds()
			item.LastTimeout = state.lastTimeout
			item.TotalRequests = state.totalRequests
			item.TotalFailures = state.totalFailures
			item.RateLimitedCount = state.rateLimitedCount
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Name < items[j].Name
	})
	return items
}
