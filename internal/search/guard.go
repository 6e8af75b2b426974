package search

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"tutormarket/searchservice/internal/domain"
	"tutormarket/searchservice/internal/metrics"
	"tutormarket/searchservice/internal/providers/common"
)

const genericUpstreamError = "Search is temporarily unavailable. Please try again."

// Outcome is the classification of one guarded call. At most one of
// RateLimit and Error is set; both are nil on success.
type Outcome struct {
	RateLimit *domain.RateLimitBanner
	Error     *domain.ErrorState
	Err       error
}

func (o Outcome) OK() bool {
	return o.RateLimit == nil && o.Error == nil
}

// Guard classifies upstream failures into a rate-limit banner or an error
// state. It never retries and never sleeps.
type Guard struct {
	upstream string
	logger   *slog.Logger

	mu    sync.Mutex
	state Outcome
}

func NewGuard(upstream string, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{upstream: upstream, logger: logger}
}

func (g *Guard) Do(ctx context.Context, fn func(context.Context) ([]byte, error)) ([]byte, Outcome) {
	payload, err := fn(ctx)
	outcome := classifyUpstreamError(err)

	g.mu.Lock()
	g.state = outcome
	g.mu.Unlock()

	switch {
	case outcome.RateLimit != nil:
		metrics.UpstreamRateLimitedTotal.WithLabelValues(g.upstream).Inc()
		g.logger.Warn("search upstream rate limited",
			slog.String("upstream", g.upstream),
			slog.Int("retryAfterSec", outcome.RateLimit.Seconds),
		)
		return nil, outcome
	case outcome.Error != nil:
		g.logger.Warn("search upstream failed",
			slog.String("upstream", g.upstream),
			slog.String("error", err.Error()),
		)
		return nil, outcome
	}
	return payload, outcome
}

func (g *Guard) State() Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()
	state := g.state
	if state.RateLimit != nil {
		banner := *state.RateLimit
		state.RateLimit = &banner
	}
	if state.Error != nil {
		errState := *state.Error
		state.Error = &errState
	}
	return state
}

func classifyUpstreamError(err error) Outcome {
	if err == nil {
		return Outcome{}
	}
	var statusErr *common.StatusError
	if errors.As(err, &statusErr) && statusErr.RateLimited() {
		return Outcome{
			RateLimit: &domain.RateLimitBanner{Seconds: statusErr.RetryAfterSeconds()},
			Err:       err,
		}
	}
	message := genericUpstreamError
	if errors.Is(err, context.DeadlineExceeded) {
		message = "Search took too long to respond. Please try again."
	}
	return Outcome{
		Error: &domain.ErrorState{Message: message},
		Err:   err,
	}
}
