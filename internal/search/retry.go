package search

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"strings"
	"time"

	"tutormarket/searchservice/internal/providers/common"
)

// RetryConfig controls RetryWithBackoff. Delays grow by Multiplier up to
// MaxDelay.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// RetryWithBackoff calls fn until it succeeds, returns a non-transient error
// or runs out of attempts. Waits are jittered by ±25% and stop early when ctx
// is done.
func RetryWithBackoff(ctx context.Context, cfg RetryConfig, fn func() error) error {
	attempts := max(cfg.MaxAttempts, 1)
	delay := cfg.InitialDelay

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil || !isTransientError(err) || attempt >= attempts {
			return err
		}

		wait := min(jitter(delay), cfg.MaxDelay)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(time.Duration(float64(delay)*cfg.Multiplier), cfg.MaxDelay)
	}
}

// callUpstream runs one best-effort upstream call with the service timeout per
// attempt, retrying transient failures and feeding every attempt into the
// upstream's health record.
func (s *Service) callUpstream(ctx context.Context, upstream string, fn func(ctx context.Context) error) error {
	return RetryWithBackoff(ctx, s.retry, func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		started := time.Now()
		err := fn(callCtx)
		s.recordUpstreamResult(upstream, err, time.Since(started), time.Now())
		return err
	})
}

func jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.75 + rand.Float64()*0.5))
}

// isTransientError reports whether a retry may succeed: network failures,
// timeouts and upstream 5xx/408. A 429 is never retried since the upstream
// asked us to back off.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *common.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == 408
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	lower := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "deadline exceeded", "connection reset", "connection refused", "tls", "eof"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
