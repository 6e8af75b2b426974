package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"tutormarket/searchservice/internal/providers/common"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestRetryWithBackoff(t *testing.T) {
	rateLimited := &common.StatusError{Upstream: "coverage", StatusCode: http.StatusTooManyRequests}
	badGateway := &common.StatusError{Upstream: "availability", StatusCode: http.StatusBadGateway}

	cases := []struct {
		name      string
		attempts  int
		failures  []error
		wantCalls int
		wantErr   bool
	}{
		{"first attempt succeeds", 3, nil, 1, false},
		{"recovers after transient errors", 3, []error{fmt.Errorf("connection reset"), fmt.Errorf("timeout")}, 3, false},
		{"exhausts attempts", 3, []error{fmt.Errorf("timeout"), fmt.Errorf("timeout"), fmt.Errorf("timeout")}, 3, true},
		{"non-transient fails immediately", 3, []error{fmt.Errorf("parse error: invalid JSON")}, 1, true},
		{"429 is not retried", 3, []error{rateLimited}, 1, true},
		{"5xx is retried", 3, []error{badGateway}, 2, false},
		{"zero attempts means one", 0, []error{fmt.Errorf("timeout")}, 1, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			err := RetryWithBackoff(context.Background(), fastRetry(tc.attempts), func() error {
				calls++
				if calls <= len(tc.failures) {
					return tc.failures[calls-1]
				}
				return nil
			})
			if calls != tc.wantCalls {
				t.Fatalf("expected %d calls, got %d", tc.wantCalls, calls)
			}
			if (err != nil) != tc.wantErr {
				t.Fatalf("unexpected error result: %v", err)
			}
		})
	}
}

func TestRetryWithBackoffStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	calls := 0
	err := RetryWithBackoff(ctx, cfg, func() error {
		calls++
		cancel()
		return fmt.Errorf("connection reset")
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Fatalf("expected cancellation after one call, got %d calls (err=%v)", calls, err)
	}
}

func TestRetryWithBackoffCapsDelay(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 4, InitialDelay: 20 * time.Millisecond, MaxDelay: 20 * time.Millisecond, Multiplier: 10}
	started := time.Now()
	_ = RetryWithBackoff(context.Background(), cfg, func() error { return fmt.Errorf("timeout") })
	if elapsed := time.Since(started); elapsed > 500*time.Millisecond {
		t.Fatalf("three capped waits took %v", elapsed)
	}
}

func TestCallUpstreamRecordsEveryAttempt(t *testing.T) {
	svc := NewService(&fakeBackend{}, time.Second, WithCoverage(&fakeCoverage{}), WithRetryConfig(fastRetry(3)))
	calls := 0
	err := svc.callUpstream(context.Background(), upstreamCoverage, func(ctx context.Context) error {
		calls++
		if _, ok := ctx.Deadline(); !ok {
			t.Fatal("each attempt should carry the service timeout")
		}
		if calls == 1 {
			return &common.StatusError{Upstream: "coverage", StatusCode: http.StatusServiceUnavailable}
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("expected success on the second attempt, got %d calls (err=%v)", calls, err)
	}
	for _, diag := range svc.UpstreamDiagnostics() {
		if diag.Name != upstreamCoverage {
			continue
		}
		if diag.TotalRequests != 2 || diag.TotalFailures != 1 || diag.ConsecutiveFailures != 0 {
			t.Fatalf("unexpected coverage diagnostics: %+v", diag)
		}
		return
	}
	t.Fatal("coverage diagnostics missing")
}

func TestExponentialBlockDuration(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{3, 30 * time.Second},
		{4, time.Minute},
		{5, 2 * time.Minute},
		{6, 4 * time.Minute},
		{7, 5 * time.Minute},
		{10, 5 * time.Minute},
	}
	for _, tt := range tests {
		got := exponentialBlockDuration(tt.failures)
		if got != tt.want {
			t.Errorf("exponentialBlockDuration(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestUpstreamCooldown(t *testing.T) {
	svc := NewService(&fakeBackend{}, 2*time.Second, WithCoverage(&fakeCoverage{}))
	baseTime := time.Now()
	testErr := fmt.Errorf("connection timeout")

	for i := 0; i < upstreamFailureThreshold; i++ {
		svc.recordUpstreamResult(upstreamCoverage, testErr, 100*time.Millisecond, baseTime)
	}
	blocked, until := svc.isUpstreamBlocked(upstreamCoverage, baseTime)
	if !blocked {
		t.Fatal("expected coverage to cool down after threshold failures")
	}
	if got := until.Sub(baseTime); got != upstreamBlockBase {
		t.Fatalf("first block: expected %v, got %v", upstreamBlockBase, got)
	}

	afterBlock := until.Add(time.Second)
	if blocked, _ := svc.isUpstreamBlocked(upstreamCoverage, afterBlock); blocked {
		t.Fatal("coverage should be available after the block expires")
	}

	svc.recordUpstreamResult(upstreamCoverage, nil, 50*time.Millisecond, afterBlock)
	if blocked, _ := svc.isUpstreamBlocked(upstreamCoverage, afterBlock); blocked {
		t.Fatal("success should clear the block")
	}

	for i := 0; i < upstreamFailureThreshold; i++ {
		svc.recordUpstreamResult(upstreamSearch, testErr, 10*time.Millisecond, baseTime)
	}
	if blocked, _ := svc.isUpstreamBlocked(upstreamSearch, baseTime); blocked {
		t.Fatal("the search upstream must never be skipped")
	}
}

func TestUpstreamRateLimitBlocksForRetryAfter(t *testing.T) {
	svc := NewService(&fakeBackend{}, 2*time.Second, WithCoverage(&fakeCoverage{}))
	now := time.Now()
	svc.recordUpstreamResult(upstreamCoverage, &common.StatusError{
		Upstream:   "coverage",
		StatusCode: http.StatusTooManyRequests,
		RetryAfter: 90 * time.Second,
	}, 10*time.Millisecond, now)

	blocked, until := svc.isUpstreamBlocked(upstreamCoverage, now.Add(time.Minute))
	if !blocked || !until.Equal(now.Add(90*time.Second)) {
		t.Fatalf("expected block until retry-after, got %v %v", blocked, until)
	}

	diags := svc.UpstreamDiagnostics()
	if len(diags) != 2 || diags[0].Name != "coverage" || diags[1].Name != "search" {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}
	if diags[0].RateLimitedCount != 1 || diags[0].LastRetryAfterSec != 90 || diags[0].LastStatus != 429 {
		t.Fatalf("unexpected coverage diagnostics: %+v", diags[0])
	}
	if !diags[1].Available || diags[1].TotalRequests != 0 {
		t.Fatalf("search upstream should be untouched: %+v", diags[1])
	}
}
