package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"tutormarket/searchservice/internal/providers/common"
)

func rateLimitedError(header, body string) error {
	resp := &http.Response{
		StatusCode: http.StatusTooManyRequests,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
	if header != "" {
		resp.Header.Set("Retry-After", header)
	}
	return fmt.Errorf("catalog search: %w", common.NewStatusError("catalog", resp, time.Now()))
}

func TestGuardRateLimitWithBodyHint(t *testing.T) {
	g := NewGuard("catalog", nil)
	calls := 0
	payload, outcome := g.Do(context.Background(), func(context.Context) ([]byte, error) {
		calls++
		return nil, rateLimitedError("", `{"retry_after": 30}`)
	})
	if calls != 1 {
		t.Fatalf("guard must not retry, got %d calls", calls)
	}
	if payload != nil {
		t.Fatal("no payload expected on failure")
	}
	if outcome.RateLimit == nil || outcome.RateLimit.Seconds != 30 {
		t.Fatalf("expected 30s banner, got %+v", outcome.RateLimit)
	}
	if outcome.Error != nil {
		t.Fatal("rate limit must not also set an error state")
	}
}

func TestGuardRateLimitWithoutHint(t *testing.T) {
	g := NewGuard("catalog", nil)
	_, outcome := g.Do(context.Background(), func(context.Context) ([]byte, error) {
		return nil, rateLimitedError("", `{}`)
	})
	if outcome.RateLimit == nil || outcome.RateLimit.Seconds != 0 {
		t.Fatalf("expected banner without a countdown, got %+v", outcome.RateLimit)
	}
}

func TestGuardRateLimitHeaderHint(t *testing.T) {
	g := NewGuard("nl", nil)
	_, outcome := g.Do(context.Background(), func(context.Context) ([]byte, error) {
		return nil, rateLimitedError("15", "")
	})
	if outcome.RateLimit == nil || outcome.RateLimit.Seconds != 15 {
		t.Fatalf("expected 15s banner, got %+v", outcome.RateLimit)
	}
}

func TestGuardOtherErrorClearsRateLimit(t *testing.T) {
	g := NewGuard("nl", nil)
	g.Do(context.Background(), func(context.Context) ([]byte, error) {
		return nil, rateLimitedError("10", "")
	})
	_, outcome := g.Do(context.Background(), func(context.Context) ([]byte, error) {
		return nil, errors.New("connection refused")
	})
	if outcome.RateLimit != nil || outcome.Error == nil {
		t.Fatalf("expected error state only, got %+v", outcome)
	}
	state := g.State()
	if state.RateLimit != nil || state.Error == nil {
		t.Fatalf("state must track the latest outcome, got %+v", state)
	}
}

func TestGuardSuccessClearsState(t *testing.T) {
	g := NewGuard("nl", nil)
	g.Do(context.Background(), func(context.Context) ([]byte, error) {
		return nil, errors.New("boom")
	})
	payload, outcome := g.Do(context.Background(), func(context.Context) ([]byte, error) {
		return []byte(`{"results": []}`), nil
	})
	if !outcome.OK() || string(payload) != `{"results": []}` {
		t.Fatalf("expected success, got %+v payload=%s", outcome, payload)
	}
	if !g.State().OK() {
		t.Fatal("success must clear banner and error")
	}
}

func TestGuardTimeoutMessage(t *testing.T) {
	g := NewGuard("nl", nil)
	_, outcome := g.Do(context.Background(), func(context.Context) ([]byte, error) {
		return nil, fmt.Errorf("nl search: %w", context.DeadlineExceeded)
	})
	if outcome.Error == nil || !strings.Contains(outcome.Error.Message, "too long") {
		t.Fatalf("expected timeout message, got %+v", outcome.Error)
	}
}
