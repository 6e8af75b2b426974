package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const errorBodyLimit = 4096

// StatusError is returned by upstream clients for any non-2xx response.
type StatusError struct {
	Upstream   string
	StatusCode int
	Body       string
	// RetryAfter is zero when the upstream gave no usable hint.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	body := Truncate(e.Body, 200)
	if body == "" {
		return fmt.Sprintf("%s HTTP %d", e.Upstream, e.StatusCode)
	}
	return fmt.Sprintf("%s HTTP %d: %s", e.Upstream, e.StatusCode, body)
}

func (e *StatusError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// RetryAfterSeconds rounds the hint up to whole seconds.
func (e *StatusError) RetryAfterSeconds() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

// NewStatusError drains a bounded prefix of the body and extracts a retry-after
// hint from the Retry-After header or, failing that, the JSON body.
func NewStatusError(upstream string, resp *http.Response, now time.Time) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	statusErr := &StatusError{
		Upstream:   upstream,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
	if wait, ok := ParseRetryAfter(resp.Header.Get("Retry-After"), now); ok {
		statusErr.RetryAfter = wait
	} else if wait, ok := retryAfterFromBody(body); ok {
		statusErr.RetryAfter = wait
	}
	return statusErr
}

// ParseRetryAfter accepts delta-seconds or an HTTP date.
func ParseRetryAfter(raw string, now time.Time) (time.Duration, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
			return 0, false
		}
		return time.Duration(seconds * float64(time.Second)), true
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	wait := at.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

func retryAfterFromBody(body []byte) (time.Duration, bool) {
	if len(body) == 0 {
		return 0, false
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, false
	}
	candidates := []map[string]any{payload}
	if detail, ok := payload["detail"].(map[string]any); ok {
		candidates = append(candidates, detail)
	}
	if errObj, ok := payload["error"].(map[string]any); ok {
		candidates = append(candidates, errObj)
	}
	for _, candidate := range candidates {
		for _, key := range []string{"retry_after", "retryAfter", "retry_after_seconds"} {
			switch v := candidate[key].(type) {
			case float64:
				if v >= 0 {
					return time.Duration(v * float64(time.Second)), true
				}
			case string:
				if seconds, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && seconds >= 0 {
					return time.Duration(seconds * float64(time.Second)), true
				}
			}
		}
	}
	return 0, false
}

func IsRateLimited(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.RateLimited()
}

func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
