// Package tracking delivers search click events. Delivery is best-effort:
// failures are logged and counted, never surfaced to the caller.
package tracking

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tutormarket/searchservice/internal/domain"
	"tutormarket/searchservice/internal/metrics"
)

const defaultSendTimeout = 3 * time.Second

// Sink delivers one event.
type Sink interface {
	Name() string
	Send(ctx context.Context, event domain.ClickEvent) error
}

type Tracker struct {
	sinks   []Sink
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

type Option func(*Tracker)

func WithTimeout(timeout time.Duration) Option {
	return func(t *Tracker) {
		if timeout > 0 {
			t.timeout = timeout
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func NewTracker(sinks []Sink, opts ...Option) *Tracker {
	active := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			active = append(active, sink)
		}
	}
	t := &Tracker{
		sinks:   active,
		timeout: defaultSendTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track hands the event to every sink in the background and returns at once.
// The request context only contributes its values; cancellation is ignored so
// a finished HTTP request does not abort delivery.
func (t *Tracker) Track(ctx context.Context, event domain.ClickEvent) {
	if t == nil || len(t.sinks) == 0 {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	base := context.WithoutCancel(ctx)
	for _, sink := range t.sinks {
		t.wg.Add(1)
		go func(sink Sink) {
			defer t.wg.Done()
			sendCtx, cancel := context.WithTimeout(base, t.timeout)
			defer cancel()
			if err := sink.Send(sendCtx, event); err != nil {
				metrics.ClickEventsTotal.WithLabelValues(sink.Name(), "error").Inc()
				t.logger.Debug("click telemetry failed",
					slog.String("sink", sink.Name()),
					slog.String("instructorId", event.InstructorID),
					slog.String("error", err.Error()),
				)
				return
			}
			metrics.ClickEventsTotal.WithLabelValues(sink.Name(), "ok").Inc()
		}(sink)
	}
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
