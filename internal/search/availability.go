package search

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"tutormarket/searchservice/internal/domain"
)

const (
	availabilityDateLayout         = "2006-01-02"
	defaultAvailabilityDays        = 7
	maxAvailabilityDays            = 31
	defaultAvailabilityConcurrency = 6
)

// Availability loads open slots for every displayed instructor. Instructors
// whose lookup fails are left out of the map.
func (s *Session) Availability(ctx context.Context, start, end string) (map[string]domain.InstructorAvailability, error) {
	start, end, err := availabilityRange(start, end, time.Now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	displayed := s.mapSync.Displayed()
	s.mu.Unlock()

	ids := make([]string, 0, len(displayed))
	for _, result := range displayed {
		ids = append(ids, result.InstructorID)
	}
	return s.svc.fetchAvailability(ctx, ids, start, end), nil
}

// availabilityRange defaults to a week starting today and rejects reversed or
// overly long ranges.
func availabilityRange(start, end string, now time.Time) (string, string, error) {
	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)

	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if start != "" {
		parsed, err := time.Parse(availabilityDateLayout, start)
		if err != nil {
			return "", "", ErrInvalidDateRange
		}
		from = parsed
	}
	to := from.AddDate(0, 0, defaultAvailabilityDays-1)
	if end != "" {
		parsed, err := time.Parse(availabilityDateLayout, end)
		if err != nil {
			return "", "", ErrInvalidDateRange
		}
		to = parsed
	}
	if to.Before(from) || to.Sub(from) > maxAvailabilityDays*24*time.Hour {
		return "", "", ErrInvalidDateRange
	}
	return from.Format(availabilityDateLayout), to.Format(availabilityDateLayout), nil
}

func (s *Service) fetchAvailability(ctx context.Context, ids []string, start, end string) map[string]domain.InstructorAvailability {
	out := make(map[string]domain.InstructorAvailability, len(ids))
	if s.availability == nil || len(ids) == 0 {
		return out
	}
	if blocked, until := s.isUpstreamBlocked(upstreamAvailability, time.Now()); blocked {
		s.logger.Debug("availability upstream cooling down", slog.Time("until", until))
		return out
	}

	var mu sync.Mutex
	sem := semaphore.NewWeighted(int64(s.availabilityConcurrency))
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)

			var result domain.InstructorAvailability
			err := s.callUpstream(gctx, upstreamAvailability, func(ctx context.Context) error {
				found, err := s.availability.InstructorAvailability(ctx, id, start, end)
				result = found
				return err
			})
			if err != nil {
				s.logger.Debug("availability lookup failed",
					slog.String("instructorId", id),
					slog.String("error", err.Error()),
				)
				return nil
			}
			mu.Lock()
			out[id] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
