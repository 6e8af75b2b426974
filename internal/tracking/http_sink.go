package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tutormarket/searchservice/internal/domain"
	"tutormarket/searchservice/internal/providers/common"
)

const interactionsPath = "/api/search/interactions"

type HTTPSinkConfig struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
}

// HTTPSink posts events to the marketplace interactions endpoint.
type HTTPSink struct {
	client    *http.Client
	endpoint  string
	userAgent string
}

type interactionPayload struct {
	SearchQueryID   string `json:"search_query_id"`
	InstructorID    string `json:"instructor_id"`
	ServiceID       string `json:"service_id,omitempty"`
	Position        int    `json:"position"`
	InteractionType string `json:"interaction_type"`
	Timestamp       string `json:"timestamp"`
}

func NewHTTPSink(cfg HTTPSinkConfig) *HTTPSink {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = "tutormarket-search/1.0"
	}
	return &HTTPSink{
		client:    client,
		endpoint:  strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/") + interactionsPath,
		userAgent: userAgent,
	}
}

func (s *HTTPSink) Name() string {
	return "http"
}

func (s *HTTPSink) Send(ctx context.Context, event domain.ClickEvent) error {
	body, err := json.Marshal(interactionPayload{
		SearchQueryID:   event.SearchQueryID,
		InstructorID:    event.InstructorID,
		ServiceID:       event.OfferingID,
		Position:        event.Position,
		InteractionType: event.InteractionType,
		Timestamp:       event.OccurredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal interaction: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return common.NewStatusError("tracking", resp, time.Now())
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return nil
}
