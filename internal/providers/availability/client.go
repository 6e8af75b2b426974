package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"tutormarket/searchservice/internal/domain"
	"tutormarket/searchservice/internal/providers/common"
)

const (
	defaultBaseURL   = "http://localhost:8000"
	defaultUserAgent = "tutormarket-search/1.0"
	maxPayloadBytes  = 2 * 1024 * 1024
)

type Config struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
}

type Client struct {
	client    *http.Client
	baseURL   string
	userAgent string
	now       func() time.Time
}

type apiSlot struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type apiDay struct {
	AvailableSlots []apiSlot `json:"available_slots"`
}

type apiResponse struct {
	AvailabilityByDate map[string]apiDay `json:"availability_by_date"`
}

func NewClient(cfg Config) *Client {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{client: client, baseURL: baseURL, userAgent: userAgent, now: time.Now}
}

// InstructorAvailability returns open slots per day between start and end
// (inclusive, YYYY-MM-DD). Days are sorted; days without slots are omitted.
func (c *Client) InstructorAvailability(ctx context.Context, instructorID, start, end string) (domain.InstructorAvailability, error) {
	id := strings.TrimSpace(instructorID)
	values := url.Values{}
	values.Set("start_date", start)
	values.Set("end_date", end)
	uri := fmt.Sprintf("%s/api/public/instructors/%s/availability?%s", c.baseURL, url.PathEscape(id), values.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return domain.InstructorAvailability{}, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.InstructorAvailability{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.InstructorAvailability{}, common.NewStatusError("availability", resp, c.now())
	}

	var payload apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPayloadBytes)).Decode(&payload); err != nil {
		return domain.InstructorAvailability{}, fmt.Errorf("decode availability: %w", err)
	}
	return toDomain(id, payload), nil
}

func toDomain(instructorID string, payload apiResponse) domain.InstructorAvailability {
	result := domain.InstructorAvailability{InstructorID: instructorID, Days: []domain.DayAvailability{}}
	dates := make([]string, 0, len(payload.AvailabilityByDate))
	for date := range payload.AvailabilityByDate {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	for _, date := range dates {
		day := payload.AvailabilityByDate[date]
		slots := make([]domain.TimeSlot, 0, len(day.AvailableSlots))
		for _, slot := range day.AvailableSlots {
			start := strings.TrimSpace(slot.StartTime)
			end := strings.TrimSpace(slot.EndTime)
			if start == "" || end == "" {
				continue
			}
			slots = append(slots, domain.TimeSlot{Start: start, End: end})
		}
		if len(slots) == 0 {
			continue
		}
		result.Days = append(result.Days, domain.DayAvailability{Date: date, Slots: slots})
	}
	return result
}
