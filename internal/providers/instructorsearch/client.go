package instructorsearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tutormarket/searchservice/internal/domain"
	"tutormarket/searchservice/internal/providers/common"
)

const (
	defaultBaseURL   = "http://localhost:8000"
	defaultUserAgent = "tutormarket-search/1.0"
	maxPayloadBytes  = 8 * 1024 * 1024

	nlPath      = "/api/search/instructors"
	catalogPath = "/api/search/catalog"
)

type Config struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
}

// Client talks to the marketplace search API. It returns raw payloads; the
// search package owns normalization.
type Client struct {
	client    *http.Client
	baseURL   string
	userAgent string
	now       func() time.Time
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
	return &Client{
		client:    client,
		baseURL:   baseURL,
		userAgent: userAgent,
		now:       time.Now,
	}
}

// SearchNL runs a natural-language query.
func (c *Client) SearchNL(ctx context.Context, query string, filters domain.SearchFilters) ([]byte, error) {
	values := url.Values{}
	values.Set("q", strings.TrimSpace(query))
	applyFilters(values, filters)
	payload, err := c.get(ctx, "nl", nlPath, values)
	if err != nil {
		return nil, fmt.Errorf("nl search: %w", err)
	}
	return payload, nil
}

// SearchCatalog fetches one page of instructors teaching a catalog service.
func (c *Client) SearchCatalog(ctx context.Context, filters domain.SearchFilters, page, perPage int) ([]byte, error) {
	values := url.Values{}
	values.Set("service_catalog_id", strings.TrimSpace(filters.CatalogID))
	if page > 0 {
		values.Set("page", strconv.Itoa(page))
	}
	if perPage > 0 {
		values.Set("per_page", strconv.Itoa(perPage))
	}
	catalogFilters := filters
	catalogFilters.CatalogID = ""
	applyFilters(values, catalogFilters)
	payload, err := c.get(ctx, "catalog", catalogPath, values)
	if err != nil {
		return nil, fmt.Errorf("catalog search: %w", err)
	}
	return payload, nil
}

func applyFilters(values url.Values, filters domain.SearchFilters) {
	if id := strings.TrimSpace(filters.CatalogID); id != "" {
		values.Set("service_catalog_id", id)
	}
	if filters.MinPrice > 0 {
		values.Set("min_price", strconv.FormatFloat(filters.MinPrice, 'f', -1, 64))
	}
	if filters.MaxPrice > 0 {
		values.Set("max_price", strconv.FormatFloat(filters.MaxPrice, 'f', -1, 64))
	}
	if age := strings.TrimSpace(filters.AgeGroup); age != "" {
		values.Set("age_group", age)
	}
	if len(filters.SkillLevels) > 0 {
		values.Set("skill_level", strings.Join(filters.SkillLevels, ","))
	}
	if len(filters.LocationTypes) > 0 {
		values.Set("location_types", strings.Join(filters.LocationTypes, ","))
	}
	if filters.Duration > 0 {
		values.Set("duration", strconv.Itoa(filters.Duration))
	}
	if date := strings.TrimSpace(filters.Date); date != "" {
		values.Set("date", date)
	}
}

func (c *Client) get(ctx context.Context, upstream, path string, values url.Values) ([]byte, error) {
	uri := c.baseURL + path
	if encoded := values.Encode(); encoded != "" {
		uri += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, common.NewStatusError(upstream, resp, c.now())
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
}
