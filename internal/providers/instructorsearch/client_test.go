package instructorsearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"tutormarket/searchservice/internal/domain"
	"tutormarket/searchservice/internal/providers/common"
)

func TestSearchNLBuildsQuery(t *testing.T) {
	var gotPath, gotQuery, gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("q")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results": []}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL + "/", UserAgent: "test-agent"})
	payload, err := client.SearchNL(context.Background(), "  piano lessons near me ", domain.SearchFilters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if string(payload) != `{"results": []}` {
		t.Fatalf("unexpected payload: %s", payload)
	}
	if gotPath != "/api/search/instructors" || gotQuery != "piano lessons near me" || gotUA != "test-agent" {
		t.Fatalf("unexpected request: path=%q q=%q ua=%q", gotPath, gotQuery, gotUA)
	}
}

func TestSearchCatalogBuildsQuery(t *testing.T) {
	var query map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/search/catalog" {
			http.NotFound(w, r)
			return
		}
		query = map[string]string{}
		for key := range r.URL.Query() {
			query[key] = r.URL.Query().Get(key)
		}
		_, _ = w.Write([]byte(`{"items": [], "total": 0}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	_, err := client.SearchCatalog(context.Background(), domain.SearchFilters{
		CatalogID:   "piano",
		MaxPrice:    120,
		SkillLevels: []string{"beginner", "intermediate"},
		Duration:    60,
	}, 3, 20)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	want := map[string]string{
		"service_catalog_id": "piano",
		"page":               "3",
		"per_page":           "20",
		"max_price":          "120",
		"skill_level":        "beginner,intermediate",
		"duration":           "60",
	}
	for key, value := range want {
		if query[key] != value {
			t.Fatalf("param %s = %q, want %q (all: %v)", key, query[key], value, query)
		}
	}
	if _, ok := query["min_price"]; ok {
		t.Fatal("unset filters must not be sent")
	}
}

func TestSearchReturnsStatusErrorOnRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"detail": "Too many requests"}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	_, err := client.SearchCatalog(context.Background(), domain.SearchFilters{CatalogID: "piano"}, 1, 20)
	if err == nil {
		t.Fatal("expected error")
	}
	if !common.IsRateLimited(err) {
		t.Fatalf("expected rate-limit status error, got %v", err)
	}
	if common.StatusCode(err) != http.StatusTooManyRequests {
		t.Fatalf("unexpected status: %d", common.StatusCode(err))
	}
}

func TestSearchReturnsStatusErrorOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	_, err := client.SearchNL(context.Background(), "guitar", domain.SearchFilters{})
	if common.StatusCode(err) != http.StatusInternalServerError || common.IsRateLimited(err) {
		t.Fatalf("expected 500 status error, got %v", err)
	}
}
