package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tutormarket/searchservice/internal/domain"
	"tutormarket/searchservice/internal/search"
)

type SearchService interface {
	StartSession(ctx context.Context, params domain.SearchParams) (domain.SessionView, error)
	Session(id string) (*search.Session, error)
	CloseSession(id string) error
	UpstreamDiagnostics() []domain.UpstreamDiagnostics
}

type Server struct {
	search    SearchService
	logger    *slog.Logger
	rateRPS   float64
	rateBurst int
}

const maxQueryLength = 500

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRateLimit configures the inbound token bucket. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateRPS = rps
		s.rateBurst = burst
	}
}

func NewServer(searchService SearchService, options ...ServerOption) *Server {
	server := &Server{
		search:    searchService,
		logger:    slog.Default(),
		rateRPS:   50,
		rateBurst: 100,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /search/upstreams/health", s.handleUpstreamsHealth)
	mux.HandleFunc("POST /search/sessions", s.handleStartSession)
	mux.HandleFunc("GET /search/sessions/{id}", s.handleSessionView)
	mux.HandleFunc("DELETE /search/sessions/{id}", s.handleCloseSession)
	mux.HandleFunc("POST /search/sessions/{id}/search", s.handleSessionSearch)
	mux.HandleFunc("POST /search/sessions/{id}/next", s.handleNextPage)
	mux.HandleFunc("POST /search/sessions/{id}/viewport", s.handleViewport)
	mux.HandleFunc("POST /search/sessions/{id}/area/apply", s.handleApplyArea)
	mux.HandleFunc("POST /search/sessions/{id}/area/clear", s.handleClearArea)
	mux.HandleFunc("POST /search/sessions/{id}/focus", s.handleFocus)
	mux.HandleFunc("GET /search/sessions/{id}/map", s.handleMap)
	mux.HandleFunc("GET /search/sessions/{id}/availability", s.handleAvailability)
	mux.HandleFunc("POST /search/sessions/{id}/clicks", s.handleClick)
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "tutor-search",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	return recoveryMiddleware(s.logger, requestIDMiddleware(rateLimitMiddleware(s.rateRPS, s.rateBurst, metricsMiddleware(traced))))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleUpstreamsHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"checkedAt": time.Now().UTC(),
		"items":     s.search.UpstreamDiagnostics(),
	})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	params, ok := decodeParams(w, r)
	if !ok {
		return
	}
	view, err := s.search.StartSession(r.Context(), params)
	if err != nil {
		s.writeSearchError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleSessionView(w http.ResponseWriter, r *http.Request) {
	session, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session.View())
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.search.CloseSession(r.PathValue("id")); err != nil {
		s.writeSearchError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionSearch(w http.ResponseWriter, r *http.Request) {
	session, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	params, ok := decodeParams(w, r)
	if !ok {
		return
	}
	view, err := session.Search(r.Context(), params)
	if err != nil {
		s.writeSearchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleNextPage(w http.ResponseWriter, r *http.Request) {
	session, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	view, err := session.NextPage(r.Context())
	if err != nil {
		s.writeSearchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleViewport(w http.ResponseWriter, r *http.Request) {
	session, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var vp domain.Viewport
	if err := decodeJSONBody(r, &vp); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	view, err := session.Viewport(vp)
	if err != nil {
		s.writeSearchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleApplyArea(w http.ResponseWriter, r *http.Request) {
	session, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	view, err := session.ApplyArea()
	if err != nil {
		s.writeSearchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleClearArea(w http.ResponseWriter, r *http.Request) {
	session, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session.ClearArea())
}

type focusRequest struct {
	InstructorID string `json:"instructorId"`
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	session, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var body focusRequest
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	view, err := session.Focus(body.InstructorID)
	if err != nil {
		s.writeSearchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	session, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session.MapView())
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	session, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	items, err := session.Availability(r.Context(), query.Get("start"), query.Get("end"))
	if err != nil {
		s.writeSearchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
	})
}

type clickRequest struct {
	InstructorID string `json:"instructorId"`
	OfferingID   string `json:"offeringId"`
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	session, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var body clickRequest
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(body.InstructorID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "instructorId is required")
		return
	}
	if err := session.TrackClick(r.Context(), body.InstructorID, body.OfferingID); err != nil {
		s.writeSearchError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*search.Session, bool) {
	session, err := s.search.Session(r.PathValue("id"))
	if err != nil {
		s.writeSearchError(w, err)
		return nil, false
	}
	return session, true
}

func decodeParams(w http.ResponseWriter, r *http.Request) (domain.SearchParams, bool) {
	var params domain.SearchParams
	if err := decodeJSONBody(r, &params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return params, false
	}
	if len(params.Query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("query must be at most %d characters", maxQueryLength))
		return params, false
	}
	return params, true
}

// writeSearchError maps service errors onto the API error envelope. Upstream
// failures never reach here: they are reported inside the session view.
func (s *Server) writeSearchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, search.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, search.ErrInvalidQuery),
		errors.Is(err, search.ErrInvalidMode),
		errors.Is(err, search.ErrMissingCatalogID),
		errors.Is(err, search.ErrInvalidViewport),
		errors.Is(err, search.ErrInvalidDateRange):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, search.ErrUnknownInstructor):
		writeError(w, http.StatusUnprocessableEntity, "unknown_instructor", err.Error())
	case errors.Is(err, search.ErrNoViewport):
		writeError(w, http.StatusConflict, "no_viewport", err.Error())
	default:
		s.logger.Error("search request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func decodeJSONBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
