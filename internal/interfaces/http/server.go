// Package http is the JSON surface: the search endpoint plus the local-only
// admin endpoints (health, sources, limits, cache, freshness, metrics).
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/thetangstr/findmycar/internal/aggregator"
	"github.com/thetangstr/findmycar/internal/breaker"
	"github.com/thetangstr/findmycar/internal/cache"
	"github.com/thetangstr/findmycar/internal/index"
	"github.com/thetangstr/findmycar/internal/models"
	"github.com/thetangstr/findmycar/internal/ratelimit"
	"github.com/thetangstr/findmycar/internal/scheduler"
	"github.com/thetangstr/findmycar/internal/sources"
)

// ServerConfig holds server wiring.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig binds to loopback; exposing the admin surface is an
// explicit decision.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "127.0.0.1",
		Port:         8099,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

type Server struct {
	cfg      ServerConfig
	router   *mux.Router
	server   *http.Server
	orch     *aggregator.Orchestrator
	registry *sources.Registry
	breakers *breaker.Registry
	limiter  *ratelimit.Registry
	tiered   *cache.Tiered
	idx      *index.Index
	sched    *scheduler.Scheduler
}

func NewServer(cfg ServerConfig, orch *aggregator.Orchestrator, registry *sources.Registry,
	breakers *breaker.Registry, limiter *ratelimit.Registry, tiered *cache.Tiered,
	idx *index.Index, sched *scheduler.Scheduler) (*Server, error) {

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("port %d unavailable: %w", cfg.Port, err)
	}
	ln.Close()

	s := &Server{
		cfg:      cfg,
		router:   mux.NewRouter(),
		orch:     orch,
		registry: registry,
		breakers: breakers,
		limiter:  limiter,
		tiered:   tiered,
		idx:      idx,
		sched:    sched,
	}
	s.routes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) routes() {
	s.router.Use(s.requestID)
	s.router.Use(s.logRequests)

	s.router.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	s.router.HandleFunc("/listings/{id}", s.handleListing).Methods(http.MethodGet)

	s.router.HandleFunc("/saved-searches", s.handleSaveSearch).Methods(http.MethodPost)
	s.router.HandleFunc("/saved-searches", s.handleListSavedSearches).Methods(http.MethodGet)
	s.router.HandleFunc("/saved-searches/{id}", s.handleDeleteSavedSearch).Methods(http.MethodDelete)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/sources", s.handleSources).Methods(http.MethodGet)
	s.router.HandleFunc("/sources/{tag}", s.handleUpdateSource).Methods(http.MethodPatch)
	s.router.HandleFunc("/limits", s.handleLimits).Methods(http.MethodGet)
	s.router.HandleFunc("/cache/stats", s.handleCacheStats).Methods(http.MethodGet)
	s.router.HandleFunc("/cache", s.handleCacheInvalidate).Methods(http.MethodDelete)
	s.router.HandleFunc("/freshness", s.handleFreshness).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Start serves until the context is cancelled, then drains.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.server.Addr).Msg("http server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, err := parseSearchRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := s.orch.Search(r.Context(), req)
	if err != nil {
		if strings.Contains(err.Error(), "invalid filters") {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseSearchRequest(r *http.Request) (models.SearchRequest, error) {
	q := r.URL.Query()
	req := models.SearchRequest{
		Query:  q.Get("q"),
		UserID: q.Get("user_id"),
	}
	var err error
	if req.Page, err = intParam(q.Get("page"), 1); err != nil {
		return req, fmt.Errorf("bad page: %w", err)
	}
	if req.PerPage, err = intParam(q.Get("per_page"), 20); err != nil {
		return req, fmt.Errorf("bad per_page: %w", err)
	}

	f := &req.Filters
	f.Make = q.Get("make")
	if v := q.Get("models"); v != "" {
		f.Models = strings.Split(v, ",")
	}
	if v := q.Get("year_min"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("bad year_min: %w", err)
		}
		f.YearMin = &n
	}
	if v := q.Get("year_max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("bad year_max: %w", err)
		}
		f.YearMax = &n
	}
	if v := q.Get("price_min"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, fmt.Errorf("bad price_min: %w", err)
		}
		f.PriceMin = &n
	}
	if v := q.Get("price_max"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, fmt.Errorf("bad price_max: %w", err)
		}
		f.PriceMax = &n
	}
	if v := q.Get("mileage_max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("bad mileage_max: %w", err)
		}
		f.MileageMax = &n
	}
	if v := q.Get("exclude_colors"); v != "" {
		f.ExcludeColors = strings.Split(v, ",")
	}
	f.CleanTitleOnly = q.Get("clean_title") == "true"
	f.NoAccidents = q.Get("no_accidents") == "true"

	if v := q.Get("deadline_ms"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("bad deadline_ms: %w", err)
		}
		d := time.Duration(ms) * time.Millisecond
		req.Deadline = &d
	}
	return req, nil
}

func (s *Server) handleListing(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	l, err := s.idx.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("listing %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleSaveSearch(w http.ResponseWriter, r *http.Request) {
	var in index.SavedSearch
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad body: %w", err))
		return
	}
	if in.UserID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("user_id required"))
		return
	}
	id, err := s.idx.SaveSearch(r.Context(), in)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleListSavedSearches(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("user_id required"))
		return
	}
	out, err := s.idx.SavedSearches(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if out == nil {
		out = []index.SavedSearch{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteSavedSearch(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || userID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("user_id and numeric id required"))
		return
	}
	if err := s.idx.DeleteSavedSearch(r.Context(), userID, id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type health struct {
		Status    string                           `json:"status"`
		Database  string                           `json:"database"`
		Breakers  []breaker.Status                 `json:"breakers"`
		Sources   map[string]sources.HealthStatus  `json:"sources"`
		CheckedAt time.Time                        `json:"checked_at"`
	}

	h := health{Status: "ok", Database: "ok", CheckedAt: time.Now().UTC()}
	if err := s.idx.Ping(r.Context()); err != nil {
		h.Status = "degraded"
		h.Database = err.Error()
	}
	h.Breakers = s.breakers.Snapshot()
	for _, b := range h.Breakers {
		if b.State != "closed" {
			h.Status = "degraded"
		}
	}
	h.Sources = s.registry.CheckHealth(r.Context(), 5*time.Second)

	code := http.StatusOK
	if h.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Descriptors())
}

func (s *Server) handleUpdateSource(w http.ResponseWriter, r *http.Request) {
	tag := mux.Vars(r)["tag"]
	var in struct {
		Enabled  *bool `json:"enabled"`
		Priority *int  `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad body: %w", err))
		return
	}
	if in.Enabled != nil {
		if err := s.registry.SetEnabled(tag, *in.Enabled); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
	}
	if in.Priority != nil {
		if err := s.registry.SetPriority(tag, *in.Priority); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
	}
	d, _ := s.registry.Descriptor(tag)
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.limiter.Remaining())
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tiered.Stats())
}

func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	glob := r.URL.Query().Get("pattern")
	if glob == "" {
		glob = "search:*"
	}
	n, err := s.tiered.InvalidatePattern(r.Context(), glob)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"invalidated": n})
}

func (s *Server) handleFreshness(w http.ResponseWriter, r *http.Request) {
	report := s.sched.LastReport()
	if report == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "no report generated yet"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).Msg("request served")
	})
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
