package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ngsoc/act/internal/core"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 1 << 20

// Server is the alert ingress HTTP server.
type Server struct {
	engine *core.Engine
	server *http.Server
	logger zerolog.Logger
}

// NewServer creates a new ingress server.
func NewServer(engine *core.Engine) *Server {
	s := &Server{
		engine: engine,
		logger: engine.Logger.With().Str("component", "api_server").Logger(),
	}

	s.server = &http.Server{
		Addr:         engine.Config.Addr(),
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(corsMiddleware(s.engine.Config.Server.CORSOrigins))
	r.Use(loggingMiddleware(s.logger))
	if rl := s.engine.Config.Server.RateLimit; rl.RequestsPerSecond > 0 {
		r.Use(rateLimitMiddleware(rl.RequestsPerSecond, rl.Burst))
	}

	r.Post("/act", s.handleAct)
	r.Post("/alert", s.handleAlert)
	r.Post("/acknowledge", s.handleAcknowledge)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/playbooks", s.handlePlaybooks)
		r.Get("/playbooks/{name}", s.handlePlaybookByName)
		r.Get("/acknowledged", s.handleAcknowledged)
		r.Get("/logs", s.handleLogs)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	})

	return r
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins serving the API.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("ingress server listening")
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("ingress server error")
		}
	}()
	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// ---------------------------------------------------------------------------
// Ingress handlers
// ---------------------------------------------------------------------------

func (s *Server) handleAct(w http.ResponseWriter, r *http.Request) {
	event, ok := decodeEvent(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Submit(r.Context(), event))
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	event, ok := decodeEvent(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.ReceiveAlert(r.Context(), event))
}

type acknowledgeRequest struct {
	AlertID string `json:"alert_id"`
	Analyst string `json:"analyst"`
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON: "+err.Error()))
		return
	}

	ack, err := s.engine.Acknowledge(req.AlertID, req.Analyst)
	if err != nil {
		var verr *core.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, errorBody(verr.Message))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

// decodeEvent reads an AlertEvent. Only an undecodable body is rejected;
// missing fields are left to the dispatcher's fallbacks.
func decodeEvent(w http.ResponseWriter, r *http.Request) (core.AlertEvent, bool) {
	var event core.AlertEvent
	if err := decodeBody(r, &event); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid event JSON: "+err.Error()))
		return event, false
	}
	return event, true
}

func decodeBody(r *http.Request, v interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

// ---------------------------------------------------------------------------
// Read-only endpoints
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]interface{}{
		"status":         "running",
		"playbooks":      s.engine.Store.Count(),
		"playbook_dir":   s.engine.Store.Dir(),
		"acknowledged":   s.engine.Acks.Len(),
		"recommender":    s.engine.Config.Recommender.URL,
		"bus_enabled":    s.engine.Config.Bus.Enabled,
		"bus_connected":  s.engine.Bus.IsConnected(),
		"uptime_seconds": int64(s.engine.Uptime().Seconds()),
		"timestamp":      time.Now().UTC(),
	}
	if s.engine.Bus != nil {
		status["bus"] = s.engine.Bus.GetMetrics()
	}
	writeJSON(w, http.StatusOK, status)
}

type playbookSummary struct {
	Name        string   `json:"name"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Start       string   `json:"start"`
	Blocks      int      `json:"blocks"`
	Warnings    []string `json:"warnings,omitempty"`
}

func (s *Server) handlePlaybooks(w http.ResponseWriter, _ *http.Request) {
	store := s.engine.Store
	summaries := make([]playbookSummary, 0, store.Count())
	for _, name := range store.Names() {
		pb, _ := store.Get(name)
		summaries = append(summaries, playbookSummary{
			Name:        name,
			Title:       pb.Name,
			Description: pb.Description,
			Start:       pb.Workflow.Start,
			Blocks:      len(pb.Workflow.Blocks),
			Warnings:    store.Warnings(name),
		})
	}

	loadErrors := make([]map[string]string, 0)
	for _, le := range store.LoadErrors() {
		loadErrors = append(loadErrors, map[string]string{
			"path":  le.Path,
			"error": le.Err.Error(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"playbooks":   summaries,
		"total":       len(summaries),
		"load_errors": loadErrors,
	})
}

func (s *Server) handlePlaybookByName(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	pb, ok := s.engine.Store.Get(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody((&core.PlaybookNotFoundError{Playbook: name}).Error()))
		return
	}
	warnings := s.engine.Store.Warnings(name)
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":     name,
		"playbook": pb,
		"warnings": warnings,
	})
}

func (s *Server) handleAcknowledged(w http.ResponseWriter, _ *http.Request) {
	ids := s.engine.Acks.IDs()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alert_ids": ids,
		"total":     len(ids),
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}

	var entries []core.LogEntry
	if component := r.URL.Query().Get("component"); component != "" {
		entries = s.engine.Logs.Filter(component, limit)
	} else {
		entries = s.engine.Logs.GetEntries(limit)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  entries,
		"total": len(entries),
	})
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func errorBody(message string) map[string]string {
	return map[string]string{"status": "error", "message": message}
}

// ipLimiter keeps one token bucket per client IP.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rps      rate.Limit
	burst    int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	entry, ok := l.limiters[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now

	// Drop idle buckets opportunistically instead of running a sweeper goroutine.
	if len(l.limiters) > 10000 {
		cutoff := now.Add(-10 * time.Minute)
		for k, e := range l.limiters {
			if e.lastSeen.Before(cutoff) {
				delete(l.limiters, k)
			}
		}
	}
	return entry.limiter
}

func rateLimitMiddleware(requestsPerSecond float64, burst int) func(http.Handler) http.Handler {
	if burst <= 0 {
		burst = int(requestsPerSecond * 2)
		if burst < 1 {
			burst = 1
		}
	}
	limiter := &ipLimiter{
		limiters: make(map[string]*limiterEntry),
		rps:      rate.Limit(requestsPerSecond),
		burst:    burst,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			if !limiter.get(ip).Allow() {
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusTooManyRequests, errorBody("rate limit exceeded, try again shortly"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := "*"
			if len(allowedOrigins) > 0 {
				allowed = ""
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						allowed = origin
						break
					}
				}
				if allowed == "" {
					// Origin not in allow list, skip CORS headers
					next.ServeHTTP(w, r)
					return
				}
			}
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if len(allowedOrigins) > 0 && allowedOrigins[0] != "*" {
				w.Header().Set("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func loggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
