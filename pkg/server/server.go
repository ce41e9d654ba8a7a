// Package server exposes the transaction state API together with health, readiness and metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/speedrun-hq/vault-depositor/pkg/circuitbreaker"
	"github.com/speedrun-hq/vault-depositor/pkg/logger"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
	"github.com/speedrun-hq/vault-depositor/pkg/txstate"
)

const shutdownTimeout = 5 * time.Second

// Pinger is a dependency checked by /ready
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the persistence backend HTTP server
type Server struct {
	port          string
	store         txstate.Store
	metricsAPIKey string
	logger        logger.Logger

	mu       sync.RWMutex
	checks   map[string]Pinger
	breakers map[string]*circuitbreaker.CircuitBreaker
}

// NewServer creates a new server backed by store
func NewServer(port string, store txstate.Store, metricsAPIKey string, log logger.Logger) *Server {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Server{
		port:          port,
		store:         store,
		metricsAPIKey: metricsAPIKey,
		logger:        log,
		checks:        make(map[string]Pinger),
		breakers:      make(map[string]*circuitbreaker.CircuitBreaker),
	}
}

// AddReadinessCheck registers a dependency that must answer before /ready succeeds
func (s *Server) AddReadinessCheck(name string, p Pinger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = p
}

// AddCircuitBreaker exposes cb on /status and /circuit/reset
func (s *Server) AddCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakers[cb.GetState().Name] = cb
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/transaction-states", s.handleUpsert).Methods(http.MethodPost)
	r.HandleFunc("/transaction-states", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/transaction-states/{id}", s.handleGet).Methods(http.MethodGet)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/circuit/reset", s.handleCircuitReset).Methods(http.MethodPost)

	// Expose Prometheus metrics with API key authentication
	r.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler()))
	return r
}

// Start serves until ctx is done and then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting transaction state server on port %s", s.port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error shutting down server: %v", err)
	}
	s.logger.Info("Server shut down gracefully")
	return nil
}

// metricsAuthMiddleware is a middleware that checks for a valid API key
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.metricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		if parts[1] != s.metricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var req txstate.UpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, fmt.Errorf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		jsonError(w, fmt.Errorf("missing id"), http.StatusBadRequest)
		return
	}

	rec, err := s.store.Upsert(r.Context(), req.ID, req.Patch)
	if errors.Is(err, txstate.ErrInvalidTransition) {
		jsonError(w, err, http.StatusConflict)
		return
	}
	if err != nil {
		s.logger.Error("Failed to upsert %s: %v", req.ID, err)
		jsonError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.store.Get(r.Context(), id)
	if errors.Is(err, txstate.ErrNotFound) {
		jsonError(w, err, http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ListFilter{
		User:   q.Get("user"),
		Status: models.Status(q.Get("status")),
		View:   models.ListView(q.Get("view")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		jsonError(w, fmt.Errorf("invalid status %q", filter.Status), http.StatusBadRequest)
		return
	}
	switch filter.View {
	case models.ViewAll, models.ViewPending, models.ViewHistory:
	default:
		jsonError(w, fmt.Errorf("invalid view %q", filter.View), http.StatusBadRequest)
		return
	}

	recs, err := s.store.List(r.Context(), filter)
	if err != nil {
		jsonError(w, err, http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []*models.TransactionState{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleReady checks every registered dependency
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	checks := make(map[string]Pinger, len(s.checks))
	for name, p := range s.checks {
		names = append(names, name)
		checks[name] = p
	}
	s.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		if err := checks[name].Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(fmt.Sprintf("%s not ready: %v", name, err)))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready"))
}

// handleStatus reports the circuit breakers guarding external services
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	status := make(map[string]circuitbreaker.State, len(s.breakers))
	for name, cb := range s.breakers {
		status[name] = cb.GetState()
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, status)
}

// handleCircuitReset closes the named breaker
func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Missing name parameter"))
		return
	}

	s.mu.RLock()
	cb, ok := s.breakers[name]
	s.mu.RUnlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(fmt.Sprintf("No circuit breaker named %s", name)))
		return
	}

	cb.Reset()
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(fmt.Sprintf("Circuit breaker %s reset", name)))
}

type errorResponse struct {
	Error string `json:"error"`
}

func jsonError(w http.ResponseWriter, err error, status int) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
