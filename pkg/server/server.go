// Package server exposes the dispatcher over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/nexus-agent/nexus/pkg/dispatch"
	"github.com/nexus-agent/nexus/pkg/logging"
	"github.com/nexus-agent/nexus/pkg/metrics"
	"github.com/nexus-agent/nexus/pkg/models"
	"github.com/nexus-agent/nexus/pkg/router"
)

const maxBodyBytes = 1 << 20

// Server is the Nexus HTTP API.
type Server struct {
	listen     string
	dispatcher *dispatch.Dispatcher
	router     *router.Router
	log        zerolog.Logger
	mux        *http.ServeMux
}

// New creates a Server. reg may be nil, in which case /metrics is not
// served.
func New(listen string, d *dispatch.Dispatcher, r *router.Router, reg *prometheus.Registry, log zerolog.Logger) *Server {
	s := &Server{
		listen:     listen,
		dispatcher: d,
		router:     r,
		log:        logging.Component(log, "server"),
		mux:        http.NewServeMux(),
	}
	s.mux.HandleFunc("/v1/route", s.handleRoute)
	s.mux.HandleFunc("/v1/classify", s.handleClassify)
	s.mux.HandleFunc("/v1/metrics", s.handleMetrics)
	s.mux.HandleFunc("/v1/cache", s.handleCache)
	s.mux.HandleFunc("/v1/backends", s.handleBackends)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if reg != nil {
		s.mux.Handle("/metrics", metrics.Handler(reg))
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.listen).Msg("nexus listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

// RouteRequest is the body of POST /v1/route.
type RouteRequest struct {
	Text       string            `json:"text"`
	Category   string            `json:"category,omitempty"`
	Parameters models.Parameters `json:"parameters,omitempty"`
	Backend    string            `json:"backend,omitempty"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req RouteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.dispatcher.Route(r.Context(), models.Request{
		Text:       req.Text,
		Parameters: req.Parameters,
		Category:   models.Category(req.Category),
		Backend:    req.Backend,
	})
	if err != nil {
		s.writeRouteError(w, err)
		return
	}

	w.Header().Set("X-Request-ID", res.RequestID)
	if res.CacheHit {
		w.Header().Set("X-Nexus-Cache", "hit")
	} else {
		w.Header().Set("X-Nexus-Cache", "miss")
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeRouteError(w http.ResponseWriter, err error) {
	var invalid *models.InvalidRequestError
	var exhausted *models.AllBackendsExhaustedError
	switch {
	case errors.As(err, &invalid):
		writeJSONError(w, http.StatusBadRequest, invalid.Error())
	case errors.As(err, &exhausted):
		writeJSONError(w, http.StatusBadGateway, exhausted.Error())
	default:
		s.log.Error().Err(err).Msg("route failed")
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req RouteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, s.dispatcher.Classify(req.Text))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.dispatcher.Metrics().Summary())
}

// CacheStatus is the body of GET /v1/cache.
type CacheStatus struct {
	Enabled bool `json:"enabled"`
	models.CacheStats
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	c := s.dispatcher.Cache()
	switch r.Method {
	case http.MethodGet:
		status := CacheStatus{Enabled: c != nil}
		if c != nil {
			status.CacheStats = c.Stats()
		}
		writeJSON(w, http.StatusOK, status)
	case http.MethodDelete:
		if c != nil {
			c.Purge()
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// BackendsStatus is the body of GET /v1/backends.
type BackendsStatus struct {
	Backends []models.BackendDescriptor   `json:"backends"`
	Routing  map[models.Category][]string `json:"routing"`
}

func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status := BackendsStatus{
		Backends: s.router.Backends(),
		Routing:  make(map[models.Category][]string),
	}
	for _, cat := range s.router.Categories() {
		chain, err := s.router.ResolveChain(cat)
		if err != nil {
			continue
		}
		for _, d := range chain {
			status.Routing[cat] = append(status.Routing[cat], d.Name)
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"nexus_error","code":%d}}`, message, code)
}
