// Package httpapi exposes the query engine over HTTP: the query
// endpoint, health and readiness probes, and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chessmate-labs/chessmate/internal/executor"
	"github.com/chessmate-labs/chessmate/internal/health"
	"github.com/chessmate-labs/chessmate/internal/intent"
	"github.com/chessmate-labs/chessmate/internal/metrics"
	"github.com/chessmate-labs/chessmate/internal/ratelimit"
	"github.com/chessmate-labs/chessmate/internal/sanitize"
)

// QueryExecutor runs one analyzed plan.
type QueryExecutor interface {
	Execute(ctx context.Context, plan intent.Plan) (executor.Output, error)
}

// Config holds server knobs.
type Config struct {
	MaxBodyBytes int64
}

// Server wires the HTTP surface together.
type Server struct {
	cfg      Config
	analyzer *intent.Analyzer
	exec     QueryExecutor
	limiter  *ratelimit.Limiter
	health   *health.Manager
	log      *zap.Logger
}

// New builds a server.
func New(cfg Config, analyzer *intent.Analyzer, exec QueryExecutor,
	limiter *ratelimit.Limiter, healthMgr *health.Manager, logger *zap.Logger) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Server{
		cfg:      cfg,
		analyzer: analyzer,
		exec:     exec,
		limiter:  limiter,
		health:   healthMgr,
		log:      logger,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/query", s.instrument("/query", http.HandlerFunc(s.handleQuery)))
	mux.Handle("/health", s.instrument("/health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("/healthz", http.HandlerFunc(s.handleLiveness))
	mux.Handle("/readiness", s.instrument("/readiness", http.HandlerFunc(s.handleHealth)))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// instrument records request count and latency per route.
func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.RecordHTTPMetrics(route, r.Method, strconv.Itoa(sw.status), time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

type queryRequest struct {
	Question string `json:"question"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, bodyBytes, err := s.readQueryRequest(w, r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if s.limiter != nil {
		decision := s.limiter.Check(clientKey(r), bodyBytes)
		if !decision.Allowed {
			seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintf(w, "Rate limit exceeded. Retry after %d seconds.", seconds)
			return
		}
	}

	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question parameter missing")
		return
	}

	plan := s.analyzer.Analyse(intent.Request{Text: req.Question, Limit: req.Limit, Offset: req.Offset})
	out, err := s.exec.Execute(r.Context(), plan)
	if err != nil {
		s.log.Error("Query execution failed", zap.String("error", sanitize.Error(err)))
		writeError(w, http.StatusInternalServerError, sanitize.Error(err))
		return
	}
	writeJSON(w, http.StatusOK, buildQueryResponse(req.Question, out))
}

// readQueryRequest accepts GET query parameters or a POST JSON body and
// returns the request plus the body size counted against the limiter.
func (s *Server) readQueryRequest(w http.ResponseWriter, r *http.Request) (queryRequest, int, error) {
	if r.Method != http.MethodPost {
		q := r.URL.Query()
		req := queryRequest{Question: q.Get("q")}
		if v := q.Get("limit"); v != "" {
			req.Limit, _ = strconv.Atoi(v)
		}
		if v := q.Get("offset"); v != "" {
			req.Offset, _ = strconv.Atoi(v)
		}
		return req, 0, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	var req queryRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		return queryRequest{}, 0, err
	}
	return req, int(r.ContentLength), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Run(r.Context())
	status := http.StatusOK
	if report.Status != health.ServiceOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// clientKey identifies the caller for rate limiting: the first
// X-Forwarded-For hop when present, else the remote address.
func clientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
