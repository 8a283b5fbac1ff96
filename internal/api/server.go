package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/markersplit/internal/metrics"
	"github.com/local/markersplit/internal/queue"
	"github.com/local/markersplit/internal/splitter"
	"github.com/local/markersplit/internal/statuscheck"
	"github.com/local/markersplit/internal/store"
)

type Splitter interface {
	Split(ctx context.Context, document, startMarker, endMarker []byte, opts splitter.Options) (*splitter.Result, error)
}

type Queue interface {
	Enqueue(ctx context.Context, job queue.Job) error
	CancelJob(ctx context.Context, jobID string) error
}

type StatusStore interface {
	Set(ctx context.Context, jobID string, st store.Status) error
	Get(ctx context.Context, jobID string) (store.Status, bool, error)
}

type Limiter interface {
	Allow(key string) (func(), bool)
}

type StatusReporter interface {
	Summary(ctx context.Context) statuscheck.Summary
}

// Dependencies wires the server. Queue and Status may be nil, which
// disables the job endpoints.
type Dependencies struct {
	Engine   Splitter
	Queue    Queue
	Status   StatusStore
	Limiter  Limiter
	Checker  StatusReporter
	Defaults splitter.Options
	// MaxUploadBytes bounds a /split request body.
	MaxUploadBytes int64
	SplitTimeout   time.Duration
}

type Server struct {
	deps Dependencies
}

func New(deps Dependencies) *Server {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 64 << 20
	}
	if deps.SplitTimeout <= 0 {
		deps.SplitTimeout = 2 * time.Minute
	}
	return &Server{deps: deps}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/split", s.handleSplit)
	mux.HandleFunc("/jobs", s.handleCreateJob)
	mux.HandleFunc("/jobs/", s.handleJob)
}

// Handler returns a mux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Checker == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	sum := s.deps.Checker.Summary(r.Context())
	code := http.StatusOK
	if !sum.Ready() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, sum)
}

type errorResp struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response failed")
	}
}

func writeError(w http.ResponseWriter, code int, kind, msg string) {
	writeJSON(w, code, errorResp{Error: kind, Message: msg})
}
