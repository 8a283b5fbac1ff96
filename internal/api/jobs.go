package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/markersplit/internal/queue"
	"github.com/local/markersplit/internal/splitter"
	"github.com/local/markersplit/internal/store"
)

type jobReq struct {
	DocumentKey    string           `json:"document_key"`
	StartMarkerKey string           `json:"start_marker_key"`
	EndMarkerKey   string           `json:"end_marker_key"`
	ResultKey      string           `json:"result_key"`
	Password       string           `json:"password"`
	Options        splitter.Options `json:"options"`
}

type jobResp struct {
	JobID    string         `json:"job_id"`
	Status   string         `json:"status"`
	Progress int            `json:"progress"`
	Message  string         `json:"message,omitempty"`
	Attempt  int            `json:"attempt,omitempty"`
	Start    *time.Time     `json:"start_time,omitempty"`
	End      *time.Time     `json:"end_time,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Server) jobsEnabled(w http.ResponseWriter) bool {
	if s.deps.Queue == nil || s.deps.Status == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "job queue disabled")
		return false
	}
	return true
}

// handleCreateJob enqueues a split of objects already in storage.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.jobsEnabled(w) {
		return
	}
	defer r.Body.Close()
	var req jobReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, kindBadRequest, "invalid json")
		return
	}
	if req.DocumentKey == "" || req.StartMarkerKey == "" || req.EndMarkerKey == "" {
		writeError(w, http.StatusBadRequest, kindMissingField, "document_key, start_marker_key and end_marker_key are required")
		return
	}
	if err := req.Options.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidOption, err.Error())
		return
	}

	jobID := uuid.NewString()
	now := time.Now()
	job := queue.Job{
		ID:             jobID,
		DocumentKey:    req.DocumentKey,
		StartMarkerKey: req.StartMarkerKey,
		EndMarkerKey:   req.EndMarkerKey,
		ResultKey:      req.ResultKey,
		Password:       req.Password,
		Options:        req.Options,
		Attempt:        1,
		EnqueuedAt:     now,
	}
	log.Info().Str("job_id", jobID).Str("document", req.DocumentKey).Msg("job created")
	if err := s.deps.Status.Set(r.Context(), jobID, store.Status{Status: store.StatusQueued, Message: "queued", Start: &now,
		Metadata: map[string]any{"document_key": req.DocumentKey}}); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("status init failed")
		writeError(w, http.StatusServiceUnavailable, "unavailable", "status store unavailable")
		return
	}
	if err := s.deps.Queue.Enqueue(r.Context(), job); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("enqueue failed")
		writeError(w, http.StatusServiceUnavailable, "unavailable", "queue unavailable")
		return
	}
	writeJSON(w, http.StatusCreated, jobResp{JobID: jobID, Status: store.StatusQueued, Message: "queued"})
}

// handleJob serves GET /jobs/{id} and POST /jobs/{id}/cancel.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if !s.jobsEnabled(w) {
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/jobs/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusNotFound, "not-found", "missing job id")
		return
	}
	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getJob(w, r, id)
	case action == "cancel" && r.Method == http.MethodPost:
		s.cancelJob(w, r, id)
	case action == "" || action == "cancel":
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		writeError(w, http.StatusNotFound, "not-found", fmt.Sprintf("unknown action %q", action))
	}
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request, id string) {
	st, ok, err := s.deps.Status.Get(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("status lookup failed")
		writeError(w, http.StatusInternalServerError, string(splitter.KindInternal), "status lookup failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not-found", "job not found")
		return
	}
	writeJSON(w, http.StatusOK, jobResp{
		JobID:    id,
		Status:   st.Status,
		Progress: st.Progress,
		Message:  st.Message,
		Attempt:  st.Attempt,
		Start:    st.Start,
		End:      st.End,
		Metadata: st.Metadata,
	})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request, id string) {
	st, ok, err := s.deps.Status.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, string(splitter.KindInternal), "status lookup failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not-found", "job not found")
		return
	}
	if st.Final() {
		writeError(w, http.StatusConflict, "conflict", fmt.Sprintf("job already %s", st.Status))
		return
	}
	if err := s.deps.Queue.CancelJob(r.Context(), id); err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("cancel failed")
		writeError(w, http.StatusServiceUnavailable, "unavailable", "queue unavailable")
		return
	}
	// Queued jobs are settled now; a running job finishes its current attempt.
	status := "cancelling"
	if st.Status == store.StatusQueued {
		now := time.Now()
		_ = s.deps.Status.Set(r.Context(), id, store.Status{Status: store.StatusCancelled, Message: "cancelled", End: &now})
		status = store.StatusCancelled
	}
	log.Info().Str("job_id", id).Str("status", status).Msg("job cancel requested")
	writeJSON(w, http.StatusAccepted, jobResp{JobID: id, Status: status})
}
