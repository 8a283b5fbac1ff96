package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/local/markersplit/internal/match"
	"github.com/local/markersplit/internal/metrics"
	"github.com/local/markersplit/internal/splitter"
)

// Request-level failure kinds outside the splitter taxonomy.
const (
	kindMissingField  = "missing-field"
	kindInvalidOption = "invalid-option"
	kindBadRequest    = "bad-request"
	kindTooLarge      = "too-large"
	kindBusy          = "busy"
)

// handleSplit runs a synchronous split of an uploaded document.
// Multipart fields: document, start_marker, end_marker (files) and the
// optional threshold, profile, zoom, parallel, workers, disable_fast_path.
func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.deps.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, kindTooLarge, fmt.Sprintf("upload exceeds %d bytes", s.deps.MaxUploadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, kindBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := make(map[string][]byte, 3)
	for _, field := range []string{"document", "start_marker", "end_marker"} {
		data, err := formFile(r, field)
		if err != nil {
			writeError(w, http.StatusBadRequest, kindMissingField, err.Error())
			return
		}
		files[field] = data
	}
	opts, err := formOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidOption, err.Error())
		return
	}
	opts = opts.Merge(s.deps.Defaults)

	if s.deps.Limiter != nil {
		release, ok := s.deps.Limiter.Allow("split")
		if !ok {
			metrics.IncRejected()
			writeError(w, http.StatusTooManyRequests, kindBusy, "too many splits in flight")
			return
		}
		defer release()
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.deps.SplitTimeout)
	defer cancel()
	res, err := s.deps.Engine.Split(ctx, files["document"], files["start_marker"], files["end_marker"], opts)
	if err != nil {
		writeSplitError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="split.pdf"`)
	w.Header().Set("X-Start-Page", strconv.Itoa(res.Range.Start+1))
	w.Header().Set("X-End-Page", strconv.Itoa(res.Range.End+1))
	w.Header().Set("X-Match-Path", string(res.Path))
	w.Header().Set("X-Page-Count", strconv.Itoa(res.Pages))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.PDF); err != nil {
		log.Debug().Err(err).Msg("write split result failed")
	}
}

// writeSplitError maps engine failures onto HTTP. Internal errors are
// logged, never echoed.
func writeSplitError(w http.ResponseWriter, err error) {
	kind := splitter.KindOf(err)
	switch kind {
	case splitter.KindStartNotFound, splitter.KindEndNotFound, splitter.KindInvalidRange:
		writeError(w, http.StatusUnprocessableEntity, string(kind), err.Error())
	case splitter.KindMarkerDecode, splitter.KindInvalidDocument, splitter.KindInvalidOptions:
		writeError(w, http.StatusBadRequest, string(kind), err.Error())
	case splitter.KindCancelled:
		writeError(w, http.StatusGatewayTimeout, string(kind), "split did not finish in time")
	default:
		log.Error().Err(err).Msg("split failed")
		writeError(w, http.StatusInternalServerError, string(splitter.KindInternal), "internal error")
	}
}

func formFile(r *http.Request, field string) ([]byte, error) {
	f, _, err := r.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("missing file field %q", field)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	return data, nil
}

func formOptions(r *http.Request) (splitter.Options, error) {
	var o splitter.Options
	if v := r.FormValue("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil || !(t >= -1 && t <= 1) {
			return o, fmt.Errorf("threshold must be a number in [-1, 1], got %q", v)
		}
		o.Threshold = t
	}
	if v := r.FormValue("profile"); v != "" {
		p, err := match.ParseProfile(v)
		if err != nil {
			return o, err
		}
		o.Profile = p
	}
	if v := r.FormValue("zoom"); v != "" {
		z, err := strconv.ParseFloat(v, 64)
		if err != nil || !(z > 0) || math.IsInf(z, 0) {
			return o, fmt.Errorf("zoom must be a positive number, got %q", v)
		}
		o.Zoom = z
	}
	for field, dst := range map[string]**bool{"parallel": &o.Parallel, "disable_fast_path": &o.DisableFastPath} {
		if v := r.FormValue(field); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return o, fmt.Errorf("%s must be a boolean, got %q", field, v)
			}
			*dst = splitter.Bool(b)
		}
	}
	if v := r.FormValue("workers"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return o, fmt.Errorf("workers must be a positive integer, got %q", v)
		}
		o.Workers = n
	}
	return o, o.Validate()
}
