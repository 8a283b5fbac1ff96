// Package splitter is the bytes-in, bytes-out entry point: it decodes the two
// markers, locates the range they delimit and extracts it as a new PDF.
package splitter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/markersplit/internal/extract"
	"github.com/local/markersplit/internal/filetype"
	"github.com/local/markersplit/internal/marker"
	"github.com/local/markersplit/internal/metrics"
	"github.com/local/markersplit/internal/pdfdoc"
	"github.com/local/markersplit/internal/segment"
)

// Result is a successful split.
type Result struct {
	Range   segment.Range
	Path    segment.Path
	Pages   int
	Digital bool
	PDF     []byte
}

// Engine runs split calls. It holds no per-call state and is safe for
// concurrent use.
type Engine struct {
	detector *filetype.Detector
}

// New creates an Engine.
func New() *Engine {
	return &Engine{detector: filetype.New()}
}

// Split finds the first page carrying startMarker and the first page at or
// after it carrying endMarker, and returns those pages and everything between
// them as a new PDF. Digital documents are first scanned through their
// embedded images; when that pass does not produce a full range the pages are
// rasterized and scanned again from the beginning.
func (e *Engine) Split(ctx context.Context, document, startMarker, endMarker []byte, opts Options) (res *Result, err error) {
	started := time.Now()
	path := segment.PathRaster
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = string(KindOf(err))
		}
		metrics.ObserveSplit(outcome, string(path), time.Since(started))
	}()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.WithDefaults()

	if info := e.detector.Detect(document); info.MIMEType != filetype.PDF {
		return nil, &DocumentError{Err: fmt.Errorf("%w: detected %s", ErrNotPDF, info.MIMEType)}
	}
	markers, err := marker.DecodePair(startMarker, endMarker)
	if err != nil {
		return nil, err
	}

	src := pdfdoc.NewSource(document)
	probe, err := src.Open()
	if err != nil {
		return nil, &DocumentError{Err: err}
	}
	total := probe.NumPage()
	digital, diag := pdfdoc.IsDigital(probe, opts.DigitalSamplePages)
	probe.Close()
	log.Debug().Int("pages", total).Bool("digital", digital).Int64("probe_ms", diag.DurationMs).Msg("document classified")

	var r segment.Range
	found := false
	if digital && !opts.FastPathDisabled() {
		r, err = e.locate(ctx, src, markers, &segment.EmbeddedClassifier{Threshold: opts.Threshold}, opts)
		switch {
		case err == nil:
			found = true
			path = segment.PathEmbedded
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			metrics.IncFallback()
			log.Info().Err(err).Msg("embedded-image pass found no range; rasterizing pages")
		}
	}
	if !found {
		r, err = e.locate(ctx, src, markers, &segment.RasterClassifier{Zoom: opts.Zoom, Params: opts.params()}, opts)
		if err != nil {
			return nil, err
		}
	}

	out, err := extract.Pages(document, &r)
	if err != nil {
		return nil, err
	}
	log.Info().Int("start", r.Start).Int("end", r.End).Str("path", string(path)).
		Int("source_pages", total).Dur("elapsed", time.Since(started)).Msg("split complete")
	return &Result{Range: r, Path: path, Pages: r.Len(), Digital: digital, PDF: out}, nil
}

func (e *Engine) locate(ctx context.Context, src *pdfdoc.Source, markers marker.Pair, c segment.Classifier, opts Options) (segment.Range, error) {
	l := &segment.Locator{Classifier: c, Parallel: opts.ParallelScan(), Workers: opts.Workers}
	r, err := l.Locate(ctx, src, markers)
	var nf *segment.NotFoundError
	if err != nil && !errors.As(err, &nf) && ctx.Err() == nil {
		return r, fmt.Errorf("%s scan: %w", c.Path(), err)
	}
	return r, err
}
