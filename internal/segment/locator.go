// Package segment locates the page range delimited by a start and an end
// marker. Pages are classified by an interchangeable strategy, either one
// page at a time in order or fanned out over a bounded worker pool; both
// modes return the same range.
package segment

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/local/markersplit/internal/marker"
	"github.com/local/markersplit/internal/metrics"
	"github.com/local/markersplit/internal/pdfdoc"
)

// Locator finds the boundary range of one document.
type Locator struct {
	Classifier Classifier
	// Parallel fans page classification out to Workers goroutines, each
	// with its own document handle. Workers <= 0 means one per CPU.
	Parallel bool
	Workers  int
}

// Locate returns the first page matching the start marker and the first page
// at or after it matching the end marker. A missing marker yields a
// *NotFoundError; pages that cannot be inspected count as non-matching.
func (l *Locator) Locate(ctx context.Context, opener pdfdoc.Opener, markers marker.Pair) (Range, error) {
	started := time.Now()
	var (
		r   Range
		err error
	)
	if l.Parallel {
		r, err = l.locateParallel(ctx, opener, markers)
	} else {
		r, err = l.locateSequential(ctx, opener, markers)
	}
	ev := log.Debug().Str("path", string(l.Classifier.Path())).Bool("parallel", l.Parallel).
		Dur("elapsed", time.Since(started))
	if err != nil {
		ev.Err(err).Msg("boundary scan finished without range")
	} else {
		ev.Int("start", r.Start).Int("end", r.End).Msg("boundary scan found range")
	}
	return r, err
}

func (l *Locator) locateSequential(ctx context.Context, opener pdfdoc.Opener, markers marker.Pair) (Range, error) {
	doc, err := opener.Open()
	if err != nil {
		return Range{}, fmt.Errorf("open document: %w", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	start, err := l.scan(ctx, doc, marker.Start, markers.Start, 0, n)
	if err != nil {
		return Range{}, err
	}
	if start < 0 {
		return Range{}, &NotFoundError{Role: marker.Start}
	}
	end, err := l.scan(ctx, doc, marker.End, markers.End, start, n)
	if err != nil {
		return Range{}, err
	}
	if end < 0 {
		return Range{}, &NotFoundError{Role: marker.End, Start: start}
	}
	return Range{Start: start, End: end}, nil
}

// scan returns the first page in [from, to) matching tmpl, or -1.
func (l *Locator) scan(ctx context.Context, doc pdfdoc.Document, role marker.Role, tmpl *image.Gray, from, to int) (int, error) {
	for page := from; page < to; page++ {
		matched, err := l.classify(ctx, doc, page, role, tmpl)
		if err != nil {
			return -1, err
		}
		if matched {
			return page, nil
		}
	}
	return -1, nil
}

// classify absorbs page-level failures; only cancellation escapes.
func (l *Locator) classify(ctx context.Context, doc pdfdoc.Document, page int, role marker.Role, tmpl *image.Gray) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path := string(l.Classifier.Path())
	started := time.Now()
	res, err := l.Classifier.Classify(ctx, doc, page, tmpl)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		metrics.ObservePage(path, string(role), "error", time.Since(started))
		var pre *pdfdoc.PageRenderError
		if errors.As(err, &pre) {
			log.Warn().Err(err).Int("page", page).Str("marker", string(role)).Msg("page not renderable; treated as no match")
		} else {
			log.Warn().Err(err).Int("page", page).Str("marker", string(role)).Str("path", path).Msg("page not inspectable; treated as no match")
		}
		return false, nil
	}
	result := "miss"
	if res.Matched {
		result = "match"
		log.Debug().Int("page", page).Str("marker", string(role)).Str("path", path).
			Float64("scale", res.Scale).Float64("score", res.Score).Msg("marker matched")
	}
	metrics.ObservePage(path, string(role), result, time.Since(started))
	return res.Matched, nil
}

type task struct {
	role marker.Role
	page int
}

type outcome struct {
	task
	matched bool
}

// progress is owned by the single reducing goroutine.
type progress struct {
	done    map[marker.Role][]bool
	matched map[marker.Role][]bool
}

func newProgress(n int) *progress {
	p := &progress{done: map[marker.Role][]bool{}, matched: map[marker.Role][]bool{}}
	for _, role := range []marker.Role{marker.Start, marker.End} {
		p.done[role] = make([]bool, n)
		p.matched[role] = make([]bool, n)
	}
	return p
}

func (p *progress) record(o outcome) {
	p.done[o.role][o.page] = true
	p.matched[o.role][o.page] = o.matched
}

// first returns the lowest matching page at or after from once every page
// before it has reported. resolved is false while that is still unknown;
// page is -1 when every page from from onward reported no match.
func (p *progress) first(role marker.Role, from int) (page int, resolved bool) {
	done, matched := p.done[role], p.matched[role]
	for i := from; i < len(done); i++ {
		if !done[i] {
			return -1, false
		}
		if matched[i] {
			return i, true
		}
	}
	return -1, true
}

// verdict reports the final answer as soon as the results seen so far
// determine it, regardless of the order tasks completed in.
func (p *progress) verdict() (Range, bool, error) {
	start, ok := p.first(marker.Start, 0)
	if !ok {
		return Range{}, false, nil
	}
	if start < 0 {
		return Range{}, true, &NotFoundError{Role: marker.Start}
	}
	end, ok := p.first(marker.End, start)
	if !ok {
		return Range{}, false, nil
	}
	if end < 0 {
		return Range{}, true, &NotFoundError{Role: marker.End, Start: start}
	}
	return Range{Start: start, End: end}, true, nil
}

func (l *Locator) workers(n int) int {
	w := l.Workers
	if w <= 0 {
		w = runtime.NumCPU()
	}
	if w > 2*n {
		w = 2 * n
	}
	if w < 1 {
		w = 1
	}
	return w
}

// locateParallel classifies every page for both markers on a bounded pool.
// Results funnel into one reducer, which cancels the outstanding tasks once
// the range (or its absence) is determined.
func (l *Locator) locateParallel(ctx context.Context, opener pdfdoc.Opener, markers marker.Pair) (Range, error) {
	first, err := opener.Open()
	if err != nil {
		return Range{}, fmt.Errorf("open document: %w", err)
	}
	n := first.NumPage()
	if n == 0 {
		first.Close()
		return Range{}, &NotFoundError{Role: marker.Start}
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(scanCtx)

	tasks := make(chan task)
	results := make(chan outcome)

	g.Go(func() error {
		defer close(tasks)
		for page := 0; page < n; page++ {
			for _, role := range []marker.Role{marker.Start, marker.End} {
				select {
				case tasks <- task{role: role, page: page}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		}
		return nil
	})

	workers := l.workers(n)
	for w := 0; w < workers; w++ {
		var doc pdfdoc.Document
		if w == 0 {
			doc = first
		}
		g.Go(func() error {
			return l.work(gctx, opener, doc, markers, tasks, results)
		})
	}
	log.Debug().Int("pages", n).Int("workers", workers).Msg("parallel boundary scan started")

	waited := make(chan error, 1)
	go func() {
		waited <- g.Wait()
		close(results)
	}()

	prog := newProgress(n)
	var (
		answer    Range
		answerErr error
		decided   bool
	)
	for o := range results {
		if decided {
			continue
		}
		prog.record(o)
		if answer, decided, answerErr = prog.verdict(); decided {
			cancel()
		}
	}
	err = <-waited
	if decided {
		return answer, answerErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Range{}, ctxErr
	}
	if err != nil {
		return Range{}, err
	}
	answer, decided, answerErr = prog.verdict()
	if !decided {
		return Range{}, errors.New("parallel boundary scan ended with pages unreported")
	}
	return answer, answerErr
}

func (l *Locator) work(ctx context.Context, opener pdfdoc.Opener, doc pdfdoc.Document, markers marker.Pair, tasks <-chan task, results chan<- outcome) error {
	if doc == nil {
		var err error
		if doc, err = opener.Open(); err != nil {
			return fmt.Errorf("open document: %w", err)
		}
	}
	defer doc.Close()

	for t := range tasks {
		tmpl := markers.Start
		if t.role == marker.End {
			tmpl = markers.End
		}
		matched, err := l.classify(ctx, doc, t.page, t.role, tmpl)
		if err != nil {
			return err
		}
		select {
		case results <- outcome{task: t, matched: matched}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
