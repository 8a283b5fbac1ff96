package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	cfgpkg "github.com/local/markersplit/internal/config"
	"github.com/local/markersplit/internal/logger"
	"github.com/local/markersplit/internal/metrics"
	"github.com/local/markersplit/internal/queue"
	"github.com/local/markersplit/internal/splitter"
	"github.com/local/markersplit/internal/store"
)

// breakerStorage names the cooldown shared by every worker touching object storage.
const breakerStorage = "storage"

type Queue interface {
	Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, *queue.Job, error)
	Ack(ctx context.Context, msgID string) error
	IsCancelled(ctx context.Context, jobID string) (bool, error)
	IsDone(ctx context.Context, jobID string) (bool, error)
	MarkDone(ctx context.Context, jobID string, ttl time.Duration) error
	EnqueueDelayed(ctx context.Context, job queue.Job, executeAt time.Time) error
	AddDLQ(ctx context.Context, job queue.Job, reason string) error
	Depths(ctx context.Context) (int64, int64, int64, error)
}

type StatusStore interface {
	Set(ctx context.Context, jobID string, st store.Status) error
}

type ObjectStore interface {
	Get(ctx context.Context, key, password string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, password, contentType string) error
}

type Splitter interface {
	Split(ctx context.Context, document, startMarker, endMarker []byte, opts splitter.Options) (*splitter.Result, error)
}

// Breaker pauses storage work across workers after transient failures.
type Breaker interface {
	Remaining(ctx context.Context, name string) time.Duration
	Open(ctx context.Context, name string) time.Duration
	Close(ctx context.Context, name string)
}

type Config struct {
	Concurrency    int
	JobTimeout     time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryFactor    float64
	RetryMaxDelay  time.Duration
	DequeueTimeout time.Duration
	DoneTTL        time.Duration
	DepthInterval  time.Duration
	ResultPrefix   string
	// Defaults fill the options a job leaves unset.
	Defaults splitter.Options
}

// ConfigFrom maps service configuration onto the pool.
func ConfigFrom(cfg cfgpkg.Config) Config {
	return Config{
		Concurrency:    cfg.Worker.Concurrency,
		JobTimeout:     cfg.Worker.JobTimeout,
		MaxAttempts:    cfg.Worker.JobMaxAttempts,
		RetryBaseDelay: cfg.Worker.RetryBaseDelay,
		RetryFactor:    cfg.Worker.RetryBackoffFactor,
		RetryMaxDelay:  cfg.Worker.RetryMaxDelay,
		ResultPrefix:   cfg.Storage.ResultPrefix,
		Defaults:       cfg.Match.Options(),
	}
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 2 * time.Second
	}
	if c.RetryFactor < 1 {
		c.RetryFactor = 2
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 2 * time.Minute
	}
	if c.DequeueTimeout <= 0 {
		c.DequeueTimeout = 2 * time.Second
	}
	if c.DoneTTL <= 0 {
		c.DoneTTL = 24 * time.Hour
	}
	if c.DepthInterval <= 0 {
		c.DepthInterval = 15 * time.Second
	}
	return c
}

// Worker runs a fixed pool of goroutines consuming split jobs.
type Worker struct {
	cfg     Config
	q       Queue
	status  StatusStore
	objects ObjectStore
	engine  Splitter
	breaker Breaker
	now     func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a pool. breaker may be nil.
func New(cfg Config, q Queue, status StatusStore, objects ObjectStore, engine Splitter, breaker Breaker) *Worker {
	return &Worker{
		cfg:     cfg.withDefaults(),
		q:       q,
		status:  status,
		objects: objects,
		engine:  engine,
		breaker: breaker,
		now:     time.Now,
	}
}

func (w *Worker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(ctx, i)
	}
	w.wg.Add(1)
	go w.reportDepths(ctx)
}

// Stop cancels in-flight jobs and waits for the pool to drain. Interrupted
// jobs are requeued without consuming an attempt.
func (w *Worker) Stop(ctx context.Context) error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(ctx context.Context, id int) {
	defer w.wg.Done()
	consumer := fmt.Sprintf("worker-%d", id)
	log.Info().Int("worker", id).Msg("dispatcher worker started")
	for {
		if ctx.Err() != nil {
			log.Info().Int("worker", id).Msg("dispatcher worker stopped")
			return
		}
		msgID, job, err := w.q.Dequeue(ctx, consumer, w.cfg.DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Int("worker", id).Msg("queue dequeue error")
			sleep(ctx, 500*time.Millisecond)
			continue
		}
		if job == nil {
			continue
		}
		w.handle(ctx, msgID, job)
	}
}

// handle runs one delivery to completion and acknowledges it.
func (w *Worker) handle(ctx context.Context, msgID string, job *queue.Job) {
	l := logger.ForJob(job.ID)
	// Bookkeeping must survive a shutdown that cancels ctx mid-job.
	bg := context.WithoutCancel(ctx)
	defer func() {
		if err := w.q.Ack(bg, msgID); err != nil {
			l.Error().Err(err).Str("msg_id", msgID).Msg("ack failed")
		}
	}()
	if job.Attempt < 1 {
		job.Attempt = 1
	}

	if done, _ := w.q.IsDone(bg, job.ID); done {
		l.Info().Msg("job already completed; skipping redelivery")
		return
	}
	if cancelled, _ := w.q.IsCancelled(bg, job.ID); cancelled {
		l.Warn().Msg("job cancelled before processing; skipping")
		w.setStatus(bg, job.ID, store.Status{Status: store.StatusCancelled, Message: "cancelled"})
		metrics.IncProcessed(store.StatusCancelled)
		return
	}
	if w.breaker != nil {
		if wait := w.breaker.Remaining(bg, breakerStorage); wait > 0 {
			l.Warn().Dur("cooldown", wait).Msg("storage cooling down; deferring job")
			w.requeue(bg, *job, wait)
			return
		}
	}

	res, err := w.Process(ctx, job)
	if err == nil {
		w.succeed(bg, job, res)
		return
	}
	if ctx.Err() != nil {
		l.Warn().Err(err).Msg("job interrupted by shutdown; requeueing")
		w.requeue(bg, *job, 0)
		return
	}
	w.fail(bg, job, err)
}

// Process loads the job's inputs, splits the document and stores the result.
func (w *Worker) Process(ctx context.Context, job *queue.Job) (*splitter.Result, error) {
	if job.DocumentKey == "" || job.StartMarkerKey == "" || job.EndMarkerKey == "" {
		return nil, &ValidationError{Message: "document_key, start_marker_key and end_marker_key are required"}
	}
	l := logger.ForJob(job.ID)
	start := w.now()
	w.setStatus(ctx, job.ID, store.Status{Status: store.StatusProcessing, Progress: 10, Message: "loading inputs", Attempt: job.Attempt, Start: &start})

	inputs := make([][]byte, 3)
	for i, key := range []string{job.DocumentKey, job.StartMarkerKey, job.EndMarkerKey} {
		data, err := w.objects.Get(ctx, key, job.Password)
		if err != nil {
			return nil, &StorageError{Op: "get", Key: key, Err: err}
		}
		inputs[i] = data
	}

	w.setStatus(ctx, job.ID, store.Status{Status: store.StatusProcessing, Progress: 30, Message: "locating markers", Attempt: job.Attempt})
	sctx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()
	res, err := w.engine.Split(sctx, inputs[0], inputs[1], inputs[2], job.Options.Merge(w.cfg.Defaults))
	if err != nil {
		return nil, err
	}
	l.Info().Int("start_page", res.Range.Start+1).Int("end_page", res.Range.End+1).Str("path", string(res.Path)).Msg("markers located")

	w.setStatus(ctx, job.ID, store.Status{Status: store.StatusProcessing, Progress: 80, Message: "storing result", Attempt: job.Attempt})
	key := w.resultKey(job)
	if err := w.objects.Put(ctx, key, res.PDF, job.Password, "application/pdf"); err != nil {
		return nil, &StorageError{Op: "put", Key: key, Err: err}
	}
	return res, nil
}

func (w *Worker) resultKey(job *queue.Job) string {
	if job.ResultKey != "" {
		return job.ResultKey
	}
	return w.cfg.ResultPrefix + job.ID + ".pdf"
}

func (w *Worker) succeed(ctx context.Context, job *queue.Job, res *splitter.Result) {
	end := w.now()
	w.setStatus(ctx, job.ID, store.Status{
		Status:   store.StatusSuccess,
		Progress: 100,
		Message:  "split complete",
		Attempt:  job.Attempt,
		End:      &end,
		Metadata: map[string]interface{}{
			"start_page": res.Range.Start + 1,
			"end_page":   res.Range.End + 1,
			"pages":      res.Pages,
			"path":       string(res.Path),
			"digital":    res.Digital,
			"result_key": w.resultKey(job),
		},
	})
	if err := w.q.MarkDone(ctx, job.ID, w.cfg.DoneTTL); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to mark job done")
	}
	if w.breaker != nil {
		w.breaker.Close(ctx, breakerStorage)
	}
	metrics.IncProcessed(store.StatusSuccess)
}

// fail retries transient failures with exponential delay and records
// everything else as final.
func (w *Worker) fail(ctx context.Context, job *queue.Job, err error) {
	l := logger.ForJob(job.ID)
	if isTransientError(err) {
		if w.breaker != nil {
			cd := w.breaker.Open(ctx, breakerStorage)
			l.Warn().Dur("cooldown", cd).Msg("storage cooldown opened")
		}
		if job.Attempt < w.cfg.MaxAttempts {
			next := *job
			next.Attempt++
			delay := w.backoff(job.Attempt)
			l.Warn().Err(err).Int("attempt", job.Attempt).Dur("delay", delay).Msg("transient failure; retrying")
			if qerr := w.q.EnqueueDelayed(ctx, next, w.now().Add(delay)); qerr != nil {
				l.Error().Err(qerr).Msg("failed to schedule retry")
			} else {
				w.setStatus(ctx, job.ID, store.Status{Status: store.StatusQueued, Message: fmt.Sprintf("retrying: %v", err), Attempt: next.Attempt})
				metrics.IncRetry()
				return
			}
		}
		l.Error().Err(err).Int("attempt", job.Attempt).Msg("retries exhausted; dead-lettering job")
		if qerr := w.q.AddDLQ(ctx, *job, err.Error()); qerr != nil {
			l.Error().Err(qerr).Msg("failed to dead-letter job")
		}
		w.final(ctx, job, err, "dead_letter")
		return
	}
	l.Error().Err(err).Str("kind", failureKind(err)).Msg("job failed")
	w.final(ctx, job, err, store.StatusFailed)
}

func (w *Worker) final(ctx context.Context, job *queue.Job, err error, result string) {
	end := w.now()
	w.setStatus(ctx, job.ID, store.Status{
		Status:   store.StatusFailed,
		Progress: 100,
		Message:  err.Error(),
		Attempt:  job.Attempt,
		End:      &end,
		Metadata: map[string]interface{}{"error": failureKind(err)},
	})
	_ = w.q.MarkDone(ctx, job.ID, w.cfg.DoneTTL)
	metrics.IncProcessed(result)
}

func (w *Worker) requeue(ctx context.Context, job queue.Job, after time.Duration) {
	if err := w.q.EnqueueDelayed(ctx, job, w.now().Add(after)); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("failed to requeue job")
		return
	}
	w.setStatus(ctx, job.ID, store.Status{Status: store.StatusQueued, Message: "requeued", Attempt: job.Attempt})
}

// backoff returns base*factor^(attempt-1), capped.
func (w *Worker) backoff(attempt int) time.Duration {
	d := float64(w.cfg.RetryBaseDelay) * math.Pow(w.cfg.RetryFactor, float64(attempt-1))
	if d > float64(w.cfg.RetryMaxDelay) {
		return w.cfg.RetryMaxDelay
	}
	return time.Duration(d)
}

func (w *Worker) setStatus(ctx context.Context, jobID string, st store.Status) {
	if err := w.status.Set(ctx, jobID, st); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Str("status", st.Status).Msg("status update failed")
	}
}

func (w *Worker) reportDepths(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.DepthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stream, delayed, dlq, err := w.q.Depths(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Debug().Err(err).Msg("queue depth probe failed")
				}
				continue
			}
			metrics.SetQueueDepth("stream", stream)
			metrics.SetQueueDepth("delayed", delayed)
			metrics.SetQueueDepth("dlq", dlq)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
