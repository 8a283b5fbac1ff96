package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	redis "github.com/redis/go-redis/v9"

	"github.com/local/markersplit/internal/marker"
	"github.com/local/markersplit/internal/queue"
	"github.com/local/markersplit/internal/segment"
	"github.com/local/markersplit/internal/splitter"
	"github.com/local/markersplit/internal/store"
)

var _ = Describe("Worker", func() {
	var (
		ctx     context.Context
		q       *queue.RedisQueue
		status  *store.RedisStatus
		objects *memObjects
		engine  *stubEngine
		breaker *fakeBreaker
		w       *Worker
		job     *queue.Job
	)

	BeforeEach(func() {
		ctx = context.Background()
		mr := miniredis.RunT(GinkgoT())
		c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		var err error
		q, err = queue.NewWithClient(ctx, c, "jobs:split", "workers", 0)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(q.Close)
		status = store.NewWithClient(c)

		objects = newMemObjects()
		objects.objects["in/doc.pdf"] = []byte("%PDF")
		objects.objects["in/start.png"] = []byte("start")
		objects.objects["in/end.png"] = []byte("end")
		engine = &stubEngine{res: &splitter.Result{
			Range: segment.Range{Start: 2, End: 6}, Path: segment.PathRaster, Pages: 5, PDF: []byte("%PDF-out"),
		}}
		breaker = &fakeBreaker{}
		w = New(Config{
			MaxAttempts:    3,
			RetryBaseDelay: time.Second,
			RetryMaxDelay:  time.Minute,
			DequeueTimeout: 20 * time.Millisecond,
			ResultPrefix:   "results/",
			Defaults:       splitter.Options{Threshold: 0.8, Parallel: splitter.Bool(true)},
		}, q, status, objects, engine, breaker)
		job = &queue.Job{ID: "job-1", DocumentKey: "in/doc.pdf", StartMarkerKey: "in/start.png", EndMarkerKey: "in/end.png", Attempt: 1}
	})

	statusOf := func(id string) store.Status {
		st, ok, err := status.Get(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		return st
	}

	delayed := func() int64 {
		_, n, _, err := q.Depths(ctx)
		Expect(err).NotTo(HaveOccurred())
		return n
	}

	It("splits, stores the result and records 1-based pages", func() {
		w.handle(ctx, "", job)

		out, ok := objects.get("results/job-1.pdf")
		Expect(ok).To(BeTrue())
		Expect(out).To(Equal([]byte("%PDF-out")))

		st := statusOf("job-1")
		Expect(st.Status).To(Equal(store.StatusSuccess))
		Expect(st.Progress).To(Equal(100))
		Expect(st.Metadata["start_page"]).To(BeEquivalentTo(3))
		Expect(st.Metadata["end_page"]).To(BeEquivalentTo(7))
		Expect(st.Metadata["path"]).To(Equal("raster"))
		Expect(st.Start).NotTo(BeNil())
		Expect(st.End).NotTo(BeNil())

		done, _ := q.IsDone(ctx, "job-1")
		Expect(done).To(BeTrue())
		Expect(breaker.closed).To(Equal(1))
	})

	It("layers job options over the configured defaults", func() {
		job.Options = splitter.Options{Threshold: 0.9}
		w.handle(ctx, "", job)
		Expect(engine.opts.Threshold).To(Equal(0.9))
		Expect(engine.opts.ParallelScan()).To(BeTrue())
	})

	It("honours an explicit result key", func() {
		job.ResultKey = "custom/out.pdf"
		w.handle(ctx, "", job)
		_, ok := objects.get("custom/out.pdf")
		Expect(ok).To(BeTrue())
	})

	It("records taxonomy failures as final", func() {
		engine.err = &segment.NotFoundError{Role: marker.Start}
		w.handle(ctx, "", job)

		st := statusOf("job-1")
		Expect(st.Status).To(Equal(store.StatusFailed))
		Expect(st.Metadata["error"]).To(Equal("start-not-found"))
		Expect(delayed()).To(BeZero())
		Expect(breaker.opened).To(BeZero())
	})

	It("fails jobs that reference missing objects without retrying", func() {
		delete(objects.objects, "in/end.png")
		w.handle(ctx, "", job)

		st := statusOf("job-1")
		Expect(st.Status).To(Equal(store.StatusFailed))
		Expect(st.Metadata["error"]).To(Equal("storage"))
		Expect(delayed()).To(BeZero())
		Expect(engine.callCount()).To(BeZero())
	})

	It("rejects incomplete jobs", func() {
		job.EndMarkerKey = ""
		w.handle(ctx, "", job)
		st := statusOf("job-1")
		Expect(st.Status).To(Equal(store.StatusFailed))
		Expect(st.Metadata["error"]).To(Equal("invalid-job"))
	})

	When("storage fails transiently", func() {
		BeforeEach(func() {
			objects.getErr = errors.New("connection reset by peer")
		})

		It("schedules a delayed retry with the next attempt", func() {
			w.handle(ctx, "", job)

			st := statusOf("job-1")
			Expect(st.Status).To(Equal(store.StatusQueued))
			Expect(st.Attempt).To(Equal(2))
			Expect(delayed()).To(Equal(int64(1)))
			Expect(breaker.opened).To(Equal(1))

			moved, err := q.MoveDue(ctx, time.Now().Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(moved).To(Equal(1))
			_, next, err := q.Dequeue(ctx, "c", 10*time.Millisecond)
			Expect(err).NotTo(HaveOccurred())
			Expect(next.Attempt).To(Equal(2))
		})

		It("dead-letters the job once attempts run out", func() {
			job.Attempt = 3
			w.handle(ctx, "", job)

			st := statusOf("job-1")
			Expect(st.Status).To(Equal(store.StatusFailed))
			Expect(st.Metadata["error"]).To(Equal("storage"))
			_, _, dlq, err := q.Depths(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(dlq).To(Equal(int64(1)))
			Expect(delayed()).To(BeZero())
		})
	})

	It("skips cancelled jobs", func() {
		Expect(q.CancelJob(ctx, "job-1")).To(Succeed())
		w.handle(ctx, "", job)
		Expect(engine.callCount()).To(BeZero())
		Expect(statusOf("job-1").Status).To(Equal(store.StatusCancelled))
	})

	It("skips redelivered jobs that already completed", func() {
		Expect(q.MarkDone(ctx, "job-1", time.Minute)).To(Succeed())
		w.handle(ctx, "", job)
		Expect(engine.callCount()).To(BeZero())
	})

	It("defers jobs while storage cools down", func() {
		breaker.remaining = 30 * time.Second
		w.handle(ctx, "", job)
		Expect(engine.callCount()).To(BeZero())
		Expect(delayed()).To(Equal(int64(1)))
		Expect(statusOf("job-1").Attempt).To(Equal(1))
	})

	It("requeues a job interrupted by shutdown", func() {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		w.handle(cctx, "", job)
		Expect(delayed()).To(Equal(int64(1)))
		Expect(statusOf("job-1").Status).To(Equal(store.StatusQueued))
	})

	It("consumes the queue until stopped", func() {
		Expect(q.Enqueue(ctx, *job)).To(Succeed())
		w.Start()
		Eventually(func() string {
			st, _, _ := status.Get(ctx, "job-1")
			return st.Status
		}).WithTimeout(5 * time.Second).Should(Equal(store.StatusSuccess))

		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		Expect(w.Stop(sctx)).To(Succeed())
	})
})

var _ = Describe("backoff", func() {
	It("grows geometrically up to the cap", func() {
		w := New(Config{RetryBaseDelay: 2 * time.Second, RetryFactor: 2, RetryMaxDelay: 5 * time.Second}, nil, nil, nil, nil, nil)
		Expect(w.backoff(1)).To(Equal(2 * time.Second))
		Expect(w.backoff(2)).To(Equal(4 * time.Second))
		Expect(w.backoff(3)).To(Equal(5 * time.Second))
	})
})

var _ = Describe("error classification", func() {
	It("retries storage trouble only", func() {
		Expect(isTransientError(&StorageError{Op: "get", Key: "k", Err: errors.New("connection reset")})).To(BeTrue())
		Expect(isTransientError(errors.New("connection reset"))).To(BeFalse())
		Expect(isTransientError(&segment.NotFoundError{Role: marker.End})).To(BeFalse())
	})

	It("treats taxonomy errors as fatal", func() {
		Expect(isFatalError(&marker.DecodeError{Role: marker.Start, Err: marker.ErrEmpty})).To(BeTrue())
		Expect(isFatalError(&ValidationError{Message: "x"})).To(BeTrue())
		Expect(isFatalError(errors.New("boom"))).To(BeFalse())
		Expect(isFatalError(&splitter.OptionsError{Field: "zoom", Err: errors.New("NaN")})).To(BeTrue())
	})

	It("names failure kinds", func() {
		Expect(failureKind(context.DeadlineExceeded)).To(Equal("timeout"))
		Expect(failureKind(&segment.NotFoundError{Role: marker.End})).To(Equal("end-not-found"))
		Expect(failureKind(&StorageError{Err: errors.New("x")})).To(Equal("storage"))
		Expect(failureKind(errors.New("x"))).To(Equal("internal"))
	})
})
