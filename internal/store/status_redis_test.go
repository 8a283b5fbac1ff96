package store

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	redis "github.com/redis/go-redis/v9"
)

var _ = Describe("RedisStatus", func() {
	var (
		ctx context.Context
		mr  *miniredis.Miniredis
		s   *RedisStatus
	)

	BeforeEach(func() {
		ctx = context.Background()
		mr = miniredis.RunT(GinkgoT())
		s = NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
		DeferCleanup(s.Close)
	})

	It("reports unknown jobs as missing", func() {
		_, ok, err := s.Get(ctx, "nope")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("merges successive updates", func() {
		start := time.Now().UTC().Truncate(time.Millisecond)
		Expect(s.Set(ctx, "j1", Status{Status: StatusQueued, Message: "queued", Start: &start})).To(Succeed())
		end := start.Add(3 * time.Second)
		Expect(s.Set(ctx, "j1", Status{Status: StatusSuccess, Progress: 100, Message: "done", Attempt: 2, End: &end,
			Metadata: map[string]interface{}{"start_page": 3, "end_page": 7}})).To(Succeed())

		st, ok, err := s.Get(ctx, "j1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(st.Status).To(Equal(StatusSuccess))
		Expect(st.Progress).To(Equal(100))
		Expect(st.Attempt).To(Equal(2))
		Expect(st.Start.Equal(start)).To(BeTrue())
		Expect(st.End.Equal(end)).To(BeTrue())
		Expect(st.Metadata).To(HaveKeyWithValue("end_page", BeNumerically("==", 7)))
		Expect(st.Final()).To(BeTrue())
	})

	It("expires statuses", func() {
		Expect(s.Set(ctx, "j2", Status{Status: StatusProcessing})).To(Succeed())
		Expect(mr.TTL("job:j2:status")).To(Equal(7 * 24 * time.Hour))
		mr.FastForward(8 * 24 * time.Hour)
		_, ok, err := s.Get(ctx, "j2")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})
})
