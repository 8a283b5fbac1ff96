package limiter

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	redis "github.com/redis/go-redis/v9"
)

var _ = Describe("Local", func() {
	It("admits up to the bound per key", func() {
		l := NewLocal(2)
		r1, ok := l.Allow("split")
		Expect(ok).To(BeTrue())
		_, ok = l.Allow("SPLIT")
		Expect(ok).To(BeTrue())
		_, ok = l.Allow("split")
		Expect(ok).To(BeFalse())
		Expect(l.Inflight("split")).To(Equal(2))

		_, ok = l.Allow("other")
		Expect(ok).To(BeTrue())

		r1()
		r1()
		Expect(l.Inflight("split")).To(Equal(1))
		_, ok = l.Allow("split")
		Expect(ok).To(BeTrue())
	})

	It("defaults a non-positive bound", func() {
		l := NewLocal(0)
		_, a := l.Allow("k")
		_, b := l.Allow("k")
		_, c := l.Allow("k")
		Expect([]bool{a, b, c}).To(Equal([]bool{true, true, false}))
	})
})

var _ = Describe("Cooldown", func() {
	var (
		ctx context.Context
		mr  *miniredis.Miniredis
		cd  *Cooldown
		now time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		mr = miniredis.RunT(GinkgoT())
		c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		DeferCleanup(c.Close)
		now = time.Unix(1_700_000_000, 0)
		cd = NewCooldown(c, time.Second, 5*time.Second)
		cd.now = func() time.Time { return now }
	})

	It("is closed until opened", func() {
		Expect(cd.IsOpen(ctx, "s3")).To(BeFalse())
		Expect(cd.Open(ctx, "s3")).To(Equal(time.Second))
		Expect(cd.IsOpen(ctx, "S3")).To(BeTrue())
		Expect(cd.Remaining(ctx, "s3")).To(Equal(time.Second))
	})

	It("doubles up to the ceiling", func() {
		var got []time.Duration
		for i := 0; i < 5; i++ {
			got = append(got, cd.Open(ctx, "s3"))
		}
		Expect(got).To(Equal([]time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}))
	})

	It("lapses with time", func() {
		cd.Open(ctx, "s3")
		now = now.Add(1500 * time.Millisecond)
		Expect(cd.IsOpen(ctx, "s3")).To(BeFalse())
	})

	It("resets on close", func() {
		cd.Open(ctx, "s3")
		cd.Open(ctx, "s3")
		cd.Close(ctx, "s3")
		Expect(cd.IsOpen(ctx, "s3")).To(BeFalse())
		Expect(cd.Open(ctx, "s3")).To(Equal(time.Second))
	})
})
