package config

import (
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/local/markersplit/internal/match"
)

var _ = Describe("FromEnv", func() {
	setenv := func(key, value string) {
		old, had := os.LookupEnv(key)
		Expect(os.Setenv(key, value)).To(Succeed())
		DeferCleanup(func() {
			if had {
				os.Setenv(key, old)
			} else {
				os.Unsetenv(key)
			}
		})
	}

	It("applies defaults", func() {
		for _, k := range []string{"MATCH_THRESHOLD", "MATCH_PROFILE", "MATCH_ZOOM", "WORKER_CONCURRENCY", "REDIS_URL", "PORT"} {
			setenv(k, "")
		}
		cfg := FromEnv()
		Expect(cfg.Match.Threshold).To(Equal(0.7))
		Expect(cfg.Match.Profile).To(Equal(match.ProfileFast))
		Expect(cfg.Match.Zoom).To(Equal(1.2))
		Expect(cfg.Worker.Concurrency).To(Equal(2))
		Expect(cfg.Queue.RedisURL).To(Equal("redis://localhost:6379"))
		Expect(cfg.Server.Port).To(Equal("8080"))
	})

	It("reads overrides", func() {
		setenv("MATCH_THRESHOLD", "0.82")
		setenv("MATCH_PROFILE", "Thorough")
		setenv("MATCH_PARALLEL", "yes")
		setenv("MATCH_WORKERS", "6")
		setenv("JOB_TIMEOUT", "90s")
		setenv("S3_BUCKET", "docs")
		cfg := FromEnv()
		Expect(cfg.Match.Threshold).To(Equal(0.82))
		Expect(cfg.Match.Profile).To(Equal(match.ProfileThorough))
		Expect(cfg.Match.Parallel).To(BeTrue())
		Expect(cfg.Worker.JobTimeout).To(Equal(90 * time.Second))
		Expect(cfg.Storage.Bucket).To(Equal("docs"))

		opts := cfg.Match.Options()
		Expect(opts.Workers).To(Equal(6))
		Expect(opts.Profile).To(Equal(match.ProfileThorough))
	})

	It("falls back on malformed values", func() {
		setenv("MATCH_ZOOM", "wide")
		setenv("MATCH_PROFILE", "sideways")
		setenv("JOB_MAX_ATTEMPTS", "many")
		cfg := FromEnv()
		Expect(cfg.Match.Zoom).To(Equal(1.2))
		Expect(cfg.Match.Profile).To(Equal(match.ProfileFast))
		Expect(cfg.Worker.JobMaxAttempts).To(Equal(3))
	})
})

var _ = Describe("parseBool", func() {
	It("accepts the usual spellings", func() {
		for _, s := range []string{"1", "true", "YES", " on "} {
			Expect(parseBool(s)).To(BeTrue())
		}
		Expect(parseBool("0")).To(BeFalse())
		Expect(parseBool("")).To(BeFalse())
	})
})
