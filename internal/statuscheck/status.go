package statuscheck

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/local/markersplit/internal/pdfdoc"
	"github.com/local/markersplit/internal/pdftest"
)

// Pinger models the minimal capability we need from Redis and S3 for status checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker aggregates health checks for the dependencies a split needs.
type Checker struct {
	redis   Pinger
	storage Pinger

	probeOnce sync.Once
	probe     []byte
	probeErr  error
}

// Options configures the Checker. Nil dependencies report as unconfigured.
type Options struct {
	Redis   Pinger
	Storage Pinger
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Redis    Status `json:"redis"`
	S3       Status `json:"s3"`
	Renderer Status `json:"renderer"`
}

// Ready reports whether synchronous splits can be served. Redis and S3
// only back the job API.
func (s Summary) Ready() bool { return s.Renderer.OK }

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
	return &Checker{redis: opts.Redis, storage: opts.Storage}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Redis:    ping(ctx, c.redis, 2*time.Second),
		S3:       ping(ctx, c.storage, 5*time.Second),
		Renderer: c.checkRenderer(),
	}
}

func ping(ctx context.Context, p Pinger, timeout time.Duration) Status {
	if p == nil {
		return Status{OK: false, Message: "not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

// checkRenderer opens and rasterizes a one-page PDF built in memory.
func (c *Checker) checkRenderer() Status {
	c.probeOnce.Do(func() {
		c.probe, c.probeErr = pdftest.Pages(pdftest.Checker(32, 4))
	})
	if c.probeErr != nil {
		return Status{OK: false, Message: trimError(c.probeErr)}
	}
	doc, err := pdfdoc.NewSource(c.probe).Open()
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	defer doc.Close()
	img, err := doc.Render(0, 1)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	if img.Bounds().Empty() {
		return Status{OK: false, Message: "empty raster"}
	}
	return Status{OK: true, Message: fmt.Sprintf("Rendered %dx%d", img.Bounds().Dx(), img.Bounds().Dy())}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
