package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/axiomhq/axiom-go/axiom/ingest"
)

const (
	axiomBatchSize     = 200
	axiomBuffer        = 1000
	axiomIngestTimeout = 15 * time.Second
)

// axiomWriter forwards zerolog JSON lines to Axiom (dropping debug level).
type axiomWriter struct{ shipper *shipper }

func (w *axiomWriter) Write(p []byte) (int, error) {
	if ev := toEvent(p); ev != nil {
		w.shipper.Send(ev)
	}
	return len(p), nil
}

// toEvent turns one JSON log line into an Axiom event; debug lines yield nil.
func toEvent(p []byte) axiom.Event {
	var ev map[string]interface{}
	if err := json.Unmarshal(p, &ev); err != nil {
		ev = map[string]interface{}{"message": string(p), "level": "info"}
	}
	if lvl, ok := ev["level"].(string); ok && lvl == "debug" {
		return nil
	}
	ev["service"] = service
	if _, ok := ev[ingest.TimestampField]; !ok {
		ev[ingest.TimestampField] = time.Now()
	}
	return axiom.Event(ev)
}

type ingester interface {
	IngestEvents(ctx context.Context, id string, events []axiom.Event, options ...ingest.Option) (*ingest.Status, error)
}

// shipper batches events to Axiom off the logging path. Send never blocks:
// a full buffer drops the event and counts it.
type shipper struct {
	api        ingester
	dataset    string
	flushEvery time.Duration
	batchSize  int
	events     chan axiom.Event
	stop       chan context.Context
	done       chan struct{}
	closeOnce  sync.Once
	finalErr   error
	dropped    atomic.Int64
	failed     atomic.Int64
	errOut     io.Writer
}

func newAxiomShipper(token, orgID, dataset string, flushEvery time.Duration) (*shipper, error) {
	if dataset == "" {
		dataset = "dev_" + service
	}
	opts := []axiom.Option{axiom.SetToken(token)}
	if orgID != "" {
		opts = append(opts, axiom.SetOrganizationID(orgID))
	}
	c, err := axiom.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	s := newShipper(c, dataset, flushEvery, axiomBatchSize, axiomBuffer)
	go s.run()
	return s, nil
}

// newShipper builds an idle shipper; run starts delivery.
func newShipper(api ingester, dataset string, flushEvery time.Duration, batchSize, buffer int) *shipper {
	if flushEvery <= 0 {
		flushEvery = 10 * time.Second
	}
	return &shipper{
		api:        api,
		dataset:    dataset,
		flushEvery: flushEvery,
		batchSize:  batchSize,
		events:     make(chan axiom.Event, buffer),
		stop:       make(chan context.Context, 1),
		done:       make(chan struct{}),
		errOut:     os.Stderr,
	}
}

func (s *shipper) Send(ev axiom.Event) {
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
	}
}

func (s *shipper) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.flushEvery)
	defer ticker.Stop()
	batch := make([]axiom.Event, 0, s.batchSize)
	flush := func(ctx context.Context) error {
		if len(batch) == 0 {
			return nil
		}
		err := s.ingest(ctx, batch)
		batch = batch[:0]
		return err
	}
	periodic := func() {
		ctx, cancel := context.WithTimeout(context.Background(), axiomIngestTimeout)
		_ = flush(ctx)
		cancel()
	}
	for {
		select {
		case ctx := <-s.stop:
			// Whatever is already buffered goes out with the final batch.
		drain:
			for {
				select {
				case ev := <-s.events:
					batch = append(batch, ev)
				default:
					break drain
				}
			}
			s.finalErr = flush(ctx)
			return
		case <-ticker.C:
			periodic()
		case ev := <-s.events:
			batch = append(batch, ev)
			if len(batch) >= s.batchSize {
				periodic()
			}
		}
	}
}

func (s *shipper) ingest(ctx context.Context, batch []axiom.Event) error {
	st, err := s.api.IngestEvents(ctx, s.dataset, batch)
	if err != nil {
		s.failed.Add(int64(len(batch)))
		fmt.Fprintf(s.errOut, "axiom ingest of %d events failed: %v\n", len(batch), err)
		return fmt.Errorf("axiom ingest: %w", err)
	}
	if st != nil && st.Failed > 0 {
		s.failed.Add(int64(st.Failed))
	}
	return nil
}

// Close delivers buffered events and stops the shipper. It returns when the
// final batch is sent or ctx expires, whichever comes first.
func (s *shipper) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { s.stop <- ctx })
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if n, f := s.dropped.Load(), s.failed.Load(); n > 0 || f > 0 {
		fmt.Fprintf(s.errOut, "axiom: %d events dropped, %d failed\n", n, f)
	}
	return s.finalErr
}
