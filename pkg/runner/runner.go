// Package runner drives the sync loops: periodic ingestion, watermark
// polling, the realtime change feed and the lease heartbeat. Every loop
// recovers from panics and keeps running until the context ends.
package runner

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/tendril/internal/changefeed"
	"github.com/Ramsey-B/tendril/pkg/ingest"
	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/propagate"
)

// watermarkRewind is subtracted from the newest seen timestamp so a write
// committing just behind the poll is still picked up next cycle.
const watermarkRewind = 5 * time.Second

// Ingester runs one sheet-to-store cycle.
type Ingester interface {
	Run(ctx context.Context) (*ingest.Result, error)
}

// Propagator pushes store state outward.
type Propagator interface {
	PropagateClient(ctx context.Context, id string) error
	PlaceUnplaced(ctx context.Context) error
}

// ModifiedLister supplies the polling path.
type ModifiedLister interface {
	ListModifiedSince(ctx context.Context, watermark time.Time) ([]models.Client, error)
}

// Lease is the instance lock surface the heartbeat refreshes.
type Lease interface {
	Touch() error
}

// Feed is the realtime change source.
type Feed interface {
	Run(ctx context.Context, handle func(changefeed.Change)) error
}

// Config holds the loop intervals.
type Config struct {
	IngestInterval    time.Duration
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	QuietPeriod       time.Duration
}

// Runner owns the sync loops.
type Runner struct {
	cfg        Config
	ingester   Ingester
	propagator Propagator
	store      ModifiedLister
	feed       Feed
	lease      Lease
	logger     ectologger.Logger

	debouncer *propagate.Debouncer
	watermark time.Time
	ingesting chan struct{}
}

// New creates a runner. The watermark starts at now so old records are not
// re-propagated on boot.
func New(cfg Config, ingester Ingester, propagator Propagator, store ModifiedLister, feed Feed, lease Lease, logger ectologger.Logger) *Runner {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}

	r := &Runner{
		cfg:        cfg,
		ingester:   ingester,
		propagator: propagator,
		store:      store,
		feed:       feed,
		lease:      lease,
		logger:     logger,
		watermark:  time.Now().UTC(),
		ingesting:  make(chan struct{}, 1),
	}
	r.debouncer = propagate.NewDebouncer(cfg.QuietPeriod, r.propagateOne)
	return r
}

// Run starts every loop and blocks until the context ends. Pending debounced
// work is flushed on the way out.
func (r *Runner) Run(ctx context.Context) {
	go r.loop(ctx, "ingest", r.cfg.IngestInterval, r.ingestOnce)
	go r.loop(ctx, "poll", r.cfg.PollInterval, r.pollOnce)
	go r.loop(ctx, "heartbeat", r.cfg.HeartbeatInterval, r.heartbeatOnce)
	if r.feed != nil {
		go r.runFeed(ctx)
	}

	<-ctx.Done()
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r.debouncer.Flush(flushCtx)
}

// loop runs fn immediately and then on every tick. A panic inside fn is
// logged and the loop continues on the next tick.
func (r *Runner) loop(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context)) {
	run := func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.WithFields(map[string]any{"loop": name, "panic": rec}).
					Error("Loop panicked, continuing on next tick")
			}
		}()
		fn(ctx)
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

// ingestOnce runs one ingestion cycle unless the previous one is still going.
func (r *Runner) ingestOnce(ctx context.Context) {
	select {
	case r.ingesting <- struct{}{}:
	default:
		r.logger.Warn("Previous ingestion still running, skipping this tick")
		return
	}
	defer func() { <-r.ingesting }()

	if _, err := r.ingester.Run(ctx); err != nil {
		r.logger.WithError(err).Error("Ingestion cycle failed")
	}
}

// pollOnce propagates every record modified since the watermark, then places
// store-created clients that have no spreadsheet row yet.
func (r *Runner) pollOnce(ctx context.Context) {
	clients, err := r.store.ListModifiedSince(ctx, r.watermark)
	if err != nil {
		r.logger.WithError(err).Error("Watermark poll failed")
		return
	}

	newest := r.watermark
	for i := range clients {
		c := clients[i]
		if c.UpdatedAt.After(newest) {
			newest = c.UpdatedAt
		}
		r.propagateOne(ctx, c.ID)
	}
	if newest.After(r.watermark) {
		r.watermark = newest.Add(-watermarkRewind)
	}

	if err := r.propagator.PlaceUnplaced(ctx); err != nil {
		r.logger.WithError(err).Error("Failed to place new clients")
	}
}

func (r *Runner) heartbeatOnce(ctx context.Context) {
	if r.lease == nil {
		return
	}
	if err := r.lease.Touch(); err != nil {
		r.logger.WithError(err).Warn("Failed to refresh instance lease")
	}
}

// runFeed keeps the realtime subscription alive, reconnecting with a flat
// backoff. The polling loop covers any gap.
func (r *Runner) runFeed(ctx context.Context) {
	for ctx.Err() == nil {
		err := r.feed.Run(ctx, func(change changefeed.Change) {
			r.debouncer.Notify(ctx, change.ClientID)
		})
		if ctx.Err() != nil {
			return
		}
		r.logger.WithError(err).Warn("Change feed stopped, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (r *Runner) propagateOne(ctx context.Context, id string) {
	if err := r.propagator.PropagateClient(ctx, id); err != nil {
		r.logger.WithError(err).WithFields(map[string]any{"client_id": id}).
			Error("Failed to propagate client")
	}
}
