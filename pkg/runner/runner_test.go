package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/tendril/internal/changefeed"
	"github.com/Ramsey-B/tendril/pkg/ingest"
	"github.com/Ramsey-B/tendril/pkg/models"
)

type fakeIngester struct {
	mu   sync.Mutex
	runs int
	slow time.Duration
}

func (f *fakeIngester) Run(_ context.Context) (*ingest.Result, error) {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	time.Sleep(f.slow)
	return &ingest.Result{}, nil
}

func (f *fakeIngester) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

type fakePropagator struct {
	mu         sync.Mutex
	propagated []string
	placements int
}

func (f *fakePropagator) PropagateClient(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.propagated = append(f.propagated, id)
	return nil
}

func (f *fakePropagator) PlaceUnplaced(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placements++
	return nil
}

func (f *fakePropagator) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.propagated...)
}

type fakeLister struct {
	mu      sync.Mutex
	clients []models.Client
	marks   []time.Time
}

func (f *fakeLister) ListModifiedSince(_ context.Context, watermark time.Time) ([]models.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks = append(f.marks, watermark)
	out := f.clients
	f.clients = nil
	return out, nil
}

type fakeFeed struct {
	changes chan changefeed.Change
}

func (f *fakeFeed) Run(ctx context.Context, handle func(changefeed.Change)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change := <-f.changes:
			handle(change)
		}
	}
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newTestRunner(ingester *fakeIngester, propagator *fakePropagator, lister *fakeLister, feed *fakeFeed) *Runner {
	cfg := Config{
		IngestInterval:    20 * time.Millisecond,
		PollInterval:      20 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		QuietPeriod:       10 * time.Millisecond,
	}
	var feedIface Feed
	if feed != nil {
		feedIface = feed
	}
	return New(cfg, ingester, propagator, lister, feedIface, nil, testLogger())
}

func TestRunnerPropagatesPolledClients(t *testing.T) {
	ingester := &fakeIngester{}
	propagator := &fakePropagator{}
	lister := &fakeLister{clients: []models.Client{
		{ID: "Corse_7", UpdatedAt: time.Now().UTC().Add(time.Minute)},
		{ID: "Corse_8", UpdatedAt: time.Now().UTC().Add(time.Minute)},
	}}

	r := newTestRunner(ingester, propagator, lister, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	assert.Contains(t, propagator.ids(), "Corse_7")
	assert.Contains(t, propagator.ids(), "Corse_8")
	assert.GreaterOrEqual(t, ingester.count(), 1)
}

func TestRunnerAdvancesWatermark(t *testing.T) {
	modified := time.Now().UTC().Add(time.Minute)
	lister := &fakeLister{clients: []models.Client{{ID: "x", UpdatedAt: modified}}}
	r := newTestRunner(&fakeIngester{}, &fakePropagator{}, lister, nil)

	r.pollOnce(context.Background())

	assert.Equal(t, modified.Add(-watermarkRewind), r.watermark)
}

func TestRunnerSingleFlightIngest(t *testing.T) {
	ingester := &fakeIngester{slow: 100 * time.Millisecond}
	r := newTestRunner(ingester, &fakePropagator{}, &fakeLister{}, nil)

	go r.ingestOnce(context.Background())
	time.Sleep(10 * time.Millisecond)
	r.ingestOnce(context.Background()) // should be skipped
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, 1, ingester.count())
}

func TestRunnerDebouncesFeedChanges(t *testing.T) {
	propagator := &fakePropagator{}
	feed := &fakeFeed{changes: make(chan changefeed.Change, 10)}
	r := newTestRunner(&fakeIngester{}, propagator, &fakeLister{}, feed)

	for i := 0; i < 5; i++ {
		feed.changes <- changefeed.Change{ClientID: "Corse_7"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	count := 0
	for _, id := range propagator.ids() {
		if id == "Corse_7" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestRunnerRecoversFromPanics(t *testing.T) {
	r := newTestRunner(&fakeIngester{}, &fakePropagator{}, &fakeLister{}, nil)

	calls := 0
	ctx, cancel := context.WithTimeout(context.Background(), 70*time.Millisecond)
	defer cancel()
	r.loop(ctx, "test", 20*time.Millisecond, func(context.Context) {
		calls++
		panic("boom")
	})

	assert.GreaterOrEqual(t, calls, 2)
}
