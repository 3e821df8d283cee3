package propagate

import (
	"context"
	"sync"
	"time"
)

// Debouncer coalesces bursts of change notifications per client id. A client
// is handed to the sink only after its notifications have been quiet for the
// configured period, so a rapid editing session produces one propagation.
type Debouncer struct {
	quiet time.Duration
	sink  func(ctx context.Context, clientID string)

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewDebouncer creates a debouncer feeding the sink.
func NewDebouncer(quiet time.Duration, sink func(ctx context.Context, clientID string)) *Debouncer {
	return &Debouncer{
		quiet:   quiet,
		sink:    sink,
		pending: make(map[string]*time.Timer),
	}
}

// Notify schedules (or reschedules) the client's propagation.
func (d *Debouncer) Notify(ctx context.Context, clientID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.pending[clientID]; ok {
		timer.Reset(d.quiet)
		return
	}

	d.pending[clientID] = time.AfterFunc(d.quiet, func() {
		d.mu.Lock()
		delete(d.pending, clientID)
		d.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		d.sink(ctx, clientID)
	})
}

// Flush cancels all pending timers and fires their clients immediately.
// Used on shutdown so quiet-period work is not lost.
func (d *Debouncer) Flush(ctx context.Context) {
	d.mu.Lock()
	ids := make([]string, 0, len(d.pending))
	for id, timer := range d.pending {
		timer.Stop()
		ids = append(ids, id)
	}
	d.pending = make(map[string]*time.Timer)
	d.mu.Unlock()

	for _, id := range ids {
		d.sink(ctx, id)
	}
}

// Pending reports how many clients are waiting out their quiet period.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
