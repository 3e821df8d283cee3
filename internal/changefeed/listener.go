// Package changefeed surfaces store changes as a realtime stream using the
// database's notification channel. A trigger on the clients table emits the
// changed client's id; this package delivers those ids to the propagation
// side.
package changefeed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const (
	minReconnect = 2 * time.Second
	maxReconnect = time.Minute
)

// Change is one row-level change notification.
type Change struct {
	ClientID  string `json:"client_id"`
	Operation string `json:"operation"`
}

// Listener subscribes to the notification channel and feeds changes to a
// handler. Lost connections are re-established by the underlying driver; an
// outage only degrades the system to the polling path.
type Listener struct {
	dsn     string
	channel string
	logger  ectologger.Logger
}

// New creates a change feed listener.
func New(dsn, channel string, logger ectologger.Logger) *Listener {
	return &Listener{dsn: dsn, channel: channel, logger: logger}
}

// Run listens until the context ends, invoking handle for every change. The
// handler runs on the listener goroutine and must not block.
func (l *Listener) Run(ctx context.Context, handle func(Change)) error {
	listener := pq.NewListener(l.dsn, minReconnect, maxReconnect, func(event pq.ListenerEventType, err error) {
		if err != nil {
			l.logger.WithError(err).Warnf("change feed connection event %d", event)
		}
	})
	defer listener.Close()

	if err := listener.Listen(l.channel); err != nil {
		return errors.Wrapf(err, "failed to listen on channel %s", l.channel)
	}
	l.logger.WithFields(map[string]any{"channel": l.channel}).Info("change feed connected")

	keepalive := time.NewTicker(90 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case notification := <-listener.Notify:
			if notification == nil {
				// nil marks a reconnect; notifications may have been lost,
				// the polling path will pick up anything missed.
				l.logger.Warn("change feed reconnected")
				continue
			}
			change, err := decode(notification.Extra)
			if err != nil {
				l.logger.WithError(err).Warn("dropping malformed change notification")
				continue
			}
			handle(change)
		case <-keepalive.C:
			go func() {
				if err := listener.Ping(); err != nil {
					l.logger.WithError(err).Warn("change feed ping failed")
				}
			}()
		}
	}
}

func decode(payload string) (Change, error) {
	var change Change
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		return Change{}, errors.Wrap(err, "failed to decode notification payload")
	}
	if change.ClientID == "" {
		return Change{}, errors.New("notification payload has no client id")
	}
	return change, nil
}
