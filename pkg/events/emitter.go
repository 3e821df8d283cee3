// Package events handles event emission for client lifecycle changes.
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/tendril/pkg/kafka"
	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/tracing"
)

// SchemaVersion is the current event schema version.
const SchemaVersion = "1.0"

// Publisher is the producer surface the emitter needs.
type Publisher interface {
	PublishClientEvent(ctx context.Context, event *kafka.ClientEvent) error
}

// Emitter publishes client lifecycle events. A nil publisher disables
// emission, events are best-effort and never fail the sync path.
type Emitter struct {
	producer Publisher
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter.
func NewEmitter(producer Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{producer: producer, logger: logger}
}

// EmitClientCreated emits a client.created event.
func (e *Emitter) EmitClientCreated(ctx context.Context, client *models.Client) {
	e.emit(ctx, "client.created", client, 0, 0)
}

// EmitClientUpdated emits a client.updated event.
func (e *Emitter) EmitClientUpdated(ctx context.Context, client *models.Client) {
	e.emit(ctx, "client.updated", client, 0, 0)
}

// EmitStateChanged emits a client.state_changed event carrying the old and
// new lifecycle states.
func (e *Emitter) EmitStateChanged(ctx context.Context, client *models.Client, previous, current int) {
	e.emit(ctx, "client.state_changed", client, previous, current)
}

func (e *Emitter) emit(ctx context.Context, eventType string, client *models.Client, previous, current int) {
	if e == nil || e.producer == nil {
		return
	}

	ctx, span := tracing.StartSpan(ctx, "events.Emitter.emit")
	defer span.End()

	data, err := json.Marshal(map[string]any{
		"schema_version": SchemaVersion,
		"client":         client,
	})
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to encode client event")
		return
	}

	event := &kafka.ClientEvent{
		EventType:     eventType,
		ClientID:      client.ID,
		Zone:          client.Zone,
		State:         current,
		PreviousState: previous,
		Data:          data,
	}

	if err := e.producer.PublishClientEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Errorf("Failed to emit %s event", eventType)
	}
}
