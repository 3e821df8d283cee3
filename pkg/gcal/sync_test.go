package gcal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/tendril/pkg/models"
)

// fakeCalendar is an in-memory calendar API good enough for the upsert flow.
type fakeCalendar struct {
	events map[string]Event
	nextID int
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{events: make(map[string]Event), nextID: 1}
}

func (f *fakeCalendar) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		// /calendars/{id}/events[/{eventID}]
		switch {
		case r.Method == http.MethodGet && len(parts) == 4:
			event, ok := f.events[parts[3]]
			if !ok {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(event)
		case r.Method == http.MethodGet && len(parts) == 3:
			clientID := strings.TrimPrefix(r.URL.Query().Get("privateExtendedProperty"), "clientId=")
			var items []Event
			for _, e := range f.events {
				if e.Extended["clientId"] == clientID {
					items = append(items, e)
				}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
		case r.Method == http.MethodPost && len(parts) == 3:
			var event Event
			_ = json.NewDecoder(r.Body).Decode(&event)
			event.ID = "evt-" + strings.Repeat("x", f.nextID)
			f.nextID++
			f.events[event.ID] = event
			_ = json.NewEncoder(w).Encode(event)
		case r.Method == http.MethodPut && len(parts) == 4:
			var event Event
			_ = json.NewDecoder(r.Body).Decode(&event)
			event.ID = parts[3]
			f.events[parts[3]] = event
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "unexpected request", http.StatusBadRequest)
		}
	}
}

func newTestSyncer(t *testing.T) (*Syncer, *fakeCalendar) {
	t.Helper()
	fake := newFakeCalendar()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	client := NewClient(Config{BaseURL: server.URL}, logger)
	return NewSyncer(client, "deliveries", "installs", logger), fake
}

func TestSyncDeliveryCreatesEvent(t *testing.T) {
	syncer, fake := newTestSyncer(t)

	client := &models.Client{
		ID:           "Corse_7",
		Name:         "Durand",
		FirstName:    "Marie",
		RawAddress:   "12 rue des Lilas, Ajaccio",
		DeliveryDate: "2026-03-15",
		LEDCount:     120,
	}

	id, err := syncer.SyncDelivery(context.Background(), client)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	event := fake.events[id]
	assert.Equal(t, "Delivery - Durand Marie", event.Summary)
	assert.Equal(t, "2026-03-15", event.Start.Date)
	assert.Equal(t, "Corse_7", event.Extended["clientId"])
}

func TestSyncDeliveryUpdatesStoredEvent(t *testing.T) {
	syncer, fake := newTestSyncer(t)
	fake.events["evt-1"] = Event{ID: "evt-1", Summary: "old", Extended: map[string]string{"clientId": "Corse_7"}}

	client := &models.Client{
		ID:              "Corse_7",
		Name:            "Durand",
		DeliveryDate:    "2026-03-16",
		CalendarEventID: "evt-1",
	}

	id, err := syncer.SyncDelivery(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", id)
	assert.Equal(t, "2026-03-16", fake.events["evt-1"].Start.Date)
	assert.Len(t, fake.events, 1)
}

func TestSyncDeliveryRecoversOrphanedEvent(t *testing.T) {
	syncer, fake := newTestSyncer(t)
	fake.events["evt-orphan"] = Event{
		ID:       "evt-orphan",
		Summary:  "old",
		Start:    EventTime{Date: "2026-03-15"},
		Extended: map[string]string{"clientId": "Corse_7"},
	}

	// Stored id points at a deleted event.
	client := &models.Client{
		ID:              "Corse_7",
		Name:            "Durand",
		DeliveryDate:    "2026-03-15",
		CalendarEventID: "evt-gone",
	}

	id, err := syncer.SyncDelivery(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, "evt-orphan", id)
	assert.Len(t, fake.events, 1)
}

func TestSyncDeliveryTimedSlot(t *testing.T) {
	syncer, fake := newTestSyncer(t)

	client := &models.Client{
		ID:           "Corse_7",
		Name:         "Durand",
		DeliveryDate: "2026-03-15",
		DeliveryTime: "14h30",
	}

	id, err := syncer.SyncDelivery(context.Background(), client)
	require.NoError(t, err)

	event := fake.events[id]
	assert.Empty(t, event.Start.Date)
	assert.Contains(t, event.Start.DateTime, "2026-03-15T14:30")
	assert.Contains(t, event.End.DateTime, "2026-03-15T16:30")
}

func TestSyncDeliveryWithoutDateIsNoop(t *testing.T) {
	syncer, fake := newTestSyncer(t)

	client := &models.Client{ID: "Corse_7", CalendarEventID: "evt-keep"}
	id, err := syncer.SyncDelivery(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, "evt-keep", id)
	assert.Empty(t, fake.events)
}

func TestSyncInstallationSpansPlannedWindow(t *testing.T) {
	syncer, fake := newTestSyncer(t)

	client := &models.Client{
		ID:           "Corse_7",
		Name:         "Durand",
		InstallStart: "2026-03-20",
		InstallEnd:   "2026-03-22",
	}

	id, err := syncer.SyncInstallation(context.Background(), client, "")
	require.NoError(t, err)

	event := fake.events[id]
	assert.Equal(t, "2026-03-20", event.Start.Date)
	assert.Equal(t, "2026-03-22", event.End.Date)
	assert.Equal(t, "installation", event.Extended["kind"])
}

func TestSyncerDisabledWithoutBaseURL(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	syncer := NewSyncer(NewClient(Config{}, logger), "d", "i", logger)

	id, err := syncer.SyncDelivery(context.Background(), &models.Client{ID: "x", DeliveryDate: "2026-03-15", CalendarEventID: "evt"})
	require.NoError(t, err)
	assert.Equal(t, "evt", id)
}

func TestNormalizeTime(t *testing.T) {
	tests := map[string]string{
		"14h30": "14:30",
		"14h":   "14:00",
		"9h":    "09:00",
		"14:30": "14:30",
		"14":    "14:00",
	}
	for in, expected := range tests {
		assert.Equal(t, expected, normalizeTime(in), in)
	}
}
