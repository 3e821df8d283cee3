package gcal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/tracing"
)

// searchWindow is how far around the appointment date the recovery search
// looks for an orphaned event.
const searchWindow = 45 * 24 * time.Hour

// Syncer keeps delivery and installation appointments in step with client
// records.
type Syncer struct {
	client            *Client
	deliveryCalendar  string
	installCalendar   string
	logger            ectologger.Logger
}

// NewSyncer creates a calendar syncer. A nil or unconfigured client disables
// syncing without changing any call site.
func NewSyncer(client *Client, deliveryCalendar, installCalendar string, logger ectologger.Logger) *Syncer {
	return &Syncer{
		client:           client,
		deliveryCalendar: deliveryCalendar,
		installCalendar:  installCalendar,
		logger:           logger,
	}
}

// SyncDelivery upserts the delivery appointment for a client and returns the
// event id to persist. An empty delivery date returns the stored id untouched.
func (s *Syncer) SyncDelivery(ctx context.Context, client *models.Client) (string, error) {
	if !s.client.Enabled() || client.DeliveryDate == "" {
		return client.CalendarEventID, nil
	}

	ctx, span := tracing.StartSpan(ctx, "gcal.SyncDelivery")
	defer span.End()

	event := Event{
		Summary:     fmt.Sprintf("Delivery - %s %s", client.Name, client.FirstName),
		Description: deliveryDescription(client),
		Location:    client.RawAddress,
		Start:       EventTime{Date: client.DeliveryDate},
		End:         EventTime{Date: client.DeliveryDate},
		Extended:    map[string]string{"clientId": client.ID},
	}
	if client.DeliveryTime != "" {
		if start, end, ok := timedWindow(client.DeliveryDate, client.DeliveryTime); ok {
			event.Start = EventTime{DateTime: start}
			event.End = EventTime{DateTime: end}
		}
	}

	return s.upsert(ctx, s.deliveryCalendar, client, event)
}

// SyncInstallation upserts the installation appointment spanning the planned
// start and end dates.
func (s *Syncer) SyncInstallation(ctx context.Context, client *models.Client, storedEventID string) (string, error) {
	if !s.client.Enabled() || client.InstallStart == "" {
		return storedEventID, nil
	}

	ctx, span := tracing.StartSpan(ctx, "gcal.SyncInstallation")
	defer span.End()

	end := client.InstallEnd
	if end == "" {
		end = client.InstallStart
	}

	event := Event{
		ID:          storedEventID,
		Summary:     fmt.Sprintf("Installation - %s %s", client.Name, client.FirstName),
		Description: installDescription(client),
		Location:    client.RawAddress,
		Start:       EventTime{Date: client.InstallStart},
		End:         EventTime{Date: datePart(end)},
		Extended:    map[string]string{"clientId": client.ID, "kind": "installation"},
	}

	saved := client.CalendarEventID
	client.CalendarEventID = storedEventID
	id, err := s.upsert(ctx, s.installCalendar, client, event)
	client.CalendarEventID = saved
	return id, err
}

// upsert resolves the target event in three steps, each one cheaper than
// creating a duplicate: the stored id, then a window search by client id,
// then insert.
func (s *Syncer) upsert(ctx context.Context, calendarID string, client *models.Client, desired Event) (string, error) {
	log := s.logger.WithContext(ctx).WithFields(map[string]any{"client_id": client.ID, "calendar_id": calendarID})

	if client.CalendarEventID != "" {
		existing, err := s.client.Get(ctx, calendarID, client.CalendarEventID)
		if err != nil {
			return client.CalendarEventID, err
		}
		if existing != nil {
			desired.ID = existing.ID
			if err := s.client.Update(ctx, calendarID, desired); err != nil {
				return existing.ID, err
			}
			return existing.ID, nil
		}
		log.Warn("stored calendar event no longer exists, searching for a replacement")
	}

	anchor := anchorDate(desired)
	found, err := s.client.Search(ctx, calendarID, client.ID, anchor.Add(-searchWindow), anchor.Add(searchWindow))
	if err != nil {
		return "", err
	}
	if len(found) > 0 {
		desired.ID = found[0].ID
		if err := s.client.Update(ctx, calendarID, desired); err != nil {
			return found[0].ID, err
		}
		log.WithFields(map[string]any{"event_id": found[0].ID}).Info("recovered orphaned calendar event")
		return found[0].ID, nil
	}

	desired.ID = ""
	created, err := s.client.Insert(ctx, calendarID, desired)
	if err != nil {
		return "", err
	}
	log.WithFields(map[string]any{"event_id": created.ID}).Info("created calendar event")
	return created.ID, nil
}

func anchorDate(event Event) time.Time {
	raw := event.Start.Date
	if raw == "" {
		raw = event.Start.DateTime
	}
	if t, err := time.Parse("2006-01-02", datePart(raw)); err == nil {
		return t
	}
	return time.Now()
}

func timedWindow(date, startTime string) (string, string, bool) {
	start, err := time.Parse("2006-01-02 15:04", fmt.Sprintf("%s %s", date, normalizeTime(startTime)))
	if err != nil {
		return "", "", false
	}
	const slot = 2 * time.Hour
	return start.Format(time.RFC3339), start.Add(slot).Format(time.RFC3339), true
}

// normalizeTime accepts "14h", "14h30", "14:30" and "14".
func normalizeTime(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "h", ":")
	s = strings.TrimSuffix(s, ":")
	if !strings.Contains(s, ":") {
		s += ":00"
	}
	if len(s) == 4 {
		s = "0" + s
	}
	return s
}

func datePart(raw string) string {
	if len(raw) >= 10 {
		return raw[:10]
	}
	return raw
}

func deliveryDescription(client *models.Client) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Client: %s %s\n", client.Name, client.FirstName)
	if client.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", client.Phone)
	}
	if client.LEDCount > 0 {
		fmt.Fprintf(&b, "LED modules: %d\n", client.LEDCount)
	}
	if client.DriverID != "" {
		fmt.Fprintf(&b, "Driver: %s\n", client.DriverID)
	}
	return strings.TrimRight(b.String(), "\n")
}

func installDescription(client *models.Client) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Client: %s %s\n", client.Name, client.FirstName)
	if client.LEDCount > 0 {
		fmt.Fprintf(&b, "LED modules: %d\n", client.LEDCount)
	}
	if client.InstallerID != "" {
		fmt.Fprintf(&b, "Installer: %s\n", client.InstallerID)
	}
	return strings.TrimRight(b.String(), "\n")
}
