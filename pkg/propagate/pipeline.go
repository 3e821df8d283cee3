// Package propagate pushes store changes back out: derived status and dates
// to the spreadsheet, appointments to the calendar. Writes are per-cell
// diffs so the engine never clobbers a concurrent manual edit.
package propagate

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/normalizers"
	"github.com/Ramsey-B/tendril/pkg/rowcodec"
	"github.com/Ramsey-B/tendril/pkg/schedule"
	"github.com/Ramsey-B/tendril/pkg/sheets"
	"github.com/Ramsey-B/tendril/pkg/status"
	"github.com/Ramsey-B/tendril/pkg/tracing"
)

// SheetWriter is the spreadsheet surface the pipeline writes to.
type SheetWriter interface {
	TabTitles(ctx context.Context) ([]string, error)
	GetRange(ctx context.Context, tab, rangeA1 string) ([][]string, error)
	BatchUpdate(ctx context.Context, data []sheets.ValueRange) error
	Append(ctx context.Context, tab string, cells []string) (int, error)
}

// ClientStore is the repository surface the pipeline depends on.
type ClientStore interface {
	Get(ctx context.Context, id string) (*models.Client, error)
	UpdateFields(ctx context.Context, id string, fields map[string]any) error
	MigrateID(ctx context.Context, oldID, newID, zone string, rowIndex int) error
	SetCalendarEventID(ctx context.Context, id, eventID string) error
	ListUnplaced(ctx context.Context) ([]models.Client, error)
}

// CalendarSyncer mirrors appointments for a client.
type CalendarSyncer interface {
	SyncDelivery(ctx context.Context, client *models.Client) (string, error)
	SyncInstallation(ctx context.Context, client *models.Client, storedEventID string) (string, error)
}

// Emitter publishes lifecycle events.
type Emitter interface {
	EmitClientCreated(ctx context.Context, client *models.Client)
	EmitStateChanged(ctx context.Context, client *models.Client, previous, current int)
}

// Pipeline is the store-to-sheet half of the sync engine.
type Pipeline struct {
	sheet    SheetWriter
	store    ClientStore
	calendar CalendarSyncer
	emitter  Emitter
	cal      schedule.Calendar
	logger   ectologger.Logger

	now func() time.Time
}

// New creates a propagation pipeline.
func New(sheet SheetWriter, store ClientStore, calendar CalendarSyncer, emitter Emitter, cal schedule.Calendar, logger ectologger.Logger) *Pipeline {
	return &Pipeline{
		sheet:    sheet,
		store:    store,
		calendar: calendar,
		emitter:  emitter,
		cal:      cal,
		logger:   logger,
		now:      time.Now,
	}
}

// PropagateClient pushes one client's state out. The flow is: apply the
// automatic policies to the store record, recompute the derived status, then
// diff the spreadsheet row cell by cell and write only what changed.
func (p *Pipeline) PropagateClient(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "propagate.Pipeline.PropagateClient")
	defer span.End()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{"client_id": id})

	c, err := p.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if c.RowIndex == 0 {
		return p.placeClient(ctx, c, log)
	}

	if changed := p.applyPolicies(ctx, c, log); changed {
		// Re-read so the sheet diff sees the policy writes.
		c, err = p.store.Get(ctx, id)
		if err != nil {
			return err
		}
	}

	if rowcodec.IsGhost(c) {
		log.Debug("Skipping sheet write for ghost row")
		return nil
	}

	if err := p.writeRowDiff(ctx, c, log); err != nil {
		return err
	}

	p.syncCalendar(ctx, c, log)
	return nil
}

// applyPolicies runs the automatic scheduling rules and persists the derived
// status. Returns true when anything was written.
func (p *Pipeline) applyPolicies(ctx context.Context, c *models.Client, log ectologger.Logger) bool {
	fields := map[string]any{}
	now := p.now()

	// A scheduled delivery always has a driver.
	if c.DeliveryDate != "" && strings.TrimSpace(c.DriverID) == "" {
		fields["driver_id"] = models.DefaultDriverID
	}

	// Delivered goods get a receipt stamp.
	delivered := normalizers.Status(c.DeliveryStatus) == models.DeliveryStatusDelivered || c.DeliveredAt != ""
	if delivered && c.DeliveredAt == "" {
		fields["delivered_at"] = now.Format(time.RFC3339)
	}
	if delivered && c.DeliverySignature == "" {
		fields["delivery_signature"] = now.Format("02/01/2006 15:04")
		if c.DeliveryTime == "" {
			fields["delivery_time"] = now.Format("15:04")
		}
	}
	// The installation plans itself as soon as a delivery day exists, not
	// only once the goods land.
	if (delivered || c.DeliveryDate != "") && c.InstallStart == "" {
		installStart := c.DeliveryDate
		if installStart == "" {
			installStart = now.Format("2006-01-02")
		}
		fields["install_start"] = installStart
		fields["install_status"] = models.InstallStatusScheduled
		c.InstallStart = installStart
	}

	// An installation starting today goes in progress with a projected end.
	if c.InstallStart != "" && c.InstallRealEnd == "" &&
		normalizers.Status(c.InstallStatus) != models.InstallStatusDone {
		if start, err := time.ParseInLocation("2006-01-02", c.InstallStart, now.Location()); err == nil && !start.After(now) {
			if normalizers.Status(c.InstallStatus) != models.InstallStatusInProgress {
				fields["install_status"] = models.InstallStatusInProgress
			}
			if c.InstallEnd == "" {
				end := schedule.EstimatedEnd(now, c.LEDCount, p.cal)
				fields["install_end"] = end.Format("2006-01-02")
			}
		}
	}

	// A finished installation gets its real end stamped.
	if normalizers.Status(c.InstallStatus) == models.InstallStatusDone && c.InstallRealEnd == "" {
		fields["install_real_end"] = now.Format("2006-01-02")
	}

	// Recompute the lifecycle label after the rules above.
	next := *c
	applyFields(&next, fields)
	derived := status.Derive(&next, now)
	if !normalizers.StatusEqual(c.ClientStatus, derived.Label()) {
		fields["client_status"] = derived.Label()
		previous := labelState(c.ClientStatus)
		p.emitter.EmitStateChanged(ctx, c, int(previous), int(derived))
	}

	if len(fields) == 0 {
		return false
	}
	if err := p.store.UpdateFields(ctx, c.ID, fields); err != nil {
		log.WithError(err).Error("Failed to apply scheduling policies")
		return false
	}
	log.WithFields(map[string]any{"fields": len(fields)}).Debug("Applied scheduling policies")
	return true
}

// writeRowDiff updates only the cells whose trimmed content differs from the
// desired value. Status cells compare through normalization so decoration
// never causes a write loop.
func (p *Pipeline) writeRowDiff(ctx context.Context, c *models.Client, log ectologger.Logger) error {
	ctx, span := tracing.StartSpan(ctx, "propagate.Pipeline.writeRowDiff")
	defer span.End()

	tab, err := p.resolveTab(ctx, c)
	if err != nil {
		return err
	}

	rowRange := rowRangeA1(c.RowIndex)
	rows, err := p.sheet.GetRange(ctx, tab, rowRange)
	if err != nil {
		return err
	}
	var current []string
	if len(rows) > 0 {
		current = rows[0]
	}

	// Never write into a row that no longer holds this client.
	liveName := ""
	if len(current) > rowcodec.ColName {
		liveName = strings.TrimSpace(current[rowcodec.ColName])
	}
	if liveName != "" && c.Name != "" && !strings.EqualFold(liveName, strings.TrimSpace(c.Name)) {
		log.WithFields(map[string]any{"row": c.RowIndex, "live_name": liveName}).
			Warn("Row occupant changed, skipping write")
		return nil
	}

	// The ghost check runs on the live row, not the store record: a row the
	// operators just cleared must stay cleared.
	liveAddr := ""
	if len(current) > rowcodec.ColAddress {
		liveAddr = strings.TrimSpace(current[rowcodec.ColAddress])
	}
	if liveName == "" && liveAddr == "" {
		log.WithFields(map[string]any{"row": c.RowIndex}).
			Warn("Live row has no name or address, skipping write")
		return nil
	}

	desired := rowcodec.Encode(c)
	var batch []sheets.ValueRange
	for col, want := range desired {
		have := ""
		if col < len(current) {
			have = current[col]
		}
		if cellEqual(col, have, want) {
			continue
		}
		if want == "" && strings.TrimSpace(have) != "" {
			// The engine adds information, it does not erase manual entries.
			continue
		}
		cell := rowcodec.ColumnLetter(col)
		batch = append(batch, sheets.ValueRange{
			Range:  sheets.RangeRef(tab, cellRef(cell, c.RowIndex)),
			Values: [][]string{{want}},
		})
	}

	if len(batch) == 0 {
		log.Debug("Row already up to date")
		return nil
	}
	if err := p.sheet.BatchUpdate(ctx, batch); err != nil {
		return err
	}
	log.WithFields(map[string]any{"cells": len(batch), "tab": tab}).Info("Propagated row changes")
	return nil
}

// placeClient appends a store-created client to its zone tab and migrates its
// temporary id to the composite form.
func (p *Pipeline) placeClient(ctx context.Context, c *models.Client, log ectologger.Logger) error {
	ctx, span := tracing.StartSpan(ctx, "propagate.Pipeline.placeClient")
	defer span.End()

	if rowcodec.IsGhost(c) {
		log.Debug("Not placing ghost client")
		return nil
	}

	tab := models.TabForZone(c.Zone, c.PostalCode)
	titles, err := p.sheet.TabTitles(ctx)
	if err == nil {
		tab = models.ResolveTab(strings.ReplaceAll(tab, " ", "_"), titles)
	}

	if c.ClientStatus == "" {
		c.ClientStatus = status.Derive(c, p.now()).Label()
	}

	rowIndex, err := p.sheet.Append(ctx, tab, rowcodec.Encode(c))
	if err != nil {
		return err
	}

	newID := models.CompositeID(tab, rowIndex)
	if err := p.store.MigrateID(ctx, c.ID, newID, models.ZoneForTab(tab), rowIndex); err != nil {
		return err
	}

	log.WithFields(map[string]any{"new_id": newID, "tab": tab, "row": rowIndex}).
		Info("Placed client in spreadsheet")

	placed := *c
	placed.ID = newID
	placed.RowIndex = rowIndex
	p.emitter.EmitClientCreated(ctx, &placed)
	p.syncCalendar(ctx, &placed, log)
	return nil
}

// PlaceUnplaced appends every store-created client that has no row yet.
func (p *Pipeline) PlaceUnplaced(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "propagate.Pipeline.PlaceUnplaced")
	defer span.End()

	clients, err := p.store.ListUnplaced(ctx)
	if err != nil {
		return err
	}
	for i := range clients {
		c := clients[i]
		log := p.logger.WithContext(ctx).WithFields(map[string]any{"client_id": c.ID})
		if err := p.placeClient(ctx, &c, log); err != nil {
			log.WithError(err).Error("Failed to place client, continuing with others")
		}
	}
	return nil
}

// syncCalendar mirrors the client's appointments. Calendar failures never
// fail propagation, the next cycle retries.
func (p *Pipeline) syncCalendar(ctx context.Context, c *models.Client, log ectologger.Logger) {
	if p.calendar == nil {
		return
	}

	eventID, err := p.calendar.SyncDelivery(ctx, c)
	if err != nil {
		log.WithError(err).Warn("Failed to sync delivery appointment")
	} else if eventID != c.CalendarEventID {
		if err := p.store.SetCalendarEventID(ctx, c.ID, eventID); err != nil {
			log.WithError(err).Warn("Failed to persist calendar event id")
		} else {
			c.CalendarEventID = eventID
		}
	}

	if _, err := p.calendar.SyncInstallation(ctx, c, c.CalendarEventID); err != nil {
		log.WithError(err).Warn("Failed to sync installation appointment")
	}
}

func (p *Pipeline) resolveTab(ctx context.Context, c *models.Client) (string, error) {
	sanitizedTab, _, ok := models.ParseCompositeID(c.ID)
	if !ok {
		sanitizedTab = strings.ReplaceAll(models.TabForZone(c.Zone, c.PostalCode), " ", "_")
	}
	titles, err := p.sheet.TabTitles(ctx)
	if err != nil {
		return "", err
	}
	return models.ResolveTab(sanitizedTab, titles), nil
}

func cellEqual(col int, have, want string) bool {
	if col == rowcodec.ColClientStatus || col == rowcodec.ColInstallStatus {
		return normalizers.StatusEqual(have, want)
	}
	return strings.TrimSpace(have) == strings.TrimSpace(want)
}

func cellRef(column string, row int) string {
	ref := column + itoa(row)
	return ref + ":" + ref
}

func rowRangeA1(row int) string {
	return "A" + itoa(row) + ":" + rowcodec.ColumnLetter(rowcodec.ColCount-1) + itoa(row)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

// applyFields mirrors a sparse column update onto an in-memory client for
// status derivation.
func applyFields(c *models.Client, fields map[string]any) {
	for column, value := range fields {
		s, _ := value.(string)
		switch column {
		case "driver_id":
			c.DriverID = s
		case "install_start":
			c.InstallStart = s
		case "install_end":
			c.InstallEnd = s
		case "install_real_end":
			c.InstallRealEnd = s
		case "delivered_at":
			c.DeliveredAt = s
		case "delivery_signature":
			c.DeliverySignature = s
		case "delivery_time":
			c.DeliveryTime = s
		case "install_status":
			c.InstallStatus = s
		case "client_status":
			c.ClientStatus = s
		}
	}
}

// labelState recovers the ordinal state from a previously written label.
func labelState(label string) status.State {
	normalized := normalizers.Status(label)
	for s := status.DeliveryToSchedule; s <= status.Completed; s++ {
		if normalizers.StatusEqual(s.Label(), normalized) {
			return s
		}
	}
	return 0
}
