// Package client persists client records in the operational store. The store
// is authoritative for application writes; field edits arrive through the
// ingestion pipeline and are merged here.
package client

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/tendril/pkg/database"
	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/tracing"
)

const table = "clients"

// Repository provides access to client records.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// New creates a client repository.
func New(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// UpsertResult describes what an upsert did.
type UpsertResult struct {
	Client *models.Client
	// IsNew is true when the row was inserted rather than updated.
	IsNew bool
	// Skipped is true when a recent store write was protected from being
	// overwritten by a stale read.
	Skipped bool
}

// Upsert merges a decoded row into the store, keyed on the composite id.
// Rows updated by the application after graceCutoff are left untouched so a
// read taken before that write cannot roll it back.
func (r *Repository) Upsert(ctx context.Context, c *models.Client, graceCutoff time.Time) (*UpsertResult, error) {
	ctx, span := tracing.StartSpan(ctx, "client.Repository.Upsert")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":    "Upsert",
		"client_id": c.ID,
		"zone":      c.Zone,
	})

	now := time.Now().UTC()

	query := `
		INSERT INTO clients (
			id, zone, row_index, name, first_name, raw_address, postal_code,
			phone, email, led_count, client_status, delivery_date, delivery_time,
			delivery_signature, delivered_at, delivery_status, driver_id,
			install_start, install_end, install_real_end, install_status,
			installer_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		ON CONFLICT (id) DO UPDATE SET
			zone = EXCLUDED.zone,
			row_index = EXCLUDED.row_index,
			name = EXCLUDED.name,
			first_name = EXCLUDED.first_name,
			raw_address = EXCLUDED.raw_address,
			postal_code = EXCLUDED.postal_code,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			led_count = EXCLUDED.led_count,
			client_status = EXCLUDED.client_status,
			delivery_date = EXCLUDED.delivery_date,
			delivery_time = EXCLUDED.delivery_time,
			delivery_signature = EXCLUDED.delivery_signature,
			delivered_at = COALESCE(NULLIF(EXCLUDED.delivered_at, ''), clients.delivered_at),
			delivery_status = COALESCE(NULLIF(EXCLUDED.delivery_status, ''), clients.delivery_status),
			driver_id = EXCLUDED.driver_id,
			install_start = EXCLUDED.install_start,
			install_end = EXCLUDED.install_end,
			install_real_end = EXCLUDED.install_real_end,
			install_status = EXCLUDED.install_status,
			installer_id = EXCLUDED.installer_id,
			updated_at = EXCLUDED.updated_at
		WHERE clients.updated_at <= $25
		RETURNING id, zone, row_index, name, first_name, raw_address, postal_code,
			phone, email, led_count, client_status, delivery_date, delivery_time,
			delivery_signature, delivered_at, delivery_status, driver_id,
			install_start, install_end, install_real_end, install_status,
			installer_id, calendar_event_id, created_at, updated_at,
			(xmax = 0) AS inserted
	`

	var result struct {
		models.Client
		Inserted bool `db:"inserted"`
	}

	err := r.db.GetContext(ctx, &result, query,
		c.ID, c.Zone, c.RowIndex, c.Name, c.FirstName, c.RawAddress, c.PostalCode,
		c.Phone, c.Email, c.LEDCount, c.ClientStatus, c.DeliveryDate, c.DeliveryTime,
		c.DeliverySignature, c.DeliveredAt, c.DeliveryStatus, c.DriverID,
		c.InstallStart, c.InstallEnd, c.InstallRealEnd, c.InstallStatus,
		c.InstallerID, now, now, graceCutoff,
	)
	if err == sql.ErrNoRows {
		log.Debug("Skipped upsert, store write is inside the grace period")
		return &UpsertResult{Skipped: true}, nil
	}
	if err != nil {
		log.WithError(err).Error("Failed to upsert client")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert client")
	}

	if result.Inserted {
		log.Info("Created client")
	} else {
		log.Debug("Updated client")
	}
	return &UpsertResult{Client: &result.Client, IsNew: result.Inserted}, nil
}

// Get fetches one client by id.
func (r *Repository) Get(ctx context.Context, id string) (*models.Client, error) {
	ctx, span := tracing.StartSpan(ctx, "client.Repository.Get")
	defer span.End()

	sb := database.NewStruct(models.Client{}).SelectFrom(table)
	sb.Where(sb.Equal("id", id))
	query, args := sb.Build()

	var c models.Client
	err := r.db.GetContext(ctx, &c, query, args...)
	if err == sql.ErrNoRows {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "client %s not found", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"client_id": id}).
			Error("Failed to get client")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get client")
	}
	return &c, nil
}

// ListModifiedSince returns clients whose store record changed strictly after
// the watermark, oldest first so the caller can advance the watermark safely.
func (r *Repository) ListModifiedSince(ctx context.Context, watermark time.Time) ([]models.Client, error) {
	ctx, span := tracing.StartSpan(ctx, "client.Repository.ListModifiedSince")
	defer span.End()

	sb := database.NewStruct(models.Client{}).SelectFrom(table)
	sb.Where(sb.GreaterThan("updated_at", watermark))
	sb.OrderBy("updated_at").Asc()
	query, args := sb.Build()

	var clients []models.Client
	if err := r.db.SelectContext(ctx, &clients, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list modified clients")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list modified clients")
	}
	return clients, nil
}

// ListUnplaced returns clients created in the store that have no spreadsheet
// row yet. Their ids are still temporary.
func (r *Repository) ListUnplaced(ctx context.Context) ([]models.Client, error) {
	ctx, span := tracing.StartSpan(ctx, "client.Repository.ListUnplaced")
	defer span.End()

	sb := database.NewStruct(models.Client{}).SelectFrom(table)
	sb.Where(sb.Equal("row_index", 0))
	sb.OrderBy("created_at").Asc()
	query, args := sb.Build()

	var clients []models.Client
	if err := r.db.SelectContext(ctx, &clients, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list unplaced clients")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list unplaced clients")
	}
	return clients, nil
}

// MigrateID rewrites a temporary id to the composite id assigned when the
// client's row landed in the spreadsheet.
func (r *Repository) MigrateID(ctx context.Context, oldID, newID, zone string, rowIndex int) error {
	ctx, span := tracing.StartSpan(ctx, "client.Repository.MigrateID")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method": "MigrateID",
		"old_id": oldID,
		"new_id": newID,
	})

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("id", newID),
		ub.Assign("zone", zone),
		ub.Assign("row_index", rowIndex),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("id", oldID))
	query, args := ub.Build()

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.WithError(err).Error("Failed to migrate client id")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to migrate client id")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "client %s not found", oldID)
	}

	log.Info("Migrated client id")
	return nil
}

// SetCalendarEventID persists the calendar event linked to a client without
// touching updated_at, so a calendar write never looks like a data change.
func (r *Repository) SetCalendarEventID(ctx context.Context, id, eventID string) error {
	ctx, span := tracing.StartSpan(ctx, "client.Repository.SetCalendarEventID")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(ub.Assign("calendar_event_id", eventID))
	ub.Where(ub.Equal("id", id))
	query, args := ub.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"client_id": id}).
			Error("Failed to set calendar event id")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set calendar event id")
	}
	return nil
}

// UpdateFields applies a sparse set of column assignments to one client and
// bumps updated_at so the change propagates back out.
func (r *Repository) UpdateFields(ctx context.Context, id string, fields map[string]any) error {
	ctx, span := tracing.StartSpan(ctx, "client.Repository.UpdateFields")
	defer span.End()

	if len(fields) == 0 {
		return nil
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	assignments := make([]string, 0, len(fields)+1)
	for column, value := range fields {
		assignments = append(assignments, ub.Assign(column, value))
	}
	assignments = append(assignments, ub.Assign("updated_at", time.Now().UTC()))
	ub.Set(assignments...)
	ub.Where(ub.Equal("id", id))
	query, args := ub.Build()

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"client_id": id}).
			Error("Failed to update client fields")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update client fields")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "client %s not found", id)
	}
	return nil
}
