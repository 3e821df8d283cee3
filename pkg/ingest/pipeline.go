// Package ingest pulls spreadsheet rows into the operational store. One run
// scans every configured tab, decodes changed rows and merges them, then
// refreshes the per-tab stock cells.
package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/tendril/internal/repositories/client"
	"github.com/Ramsey-B/tendril/pkg/fingerprint"
	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/normalizers"
	"github.com/Ramsey-B/tendril/pkg/rowcodec"
	"github.com/Ramsey-B/tendril/pkg/sheets"
	"github.com/Ramsey-B/tendril/pkg/tracing"
)

// SheetReader is the spreadsheet surface the pipeline reads from.
type SheetReader interface {
	TabTitles(ctx context.Context) ([]string, error)
	GetRange(ctx context.Context, tab, rangeA1 string) ([][]string, error)
	GetCell(ctx context.Context, tab, cellA1 string) (string, error)
	BatchUpdate(ctx context.Context, data []sheets.ValueRange) error
}

// ClientStore is the repository surface the pipeline writes to.
type ClientStore interface {
	Get(ctx context.Context, id string) (*models.Client, error)
	Upsert(ctx context.Context, c *models.Client, graceCutoff time.Time) (*client.UpsertResult, error)
	SetCalendarEventID(ctx context.Context, id, eventID string) error
}

// Emitter publishes lifecycle events for merged rows.
type Emitter interface {
	EmitClientCreated(ctx context.Context, client *models.Client)
	EmitClientUpdated(ctx context.Context, client *models.Client)
}

// Result summarizes one ingestion run.
type Result struct {
	TabsScanned  int
	TabsSkipped  int
	RowsMerged   int
	RowsCreated  int
	RowsSkipped  int
	StockUpdated int
}

// Pipeline is the sheet-to-store half of the sync engine.
type Pipeline struct {
	sheet   SheetReader
	store   ClientStore
	emitter Emitter
	cache   *fingerprint.Cache
	grace   time.Duration
	logger  ectologger.Logger

	warnedMu  sync.Mutex
	warnedTab map[string]bool
}

// New creates an ingestion pipeline.
func New(sheet SheetReader, store ClientStore, emitter Emitter, grace time.Duration, logger ectologger.Logger) *Pipeline {
	return &Pipeline{
		sheet:     sheet,
		store:     store,
		emitter:   emitter,
		cache:     fingerprint.NewCache(),
		grace:     grace,
		logger:    logger,
		warnedTab: make(map[string]bool),
	}
}

// Run executes one full ingestion cycle. A failing tab is logged and skipped;
// the cycle continues with the remaining tabs.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "ingest.Pipeline.Run")
	defer span.End()

	titles, err := p.sheet.TabTitles(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, want := range models.TabNames() {
		tab := models.ResolveTab(strings.ReplaceAll(want, " ", "_"), titles)

		if err := p.ingestTab(ctx, tab, result); err != nil {
			p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tab": tab}).
				Error("Failed to ingest tab, continuing with other tabs")
			continue
		}
		result.TabsScanned++
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"tabs_scanned": result.TabsScanned,
		"tabs_skipped": result.TabsSkipped,
		"rows_merged":  result.RowsMerged,
		"rows_created": result.RowsCreated,
	}).Info("Ingestion cycle complete")

	return result, nil
}

func (p *Pipeline) ingestTab(ctx context.Context, tab string, result *Result) error {
	ctx, span := tracing.StartSpan(ctx, "ingest.Pipeline.ingestTab")
	defer span.End()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{"tab": tab})

	rows, err := p.sheet.GetRange(ctx, tab, rowcodec.ReadRange)
	if err != nil {
		return err
	}

	if len(rows) == 0 {
		p.warnOnce(tab, log)
		return nil
	}
	// The tab has data again, so a future drought warns again.
	p.clearEmptyWarning(tab)

	tabKey := "tab_" + tab
	tabPrint := fingerprint.Rows(rows)
	if p.cache.Unchanged(tabKey, tabPrint) {
		result.TabsSkipped++
		log.Debug("Tab unchanged, skipping")
		return nil
	}

	emptyStreak := 0
	for i, cells := range rows {
		rowIndex := rowcodec.DataStartRow + i

		// Exports occasionally collapse a whole row into its first cell.
		if len(cells) == 1 && strings.Contains(cells[0], ",") {
			cells = rowcodec.SplitCSV(cells[0])
		}

		decoded, kind := rowcodec.Decode(tab, rowIndex, cells)
		switch kind {
		case rowcodec.KindEmpty:
			emptyStreak++
			if emptyStreak > rowcodec.EmptyStreakLimit {
				log.WithFields(map[string]any{"row": rowIndex}).Debug("Empty streak reached, stopping tab scan")
				p.cache.Set(tabKey, tabPrint)
				p.updateStock(ctx, tab, rows, result, log)
				return nil
			}
			continue
		case rowcodec.KindHeader:
			emptyStreak = 0
			continue
		}
		emptyStreak = 0

		rowKey := fmt.Sprintf("%s_row_%d", tab, rowIndex)
		rowPrint := fingerprint.Row(cells)
		if p.cache.Unchanged(rowKey, rowPrint) {
			result.RowsSkipped++
			continue
		}

		if err := p.mergeRow(ctx, decoded, result, log); err != nil {
			log.WithError(err).WithFields(map[string]any{"row": rowIndex}).
				Error("Failed to merge row, continuing with other rows")
			continue
		}
		p.cache.Set(rowKey, rowPrint)
	}

	p.cache.Set(tabKey, tabPrint)
	p.updateStock(ctx, tab, rows, result, log)
	return nil
}

func (p *Pipeline) mergeRow(ctx context.Context, decoded *models.Client, result *Result, log ectologger.Logger) error {
	// A reused row means a different client now lives at this composite id.
	// Detect it by name before the merge so stale linked state gets cleared.
	replaced := false
	var existing *models.Client
	if c, err := p.store.Get(ctx, decoded.ID); err == nil && c != nil {
		existing = c
		replaced = existing.Name != "" && decoded.Name != "" &&
			!strings.EqualFold(strings.TrimSpace(existing.Name), strings.TrimSpace(decoded.Name))
	}

	// The fingerprint cache is per-process; after a restart every row looks
	// new. Comparing the sheet-owned fields keeps those merges from churning
	// updated_at and spraying spurious update events.
	if existing != nil && !replaced && !sheetFieldsChanged(existing, decoded) {
		result.RowsSkipped++
		log.WithFields(map[string]any{"client_id": decoded.ID}).
			Debug("Row matches stored client, nothing to merge")
		return nil
	}

	graceCutoff := time.Now().UTC().Add(-p.grace)
	if replaced {
		// The old occupant's protection does not apply to its replacement.
		graceCutoff = time.Now().UTC()
	}

	merged, err := p.store.Upsert(ctx, decoded, graceCutoff)
	if err != nil {
		return err
	}
	if merged.Skipped {
		result.RowsSkipped++
		log.WithFields(map[string]any{"client_id": decoded.ID}).
			Debug("Row skipped, store write is more recent")
		return nil
	}

	if replaced {
		if err := p.store.SetCalendarEventID(ctx, decoded.ID, ""); err != nil {
			log.WithError(err).WithFields(map[string]any{"client_id": decoded.ID}).
				Warn("Failed to clear calendar link for replaced row")
		}
		log.WithFields(map[string]any{"client_id": decoded.ID}).
			Info("Row occupant changed, cleared linked state")
	}

	if merged.IsNew {
		result.RowsCreated++
		p.emitter.EmitClientCreated(ctx, merged.Client)
	} else {
		result.RowsMerged++
		p.emitter.EmitClientUpdated(ctx, merged.Client)
	}
	return nil
}

// updateStock recomputes the tab's consumed and remaining LED counters from
// the initial stock cell and the rows on the tab. Failures are logged only,
// stock is bookkeeping, not sync state.
func (p *Pipeline) updateStock(ctx context.Context, tab string, rows [][]string, result *Result, log ectologger.Logger) {
	initialRaw, err := p.sheet.GetCell(ctx, tab, rowcodec.StockInitialCell)
	if err != nil {
		log.WithError(err).Warn("Failed to read initial stock cell")
		return
	}
	// A blank or garbled initial cell counts as zero; consumption still gets
	// tallied so the deficit shows up as a negative remainder.
	initial := parseInt(initialRaw)

	// Every client row consumes its LEDs the moment it is on the tab,
	// whatever its lifecycle state.
	consumed := 0
	for i, cells := range rows {
		decoded, kind := rowcodec.Decode(tab, rowcodec.DataStartRow+i, cells)
		if kind != rowcodec.KindClient {
			continue
		}
		consumed += decoded.LEDCount
	}
	remaining := initial - consumed

	stockKey := "stock_" + tab
	stockPrint := fingerprint.String(fmt.Sprintf("%d|%d|%d", initial, consumed, remaining))
	if p.cache.Unchanged(stockKey, stockPrint) {
		return
	}

	err = p.sheet.BatchUpdate(ctx, []sheets.ValueRange{
		{Range: sheets.RangeRef(tab, cellRange(rowcodec.StockConsumedCell)), Values: [][]string{{fmt.Sprintf("%d", consumed)}}},
		{Range: sheets.RangeRef(tab, cellRange(rowcodec.StockRemainingCell)), Values: [][]string{{fmt.Sprintf("%d", remaining)}}},
	})
	if err != nil {
		log.WithError(err).Warn("Failed to update stock cells")
		return
	}

	p.cache.Set(stockKey, stockPrint)
	result.StockUpdated++
	log.WithFields(map[string]any{"initial": initial, "consumed": consumed, "remaining": remaining}).
		Debug("Updated stock cells")
}

func (p *Pipeline) warnOnce(tab string, log ectologger.Logger) {
	p.warnedMu.Lock()
	defer p.warnedMu.Unlock()
	if p.warnedTab[tab] {
		return
	}
	p.warnedTab[tab] = true
	log.Warn("Tab has no data rows")
}

func (p *Pipeline) clearEmptyWarning(tab string) {
	p.warnedMu.Lock()
	defer p.warnedMu.Unlock()
	delete(p.warnedTab, tab)
}

// sheetFieldsChanged compares only the columns the operators own. The
// engine-stamped fields stay out of the comparison so a propagation write
// never looks like a fresh sheet edit on the next cycle.
func sheetFieldsChanged(existing, decoded *models.Client) bool {
	if !normalizers.StatusEqual(existing.ClientStatus, decoded.ClientStatus) {
		return true
	}
	pairs := [][2]string{
		{existing.Name, decoded.Name},
		{existing.FirstName, decoded.FirstName},
		{existing.RawAddress, decoded.RawAddress},
		{existing.Phone, decoded.Phone},
		{existing.Email, decoded.Email},
		{existing.DeliveryDate, decoded.DeliveryDate},
		{existing.DriverID, decoded.DriverID},
		{existing.InstallStatus, decoded.InstallStatus},
		{existing.InstallRealEnd, decoded.InstallRealEnd},
	}
	for _, pair := range pairs {
		if strings.TrimSpace(pair[0]) != strings.TrimSpace(pair[1]) {
			return true
		}
	}
	return existing.LEDCount != decoded.LEDCount
}

func cellRange(cell string) string {
	return fmt.Sprintf("%s:%s", cell, cell)
}

func parseInt(raw string) int {
	n, err := strconv.Atoi(normalizers.DigitsOnly(raw))
	if err != nil {
		return 0
	}
	return n
}
