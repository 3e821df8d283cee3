// Package rowcodec maps spreadsheet rows to clients and back. The column
// layout is a contract with the operators' sheet; changing it breaks every
// composite id already handed out.
package rowcodec

import (
	"strconv"
	"strings"
	"time"

	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/normalizers"
)

// Column indexes within a row, zero based from column A.
const (
	ColName = iota
	ColFirstName
	ColAddress
	ColPostalCode
	ColPhone
	ColEmail
	ColClientStatus
	ColDeliveryDate
	ColDeliverySignature
	ColDeliveryTime
	ColInstallStart
	ColInstallEnd
	ColInstallStatus
	ColInstallRealEnd
	ColDriver
	ColLEDCount
	ColInstaller

	ColCount
)

const (
	// DataStartRow is the first 1-based sheet row holding client data. Rows
	// above it are banners and headers.
	DataStartRow = 4

	// ReadRange is the range fetched per tab on every ingestion cycle.
	ReadRange = "A4:Z3000"

	// EmptyStreakLimit stops a tab scan after this many consecutive blank
	// rows.
	EmptyStreakLimit = 10
)

// Stock bookkeeping cells at the top of each tab.
const (
	StockInitialCell   = "B1"
	StockConsumedCell  = "D1"
	StockRemainingCell = "F1"
)

// Kind classifies a decoded row.
type Kind int

const (
	KindClient Kind = iota
	KindHeader
	KindEmpty
)

// drivers maps the fleet ids stored in the database to the names the
// operators write in the sheet.
var drivers = map[string]string{
	"camion-500":  "David",
	"camion-1000": "Nicolas",
	"camion-2000": "Gros Camion",
	"TM 1":        "TM 1",
}

// DriverName resolves a fleet id to its sheet name. Unknown ids pass through
// unchanged so a manual entry is never destroyed.
func DriverName(id string) string {
	if name, ok := drivers[id]; ok {
		return name
	}
	return id
}

// DriverID resolves a sheet name back to the fleet id.
func DriverID(name string) string {
	trimmed := strings.TrimSpace(name)
	for id, n := range drivers {
		if strings.EqualFold(n, trimmed) {
			return id
		}
	}
	return trimmed
}

// Decode turns one sheet row into a client. The returned kind tells the
// caller whether the row carries data at all; header and empty rows yield a
// nil client.
func Decode(tab string, rowIndex int, cells []string) (*models.Client, Kind) {
	if isEmptyRow(cells) {
		return nil, KindEmpty
	}
	if IsHeaderRow(cells) {
		return nil, KindHeader
	}

	client := &models.Client{
		ID:                models.CompositeID(tab, rowIndex),
		Zone:              models.ZoneForTab(tab),
		RowIndex:          rowIndex,
		Name:              cleanCell(cell(cells, ColName)),
		FirstName:         cleanCell(cell(cells, ColFirstName)),
		RawAddress:        cleanCell(cell(cells, ColAddress)),
		PostalCode:        normalizers.DigitsOnly(cell(cells, ColPostalCode)),
		Phone:             cleanCell(cell(cells, ColPhone)),
		Email:             cleanCell(cell(cells, ColEmail)),
		ClientStatus:      cleanCell(cell(cells, ColClientStatus)),
		DeliveryDate:      SheetToISO(cell(cells, ColDeliveryDate)),
		DeliverySignature: cleanCell(cell(cells, ColDeliverySignature)),
		DeliveryTime:      cleanCell(cell(cells, ColDeliveryTime)),
		InstallStart:      SheetToISO(cell(cells, ColInstallStart)),
		InstallEnd:        SheetToISO(cell(cells, ColInstallEnd)),
		InstallStatus:     cleanCell(cell(cells, ColInstallStatus)),
		InstallRealEnd:    SheetToISO(cell(cells, ColInstallRealEnd)),
		DriverID:          DriverID(cell(cells, ColDriver)),
		LEDCount:          parseCount(cell(cells, ColLEDCount)),
		InstallerID:       cleanCell(cell(cells, ColInstaller)),
	}

	if client.DeliverySignature != "" && client.DeliveredAt == "" {
		// A signature means the goods physically arrived even when nothing
		// else says so.
		client.DeliveryStatus = models.DeliveryStatusDelivered
	}

	return client, KindClient
}

// Encode produces the desired cell values for a client, indexed by column.
// The caller diffs these against the live row and only writes what changed.
func Encode(client *models.Client) []string {
	cells := make([]string, ColCount)
	cells[ColName] = client.Name
	cells[ColFirstName] = client.FirstName
	cells[ColAddress] = client.RawAddress
	cells[ColPostalCode] = client.PostalCode
	cells[ColPhone] = client.Phone
	cells[ColEmail] = client.Email
	cells[ColClientStatus] = client.ClientStatus
	cells[ColDeliveryDate] = ISOToSheet(client.DeliveryDate)
	cells[ColDeliverySignature] = client.DeliverySignature
	cells[ColDeliveryTime] = client.DeliveryTime
	cells[ColInstallStart] = ISOToSheet(client.InstallStart)
	cells[ColInstallEnd] = ISOToSheet(client.InstallEnd)
	cells[ColInstallStatus] = client.InstallStatus
	cells[ColInstallRealEnd] = ISOToSheet(client.InstallRealEnd)
	cells[ColDriver] = DriverName(client.DriverID)
	if client.LEDCount > 0 {
		cells[ColLEDCount] = strconv.Itoa(client.LEDCount)
	}
	cells[ColInstaller] = client.InstallerID
	return cells
}

// IsHeaderRow recognizes the operators' repeated section headers scattered
// through the tabs.
func IsHeaderRow(cells []string) bool {
	upper := strings.ToUpper(strings.Join(cells, " "))
	if strings.Contains(upper, "NOM") && strings.Contains(upper, "PRENOM") {
		return true
	}
	if strings.Contains(upper, "SIGNATURE") && (strings.Contains(upper, "DATE") || strings.Contains(upper, "LOGO")) {
		return true
	}
	return false
}

// IsGhost reports whether a client row lacks the minimum identity needed to
// act on it. Ghost rows are read but never written back to.
func IsGhost(client *models.Client) bool {
	return client == nil || (strings.TrimSpace(client.Name) == "" && strings.TrimSpace(client.RawAddress) == "")
}

// SheetToISO converts a DD/MM/YYYY cell to ISO YYYY-MM-DD. Cells already in
// ISO form, and cells that parse as neither, pass through trimmed.
func SheetToISO(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if t, err := time.Parse("02/01/2006", s); err == nil {
		return t.Format("2006-01-02")
	}
	if t, err := time.Parse("2/1/2006", s); err == nil {
		return t.Format("2006-01-02")
	}
	return s
}

// ISOToSheet converts an ISO date (or timestamp) to the DD/MM/YYYY form the
// operators use.
func ISOToSheet(iso string) string {
	s := strings.TrimSpace(iso)
	if s == "" {
		return ""
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.Format("02/01/2006")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format("02/01/2006")
	}
	return s
}

// SplitCSV splits a response line honoring quoted fields, since addresses
// routinely contain commas.
func SplitCSV(line string) []string {
	var fields []string
	var current strings.Builder
	inQuotes := false

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			if inQuotes && i+1 < len(line) && line[i+1] == '"' {
				current.WriteByte('"')
				i++
			} else {
				inQuotes = !inQuotes
			}
		case c == ',' && !inQuotes:
			fields = append(fields, current.String())
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	fields = append(fields, current.String())
	return fields
}

// ColumnLetter converts a zero-based column index to its A1 letter.
func ColumnLetter(col int) string {
	letter := ""
	for col >= 0 {
		letter = string(rune('A'+col%26)) + letter
		col = col/26 - 1
	}
	return letter
}

func cell(cells []string, col int) string {
	if col >= len(cells) {
		return ""
	}
	return cells[col]
}

func cleanCell(raw string) string {
	return strings.TrimSpace(normalizers.StripQuotes(raw))
}

// A blank name cell is all it takes: stray values in later columns are
// leftovers from deleted clients and still count toward the empty streak.
func isEmptyRow(cells []string) bool {
	return len(cells) == 0 || strings.TrimSpace(cells[0]) == ""
}

// parseCount survives the thousands separators operators type, "1 200" reads
// as 1200.
func parseCount(raw string) int {
	n, err := strconv.Atoi(normalizers.DigitsOnly(raw))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
