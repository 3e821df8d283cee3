package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Client is the unit of synchronization between the spreadsheet and the
// operational store. The spreadsheet row is the manual source of truth for
// field operators; the store is the source of truth for the application.
type Client struct {
	ID       string `json:"id" db:"id"`
	Zone     string `json:"zone" db:"zone"`
	RowIndex int    `json:"row_index" db:"row_index"`

	Name       string `json:"name" db:"name"`
	FirstName  string `json:"first_name" db:"first_name"`
	RawAddress string `json:"raw_address" db:"raw_address"`
	PostalCode string `json:"postal_code" db:"postal_code"`
	Phone      string `json:"phone" db:"phone"`
	Email      string `json:"email" db:"email"`
	LEDCount   int    `json:"led_count" db:"led_count"`

	// ClientStatus is the derived lifecycle label as last written. It is
	// recomputed from the fields below on every propagation cycle and never
	// treated as authoritative on its own.
	ClientStatus string `json:"client_status" db:"client_status"`

	DeliveryDate      string `json:"delivery_date" db:"delivery_date"` // planned, ISO YYYY-MM-DD
	DeliveryTime      string `json:"delivery_time" db:"delivery_time"`
	DeliverySignature string `json:"delivery_signature" db:"delivery_signature"`
	DeliveredAt       string `json:"delivered_at" db:"delivered_at"` // real delivery timestamp
	DeliveryStatus    string `json:"delivery_status" db:"delivery_status"`
	DriverID          string `json:"driver_id" db:"driver_id"`

	InstallStart   string `json:"install_start" db:"install_start"` // ISO YYYY-MM-DD
	InstallEnd     string `json:"install_end" db:"install_end"`     // planned end, ISO
	InstallRealEnd string `json:"install_real_end" db:"install_real_end"`
	InstallStatus  string `json:"install_status" db:"install_status"`
	InstallerID    string `json:"installer_id" db:"installer_id"`

	CalendarEventID string `json:"calendar_event_id" db:"calendar_event_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Installation sub-status vocabulary shared between both stores.
const (
	InstallStatusScheduled  = "SCHEDULED"
	InstallStatusInProgress = "IN_PROGRESS"
	InstallStatusDone       = "DONE"
)

// DeliveryStatusDelivered marks the goods as received on site.
const DeliveryStatusDelivered = "DELIVERED"

// DefaultDriverID is the delivery resource forced when a delivery gets
// scheduled without an explicit assignment.
const DefaultDriverID = "TM 1"

var whitespaceRe = regexp.MustCompile(`\s+`)

// CompositeID encodes a spreadsheet location as the stable client id.
// The format `sanitizedTab_rowIndex` (spaces mapped to underscores) is a wire
// contract consumed by external components; it must not change.
func CompositeID(tab string, rowIndex int) string {
	return whitespaceRe.ReplaceAllString(fmt.Sprintf("%s_%d", tab, rowIndex), "_")
}

// ParseCompositeID splits a composite id back into its sanitized tab name and
// row index. Returns ok=false for ids that are not in composite form (for
// example temporary UUIDs assigned to clients created in the store).
func ParseCompositeID(id string) (tab string, rowIndex int, ok bool) {
	i := strings.LastIndex(id, "_")
	if i < 0 {
		return "", 0, false
	}
	row, err := strconv.Atoi(id[i+1:])
	if err != nil || row <= 0 {
		return "", 0, false
	}
	tab = strings.TrimSuffix(id[:i], "_")
	if tab == "" {
		return "", 0, false
	}
	return tab, row, true
}

// zoneTabs routes a zone code to its spreadsheet tab. The trailing space on
// the metropole tab matches the actual sheet title and is load-bearing.
var zoneTabs = map[string]string{
	"FR":    "fr metropole ",
	"GP":    "Guadeloupe",
	"MQ":    "Martinique",
	"GF":    "Guyane",
	"RE":    "Reunion",
	"YT":    "Mayotte",
	"CORSE": "Corse",
}

// TabNames returns the configured tab titles in a stable order.
func TabNames() []string {
	return []string{"fr metropole ", "Guadeloupe", "Martinique", "Guyane", "Reunion", "Mayotte", "Corse"}
}

// TabForZone resolves the target tab for a zone code, with postal-code
// overrides for overseas departments. Unknown zones land on the metropole tab.
func TabForZone(zone, postalCode string) string {
	tab, ok := zoneTabs[strings.ToUpper(strings.TrimSpace(zone))]
	if !ok {
		tab = zoneTabs["FR"]
	}
	switch {
	case strings.HasPrefix(postalCode, "971"):
		tab = zoneTabs["GP"]
	case strings.HasPrefix(postalCode, "972"):
		tab = zoneTabs["MQ"]
	case strings.HasPrefix(postalCode, "973"):
		tab = zoneTabs["GF"]
	case strings.HasPrefix(postalCode, "974"):
		tab = zoneTabs["RE"]
	case strings.HasPrefix(postalCode, "976"):
		tab = zoneTabs["YT"]
	}
	return tab
}

// ZoneForTab maps a tab title back to its zone code.
func ZoneForTab(tab string) string {
	lower := strings.ToLower(tab)
	switch {
	case strings.Contains(lower, "metropole"), strings.Contains(lower, "fr"):
		return "FR"
	case strings.Contains(lower, "guadeloupe"):
		return "GP"
	case strings.Contains(lower, "martinique"):
		return "MQ"
	case strings.Contains(lower, "guyane"):
		return "GF"
	case strings.Contains(lower, "reunion"):
		return "RE"
	case strings.Contains(lower, "mayotte"):
		return "YT"
	case strings.Contains(lower, "corse"):
		return "CORSE"
	}
	return "UNKNOWN"
}

// ResolveTab matches a sanitized tab name (underscores for spaces) against the
// actual tab titles, ignoring case and surrounding whitespace. Falls back to
// the plain replacement when no title matches.
func ResolveTab(sanitized string, titles []string) string {
	base := strings.TrimSpace(strings.ReplaceAll(sanitized, "_", " "))
	for _, t := range titles {
		if strings.EqualFold(strings.TrimSpace(t), base) {
			return t
		}
	}
	return base
}
