// Package status derives a client's lifecycle state from its raw logistics
// and installation fields.
package status

import (
	"strings"
	"time"

	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/normalizers"
)

// State is the ordinal lifecycle state of a client.
type State int

const (
	DeliveryToSchedule State = iota + 1
	DeliveryScheduled
	GoodsReceived
	InstallationScheduled
	InstallationInProgress
	Completed
)

// Labels as written to the status cell. The decoration prefix is display
// only; comparisons always go through normalizers.Status.
var labels = map[State]string{
	DeliveryToSchedule:     "🔴 1. Delivery to schedule",
	DeliveryScheduled:      "🚚 2. Delivery scheduled",
	GoodsReceived:          "📦 3. Goods received",
	InstallationScheduled:  "📅 4. Installation scheduled",
	InstallationInProgress: "🚧 5. Installation in progress",
	Completed:              "✅ 6. Completed",
}

// Label returns the display label for a state.
func (s State) Label() string {
	if l, ok := labels[s]; ok {
		return l
	}
	return labels[DeliveryToSchedule]
}

// Derive maps a client's raw fields to its lifecycle state. Pure and total:
// identical input always yields the identical state, and every client maps to
// exactly one state. Precedence runs highest state first; the first match wins.
func Derive(client *models.Client, now time.Time) State {
	install := normalizers.Status(client.InstallStatus)
	delivery := normalizers.Status(client.DeliveryStatus)

	switch {
	case strings.Contains(install, "DONE") || strings.Contains(install, "COMPLET") || client.InstallRealEnd != "":
		return Completed
	case isToday(client.InstallStart, now) || strings.Contains(install, "PROGRESS"):
		return InstallationInProgress
	case client.InstallStart != "" || strings.Contains(install, "SCHEDUL"):
		return InstallationScheduled
	case strings.Contains(delivery, "DELIVER") || client.DeliveredAt != "":
		return GoodsReceived
	case client.DeliveryDate != "":
		return DeliveryScheduled
	default:
		return DeliveryToSchedule
	}
}

// isToday matches a date string against the current day in either the ISO or
// the DD/MM/YYYY form, so a cell edited by hand still counts.
func isToday(dateStr string, now time.Time) bool {
	if dateStr == "" {
		return false
	}
	if strings.HasPrefix(dateStr, now.Format("2006-01-02")) {
		return true
	}
	return strings.HasPrefix(dateStr, now.Format("02/01/2006"))
}
