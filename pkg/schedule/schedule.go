// Package schedule computes estimated installation completion times from the
// workload of a job and a working calendar.
package schedule

import "time"

const (
	// DefaultUnitsPerDay is how many LED units a crew installs per working day.
	DefaultUnitsPerDay = 60

	// maxDays bounds the projection loop so absurd workloads cannot spin.
	maxDays = 365
)

// Calendar describes the working hours used for projections.
type Calendar struct {
	UnitsPerDay int
	StartHour   int
	EndHour     int
}

// DefaultCalendar mirrors the crews' standard day.
func DefaultCalendar() Calendar {
	return Calendar{UnitsPerDay: DefaultUnitsPerDay, StartHour: 9, EndHour: 18}
}

// EstimatedEnd projects when an installation started at start with unitCount
// units finishes. Work only advances between StartHour and EndHour on
// weekdays; weekends are skipped entirely. The result is never before start.
func EstimatedEnd(start time.Time, unitCount int, cal Calendar) time.Time {
	if cal.UnitsPerDay <= 0 {
		cal.UnitsPerDay = DefaultUnitsPerDay
	}
	if cal.EndHour <= cal.StartHour {
		cal.StartHour = 9
		cal.EndHour = 18
	}
	if unitCount <= 0 {
		// No workload, nothing to project.
		return start
	}

	hoursPerDay := float64(cal.EndHour - cal.StartHour)
	unitsPerHour := float64(cal.UnitsPerDay) / hoursPerDay
	remaining := float64(unitCount)

	cursor := start
	if cursor.Hour() < cal.StartHour {
		cursor = at(cursor, cal.StartHour)
	}
	if cursor.Hour() >= cal.EndHour {
		cursor = at(cursor.AddDate(0, 0, 1), cal.StartHour)
	}
	cursor = skipWeekend(cursor, cal.StartHour)

	for day := 0; day < maxDays && remaining > 0; day++ {
		dayEnd := at(cursor, cal.EndHour)
		hoursLeft := dayEnd.Sub(cursor).Hours()
		capacity := hoursLeft * unitsPerHour

		if remaining <= capacity {
			cursor = cursor.Add(time.Duration(remaining / unitsPerHour * float64(time.Hour)))
			remaining = 0
			break
		}

		remaining -= capacity
		cursor = skipWeekend(at(cursor.AddDate(0, 0, 1), cal.StartHour), cal.StartHour)
	}

	if cursor.Before(start) {
		return start
	}
	return cursor
}

func at(t time.Time, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
}

func skipWeekend(t time.Time, startHour int) time.Time {
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = at(t.AddDate(0, 0, 1), startHour)
	}
	return t
}
