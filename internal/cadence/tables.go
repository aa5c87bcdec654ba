package cadence

import (
	"time"

	"remindkit/internal/models"
)

// Windows is the per-cadence rolling-window target size for one track.
type Windows struct {
	Daily   int `json:"daily"`
	Weekly  int `json:"weekly"`
	Monthly int `json:"monthly"`
	Yearly  int `json:"yearly"`
}

// DefaultWindows is the notification-track table. Prior revisions disagreed
// (daily 7 vs 14); 7 keeps a daily reminder under a 64-slot ceiling while
// leaving room for dozens of others.
var DefaultWindows = Windows{Daily: 7, Weekly: 4, Monthly: 3, Yearly: 2}

// DefaultAlarmWindows is the alarm-track table.
var DefaultAlarmWindows = Windows{Daily: 7, Weekly: 4, Monthly: 3, Yearly: 2}

// Size returns the window size for c; non-repeating cadences need one entry.
func (w Windows) Size(c models.Cadence) int {
	var n int
	switch c {
	case models.CadenceDaily:
		n = w.Daily
	case models.CadenceWeekly:
		n = w.Weekly
	case models.CadenceMonthly:
		n = w.Monthly
	case models.CadenceYearly:
		n = w.Yearly
	default:
		return 1
	}
	if n < 1 {
		return 1
	}
	return n
}

// WithDefaults fills zero entries from def.
func (w Windows) WithDefaults(def Windows) Windows {
	if w.Daily <= 0 {
		w.Daily = def.Daily
	}
	if w.Weekly <= 0 {
		w.Weekly = def.Weekly
	}
	if w.Monthly <= 0 {
		w.Monthly = def.Monthly
	}
	if w.Yearly <= 0 {
		w.Yearly = def.Yearly
	}
	return w
}

// Thresholds decides how far out a monthly/yearly first fire may be before
// the native path is abandoned. Comparisons are calendar-relative.
type Thresholds struct {
	MonthlyMonths int `json:"monthly_months"`
	YearlyYears   int `json:"yearly_years"`
}

var DefaultThresholds = Thresholds{MonthlyMonths: 1, YearlyYears: 1}

func (t Thresholds) WithDefaults() Thresholds {
	if t.MonthlyMonths <= 0 {
		t.MonthlyMonths = DefaultThresholds.MonthlyMonths
	}
	if t.YearlyYears <= 0 {
		t.YearlyYears = DefaultThresholds.YearlyYears
	}
	return t
}

// Limit returns the threshold instant for c measured from now, and false for
// cadences that are not threshold-classified.
func (t Thresholds) Limit(c models.Cadence, now time.Time) (time.Time, bool) {
	t = t.WithDefaults()
	switch c {
	case models.CadenceMonthly:
		return AddMonths(now, t.MonthlyMonths), true
	case models.CadenceYearly:
		return AddMonths(now, 12*t.YearlyYears), true
	default:
		return time.Time{}, false
	}
}

// AddMonths moves t by n calendar months, clamping the day to the end of the
// target month: Jan 31 + 1 is Feb 28, Feb 29 + 12 is Feb 28.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := first.AddDate(0, 1, -1).Day(); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}
