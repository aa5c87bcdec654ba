package logx

import "time"

// Keys shared by every component that logs about reminders, so one reminder
// can be followed across the scheduler, the ledger and the platform backend.
const (
	KeyReminder = "reminder"
	KeyEntry    = "entry"
	KeyTrack    = "track"
	KeyCadence  = "cadence"
	KeyFireAt   = "fire_at"
)

// Reminder tags the logical reminder id.
func Reminder(id string) Field { return String(KeyReminder, id) }

// Entry tags a platform entry id (a window instance or a bare alarm id).
func Entry(id string) Field { return String(KeyEntry, id) }

// Track tags the scheduling track. It takes any string kind so callers pass
// their own track type.
func Track[T ~string](t T) Field { return String(KeyTrack, string(t)) }

func Cadence[T ~string](c T) Field { return String(KeyCadence, string(c)) }

func FireAt(t time.Time) Field { return Time(KeyFireAt, t) }

// ForReminder returns a logger that tags every line with the reminder id.
func (l Logger) ForReminder(id string) Logger { return l.With(Reminder(id)) }
