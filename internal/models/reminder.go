package models

import (
	"fmt"
	"strings"
	"time"
)

// IDPrefix starts every logical reminder id. The alarm subsystem wants the
// bare uuid, so it is stripped before ids cross onto the alarm track.
const IDPrefix = "reminder-"

type Cadence string

const (
	CadenceNone    Cadence = "none"
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
	CadenceYearly  Cadence = "yearly"
)

// ParseCadence accepts the canonical names; empty means none.
func ParseCadence(s string) (Cadence, error) {
	switch c := Cadence(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CadenceNone, nil
	case CadenceNone, CadenceDaily, CadenceWeekly, CadenceMonthly, CadenceYearly:
		return c, nil
	default:
		return "", fmt.Errorf("unknown cadence %q", s)
	}
}

// Repeats reports whether the cadence produces more than one occurrence.
func (c Cadence) Repeats() bool { return c != CadenceNone && c != "" }

type SchedulingMethod string

const (
	MethodSingleNative    SchedulingMethod = "singleNative"
	MethodNativeRecurring SchedulingMethod = "nativeRecurring"
	MethodRollingWindow   SchedulingMethod = "rollingWindow"
	MethodAlarmOnly       SchedulingMethod = "alarmOnly"
)

// AlarmShape records which alarm-track strategy a reminder used.
// The empty value means the shape is unknown (records written before the
// field existed); cancellation then covers every shape.
type AlarmShape string

const (
	AlarmShapeUnknown   AlarmShape = ""
	AlarmShapeNone      AlarmShape = "none"
	AlarmShapeSingle    AlarmShape = "single"
	AlarmShapeRecurring AlarmShape = "recurring"
	AlarmShapeWindow    AlarmShape = "window"
)

type Content struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Note    string `json:"note,omitempty"`
	Link    string `json:"link,omitempty"`
}

// EventRef links a reminder back to the calendar event it was created from.
type EventRef struct {
	CalendarID string `json:"calendar_id"`
	EventID    string `json:"event_id"`
}

type Reminder struct {
	ID          string           `json:"id"`
	Content     Content          `json:"content"`
	FirstFireAt time.Time        `json:"first_fire_at"`
	Cadence     Cadence          `json:"cadence"`
	Method      SchedulingMethod `json:"method"`
	HasAlarm    bool             `json:"has_alarm"`
	AlarmShape  AlarmShape       `json:"alarm_shape,omitempty"`
	Provenance  *EventRef        `json:"provenance,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CancelledAt *time.Time       `json:"cancelled_at,omitempty"`
	// ObservedThrough is the ledger catch-up watermark for entries that have
	// no instance rows (single and native recurring).
	ObservedThrough *time.Time `json:"observed_through,omitempty"`
}

// UsesNotificationTrack is false only for alarm-only reminders.
func (r *Reminder) UsesNotificationTrack() bool { return r.Method != MethodAlarmOnly }

// UsesWindow reports whether the notification track is backed by instance rows.
func (r *Reminder) UsesWindow() bool { return r.Method == MethodRollingWindow }

func (r *Reminder) Cancelled() bool { return r.CancelledAt != nil }

// AlarmID is the bare identifier the alarm subsystem expects.
func (r *Reminder) AlarmID() string { return BareID(r.ID) }

// BareID strips IDPrefix from a logical reminder id.
func BareID(id string) string { return strings.TrimPrefix(id, IDPrefix) }

// Clone returns a deep copy so snapshots never alias live records.
func (r *Reminder) Clone() *Reminder {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Provenance != nil {
		p := *r.Provenance
		cp.Provenance = &p
	}
	if r.CancelledAt != nil {
		t := *r.CancelledAt
		cp.CancelledAt = &t
	}
	if r.ObservedThrough != nil {
		t := *r.ObservedThrough
		cp.ObservedThrough = &t
	}
	return &cp
}
