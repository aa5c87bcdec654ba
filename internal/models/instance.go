package models

import (
	"fmt"
	"time"
)

// Track is one of the two independent scheduling subsystems.
type Track string

const (
	TrackNotification Track = "notification"
	TrackAlarm        Track = "alarm"
)

type InstanceStatus string

const (
	StatusActive    InstanceStatus = "active"
	StatusFired     InstanceStatus = "fired"
	StatusCancelled InstanceStatus = "cancelled"
)

// Terminal statuses never change again.
func (s InstanceStatus) Terminal() bool { return s == StatusFired || s == StatusCancelled }

// CanTransition allows active->fired and active->cancelled only. Re-applying
// the current status is accepted so status updates stay idempotent.
func (s InstanceStatus) CanTransition(to InstanceStatus) bool {
	if s == to {
		return true
	}
	return s == StatusActive && to.Terminal()
}

// Instance is one concrete one-shot platform entry of a window. The same type
// serves both the notification and the alarm track.
type Instance struct {
	ReminderID string         `json:"reminder_id"`
	Track      Track          `json:"track"`
	PlatformID string         `json:"platform_id"`
	FireAt     time.Time      `json:"fire_at"`
	Status     InstanceStatus `json:"status"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Pending reports whether the instance is active and still in the future.
func (i Instance) Pending(now time.Time) bool {
	return i.Status == StatusActive && i.FireAt.After(now)
}

// NotificationInstanceID derives the platform id of a rolling notification entry.
func NotificationInstanceID(reminderID string, fireAt time.Time) string {
	return fmt.Sprintf("%s@%d", reminderID, fireAt.Unix())
}

type ArchivedReminder struct {
	Reminder   Reminder   `json:"reminder"`
	ArchivedAt time.Time  `json:"archived_at"`
	HandledAt  *time.Time `json:"handled_at,omitempty"`
}

type OccurrenceSource string

const (
	SourceTap     OccurrenceSource = "tap"
	SourceCatchUp OccurrenceSource = "catchUp"
)

// RepeatOccurrence is an append-only ledger row. Content is copied at fire
// time so the row survives later edits or deletion of the reminder.
type RepeatOccurrence struct {
	ReminderID string           `json:"reminder_id"`
	FireAt     time.Time        `json:"fire_at"`
	Source     OccurrenceSource `json:"source"`
	Content    Content          `json:"content"`
	RecordedAt time.Time        `json:"recorded_at"`
}

type AlarmPermissionState struct {
	Denied    bool      `json:"denied"`
	UpdatedAt time.Time `json:"updated_at"`
}
