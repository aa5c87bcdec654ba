package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindkit/internal/models"
)

// ErrNotFound is returned by backends when an entry id is unknown. Callers
// cancelling entries treat it as success: the entry is already gone.
var ErrNotFound = errors.New("platform entry not found")

// ErrCeilingReached is returned by backends that enforce their own slot limit.
var ErrCeilingReached = errors.New("platform ceiling reached")

type AlarmCapability string

const (
	AlarmUnavailable AlarmCapability = "unavailable"
	AlarmOneShot     AlarmCapability = "oneShot"
	// AlarmRecurring alarms can repeat natively on a daily or weekly rule.
	AlarmRecurring AlarmCapability = "recurring"
)

func (c AlarmCapability) rank() int {
	switch c {
	case AlarmOneShot:
		return 1
	case AlarmRecurring:
		return 2
	default:
		return 0
	}
}

// Min returns the weaker of two capability levels.
func (c AlarmCapability) Min(o AlarmCapability) AlarmCapability {
	if o.rank() < c.rank() {
		return o
	}
	return c
}

// Dialect names the vocabulary of native recurring notification triggers.
type Dialect string

const (
	// DialectCalendar triggers recur on date components: daily, weekly, monthly and yearly.
	DialectCalendar Dialect = "calendar"
	// DialectDailyWeekly triggers only know daily and weekly repeats.
	DialectDailyWeekly Dialect = "dailyWeekly"
)

// SupportsNative reports whether the dialect can express c as a native recurring trigger.
func (d Dialect) SupportsNative(c models.Cadence) bool {
	switch c {
	case models.CadenceDaily, models.CadenceWeekly:
		return true
	case models.CadenceMonthly, models.CadenceYearly:
		return d == DialectCalendar
	default:
		return false
	}
}

// Descriptor is everything platform-specific the core needs to know.
type Descriptor struct {
	Name                string          `json:"name"`
	NotificationCeiling int             `json:"notification_ceiling"`
	AlarmCeiling        int             `json:"alarm_ceiling"`
	AlarmCapability     AlarmCapability `json:"alarm_capability"`
	Dialect             Dialect         `json:"dialect"`
}

// Ceiling returns the slot ceiling for a track.
func (d Descriptor) Ceiling(track models.Track) int {
	if track == models.TrackAlarm {
		return d.AlarmCeiling
	}
	return d.NotificationCeiling
}

func (d Descriptor) Validate() error {
	if d.NotificationCeiling <= 0 {
		return fmt.Errorf("platform %q: notification ceiling must be > 0", d.Name)
	}
	if d.AlarmCeiling < 0 {
		return fmt.Errorf("platform %q: alarm ceiling must be >= 0", d.Name)
	}
	switch d.AlarmCapability {
	case AlarmUnavailable, AlarmOneShot, AlarmRecurring:
	default:
		return fmt.Errorf("platform %q: unknown alarm capability %q", d.Name, d.AlarmCapability)
	}
	switch d.Dialect {
	case DialectCalendar, DialectDailyWeekly:
	default:
		return fmt.Errorf("platform %q: unknown dialect %q", d.Name, d.Dialect)
	}
	return nil
}

// Profiles are the built-in descriptors. Config may override any field.
var Profiles = map[string]Descriptor{
	"ios": {
		Name:                "ios",
		NotificationCeiling: 64,
		AlarmCeiling:        64,
		AlarmCapability:     AlarmRecurring,
		Dialect:             DialectCalendar,
	},
	"android": {
		Name:                "android",
		NotificationCeiling: 500,
		AlarmCeiling:        500,
		AlarmCapability:     AlarmOneShot,
		Dialect:             DialectDailyWeekly,
	},
	"local": {
		Name:                "local",
		NotificationCeiling: 64,
		AlarmCeiling:        32,
		AlarmCapability:     AlarmRecurring,
		Dialect:             DialectCalendar,
	},
}

// Profile looks up a built-in descriptor by name (case-insensitive).
func Profile(name string) (Descriptor, bool) {
	d, ok := Profiles[strings.ToLower(strings.TrimSpace(name))]
	return d, ok
}

type TriggerKind string

const (
	TriggerOneShot   TriggerKind = "oneShot"
	TriggerRecurring TriggerKind = "recurring"
)

// Trigger describes when a platform entry fires. For recurring triggers At
// is the anchor whose wall-clock components define the repeat rule.
type Trigger struct {
	Kind    TriggerKind    `json:"kind"`
	At      time.Time      `json:"at"`
	Cadence models.Cadence `json:"cadence,omitempty"`
}

func OneShot(at time.Time) Trigger { return Trigger{Kind: TriggerOneShot, At: at} }

func Recurring(c models.Cadence, anchor time.Time) Trigger {
	return Trigger{Kind: TriggerRecurring, At: anchor, Cadence: c}
}

// Entry is a currently scheduled platform entry on either track.
type Entry struct {
	ID           string         `json:"id"`
	Trigger      Trigger        `json:"trigger"`
	Content      models.Content `json:"content"`
	SnoozedUntil *time.Time     `json:"snoozed_until,omitempty"`
}

// NotificationScheduler is the notification track.
type NotificationScheduler interface {
	// Schedule registers or replaces the entry with the given id.
	Schedule(ctx context.Context, id string, content models.Content, trig Trigger) error
	// Cancel removes an entry; ErrNotFound when it does not exist.
	Cancel(ctx context.Context, id string) error
	Scheduled(ctx context.Context) ([]Entry, error)
	PermissionGranted(ctx context.Context) (bool, error)
}

type AlarmAuthorization string

const (
	AuthNotDetermined AlarmAuthorization = "notDetermined"
	AuthDenied        AlarmAuthorization = "denied"
	AuthAuthorized    AlarmAuthorization = "authorized"
)

// AlarmInfo is the live capability report of the alarm subsystem.
type AlarmInfo struct {
	Level              AlarmCapability `json:"level"`
	RequiresPermission bool            `json:"requires_permission"`
}

// AlarmSubsystem is the alarm track. Ids are bare identifiers (see models.BareID).
type AlarmSubsystem interface {
	Info(ctx context.Context) (AlarmInfo, error)
	Authorization(ctx context.Context) (AlarmAuthorization, error)
	RequestPermission(ctx context.Context) (AlarmAuthorization, error)
	Schedule(ctx context.Context, id string, content models.Content, trig Trigger) error
	Cancel(ctx context.Context, id string) error
	Snooze(ctx context.Context, id string, d time.Duration) error
	Get(ctx context.Context, id string) (Entry, error)
	Scheduled(ctx context.Context) ([]Entry, error)
}

// PermissionChange is the payload of eventbus.TypePermissionChanged.
type PermissionChange struct {
	Track models.Track
}

// Delivery is the payload of eventbus.TypeDelivered.
type Delivery struct {
	Track   models.Track
	ID      string
	FireAt  time.Time
	Content models.Content
}
