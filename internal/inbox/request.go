package inbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"remindkit/internal/config"
	"remindkit/internal/engine"
	"remindkit/internal/models"
	"remindkit/internal/platform"
)

// Ops accepted in a request file.
const (
	OpSchedule   = "schedule"
	OpEdit       = "edit"
	OpCancel     = "cancel"
	OpDelete     = "delete"
	OpTap        = "tap"
	OpSnooze     = "snooze"
	OpForeground = "foreground"
	OpPermission = "permission"
)

// Request is one request file. Which fields matter depends on Op.
type Request struct {
	Op string `json:"op"`
	ID string `json:"id,omitempty"`

	// schedule / edit
	Title     string           `json:"title,omitempty"`
	Message   string           `json:"message,omitempty"`
	Note      string           `json:"note,omitempty"`
	Link      string           `json:"link,omitempty"`
	FireAt    string           `json:"fire_at,omitempty"`
	Cadence   string           `json:"cadence,omitempty"`
	WithAlarm bool             `json:"with_alarm,omitempty"`
	AlarmOnly bool             `json:"alarm_only,omitempty"`
	Event     *models.EventRef `json:"event,omitempty"`

	// tap
	PlatformID string `json:"platform_id,omitempty"`
	Track      string `json:"track,omitempty"`

	// snooze
	Duration string `json:"duration,omitempty"`

	// permission
	Notifications *bool  `json:"notifications,omitempty"`
	Alarms        string `json:"alarms,omitempty"`
}

// Decode parses a JSON or YAML request strictly.
func Decode(name string, data []byte) (*Request, error) {
	jb, err := config.ToJSON(name, data)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	var req Request
	if err := dec.Decode(&req); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("trailing data after request")
		}
		return nil, err
	}
	req.Op = strings.ToLower(strings.TrimSpace(req.Op))
	if req.Op == "" {
		return nil, errors.New("op is required")
	}
	return &req, nil
}

func (r *Request) schedule() (engine.ScheduleRequest, error) {
	cad, err := models.ParseCadence(r.Cadence)
	if err != nil {
		return engine.ScheduleRequest{}, &engine.ValidationError{Field: "cadence", Reason: err.Error()}
	}
	var at time.Time
	if s := strings.TrimSpace(r.FireAt); s != "" {
		at, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return engine.ScheduleRequest{}, &engine.ValidationError{Field: "fire_at", Reason: "must be RFC3339"}
		}
	}
	return engine.ScheduleRequest{
		Content:     models.Content{Title: r.Title, Message: r.Message, Note: r.Note, Link: r.Link},
		FirstFireAt: at,
		Cadence:     cad,
		WithAlarm:   r.WithAlarm,
		AlarmOnly:   r.AlarmOnly,
		Provenance:  r.Event,
	}, nil
}

func (r *Request) tap() (engine.TapEvent, error) {
	ev := engine.TapEvent{ReminderID: r.ID, PlatformID: r.PlatformID}
	switch t := models.Track(strings.ToLower(strings.TrimSpace(r.Track))); t {
	case "", models.TrackNotification:
		ev.Track = models.TrackNotification
	case models.TrackAlarm:
		ev.Track = t
	default:
		return ev, &engine.ValidationError{Field: "track", Reason: fmt.Sprintf("unknown track %q", r.Track)}
	}
	if s := strings.TrimSpace(r.FireAt); s != "" {
		at, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return ev, &engine.ValidationError{Field: "fire_at", Reason: "must be RFC3339"}
		}
		ev.FireAt = at
	}
	if ev.ReminderID == "" && ev.PlatformID == "" {
		return ev, &engine.ValidationError{Field: "id", Reason: "id or platform_id is required"}
	}
	return ev, nil
}

func (r *Request) requireID() error {
	if strings.TrimSpace(r.ID) == "" {
		return &engine.ValidationError{Field: "id", Reason: "required"}
	}
	return nil
}

func (r *Request) alarmAuthorization() (platform.AlarmAuthorization, bool, error) {
	switch a := platform.AlarmAuthorization(strings.TrimSpace(r.Alarms)); a {
	case "":
		return "", false, nil
	case platform.AuthAuthorized, platform.AuthDenied, platform.AuthNotDetermined:
		return a, true, nil
	default:
		return "", false, &engine.ValidationError{Field: "alarms", Reason: fmt.Sprintf("unknown authorization %q", r.Alarms)}
	}
}

// Result is written next to the request as <name>.result.json.
type Result struct {
	Request   string    `json:"request"`
	Op        string    `json:"op,omitempty"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Handled   time.Time `json:"handled_at"`
	Data      any       `json:"data,omitempty"`
}

// ErrorKind names the error class of err for result files.
func ErrorKind(err error) string {
	var ce *engine.CapacityError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, engine.ErrValidation):
		return "validation"
	case errors.Is(err, engine.ErrPermissionDenied):
		return "permission"
	case errors.As(err, &ce):
		return "capacity"
	case errors.Is(err, engine.ErrNotFound):
		return "not_found"
	case errors.Is(err, engine.ErrPlatform):
		return "platform"
	default:
		return "internal"
	}
}

type scheduleView struct {
	Reminder  *models.Reminder  `json:"reminder"`
	Method    string            `json:"method"`
	Alarm     string            `json:"alarm_shape"`
	Instances []models.Instance `json:"instances,omitempty"`
	Warnings  []string          `json:"warnings,omitempty"`
}

func viewSchedule(res *engine.ScheduleResult) scheduleView {
	return scheduleView{
		Reminder:  res.Reminder,
		Method:    string(res.Decision.Method),
		Alarm:     string(res.Alarm.Shape),
		Instances: res.Instances,
		Warnings:  errStrings(res.Warnings),
	}
}

type capacityView struct {
	Track     models.Track `json:"track"`
	Required  int          `json:"required"`
	Remaining int          `json:"remaining"`
	Deficit   int          `json:"deficit"`
}

type passView struct {
	Debounced          bool     `json:"debounced"`
	Elapsed            string   `json:"elapsed"`
	Archived           []string `json:"archived,omitempty"`
	Migrated           []string `json:"migrated,omitempty"`
	NotificationRefill int      `json:"notification_refill"`
	AlarmRefill        int      `json:"alarm_refill"`
	Shortfall          int      `json:"shortfall"`
	Recorded           int      `json:"recorded"`
	Errors             []string `json:"errors,omitempty"`
}

func viewPass(rep engine.PassReport) passView {
	return passView{
		Debounced:          rep.Debounced,
		Elapsed:            rep.Elapsed.String(),
		Archived:           rep.Archive.Archived,
		Migrated:           rep.Migration.Migrated,
		NotificationRefill: rep.NotificationRefill.Scheduled,
		AlarmRefill:        rep.AlarmRefill.Scheduled,
		Shortfall:          rep.NotificationRefill.Shortfall + rep.AlarmRefill.Shortfall,
		Recorded:           rep.CatchUp.Recorded,
		Errors:             errStrings(rep.Errors),
	}
}

func errStrings(errs []error) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, 0, len(errs))
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}
