package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindkit/internal/cadence"
	"remindkit/internal/models"
	"remindkit/internal/platform"
	"remindkit/internal/storage"
	logx "remindkit/pkg/logx"
)

// TapEvent is a user response to a delivered entry. Either ReminderID or
// PlatformID must be set.
type TapEvent struct {
	ReminderID string
	PlatformID string
	Track      models.Track
	// FireAt defaults to the instance fire time, or now.
	FireAt time.Time
}

type CatchUpReport struct {
	Recorded int
	Errors   []error
}

// Tap marks the tapped instance fired and appends a tap occurrence.
// It returns false when the occurrence was already recorded.
func (e *Engine) Tap(ctx context.Context, ev TapEvent) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record(ctx, ev, models.SourceTap)
}

// RecordDelivery records a delivery reported by the platform backend.
func (e *Engine) RecordDelivery(ctx context.Context, d platform.Delivery) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record(ctx, TapEvent{PlatformID: d.ID, Track: d.Track, FireAt: d.FireAt}, models.SourceCatchUp)
}

func (e *Engine) record(ctx context.Context, ev TapEvent, src models.OccurrenceSource) (bool, error) {
	now := e.now()
	content, ownerID, err := e.resolve(ctx, &ev)
	if err != nil {
		return false, err
	}
	if ev.PlatformID != "" {
		err := e.store.UpdateInstanceStatus(ctx, ownerID, ev.Track, ev.PlatformID, models.StatusFired, now)
		switch {
		case err == nil, errors.Is(err, storage.ErrNotFound):
		case errors.Is(err, storage.ErrInvalidTransition):
			// Cancelled rows stay cancelled; the occurrence still counts.
		default:
			return false, err
		}
	}
	fireAt := ev.FireAt
	if fireAt.IsZero() {
		fireAt = now
	}
	ins, err := e.store.InsertOccurrence(ctx, models.RepeatOccurrence{
		ReminderID: ownerID,
		FireAt:     fireAt.Truncate(time.Second),
		Source:     src,
		Content:    content,
		RecordedAt: now,
	})
	if err != nil {
		return false, fmt.Errorf("record occurrence of %s: %w", ownerID, err)
	}
	if ins {
		e.log.Component("ledger").Debug("occurrence recorded", logx.Reminder(ownerID),
			logx.String("source", string(src)), logx.FireAt(fireAt))
	}
	return ins, nil
}

// resolve finds the owning reminder of ev and takes the fire time from its
// instance row when one exists. Archived reminders still accept taps.
func (e *Engine) resolve(ctx context.Context, ev *TapEvent) (models.Content, string, error) {
	owner := ev.ReminderID
	if owner == "" {
		owner = ownerFromPlatformID(ev.PlatformID)
	}
	if owner == "" && ev.Track == models.TrackAlarm {
		// Window alarm ids are derived, so look them up.
		id, at, err := e.findInstance(ctx, ev.PlatformID)
		if err != nil {
			return models.Content{}, "", err
		}
		owner = id
		ev.FireAt = at
	}
	if owner == "" {
		return models.Content{}, "", fmt.Errorf("%w: no reminder for %q", ErrNotFound, ev.PlatformID)
	}
	if ev.Track == "" {
		ev.Track = models.TrackNotification
	}

	r, err := e.store.GetReminder(ctx, owner)
	if err == nil {
		// The scheduled time names the occurrence, so a snoozed entry
		// delivered late records the same row as its catch-up.
		if ev.PlatformID != "" {
			if at, ok := e.rowFireAt(ctx, r.ID, ev.Track, ev.PlatformID); ok {
				ev.FireAt = at
			} else if oneShotEntry(r, ev.Track, ev.PlatformID) {
				ev.FireAt = r.FirstFireAt
			}
		}
		return r.Content, r.ID, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.Content{}, "", err
	}
	archived, err := e.store.ListArchived(ctx)
	if err != nil {
		return models.Content{}, "", err
	}
	for _, a := range archived {
		if a.Reminder.ID == owner {
			return a.Reminder.Content, owner, nil
		}
	}
	return models.Content{}, "", fmt.Errorf("%w: %s", ErrNotFound, owner)
}

// oneShotEntry reports whether pid is the one-shot entry of r on track.
func oneShotEntry(r *models.Reminder, track models.Track, pid string) bool {
	if track == models.TrackAlarm {
		return r.AlarmShape == models.AlarmShapeSingle && pid == r.AlarmID()
	}
	return r.Method == models.MethodSingleNative && pid == r.ID
}

// ownerFromPlatformID maps notification ids and bare alarm ids back to the
// logical reminder id. Derived alarm window ids return "".
func ownerFromPlatformID(pid string) string {
	if pid == "" {
		return ""
	}
	if i := strings.IndexByte(pid, '@'); i > 0 {
		return pid[:i]
	}
	if strings.HasPrefix(pid, models.IDPrefix) {
		return pid
	}
	return ""
}

func (e *Engine) findInstance(ctx context.Context, pid string) (string, time.Time, error) {
	rows, err := e.store.ListInstances(ctx, "", models.TrackAlarm)
	if err != nil {
		return "", time.Time{}, err
	}
	for _, in := range rows {
		if in.PlatformID == pid {
			return in.ReminderID, in.FireAt, nil
		}
	}
	// Not a window entry: treat it as a bare alarm id.
	return models.IDPrefix + pid, time.Time{}, nil
}

func (e *Engine) rowFireAt(ctx context.Context, owner string, track models.Track, pid string) (time.Time, bool) {
	rows, err := e.store.ListInstances(ctx, owner, track)
	if err != nil {
		return time.Time{}, false
	}
	for _, in := range rows {
		if in.PlatformID == pid {
			return in.FireAt, true
		}
	}
	return time.Time{}, false
}

// CatchUp records every occurrence that passed without being observed.
func (e *Engine) CatchUp(ctx context.Context) (CatchUpReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.catchUpLocked(ctx)
}

func (e *Engine) catchUpLocked(ctx context.Context) (CatchUpReport, error) {
	var rep CatchUpReport
	reminders, err := e.store.ListReminders(ctx)
	if err != nil {
		return rep, err
	}
	now := e.now()
	for _, r := range reminders {
		n, err := e.catchUpOne(ctx, r, now)
		rep.Recorded += n
		if err != nil {
			rep.Errors = append(rep.Errors, err)
		}
	}
	if rep.Recorded > 0 {
		e.log.Component("ledger").Info("caught up on missed occurrences", logx.Int("recorded", rep.Recorded))
	}
	return rep, errors.Join(rep.Errors...)
}

func (e *Engine) catchUpOne(ctx context.Context, r *models.Reminder, now time.Time) (int, error) {
	recorded := 0
	occ := func(at time.Time) error {
		ins, err := e.store.InsertOccurrence(ctx, models.RepeatOccurrence{
			ReminderID: r.ID,
			FireAt:     at,
			Source:     models.SourceCatchUp,
			Content:    r.Content,
			RecordedAt: now,
		})
		if ins {
			recorded++
		}
		return err
	}

	rows, err := e.store.ListInstances(ctx, r.ID, "")
	if err != nil {
		return 0, err
	}
	// Alarm and notification rows of one occurrence share a fire time; the
	// ledger keeps one row per time.
	for _, in := range activeRows(rows) {
		if in.FireAt.After(now) {
			continue
		}
		if err := e.store.UpdateInstanceStatus(ctx, r.ID, in.Track, in.PlatformID, models.StatusFired, now); err != nil {
			return recorded, err
		}
		if err := occ(in.FireAt); err != nil {
			return recorded, err
		}
	}

	native := r.Method == models.MethodSingleNative || r.Method == models.MethodNativeRecurring ||
		(r.Method == models.MethodAlarmOnly && r.AlarmShape != models.AlarmShapeWindow)
	if !native {
		return recorded, nil
	}
	through := now
	if r.CancelledAt != nil && r.CancelledAt.Before(through) {
		through = *r.CancelledAt
	}
	from := r.CreatedAt
	if r.ObservedThrough != nil {
		from = *r.ObservedThrough
	}
	if !through.After(from) {
		return recorded, nil
	}
	series, err := cadence.NewSeries(r.Cadence, r.FirstFireAt)
	if err != nil {
		return recorded, err
	}
	for _, at := range series.Between(from, through) {
		if err := occ(at); err != nil {
			return recorded, err
		}
	}
	r.ObservedThrough = &through
	if err := e.store.UpdateReminder(ctx, r); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return recorded, err
	}
	return recorded, nil
}
