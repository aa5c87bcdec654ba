package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindkit/internal/models"
	"remindkit/internal/platform"
	logx "remindkit/pkg/logx"
)

// PassReport summarizes one foreground pass.
type PassReport struct {
	// Debounced is set when the pass was skipped because one ran recently.
	Debounced bool
	Started   time.Time
	Elapsed   time.Duration

	Archive            ArchiveReport
	Migration          MigrationReport
	NotificationRefill ReplenishReport
	AlarmRefill        ReplenishReport
	CatchUp            CatchUpReport
	Errors             []error
}

// Foreground runs the reconciliation pass unless one ran within the
// debounce interval.
func (e *Engine) Foreground(ctx context.Context) (PassReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.limiter.AllowN(e.clk.Now(), 1) {
		e.log.Component("foreground").Debug("pass debounced")
		return PassReport{Debounced: true}, nil
	}
	return e.passLocked(ctx)
}

// ForceForeground runs the pass regardless of the debounce, and still
// counts toward it.
func (e *Engine) ForceForeground(ctx context.Context) (PassReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limiter.ReserveN(e.clk.Now(), 1)
	return e.passLocked(ctx)
}

func (e *Engine) passLocked(ctx context.Context) (PassReport, error) {
	log := e.log.Component("foreground")
	rep := PassReport{Started: e.clk.Now()}
	keep := func(err error) {
		if err != nil {
			rep.Errors = append(rep.Errors, err)
		}
	}

	var err error
	rep.Archive, err = e.archiveLocked(ctx)
	keep(err)

	e.admission.Reconcile()
	keep(e.provider.Refresh(ctx))

	rep.Migration, err = e.migrateLocked(ctx)
	keep(err)
	rep.NotificationRefill, err = e.replenishLocked(ctx, models.TrackNotification)
	keep(err)
	if e.alarms != nil {
		rep.AlarmRefill, err = e.replenishLocked(ctx, models.TrackAlarm)
		keep(err)
	} else {
		rep.AlarmRefill = ReplenishReport{Track: models.TrackAlarm, Skipped: true}
	}
	rep.CatchUp, err = e.catchUpLocked(ctx)
	keep(err)

	rep.Elapsed = e.clk.Now().Sub(rep.Started)
	fields := []logx.Field{
		logx.Int("archived", len(rep.Archive.Archived)),
		logx.Int("migrated", len(rep.Migration.Migrated)),
		logx.Int("notification_scheduled", rep.NotificationRefill.Scheduled),
		logx.Int("alarm_scheduled", rep.AlarmRefill.Scheduled),
		logx.Int("caught_up", rep.CatchUp.Recorded),
		logx.Int("errors", len(rep.Errors)),
	}
	if len(rep.Errors) > 0 {
		log.Warn("foreground pass finished with errors", fields...)
	} else {
		log.Debug("foreground pass finished", fields...)
	}
	return rep, errors.Join(rep.Errors...)
}

type ResyncReport struct {
	Registered int
	Errors     []error
}

// Resync re-registers every persisted future entry. Backends that lost
// their state (a restarted local backend) come back in line with storage.
func (e *Engine) Resync(ctx context.Context) (ResyncReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var rep ResyncReport
	reminders, err := e.store.ListReminders(ctx)
	if err != nil {
		return rep, err
	}
	now := e.now()
	for _, r := range reminders {
		if r.Cancelled() {
			continue
		}
		rows, err := e.store.ListInstances(ctx, r.ID, "")
		if err != nil {
			rep.Errors = append(rep.Errors, err)
			continue
		}
		n, errs := e.registerPersisted(ctx, r, rows, now)
		rep.Registered += n
		rep.Errors = append(rep.Errors, errs...)
	}
	e.log.Component("foreground").Info("platform resynced", logx.Int("registered", rep.Registered),
		logx.Int("errors", len(rep.Errors)))
	return rep, errors.Join(rep.Errors...)
}

// registerPersisted registers the future entries r and its rows describe.
func (e *Engine) registerPersisted(ctx context.Context, r *models.Reminder, rows []models.Instance, now time.Time) (int, []error) {
	var (
		n    int
		errs []error
	)
	reg := func(track models.Track, id string, trig platform.Trigger) {
		t := e.track(track)
		if t == nil {
			return
		}
		if err := t.Schedule(ctx, id, r.Content, trig); err != nil {
			errs = append(errs, &PlatformError{Track: track, Op: "resync", ID: id, Err: err})
			return
		}
		n++
	}
	future := r.FirstFireAt.After(now)
	switch r.Method {
	case models.MethodSingleNative:
		if future {
			reg(models.TrackNotification, r.ID, platform.OneShot(r.FirstFireAt))
		}
	case models.MethodNativeRecurring:
		reg(models.TrackNotification, r.ID, platform.Recurring(r.Cadence, r.FirstFireAt))
	}
	if r.HasAlarm {
		switch r.AlarmShape {
		case models.AlarmShapeSingle:
			if future {
				reg(models.TrackAlarm, r.AlarmID(), platform.OneShot(r.FirstFireAt))
			}
		case models.AlarmShapeRecurring:
			reg(models.TrackAlarm, r.AlarmID(), platform.Recurring(r.Cadence, r.FirstFireAt))
		}
	}
	for _, in := range pendingRows(rows, now) {
		reg(in.Track, in.PlatformID, platform.OneShot(in.FireAt))
	}
	return n, errs
}

// Snooze delays the reminder's next alarm by d.
func (e *Engine) Snooze(ctx context.Context, id string, d time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d <= 0 {
		return &ValidationError{Field: "duration", Reason: "must be positive"}
	}
	if e.alarms == nil {
		return &ValidationError{Field: "alarm", Reason: "alarms are unavailable on this platform"}
	}
	r, err := e.getReminder(ctx, id)
	if err != nil {
		return err
	}
	if !r.HasAlarm || r.Cancelled() {
		return fmt.Errorf("%w: no live alarm for %s", ErrNotFound, id)
	}
	target := r.AlarmID()
	if r.AlarmShape == models.AlarmShapeWindow {
		rows, err := e.store.ListInstances(ctx, r.ID, models.TrackAlarm)
		if err != nil {
			return err
		}
		active := activeRows(rows)
		if len(active) == 0 {
			return fmt.Errorf("%w: no active alarm for %s", ErrNotFound, id)
		}
		next := active[0]
		for _, in := range active[1:] {
			if in.FireAt.Before(next.FireAt) {
				next = in
			}
		}
		target = next.PlatformID
	}
	if err := e.alarms.Snooze(ctx, target, d); err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return fmt.Errorf("%w: alarm %s", ErrNotFound, target)
		}
		return &PlatformError{Track: models.TrackAlarm, Op: "snooze", ID: target, Err: err}
	}
	e.log.Component("alarm").Info("alarm snoozed", logx.Reminder(r.ID), logx.String("alarm", target), logx.Duration("by", d))
	return nil
}
