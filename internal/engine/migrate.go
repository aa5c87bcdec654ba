package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindkit/internal/cadence"
	"remindkit/internal/models"
	"remindkit/internal/platform"
	logx "remindkit/pkg/logx"
)

type MigrationReport struct {
	Checked  int
	Migrated []string
	Errors   []error
}

// Migrate moves rolling windows back to a single native recurring entry once
// the native trigger would produce exactly the next expected occurrence.
func (e *Engine) Migrate(ctx context.Context) (MigrationReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.migrateLocked(ctx)
}

func (e *Engine) migrateLocked(ctx context.Context) (MigrationReport, error) {
	var rep MigrationReport
	ok, err := e.provider.NotificationPermission(ctx)
	if err != nil || !ok {
		return rep, err
	}
	reminders, err := e.store.ListReminders(ctx)
	if err != nil {
		return rep, err
	}
	for _, r := range reminders {
		if !e.migratable(r) {
			continue
		}
		rep.Checked++
		done, err := e.migrateOne(ctx, r)
		if err != nil {
			rep.Errors = append(rep.Errors, err)
			continue
		}
		if done {
			rep.Migrated = append(rep.Migrated, r.ID)
		}
	}
	if len(rep.Migrated) > 0 {
		e.log.Component("migrate").Info("windows migrated to native", logx.Int("count", len(rep.Migrated)))
	}
	return rep, errors.Join(rep.Errors...)
}

func (e *Engine) migratable(r *models.Reminder) bool {
	if r.Cancelled() || r.Method != models.MethodRollingWindow {
		return false
	}
	if r.Cadence != models.CadenceDaily && r.Cadence != models.CadenceWeekly {
		return false
	}
	return e.classify.Dialect.SupportsNative(r.Cadence)
}

// expectedNext is the next occurrence the window is expected to deliver.
func expectedNext(r *models.Reminder, rows []models.Instance, now time.Time) (time.Time, error) {
	var (
		next  time.Time
		found bool
	)
	for _, in := range pendingRows(rows, now) {
		if !found || in.FireAt.Before(next) {
			next, found = in.FireAt, true
		}
	}
	if found {
		return next, nil
	}
	series, err := cadence.NewSeries(r.Cadence, r.FirstFireAt)
	if err != nil {
		return time.Time{}, err
	}
	floor := now
	if latest, ok := latestKnown(rows); ok && latest.After(floor) {
		floor = latest
	}
	times := series.NextAfter(floor, 1)
	if len(times) == 0 {
		return time.Time{}, fmt.Errorf("series for %s is exhausted", r.ID)
	}
	return times[0], nil
}

func (e *Engine) migrateOne(ctx context.Context, r *models.Reminder) (bool, error) {
	log := e.log.Component("migrate")
	now := e.now()
	rows, err := e.store.ListInstances(ctx, r.ID, models.TrackNotification)
	if err != nil {
		return false, err
	}
	want, err := expectedNext(r, rows, now)
	if err != nil {
		return false, err
	}
	got, err := cadence.NativeNext(r.Cadence, r.FirstFireAt, now)
	if err != nil {
		return false, err
	}
	if !got.Equal(want) {
		return false, nil
	}

	// Past-due rows are left for catch-up.
	pending := pendingRows(rows, now)
	register := func() error {
		if err := e.notif.Schedule(ctx, r.ID, r.Content, platform.Recurring(r.Cadence, r.FirstFireAt)); err != nil {
			return &PlatformError{Track: models.TrackNotification, Op: "register", ID: r.ID, Err: err}
		}
		return nil
	}
	// cancelRows cancels every pending instance and reports the ones that went.
	cancelRows := func() ([]models.Instance, []error) {
		var (
			gone []models.Instance
			errs []error
		)
		for _, in := range pending {
			if _, err := e.cancelEntry(ctx, in.Track, in.PlatformID); err != nil {
				errs = append(errs, err)
				continue
			}
			gone = append(gone, in)
		}
		return gone, errs
	}

	var gone []models.Instance
	res, admitErr := e.admission.Admit(ctx, models.TrackNotification, 1, 0)
	if admitErr == nil {
		// A slot is free: register first so the reminder is never uncovered.
		defer res.Release()
		if err := register(); err != nil {
			return false, err
		}
		var errs []error
		gone, errs = cancelRows()
		if len(errs) > 0 {
			if _, err := e.cancelEntry(ctx, models.TrackNotification, r.ID); err != nil {
				log.Warn("rollback of native entry failed", logx.Reminder(r.ID), logx.Err(err))
			}
			e.rearm(ctx, r, gone)
			return false, errors.Join(errs...)
		}
	} else {
		var capErr *CapacityError
		if !errors.As(admitErr, &capErr) {
			return false, admitErr
		}
		// No free slot: the window's own entries make room.
		var errs []error
		gone, errs = cancelRows()
		if len(errs) > 0 {
			e.rearm(ctx, r, gone)
			return false, errors.Join(errs...)
		}
		if err := register(); err != nil {
			e.rearm(ctx, r, gone)
			return false, err
		}
	}

	for _, in := range gone {
		if err := e.store.UpdateInstanceStatus(ctx, r.ID, in.Track, in.PlatformID, models.StatusCancelled, now); err != nil {
			log.Warn("mark migrated instance cancelled failed", logx.Entry(in.PlatformID), logx.Err(err))
		}
	}
	r.Method = models.MethodNativeRecurring
	observed := now
	r.ObservedThrough = &observed
	r.UpdatedAt = now
	if err := e.store.UpdateReminder(ctx, r); err != nil {
		return false, fmt.Errorf("persist migration of %s: %w", r.ID, err)
	}
	log.Info("window migrated", logx.Reminder(r.ID), logx.Cadence(r.Cadence),
		logx.Time("next", got), logx.Int("cancelled", len(gone)))
	return true, nil
}

// rearm re-registers window entries cancelled by a migration that did not
// complete, so the rows stay truthful.
func (e *Engine) rearm(ctx context.Context, r *models.Reminder, rows []models.Instance) {
	for _, in := range rows {
		if err := e.notif.Schedule(ctx, in.PlatformID, r.Content, platform.OneShot(in.FireAt)); err != nil {
			e.log.Component("migrate").Warn("re-arm after failed migration failed",
				logx.Entry(in.PlatformID), logx.Err(err))
		}
	}
}
