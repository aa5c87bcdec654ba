package engine

import (
	"context"
	"errors"
	"fmt"

	"remindkit/internal/eventbus"
	"remindkit/internal/models"
	"remindkit/internal/storage"
	logx "remindkit/pkg/logx"
)

type CancelReport struct {
	ReminderID string
	// Cancelled counts platform entries removed by this call.
	Cancelled int
	// AlreadyGone counts entries the platform no longer knew about.
	AlreadyGone int
	// Failed counts entries whose cancel call failed; their rows stay active.
	Failed int
}

// Cancel removes every platform entry of a reminder on both tracks and marks
// the record cancelled. Calling it again is harmless.
func (e *Engine) Cancel(ctx context.Context, id string) (CancelReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, err := e.getReminder(ctx, id)
	if err != nil {
		return CancelReport{ReminderID: id}, err
	}
	return e.cancelLocked(ctx, r)
}

// Delete cancels and then removes the record and its instance rows. Ledger
// rows are kept. Nothing is removed if any cancel call failed.
func (e *Engine) Delete(ctx context.Context, id string) (CancelReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, err := e.getReminder(ctx, id)
	if err != nil {
		return CancelReport{ReminderID: id}, err
	}
	rep, err := e.cancelLocked(ctx, r)
	if err != nil {
		return rep, err
	}
	if err := e.store.DeleteReminder(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return rep, fmt.Errorf("delete %s: %w", id, err)
	}
	e.log.Component("cancel").Info("reminder deleted", logx.Reminder(id))
	return rep, nil
}

func (e *Engine) getReminder(ctx context.Context, id string) (*models.Reminder, error) {
	r, err := e.store.GetReminder(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

func (e *Engine) cancelLocked(ctx context.Context, r *models.Reminder) (CancelReport, error) {
	log := e.log.Component("cancel")
	rep := CancelReport{ReminderID: r.ID}
	now := e.clk.Now()
	var errs []error

	tally := func(gone bool, err error) bool {
		switch {
		case err != nil:
			rep.Failed++
			errs = append(errs, err)
			return false
		case gone:
			rep.AlreadyGone++
		default:
			rep.Cancelled++
		}
		return true
	}

	rows, err := e.store.ListInstances(ctx, r.ID, "")
	if err != nil {
		return rep, err
	}

	// Direct entries keyed by the reminder id.
	if r.Method == models.MethodSingleNative || r.Method == models.MethodNativeRecurring {
		tally(e.cancelEntry(ctx, models.TrackNotification, r.ID))
	}
	switch r.AlarmShape {
	case models.AlarmShapeSingle, models.AlarmShapeRecurring:
		tally(e.cancelEntry(ctx, models.TrackAlarm, r.AlarmID()))
	case models.AlarmShapeUnknown:
		// The shape was never recorded: cover the bare id here and every
		// alarm row below.
		tally(e.cancelEntry(ctx, models.TrackAlarm, r.AlarmID()))
	}

	// Every active row is cancelled whatever the method says, so leftovers
	// from an interrupted migration are covered too.
	for _, in := range activeRows(rows) {
		if !tally(e.cancelEntry(ctx, in.Track, in.PlatformID)) {
			continue
		}
		if err := e.store.UpdateInstanceStatus(ctx, r.ID, in.Track, in.PlatformID, models.StatusCancelled, now); err != nil {
			errs = append(errs, fmt.Errorf("mark %s cancelled: %w", in.PlatformID, err))
		}
	}

	if r.CancelledAt == nil {
		t := now
		r.CancelledAt = &t
	}
	r.UpdatedAt = now
	if err := e.store.UpdateReminder(ctx, r); err != nil && !errors.Is(err, storage.ErrNotFound) {
		errs = append(errs, fmt.Errorf("persist cancellation: %w", err))
	}

	if len(errs) > 0 {
		log.Warn("cancel incomplete", logx.Reminder(r.ID), logx.Int("failed", rep.Failed), logx.Int("cancelled", rep.Cancelled))
		return rep, errors.Join(errs...)
	}
	log.Info("reminder cancelled", logx.Reminder(r.ID), logx.Int("cancelled", rep.Cancelled), logx.Int("already_gone", rep.AlreadyGone))
	e.publish(eventbus.TypeReminderCancelled, r.ID)
	return rep, nil
}
