package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindkit/internal/eventbus"
	"remindkit/internal/models"
	"remindkit/internal/storage"
	logx "remindkit/pkg/logx"
)

type ArchiveReport struct {
	Archived []string
	Errors   []error
}

// Archive moves handled reminders out of the live set.
func (e *Engine) Archive(ctx context.Context) (ArchiveReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.archiveLocked(ctx)
}

func (e *Engine) archiveLocked(ctx context.Context) (ArchiveReport, error) {
	var rep ArchiveReport
	reminders, err := e.store.ListReminders(ctx)
	if err != nil {
		return rep, err
	}
	now := e.now()
	for _, r := range reminders {
		rows, err := e.store.ListInstances(ctx, r.ID, "")
		if err != nil {
			rep.Errors = append(rep.Errors, err)
			continue
		}
		if !archivable(r, rows, now) {
			continue
		}
		done, err := e.archiveOne(ctx, r, now)
		if err != nil {
			rep.Errors = append(rep.Errors, err)
			continue
		}
		if done {
			rep.Archived = append(rep.Archived, r.ID)
		}
	}
	if len(rep.Archived) > 0 {
		e.log.Component("archive").Info("reminders archived", logx.Int("count", len(rep.Archived)))
	}
	return rep, errors.Join(rep.Errors...)
}

// archivable never holds while a row is still active. Past-due active rows
// count as active until catch-up settles them.
func archivable(r *models.Reminder, rows []models.Instance, now time.Time) bool {
	for _, in := range rows {
		if in.Status == models.StatusActive && in.FireAt.After(now) {
			return false
		}
	}
	if r.Cancelled() {
		return true
	}
	if !r.Cadence.Repeats() {
		return !r.FirstFireAt.After(now)
	}
	return false
}

func (e *Engine) archiveOne(ctx context.Context, r *models.Reminder, now time.Time) (bool, error) {
	if _, err := e.catchUpOne(ctx, r, now); err != nil {
		return false, fmt.Errorf("catch up %s before archive: %w", r.ID, err)
	}
	rows, err := e.store.ListInstances(ctx, r.ID, "")
	if err != nil {
		return false, err
	}
	if len(activeRows(rows)) > 0 {
		return false, nil
	}
	a := models.ArchivedReminder{Reminder: *r.Clone(), ArchivedAt: now, HandledAt: handledAt(r, rows)}
	if _, err := e.store.InsertArchived(ctx, a); err != nil {
		return false, fmt.Errorf("archive %s: %w", r.ID, err)
	}
	if err := e.store.DeleteReminder(ctx, r.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("remove archived %s: %w", r.ID, err)
	}
	e.publish(eventbus.TypeReminderArchived, r.ID)
	return true, nil
}

// handledAt is the cancellation time, else the last known fire.
func handledAt(r *models.Reminder, rows []models.Instance) *time.Time {
	if r.CancelledAt != nil {
		t := *r.CancelledAt
		return &t
	}
	var last time.Time
	for _, in := range rows {
		if in.Status == models.StatusFired && in.FireAt.After(last) {
			last = in.FireAt
		}
	}
	if last.IsZero() {
		last = r.FirstFireAt
	}
	return &last
}
