package engine

import (
	"context"
	"errors"
	"fmt"

	"remindkit/internal/cadence"
	"remindkit/internal/models"
	logx "remindkit/pkg/logx"
)

type ReplenishReport struct {
	Track models.Track
	// Skipped is set when the track's permission is not granted.
	Skipped   bool
	Reminders int
	Scheduled int
	// Shortfall counts entries that were needed but did not fit.
	Shortfall int
	Errors    []error
}

// Replenish tops every window on track back up to its target size.
func (e *Engine) Replenish(ctx context.Context, track models.Track) (ReplenishReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.replenishLocked(ctx, track)
}

func (e *Engine) replenishLocked(ctx context.Context, track models.Track) (ReplenishReport, error) {
	log := e.log.Component("replenish")
	rep := ReplenishReport{Track: track}

	var (
		allowed bool
		err     error
	)
	if track == models.TrackAlarm {
		allowed, err = e.provider.AlarmAllowed(ctx)
	} else {
		allowed, err = e.provider.NotificationPermission(ctx)
	}
	if err != nil {
		return rep, err
	}
	if !allowed {
		rep.Skipped = true
		log.Debug("track not permitted; skipping", logx.Track(track))
		return rep, nil
	}

	reminders, err := e.store.ListReminders(ctx)
	if err != nil {
		return rep, err
	}
	for _, r := range reminders {
		if !windowed(r, track) {
			continue
		}
		rep.Reminders++
		n, short, err := e.replenishOne(ctx, r, track)
		rep.Scheduled += n
		rep.Shortfall += short
		if err != nil {
			rep.Errors = append(rep.Errors, err)
		}
	}
	if rep.Shortfall > 0 {
		log.Warn("capacity shortfall during replenishment", logx.Track(track),
			logx.Int("shortfall", rep.Shortfall), logx.Int("scheduled", rep.Scheduled))
	}
	if rep.Scheduled > 0 {
		log.Info("windows replenished", logx.Track(track), logx.Int("scheduled", rep.Scheduled))
	}
	return rep, errors.Join(rep.Errors...)
}

// windowed reports whether r keeps a rolling window on track.
func windowed(r *models.Reminder, track models.Track) bool {
	if r.Cancelled() || !r.Cadence.Repeats() {
		return false
	}
	if track == models.TrackAlarm {
		return r.HasAlarm && r.AlarmShape == models.AlarmShapeWindow
	}
	return r.Method == models.MethodRollingWindow
}

func (e *Engine) replenishOne(ctx context.Context, r *models.Reminder, track models.Track) (scheduled, shortfall int, err error) {
	now := e.now()
	// Settle past-due rows first so active rows never outgrow the target.
	if _, err := e.catchUpOne(ctx, r, now); err != nil {
		return 0, 0, err
	}
	rows, err := e.store.ListInstances(ctx, r.ID, track)
	if err != nil {
		return 0, 0, err
	}
	target := e.classify.WindowTarget(track, r.Cadence)
	need := target - len(pendingRows(rows, now))
	if need <= 0 {
		return 0, 0, nil
	}

	series, err := cadence.NewSeries(r.Cadence, r.FirstFireAt)
	if err != nil {
		return 0, 0, err
	}
	floor := now
	if latest, ok := latestKnown(rows); ok && latest.After(floor) {
		floor = latest
	}
	times := nextTimes(series, floor, need, rows)
	if len(times) == 0 {
		return 0, 0, nil
	}

	res, err := e.admission.AdmitUpTo(ctx, track, len(times))
	if err != nil {
		return 0, 0, err
	}
	defer res.Release()
	shortfall = len(times) - res.Count()
	times = times[:res.Count()]
	if len(times) == 0 {
		return 0, shortfall, nil
	}

	ok, errs := e.registerWindow(ctx, r, track, times)
	if len(ok) > 0 {
		if err := e.store.InsertInstances(ctx, ok); err != nil {
			e.unregister(ctx, ok)
			return 0, shortfall, fmt.Errorf("persist replenished instances for %s: %w", r.ID, err)
		}
	}
	return len(ok), shortfall, errors.Join(errs...)
}
