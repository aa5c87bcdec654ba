package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"remindkit/internal/cadence"
	"remindkit/internal/models"
	"remindkit/internal/platform"
	logx "remindkit/pkg/logx"
)

// alarmInstanceID derives a deterministic alarm id for one window entry, so
// re-registering the same fire time replaces instead of duplicating.
func alarmInstanceID(reminderID string, at time.Time) string {
	ns, err := uuid.Parse(models.BareID(reminderID))
	if err != nil {
		ns = uuid.NewSHA1(uuid.NameSpaceURL, []byte(reminderID))
	}
	return uuid.NewSHA1(ns, []byte(at.UTC().Format(time.RFC3339))).String()
}

func instanceID(track models.Track, reminderID string, at time.Time) string {
	if track == models.TrackAlarm {
		return alarmInstanceID(reminderID, at)
	}
	return models.NotificationInstanceID(reminderID, at)
}

// registrar is the slice of a track the window code needs.
type registrar interface {
	Schedule(ctx context.Context, id string, content models.Content, trig platform.Trigger) error
	Cancel(ctx context.Context, id string) error
}

func (e *Engine) track(t models.Track) registrar {
	if t == models.TrackAlarm {
		if e.alarms == nil {
			return nil
		}
		return e.alarms
	}
	return e.notif
}

// registerWindow registers one one-shot entry per fire time and returns the
// instance rows of the registrations that succeeded. Failures are logged and
// returned; the caller decides whether partial success is acceptable.
func (e *Engine) registerWindow(ctx context.Context, r *models.Reminder, track models.Track, times []time.Time) ([]models.Instance, []error) {
	reg := e.track(track)
	if reg == nil {
		return nil, []error{&PlatformError{Track: track, Op: "register", ID: r.ID, Err: errors.New("track unavailable")}}
	}
	log := e.log.Component("window")
	now := e.clk.Now()
	var (
		out  []models.Instance
		errs []error
	)
	for _, at := range times {
		id := instanceID(track, r.ID, at)
		if err := reg.Schedule(ctx, id, r.Content, platform.OneShot(at)); err != nil {
			log.Warn("window entry registration failed", logx.Reminder(r.ID),
				logx.Track(track), logx.FireAt(at), logx.Err(err))
			errs = append(errs, &PlatformError{Track: track, Op: "register", ID: id, Err: err})
			continue
		}
		out = append(out, models.Instance{
			ReminderID: r.ID,
			Track:      track,
			PlatformID: id,
			FireAt:     at,
			Status:     models.StatusActive,
			UpdatedAt:  now,
		})
	}
	return out, errs
}

// cancelEntry cancels one platform entry; NotFound counts as done.
func (e *Engine) cancelEntry(ctx context.Context, track models.Track, id string) (gone bool, err error) {
	reg := e.track(track)
	if reg == nil {
		return true, nil
	}
	if err := reg.Cancel(ctx, id); err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return true, nil
		}
		return false, &PlatformError{Track: track, Op: "cancel", ID: id, Err: err}
	}
	return false, nil
}

// unregister cancels registrations made for rows that will not be persisted.
func (e *Engine) unregister(ctx context.Context, rows []models.Instance) {
	for _, in := range rows {
		if _, err := e.cancelEntry(ctx, in.Track, in.PlatformID); err != nil {
			e.log.Component("window").Warn("rollback cancel failed", logx.Entry(in.PlatformID), logx.Err(err))
		}
	}
}

// nextTimes continues the series strictly after floor, skipping fire times
// already present in rows.
func nextTimes(series *cadence.Series, floor time.Time, n int, rows []models.Instance) []time.Time {
	if n <= 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(rows))
	for _, in := range rows {
		seen[in.FireAt.Unix()] = struct{}{}
	}
	var out []time.Time
	after := floor
	for len(out) < n {
		batch := series.NextAfter(after, n-len(out))
		if len(batch) == 0 {
			break
		}
		for _, t := range batch {
			if _, dup := seen[t.Unix()]; !dup {
				out = append(out, t)
			}
		}
		after = batch[len(batch)-1]
	}
	return out
}

// latestKnown is the latest fire time among active and fired rows.
func latestKnown(rows []models.Instance) (time.Time, bool) {
	var (
		latest time.Time
		ok     bool
	)
	for _, in := range rows {
		if in.Status == models.StatusCancelled {
			continue
		}
		if !ok || in.FireAt.After(latest) {
			latest, ok = in.FireAt, true
		}
	}
	return latest, ok
}

func pendingRows(rows []models.Instance, now time.Time) []models.Instance {
	var out []models.Instance
	for _, in := range rows {
		if in.Pending(now) {
			out = append(out, in)
		}
	}
	return out
}

func activeRows(rows []models.Instance) []models.Instance {
	var out []models.Instance
	for _, in := range rows {
		if in.Status == models.StatusActive {
			out = append(out, in)
		}
	}
	return out
}
