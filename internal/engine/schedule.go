package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindkit/internal/cadence"
	"remindkit/internal/eventbus"
	"remindkit/internal/models"
	"remindkit/internal/platform"
	"remindkit/internal/storage"
	logx "remindkit/pkg/logx"
)

type ScheduleRequest struct {
	Content     models.Content
	FirstFireAt time.Time
	Cadence     models.Cadence
	// WithAlarm backs the notification with an alarm.
	WithAlarm bool
	// AlarmOnly schedules on the alarm track alone.
	AlarmOnly  bool
	Provenance *models.EventRef
}

type ScheduleResult struct {
	Reminder  *models.Reminder
	Decision  Decision
	Alarm     AlarmPlan
	Instances []models.Instance
	// Warnings are partial failures that did not fail the request.
	Warnings []error
}

// plan is an admitted request waiting to be registered.
type plan struct {
	req       ScheduleRequest
	now       time.Time
	decision  Decision
	alarm     AlarmPlan
	notifRes  *Reservation
	alarmRes  *Reservation
	warnings  []error
	useNotif  bool
	useAlarms bool
}

func (p *plan) release() {
	p.notifRes.Release()
	p.alarmRes.Release()
}

// footprint is the number of live entries a reminder holds per track.
type footprint struct {
	notification int
	alarm        int
}

// Schedule validates, classifies, admits and registers a new reminder.
func (e *Engine) Schedule(ctx context.Context, req ScheduleRequest) (*ScheduleResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.plan(ctx, req, footprint{})
	if err != nil {
		return nil, err
	}
	defer p.release()
	return e.commit(ctx, p)
}

func (e *Engine) validate(req *ScheduleRequest, now time.Time) error {
	req.Content.Title = strings.TrimSpace(req.Content.Title)
	req.Content.Message = strings.TrimSpace(req.Content.Message)
	if req.Content.Title == "" {
		return &ValidationError{Field: "title", Reason: "required"}
	}
	c, err := models.ParseCadence(string(req.Cadence))
	if err != nil {
		return &ValidationError{Field: "cadence", Reason: err.Error()}
	}
	req.Cadence = c
	if req.FirstFireAt.IsZero() {
		return &ValidationError{Field: "first_fire_at", Reason: "required"}
	}
	req.FirstFireAt = req.FirstFireAt.Truncate(time.Second)
	if req.FirstFireAt.Before(now.Add(e.minLead)) {
		return &ValidationError{Field: "first_fire_at", Reason: fmt.Sprintf("must be at least %s in the future", e.minLead)}
	}
	if req.AlarmOnly {
		req.WithAlarm = true
	}
	return nil
}

func (e *Engine) plan(ctx context.Context, req ScheduleRequest, credit footprint) (*plan, error) {
	log := e.log.Component("scheduler")
	now := e.now()
	if err := e.validate(&req, now); err != nil {
		return nil, err
	}
	p := &plan{req: req, now: now, useNotif: !req.AlarmOnly, useAlarms: req.WithAlarm}

	d, err := e.classify.Classify(req.Cadence, req.FirstFireAt, now)
	if err != nil {
		return nil, &ValidationError{Field: "cadence", Reason: err.Error()}
	}
	p.decision = d

	if p.useNotif {
		ok, err := e.provider.NotificationPermission(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &PermissionError{Track: models.TrackNotification}
		}
	}

	if p.useAlarms {
		info, err := e.provider.AlarmInfo(ctx)
		if err != nil {
			return nil, err
		}
		switch {
		case info.Level == platform.AlarmUnavailable && req.AlarmOnly:
			return nil, &ValidationError{Field: "alarm", Reason: "alarms are unavailable on this platform"}
		case info.Level == platform.AlarmUnavailable:
			log.Info("alarm track unavailable; scheduling notification only")
			p.useAlarms = false
		default:
			granted, err := e.provider.EnsureAlarmPermission(ctx)
			if err != nil {
				return nil, err
			}
			if !granted {
				if req.AlarmOnly {
					return nil, &PermissionError{Track: models.TrackAlarm}
				}
				log.Info("alarm permission denied; scheduling notification only")
				p.warnings = append(p.warnings, &PermissionError{Track: models.TrackAlarm})
				p.useAlarms = false
			}
		}
		if p.useAlarms {
			p.alarm = e.classify.PlanAlarm(req.Cadence, d.Immediate, info.Level)
		}
	}
	if !p.useAlarms {
		p.alarm = AlarmPlan{Shape: models.AlarmShapeNone}
	}
	if req.AlarmOnly {
		p.decision = Decision{Method: models.MethodAlarmOnly, WindowSize: p.alarm.WindowSize, Immediate: d.Immediate}
	}

	// Every track is admitted before anything is registered.
	if p.useNotif {
		res, err := e.admission.Admit(ctx, models.TrackNotification, p.decision.WindowSize, credit.notification)
		if err != nil {
			return nil, err
		}
		p.notifRes = res
	}
	if p.useAlarms {
		res, err := e.admission.Admit(ctx, models.TrackAlarm, p.alarm.WindowSize, credit.alarm)
		if err != nil {
			p.notifRes.Release()
			return nil, err
		}
		p.alarmRes = res
	}
	return p, nil
}

func (e *Engine) commit(ctx context.Context, p *plan) (*ScheduleResult, error) {
	log := e.log.Component("scheduler")
	req := p.req
	r := &models.Reminder{
		ID:          e.newID(),
		Content:     req.Content,
		FirstFireAt: req.FirstFireAt,
		Cadence:     req.Cadence,
		Method:      p.decision.Method,
		HasAlarm:    p.useAlarms,
		AlarmShape:  p.alarm.Shape,
		Provenance:  req.Provenance,
		CreatedAt:   p.now,
		UpdatedAt:   p.now,
	}
	res := &ScheduleResult{Reminder: r, Decision: p.decision, Alarm: p.alarm, Warnings: p.warnings}

	var series *cadence.Series
	if r.Method == models.MethodRollingWindow || r.AlarmShape == models.AlarmShapeWindow {
		s, err := cadence.NewSeries(r.Cadence, r.FirstFireAt)
		if err != nil {
			return nil, &ValidationError{Field: "cadence", Reason: err.Error()}
		}
		series = s
	}

	// Notification track.
	var rows []models.Instance
	notifNative := false
	switch r.Method {
	case models.MethodSingleNative, models.MethodNativeRecurring:
		trig := platform.OneShot(r.FirstFireAt)
		if r.Method == models.MethodNativeRecurring {
			trig = platform.Recurring(r.Cadence, r.FirstFireAt)
		}
		if err := e.notif.Schedule(ctx, r.ID, r.Content, trig); err != nil {
			return nil, &PlatformError{Track: models.TrackNotification, Op: "register", ID: r.ID, Err: err}
		}
		notifNative = true
	case models.MethodRollingWindow:
		ok, errs := e.registerWindow(ctx, r, models.TrackNotification, series.First(p.decision.WindowSize))
		if len(ok) == 0 {
			return nil, errors.Join(errs...)
		}
		rows = append(rows, ok...)
		res.Warnings = append(res.Warnings, errs...)
	}

	rollback := func() {
		if notifNative {
			if _, err := e.cancelEntry(ctx, models.TrackNotification, r.ID); err != nil {
				log.Warn("rollback cancel failed", logx.Reminder(r.ID), logx.Err(err))
			}
		}
		e.unregister(ctx, rows)
	}

	// Alarm track. Failures here never undo the notification track.
	if r.HasAlarm {
		alarmErr := func(err error) error {
			if r.Method == models.MethodAlarmOnly {
				return err
			}
			log.Warn("alarm registration failed; keeping notification", logx.Reminder(r.ID), logx.Err(err))
			res.Warnings = append(res.Warnings, err)
			r.HasAlarm = false
			r.AlarmShape = models.AlarmShapeNone
			return nil
		}
		switch r.AlarmShape {
		case models.AlarmShapeSingle, models.AlarmShapeRecurring:
			trig := platform.OneShot(r.FirstFireAt)
			if r.AlarmShape == models.AlarmShapeRecurring {
				trig = platform.Recurring(r.Cadence, r.FirstFireAt)
			}
			if err := e.alarms.Schedule(ctx, r.AlarmID(), r.Content, trig); err != nil {
				if ferr := alarmErr(&PlatformError{Track: models.TrackAlarm, Op: "register", ID: r.AlarmID(), Err: err}); ferr != nil {
					rollback()
					return nil, ferr
				}
			}
		case models.AlarmShapeWindow:
			ok, errs := e.registerWindow(ctx, r, models.TrackAlarm, series.First(p.alarm.WindowSize))
			if len(ok) == 0 {
				if ferr := alarmErr(errors.Join(errs...)); ferr != nil {
					rollback()
					return nil, ferr
				}
			} else {
				rows = append(rows, ok...)
				res.Warnings = append(res.Warnings, errs...)
			}
		}
	}

	if err := e.store.CreateReminder(ctx, r); err != nil {
		rollback()
		e.cancelAlarmShape(ctx, r)
		return nil, fmt.Errorf("persist reminder: %w", err)
	}
	if err := e.store.InsertInstances(ctx, rows); err != nil {
		rollback()
		e.cancelAlarmShape(ctx, r)
		_ = e.store.DeleteReminder(ctx, r.ID)
		return nil, fmt.Errorf("persist instances: %w", err)
	}
	res.Instances = rows

	log.Info("reminder scheduled",
		logx.Reminder(r.ID),
		logx.Cadence(r.Cadence),
		logx.String("method", string(r.Method)),
		logx.String("alarm", string(r.AlarmShape)),
		logx.Int("instances", len(rows)),
		logx.Int("warnings", len(res.Warnings)),
	)
	e.publish(eventbus.TypeReminderScheduled, r.ID)
	return res, nil
}

// cancelAlarmShape undoes a single/recurring alarm registration.
func (e *Engine) cancelAlarmShape(ctx context.Context, r *models.Reminder) {
	if !r.HasAlarm {
		return
	}
	if r.AlarmShape == models.AlarmShapeSingle || r.AlarmShape == models.AlarmShapeRecurring {
		_, _ = e.cancelEntry(ctx, models.TrackAlarm, r.AlarmID())
	}
}

// Edit replaces a reminder wholesale: the replacement gets a new id and the
// old reminder is cancelled and deleted. Admission credits the old
// reminder's live entries, since they are about to be freed. When the
// replacement cannot be registered the old reminder is restored as it was.
func (e *Engine) Edit(ctx context.Context, id string, req ScheduleRequest) (*ScheduleResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	old, err := e.store.GetReminder(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if req.Provenance == nil {
		req.Provenance = old.Provenance
	}
	fp, err := e.footprint(ctx, old)
	if err != nil {
		return nil, err
	}
	p, err := e.plan(ctx, req, fp)
	if err != nil {
		return nil, err
	}
	defer p.release()

	snap := *old
	snapRows, err := e.store.ListInstances(ctx, id, "")
	if err != nil {
		return nil, err
	}

	if _, err := e.cancelLocked(ctx, old); err != nil {
		e.restore(ctx, &snap, snapRows)
		return nil, fmt.Errorf("cancel %s before edit: %w", id, err)
	}
	res, err := e.commit(ctx, p)
	if err != nil {
		e.restore(ctx, &snap, snapRows)
		return nil, err
	}
	if err := e.store.DeleteReminder(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		e.log.Component("scheduler").Warn("old reminder not deleted after edit", logx.Reminder(id), logx.Err(err))
	}
	e.log.Component("scheduler").Info("reminder edited", logx.String("old", id), logx.String("new", res.Reminder.ID))
	return res, nil
}

// restore puts back a reminder and its rows as they were before a failed
// edit and registers its future entries again.
func (e *Engine) restore(ctx context.Context, r *models.Reminder, rows []models.Instance) {
	log := e.log.Component("scheduler").ForReminder(r.ID)
	if err := e.store.DeleteReminder(ctx, r.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Warn("restore: clear failed", logx.Err(err))
		return
	}
	if err := e.store.CreateReminder(ctx, r); err != nil {
		log.Warn("restore: persist reminder failed", logx.Err(err))
		return
	}
	if err := e.store.InsertInstances(ctx, rows); err != nil {
		log.Warn("restore: persist instances failed", logx.Err(err))
	}
	n, errs := e.registerPersisted(ctx, r, rows, e.now())
	if len(errs) > 0 {
		log.Warn("restore: re-register incomplete", logx.Int("registered", n), logx.Err(errors.Join(errs...)))
		return
	}
	log.Info("reminder restored after failed edit", logx.Int("registered", n))
}

// footprint counts the entries r currently holds on each track.
func (e *Engine) footprint(ctx context.Context, r *models.Reminder) (footprint, error) {
	var fp footprint
	if r.Cancelled() {
		return fp, nil
	}
	rows, err := e.store.ListInstances(ctx, r.ID, "")
	if err != nil {
		return fp, err
	}
	for _, in := range activeRows(rows) {
		if in.Track == models.TrackAlarm {
			fp.alarm++
		} else {
			fp.notification++
		}
	}
	if r.Method == models.MethodSingleNative || r.Method == models.MethodNativeRecurring {
		fp.notification++
	}
	if r.HasAlarm && (r.AlarmShape == models.AlarmShapeSingle || r.AlarmShape == models.AlarmShapeRecurring) {
		fp.alarm++
	}
	return fp, nil
}
