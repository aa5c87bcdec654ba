// Package local is an in-process platform: one-shot entries are timers,
// recurring entries are cron schedules, and every firing is published on the
// event bus as a delivery. It is what reminderd runs on a server.
package local

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindkit/internal/cadence"
	"remindkit/internal/eventbus"
	"remindkit/internal/models"
	"remindkit/internal/platform"
	logx "remindkit/pkg/logx"
)

type Config struct {
	NotificationCeiling int
	AlarmCeiling        int
	AlarmLevel          platform.AlarmCapability
	// AlarmRequiresPermission makes the alarm track start as notDetermined.
	AlarmRequiresPermission bool
	// PromptResult is how a permission prompt resolves (default authorized).
	PromptResult platform.AlarmAuthorization
	Timezone     string
}

type entry struct {
	platform.Entry
	track  models.Track
	ver    uint64
	timer  *time.Timer
	cronID cron.EntryID
	armed  bool
}

// Backend owns both tracks. Use Notifications and Alarms for the two views.
type Backend struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	mu        sync.Mutex
	c         *cron.Cron
	loc       *time.Location
	entries   map[models.Track]map[string]*entry
	seq       uint64
	notifOK   bool
	alarmAuth platform.AlarmAuthorization
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Backend {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.AlarmLevel == "" {
		cfg.AlarmLevel = platform.AlarmRecurring
	}
	if cfg.PromptResult == "" {
		cfg.PromptResult = platform.AuthAuthorized
	}
	auth := platform.AuthAuthorized
	if cfg.AlarmRequiresPermission {
		auth = platform.AuthNotDetermined
	}
	return &Backend{
		cfg: cfg,
		log: log.Component("local-platform"),
		bus: bus,
		entries: map[models.Track]map[string]*entry{
			models.TrackNotification: {},
			models.TrackAlarm:        {},
		},
		notifOK:   true,
		alarmAuth: auth,
	}
}

func (b *Backend) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(b.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		b.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Location is the backend's display timezone.
func (b *Backend) Location() *time.Location {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loc == nil {
		return b.loadLocationLocked()
	}
	return b.loc
}

// Start arms every registered entry. Entries added before Start are kept and
// armed here.
func (b *Backend) Start(ctx context.Context) {
	_ = ctx
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.c != nil {
		return
	}
	b.loc = b.loadLocationLocked()
	b.c = cron.New(cron.WithLocation(b.loc))
	n := 0
	for _, m := range b.entries {
		for _, e := range m {
			if err := b.armLocked(e); err != nil {
				b.log.Warn("arm failed", logx.Entry(e.ID), logx.Err(err))
				continue
			}
			n++
		}
	}
	b.c.Start()
	b.log.Info("backend started", logx.String("tz", b.loc.String()), logx.Int("entries", n))
}

// Stop disarms every entry. Registrations are kept so Start resumes them.
func (b *Backend) Stop(ctx context.Context) {
	start := time.Now()
	b.mu.Lock()
	c := b.c
	b.c = nil
	for _, m := range b.entries {
		for _, e := range m {
			b.disarmLocked(e, nil)
		}
	}
	b.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	b.log.Info("backend stopped", logx.Duration("took", time.Since(start)))
}

func (b *Backend) ceiling(track models.Track) int {
	if track == models.TrackAlarm {
		return b.cfg.AlarmCeiling
	}
	return b.cfg.NotificationCeiling
}

func (b *Backend) schedule(track models.Track, id string, content models.Content, trig platform.Trigger) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	if trig.At.IsZero() {
		return errors.New("trigger time required")
	}
	if trig.Kind == platform.TriggerRecurring {
		if _, err := cadence.NativeSchedule(trig.Cadence, trig.At); err != nil {
			return err
		}
		if track == models.TrackAlarm && b.cfg.AlarmLevel != platform.AlarmRecurring {
			return fmt.Errorf("alarm level %q cannot repeat", b.cfg.AlarmLevel)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.entries[track]
	old, exists := m[id]
	if !exists {
		if lim := b.ceiling(track); lim > 0 && len(m) >= lim {
			return platform.ErrCeilingReached
		}
	}
	if exists {
		b.disarmLocked(old, b.c)
	}
	b.seq++
	e := &entry{
		Entry: platform.Entry{ID: id, Trigger: trig, Content: content},
		track: track,
		ver:   b.seq,
	}
	m[id] = e
	if b.c != nil {
		if err := b.armLocked(e); err != nil {
			delete(m, id)
			return err
		}
	}
	b.log.Debug("entry scheduled", logx.Track(track), logx.Entry(id),
		logx.String("kind", string(trig.Kind)), logx.Time("at", trig.At))
	return nil
}

// armLocked starts the timer or cron entry for e. Call with b.mu held and
// b.c non-nil.
func (b *Backend) armLocked(e *entry) error {
	if e.armed {
		return nil
	}
	ver := e.ver
	track, id := e.track, e.ID
	switch e.Trigger.Kind {
	case platform.TriggerRecurring:
		sched, err := cadence.NativeSchedule(e.Trigger.Cadence, e.Trigger.At)
		if err != nil {
			return err
		}
		var mu sync.Mutex
		next := sched.Next(time.Now())
		e.cronID = b.c.Schedule(sched, cron.FuncJob(func() {
			mu.Lock()
			fireAt := next
			next = sched.Next(fireAt)
			mu.Unlock()
			b.fire(track, id, ver, fireAt, false)
		}))
	default:
		at := e.Trigger.At
		if e.SnoozedUntil != nil {
			at = *e.SnoozedUntil
		}
		delay := time.Until(at)
		if delay < 0 {
			delay = 0
		}
		e.timer = time.AfterFunc(delay, func() { b.fire(track, id, ver, at, true) })
	}
	e.armed = true
	return nil
}

func (b *Backend) disarmLocked(e *entry, c *cron.Cron) {
	if e.timer != nil {
		_ = e.timer.Stop()
		e.timer = nil
	}
	if e.cronID != 0 && c != nil {
		c.Remove(e.cronID)
	}
	e.cronID = 0
	e.armed = false
}

func (b *Backend) fire(track models.Track, id string, ver uint64, fireAt time.Time, oneShot bool) {
	b.mu.Lock()
	e, ok := b.entries[track][id]
	if !ok || e.ver != ver {
		b.mu.Unlock()
		return
	}
	content := e.Content
	if oneShot {
		// A delivered one-shot frees its slot, as on a device.
		delete(b.entries[track], id)
	}
	b.mu.Unlock()

	b.log.Info("entry delivered", logx.Track(track), logx.Entry(id), logx.FireAt(fireAt))
	if b.bus != nil {
		b.bus.Publish(eventbus.Event{Type: eventbus.TypeDelivered, Data: platform.Delivery{
			Track: track, ID: id, FireAt: fireAt, Content: content,
		}})
	}
}

func (b *Backend) cancel(track models.Track, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[track][id]
	if !ok {
		return platform.ErrNotFound
	}
	b.disarmLocked(e, b.c)
	delete(b.entries[track], id)
	b.log.Debug("entry cancelled", logx.Track(track), logx.Entry(id))
	return nil
}

func (b *Backend) list(track models.Track) []platform.Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]platform.Entry, 0, len(b.entries[track]))
	for _, e := range b.entries[track] {
		out = append(out, e.Entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetNotificationPermission flips the notification grant and announces it.
func (b *Backend) SetNotificationPermission(granted bool) {
	b.mu.Lock()
	b.notifOK = granted
	b.mu.Unlock()
	b.announce(models.TrackNotification)
}

// SetAlarmAuthorization changes the alarm grant as system settings would.
func (b *Backend) SetAlarmAuthorization(auth platform.AlarmAuthorization) {
	b.mu.Lock()
	b.alarmAuth = auth
	b.mu.Unlock()
	b.announce(models.TrackAlarm)
}

func (b *Backend) announce(track models.Track) {
	b.log.Info("permission changed", logx.Track(track))
	if b.bus != nil {
		b.bus.Publish(eventbus.Event{Type: eventbus.TypePermissionChanged, Data: platform.PermissionChange{Track: track}})
	}
}

// Notifications returns the notification-track view.
func (b *Backend) Notifications() platform.NotificationScheduler { return notifications{b} }

// Alarms returns the alarm-track view.
func (b *Backend) Alarms() platform.AlarmSubsystem { return alarms{b} }

type notifications struct{ b *Backend }

func (n notifications) Schedule(_ context.Context, id string, content models.Content, trig platform.Trigger) error {
	return n.b.schedule(models.TrackNotification, id, content, trig)
}

func (n notifications) Cancel(_ context.Context, id string) error {
	return n.b.cancel(models.TrackNotification, id)
}

func (n notifications) Scheduled(context.Context) ([]platform.Entry, error) {
	return n.b.list(models.TrackNotification), nil
}

func (n notifications) PermissionGranted(context.Context) (bool, error) {
	n.b.mu.Lock()
	defer n.b.mu.Unlock()
	return n.b.notifOK, nil
}

type alarms struct{ b *Backend }

func (a alarms) Info(context.Context) (platform.AlarmInfo, error) {
	return platform.AlarmInfo{Level: a.b.cfg.AlarmLevel, RequiresPermission: a.b.cfg.AlarmRequiresPermission}, nil
}

func (a alarms) Authorization(context.Context) (platform.AlarmAuthorization, error) {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()
	return a.b.alarmAuth, nil
}

func (a alarms) RequestPermission(context.Context) (platform.AlarmAuthorization, error) {
	a.b.mu.Lock()
	if a.b.alarmAuth == platform.AuthNotDetermined {
		a.b.alarmAuth = a.b.cfg.PromptResult
	}
	auth := a.b.alarmAuth
	a.b.mu.Unlock()
	return auth, nil
}

func (a alarms) Schedule(_ context.Context, id string, content models.Content, trig platform.Trigger) error {
	if a.b.cfg.AlarmLevel == platform.AlarmUnavailable {
		return errors.New("alarms unavailable")
	}
	return a.b.schedule(models.TrackAlarm, id, content, trig)
}

func (a alarms) Cancel(_ context.Context, id string) error {
	return a.b.cancel(models.TrackAlarm, id)
}

// Snooze defers the next firing of a one-shot alarm by d from now.
func (a alarms) Snooze(_ context.Context, id string, d time.Duration) error {
	if d <= 0 {
		return errors.New("snooze duration must be > 0")
	}
	b := a.b
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[models.TrackAlarm][id]
	if !ok {
		return platform.ErrNotFound
	}
	if e.Trigger.Kind == platform.TriggerRecurring {
		return fmt.Errorf("alarm %s repeats; snooze applies to one-shot alarms", id)
	}
	b.disarmLocked(e, b.c)
	until := time.Now().Add(d)
	e.SnoozedUntil = &until
	b.seq++
	e.ver = b.seq
	if b.c != nil {
		return b.armLocked(e)
	}
	return nil
}

func (a alarms) Get(_ context.Context, id string) (platform.Entry, error) {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()
	e, ok := a.b.entries[models.TrackAlarm][id]
	if !ok {
		return platform.Entry{}, platform.ErrNotFound
	}
	return e.Entry, nil
}

func (a alarms) Scheduled(context.Context) ([]platform.Entry, error) {
	return a.b.list(models.TrackAlarm), nil
}
