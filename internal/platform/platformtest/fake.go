// Package platformtest provides in-memory platform backends that record
// every call, for engine and provider tests.
package platformtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"remindkit/internal/models"
	"remindkit/internal/platform"
)

type Call struct {
	Op      string
	ID      string
	Trigger platform.Trigger
}

type recorder struct {
	mu      sync.Mutex
	entries map[string]platform.Entry
	calls   []Call
	fail    map[string]error
	ceiling int
}

func (r *recorder) init() {
	if r.entries == nil {
		r.entries = map[string]platform.Entry{}
	}
	if r.fail == nil {
		r.fail = map[string]error{}
	}
}

func (r *recorder) schedule(op, id string, content models.Content, trig platform.Trigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init()
	r.calls = append(r.calls, Call{Op: op, ID: id, Trigger: trig})
	if err, ok := r.fail[id]; ok {
		return err
	}
	if _, exists := r.entries[id]; !exists && r.ceiling > 0 && len(r.entries) >= r.ceiling {
		return platform.ErrCeilingReached
	}
	r.entries[id] = platform.Entry{ID: id, Trigger: trig, Content: content}
	return nil
}

func (r *recorder) cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init()
	r.calls = append(r.calls, Call{Op: "cancel", ID: id})
	if err, ok := r.fail["cancel:"+id]; ok {
		return err
	}
	if _, ok := r.entries[id]; !ok {
		return platform.ErrNotFound
	}
	delete(r.entries, id)
	return nil
}

func (r *recorder) list() []platform.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]platform.Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FailSchedule makes Schedule for id return err.
func (r *recorder) FailSchedule(id string, err error) {
	r.mu.Lock()
	r.init()
	r.fail[id] = err
	r.mu.Unlock()
}

// FailCancel makes Cancel for id return err.
func (r *recorder) FailCancel(id string, err error) {
	r.mu.Lock()
	r.init()
	r.fail["cancel:"+id] = err
	r.mu.Unlock()
}

// ClearFailures drops every scripted failure.
func (r *recorder) ClearFailures() {
	r.mu.Lock()
	r.fail = map[string]error{}
	r.mu.Unlock()
}

// SetCeiling makes Schedule fail with ErrCeilingReached past n entries.
func (r *recorder) SetCeiling(n int) {
	r.mu.Lock()
	r.ceiling = n
	r.mu.Unlock()
}

// Calls returns a copy of every recorded call.
func (r *recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallCount counts recorded calls with the given op.
func (r *recorder) CallCount(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (r *recorder) ResetCalls() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

// Entry returns the scheduled entry for id.
func (r *recorder) Entry(id string) (platform.Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

// Len is the number of scheduled entries.
func (r *recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Put inserts an entry directly, as if some other app owned the slot.
func (r *recorder) Put(e platform.Entry) {
	r.mu.Lock()
	r.init()
	r.entries[e.ID] = e
	r.mu.Unlock()
}

// Notifications is a fake notification track.
type Notifications struct {
	recorder
	Denied bool
}

var _ platform.NotificationScheduler = (*Notifications)(nil)

func NewNotifications() *Notifications { return &Notifications{} }

func (n *Notifications) Schedule(_ context.Context, id string, content models.Content, trig platform.Trigger) error {
	return n.schedule("schedule", id, content, trig)
}

func (n *Notifications) Cancel(_ context.Context, id string) error { return n.cancel(id) }

func (n *Notifications) Scheduled(context.Context) ([]platform.Entry, error) { return n.list(), nil }

func (n *Notifications) PermissionGranted(context.Context) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return !n.Denied, nil
}

func (n *Notifications) SetDenied(v bool) {
	n.mu.Lock()
	n.Denied = v
	n.mu.Unlock()
}

// Alarms is a fake alarm subsystem.
type Alarms struct {
	recorder
	Level              platform.AlarmCapability
	RequiresPermission bool
	Auth               platform.AlarmAuthorization
	// PromptResult is what RequestPermission resolves to.
	PromptResult platform.AlarmAuthorization
	Prompts      int
	InfoQueries  int
	snoozed      map[string]time.Duration
}

var _ platform.AlarmSubsystem = (*Alarms)(nil)

// NewAlarms returns an authorized fake with the given capability level.
func NewAlarms(level platform.AlarmCapability) *Alarms {
	return &Alarms{Level: level, Auth: platform.AuthAuthorized, PromptResult: platform.AuthAuthorized}
}

func (a *Alarms) Info(context.Context) (platform.AlarmInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.InfoQueries++
	return platform.AlarmInfo{Level: a.Level, RequiresPermission: a.RequiresPermission}, nil
}

func (a *Alarms) Authorization(context.Context) (platform.AlarmAuthorization, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Auth, nil
}

func (a *Alarms) RequestPermission(context.Context) (platform.AlarmAuthorization, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Prompts++
	a.Auth = a.PromptResult
	return a.Auth, nil
}

func (a *Alarms) SetAuth(auth platform.AlarmAuthorization) {
	a.mu.Lock()
	a.Auth = auth
	a.mu.Unlock()
}

func (a *Alarms) Schedule(_ context.Context, id string, content models.Content, trig platform.Trigger) error {
	return a.schedule("schedule", id, content, trig)
}

func (a *Alarms) Cancel(_ context.Context, id string) error { return a.cancel(id) }

func (a *Alarms) Snooze(_ context.Context, id string, d time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.init()
	a.calls = append(a.calls, Call{Op: "snooze", ID: id})
	e, ok := a.entries[id]
	if !ok {
		return platform.ErrNotFound
	}
	if a.snoozed == nil {
		a.snoozed = map[string]time.Duration{}
	}
	a.snoozed[id] = d
	until := e.Trigger.At.Add(d)
	e.SnoozedUntil = &until
	a.entries[id] = e
	return nil
}

// Snoozed returns the last snooze duration applied to id.
func (a *Alarms) Snoozed(id string) (time.Duration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.snoozed[id]
	return d, ok
}

func (a *Alarms) Get(_ context.Context, id string) (platform.Entry, error) {
	e, ok := a.Entry(id)
	if !ok {
		return platform.Entry{}, platform.ErrNotFound
	}
	return e, nil
}

func (a *Alarms) Scheduled(context.Context) ([]platform.Entry, error) { return a.list(), nil }
