package engine

import (
	"context"
	"testing"
	"time"

	"remindkit/internal/clock"
	"remindkit/internal/models"
	"remindkit/internal/platform"
	"remindkit/internal/platform/platformtest"
	"remindkit/internal/storage"
	logx "remindkit/pkg/logx"
)

// epoch is a Wednesday.
var epoch = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

func at(month time.Month, day, hour int) time.Time {
	return time.Date(2025, month, day, hour, 0, 0, 0, time.UTC)
}

var testDescriptor = platform.Descriptor{
	Name:                "test",
	NotificationCeiling: 64,
	AlarmCeiling:        64,
	AlarmCapability:     platform.AlarmRecurring,
	Dialect:             platform.DialectCalendar,
}

type rig struct {
	clk    *clock.Fake
	notif  *platformtest.Notifications
	alarms *platformtest.Alarms
	store  storage.Store
	prov   *platform.Provider
	eng    *Engine
}

// newRig wires an engine over fakes. alarms may be nil for a platform
// without an alarm subsystem.
func newRig(t *testing.T, desc platform.Descriptor, alarms *platformtest.Alarms) *rig {
	t.Helper()
	r := &rig{
		clk:    clock.NewFake(epoch),
		notif:  platformtest.NewNotifications(),
		alarms: alarms,
		store:  storage.NewMemory(),
	}
	var as platform.AlarmSubsystem
	if alarms != nil {
		as = alarms
	}
	prov, err := platform.NewProvider(platform.ProviderOptions{
		Descriptor:    desc,
		Notifications: r.notif,
		Alarms:        as,
		Permissions:   r.store,
		Clock:         r.clk,
		Log:           logx.Nop(),
	})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	r.prov = prov
	eng, err := New(Options{Store: r.store, Provider: prov, Clock: r.clk, Log: logx.Nop()})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	r.eng = eng
	t.Cleanup(func() { _ = r.store.Close() })
	return r
}

func content() models.Content {
	return models.Content{Title: "Stretch", Message: "Stand up and stretch"}
}

// withIDs rebuilds the engine so reminder ids are handed out from ids in order.
func (r *rig) withIDs(t *testing.T, ids ...string) {
	t.Helper()
	next := 0
	eng, err := New(Options{Store: r.store, Provider: r.prov, Clock: r.clk, Log: logx.Nop(), NewID: func() string {
		if next >= len(ids) {
			t.Fatalf("out of test ids")
		}
		id := ids[next]
		next++
		return id
	}})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	r.eng = eng
}

func (r *rig) schedule(t *testing.T, req ScheduleRequest) *ScheduleResult {
	t.Helper()
	if req.Content.Title == "" {
		req.Content = content()
	}
	res, err := r.eng.Schedule(context.Background(), req)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	return res
}

func (r *rig) rows(t *testing.T, id string, track models.Track) []models.Instance {
	t.Helper()
	rows, err := r.store.ListInstances(context.Background(), id, track)
	if err != nil {
		t.Fatalf("list instances: %v", err)
	}
	return rows
}

func (r *rig) reminder(t *testing.T, id string) *models.Reminder {
	t.Helper()
	rem, err := r.store.GetReminder(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return rem
}

func countStatus(rows []models.Instance, st models.InstanceStatus) int {
	n := 0
	for _, in := range rows {
		if in.Status == st {
			n++
		}
	}
	return n
}
