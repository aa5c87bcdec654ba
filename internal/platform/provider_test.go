package platform_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"remindkit/internal/eventbus"
	"remindkit/internal/models"
	"remindkit/internal/platform"
	"remindkit/internal/platform/platformtest"
)

type memPerms struct {
	mu  sync.Mutex
	st  models.AlarmPermissionState
	set bool
}

func (m *memPerms) GetAlarmPermission(context.Context) (models.AlarmPermissionState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st, m.set, nil
}

func (m *memPerms) SetAlarmPermission(_ context.Context, st models.AlarmPermissionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st, m.set = st, true
	return nil
}

func (m *memPerms) denied() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set && m.st.Denied
}

func newProvider(t *testing.T, alarms platform.AlarmSubsystem, perms platform.PermissionStore) (*platform.Provider, *platformtest.Notifications) {
	t.Helper()
	notif := platformtest.NewNotifications()
	desc, _ := platform.Profile("ios")
	p, err := platform.NewProvider(platform.ProviderOptions{
		Descriptor:    desc,
		Notifications: notif,
		Alarms:        alarms,
		Permissions:   perms,
	})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	return p, notif
}

func TestProviderCachesUntilInvalidated(t *testing.T) {
	t.Parallel()
	alarms := platformtest.NewAlarms(platform.AlarmRecurring)
	p, _ := newProvider(t, alarms, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := p.AlarmInfo(ctx); err != nil {
			t.Fatalf("AlarmInfo: %v", err)
		}
	}
	if alarms.InfoQueries != 1 {
		t.Fatalf("InfoQueries = %d, want 1", alarms.InfoQueries)
	}
	p.Invalidate()
	if _, err := p.AlarmInfo(ctx); err != nil {
		t.Fatalf("AlarmInfo: %v", err)
	}
	if alarms.InfoQueries != 2 {
		t.Fatalf("InfoQueries = %d after Invalidate, want 2", alarms.InfoQueries)
	}
}

func TestProviderCapsLevelByDescriptor(t *testing.T) {
	t.Parallel()
	notif := platformtest.NewNotifications()
	desc, _ := platform.Profile("android")
	p, err := platform.NewProvider(platform.ProviderOptions{
		Descriptor:    desc,
		Notifications: notif,
		Alarms:        platformtest.NewAlarms(platform.AlarmRecurring),
	})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	info, err := p.AlarmInfo(context.Background())
	if err != nil {
		t.Fatalf("AlarmInfo: %v", err)
	}
	if info.Level != platform.AlarmOneShot {
		t.Fatalf("Level = %q, want oneShot", info.Level)
	}
}

func TestEnsureAlarmPermissionPromptsOnce(t *testing.T) {
	t.Parallel()
	alarms := platformtest.NewAlarms(platform.AlarmRecurring)
	alarms.RequiresPermission = true
	alarms.Auth = platform.AuthNotDetermined
	alarms.PromptResult = platform.AuthDenied
	perms := &memPerms{}
	p, _ := newProvider(t, alarms, perms)
	ctx := context.Background()

	ok, err := p.EnsureAlarmPermission(ctx)
	if err != nil || ok {
		t.Fatalf("EnsureAlarmPermission = %v, %v; want false, nil", ok, err)
	}
	if !perms.denied() {
		t.Fatal("denial should be persisted")
	}
	p.Invalidate()
	if ok, _ := p.EnsureAlarmPermission(ctx); ok {
		t.Fatal("persisted denial should hold")
	}
	if alarms.Prompts != 1 {
		t.Fatalf("Prompts = %d, want 1", alarms.Prompts)
	}
}

func TestProviderRefreshClearsDenialAfterGrant(t *testing.T) {
	t.Parallel()
	alarms := platformtest.NewAlarms(platform.AlarmRecurring)
	alarms.RequiresPermission = true
	alarms.Auth = platform.AuthDenied
	perms := &memPerms{}
	p, _ := newProvider(t, alarms, perms)
	ctx := context.Background()

	if ok, _ := p.EnsureAlarmPermission(ctx); ok {
		t.Fatal("expected denied")
	}
	alarms.SetAuth(platform.AuthAuthorized)
	if ok, _ := p.AlarmAllowed(ctx); ok {
		t.Fatal("cached authorization should still read denied")
	}
	if err := p.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if perms.denied() {
		t.Fatal("refresh should mirror the grant into the persisted flag")
	}
	ok, err := p.EnsureAlarmPermission(ctx)
	if err != nil || !ok {
		t.Fatalf("EnsureAlarmPermission = %v, %v; want true, nil", ok, err)
	}
}

func TestProviderWatchInvalidatesOnEvent(t *testing.T) {
	t.Parallel()
	notif := platformtest.NewNotifications()
	desc, _ := platform.Profile("ios")
	p, err := platform.NewProvider(platform.ProviderOptions{Descriptor: desc, Notifications: notif})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := eventbus.New()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Watch(ctx, bus)
	}()

	if ok, _ := p.NotificationPermission(ctx); !ok {
		t.Fatal("expected permission granted")
	}
	notif.SetDenied(true)

	deadline := time.Now().Add(2 * time.Second)
	for {
		bus.Publish(eventbus.Event{Type: eventbus.TypePermissionChanged, Data: platform.PermissionChange{Track: models.TrackNotification}})
		ok, _ := p.NotificationPermission(ctx)
		if !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("permission change was not picked up")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestUsageCountsScheduledEntries(t *testing.T) {
	t.Parallel()
	p, notif := newProvider(t, nil, nil)
	notif.Put(platform.Entry{ID: "a"})
	notif.Put(platform.Entry{ID: "b"})
	n, ceiling, err := p.Usage(context.Background(), models.TrackNotification)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if n != 2 || ceiling != 64 {
		t.Fatalf("Usage = %d/%d, want 2/64", n, ceiling)
	}
	if got := p.Descriptor().AlarmCapability; got != platform.AlarmUnavailable {
		t.Fatalf("no alarm subsystem should mean unavailable, got %q", got)
	}
}

func TestDialectSupportsNative(t *testing.T) {
	t.Parallel()
	if platform.DialectDailyWeekly.SupportsNative(models.CadenceMonthly) {
		t.Fatal("dailyWeekly cannot express monthly")
	}
	if !platform.DialectCalendar.SupportsNative(models.CadenceYearly) {
		t.Fatal("calendar expresses yearly")
	}
	if platform.DialectCalendar.SupportsNative(models.CadenceNone) {
		t.Fatal("none is never recurring")
	}
}
