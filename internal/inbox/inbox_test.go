package inbox

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"remindkit/internal/clock"
	"remindkit/internal/engine"
	"remindkit/internal/models"
	"remindkit/internal/platform"
	"remindkit/internal/platform/platformtest"
	"remindkit/internal/storage"
	logx "remindkit/pkg/logx"
)

var epoch = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

type fakePerms struct {
	notif *bool
	alarm platform.AlarmAuthorization
}

func (f *fakePerms) SetNotificationPermission(granted bool) { f.notif = &granted }

func (f *fakePerms) SetAlarmAuthorization(a platform.AlarmAuthorization) { f.alarm = a }

func newInbox(t *testing.T) (*Inbox, *fakePerms) {
	t.Helper()
	clk := clock.NewFake(epoch)
	store := storage.NewMemory()
	t.Cleanup(func() { _ = store.Close() })
	prov, err := platform.NewProvider(platform.ProviderOptions{
		Descriptor:    platform.Profiles["ios"],
		Notifications: platformtest.NewNotifications(),
		Alarms:        platformtest.NewAlarms(platform.AlarmRecurring),
		Permissions:   store,
		Clock:         clk,
	})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	eng, err := engine.New(engine.Options{Store: store, Provider: prov, Clock: clk})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	perms := &fakePerms{}
	in, err := New(Options{Dir: t.TempDir(), Engine: eng, Permissions: perms, Clock: clk, Log: logx.Nop()})
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	return in, perms
}

func drop(t *testing.T, in *Inbox, name, body string) string {
	t.Helper()
	p := filepath.Join(in.Dir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write request: %v", err)
	}
	return p
}

// answer processes one request and returns its decoded result.
func answer(t *testing.T, in *Inbox, name, body string) map[string]any {
	t.Helper()
	p := drop(t, in, name, body)
	if !in.Process(context.Background(), p) {
		t.Fatalf("%s not processed", name)
	}
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatalf("request %s not removed", name)
	}
	return readResult(t, resultPath(p))
}

func readResult(t *testing.T, path string) map[string]any {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return out
}

func TestScheduleThenCancel(t *testing.T) {
	t.Parallel()
	in, _ := newInbox(t)
	res := answer(t, in, "001-new.yaml", `
op: schedule
title: Dentist
message: Bring the forms
fire_at: "2025-01-02T15:00:00Z"
`)
	if res["ok"] != true {
		t.Fatalf("schedule failed: %v", res)
	}
	data := res["data"].(map[string]any)
	if data["method"] != string(models.MethodSingleNative) {
		t.Fatalf("method = %v", data["method"])
	}
	id := data["reminder"].(map[string]any)["id"].(string)

	res = answer(t, in, "002-cancel.json", `{"op":"cancel","id":"`+id+`"}`)
	if res["ok"] != true {
		t.Fatalf("cancel failed: %v", res)
	}
	if got := res["data"].(map[string]any)["Cancelled"]; got != float64(1) {
		t.Fatalf("cancelled = %v", got)
	}
}

func TestRequestErrors(t *testing.T) {
	t.Parallel()
	in, _ := newInbox(t)
	tests := []struct {
		name, body, kind string
	}{
		{"bad.json", `{"op":"schedule","colour":"red"}`, "decode"},
		{"noop.json", `{"id":"x"}`, "decode"},
		{"unknown.json", `{"op":"reboot"}`, "validation"},
		{"past.json", `{"op":"schedule","title":"t","message":"m","fire_at":"2024-12-31T00:00:00Z"}`, "validation"},
		{"cadence.json", `{"op":"schedule","title":"t","message":"m","fire_at":"2025-02-01T00:00:00Z","cadence":"hourly"}`, "validation"},
		{"missing.json", `{"op":"cancel","id":"reminder-nope"}`, "not_found"},
		{"snooze.json", `{"op":"snooze","id":"reminder-nope","duration":"ten"}`, "validation"},
	}
	for _, tt := range tests {
		res := answer(t, in, tt.name, tt.body)
		if res["ok"] != false || res["error_kind"] != tt.kind {
			t.Errorf("%s: ok=%v kind=%v error=%v, want kind %s", tt.name, res["ok"], res["error_kind"], res["error"], tt.kind)
		}
	}
}

func TestPermissionSwitches(t *testing.T) {
	t.Parallel()
	in, perms := newInbox(t)
	res := answer(t, in, "perm.json", `{"op":"permission","notifications":false,"alarms":"denied"}`)
	if res["ok"] != true {
		t.Fatalf("permission failed: %v", res)
	}
	if perms.notif == nil || *perms.notif || perms.alarm != platform.AuthDenied {
		t.Fatalf("switches = %+v", perms)
	}
	res = answer(t, in, "empty.json", `{"op":"permission"}`)
	if res["error_kind"] != "validation" {
		t.Fatalf("empty permission request: %v", res)
	}
}

func TestForegroundRequest(t *testing.T) {
	t.Parallel()
	in, _ := newInbox(t)
	res := answer(t, in, "fg.yml", "op: foreground\n")
	if res["ok"] != true {
		t.Fatalf("foreground failed: %v", res)
	}
	if res["data"].(map[string]any)["debounced"] != false {
		t.Fatalf("first pass reported debounced")
	}
	res = answer(t, in, "fg-again.yml", "op: foreground\n")
	if res["ok"] != true || res["data"].(map[string]any)["debounced"] != true {
		t.Fatalf("second pass within the interval was not debounced: %v", res)
	}
}

func TestDrainIgnoresResultsAndOrdersByName(t *testing.T) {
	t.Parallel()
	in, _ := newInbox(t)
	drop(t, in, "b.json", `{"op":"foreground"}`)
	drop(t, in, "a.json", `{"op":"foreground"}`)
	drop(t, in, "old.result.json", `{"ok":true}`)
	drop(t, in, "notes.txt", "ignore me")

	n, err := in.Drain(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("Drain() = %d, %v", n, err)
	}
	for _, name := range []string{"a.result.json", "b.result.json", "notes.txt", "old.result.json"} {
		if _, err := os.Stat(filepath.Join(in.Dir(), name)); err != nil {
			t.Errorf("%s missing: %v", name, err)
		}
	}
}

func TestRunPicksUpNewFiles(t *testing.T) {
	t.Parallel()
	in, _ := newInbox(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	time.Sleep(100 * time.Millisecond)
	drop(t, in, "late.json", `{"op":"foreground"}`)
	want := filepath.Join(in.Dir(), "late.result.json")
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(want); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no result for late.json")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if res := readResult(t, want); res["ok"] != true {
		t.Fatalf("result = %v", res)
	}
}
