package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"remindkit/internal/platform"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func noEnv(string) (string, bool) { return "", false }

func newTestManager(path string) *Manager {
	m := NewManager(path)
	m.lookupEnv = noEnv
	return m
}

func TestParseYAMLAndJSON(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yml := writeFile(t, dir, "reminderd.yaml", `
logging:
  level: debug
storage:
  driver: sqlite
  path: ./state.sqlite
platform:
  profile: ios
engine:
  windows:
    notification:
      daily: 14
`)
	js := writeFile(t, dir, "reminderd.json", `{"logging":{"level":"debug"},"storage":{"driver":"sqlite","path":"./state.sqlite"},"platform":{"profile":"ios"},"engine":{"windows":{"notification":{"daily":14}}}}`)

	for _, p := range []string{yml, js} {
		cfg, err := newTestManager(p).Parse()
		if err != nil {
			t.Fatalf("%s: %v", filepath.Base(p), err)
		}
		if cfg.Logging.Level != "debug" || cfg.Storage.Driver != "sqlite" || cfg.Platform.Profile != "ios" {
			t.Fatalf("%s: cfg = %+v", filepath.Base(p), cfg)
		}
		if cfg.Engine.Windows.Notification.Daily != 14 {
			t.Fatalf("%s: daily window = %d", filepath.Base(p), cfg.Engine.Windows.Notification.Daily)
		}
		// Untouched defaults survive.
		if !cfg.Logging.Console || cfg.Daemon.ForegroundEvery != "5m" {
			t.Fatalf("%s: defaults lost: %+v", filepath.Base(p), cfg)
		}
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	tests := map[string]string{
		"unknown.yaml":  "storage:\n  driver: file\n  bogus: 1\n",
		"unknown.json":  `{"telegram":{"token":"x"}}`,
		"trailing.json": `{"logging":{"level":"info"}} {"logging":{}}`,
	}
	for name, body := range tests {
		p := writeFile(t, dir, name, body)
		if _, err := newTestManager(p).Parse(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := newTestManager(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "file" || cfg.Platform.Profile != "local" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"REMINDERD_STORAGE_DRIVER":   "postgres",
		"REMINDERD_STORAGE_DSN":      "postgres://u:p@localhost/reminders",
		"REMINDERD_PLATFORM_PROFILE": " android ",
		"REMINDERD_LOG_LEVEL":        "",
	}
	cfg := Default()
	applied := ApplyEnv(cfg, func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	if len(applied) != 3 {
		t.Fatalf("applied = %v", applied)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN == "" || cfg.Platform.Profile != "android" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("empty env var overrode level: %q", cfg.Logging.Level)
	}
}

func TestLoadDotenvMissingFile(t *testing.T) {
	t.Parallel()
	if err := LoadDotenv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("missing .env: %v", err)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Platform = PlatformConfig{Profile: "android", NotificationCeiling: 100, Timezone: "UTC", PromptResult: "denied"}
	cfg.Engine = EngineConfig{
		MinLead:    "2m",
		Windows:    WindowsConfig{Notification: WindowTable{Daily: 14}},
		Thresholds: ThresholdsConfig{MonthlyMonths: 2},
	}
	s, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if s.Descriptor.NotificationCeiling != 100 || s.Descriptor.AlarmCeiling != 500 || s.Descriptor.Dialect != platform.DialectDailyWeekly {
		t.Fatalf("descriptor = %+v", s.Descriptor)
	}
	if s.Windows.Daily != 14 || s.Windows.Weekly != 4 || s.AlarmWindows.Daily != 7 {
		t.Fatalf("windows = %+v / %+v", s.Windows, s.AlarmWindows)
	}
	if s.Thresholds.MonthlyMonths != 2 || s.Thresholds.YearlyYears != 1 {
		t.Fatalf("thresholds = %+v", s.Thresholds)
	}
	if s.MinLead != 2*time.Minute || s.ForegroundEvery != DefaultForegroundEvery {
		t.Fatalf("durations = %s / %s", s.MinLead, s.ForegroundEvery)
	}
	if s.PromptResult != platform.AuthDenied || s.Location != time.UTC {
		t.Fatalf("prompt=%s loc=%s", s.PromptResult, s.Location)
	}
}

func TestResolveReportsEveryProblem(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Storage = StorageConfig{Driver: "postgres"}
	cfg.Platform = PlatformConfig{Profile: "ios", AlarmCapability: "sometimes"}
	cfg.Engine.MinLead = "soon"
	cfg.Daemon.ForegroundEvery = "-1m"
	_, err := Resolve(cfg)
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"storage.dsn", "alarm capability", "engine.min_lead", "daemon.foreground_every"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()
	a := Default()
	b := Default()
	if ch := Diff(a, b); !ch.Empty() {
		t.Fatalf("identical configs differ: %v", ch.Sections)
	}
	b.Logging.Level = "debug"
	b.Daemon.ForegroundEvery = "1m"
	b.Storage.DSN = "postgres://secret@db/reminders"
	ch := Diff(a, b)
	if strings.Join(ch.Sections, ",") != "logging,storage,daemon" {
		t.Fatalf("sections = %v", ch.Sections)
	}
	if strings.Join(ch.RestartRequired, ",") != "storage" {
		t.Fatalf("restart = %v", ch.RestartRequired)
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "reminderd.yaml", "logging:\n  level: info\n")
	m := newTestManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		_, err := Resolve(cfg)
		return err
	})
	ch := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "reminderd.yaml", "logging:\n  level: debug\n")

	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level %q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatalf("Get() not updated")
	}
	cancel()
	<-done
}
