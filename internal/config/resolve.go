package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"remindkit/internal/cadence"
	"remindkit/internal/platform"
	"remindkit/internal/storage"
	logx "remindkit/pkg/logx"
)

const DefaultForegroundEvery = 5 * time.Minute

// Settings is a validated Config with every value in its typed form.
type Settings struct {
	Log     logx.Config
	Storage storage.Config

	Descriptor              platform.Descriptor
	Location                *time.Location
	AlarmRequiresPermission bool
	PromptResult            platform.AlarmAuthorization

	MinLead               time.Duration
	ForegroundMinInterval time.Duration
	Windows               cadence.Windows
	AlarmWindows          cadence.Windows
	Thresholds            cadence.Thresholds

	InboxDir        string
	ForegroundEvery time.Duration
	SystemdNotify   bool
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Resolve validates cfg and converts it. All problems are reported at once.
func Resolve(cfg *Config) (*Settings, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	var errs []error
	s := &Settings{
		Log: logx.Config{
			Level:   cfg.Logging.Level,
			Console: cfg.Logging.Console,
			File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
		},
		AlarmRequiresPermission: cfg.Platform.AlarmRequiresPermission,
		InboxDir:                strings.TrimSpace(cfg.Daemon.InboxDir),
		SystemdNotify:           cfg.Daemon.SystemdNotify,
	}
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := ParseDurationOrDefault(path, raw, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	// storage
	busy := dur("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	s.Storage = storage.Config{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path, DSN: cfg.Storage.DSN, BusyTimeout: busy}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "memory":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for driver %q", cfg.Storage.Driver))
		}
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	// platform
	name := cfg.Platform.Profile
	if strings.TrimSpace(name) == "" {
		name = "local"
	}
	desc, ok := platform.Profile(name)
	if !ok {
		errs = append(errs, fmt.Errorf("platform.profile: unknown profile %q", cfg.Platform.Profile))
	}
	if v := cfg.Platform.NotificationCeiling; v != 0 {
		desc.NotificationCeiling = v
	}
	if v := cfg.Platform.AlarmCeiling; v != 0 {
		desc.AlarmCeiling = v
	}
	if v := strings.TrimSpace(cfg.Platform.AlarmCapability); v != "" {
		desc.AlarmCapability = platform.AlarmCapability(v)
	}
	if v := strings.TrimSpace(cfg.Platform.Dialect); v != "" {
		desc.Dialect = platform.Dialect(v)
	}
	if ok {
		if err := desc.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	s.Descriptor = desc

	s.Location = time.Local
	if tz := strings.TrimSpace(cfg.Platform.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			errs = append(errs, fmt.Errorf("platform.timezone: %w", err))
		} else {
			s.Location = loc
		}
	}

	switch v := platform.AlarmAuthorization(strings.TrimSpace(cfg.Platform.PromptResult)); v {
	case "":
		s.PromptResult = platform.AuthAuthorized
	case platform.AuthAuthorized, platform.AuthDenied:
		s.PromptResult = v
	default:
		errs = append(errs, fmt.Errorf("platform.prompt_result: must be authorized or denied, got %q", v))
	}

	// engine
	s.MinLead = dur("engine.min_lead", cfg.Engine.MinLead, 0)
	s.ForegroundMinInterval = dur("engine.foreground_min_interval", cfg.Engine.ForegroundMinInterval, 0)
	s.Windows = windows("engine.windows.notification", cfg.Engine.Windows.Notification, cadence.DefaultWindows, &errs)
	s.AlarmWindows = windows("engine.windows.alarm", cfg.Engine.Windows.Alarm, cadence.DefaultAlarmWindows, &errs)
	if cfg.Engine.Thresholds.MonthlyMonths < 0 || cfg.Engine.Thresholds.YearlyYears < 0 {
		errs = append(errs, errors.New("engine.thresholds: values must be >= 0"))
	}
	s.Thresholds = cadence.Thresholds{
		MonthlyMonths: cfg.Engine.Thresholds.MonthlyMonths,
		YearlyYears:   cfg.Engine.Thresholds.YearlyYears,
	}.WithDefaults()

	// daemon
	s.ForegroundEvery = dur("daemon.foreground_every", cfg.Daemon.ForegroundEvery, DefaultForegroundEvery)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return s, nil
}

func windows(path string, t WindowTable, def cadence.Windows, errs *[]error) cadence.Windows {
	if t.Daily < 0 || t.Weekly < 0 || t.Monthly < 0 || t.Yearly < 0 {
		*errs = append(*errs, fmt.Errorf("%s: sizes must be >= 0", path))
	}
	return cadence.Windows{Daily: t.Daily, Weekly: t.Weekly, Monthly: t.Monthly, Yearly: t.Yearly}.WithDefaults(def)
}
