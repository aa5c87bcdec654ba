package config

// Config is the reminderd configuration file.
//
// Durations are Go duration strings ("500ms", "30s", "5m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Platform PlatformConfig `json:"platform"`
	Engine   EngineConfig   `json:"engine"`
	Daemon   DaemonConfig   `json:"daemon"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./reminderd.sqlite" }
type StorageConfig struct {
	// Driver is one of memory, file, sqlite, postgres.
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`
	// DSN is the postgres connection string. Prefer REMINDERD_STORAGE_DSN
	// over writing credentials into the file.
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// PlatformConfig picks a built-in profile and optionally overrides parts of
// it. Zero values keep the profile's setting.
type PlatformConfig struct {
	Profile             string `json:"profile"`
	NotificationCeiling int    `json:"notification_ceiling,omitempty"`
	AlarmCeiling        int    `json:"alarm_ceiling,omitempty"`
	AlarmCapability     string `json:"alarm_capability,omitempty"`
	Dialect             string `json:"dialect,omitempty"`
	Timezone            string `json:"timezone,omitempty"`

	// Local backend only: whether alarms need an explicit grant and what the
	// simulated prompt answers.
	AlarmRequiresPermission bool   `json:"alarm_requires_permission,omitempty"`
	PromptResult            string `json:"prompt_result,omitempty"`
}

type EngineConfig struct {
	MinLead               string           `json:"min_lead,omitempty"`
	ForegroundMinInterval string           `json:"foreground_min_interval,omitempty"`
	Windows               WindowsConfig    `json:"windows"`
	Thresholds            ThresholdsConfig `json:"thresholds"`
}

type WindowsConfig struct {
	Notification WindowTable `json:"notification"`
	Alarm        WindowTable `json:"alarm"`
}

// WindowTable is the rolling-window size per cadence. Zero keeps the default.
type WindowTable struct {
	Daily   int `json:"daily,omitempty"`
	Weekly  int `json:"weekly,omitempty"`
	Monthly int `json:"monthly,omitempty"`
	Yearly  int `json:"yearly,omitempty"`
}

type ThresholdsConfig struct {
	MonthlyMonths int `json:"monthly_months,omitempty"`
	YearlyYears   int `json:"yearly_years,omitempty"`
}

type DaemonConfig struct {
	// InboxDir is watched for request files. Empty disables the inbox.
	InboxDir string `json:"inbox_dir,omitempty"`
	// ForegroundEvery is the periodic pass interval. Default 5m.
	ForegroundEvery string `json:"foreground_every,omitempty"`
	SystemdNotify   bool   `json:"systemd_notify,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Logging:  LoggingConfig{Level: "info", Console: true},
		Storage:  StorageConfig{Driver: "file", Path: "./data/reminderd"},
		Platform: PlatformConfig{Profile: "local"},
		Daemon:   DaemonConfig{ForegroundEvery: "5m"},
	}
}
