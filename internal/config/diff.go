package config

import (
	"reflect"
	"strings"

	logx "remindkit/pkg/logx"
)

// Change describes what a reload touched. Some sections are read only at
// startup; RestartRequired lists those so the operator can be told.
type Change struct {
	Sections        []string
	RestartRequired []string
	Fields          []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Diff compares two configs. Secrets (the storage DSN) are never included
// in the log fields.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, restart bool, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		if restart {
			ch.RestartRequired = append(ch.RestartRequired, section)
		}
		ch.Fields = append(ch.Fields, fields...)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging", false,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		mark("storage", true,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Platform, newCfg.Platform) {
		mark("platform", true,
			logx.String("platform.profile", newCfg.Platform.Profile),
			logx.String("platform.timezone", newCfg.Platform.Timezone),
		)
	}
	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		mark("engine", true,
			logx.String("engine.min_lead", newCfg.Engine.MinLead),
			logx.String("engine.foreground_min_interval", newCfg.Engine.ForegroundMinInterval),
		)
	}
	if oldCfg.Daemon != newCfg.Daemon {
		// The periodic pass is rescheduled live; the inbox directory is not.
		restart := oldCfg.Daemon.InboxDir != newCfg.Daemon.InboxDir || oldCfg.Daemon.SystemdNotify != newCfg.Daemon.SystemdNotify
		mark("daemon", restart,
			logx.String("daemon.foreground_every", newCfg.Daemon.ForegroundEvery),
			logx.String("daemon.inbox_dir", newCfg.Daemon.InboxDir),
		)
	}
	return ch
}
