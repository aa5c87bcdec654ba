package app

import (
	"errors"

	"remindkit/internal/config"
	"remindkit/internal/engine"
	"remindkit/internal/eventbus"
	"remindkit/internal/inbox"
	"remindkit/internal/platform"
	"remindkit/internal/platform/local"
	"remindkit/internal/storage"
	logx "remindkit/pkg/logx"
)

// components is everything the daemon wires from resolved settings.
type components struct {
	store    storage.Store
	backend  *local.Backend
	provider *platform.Provider
	engine   *engine.Engine
	inbox    *inbox.Inbox
}

func build(s *config.Settings, log logx.Logger, bus eventbus.Bus) (*components, error) {
	store, err := openStore(s.Storage, log)
	if err != nil {
		return nil, err
	}
	c := &components{store: store}
	fail := func(err error) (*components, error) {
		return nil, errors.Join(err, store.Close())
	}

	desc := s.Descriptor
	c.backend = local.New(local.Config{
		NotificationCeiling:     desc.NotificationCeiling,
		AlarmCeiling:            desc.AlarmCeiling,
		AlarmLevel:              desc.AlarmCapability,
		AlarmRequiresPermission: s.AlarmRequiresPermission,
		PromptResult:            s.PromptResult,
		Timezone:                s.Location.String(),
	}, log, bus)

	var alarms platform.AlarmSubsystem
	if desc.AlarmCapability != platform.AlarmUnavailable {
		alarms = c.backend.Alarms()
	}
	c.provider, err = platform.NewProvider(platform.ProviderOptions{
		Descriptor:    desc,
		Notifications: c.backend.Notifications(),
		Alarms:        alarms,
		Permissions:   store,
		Log:           log.Component("capabilities"),
	})
	if err != nil {
		return fail(err)
	}

	c.engine, err = engine.New(engine.Options{
		Store:                 store,
		Provider:              c.provider,
		Bus:                   bus,
		Log:                   log,
		Windows:               s.Windows,
		AlarmWindows:          s.AlarmWindows,
		Thresholds:            s.Thresholds,
		MinLead:               s.MinLead,
		ForegroundMinInterval: s.ForegroundMinInterval,
	})
	if err != nil {
		return fail(err)
	}

	if s.InboxDir != "" {
		c.inbox, err = inbox.New(inbox.Options{
			Dir:         s.InboxDir,
			Engine:      c.engine,
			Permissions: c.backend,
			Log:         log,
		})
		if err != nil {
			return fail(err)
		}
	}
	log.Info("platform ready",
		logx.String("profile", desc.Name),
		logx.Int("notification_ceiling", desc.NotificationCeiling),
		logx.Int("alarm_ceiling", desc.AlarmCeiling),
		logx.String("alarm_capability", string(desc.AlarmCapability)),
		logx.String("dialect", string(desc.Dialect)),
	)
	return c, nil
}
