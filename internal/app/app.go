// Package app wires reminderd: config, logging, storage, the local platform
// backend, the engine, the request inbox and the periodic foreground pass.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"remindkit/internal/config"
	"remindkit/internal/engine"
	"remindkit/internal/eventbus"
	"remindkit/internal/platform"
	"remindkit/internal/runtime/supervisor"
	logx "remindkit/pkg/logx"
)

type App struct {
	cfgm     *config.Manager
	settings *config.Settings

	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus

	*components

	notify   sdNotifier
	sup      *supervisor.Supervisor
	periodic *periodic
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	s, err := config.Resolve(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfgPath, err)
	}

	logs, root := logx.New(s.Log)
	cfgm.SetLogger(root)
	log := root.Component("app")

	bus := eventbus.New()
	c, err := build(s, root, bus)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	return &App{
		cfgm:       cfgm,
		settings:   s,
		logs:       logs,
		log:        log,
		bus:        bus,
		components: c,
		notify:     sdNotifier{enabled: s.SystemdNotify, log: root.Component("systemd")},
	}, nil
}

func (a *App) Engine() *engine.Engine { return a.engine }

// Boot arms the platform, re-registers persisted entries and runs a forced
// foreground pass.
func (a *App) Boot(ctx context.Context) (engine.PassReport, error) {
	a.backend.Start(ctx)
	rs, err := a.engine.Resync(ctx)
	if err != nil {
		return engine.PassReport{}, err
	}
	if len(rs.Errors) > 0 {
		a.log.Warn("resync incomplete", logx.Int("registered", rs.Registered), logx.Int("errors", len(rs.Errors)), logx.Err(rs.Errors[0]))
	} else {
		a.log.Info("resync done", logx.Int("registered", rs.Registered))
	}
	rep, err := a.engine.ForceForeground(ctx)
	if err != nil {
		return rep, err
	}
	a.log.Info("startup pass done",
		logx.Int("archived", len(rep.Archive.Archived)),
		logx.Int("migrated", len(rep.Migration.Migrated)),
		logx.Int("notification_refill", rep.NotificationRefill.Scheduled),
		logx.Int("alarm_refill", rep.AlarmRefill.Scheduled),
		logx.Int("recorded", rep.CatchUp.Recorded),
		logx.Duration("took", rep.Elapsed),
	)
	return rep, nil
}

// DrainInbox handles requests already waiting, for --once runs.
func (a *App) DrainInbox(ctx context.Context) (int, error) {
	if a.inbox == nil {
		return 0, nil
	}
	return a.inbox.Drain(ctx)
}

// Done is closed when the supervisor context is cancelled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err is the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := config.Resolve(cfg)
		return err
	})

	a.periodic = newPeriodic(a.log, func() { a.foreground(a.sup.Context(), "periodic") })
	if err := a.periodic.Set(a.settings.ForegroundEvery); err != nil {
		return err
	}

	a.sup.GoRestart("platform.capabilities", func(c context.Context) error {
		return a.provider.Watch(c, a.bus)
	})
	a.sup.GoRestart("ledger.deliveries", a.consumeEvents)
	a.sup.Go("events.log", a.logEvents)
	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	a.sup.Go("config.apply", a.applyConfig)
	if a.inbox != nil {
		a.sup.GoRestart("inbox", a.inbox.Run, supervisor.WithRestartBackoff(time.Second, time.Minute))
	}
	a.sup.Go("systemd.watchdog", a.notify.watchdog)

	a.periodic.Start()

	a.notify.Ready()
	a.log.Info("reminderd started", logx.Duration("foreground_every", a.settings.ForegroundEvery))
	return nil
}

func (a *App) foreground(ctx context.Context, trigger string) {
	rep, err := a.engine.Foreground(ctx)
	switch {
	case err != nil:
		a.log.Warn("foreground pass failed", logx.String("trigger", trigger), logx.Err(err))
	case rep.Debounced:
		a.log.Debug("foreground pass debounced", logx.String("trigger", trigger))
	default:
		a.log.Debug("foreground pass done", logx.String("trigger", trigger), logx.Duration("took", rep.Elapsed), logx.Int("errors", len(rep.Errors)))
	}
}

// consumeEvents records platform deliveries in the ledger and runs passes
// requested on the bus.
func (a *App) consumeEvents(ctx context.Context) error {
	ch, unsub := a.bus.Subscribe(256, eventbus.TypeDelivered, eventbus.TypeForeground)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			switch e.Type {
			case eventbus.TypeForeground:
				a.foreground(ctx, "event")
			case eventbus.TypeDelivered:
				d, ok := e.Data.(platform.Delivery)
				if !ok {
					continue
				}
				inserted, err := a.engine.RecordDelivery(ctx, d)
				if err != nil {
					a.log.Warn("delivery not recorded", logx.Track(d.Track), logx.Entry(d.ID), logx.Err(err))
					continue
				}
				a.log.Debug("delivery recorded", logx.Entry(d.ID), logx.Bool("new", inserted))
			}
		}
	}
}

func (a *App) logEvents(ctx context.Context) error {
	ch, unsub := a.bus.Subscribe(128,
		eventbus.TypeReminderScheduled, eventbus.TypeReminderCancelled, eventbus.TypeReminderArchived)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			id, _ := e.Data.(string)
			a.log.Debug("event", logx.String("type", e.Type), logx.Reminder(id), logx.Time("time", e.Time))
		}
	}
}

// applyConfig applies the live parts of a reload: logging and the periodic
// pass interval. Everything else is reported as needing a restart.
func (a *App) applyConfig(ctx context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-sub:
			if !ok {
				return nil
			}
			ch := config.Diff(last, next)
			last = next
			if ch.Empty() {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			s, err := config.Resolve(next)
			if err != nil {
				a.log.Warn("reloaded config does not resolve; keeping previous", logx.Err(err))
				continue
			}
			a.logs.Apply(s.Log)
			if err := a.periodic.Set(s.ForegroundEvery); err != nil {
				a.log.Warn("foreground interval not applied", logx.Err(err))
			}
			if len(ch.RestartRequired) > 0 {
				a.log.Warn("config changed; restart required for changes to take effect",
					logx.String("sections", strings.Join(ch.RestartRequired, ",")))
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
			a.log.Info("config applied", fields...)
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify.Stopping()
	if a.sup != nil {
		a.sup.Cancel()
	}

	// step bounds one shutdown stage without extending the caller's deadline.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("periodic", 5*time.Second, func(c context.Context) error {
		if a.periodic != nil {
			a.periodic.Stop(c)
		}
		return nil
	})
	step("supervisor", 3*time.Second, func(c context.Context) error {
		if a.sup == nil {
			return nil
		}
		return a.sup.Wait(c)
	})
	step("platform", 2*time.Second, func(c context.Context) error {
		a.backend.Stop(c)
		return nil
	})
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
