package platform

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"remindkit/internal/clock"
	"remindkit/internal/eventbus"
	"remindkit/internal/models"
	"remindkit/pkg/logx"
)

// PermissionStore persists the single alarm permission flag.
type PermissionStore interface {
	// GetAlarmPermission returns ok=false when nothing was stored yet.
	GetAlarmPermission(ctx context.Context) (st models.AlarmPermissionState, ok bool, err error)
	SetAlarmPermission(ctx context.Context, st models.AlarmPermissionState) error
}

// Provider answers the capability questions the engine asks before it
// touches either track. Answers are cached until Invalidate is called, either
// directly or by a permission-change event picked up by Watch.
type Provider struct {
	desc   Descriptor
	notif  NotificationScheduler
	alarms AlarmSubsystem
	perms  PermissionStore
	clk    clock.Clock
	log    logx.Logger

	mu           sync.Mutex
	notifGranted *bool
	alarmInfo    *AlarmInfo
	alarmAuth    *AlarmAuthorization
}

type ProviderOptions struct {
	Descriptor    Descriptor
	Notifications NotificationScheduler
	// Alarms may be nil on platforms without an alarm subsystem.
	Alarms      AlarmSubsystem
	Permissions PermissionStore
	Clock       clock.Clock
	Log         logx.Logger
}

func NewProvider(opts ProviderOptions) (*Provider, error) {
	if opts.Notifications == nil {
		return nil, errors.New("platform: notification scheduler required")
	}
	if err := opts.Descriptor.Validate(); err != nil {
		return nil, err
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	desc := opts.Descriptor
	if opts.Alarms == nil {
		desc.AlarmCapability = AlarmUnavailable
	}
	return &Provider{
		desc:   desc,
		notif:  opts.Notifications,
		alarms: opts.Alarms,
		perms:  opts.Permissions,
		clk:    clk,
		log:    opts.Log.Component("capability"),
	}, nil
}

func (p *Provider) Descriptor() Descriptor { return p.desc }

func (p *Provider) Notifications() NotificationScheduler { return p.notif }

func (p *Provider) Alarms() AlarmSubsystem { return p.alarms }

// Invalidate drops every cached answer.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.notifGranted = nil
	p.alarmInfo = nil
	p.alarmAuth = nil
	p.mu.Unlock()
}

// NotificationPermission reports whether the notification track may be used.
func (p *Provider) NotificationPermission(ctx context.Context) (bool, error) {
	p.mu.Lock()
	if p.notifGranted != nil {
		v := *p.notifGranted
		p.mu.Unlock()
		return v, nil
	}
	p.mu.Unlock()

	ok, err := p.notif.PermissionGranted(ctx)
	if err != nil {
		return false, fmt.Errorf("query notification permission: %w", err)
	}
	p.mu.Lock()
	p.notifGranted = &ok
	p.mu.Unlock()
	return ok, nil
}

// AlarmInfo is the live report capped by the descriptor.
func (p *Provider) AlarmInfo(ctx context.Context) (AlarmInfo, error) {
	if p.alarms == nil || p.desc.AlarmCapability == AlarmUnavailable {
		return AlarmInfo{Level: AlarmUnavailable}, nil
	}
	p.mu.Lock()
	if p.alarmInfo != nil {
		v := *p.alarmInfo
		p.mu.Unlock()
		return v, nil
	}
	p.mu.Unlock()

	info, err := p.alarms.Info(ctx)
	if err != nil {
		return AlarmInfo{}, fmt.Errorf("query alarm capability: %w", err)
	}
	info.Level = p.desc.AlarmCapability.Min(info.Level)
	p.mu.Lock()
	p.alarmInfo = &info
	p.mu.Unlock()
	return info, nil
}

func (p *Provider) authorization(ctx context.Context) (AlarmAuthorization, error) {
	p.mu.Lock()
	if p.alarmAuth != nil {
		v := *p.alarmAuth
		p.mu.Unlock()
		return v, nil
	}
	p.mu.Unlock()

	auth, err := p.alarms.Authorization(ctx)
	if err != nil {
		return "", fmt.Errorf("query alarm authorization: %w", err)
	}
	p.mu.Lock()
	p.alarmAuth = &auth
	p.mu.Unlock()
	return auth, nil
}

// AlarmAllowed reports whether alarms may be scheduled right now, without
// ever prompting the user.
func (p *Provider) AlarmAllowed(ctx context.Context) (bool, error) {
	info, err := p.AlarmInfo(ctx)
	if err != nil {
		return false, err
	}
	if info.Level == AlarmUnavailable {
		return false, nil
	}
	if !info.RequiresPermission {
		return true, nil
	}
	auth, err := p.authorization(ctx)
	if err != nil {
		return false, err
	}
	return auth == AuthAuthorized, nil
}

// EnsureAlarmPermission returns whether alarms are usable, prompting only
// when the platform has never asked and nothing persisted says denied.
func (p *Provider) EnsureAlarmPermission(ctx context.Context) (bool, error) {
	info, err := p.AlarmInfo(ctx)
	if err != nil {
		return false, err
	}
	if info.Level == AlarmUnavailable {
		return false, nil
	}
	if !info.RequiresPermission {
		return true, nil
	}
	if p.perms != nil {
		st, ok, err := p.perms.GetAlarmPermission(ctx)
		if err != nil {
			return false, fmt.Errorf("load alarm permission: %w", err)
		}
		if ok && st.Denied {
			return false, nil
		}
	}

	auth, err := p.authorization(ctx)
	if err != nil {
		return false, err
	}
	if auth == AuthNotDetermined {
		auth, err = p.alarms.RequestPermission(ctx)
		if err != nil {
			return false, fmt.Errorf("request alarm permission: %w", err)
		}
		p.mu.Lock()
		p.alarmAuth = &auth
		p.mu.Unlock()
		p.log.Info("alarm permission prompted", logx.String("result", string(auth)))
	}
	if err := p.persist(ctx, auth); err != nil {
		return false, err
	}
	return auth == AuthAuthorized, nil
}

func (p *Provider) persist(ctx context.Context, auth AlarmAuthorization) error {
	if p.perms == nil || auth == AuthNotDetermined {
		return nil
	}
	st := models.AlarmPermissionState{Denied: auth == AuthDenied, UpdatedAt: p.clk.Now()}
	if err := p.perms.SetAlarmPermission(ctx, st); err != nil {
		return fmt.Errorf("store alarm permission: %w", err)
	}
	return nil
}

// Usage returns how many entries the track currently holds and its ceiling.
func (p *Provider) Usage(ctx context.Context, track models.Track) (scheduled, ceiling int, err error) {
	ceiling = p.desc.Ceiling(track)
	var entries []Entry
	switch track {
	case models.TrackAlarm:
		if p.alarms == nil {
			return 0, 0, nil
		}
		entries, err = p.alarms.Scheduled(ctx)
	default:
		entries, err = p.notif.Scheduled(ctx)
	}
	if err != nil {
		return 0, ceiling, fmt.Errorf("list %s entries: %w", track, err)
	}
	return len(entries), ceiling, nil
}

// Refresh drops the cache and mirrors the live alarm authorization into the
// persisted flag so a permission granted in system settings is noticed.
func (p *Provider) Refresh(ctx context.Context) error {
	p.Invalidate()
	if p.alarms == nil || p.desc.AlarmCapability == AlarmUnavailable {
		return nil
	}
	auth, err := p.authorization(ctx)
	if err != nil {
		return err
	}
	return p.persist(ctx, auth)
}

// Watch refreshes on every permission-change event until ctx is done.
func (p *Provider) Watch(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(8, eventbus.TypePermissionChanged)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			track := ""
			if pc, ok := e.Data.(PermissionChange); ok {
				track = string(pc.Track)
			}
			if err := p.Refresh(ctx); err != nil {
				p.log.Warn("capability refresh failed", logx.Track(track), logx.Err(err))
				continue
			}
			p.log.Debug("capability cache refreshed", logx.Track(track))
		}
	}
}
