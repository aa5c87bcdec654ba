// Package engine schedules reminders onto the notification and alarm tracks,
// keeps rolling windows topped up, migrates windows back to native triggers,
// and cancels, archives and records occurrences.
//
// Every exported operation runs under one mutex, so operations never
// interleave with each other. Platform and storage calls are made while the
// lock is held.
package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"remindkit/internal/cadence"
	"remindkit/internal/clock"
	"remindkit/internal/eventbus"
	"remindkit/internal/models"
	"remindkit/internal/platform"
	"remindkit/internal/storage"
	logx "remindkit/pkg/logx"
)

const (
	DefaultMinLead               = time.Minute
	DefaultForegroundMinInterval = 30 * time.Second
)

type Options struct {
	Store    storage.Store
	Provider *platform.Provider
	// Bus is optional; lifecycle events are published on it when set.
	Bus   eventbus.Bus
	Clock clock.Clock
	Log   logx.Logger

	Windows      cadence.Windows
	AlarmWindows cadence.Windows
	Thresholds   cadence.Thresholds
	// MinLead is how far in the future a first fire must be.
	MinLead time.Duration
	// ForegroundMinInterval debounces Foreground.
	ForegroundMinInterval time.Duration
	// NewID overrides reminder id generation (tests).
	NewID func() string
}

type Engine struct {
	mu sync.Mutex

	store     storage.Store
	provider  *platform.Provider
	notif     platform.NotificationScheduler
	alarms    platform.AlarmSubsystem
	bus       eventbus.Bus
	clk       clock.Clock
	log       logx.Logger
	classify  Classifier
	admission *Admission
	limiter   *rate.Limiter
	minLead   time.Duration
	newID     func() string
}

func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine: store required")
	}
	if opts.Provider == nil {
		return nil, errors.New("engine: capability provider required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	minLead := opts.MinLead
	if minLead <= 0 {
		minLead = DefaultMinLead
	}
	every := opts.ForegroundMinInterval
	if every <= 0 {
		every = DefaultForegroundMinInterval
	}
	newID := opts.NewID
	if newID == nil {
		newID = func() string { return models.IDPrefix + uuid.NewString() }
	}
	desc := opts.Provider.Descriptor()
	return &Engine{
		store:    opts.Store,
		provider: opts.Provider,
		notif:    opts.Provider.Notifications(),
		alarms:   opts.Provider.Alarms(),
		bus:      opts.Bus,
		clk:      clk,
		log:      log,
		classify: Classifier{
			Dialect:      desc.Dialect,
			Windows:      opts.Windows.WithDefaults(cadence.DefaultWindows),
			AlarmWindows: opts.AlarmWindows.WithDefaults(cadence.DefaultAlarmWindows),
			Thresholds:   opts.Thresholds.WithDefaults(),
		},
		admission: NewAdmission(opts.Provider, log),
		limiter:   rate.NewLimiter(rate.Every(every), 1),
		minLead:   minLead,
		newID:     newID,
	}, nil
}

// Classifier exposes the configured decision table.
func (e *Engine) Classifier() Classifier { return e.classify }

// Admission exposes the admission controller, mainly for diagnostics.
func (e *Engine) Admission() *Admission { return e.admission }

// now is truncated to seconds, the precision of every trigger.
func (e *Engine) now() time.Time { return e.clk.Now().Truncate(time.Second) }

func (e *Engine) publish(typ, id string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: e.clk.Now(), Data: id})
}
