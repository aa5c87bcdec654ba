// Package inbox turns request files dropped into a directory into engine
// calls. Each request gets a <name>.result.json answer and is then removed.
package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"remindkit/internal/clock"
	"remindkit/internal/engine"
	"remindkit/internal/platform"
	logx "remindkit/pkg/logx"
)

const (
	resultSuffix = ".result.json"
	settleDelay  = 150 * time.Millisecond
)

// Engine is the subset of *engine.Engine the inbox drives.
type Engine interface {
	Schedule(ctx context.Context, req engine.ScheduleRequest) (*engine.ScheduleResult, error)
	Edit(ctx context.Context, id string, req engine.ScheduleRequest) (*engine.ScheduleResult, error)
	Cancel(ctx context.Context, id string) (engine.CancelReport, error)
	Delete(ctx context.Context, id string) (engine.CancelReport, error)
	Tap(ctx context.Context, ev engine.TapEvent) (bool, error)
	Snooze(ctx context.Context, id string, d time.Duration) error
	Foreground(ctx context.Context) (engine.PassReport, error)
}

// Permissions flips the simulated OS permission switches. The local
// backend implements it; nil disables the permission op.
type Permissions interface {
	SetNotificationPermission(granted bool)
	SetAlarmAuthorization(auth platform.AlarmAuthorization)
}

type Options struct {
	Dir         string
	Engine      Engine
	Permissions Permissions
	Clock       clock.Clock
	Log         logx.Logger
}

type Inbox struct {
	dir   string
	eng   Engine
	perms Permissions
	clk   clock.Clock
	log   logx.Logger

	// mu serializes request handling.
	mu sync.Mutex

	timerMu sync.Mutex
	timers  map[string]*time.Timer
}

func New(opts Options) (*Inbox, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.New("inbox: dir required")
	}
	if opts.Engine == nil {
		return nil, errors.New("inbox: engine required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Inbox{
		dir:    opts.Dir,
		eng:    opts.Engine,
		perms:  opts.Permissions,
		clk:    clk,
		log:    log.Component("inbox"),
		timers: map[string]*time.Timer{},
	}, nil
}

func (in *Inbox) Dir() string { return in.dir }

// isRequest filters out results, temp files and dotfiles.
func isRequest(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, resultSuffix) {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// Drain handles every request already in the directory, in name order.
func (in *Inbox) Drain(ctx context.Context) (int, error) {
	ents, err := os.ReadDir(in.dir)
	if err != nil {
		return 0, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if !e.IsDir() && isRequest(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	n := 0
	for _, name := range names {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if in.Process(ctx, filepath.Join(in.dir, name)) {
			n++
		}
	}
	return n, nil
}

// Run drains the directory, then handles new requests until ctx is done.
func (in *Inbox) Run(ctx context.Context) error {
	if err := os.MkdirAll(in.dir, 0o755); err != nil {
		return fmt.Errorf("create inbox dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(in.dir); err != nil {
		return fmt.Errorf("watch %s: %w", in.dir, err)
	}
	defer in.stopTimers()

	// Files written before the watch started.
	if n, err := in.Drain(ctx); err != nil && ctx.Err() == nil {
		in.log.Warn("inbox drain failed", logx.Err(err))
	} else if n > 0 {
		in.log.Info("inbox drained", logx.Int("requests", n))
	}
	in.log.Info("inbox watching", logx.String("dir", in.dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("inbox: event channel closed")
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !isRequest(ev.Name) {
				continue
			}
			in.settle(ctx, ev.Name)
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("inbox: error channel closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				in.log.Warn("inbox watch overflow; rescanning")
				if _, err := in.Drain(ctx); err != nil && ctx.Err() == nil {
					in.log.Warn("inbox drain failed", logx.Err(err))
				}
				continue
			}
			in.log.Warn("inbox watch error", logx.Err(err))
		}
	}
}

// settle waits for writes to a file to stop before handling it.
func (in *Inbox) settle(ctx context.Context, path string) {
	in.timerMu.Lock()
	defer in.timerMu.Unlock()
	if t, ok := in.timers[path]; ok {
		t.Stop()
	}
	in.timers[path] = time.AfterFunc(settleDelay, func() {
		in.timerMu.Lock()
		delete(in.timers, path)
		in.timerMu.Unlock()
		if ctx.Err() == nil {
			in.Process(ctx, path)
		}
	})
}

func (in *Inbox) stopTimers() {
	in.timerMu.Lock()
	defer in.timerMu.Unlock()
	for p, t := range in.timers {
		t.Stop()
		delete(in.timers, p)
	}
}

// Process handles one request file. It reports false when the file was
// gone or could not be answered.
func (in *Inbox) Process(ctx context.Context, path string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	base := filepath.Base(path)
	res := Result{Request: base}
	if err != nil {
		res.Error, res.ErrorKind = err.Error(), "internal"
	} else if req, derr := Decode(base, data); derr != nil {
		res.Error, res.ErrorKind = derr.Error(), "decode"
	} else {
		res.Op = req.Op
		res.Data, err = in.handle(ctx, req)
		if err != nil {
			res.Error, res.ErrorKind = err.Error(), ErrorKind(err)
			var ce *engine.CapacityError
			if errors.As(err, &ce) {
				res.Data = capacityView{Track: ce.Track, Required: ce.Required, Remaining: ce.Remaining, Deficit: ce.Deficit()}
			}
		}
	}
	res.OK = res.Error == ""
	res.Handled = in.clk.Now().UTC()

	if err := writeResult(resultPath(path), res); err != nil {
		in.log.Error("inbox result write failed", logx.String("request", base), logx.Err(err))
		return false
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		in.log.Warn("inbox request not removed", logx.String("request", base), logx.Err(err))
	}
	if res.OK {
		in.log.Info("inbox request handled", logx.String("request", base), logx.String("op", res.Op))
	} else {
		in.log.Warn("inbox request failed", logx.String("request", base), logx.String("op", res.Op), logx.String("kind", res.ErrorKind), logx.String("error", res.Error))
	}
	return true
}

func resultPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + resultSuffix
}

// writeResult replaces the result file atomically.
func writeResult(path string, res Result) error {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (in *Inbox) handle(ctx context.Context, req *Request) (any, error) {
	switch req.Op {
	case OpSchedule:
		sr, err := req.schedule()
		if err != nil {
			return nil, err
		}
		res, err := in.eng.Schedule(ctx, sr)
		if err != nil {
			return nil, err
		}
		return viewSchedule(res), nil

	case OpEdit:
		if err := req.requireID(); err != nil {
			return nil, err
		}
		sr, err := req.schedule()
		if err != nil {
			return nil, err
		}
		res, err := in.eng.Edit(ctx, req.ID, sr)
		if err != nil {
			return nil, err
		}
		return viewSchedule(res), nil

	case OpCancel, OpDelete:
		if err := req.requireID(); err != nil {
			return nil, err
		}
		fn := in.eng.Cancel
		if req.Op == OpDelete {
			fn = in.eng.Delete
		}
		rep, err := fn(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		return rep, nil

	case OpTap:
		ev, err := req.tap()
		if err != nil {
			return nil, err
		}
		inserted, err := in.eng.Tap(ctx, ev)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"recorded": inserted}, nil

	case OpSnooze:
		if err := req.requireID(); err != nil {
			return nil, err
		}
		d, err := time.ParseDuration(strings.TrimSpace(req.Duration))
		if err != nil {
			return nil, &engine.ValidationError{Field: "duration", Reason: "must be a Go duration"}
		}
		if err := in.eng.Snooze(ctx, req.ID, d); err != nil {
			return nil, err
		}
		return map[string]string{"snoozed_for": d.String()}, nil

	case OpForeground:
		rep, err := in.eng.Foreground(ctx)
		if err != nil {
			return nil, err
		}
		return viewPass(rep), nil

	case OpPermission:
		if in.perms == nil {
			return nil, &engine.ValidationError{Field: "op", Reason: "permission switches are not available on this platform"}
		}
		auth, setAlarm, err := req.alarmAuthorization()
		if err != nil {
			return nil, err
		}
		if req.Notifications == nil && !setAlarm {
			return nil, &engine.ValidationError{Field: "permission", Reason: "set notifications or alarms"}
		}
		out := map[string]any{}
		if req.Notifications != nil {
			in.perms.SetNotificationPermission(*req.Notifications)
			out["notifications"] = *req.Notifications
		}
		if setAlarm {
			in.perms.SetAlarmAuthorization(auth)
			out["alarms"] = auth
		}
		return out, nil

	default:
		return nil, &engine.ValidationError{Field: "op", Reason: fmt.Sprintf("unknown op %q", req.Op)}
	}
}
