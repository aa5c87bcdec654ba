package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "remindkit/pkg/logx"
)

// sdNotifier reports readiness to systemd. It does nothing outside a
// Type=notify unit (NOTIFY_SOCKET unset).
type sdNotifier struct {
	enabled bool
	log     logx.Logger
}

func (n sdNotifier) send(state string) {
	if !n.enabled {
		return
	}
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		n.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

func (n sdNotifier) Ready()    { n.send(daemon.SdNotifyReady) }
func (n sdNotifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// watchdog pings systemd at half the WatchdogSec interval until ctx is
// done. It returns at once when no watchdog is configured.
func (n sdNotifier) watchdog(ctx context.Context) error {
	if !n.enabled {
		return nil
	}
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("systemd watchdog unavailable", logx.Err(err))
		return nil
	}
	if every <= 0 {
		return nil
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	n.log.Debug("systemd watchdog enabled", logx.Duration("interval", every))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
