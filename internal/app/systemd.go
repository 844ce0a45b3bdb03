package app

import (
	"context"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"

	logx "chatsync/pkg/logx"
)

// notifySystemd reports readiness and, when WatchdogSec is set on the
// unit, starts the keepalive loop. Outside systemd both are no-ops.
func (a *App) notifySystemd() {
	if ok, err := sd.SdNotify(false, sd.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified: ready")
	}

	interval, err := sd.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog check failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}

	// Ping at half the unit's WatchdogSec, the conventional margin.
	tick := interval / 2
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(tick)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				if _, err := sd.SdNotify(false, sd.SdNotifyWatchdog); err != nil {
					a.log.Warn("systemd watchdog notify failed", logx.Err(err))
				}
			}
		}
	})
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
}

func (a *App) notifySystemdStopping() {
	_, _ = sd.SdNotify(false, sd.SdNotifyStopping)
}
