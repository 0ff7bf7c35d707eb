package jobs

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/loggo"

	"ailearning/client/internal/config"
)

var logger = loggo.GetLogger("ailearning.client.jobs")

// Resyncer reloads a snapshot from the server.
type Resyncer interface {
	Resync(ctx context.Context) error
}

// StartNotificationResyncJob reloads the notification snapshot every
// RESYNC_INTERVAL until ctx is done, closing any gap the push channel left. The
// returned channel is closed once the job has stopped.
func StartNotificationResyncJob(ctx context.Context, cfg config.Config, clk clock.Clock, target Resyncer) <-chan struct{} {
	done := make(chan struct{})
	if cfg.ResyncInterval <= 0 {
		close(done)
		return done
	}
	if target == nil {
		logger.Warningf("notification resync job disabled: no target configured")
		close(done)
		return done
	}
	if clk == nil {
		clk = clock.WallClock
	}
	timeout := cfg.ResyncTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-clk.After(cfg.ResyncInterval):
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				err := target.Resync(tickCtx)
				cancel()
				if err != nil {
					logger.Warningf("notification resync job error: %v", err)
					continue
				}
				logger.Debugf("notification snapshot resynced")
			}
		}
	}()
	return done
}
