package relay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/signalrelay/hub/internal/metrics"
)

// runSweeper walks the registry on a fixed period and closes every
// member of a room whose lastActivity has exceeded ttl. It never holds
// a room or registry lock across a socket write: SweepIdle already
// detaches the idle rooms before this function touches any connection.
func runSweeper(ctx context.Context, registry *Registry, ttl, period time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepOnce(registry, ttl, logger)
		}
	}
}

func sweepOnce(registry *Registry, ttl time.Duration, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("idle sweep panicked, continuing", zap.Any("recover", r))
		}
	}()

	rooms := registry.SweepIdle(time.Now(), ttl)
	for _, room := range rooms {
		metrics.RoomsSwept.Inc()

		members := room.snapshot()
		if len(members) == 0 {
			continue
		}
		logger.Info("idle room evicted",
			zap.String("room", room.Code),
			zap.Int("members", len(members)))

		for _, m := range members {
			go m.shutdownClose()
		}
	}
}
