package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/signalrelay/hub/internal/auth"
	"github.com/signalrelay/hub/internal/ratelimit"
)

// Config holds the hub's tunables.
type Config struct {
	RoomCapacity      int
	RateLimitN        int64
	RateLimitWindow   time.Duration
	OutboundQueueSize int
	MaxFrameBytes     int64
	IdleTTL           time.Duration
	SweepInterval     time.Duration
}

// DefaultConfig returns the hub's documented defaults.
func DefaultConfig() Config {
	return Config{
		RoomCapacity:      DefaultCapacity,
		RateLimitN:        10,
		RateLimitWindow:   time.Second,
		OutboundQueueSize: 128,
		MaxFrameBytes:     64 * 1024,
		IdleTTL:           2 * time.Hour,
		SweepInterval:     time.Minute,
	}
}

// Hub wires the registry, router, sweeper and verifier into a single
// server-context value rather than module-level globals.
type Hub struct {
	cfg      Config
	registry *Registry
	router   *Router
	verifier auth.Verifier
	limiters *ratelimit.Factory
	logger   *zap.Logger
	upgrader websocket.Upgrader

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}

	closeOnce sync.Once
}

// NewHub constructs a Hub. verifier authenticates the bearer token
// presented at upgrade time.
func NewHub(cfg Config, verifier auth.Verifier, originChecker *OriginChecker, logger *zap.Logger) *Hub {
	registry := NewRegistry(cfg.RoomCapacity)

	checkOrigin := func(r *http.Request) bool { return true }
	if originChecker != nil {
		checkOrigin = originChecker.CheckOrigin
	}

	return &Hub{
		cfg:      cfg,
		registry: registry,
		router:   NewRouter(registry),
		verifier: verifier,
		limiters: ratelimit.NewFactory(cfg.RateLimitN, cfg.RateLimitWindow),
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Run starts the idle sweeper and blocks until ctx is cancelled or
// Shutdown is called.
func (h *Hub) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	h.sweepCancel = cancel
	h.sweepDone = make(chan struct{})

	go func() {
		defer close(h.sweepDone)
		runSweeper(ctx, h.registry, h.cfg.IdleTTL, h.cfg.SweepInterval, h.logger)
	}()

	<-ctx.Done()
}

// Shutdown stops the sweeper and closes every live connection across
// every room, emitting a final peer_left per room as each member is
// torn down. It returns once all connections are closed or the
// bounded timeout elapses.
func (h *Hub) Shutdown(ctx context.Context) {
	h.closeOnce.Do(func() {
		if h.sweepCancel != nil {
			h.sweepCancel()
		}

		rooms := h.registry.DetachAll()
		var wg sync.WaitGroup
		for _, room := range rooms {
			members := room.snapshot()
			for _, leaver := range members {
				frame := peerLeftFrame(leaver.ClientID)
				for _, other := range members {
					if other != leaver {
						other.enqueue(frame)
					}
				}
			}
			for _, m := range members {
				wg.Add(1)
				go func(m *Member) {
					defer wg.Done()
					m.shutdownClose()
				}(m)
			}
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			h.logger.Warn("shutdown timed out waiting for connections to close")
		}

		if h.sweepDone != nil {
			<-h.sweepDone
		}
	})
}

// Registry exposes the underlying room registry, for diagnostics and
// tests.
func (h *Hub) Registry() *Registry { return h.registry }
