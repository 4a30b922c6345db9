/*
Command relayd runs the private WebSocket signaling relay: it accepts
authenticated upgrades, groups connections into rooms by an opaque
code, and fans out opaque envelopes between room members.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/signalrelay/hub/internal/auth"
	"github.com/signalrelay/hub/internal/auth/jwtverifier"
	"github.com/signalrelay/hub/internal/auth/staticverifier"
	"github.com/signalrelay/hub/internal/qr"
	"github.com/signalrelay/hub/internal/relay"
)

type cliConfig struct {
	Host           string
	Port           int
	RoomCapacity   int
	RateLimitN     int64
	RateLimitWin   time.Duration
	IdleTTL        time.Duration
	SweepInterval  time.Duration
	MaxFrameBytes  int64
	AllowedOrigins []string
	AuthMode       string
	JWTSecret      string
	JWTIssuer      string
	Debug          bool
	EnableQR       bool
}

func main() {
	cfg := parseFlags()

	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	verifier, err := buildVerifier(cfg)
	if err != nil {
		logger.Error("failed to build token verifier", zap.Error(err))
		os.Exit(1)
	}

	originChecker := relay.NewOriginChecker(cfg.AllowedOrigins)

	hub := relay.NewHub(relay.Config{
		RoomCapacity:      cfg.RoomCapacity,
		RateLimitN:        cfg.RateLimitN,
		RateLimitWindow:   cfg.RateLimitWin,
		OutboundQueueSize: 128,
		MaxFrameBytes:     cfg.MaxFrameBytes,
		IdleTTL:           cfg.IdleTTL,
		SweepInterval:     cfg.SweepInterval,
	}, verifier, originChecker, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		relay.ServeWS(r.Context(), hub, w, r)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", promhttp.Handler())

	if cfg.EnableQR {
		qrHandler := qr.NewHandler(cfg.Host, cfg.Port, false)
		mux.HandleFunc("/qr", qrHandler.HandleQR)
		mux.HandleFunc("/qr/image", qrHandler.HandleQRImage)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancelHub := context.WithCancel(context.Background())
	go hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting signaling relay",
			zap.String("address", addr),
			zap.Int("room_capacity", cfg.RoomCapacity),
			zap.Int64("rate_limit_n", cfg.RateLimitN),
			zap.Duration("rate_limit_window", cfg.RateLimitWin),
			zap.Duration("idle_ttl", cfg.IdleTTL))

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed to start", zap.Error(err))
			cancelHub()
			os.Exit(1)
		}
	case <-quit:
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hub.Shutdown(shutdownCtx)
	cancelHub()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("server stopped")
}

func parseFlags() cliConfig {
	cfg := cliConfig{}

	flag.StringVar(&cfg.Host, "host", envOr("HOST", "127.0.0.1"), "Host to bind to")
	flag.IntVar(&cfg.Port, "port", envIntOr("PORT", 8080), "Port to listen on")
	flag.IntVar(&cfg.RoomCapacity, "room-capacity", relay.DefaultCapacity, "Maximum members per room")
	rateN := flag.Int64("rate-limit-n", 10, "Max messages per rate-limit window, per connection")
	rateW := flag.Duration("rate-limit-window", time.Second, "Rate-limit sliding window duration")
	flag.DurationVar(&cfg.IdleTTL, "idle-ttl", 2*time.Hour, "Idle room eviction TTL")
	flag.DurationVar(&cfg.SweepInterval, "sweep-interval", time.Minute, "Idle sweep period")
	maxFrame := flag.Int64("max-frame-bytes", 64*1024, "Maximum accepted frame size in bytes")
	origins := flag.String("allowed-origins", "localhost,127.0.0.1", "Comma-separated list of allowed Origin hosts")
	flag.StringVar(&cfg.AuthMode, "auth", "jwt", "Token verifier to use: jwt or static")
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", os.Getenv("JWT_SECRET"), "HS256 shared secret for the jwt verifier")
	flag.StringVar(&cfg.JWTIssuer, "jwt-issuer", os.Getenv("JWT_ISSUER"), "Expected issuer claim for the jwt verifier (optional)")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable development logging")
	flag.BoolVar(&cfg.EnableQR, "qr", false, "Expose QR-code endpoints encoding the join URL")

	flag.Parse()

	cfg.RateLimitN = *rateN
	cfg.RateLimitWin = *rateW
	cfg.MaxFrameBytes = *maxFrame
	cfg.AllowedOrigins = parseOrigins(*origins)
	return cfg
}

func buildVerifier(cfg cliConfig) (auth.Verifier, error) {
	switch cfg.AuthMode {
	case "jwt":
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("jwt auth mode requires -jwt-secret or JWT_SECRET")
		}
		return jwtverifier.New([]byte(cfg.JWTSecret), cfg.JWTIssuer), nil
	case "static":
		return staticverifier.New(), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.AuthMode)
	}
}

func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

func parseOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
