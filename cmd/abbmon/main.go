// Command abbmon connects to one ABB IRC5 controller's EGM and Robot
// Web Services channels, maintains an RMMP grant and a set of
// subscriptions, and exposes health and Prometheus metrics endpoints.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rpiRobotics/rpi-abb-irc5/egm"
	"github.com/rpiRobotics/rpi-abb-irc5/internal/config"
	"github.com/rpiRobotics/rpi-abb-irc5/internal/metrics"
	"github.com/rpiRobotics/rpi-abb-irc5/internal/middleware"
	"github.com/rpiRobotics/rpi-abb-irc5/rws"
	"github.com/rpiRobotics/rpi-abb-irc5/rws/rmmp"
	"github.com/rpiRobotics/rpi-abb-irc5/rws/subscribe"
)

var rmmpStates = []string{"idle", "requesting", "granted(primary)", "granted(primary,shadow)", "granted(shadow)"}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging.Level)
	defer logger.Sync()

	logger.Info("starting abbmon",
		zap.String("rws_base_url", cfg.RWS.BaseURL),
		zap.Int("egm_listen_port", cfg.EGM.ListenPort),
	)

	reg := metrics.NewRegistry()

	egmEndpoint, err := egm.NewEndpoint(cfg.EGM.ListenPort)
	if err != nil {
		logger.Fatal("failed to bind egm endpoint", zap.Error(err))
	}
	defer egmEndpoint.Close()

	rwsClient, err := rws.NewClient(cfg.RWS.BaseURL, cfg.RWS.Username, cfg.RWS.Password, reg.Registerer())
	if err != nil {
		logger.Fatal("failed to build rws client", zap.Error(err))
	}

	keeper := rmmp.NewKeeper(cfg.RWS.BaseURL, rwsClient.DigestTransport(), cfg.RMMP.RolloverInterval(), logger)

	subManager := subscribe.NewManager(cfg.RWS.BaseURL, rwsClient.DigestTransport(), rwsClient.CookieJar(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runEGMLoop(ctx, egmEndpoint, reg, logger)
	go runRMMPLoop(ctx, keeper, cfg, reg, logger)

	var running atomic.Bool
	running.Store(true)

	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if running.Load() {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "ok")
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	rateLimiter := middleware.NewRateLimiter(120, logger)

	httpServer := &http.Server{
		Addr:         cfg.Metrics.ListenAddr,
		Handler:      rateLimiter.Middleware(middleware.LoggingMiddleware(logger)(mux)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("metrics server starting", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server failed", zap.Error(err))
		}
	}()

	sub, err := subManager.Subscribe(ctx, []string{"/rw/panel/ctrlstate;ctrlstate"}, subscribe.DecodeControllerState, func(err error) {
		if err != nil {
			logger.Warn("controller state subscription ended", zap.Error(err))
		}
	})
	if err != nil {
		logger.Warn("failed to subscribe to controller state", zap.Error(err))
	} else {
		defer sub.Close()
		go forwardSubscriptionEvents(ctx, "ctrlstate", sub, reg, logger)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	running.Store(false)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}

	logger.Info("abbmon stopped")
}

// runEGMLoop continuously receives feedback datagrams and mirrors the
// endpoint's received-packet and decode-error counters into the
// metrics registry until ctx is cancelled.
func runEGMLoop(ctx context.Context, ep *egm.Endpoint, reg *metrics.Registry, logger *zap.Logger) {
	var lastReceived, lastDecodeErrors uint64

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, _, err := ep.Receive(1 * time.Second)
		if err != nil {
			logger.Warn("egm receive error", zap.Error(err))
		}

		snap := ep.Snapshot()
		reg.EGMPacketsReceived.Add(float64(snap.PacketsReceived - lastReceived))
		reg.EGMDecodeErrors.Add(float64(snap.DecodeErrors - lastDecodeErrors))
		lastReceived = snap.PacketsReceived
		lastDecodeErrors = snap.DecodeErrors
	}
}

// runRMMPLoop requests RMMP and then polls the keeper to keep the grant
// alive, rolling sessions over as needed and requesting again whenever
// a poll reports no grant, until ctx is cancelled.
func runRMMPLoop(ctx context.Context, keeper *rmmp.Keeper, cfg *config.Config, reg *metrics.Registry, logger *zap.Logger) {
	if err := keeper.Request(ctx, cfg.RMMP.RequestTimeout()); err != nil {
		logger.Warn("rmmp grant request failed", zap.Error(err))
	}
	reg.SetRMMPState(rmmpStates, keeper.State().String())

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			granted, err := keeper.Poll(ctx)
			if err != nil {
				logger.Warn("rmmp poll error", zap.Error(err))
				reg.RMMPRolloverFailures.Inc()
			}
			if !granted {
				logger.Warn("rmmp grant lost, re-requesting")
				if err := keeper.Request(ctx, cfg.RMMP.RequestTimeout()); err != nil {
					logger.Warn("rmmp re-request failed", zap.Error(err))
				}
			}
			reg.SetRMMPState(rmmpStates, keeper.State().String())
		}
	}
}

// forwardSubscriptionEvents counts delivered events for one
// subscription until its channel closes.
func forwardSubscriptionEvents(ctx context.Context, resource string, sub *subscribe.Subscription, reg *metrics.Registry, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			reg.SubscriptionEventsTotal.WithLabelValues(resource).Inc()
			logger.Debug("subscription event", zap.String("resource", resource), zap.Any("event", event))
		}
	}
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      zapLevel == zapcore.DebugLevel,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
