// Command nativeflow-relay serves the /v1/live websocket relay in front of
// Gemini Live.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/vango-go/nativeflow/pkg/gateway/config"
	gatewayserver "github.com/vango-go/nativeflow/pkg/gateway/server"
	"github.com/vango-go/nativeflow/pkg/gateway/telemetry"
)

type relayDeps struct {
	loadConfig     func() (config.Config, error)
	newGateway     func(config.Config, *slog.Logger) *gatewayserver.Server
	setupTelemetry func(ctx context.Context, endpoint string) (func(context.Context) error, error)
	signalNotify   func(chan<- os.Signal, ...os.Signal)
	signalStop     func(chan<- os.Signal)
}

func defaultRelayDeps() relayDeps {
	return relayDeps{
		loadConfig: config.LoadFromEnv,
		newGateway: func(cfg config.Config, logger *slog.Logger) *gatewayserver.Server {
			return gatewayserver.New(cfg, logger)
		},
		setupTelemetry: telemetry.Setup,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func runRelay(ctx context.Context, logger *slog.Logger, level *slog.LevelVar, deps relayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newGateway == nil {
		return errors.New("missing newGateway dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if level != nil {
		level.Set(parseLevel(cfg.LogLevel))
	}

	if deps.setupTelemetry != nil {
		shutdownTelemetry, err := deps.setupTelemetry(ctx, cfg.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("setup telemetry: %w", err)
		}
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				logger.Warn("telemetry shutdown failed", "error", err)
			}
		}()
	}

	gw := deps.newGateway(cfg, logger)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting relay", "addr", cfg.Addr, "model", cfg.Policy.Model, "metrics", cfg.MetricsEnabled)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()
	drained := gw.DrainLiveSessions()
	logger.Info("draining live sessions", "sessions", drained)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitLiveSessions(waitCtx) {
		canceled := gw.CancelLiveSessions()
		logger.Warn("grace period elapsed, canceled live sessions", "sessions", canceled)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("relay stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps relayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(stderr, "nativeflow-relay: load .env: %v\n", err)
		return 1
	}

	if err := runRelay(ctx, logger, level, deps); err != nil {
		fmt.Fprintf(stderr, "nativeflow-relay: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultRelayDeps()))
}
