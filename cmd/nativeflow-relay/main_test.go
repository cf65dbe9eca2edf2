package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/vango-go/nativeflow/pkg/core/live"
	"github.com/vango-go/nativeflow/pkg/gateway/config"
	gatewayserver "github.com/vango-go/nativeflow/pkg/gateway/server"
)

type noDialer struct{}

func (noDialer) Dial(context.Context, live.SessionPolicy) (live.Stream, error) {
	return nil, errors.New("not dialing in tests")
}

func testGateway(cfg config.Config, logger *slog.Logger) *gatewayserver.Server {
	return gatewayserver.New(cfg, logger, gatewayserver.WithDialer(noDialer{}), gatewayserver.WithEncoder(nil))
}

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, relayDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		newGateway: func(cfg config.Config, logger *slog.Logger) *gatewayserver.Server {
			t.Fatalf("newGateway should not be called when config load fails")
			return nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if got := stderr.String(); got == "" {
		t.Fatalf("expected stderr output for startup error")
	}
}

func TestRunRelay_TelemetrySetupFailure(t *testing.T) {
	t.Parallel()

	err := runRelay(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), nil, relayDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{OTLPEndpoint: "http://collector:4318"}, nil
		},
		newGateway: func(cfg config.Config, logger *slog.Logger) *gatewayserver.Server {
			t.Fatalf("newGateway should not be called when telemetry fails")
			return nil
		},
		setupTelemetry: func(context.Context, string) (func(context.Context) error, error) {
			return nil, errors.New("exporter")
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})
	if err == nil {
		t.Fatalf("expected telemetry error")
	}
}

func TestRunRelay_GracefulShutdownOnSignal(t *testing.T) {
	t.Parallel()

	level := new(slog.LevelVar)
	var shutdownCalled bool
	err := runRelay(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), level, relayDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{
				Addr:                "127.0.0.1:0",
				LogLevel:            "debug",
				Policy:              live.DefaultPolicy(),
				ReadHeaderTimeout:   time.Second,
				ShutdownGracePeriod: time.Second,
			}, nil
		},
		newGateway: testGateway,
		setupTelemetry: func(context.Context, string) (func(context.Context) error, error) {
			return func(context.Context) error {
				shutdownCalled = true
				return nil
			}, nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			c <- syscall.SIGTERM
		},
		signalStop: func(c chan<- os.Signal) {},
	})
	if err != nil {
		t.Fatalf("runRelay() error = %v", err)
	}
	if !shutdownCalled {
		t.Fatalf("expected telemetry shutdown")
	}
	if level.Level() != slog.LevelDebug {
		t.Fatalf("level=%v, want debug", level.Level())
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q)=%v, want %v", in, got, want)
		}
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
}

func TestGatewayHandlerStack_Smoke(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := testGateway(config.Config{
		CORSAllowedOrigins:   map[string]struct{}{},
		GeminiAPIKey:         "test-key",
		Policy:               live.DefaultPolicy(),
		LiveHandshakeTimeout: 10 * time.Second,
		LiveDialTimeout:      15 * time.Second,
		LiveWSPingInterval:   20 * time.Second,
		LiveWSWriteTimeout:   5 * time.Second,
		ReadHeaderTimeout:    time.Second,
	}, logger)

	ts := httptest.NewServer(gw.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
	}
}
