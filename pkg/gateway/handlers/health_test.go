package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vango-go/nativeflow/pkg/core/live"
	"github.com/vango-go/nativeflow/pkg/gateway/config"
	"github.com/vango-go/nativeflow/pkg/gateway/lifecycle"
)

func readyConfig() config.Config {
	return config.Config{
		GeminiAPIKey:         "test-key",
		Policy:               live.DefaultPolicy(),
		LiveHandshakeTimeout: time.Second,
		LiveDialTimeout:      time.Second,
		LiveWSWriteTimeout:   time.Second,
	}
}

func serveReady(t *testing.T, h ReadyHandler) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return rr.Code, resp
}

func TestHealthHandler_OK(t *testing.T) {
	rr := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok\n" {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestReadyHandler_Ready(t *testing.T) {
	status, resp := serveReady(t, ReadyHandler{Config: readyConfig()})
	if status != http.StatusOK {
		t.Fatalf("status=%d resp=%v", status, resp)
	}
	if resp["encoder"] != "mp3" || resp["model"] != live.DefaultModel {
		t.Fatalf("resp=%v", resp)
	}
}

func TestReadyHandler_MissingAPIKey_NotReady(t *testing.T) {
	cfg := readyConfig()
	cfg.GeminiAPIKey = ""

	status, resp := serveReady(t, ReadyHandler{Config: cfg})
	if status != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", status)
	}
	if ok, _ := resp["ok"].(bool); ok {
		t.Fatalf("expected ok=false")
	}
}

func TestReadyHandler_Draining_NotReady(t *testing.T) {
	lc := &lifecycle.Lifecycle{}
	lc.SetDraining(true)

	status, resp := serveReady(t, ReadyHandler{Config: readyConfig(), Lifecycle: lc})
	if status != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", status)
	}
	if draining, _ := resp["draining"].(bool); !draining {
		t.Fatalf("resp=%v", resp)
	}
}

func TestReadyHandler_EncoderUnavailableIsWarning(t *testing.T) {
	status, resp := serveReady(t, ReadyHandler{Config: readyConfig(), EncoderErr: errors.New("ffmpeg not found")})
	if status != http.StatusOK {
		t.Fatalf("status=%d resp=%v", status, resp)
	}
	if resp["encoder"] != "wav" {
		t.Fatalf("encoder=%v", resp["encoder"])
	}
	warnings, _ := resp["warnings"].([]any)
	if len(warnings) != 1 {
		t.Fatalf("warnings=%v", resp["warnings"])
	}
}
