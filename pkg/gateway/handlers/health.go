package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/vango-go/nativeflow/pkg/gateway/config"
	"github.com/vango-go/nativeflow/pkg/gateway/lifecycle"
	"github.com/vango-go/nativeflow/pkg/gateway/live/sessions"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the relay should receive new sessions.
// EncoderErr is the result of the startup ffmpeg probe; a missing encoder
// only degrades audio to WAV, so it is a warning rather than an issue.
type ReadyHandler struct {
	Config       config.Config
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker
	EncoderErr   error
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK           bool     `json:"ok"`
		Draining     bool     `json:"draining"`
		Model        string   `json:"model"`
		Encoder      string   `json:"encoder"`
		LiveSessions int      `json:"live_sessions"`
		Issues       []string `json:"issues,omitempty"`
		Warnings     []string `json:"warnings,omitempty"`
	}

	issues := make([]string, 0, 4)
	var warnings []string

	draining := h.Lifecycle.IsDraining()
	if draining {
		issues = append(issues, "draining")
	}
	if strings.TrimSpace(h.Config.GeminiAPIKey) == "" {
		issues = append(issues, "gemini api key is not configured")
	}
	policy := h.Config.Policy.WithDefaults()
	if err := policy.Validate(); err != nil {
		issues = append(issues, "invalid session policy: "+err.Error())
	}
	if h.Config.LiveHandshakeTimeout <= 0 || h.Config.LiveDialTimeout <= 0 || h.Config.LiveWSWriteTimeout <= 0 {
		issues = append(issues, "live timeouts must be > 0")
	}

	encoder := "mp3"
	if h.EncoderErr != nil {
		encoder = "wav"
		warnings = append(warnings, "mp3 encoder unavailable: "+h.EncoderErr.Error())
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:           ok,
		Draining:     draining,
		Model:        policy.Model,
		Encoder:      encoder,
		LiveSessions: h.LiveSessions.Count(),
		Issues:       issues,
		Warnings:     warnings,
	})
}
