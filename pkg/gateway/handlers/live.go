package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-go/nativeflow/pkg/core/audio"
	"github.com/vango-go/nativeflow/pkg/core/live"
	"github.com/vango-go/nativeflow/pkg/gateway/config"
	"github.com/vango-go/nativeflow/pkg/gateway/lifecycle"
	"github.com/vango-go/nativeflow/pkg/gateway/live/session"
	"github.com/vango-go/nativeflow/pkg/gateway/live/sessions"
	"github.com/vango-go/nativeflow/pkg/gateway/metrics"
	"github.com/vango-go/nativeflow/pkg/gateway/mw"
	"github.com/vango-go/nativeflow/pkg/gateway/principal"
	"github.com/vango-go/nativeflow/pkg/gateway/ratelimit"
)

// LiveHandler handles /v1/live websocket sessions.
type LiveHandler struct {
	Config       config.Config
	Dialer       live.Dialer
	Codec        audio.Codec
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Tracer       trace.Tracer
	Limiter      *ratelimit.Limiter
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if r.Method != http.MethodGet {
		h.reject(w, "method_not_allowed", http.StatusMethodNotAllowed, &mw.Error{Type: "invalid_request_error", Message: "method not allowed", Code: "method_not_allowed", RequestID: reqID})
		return
	}
	if h.Lifecycle.IsDraining() {
		h.reject(w, "draining", http.StatusServiceUnavailable, &mw.Error{Type: "overloaded_error", Message: "relay is draining", Code: "draining", RequestID: reqID})
		return
	}
	if !websocket.IsWebSocketUpgrade(r) {
		h.reject(w, "not_websocket", http.StatusBadRequest, &mw.Error{Type: "invalid_request_error", Message: "websocket upgrade required", Code: "upgrade_required", RequestID: reqID})
		return
	}
	if !h.originAllowed(r) {
		h.reject(w, "origin", http.StatusForbidden, &mw.Error{Type: "permission_error", Message: "origin is not allowed", Code: "origin_not_allowed", RequestID: reqID})
		return
	}

	who := principal.Resolve(r, h.Config.TrustProxyHeaders)
	dec := h.Limiter.AcquireSession(who.Key, time.Now())
	if !dec.Allowed {
		status := http.StatusTooManyRequests
		if dec.Reason == ratelimit.ReasonServerBusy {
			status = http.StatusServiceUnavailable
		}
		retry := dec.RetryAfter
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		h.reject(w, dec.Reason, status, &mw.Error{Type: "rate_limit_error", Message: "too many live sessions", Code: dec.Reason, RequestID: reqID, RetryAfter: &retry})
		if h.Logger != nil {
			h.Logger.Info("live session rejected", "request_id", reqID, "principal_kind", who.Kind, "reason", dec.Reason)
		}
		return
	}
	defer dec.Permit.Release()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, upgradeHeader(w.Header(), reqID))
	if err != nil {
		h.Metrics.RecordRejectedSession("upgrade_failed")
		return
	}
	defer conn.Close()

	s, err := session.New(session.Dependencies{
		Conn:      conn,
		Dialer:    h.Dialer,
		Policy:    h.Config.Policy,
		Codec:     h.Codec,
		Logger:    h.Logger,
		Metrics:   h.Metrics,
		Tracer:    h.Tracer,
		RequestID: reqID,
		Config: session.Config{
			HandshakeTimeout:  h.Config.LiveHandshakeTimeout,
			DialTimeout:       h.Config.LiveDialTimeout,
			PingInterval:      h.Config.LiveWSPingInterval,
			WriteTimeout:      h.Config.LiveWSWriteTimeout,
			ReadTimeout:       h.Config.LiveWSReadTimeout,
			MaxMessageBytes:   h.Config.LiveMaxMessageBytes,
			OutboundQueueSize: h.Config.LiveOutboundQueueSize,
		},
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("failed to initialize live session", "request_id", reqID, "error", err)
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable"), time.Now().Add(2*time.Second))
		return
	}

	unregister := h.LiveSessions.Register(s.ID(), sessions.Handle{
		Cancel: s.Cancel,
		Drain:  s.Drain,
	})
	defer unregister()

	if err := s.Run(); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("live session ended with error", "session_id", s.ID(), "request_id", reqID, "error", err)
		}
	}
}

func (h LiveHandler) reject(w http.ResponseWriter, reason string, status int, e *mw.Error) {
	h.Metrics.RecordRejectedSession(reason)
	mw.WriteJSONError(w, status, e)
}

// originAllowed admits requests without an Origin header, same-origin
// requests and allowlisted origins.
func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if _, ok := h.Config.CORSAllowedOrigins[origin]; ok {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// upgradeHeader carries headers set by middleware onto the 101 response. The
// upgrader hijacks the connection and ignores w.Header().
func upgradeHeader(set http.Header, reqID string) http.Header {
	out := http.Header{}
	for _, k := range []string{"X-Request-ID", "Access-Control-Allow-Origin", "Access-Control-Expose-Headers", "Vary"} {
		if v := set.Values(k); len(v) > 0 {
			out[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
		}
	}
	if reqID != "" {
		out.Set("X-Request-ID", reqID)
	}
	return out
}

func requestIDFromContext(ctx context.Context) string {
	if id, ok := mw.RequestIDFrom(ctx); ok {
		return id
	}
	return ""
}
