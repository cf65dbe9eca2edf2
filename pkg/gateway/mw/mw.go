package mw

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

type ctxKeyRequestID struct{}

func RequestIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyRequestID{}).(string)
	return id, ok && id != ""
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID{}, id)
}

func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" || len(id) > 128 {
			id = "req_" + randHex(10)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

// Recover turns a handler panic into a 500 JSON error. Panics after a
// websocket upgrade never reach here; sessions recover their own goroutines.
func Recover(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				reqID, _ := RequestIDFrom(r.Context())
				if logger != nil {
					logger.Error("panic", "panic", v, "request_id", reqID, "path", r.URL.Path)
				}
				WriteJSONError(w, http.StatusInternalServerError, &Error{
					Type:      "api_error",
					Message:   "internal error",
					RequestID: reqID,
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.status = http.StatusOK
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(p)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

type flushStatusWriter struct {
	*statusWriter
	flusher http.Flusher
}

func (w flushStatusWriter) Flush() { w.flusher.Flush() }

type hijackStatusWriter struct {
	*statusWriter
	hijacker http.Hijacker
}

func (w hijackStatusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.status = http.StatusSwitchingProtocols
	w.wroteHeader = true
	return w.hijacker.Hijack()
}

type flushHijackStatusWriter struct {
	*statusWriter
	flusher  http.Flusher
	hijacker http.Hijacker
}

func (w flushHijackStatusWriter) Flush() { w.flusher.Flush() }

func (w flushHijackStatusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.status = http.StatusSwitchingProtocols
	w.wroteHeader = true
	return w.hijacker.Hijack()
}

// wrapStatusWriter advertises exactly the optional interfaces the underlying
// writer implements. The websocket upgrader type-asserts http.Hijacker.
func wrapStatusWriter(w http.ResponseWriter) (http.ResponseWriter, *statusWriter) {
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	flusher, canFlush := w.(http.Flusher)
	hijacker, canHijack := w.(http.Hijacker)
	switch {
	case canFlush && canHijack:
		return flushHijackStatusWriter{statusWriter: sw, flusher: flusher, hijacker: hijacker}, sw
	case canFlush:
		return flushStatusWriter{statusWriter: sw, flusher: flusher}, sw
	case canHijack:
		return hijackStatusWriter{statusWriter: sw, hijacker: hijacker}, sw
	default:
		return sw, sw
	}
}

func AccessLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped, sw := wrapStatusWriter(w)
		next.ServeHTTP(wrapped, r)
		if logger == nil {
			return
		}
		reqID, _ := RequestIDFrom(r.Context())
		logger.Info("request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().Format("20060102150405.000000000")))
	}
	return hex.EncodeToString(b)
}

// Error is the JSON error body returned by every non-websocket failure.
type Error struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	RetryAfter *int   `json:"retry_after,omitempty"`
}

type errorEnvelope struct {
	Error *Error `json:"error"`
}

func WriteJSONError(w http.ResponseWriter, status int, err *Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: err})
}
