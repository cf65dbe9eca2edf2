package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval = 20 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// outboundWriter is the only goroutine that writes data frames to the client.
// Frames are written in the order they were queued. It exits when frames is
// closed (after writing a normal close frame) or when ctx is done.
type outboundWriter struct {
	ws     wsWriter
	ctx    context.Context
	cfg    Config
	frames <-chan []byte
}

func (w *outboundWriter) Run() error {
	if w == nil || w.ws == nil {
		return nil
	}

	pingInterval := w.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	writeTimeout := w.cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			_ = w.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			return nil
		case <-pingTicker.C:
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				return fmt.Errorf("client ping: %w", err)
			}
		case frame, ok := <-w.frames:
			if !ok {
				_ = w.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
				return nil
			}
			if err := w.writeFrame(frame, writeTimeout); err != nil {
				return fmt.Errorf("client write: %w", err)
			}
		}
	}
}

func (w *outboundWriter) writeFrame(payload []byte, writeTimeout time.Duration) error {
	if err := w.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, payload)
}

// frameQueue is the producer side of the writer. send blocks until the
// writer accepts the frame or ctx is done.
type frameQueue struct {
	ctx    context.Context
	frames chan<- []byte
}

func (q frameQueue) send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode client frame: %w", err)
	}
	select {
	case q.frames <- payload:
		return nil
	case <-q.ctx.Done():
		return q.ctx.Err()
	}
}
