package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/nativeflow/pkg/core/live"
	"github.com/vango-go/nativeflow/pkg/gateway/live/protocol"
	"github.com/vango-go/nativeflow/pkg/gateway/metrics"
)

type wsReader interface {
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
}

// inboundRelay forwards client media to the upstream sender. Frames are
// forwarded one at a time in arrival order; nothing is buffered.
type inboundRelay struct {
	conn        wsReader
	send        live.Sender
	readTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

func (r *inboundRelay) run() error {
	for {
		msgType, data, err := r.conn.ReadMessage()
		if err != nil {
			if isClosedErr(err) {
				return nil
			}
			return fmt.Errorf("client read: %w", err)
		}
		if r.readTimeout > 0 {
			_ = r.conn.SetReadDeadline(time.Now().Add(r.readTimeout))
		}

		if msgType != websocket.TextMessage {
			r.skip("binary_frame", nil)
			continue
		}
		chunks, skipped, err := protocol.DecodeRealtimeInput(data)
		if err != nil {
			r.skip("decode_error", err)
			continue
		}
		for _, bad := range skipped {
			r.metrics.RecordInboundSkipped("decode_error")
			r.logger.Warn("skipping media chunk", "reason", "decode_error", "error", bad)
		}
		if err := r.forward(chunks); err != nil {
			if errors.Is(err, live.ErrStreamClosed) {
				return nil
			}
			return err
		}
	}
}

func (r *inboundRelay) forward(chunks []protocol.MediaChunk) error {
	for _, chunk := range chunks {
		switch chunk.Kind() {
		case protocol.ChunkAudio:
			r.metrics.RecordInboundChunk("audio")
			r.metrics.RecordLiveAudio(metrics.DirectionInbound, len(chunk.Data))
			if err := r.send.SendAudio(chunk.Data, chunk.MIMEType); err != nil {
				return fmt.Errorf("upstream send audio: %w", err)
			}
		case protocol.ChunkImage:
			r.metrics.RecordInboundChunk("image")
			if err := r.send.SendImage(chunk.Data, chunk.MIMEType); err != nil {
				return fmt.Errorf("upstream send image: %w", err)
			}
		default:
			r.metrics.RecordInboundChunk("ignored")
			r.logger.Debug("ignoring media chunk", "mime_type", chunk.MIMEType, "bytes", len(chunk.Data))
		}
	}
	return nil
}

func (r *inboundRelay) skip(reason string, err error) {
	r.metrics.RecordInboundSkipped(reason)
	if err != nil {
		r.logger.Warn("skipping client frame", "reason", reason, "error", err)
		return
	}
	r.logger.Warn("skipping client frame", "reason", reason)
}
