// Package session runs one live relay session: a client websocket on one side
// and an upstream Live stream on the other.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/nativeflow/pkg/core/audio"
	"github.com/vango-go/nativeflow/pkg/core/live"
	"github.com/vango-go/nativeflow/pkg/gateway/live/protocol"
	"github.com/vango-go/nativeflow/pkg/gateway/metrics"
)

const tracerName = "github.com/vango-go/nativeflow/pkg/gateway/live/session"

const (
	defaultHandshakeTimeout  = 10 * time.Second
	defaultDialTimeout       = 15 * time.Second
	defaultOutboundQueueSize = 64
)

// State is the session lifecycle position.
type State int32

const (
	StateHandshaking State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Config struct {
	HandshakeTimeout  time.Duration
	DialTimeout       time.Duration
	PingInterval      time.Duration
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	MaxMessageBytes   int64
	OutboundQueueSize int
}

// ClientConn is the client websocket. *websocket.Conn satisfies it.
type ClientConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type Dependencies struct {
	Conn      ClientConn
	Dialer    live.Dialer
	Policy    live.SessionPolicy
	Codec     audio.Codec
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
	SessionID string
	RequestID string
	Config    Config
	Now       func() time.Time
}

// Session coordinates one client connection and its upstream stream.
type Session struct {
	conn      ClientConn
	dialer    live.Dialer
	policy    live.SessionPolicy
	codec     audio.Codec
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	sessionID string
	requestID string
	cfg       Config
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	state    atomic.Int32
	inTurn   atomic.Bool
	draining atomic.Bool

	mu       sync.Mutex
	stream   live.Stream
	stopOnce sync.Once
}

// NewSessionID returns an identifier of the form session_YYYYMMDD_HHMMSS_<uuid>.
func NewSessionID(now time.Time) string {
	return "session_" + now.UTC().Format("20060102_150405") + "_" + uuid.NewString()
}

func New(deps Dependencies) (*Session, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Dialer == nil {
		return nil, fmt.Errorf("upstream dialer is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if strings.TrimSpace(deps.SessionID) == "" {
		deps.SessionID = NewSessionID(deps.Now())
	}
	if deps.Config.HandshakeTimeout <= 0 {
		deps.Config.HandshakeTimeout = defaultHandshakeTimeout
	}
	if deps.Config.DialTimeout <= 0 {
		deps.Config.DialTimeout = defaultDialTimeout
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = defaultOutboundQueueSize
	}
	policy := deps.Policy.WithDefaults()
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("session policy: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		conn:      deps.Conn,
		dialer:    deps.Dialer,
		policy:    policy,
		codec:     deps.Codec,
		logger:    deps.Logger.With("session_id", deps.SessionID, "request_id", deps.RequestID),
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		sessionID: deps.SessionID,
		requestID: deps.RequestID,
		cfg:       deps.Config,
		now:       deps.Now,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

func (s *Session) ID() string {
	if s == nil {
		return ""
	}
	return s.sessionID
}

func (s *Session) State() State {
	if s == nil {
		return StateClosed
	}
	return State(s.state.Load())
}

// Run performs the handshake, dials the upstream and relays until either side
// ends. It returns nil when the session ended normally.
func (s *Session) Run() (err error) {
	defer s.cancel()
	defer func() { _ = s.conn.Close() }()

	start := s.now()
	s.metrics.RecordLiveSessionStart()
	ctx, span := s.tracer.Start(s.ctx, "live.session", trace.WithAttributes(
		attribute.String("session.id", s.sessionID),
		attribute.String("live.model", s.policy.Model),
	))
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.state.Store(int32(StateClosed))
		s.metrics.RecordLiveSessionEnd(status, s.now().Sub(start))
	}()

	if s.cfg.MaxMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}

	// Until the relays own the connection, cancellation has to unblock the
	// handshake read by closing the socket.
	stopWatch := context.AfterFunc(s.ctx, func() { _ = s.conn.Close() })

	setup, err := s.readHandshake()
	if err != nil {
		stopWatch()
		s.closeWith(websocket.ClosePolicyViolation, "invalid setup")
		return err
	}
	s.logger.Info("live session setup received", "setup", setup.RedactedForLog())

	stream, err := s.dial(ctx)
	if err != nil {
		stopWatch()
		s.closeWith(websocket.CloseInternalServerErr, "upstream unavailable")
		return err
	}
	if !stopWatch() {
		_ = stream.Close()
		return s.ctx.Err()
	}

	s.state.Store(int32(StateActive))
	s.logger.Info("live session active", "model", s.policy.Model)

	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	} else {
		_ = s.conn.SetReadDeadline(time.Time{})
	}

	return s.relay(ctx, stream)
}

func (s *Session) readHandshake() (protocol.ClientSetup, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	msgType, data, err := s.conn.ReadMessage()
	if err != nil {
		if s.ctx.Err() != nil {
			return protocol.ClientSetup{}, s.ctx.Err()
		}
		return protocol.ClientSetup{}, fmt.Errorf("read setup: %w", err)
	}
	if msgType != websocket.TextMessage {
		return protocol.ClientSetup{}, fmt.Errorf("read setup: expected text frame")
	}
	setup, err := protocol.DecodeSetup(data)
	if err != nil {
		return protocol.ClientSetup{}, fmt.Errorf("read setup: %w", err)
	}
	return setup, nil
}

func (s *Session) dial(ctx context.Context) (live.Stream, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()

	stream, err := s.dialer.Dial(dialCtx, s.policy)
	if err != nil {
		return nil, fmt.Errorf("dial upstream: %w", err)
	}

	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()
	return stream, nil
}

func (s *Session) relay(ctx context.Context, stream live.Stream) error {
	frames := make(chan []byte, s.cfg.OutboundQueueSize)

	in := &inboundRelay{
		conn:        s.conn,
		send:        stream.Sender(),
		readTimeout: s.cfg.ReadTimeout,
		logger:      s.logger,
		metrics:     s.metrics,
	}
	out := &outboundRelay{
		ctx:               ctx,
		recv:              stream.Receiver(),
		out:               frameQueue{ctx: ctx, frames: frames},
		codec:             s.codec,
		logger:            s.logger,
		metrics:           s.metrics,
		tracer:            s.tracer,
		defaultSampleRate: s.policy.OutputSampleRate,
		inTurn:            &s.inTurn,
		draining:          &s.draining,
	}
	w := &outboundWriter{
		ws:     s.conn,
		ctx:    ctx,
		cfg:    s.cfg,
		frames: frames,
	}

	var g errgroup.Group
	g.Go(func() error {
		defer s.stop()
		return s.guard("inbound", in.run)
	})
	g.Go(func() error {
		defer close(frames)
		return s.guard("outbound", out.run)
	})
	g.Go(func() error {
		defer func() {
			s.stop()
			_ = s.conn.Close()
		}()
		return s.guard("writer", w.Run)
	})

	err := g.Wait()
	s.stop()
	if err != nil && isClosedErr(err) {
		return nil
	}
	return err
}

func (s *Session) guard(name string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("live relay panic", "relay", name, "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("%s relay panic: %v", name, rec)
		}
	}()
	return fn()
}

// stop cancels the session and closes the upstream stream. The client
// connection is closed by the writer once its close frame is out.
func (s *Session) stop() {
	s.stopOnce.Do(func() {
		s.state.CompareAndSwap(int32(StateActive), int32(StateClosing))
		s.cancel()
		s.mu.Lock()
		stream := s.stream
		s.mu.Unlock()
		if stream != nil {
			_ = stream.Close()
		}
	})
}

func (s *Session) closeWith(code int, reason string) {
	deadline := time.Now().Add(defaultWriteTimeout)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = s.conn.Close()
}

// Cancel ends the session as soon as possible.
func (s *Session) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.stop()
}

// Drain asks the session to end at the next turn boundary. A session with no
// turn in progress ends immediately.
func (s *Session) Drain() {
	if s == nil {
		return
	}
	s.draining.Store(true)
	if !s.inTurn.Load() {
		s.Cancel()
	}
}

// isClosedErr reports whether err is an ordinary end of a connection.
func isClosedErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled) {
		return true
	}
	var ce *websocket.CloseError
	return errors.As(err, &ce)
}
