package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-go/nativeflow/pkg/core/audio"
	"github.com/vango-go/nativeflow/pkg/core/live"
	"github.com/vango-go/nativeflow/pkg/core/providers/gemini"
	"github.com/vango-go/nativeflow/pkg/gateway/config"
	"github.com/vango-go/nativeflow/pkg/gateway/handlers"
	"github.com/vango-go/nativeflow/pkg/gateway/lifecycle"
	"github.com/vango-go/nativeflow/pkg/gateway/live/sessions"
	"github.com/vango-go/nativeflow/pkg/gateway/metrics"
	"github.com/vango-go/nativeflow/pkg/gateway/mw"
	"github.com/vango-go/nativeflow/pkg/gateway/ratelimit"
	"github.com/vango-go/nativeflow/pkg/gateway/telemetry"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	dialer       live.Dialer
	codec        audio.Codec
	encoderSet   bool
	encoderErr   error
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	limiter      *ratelimit.Limiter
	lifecycle    *lifecycle.Lifecycle
	liveSessions *sessions.Tracker
}

// Option overrides a default dependency. Tests use these to avoid dialing
// Gemini or spawning ffmpeg.
type Option func(*Server)

func WithDialer(d live.Dialer) Option {
	return func(s *Server) { s.dialer = d }
}

// WithEncoder sets the compressed-audio encoder and skips the ffmpeg probe.
// A nil encoder sends every turn as WAV.
func WithEncoder(e audio.Encoder) Option {
	return func(s *Server) {
		s.codec = audio.Codec{Encoder: e}
		s.encoderSet = true
		s.encoderErr = nil
		if e == nil {
			s.encoderErr = audio.ErrEncoderUnavailable
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) { s.tracer = telemetry.Tracer(tp) }
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		mux:          http.NewServeMux(),
		tracer:       telemetry.Tracer(nil),
		lifecycle:    &lifecycle.Lifecycle{},
		liveSessions: sessions.NewTracker(),
		limiter: ratelimit.New(ratelimit.Config{
			SessionRate:             cfg.LiveSessionRate,
			SessionBurst:            cfg.LiveSessionBurst,
			MaxSessionsPerPrincipal: cfg.LiveMaxSessionsPerClient,
			MaxSessions:             cfg.LiveMaxSessions,
		}),
	}
	if cfg.MetricsEnabled {
		s.metrics = metrics.New("")
	}
	for _, opt := range opts {
		opt(s)
	}
	if !s.encoderSet {
		s.codec, s.encoderErr = s.defaultCodec()
	}
	if s.dialer == nil {
		s.dialer = s.defaultDialer()
	}
	if s.encoderErr != nil {
		logger.Warn("mp3 encoder unavailable, turns will be sent as wav", "error", s.encoderErr)
	}

	s.routes()
	return s
}

func (s *Server) defaultDialer() live.Dialer {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
	return gemini.New(s.cfg.GeminiAPIKey,
		gemini.WithHTTPClient(httpClient),
		gemini.WithAPIVersion(s.cfg.GeminiAPIVersion),
		gemini.WithBaseURL(s.cfg.GeminiBaseURL),
	)
}

// defaultCodec probes ffmpeg once at startup. Without it the codec has no
// encoder and every turn takes the WAV fallback.
func (s *Server) defaultCodec() (audio.Codec, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := audio.CheckFFmpeg(ctx, s.cfg.FFmpegPath); err != nil {
		return audio.Codec{}, err
	}
	return audio.Codec{Encoder: audio.NewFFmpegEncoder(audio.FFmpegConfig{
		Path:    s.cfg.FFmpegPath,
		Timeout: s.cfg.FFmpegTimeout,
		Bitrate: s.cfg.MP3Bitrate,
	})}, nil
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", otelhttp.NewHandler(handlers.HealthHandler{}, "healthz"))
	s.mux.Handle("/readyz", otelhttp.NewHandler(handlers.ReadyHandler{
		Config:       s.cfg,
		Lifecycle:    s.lifecycle,
		LiveSessions: s.liveSessions,
		EncoderErr:   s.encoderErr,
	}, "readyz"))
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}

	// The live route is not wrapped by otelhttp: the upgrade needs the raw
	// http.Hijacker and each session records its own span.
	s.mux.Handle("/v1/live", handlers.LiveHandler{
		Config:       s.cfg,
		Dialer:       s.dialer,
		Codec:        s.codec,
		Logger:       s.logger,
		Metrics:      s.metrics,
		Tracer:       s.tracer,
		Limiter:      s.limiter,
		Lifecycle:    s.lifecycle,
		LiveSessions: s.liveSessions,
	})
	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining flips readiness and makes /v1/live refuse new sessions.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// DrainLiveSessions asks every open session to end at its next turn boundary.
func (s *Server) DrainLiveSessions() int {
	return s.liveSessions.DrainAll()
}

func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.liveSessions.Wait(ctx)
}

func (s *Server) CancelLiveSessions() int {
	return s.liveSessions.CancelAll()
}

func (s *Server) LiveSessionCount() int {
	return s.liveSessions.Count()
}
