package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/nativeflow/pkg/core/audio"
	"github.com/vango-go/nativeflow/pkg/core/live"
)

type Config struct {
	Addr string

	// If true, client identity may be derived from proxy headers like X-Forwarded-For.
	// This should only be enabled when the relay is deployed behind a trusted proxy/LB.
	TrustProxyHeaders bool

	// CORS / websocket origin allowlist.
	CORSAllowedOrigins map[string]struct{} // empty => same-origin or no Origin header only

	LogLevel string

	// Upstream (Gemini Live).
	GeminiAPIKey     string
	GeminiAPIVersion string
	GeminiBaseURL    string
	PolicyFile       string
	Policy           live.SessionPolicy

	// Live WebSocket mode (/v1/live).
	LiveHandshakeTimeout     time.Duration
	LiveDialTimeout          time.Duration
	LiveWSPingInterval       time.Duration
	LiveWSWriteTimeout       time.Duration
	LiveWSReadTimeout        time.Duration
	LiveMaxMessageBytes      int64
	LiveOutboundQueueSize    int
	LiveMaxSessions          int
	LiveMaxSessionsPerClient int
	LiveSessionRate          float64
	LiveSessionBurst         int

	// Audio conversion.
	FFmpegPath    string
	FFmpegTimeout time.Duration
	MP3Bitrate    string

	// Observability.
	MetricsEnabled bool
	OTLPEndpoint   string

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

var bitratePattern = regexp.MustCompile(`^[0-9]+k$`)

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                     envOr("NATIVEFLOW_ADDR", ":9083"),
		TrustProxyHeaders:        envBoolOr("NATIVEFLOW_TRUST_PROXY_HEADERS", false),
		CORSAllowedOrigins:       make(map[string]struct{}),
		LogLevel:                 strings.ToLower(envOr("NATIVEFLOW_LOG_LEVEL", "info")),
		GeminiAPIKey:             envOr("GOOGLE_API_KEY", strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))),
		GeminiAPIVersion:         envOr("NATIVEFLOW_GEMINI_API_VERSION", "v1alpha"),
		GeminiBaseURL:            envOr("NATIVEFLOW_GEMINI_BASE_URL", ""),
		PolicyFile:               envOr("NATIVEFLOW_POLICY_FILE", ""),
		LiveHandshakeTimeout:     envDurationOr("NATIVEFLOW_LIVE_HANDSHAKE_TIMEOUT", 10*time.Second),
		LiveDialTimeout:          envDurationOr("NATIVEFLOW_LIVE_DIAL_TIMEOUT", 15*time.Second),
		LiveWSPingInterval:       envDurationOr("NATIVEFLOW_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:       envDurationOr("NATIVEFLOW_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveWSReadTimeout:        envDurationOr("NATIVEFLOW_LIVE_WS_READ_TIMEOUT", 0),
		LiveMaxMessageBytes:      envInt64Or("NATIVEFLOW_LIVE_MAX_MESSAGE_BYTES", 4<<20), // 4 MiB, room for image frames
		LiveOutboundQueueSize:    envIntOr("NATIVEFLOW_LIVE_OUTBOUND_QUEUE_SIZE", 64),
		LiveMaxSessions:          envIntOr("NATIVEFLOW_LIVE_MAX_SESSIONS", 0),
		LiveMaxSessionsPerClient: envIntOr("NATIVEFLOW_LIVE_MAX_SESSIONS_PER_CLIENT", 2),
		LiveSessionRate:          envFloat64Or("NATIVEFLOW_LIVE_SESSION_RATE", 0.5),
		LiveSessionBurst:         envIntOr("NATIVEFLOW_LIVE_SESSION_BURST", 3),
		FFmpegPath:               envOr("NATIVEFLOW_FFMPEG_PATH", audio.DefaultFFmpegPath),
		FFmpegTimeout:            envDurationOr("NATIVEFLOW_FFMPEG_TIMEOUT", audio.DefaultFFmpegTimeout),
		MP3Bitrate:               envOr("NATIVEFLOW_MP3_BITRATE", audio.DefaultMP3Bitrate),
		MetricsEnabled:           envBoolOr("NATIVEFLOW_METRICS_ENABLED", true),
		OTLPEndpoint:             envOr("NATIVEFLOW_OTLP_ENDPOINT", ""),
		ReadHeaderTimeout:        envDurationOr("NATIVEFLOW_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:      envDurationOr("NATIVEFLOW_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("NATIVEFLOW_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("NATIVEFLOW_LOG_LEVEL must be one of debug|info|warn|error")
	}
	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("GOOGLE_API_KEY (or GEMINI_API_KEY) must be set")
	}
	if cfg.LiveHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("NATIVEFLOW_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.LiveDialTimeout <= 0 {
		return Config{}, fmt.Errorf("NATIVEFLOW_LIVE_DIAL_TIMEOUT must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("NATIVEFLOW_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("NATIVEFLOW_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSReadTimeout < 0 {
		return Config{}, fmt.Errorf("NATIVEFLOW_LIVE_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.LiveWSReadTimeout > 0 && cfg.LiveWSReadTimeout <= cfg.LiveWSPingInterval {
		return Config{}, fmt.Errorf("NATIVEFLOW_LIVE_WS_READ_TIMEOUT must be greater than NATIVEFLOW_LIVE_WS_PING_INTERVAL")
	}
	if cfg.LiveMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("NATIVEFLOW_LIVE_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveOutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("NATIVEFLOW_LIVE_OUTBOUND_QUEUE_SIZE must be > 0")
	}
	if cfg.LiveMaxSessions < 0 {
		return Config{}, fmt.Errorf("NATIVEFLOW_LIVE_MAX_SESSIONS must be >= 0")
	}
	if cfg.LiveMaxSessionsPerClient < 0 {
		return Config{}, fmt.Errorf("NATIVEFLOW_LIVE_MAX_SESSIONS_PER_CLIENT must be >= 0")
	}
	if cfg.LiveSessionRate < 0 {
		return Config{}, fmt.Errorf("NATIVEFLOW_LIVE_SESSION_RATE must be >= 0")
	}
	if cfg.LiveSessionBurst < 0 {
		return Config{}, fmt.Errorf("NATIVEFLOW_LIVE_SESSION_BURST must be >= 0")
	}
	if cfg.LiveSessionRate > 0 && cfg.LiveSessionBurst < 1 {
		return Config{}, fmt.Errorf("NATIVEFLOW_LIVE_SESSION_BURST must be >= 1 when NATIVEFLOW_LIVE_SESSION_RATE is set")
	}
	if cfg.FFmpegTimeout <= 0 {
		return Config{}, fmt.Errorf("NATIVEFLOW_FFMPEG_TIMEOUT must be > 0")
	}
	if !bitratePattern.MatchString(cfg.MP3Bitrate) {
		return Config{}, fmt.Errorf("NATIVEFLOW_MP3_BITRATE must look like 64k")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("NATIVEFLOW_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("NATIVEFLOW_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	policy, err := LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return Config{}, err
	}
	if model := envOr("NATIVEFLOW_LIVE_MODEL", ""); model != "" {
		policy.Model = model
	}
	if voice := envOr("NATIVEFLOW_LIVE_VOICE", ""); voice != "" {
		policy.Voice = voice
	}
	policy = policy.WithDefaults()
	if err := policy.Validate(); err != nil {
		return Config{}, fmt.Errorf("session policy: %w", err)
	}
	cfg.Policy = policy

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
