package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"time"
)

var (
	// ErrEncoderUnavailable means no compressed encoder can run on this host.
	ErrEncoderUnavailable = errors.New("audio encoder unavailable")
	ErrEncoderTimeout     = errors.New("audio encoder timed out")
)

const (
	DefaultFFmpegPath    = "ffmpeg"
	DefaultFFmpegTimeout = 10 * time.Second
	DefaultMP3Bitrate    = "64k"
)

// Encoder re-encodes a WAV container into a compressed container.
type Encoder interface {
	Encode(ctx context.Context, wav []byte) ([]byte, error)
	Format() string
	MIMEType() string
}

type FFmpegConfig struct {
	// Path is the ffmpeg binary. Empty uses "ffmpeg" from PATH.
	Path    string
	Timeout time.Duration
	Bitrate string
}

// FFmpegEncoder pipes WAV into an ffmpeg subprocess and reads MP3 back from stdout.
type FFmpegEncoder struct {
	cfg FFmpegConfig
}

func NewFFmpegEncoder(cfg FFmpegConfig) *FFmpegEncoder {
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = DefaultFFmpegPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFFmpegTimeout
	}
	if strings.TrimSpace(cfg.Bitrate) == "" {
		cfg.Bitrate = DefaultMP3Bitrate
	}
	return &FFmpegEncoder{cfg: cfg}
}

func (e *FFmpegEncoder) Format() string   { return FormatMP3 }
func (e *FFmpegEncoder) MIMEType() string { return MIMETypeMP3 }

func (e *FFmpegEncoder) Encode(ctx context.Context, wav []byte) ([]byte, error) {
	if e == nil {
		return nil, ErrEncoderUnavailable
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	//nolint:gosec // Path comes from operator configuration.
	cmd := exec.CommandContext(runCtx, e.cfg.Path, e.args()...)
	cmd.Stdin = bytes.NewReader(wav)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, ErrEncoderTimeout
		}
		if notFound(err) {
			return nil, fmt.Errorf("%w: %s not found", ErrEncoderUnavailable, e.cfg.Path)
		}
		return nil, fmt.Errorf("ffmpeg failed: %w, stderr: %s", err, lastLine(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func (e *FFmpegEncoder) args() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "wav",
		"-i", "pipe:0",
		"-vn",
		"-acodec", "libmp3lame",
		"-b:a", e.cfg.Bitrate,
		"-f", "mp3",
		"pipe:1",
	}
}

// CheckFFmpeg reports whether the configured ffmpeg binary can be executed.
func CheckFFmpeg(ctx context.Context, path string) error {
	if strings.TrimSpace(path) == "" {
		path = DefaultFFmpegPath
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := exec.CommandContext(ctx, path, "-version").Run(); err != nil {
		if notFound(err) {
			return ErrEncoderUnavailable
		}
		return fmt.Errorf("ffmpeg check failed: %w", err)
	}
	return nil
}

func notFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
