// Package audio turns raw 16-bit mono PCM into client-playable containers.
//
// The primary container is MP3 produced by an external Encoder. When no
// encoder is available, or encoding fails, the PCM is wrapped in a WAV
// header instead so the client always receives something playable.
package audio

import (
	"context"
	"encoding/base64"
	"errors"
	"time"
)

// Minimum sizes below which a turn's audio is treated as silence or a truncated fragment.
const (
	MinPCMBytes     = 1000
	MinDuration     = 100 * time.Millisecond
	MinEncodedBytes = 500
)

const (
	FormatMP3 = "mp3"
	FormatWAV = "wav"

	MIMETypeMP3 = "audio/mpeg"
	MIMETypeWAV = "audio/wav"
)

// Reason explains why Encode did not produce a compressed container.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonTooSmall
	ReasonEncoderUnavailable
	ReasonEncoderFailed
	ReasonInvalidInput
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "ok"
	case ReasonTooSmall:
		return "too_small"
	case ReasonEncoderUnavailable:
		return "encoder_unavailable"
	case ReasonEncoderFailed:
		return "encoder_failed"
	case ReasonInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Container is an encoded audio payload ready for transport. Levels describe
// the PCM it was built from.
type Container struct {
	Data       []byte
	Format     string
	MIMEType   string
	SampleRate int
	Duration   time.Duration
	Levels     Levels
}

// Base64 returns the standard base64 encoding of the container bytes.
func (c Container) Base64() string {
	return base64.StdEncoding.EncodeToString(c.Data)
}

// Result is the outcome of one Encode call. Container is nil when nothing
// playable was produced; Reason is ReasonNone only for the compressed path.
type Result struct {
	Container *Container
	Reason    Reason
	Err       error
}

// Fallback reports whether the container is the uncompressed WAV fallback.
func (r Result) Fallback() bool {
	return r.Container != nil && r.Container.Format == FormatWAV
}

// Codec converts PCM buffers into containers. It keeps no state between calls.
type Codec struct {
	Encoder Encoder
}

// Encode converts pcm sampled at sampleRate into a container.
func (c Codec) Encode(ctx context.Context, pcm []byte, sampleRate int) Result {
	if sampleRate <= 0 {
		return Result{Reason: ReasonInvalidInput, Err: ErrBadSampleRate}
	}
	// A dangling half sample cannot be played; drop it rather than the whole turn.
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	if len(pcm) < MinPCMBytes {
		return Result{Reason: ReasonTooSmall}
	}
	duration := PCMDuration(len(pcm), sampleRate)
	if duration < MinDuration {
		return Result{Reason: ReasonTooSmall}
	}
	levels := MeasureLevels(pcm)

	wav, err := PCMToWAV(pcm, sampleRate)
	if err != nil {
		return Result{Reason: ReasonInvalidInput, Err: err}
	}
	fallback := &Container{
		Data:       wav,
		Format:     FormatWAV,
		MIMEType:   MIMETypeWAV,
		SampleRate: sampleRate,
		Duration:   duration,
		Levels:     levels,
	}

	if c.Encoder == nil {
		return Result{Container: fallback, Reason: ReasonEncoderUnavailable, Err: ErrEncoderUnavailable}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	encoded, err := c.Encoder.Encode(ctx, wav)
	if err != nil {
		if errors.Is(err, ErrEncoderUnavailable) {
			return Result{Container: fallback, Reason: ReasonEncoderUnavailable, Err: err}
		}
		return Result{Container: fallback, Reason: ReasonEncoderFailed, Err: err}
	}
	if len(encoded) < MinEncodedBytes {
		return Result{Reason: ReasonTooSmall}
	}

	return Result{
		Container: &Container{
			Data:       encoded,
			Format:     c.Encoder.Format(),
			MIMEType:   c.Encoder.MIMEType(),
			SampleRate: sampleRate,
			Duration:   duration,
			Levels:     levels,
		},
		Reason: ReasonNone,
	}
}
