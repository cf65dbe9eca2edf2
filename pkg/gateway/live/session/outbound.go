package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-go/nativeflow/pkg/core/audio"
	"github.com/vango-go/nativeflow/pkg/core/live"
	"github.com/vango-go/nativeflow/pkg/gateway/live/protocol"
	"github.com/vango-go/nativeflow/pkg/gateway/metrics"
)

// TurnState is the outbound relay's position within a model turn.
type TurnState int

const (
	TurnIdle TurnState = iota
	TurnAccumulating
	TurnDraining
)

func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnAccumulating:
		return "accumulating"
	case TurnDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Turn outcomes, as reported in logs and metrics.
const (
	outcomeCompressed = "compressed"
	outcomeFallback   = "fallback_wav"
	outcomeNoAudio    = "no_audio"
	outcomeDropped    = "dropped"
)

// outboundRelay moves upstream events to the client. It owns the turn
// accumulator and is the only producer for the client writer.
type outboundRelay struct {
	ctx     context.Context
	recv    live.Receiver
	out     frameQueue
	codec   audio.Codec
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	defaultSampleRate int

	// inTurn mirrors state != TurnIdle for readers outside the relay.
	inTurn   *atomic.Bool
	draining *atomic.Bool

	state    TurnState
	turn     live.Turn
	turnSpan trace.Span
	turns    int
}

func (r *outboundRelay) run() error {
	for {
		ev, err := r.recv.Receive()
		if err != nil {
			r.discardOpenTurn()
			if errors.Is(err, io.EOF) || errors.Is(err, live.ErrStreamClosed) {
				return nil
			}
			return fmt.Errorf("upstream receive: %w", err)
		}
		r.metrics.RecordUpstreamEvent(ev.EventType())
		if err := r.handle(ev); err != nil {
			r.discardOpenTurn()
			return err
		}
		if r.state == TurnIdle && r.draining != nil && r.draining.Load() {
			r.logger.Info("live session drained at turn boundary", "turns", r.turns)
			return nil
		}
	}
}

func (r *outboundRelay) handle(ev live.Event) error {
	switch e := ev.(type) {
	case live.TextFragment:
		r.beginTurn()
		r.turn.OnTextFragment(e.Text)
		return r.out.send(protocol.ServerText{Text: e.Text})
	case live.AudioFragment:
		r.beginTurn()
		r.metrics.RecordLiveAudio(metrics.DirectionOutbound, len(e.Data))
		if r.turn.OnAudioFragment(e.Data, e.MIMEType) {
			return r.out.send(protocol.ServerAudioStart{AudioStart: true})
		}
		return nil
	case live.TurnComplete:
		return r.completeTurn()
	case live.Unrecognized:
		r.logger.Debug("ignoring upstream message", "kind", e.Kind, "turn_state", r.state.String())
		return nil
	default:
		r.logger.Debug("ignoring upstream event", "type", ev.EventType())
		return nil
	}
}

func (r *outboundRelay) beginTurn() {
	if r.state != TurnIdle {
		return
	}
	r.setState(TurnAccumulating)
	_, r.turnSpan = r.tracer.Start(r.ctx, "live.turn", trace.WithAttributes(attribute.Int("turn.index", r.turns+1)))
}

// completeTurn converts the turn's audio, sends it when there is something
// playable, and always finishes with turn_complete.
func (r *outboundRelay) completeTurn() error {
	r.beginTurn()
	r.setState(TurnDraining)
	closed := r.turn.Close()
	r.turns++

	outcome, encodeTook, err := r.sendTurnAudio(closed)
	r.metrics.RecordTurn(outcome, encodeTook)
	r.logger.Info("turn complete",
		"turn", r.turns,
		"audio_bytes", len(closed.Audio),
		"text_bytes", len(closed.Text),
		"fragments", closed.Fragments,
		"outcome", outcome,
	)
	if err == nil {
		err = r.out.send(protocol.ServerTurnComplete{TurnComplete: true})
	}

	r.endTurnSpan(outcome, len(closed.Audio), err)
	r.setState(TurnIdle)
	return err
}

func (r *outboundRelay) sendTurnAudio(closed live.ClosedTurn) (string, time.Duration, error) {
	if len(closed.Audio) == 0 {
		return outcomeNoAudio, 0, nil
	}
	if len(closed.Audio) < audio.MinPCMBytes {
		r.logger.Debug("turn audio below threshold", "audio_bytes", len(closed.Audio))
		return outcomeDropped, 0, nil
	}

	rate := audio.SampleRateFromMIME(closed.MIMEType, r.defaultSampleRate)
	start := time.Now()
	res := r.codec.Encode(r.ctx, closed.Audio, rate)
	took := time.Since(start)

	if res.Container == nil {
		r.logger.Warn("turn audio dropped", "reason", res.Reason.String(), "audio_bytes", len(closed.Audio), "error", res.Err)
		return outcomeDropped, took, nil
	}

	msg := protocol.ServerAudio{Audio: res.Container.Base64()}
	outcome := outcomeCompressed
	if res.Fallback() {
		msg.Format = res.Container.Format
		outcome = outcomeFallback
		r.logger.Warn("audio compression unavailable, sending wav", "reason", res.Reason.String(), "error", res.Err)
	}
	levels := res.Container.Levels
	if r.turnSpan != nil {
		r.turnSpan.SetAttributes(
			attribute.Float64("turn.audio_peak", levels.Peak),
			attribute.Bool("turn.audio_silent", levels.Silent()),
		)
	}
	if levels.Silent() {
		r.metrics.RecordSilentTurn()
		r.logger.Info("turn audio is silent", "turn", r.turns, "audio_bytes", len(closed.Audio), "peak", levels.Peak)
	}
	r.logger.Debug("turn audio encoded",
		"format", res.Container.Format,
		"bytes", len(res.Container.Data),
		"duration_ms", res.Container.Duration.Milliseconds(),
		"rms", levels.RMS,
		"peak", levels.Peak,
	)
	return outcome, took, r.out.send(msg)
}

func (r *outboundRelay) endTurnSpan(outcome string, audioBytes int, err error) {
	if r.turnSpan == nil {
		return
	}
	r.turnSpan.SetAttributes(
		attribute.String("turn.outcome", outcome),
		attribute.Int("turn.audio_bytes", audioBytes),
	)
	if err != nil {
		r.turnSpan.RecordError(err)
		r.turnSpan.SetStatus(codes.Error, err.Error())
	}
	r.turnSpan.End()
	r.turnSpan = nil
}

// discardOpenTurn drops a turn that never received TurnComplete.
func (r *outboundRelay) discardOpenTurn() {
	if !r.turn.Open() {
		return
	}
	closed := r.turn.Close()
	r.logger.Info("discarding incomplete turn", "audio_bytes", len(closed.Audio), "text_bytes", len(closed.Text))
	r.metrics.RecordTurn("incomplete", 0)
	r.endTurnSpan("incomplete", len(closed.Audio), nil)
	r.setState(TurnIdle)
}

func (r *outboundRelay) setState(state TurnState) {
	r.state = state
	if r.inTurn != nil {
		r.inTurn.Store(state != TurnIdle)
	}
}
