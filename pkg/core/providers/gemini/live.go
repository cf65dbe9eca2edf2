package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/vango-go/nativeflow/pkg/core/live"
)

const (
	DefaultAPIVersion    = "v1alpha"
	DefaultInputMIMEType = "audio/pcm;rate=16000"
)

// Provider dials Gemini Live sessions.
type Provider struct {
	apiKey        string
	apiVersion    string
	baseURL       string
	inputMIMEType string
	httpClient    *http.Client

	mu     sync.Mutex
	client *genai.Client

	// connect is replaced in tests.
	connect func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error)
}

// liveSession is the subset of *genai.Session used by the relay.
type liveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

// New creates a new Gemini Live provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:        apiKey,
		apiVersion:    DefaultAPIVersion,
		inputMIMEType: DefaultInputMIMEType,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.connect = p.genaiConnect
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "gemini"
}

// Dial opens one Live session configured by policy.
func (p *Provider) Dial(ctx context.Context, policy live.SessionPolicy) (live.Stream, error) {
	policy = policy.WithDefaults()
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	sess, err := p.connect(ctx, policy.Model, ConnectConfig(policy))
	if err != nil {
		return nil, fmt.Errorf("gemini live connect: %w", err)
	}
	return &stream{
		sess:          sess,
		inputMIMEType: p.inputMIMEType,
	}, nil
}

func (p *Provider) genaiConnect(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error) {
	client, err := p.genaiClient(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := client.Live.Connect(ctx, model, cfg)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (p *Provider) genaiClient(ctx context.Context) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	if strings.TrimSpace(p.apiKey) == "" {
		return nil, errors.New("gemini api key is not configured")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     p.apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: p.httpClient,
		HTTPOptions: genai.HTTPOptions{
			APIVersion: p.apiVersion,
			BaseURL:    p.baseURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	p.client = client
	return client, nil
}

// ConnectConfig builds the genai connect config for a session policy.
func ConnectConfig(policy live.SessionPolicy) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{}
	for _, m := range policy.ResponseModalities {
		cfg.ResponseModalities = append(cfg.ResponseModalities, genai.Modality(strings.ToUpper(strings.TrimSpace(m))))
	}
	if policy.Voice != "" || policy.LanguageCode != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{LanguageCode: policy.LanguageCode}
		if policy.Voice != "" {
			cfg.SpeechConfig.VoiceConfig = &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: policy.Voice},
			}
		}
	}
	if strings.TrimSpace(policy.SystemInstruction) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(policy.SystemInstruction, genai.RoleUser)
	}
	return cfg
}

type stream struct {
	sess          liveSession
	inputMIMEType string

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	// pending is touched only by the receiving goroutine.
	pending []live.Event
}

func (s *stream) Sender() live.Sender     { return sender{s: s} }
func (s *stream) Receiver() live.Receiver { return receiver{s: s} }

func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.sess.Close()
	})
	return s.closeErr
}

type sender struct{ s *stream }

func (w sender) SendAudio(data []byte, mimeType string) error {
	if mimeType == "" {
		mimeType = w.s.inputMIMEType
	}
	return w.send(genai.LiveRealtimeInput{Audio: &genai.Blob{Data: data, MIMEType: mimeType}})
}

func (w sender) SendImage(data []byte, mimeType string) error {
	return w.send(genai.LiveRealtimeInput{Video: &genai.Blob{Data: data, MIMEType: mimeType}})
}

func (w sender) send(input genai.LiveRealtimeInput) error {
	if w.s.closed.Load() {
		return live.ErrStreamClosed
	}
	if err := w.s.sess.SendRealtimeInput(input); err != nil {
		if w.s.closed.Load() {
			return live.ErrStreamClosed
		}
		return fmt.Errorf("gemini send: %w", err)
	}
	return nil
}

type receiver struct{ s *stream }

func (r receiver) Receive() (live.Event, error) {
	s := r.s
	for len(s.pending) == 0 {
		if s.closed.Load() {
			return nil, live.ErrStreamClosed
		}
		msg, err := s.sess.Receive()
		if err != nil {
			if s.closed.Load() {
				return nil, live.ErrStreamClosed
			}
			if isNormalClose(err) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("gemini receive: %w", err)
		}
		s.pending = EventsFromMessage(msg)
	}
	ev := s.pending[0]
	s.pending[0] = nil
	s.pending = s.pending[1:]
	return ev, nil
}

func isNormalClose(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// EventsFromMessage converts one Live server message into relay events.
// Parts keep their order; TurnComplete, when present, comes last.
func EventsFromMessage(msg *genai.LiveServerMessage) []live.Event {
	if msg == nil {
		return []live.Event{live.Unrecognized{Kind: "empty"}}
	}

	sc := msg.ServerContent
	if sc == nil {
		return []live.Event{live.Unrecognized{Kind: messageKind(msg)}}
	}

	var out []live.Event
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part == nil {
				continue
			}
			switch {
			case part.Thought:
				out = append(out, live.Unrecognized{Kind: "thought"})
			case part.InlineData != nil && len(part.InlineData.Data) > 0:
				if strings.HasPrefix(strings.ToLower(part.InlineData.MIMEType), "audio/") {
					out = append(out, live.AudioFragment{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType})
				} else {
					out = append(out, live.Unrecognized{Kind: "inline_data:" + part.InlineData.MIMEType})
				}
			case part.Text != "":
				out = append(out, live.TextFragment{Text: part.Text})
			default:
				out = append(out, live.Unrecognized{Kind: "part"})
			}
		}
	}
	if sc.TurnComplete {
		out = append(out, live.TurnComplete{})
	}
	if len(out) == 0 {
		kind := "server_content"
		switch {
		case sc.Interrupted:
			kind = "interrupted"
		case sc.GenerationComplete:
			kind = "generation_complete"
		case sc.InputTranscription != nil || sc.OutputTranscription != nil:
			kind = "transcription"
		}
		out = append(out, live.Unrecognized{Kind: kind})
	}
	return out
}

func messageKind(msg *genai.LiveServerMessage) string {
	switch {
	case msg.SetupComplete != nil:
		return "setup_complete"
	case msg.ToolCall != nil:
		return "tool_call"
	case msg.ToolCallCancellation != nil:
		return "tool_call_cancellation"
	case msg.GoAway != nil:
		return "go_away"
	case msg.SessionResumptionUpdate != nil:
		return "session_resumption_update"
	case msg.UsageMetadata != nil:
		return "usage_metadata"
	default:
		return "unknown"
	}
}
