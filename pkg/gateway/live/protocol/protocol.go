package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/vango-go/nativeflow/pkg/core/audio"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// ClientSetup is the first frame of a session. Its contents are recorded but
// never change the upstream configuration.
type ClientSetup struct {
	Setup map[string]json.RawMessage `json:"setup,omitempty"`
}

// RedactedForLog returns the setup keys only; values may hold credentials.
func (s ClientSetup) RedactedForLog() map[string]any {
	keys := make([]string, 0, len(s.Setup))
	for k := range s.Setup {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 32 {
		keys = keys[:32]
	}
	return map[string]any{
		"has_setup":  s.Setup != nil,
		"setup_keys": keys,
	}
}

// DecodeSetup decodes the handshake frame. Any JSON object is accepted.
func DecodeSetup(data []byte) (ClientSetup, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ClientSetup{}, badRequest("setup frame must be a json object", "")
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return ClientSetup{}, badRequest("invalid json frame", "")
	}
	var out ClientSetup
	if setup, ok := raw["setup"]; ok && !isJSONNull(setup) {
		if err := json.Unmarshal(setup, &out.Setup); err != nil {
			return ClientSetup{}, badRequest("setup must be an object", "setup")
		}
	}
	return out, nil
}

type ChunkKind int

const (
	ChunkUnknown ChunkKind = iota
	ChunkAudio
	ChunkImage
)

// MediaChunk is one decoded media unit from a realtime_input frame.
type MediaChunk struct {
	MIMEType string
	Data     []byte
}

// Kind classifies the chunk by mime type.
func (c MediaChunk) Kind() ChunkKind {
	mt := strings.ToLower(strings.TrimSpace(c.MIMEType))
	switch {
	case audio.IsPCM(mt):
		return ChunkAudio
	case strings.HasPrefix(mt, "image/"):
		return ChunkImage
	default:
		return ChunkUnknown
	}
}

type wireChunk struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type wireRealtimeInput struct {
	RealtimeInput *struct {
		MediaChunks []wireChunk `json:"media_chunks"`
	} `json:"realtime_input"`
}

// DecodeRealtimeInput decodes a realtime_input frame into media chunks in
// frame order. A chunk whose data is not valid base64 is left out and
// reported in skipped; the rest of the frame still decodes. err is set only
// when the frame itself is unusable.
func DecodeRealtimeInput(data []byte) (chunks []MediaChunk, skipped []*DecodeError, err error) {
	var msg wireRealtimeInput
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, nil, badRequest("invalid json frame", "")
	}
	if msg.RealtimeInput == nil {
		return nil, nil, badRequest("missing realtime_input", "realtime_input")
	}

	chunks = make([]MediaChunk, 0, len(msg.RealtimeInput.MediaChunks))
	for i, c := range msg.RealtimeInput.MediaChunks {
		payload, derr := base64.StdEncoding.DecodeString(c.Data)
		if derr != nil {
			skipped = append(skipped, badRequest("media chunk data is not valid base64", fmt.Sprintf("realtime_input.media_chunks[%d].data", i)))
			continue
		}
		chunks = append(chunks, MediaChunk{MIMEType: strings.TrimSpace(c.MIMEType), Data: payload})
	}
	return chunks, skipped, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// Server-to-client messages.

type ServerAudioStart struct {
	AudioStart bool `json:"audio_start"`
}

type ServerText struct {
	Text string `json:"text"`
}

type ServerAudio struct {
	Audio string `json:"audio"`
	// Format is set only for the uncompressed fallback container.
	Format string `json:"format,omitempty"`
}

type ServerTurnComplete struct {
	TurnComplete bool `json:"turn_complete"`
}
