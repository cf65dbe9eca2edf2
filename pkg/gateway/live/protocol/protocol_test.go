package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecodeSetup(t *testing.T) {
	setup, err := DecodeSetup([]byte(`{"setup":{"model":"models/other","generation_config":{"response_modalities":["TEXT"]}}}`))
	if err != nil {
		t.Fatalf("DecodeSetup() error = %v", err)
	}
	red := setup.RedactedForLog()
	keys, _ := red["setup_keys"].([]string)
	if len(keys) != 2 || keys[0] != "generation_config" || keys[1] != "model" {
		t.Fatalf("setup_keys=%v", keys)
	}

	empty, err := DecodeSetup([]byte(`{}`))
	if err != nil {
		t.Fatalf("DecodeSetup({}) error = %v", err)
	}
	if empty.Setup != nil {
		t.Fatalf("setup=%v, want nil", empty.Setup)
	}
}

func TestDecodeSetup_Rejects(t *testing.T) {
	for _, raw := range []string{``, `[]`, `"hi"`, `{"setup":`, `{"setup":5}`} {
		_, err := DecodeSetup([]byte(raw))
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Fatalf("DecodeSetup(%q) err=%v, want DecodeError", raw, err)
		}
		if de.Code != "bad_request" {
			t.Fatalf("code=%q", de.Code)
		}
	}
}

func TestDecodeRealtimeInput(t *testing.T) {
	raw := []byte(`{"realtime_input":{"media_chunks":[
		{"mime_type":"audio/pcm","data":"AAEC"},
		{"mime_type":"image/jpeg","data":"/9j/"},
		{"mime_type":"application/x-future","data":""}
	]}}`)

	chunks, skipped, err := DecodeRealtimeInput(raw)
	if err != nil || len(skipped) != 0 {
		t.Fatalf("DecodeRealtimeInput() error = %v skipped=%v", err, skipped)
	}
	if len(chunks) != 3 {
		t.Fatalf("chunks=%d", len(chunks))
	}
	if chunks[0].Kind() != ChunkAudio || string(chunks[0].Data) != "\x00\x01\x02" {
		t.Fatalf("chunk0=%+v", chunks[0])
	}
	if chunks[1].Kind() != ChunkImage {
		t.Fatalf("chunk1 kind=%v", chunks[1].Kind())
	}
	if chunks[2].Kind() != ChunkUnknown {
		t.Fatalf("chunk2 kind=%v", chunks[2].Kind())
	}
}

func TestDecodeRealtimeInput_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		param string
	}{
		{name: "not json", raw: `nope`},
		{name: "setup frame", raw: `{"setup":{"model":"x"}}`, param: "realtime_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, _, err := DecodeRealtimeInput([]byte(tt.raw))
			if err == nil {
				t.Fatalf("expected error, got chunks=%v", chunks)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("err=%T", err)
			}
			if de.Param != tt.param {
				t.Fatalf("param=%q, want %q", de.Param, tt.param)
			}
		})
	}
}

func TestDecodeRealtimeInput_BadChunkKeepsSiblings(t *testing.T) {
	raw := `{"realtime_input":{"media_chunks":[` +
		`{"mime_type":"audio/pcm","data":"AAEC"},` +
		`{"mime_type":"image/jpeg","data":"!!!notbase64"},` +
		`{"mime_type":"image/png","data":"AQI="}]}}`

	chunks, skipped, err := DecodeRealtimeInput([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeRealtimeInput() error = %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("chunks=%d, want 2", len(chunks))
	}
	if chunks[0].Kind() != ChunkAudio || chunks[1].MIMEType != "image/png" {
		t.Fatalf("chunks=%+v", chunks)
	}
	if len(skipped) != 1 || skipped[0].Param != "realtime_input.media_chunks[1].data" {
		t.Fatalf("skipped=%v", skipped)
	}
}

func TestMediaChunkKind_PCMWithRate(t *testing.T) {
	if (MediaChunk{MIMEType: "audio/pcm;rate=16000"}).Kind() != ChunkAudio {
		t.Fatalf("audio/pcm with rate should be audio")
	}
	if (MediaChunk{MIMEType: "audio/wav"}).Kind() != ChunkUnknown {
		t.Fatalf("audio/wav is not forwarded")
	}
}

func TestServerMessages_WireShape(t *testing.T) {
	tests := []struct {
		msg  any
		want string
	}{
		{ServerAudioStart{AudioStart: true}, `{"audio_start":true}`},
		{ServerText{Text: "hola"}, `{"text":"hola"}`},
		{ServerAudio{Audio: "AAA="}, `{"audio":"AAA="}`},
		{ServerAudio{Audio: "AAA=", Format: "wav"}, `{"audio":"AAA=","format":"wav"}`},
		{ServerTurnComplete{TurnComplete: true}, `{"turn_complete":true}`},
	}
	for _, tt := range tests {
		b, err := json.Marshal(tt.msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if got := strings.TrimSpace(string(b)); got != tt.want {
			t.Fatalf("got %s, want %s", got, tt.want)
		}
	}
}
