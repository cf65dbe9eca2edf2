package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"
)

func TestPCMToWAV_Header(t *testing.T) {
	pcm := tone(3200)
	wav, err := PCMToWAV(pcm, 16000)
	if err != nil {
		t.Fatalf("PCMToWAV: %v", err)
	}
	if len(wav) != WAVHeaderSize+len(pcm) {
		t.Fatalf("len=%d, want %d", len(wav), WAVHeaderSize+len(pcm))
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != uint32(36+len(pcm)) {
		t.Fatalf("riff size=%d", got)
	}

	h, err := ParseWAVHeader(wav)
	if err != nil {
		t.Fatalf("ParseWAVHeader: %v", err)
	}
	want := WAVHeader{
		AudioFormat:   1,
		Channels:      1,
		SampleRate:    16000,
		ByteRate:      32000,
		BlockAlign:    2,
		BitsPerSample: 16,
		DataLen:       3200,
	}
	if h != want {
		t.Fatalf("header=%+v, want %+v", h, want)
	}
	if h.Duration() != 100*time.Millisecond {
		t.Fatalf("duration=%v, want 100ms", h.Duration())
	}
}

func TestPCMToWAV_RejectsBadInput(t *testing.T) {
	if _, err := PCMToWAV(tone(10), 0); !errors.Is(err, ErrBadSampleRate) {
		t.Fatalf("err=%v, want ErrBadSampleRate", err)
	}
	if _, err := PCMToWAV(make([]byte, 11), 24000); !errors.Is(err, ErrOddLength) {
		t.Fatalf("err=%v, want ErrOddLength", err)
	}
}

func TestParseWAVHeader_Errors(t *testing.T) {
	wav, err := PCMToWAV(tone(100), 24000)
	if err != nil {
		t.Fatalf("PCMToWAV: %v", err)
	}

	if _, err := ParseWAVHeader(wav[:20]); !errors.Is(err, ErrTruncatedWAV) {
		t.Fatalf("short: err=%v", err)
	}
	if _, err := ParseWAVHeader(wav[:WAVHeaderSize+10]); !errors.Is(err, ErrTruncatedWAV) {
		t.Fatalf("cut data: err=%v", err)
	}

	bad := append([]byte(nil), wav...)
	copy(bad[0:4], "RIFX")
	if _, err := ParseWAVHeader(bad); !errors.Is(err, ErrNotWAV) {
		t.Fatalf("magic: err=%v", err)
	}

	float := append([]byte(nil), wav...)
	binary.LittleEndian.PutUint16(float[20:22], 3)
	if _, err := ParseWAVHeader(float); !errors.Is(err, ErrUnsupportedWAV) {
		t.Fatalf("format: err=%v", err)
	}
}

func TestPCMDuration(t *testing.T) {
	tests := []struct {
		n, rate int
		want    time.Duration
	}{
		{9600, 24000, 200 * time.Millisecond},
		{3200, 16000, 100 * time.Millisecond},
		{48000, 24000, time.Second},
		{0, 24000, 0},
		{100, 0, 0},
	}
	for _, tt := range tests {
		if got := PCMDuration(tt.n, tt.rate); got != tt.want {
			t.Errorf("PCMDuration(%d, %d)=%v, want %v", tt.n, tt.rate, got, tt.want)
		}
	}
}

func TestSampleRateFromMIME(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"audio/pcm;rate=24000", 24000},
		{"audio/pcm; rate=16000", 16000},
		{"audio/pcm", 24000},
		{"audio/pcm;rate=abc", 24000},
		{"audio/pcm;rate=-5", 24000},
		{"", 24000},
	}
	for _, tt := range tests {
		if got := SampleRateFromMIME(tt.in, 24000); got != tt.want {
			t.Errorf("SampleRateFromMIME(%q)=%d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestIsPCM(t *testing.T) {
	for _, mt := range []string{"audio/pcm", "audio/pcm;rate=16000", "AUDIO/PCM"} {
		if !IsPCM(mt) {
			t.Errorf("IsPCM(%q)=false", mt)
		}
	}
	for _, mt := range []string{"image/jpeg", "audio/wav", "", "audio/pcmx"} {
		if IsPCM(mt) {
			t.Errorf("IsPCM(%q)=true", mt)
		}
	}
}

func TestMeasureLevels(t *testing.T) {
	pcm := make([]byte, 9)
	for i, s := range []int16{16384, -16384, 16384, -32768} {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	got := MeasureLevels(pcm)
	if got.Samples != 4 {
		t.Fatalf("samples=%d, want 4", got.Samples)
	}
	if math.Abs(got.Peak-1) > 1e-9 {
		t.Fatalf("peak=%v, want 1", got.Peak)
	}
	if want := math.Sqrt((3*0.25 + 1) / 4); math.Abs(got.RMS-want) > 1e-9 {
		t.Fatalf("rms=%v, want %v", got.RMS, want)
	}
	if got.Silent() || got.PeakDBFS() != 0 {
		t.Fatalf("full scale reported silent=%v dbfs=%v", got.Silent(), got.PeakDBFS())
	}

	if l := MeasureLevels([]byte{1}); l.Samples != 0 || !l.Silent() || !math.IsInf(l.PeakDBFS(), -1) {
		t.Fatalf("empty input=%+v", l)
	}
}

func TestLevelsSilent_Threshold(t *testing.T) {
	tests := []struct {
		sample int16
		silent bool
	}{
		{0, true},
		{3, true},
		{32, true},
		{33, false},
		{1000, false},
	}
	for _, tt := range tests {
		pcm := make([]byte, 200)
		for i := 0; i < len(pcm); i += 4 {
			binary.LittleEndian.PutUint16(pcm[i:], uint16(tt.sample))
			binary.LittleEndian.PutUint16(pcm[i+2:], uint16(-tt.sample))
		}
		if got := MeasureLevels(pcm).Silent(); got != tt.silent {
			t.Errorf("sample=%d silent=%v, want %v", tt.sample, got, tt.silent)
		}
	}
}
