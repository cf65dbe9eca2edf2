package audio

import (
	"encoding/binary"
	"math"
	"mime"
	"strconv"
	"strings"
)

const MIMETypePCM = "audio/pcm"

// SilencePeakDBFS is the peak level at or below which a turn counts as silent.
const SilencePeakDBFS = -60.0

// Levels summarizes the loudness of a 16-bit little-endian PCM buffer.
// RMS and Peak are linear, 0 is digital silence and 1 is full scale.
type Levels struct {
	RMS     float64
	Peak    float64
	Samples int
}

// MeasureLevels scans pcm once. A trailing odd byte is ignored.
func MeasureLevels(pcm []byte) Levels {
	n := len(pcm) / 2
	if n == 0 {
		return Levels{}
	}
	var sumSquares float64
	var peak int32
	for i := 0; i < n; i++ {
		v := int32(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
		sumSquares += float64(v) * float64(v)
	}
	return Levels{
		RMS:     math.Sqrt(sumSquares/float64(n)) / fullScale,
		Peak:    float64(peak) / fullScale,
		Samples: n,
	}
}

const fullScale = 32768.0

// PeakDBFS is the peak level in decibels relative to full scale. Digital
// silence reports -Inf.
func (l Levels) PeakDBFS() float64 {
	if l.Peak <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(l.Peak)
}

// Silent reports whether the buffer never rises above SilencePeakDBFS.
func (l Levels) Silent() bool {
	return l.PeakDBFS() <= SilencePeakDBFS
}

// IsPCM reports whether mimeType names raw PCM, with or without parameters.
func IsPCM(mimeType string) bool {
	base, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		base = strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	}
	return base == MIMETypePCM
}

// SampleRateFromMIME extracts the rate parameter from a PCM mime type such
// as "audio/pcm;rate=24000". def is returned when no usable rate is present.
func SampleRateFromMIME(mimeType string, def int) int {
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return def
	}
	raw, ok := params["rate"]
	if !ok {
		return def
	}
	rate, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || rate <= 0 {
		return def
	}
	return rate
}
