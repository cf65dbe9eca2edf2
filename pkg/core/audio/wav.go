package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// PCM layout produced by the upstream and accepted by the codec.
const (
	BitsPerSample = 16
	Channels      = 1

	// WAVHeaderSize is the size of the canonical RIFF/WAVE header written by PCMToWAV.
	WAVHeaderSize = 44

	wavFormatPCM = 1
)

var (
	ErrOddLength      = errors.New("pcm length is not a whole number of samples")
	ErrBadSampleRate  = errors.New("sample rate must be > 0")
	ErrTooLarge       = errors.New("pcm data exceeds wav size limit")
	ErrNotWAV         = errors.New("not a riff/wave container")
	ErrTruncatedWAV   = errors.New("wav header truncated")
	ErrUnsupportedWAV = errors.New("unsupported wav format")
)

// WAVHeader is the decoded fmt/data description of a PCM WAV container.
type WAVHeader struct {
	AudioFormat   uint16
	Channels      int
	SampleRate    int
	ByteRate      int
	BlockAlign    int
	BitsPerSample int
	DataLen       int
}

// Duration returns the playback length of the data chunk.
func (h WAVHeader) Duration() time.Duration {
	if h.ByteRate <= 0 {
		return 0
	}
	return time.Duration(int64(h.DataLen) * int64(time.Second) / int64(h.ByteRate))
}

// PCMToWAV wraps 16-bit mono PCM in a 44-byte RIFF/WAVE header.
func PCMToWAV(pcm []byte, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, ErrBadSampleRate
	}
	if len(pcm)%2 != 0 {
		return nil, ErrOddLength
	}
	if uint64(len(pcm))+36 > uint64(^uint32(0)) {
		return nil, ErrTooLarge
	}

	dataLen := len(pcm)
	byteRate := sampleRate * Channels * BitsPerSample / 8
	blockAlign := Channels * BitsPerSample / 8

	out := make([]byte, WAVHeaderSize, WAVHeaderSize+dataLen)

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataLen))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(out[22:24], uint16(Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], uint16(BitsPerSample))

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataLen))

	return append(out, pcm...), nil
}

// ParseWAVHeader decodes the header of a canonical PCM WAV container.
// Only the 44-byte layout written by PCMToWAV is understood.
func ParseWAVHeader(data []byte) (WAVHeader, error) {
	if len(data) < WAVHeaderSize {
		return WAVHeader{}, ErrTruncatedWAV
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return WAVHeader{}, ErrNotWAV
	}
	if string(data[12:16]) != "fmt " || string(data[36:40]) != "data" {
		return WAVHeader{}, ErrUnsupportedWAV
	}

	h := WAVHeader{
		AudioFormat:   binary.LittleEndian.Uint16(data[20:22]),
		Channels:      int(binary.LittleEndian.Uint16(data[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(data[24:28])),
		ByteRate:      int(binary.LittleEndian.Uint32(data[28:32])),
		BlockAlign:    int(binary.LittleEndian.Uint16(data[32:34])),
		BitsPerSample: int(binary.LittleEndian.Uint16(data[34:36])),
		DataLen:       int(binary.LittleEndian.Uint32(data[40:44])),
	}
	if h.AudioFormat != wavFormatPCM {
		return WAVHeader{}, fmt.Errorf("%w: format tag %d", ErrUnsupportedWAV, h.AudioFormat)
	}
	if h.DataLen > len(data)-WAVHeaderSize {
		return WAVHeader{}, ErrTruncatedWAV
	}
	return h, nil
}

// PCMDuration returns the playback length of 16-bit mono PCM at sampleRate.
func PCMDuration(pcmLen, sampleRate int) time.Duration {
	if sampleRate <= 0 || pcmLen <= 0 {
		return 0
	}
	bytesPerSecond := int64(sampleRate) * Channels * BitsPerSample / 8
	return time.Duration(int64(pcmLen) * int64(time.Second) / bytesPerSecond)
}
