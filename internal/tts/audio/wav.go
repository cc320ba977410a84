// Package audio converts between float sample buffers and PCM WAV containers.
//
// Synthesized audio travels as float samples in [-1, 1] inside the service
// and as 16-bit PCM WAV on the wire and on disk.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/book-expert/speech-service/internal/core"
)

// Output container settings.
const (
	DEFAULT_BIT_DEPTH = 16
	DEFAULT_CHANNELS  = 1
	PCM_FORMAT        = 1
	MAX_SAMPLE_RATE   = 192000
)

// ContentType is the MIME type of encoded artifacts.
const ContentType = "audio/wav"

// Errors for the audio package.
var (
	ErrInvalidWAV        = errors.New("invalid wav data")
	ErrUnsupportedFormat = errors.New("unsupported wav format")

	errInvalidSeek = errors.New("invalid seek")
)

// EncodeWAV writes buf to w as 16-bit mono PCM. Samples outside [-1, 1] are clipped.
func EncodeWAV(w io.WriteSeeker, buf core.SampleBuffer) error {
	if buf.SampleRate <= 0 || buf.SampleRate > MAX_SAMPLE_RATE {
		return fmt.Errorf("%w: sample rate must be between 1 and %d Hz, got %d", core.ErrInvalidAudioData, MAX_SAMPLE_RATE, buf.SampleRate)
	}

	encoder := wav.NewEncoder(w, buf.SampleRate, DEFAULT_BIT_DEPTH, DEFAULT_CHANNELS, PCM_FORMAT)

	intBuf := &goaudio.IntBuffer{
		Data:           toInt16Range(buf.Samples),
		Format:         &goaudio.Format{SampleRate: buf.SampleRate, NumChannels: DEFAULT_CHANNELS},
		SourceBitDepth: DEFAULT_BIT_DEPTH,
	}

	writeErr := encoder.Write(intBuf)
	if writeErr != nil {
		return fmt.Errorf("failed to encode wav: %w", writeErr)
	}

	closeErr := encoder.Close()
	if closeErr != nil {
		return fmt.Errorf("failed to finalize wav: %w", closeErr)
	}

	return nil
}

// WAVBytes encodes buf into an in-memory WAV file.
func WAVBytes(buf core.SampleBuffer) ([]byte, error) {
	var out memFile

	encodeErr := EncodeWAV(&out, buf)
	if encodeErr != nil {
		return nil, encodeErr
	}

	return out.data, nil
}

// memFile is an in-memory io.WriteSeeker. The encoder seeks back to patch
// the header sizes once the samples are written.
type memFile struct {
	data []byte
	pos  int64
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.data)) {
		m.data = append(m.data, make([]byte, end-int64(len(m.data)))...)
	}

	copy(m.data[m.pos:end], p)
	m.pos = end

	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var base int64

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = m.pos
	case io.SeekEnd:
		base = int64(len(m.data))
	default:
		return 0, fmt.Errorf("%w: whence %d", errInvalidSeek, whence)
	}

	next := base + offset
	if next < 0 {
		return 0, fmt.Errorf("%w: negative position %d", errInvalidSeek, next)
	}

	m.pos = next

	return next, nil
}

// DecodeWAV parses a PCM WAV file into float samples. Multi-channel input is
// mixed down to mono.
func DecodeWAV(data []byte) (core.SampleBuffer, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return core.SampleBuffer{}, ErrInvalidWAV
	}

	if decoder.WavAudioFormat != PCM_FORMAT {
		return core.SampleBuffer{}, fmt.Errorf("%w: audio format %d", ErrUnsupportedFormat, decoder.WavAudioFormat)
	}

	pcm, err := decoder.FullPCMBuffer()
	if err != nil {
		return core.SampleBuffer{}, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}

	channels := int(decoder.NumChans)
	if channels < 1 {
		return core.SampleBuffer{}, fmt.Errorf("%w: no channels", ErrInvalidWAV)
	}

	bitDepth := int(decoder.BitDepth)
	if bitDepth < 8 || bitDepth > 32 {
		return core.SampleBuffer{}, fmt.Errorf("%w: bit depth %d", ErrUnsupportedFormat, bitDepth)
	}

	return core.SampleBuffer{
		Samples:    mixDown(pcm.Data, channels, bitDepth),
		SampleRate: int(decoder.SampleRate),
	}, nil
}

func toInt16Range(samples []float32) []int {
	out := make([]int, len(samples))

	for i, sample := range samples {
		clamped := math.Max(-1.0, math.Min(1.0, float64(sample)))
		out[i] = int(clamped * math.MaxInt16)
	}

	return out
}

func mixDown(data []int, channels, bitDepth int) []float32 {
	// 8-bit WAV is unsigned; wider depths are signed.
	offset := 0.0
	if bitDepth == 8 {
		offset = 128
	}

	scale := math.Pow(2, float64(bitDepth-1))
	frames := len(data) / channels
	out := make([]float32, frames)

	for frame := range frames {
		var sum float64
		for channel := range channels {
			sum += (float64(data[frame*channels+channel]) - offset) / scale
		}

		out[frame] = float32(sum / float64(channels))
	}

	return out
}
