package tts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/tts/audio"
)

// UnloadTimeout bounds how long releasing a model may take.
const UnloadTimeout = 10 * time.Second

// ErrSampleRateMismatch is returned when the sidecar answers at a rate other
// than the one requested.
var ErrSampleRateMismatch = errors.New("sample rate mismatch")

// Loader implements core.ModelLoader on top of the inference sidecar.
type Loader struct {
	client    *HTTPClient
	putAccent bool
	putYo     bool
}

// NewLoader returns a loader using client. Automatic stress marks and
// "yo" restoration are enabled on every synthesis call.
func NewLoader(client *HTTPClient) *Loader {
	return &Loader{client: client, putAccent: true, putYo: true}
}

// Devices implements core.ModelLoader.
func (l *Loader) Devices(ctx context.Context) ([]core.Device, error) {
	return l.client.Devices(ctx)
}

// Load implements core.ModelLoader.
func (l *Loader) Load(ctx context.Context, spec core.LoadSpec) (core.ModelHandle, error) {
	loaded, err := l.client.LoadModel(ctx, LoadModelRequest{
		Language: spec.Language,
		Speaker:  spec.Speaker,
		Device:   spec.Device,
	})
	if err != nil {
		return nil, err
	}

	return &remoteModel{
		client:    l.client,
		modelID:   loaded.ModelID,
		putAccent: l.putAccent,
		putYo:     l.putYo,
	}, nil
}

// remoteModel is a model bound inside the sidecar.
type remoteModel struct {
	client    *HTTPClient
	modelID   string
	putAccent bool
	putYo     bool
}

func (m *remoteModel) Infer(ctx context.Context, ssml, voice string, sampleRate int) ([]float32, error) {
	data, err := m.client.GenerateSpeech(ctx, SpeechRequest{
		ModelID:    m.modelID,
		SSMLText:   ssml,
		Speaker:    voice,
		SampleRate: sampleRate,
		PutAccent:  m.putAccent,
		PutYo:      m.putYo,
	})
	if err != nil {
		return nil, err
	}

	decoded, decodeErr := audio.DecodeWAV(data)
	if decodeErr != nil {
		return nil, decodeErr
	}

	if decoded.SampleRate != sampleRate {
		return nil, fmt.Errorf("%w: requested %d Hz, got %d Hz", ErrSampleRateMismatch, sampleRate, decoded.SampleRate)
	}

	return decoded.Samples, nil
}

func (m *remoteModel) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), UnloadTimeout)
	defer cancel()

	return m.client.UnloadModel(ctx, m.modelID)
}
