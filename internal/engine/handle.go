package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/speech-service/internal/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Handle is a loaded model bound to one voice configuration and one device.
// A Handle is never reconfigured; a new one replaces it. Synthesize must only
// be reached through a Serializer.
type Handle struct {
	config   core.VoiceConfiguration
	device   string
	model    core.ModelHandle
	loadedAt time.Time
}

// Config returns the voice configuration the handle is bound to.
func (h *Handle) Config() core.VoiceConfiguration {
	return h.config
}

// Device returns the compute device the model is bound to.
func (h *Handle) Device() string {
	return h.device
}

// LoadedAt returns when the model was bound.
func (h *Handle) LoadedAt() time.Time {
	return h.loadedAt
}

// Synthesize runs one inference pass. Failures are wrapped in core.ErrSynthesis
// and are not retried.
func (h *Handle) Synthesize(ctx context.Context, ssml, voice string, sampleRate int) (core.SampleBuffer, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "infer "+h.config.Model)
	defer span.End()

	span.SetAttributes(
		attribute.String("voice", voice),
		attribute.Int("sample_rate", sampleRate),
	)

	samples, err := h.model.Infer(ctx, ssml, voice, sampleRate)
	if err != nil {
		return core.SampleBuffer{}, fmt.Errorf("%w: %w", core.ErrSynthesis, err)
	}

	if len(samples) == 0 {
		return core.SampleBuffer{}, fmt.Errorf("%w: engine returned no audio", core.ErrSynthesis)
	}

	return core.SampleBuffer{Samples: samples, SampleRate: sampleRate}, nil
}

func (h *Handle) close() error {
	err := h.model.Close()
	if err != nil {
		return fmt.Errorf("failed to release model %s/%s: %w", h.config.Language, h.config.Model, err)
	}

	return nil
}
