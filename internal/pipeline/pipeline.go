// Package pipeline is the synthesis request pipeline: it validates the
// request, normalizes markup, runs inference through the serialized engine,
// then denoises and persists outside the critical section.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/book-expert/speech-service/internal/catalog"
	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/denoise"
	"github.com/book-expert/speech-service/internal/engine"
	"github.com/book-expert/speech-service/internal/markup"
	"github.com/book-expert/speech-service/internal/objectstore"
)

const (
	instrumentationName = "github.com/book-expert/speech-service/internal/pipeline"
	artifactExtension   = ".wav"
)

// ErrNoArtifactStore is returned when persistence is requested but no store is configured.
var ErrNoArtifactStore = fmt.Errorf("%w: no artifact store configured", core.ErrIO)

// Reducer removes noise from a finished buffer. It must not retain or mutate its input.
type Reducer func(buf core.SampleBuffer, params core.DenoiseParameters) (core.SampleBuffer, error)

// Options configure the stages around the engine.
type Options struct {
	Denoise core.DenoiseParameters
	// Reducer defaults to denoise.Enhance.
	Reducer Reducer
	// Store receives persisted artifacts. Persisting without one fails.
	Store core.ArtifactStore
}

// Result is the outcome of one synthesis call.
type Result struct {
	Samples core.SampleBuffer
	// Configuration is the voice configuration that produced Samples, with
	// the voice actually used.
	Configuration core.VoiceConfiguration
	Artifact      *core.ArtifactRef
}

// Pipeline turns text into audio against a single loaded model.
type Pipeline struct {
	catalog    *catalog.Catalog
	adapter    *engine.Adapter
	serializer *engine.Serializer
	denoise    core.DenoiseParameters
	reducer    Reducer
	store      core.ArtifactStore
	log        *logger.Logger
	tracer     trace.Tracer
}

// New loads the initial configuration and returns a ready pipeline.
func New(ctx context.Context, cat *catalog.Catalog, adapter *engine.Adapter, initial core.VoiceConfiguration, opts Options, log *logger.Logger) (*Pipeline, error) {
	paramsErr := denoise.ValidateParameters(opts.Denoise)
	if paramsErr != nil {
		return nil, paramsErr
	}

	handle, err := adapter.Load(ctx, initial)
	if err != nil {
		return nil, err
	}

	reducer := opts.Reducer
	if reducer == nil {
		reducer = denoise.Enhance
	}

	return &Pipeline{
		catalog:    cat,
		adapter:    adapter,
		serializer: engine.NewSerializer(handle, log),
		denoise:    opts.Denoise,
		reducer:    reducer,
		store:      opts.Store,
		log:        log,
		tracer:     otel.Tracer(instrumentationName),
	}, nil
}

// ValidateConfiguration checks a voice configuration without touching the engine.
func (p *Pipeline) ValidateConfiguration(lang, model, voice string) error {
	return p.catalog.Validate(lang, model, voice)
}

// Active returns the configuration the next admitted call would use.
func (p *Pipeline) Active() core.VoiceConfiguration {
	cfg, _ := p.serializer.Active()

	return cfg
}

// Pending returns the number of calls waiting for the engine.
func (p *Pipeline) Pending() int {
	return p.serializer.Pending()
}

// Synthesize produces audio for req. An empty voice selects the active voice.
// The voice is checked against the configuration of the model that actually
// serves the call, so a reconfiguration queued ahead of it is honored.
func (p *Pipeline) Synthesize(ctx context.Context, req core.SynthesisRequest) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "synthesize")
	defer span.End()

	result, err := p.synthesize(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return nil, err
	}

	return result, nil
}

func (p *Pipeline) synthesize(ctx context.Context, req core.SynthesisRequest) (*Result, error) {
	rateErr := catalog.ValidateSampleRate(req.SampleRate)
	if rateErr != nil {
		return nil, rateErr
	}

	name, nameErr := p.artifactName(req)
	if nameErr != nil {
		return nil, nameErr
	}

	ssml := markup.Normalize(req.Text)
	started := time.Now()

	var used core.VoiceConfiguration

	buf, err := engine.WithEngine(ctx, p.serializer, func(ctx context.Context, handle *engine.Handle) (core.SampleBuffer, error) {
		used = handle.Config()
		if req.Voice != "" {
			used.Voice = req.Voice
		}

		validateErr := p.catalog.Validate(used.Language, used.Model, used.Voice)
		if validateErr != nil {
			return core.SampleBuffer{}, validateErr
		}

		return handle.Synthesize(ctx, ssml, used.Voice, req.SampleRate)
	})
	if err != nil {
		p.log.Error("Synthesis failed: %v", err)

		return nil, err
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("language", used.Language),
		attribute.String("model", used.Model),
		attribute.String("voice", used.Voice),
	)

	if req.Denoise {
		buf, err = p.reduce(ctx, buf)
		if err != nil {
			p.log.Error("Noise reduction failed: %v", err)

			return nil, err
		}
	}

	result := &Result{Samples: buf, Configuration: used}

	if req.Persist {
		ref, writeErr := p.store.Write(ctx, buf, name)
		if writeErr != nil {
			p.log.Error("Failed to persist artifact %s: %v", name, writeErr)

			return nil, writeErr
		}

		result.Artifact = &ref
	}

	p.log.Info("Synthesized %.2fs of audio (%s/%s/%s, %d Hz) in %s",
		buf.Seconds(), used.Language, used.Model, used.Voice, buf.SampleRate, time.Since(started).Round(time.Millisecond))

	return result, nil
}

// artifactName resolves the name a persisted result will be stored under.
func (p *Pipeline) artifactName(req core.SynthesisRequest) (string, error) {
	if !req.Persist {
		return "", nil
	}

	if p.store == nil {
		return "", ErrNoArtifactStore
	}

	if req.PersistAs == "" {
		return uuid.NewString() + artifactExtension, nil
	}

	nameErr := objectstore.ValidateName(req.PersistAs)
	if nameErr != nil {
		return "", nameErr
	}

	return req.PersistAs, nil
}

func (p *Pipeline) reduce(ctx context.Context, buf core.SampleBuffer) (core.SampleBuffer, error) {
	_, span := p.tracer.Start(ctx, "denoise")
	defer span.End()

	out, err := p.reducer(buf, p.denoise)
	if err != nil {
		if errors.Is(err, core.ErrInvalidAudioData) {
			return core.SampleBuffer{}, err
		}

		return core.SampleBuffer{}, fmt.Errorf("%w: %w", core.ErrInvalidAudioData, err)
	}

	return out, nil
}

// Reconfigure switches to (lang, model) with that model's default voice.
// It queues behind calls already waiting; calls queued after it use the new
// model. When loading fails the current model stays active.
func (p *Pipeline) Reconfigure(ctx context.Context, lang, model string) error {
	modelErr := p.catalog.ValidateModel(lang, model)
	if modelErr != nil {
		return modelErr
	}

	variant, err := p.catalog.Variant(lang, model)
	if err != nil {
		return err
	}

	return p.Configure(ctx, core.VoiceConfiguration{Language: lang, Model: model, Voice: variant.DefaultVoice})
}

// Configure switches to a fully specified voice configuration.
func (p *Pipeline) Configure(ctx context.Context, cfg core.VoiceConfiguration) error {
	ctx, span := p.tracer.Start(ctx, "reconfigure")
	defer span.End()

	validateErr := p.catalog.ValidateConfiguration(cfg)
	if validateErr != nil {
		return validateErr
	}

	p.log.Info("Reconfiguring to %s/%s/%s", cfg.Language, cfg.Model, cfg.Voice)

	err := p.serializer.Reconfigure(ctx, func(ctx context.Context) (*engine.Handle, error) {
		return p.adapter.Load(ctx, cfg)
	})
	if err != nil {
		span.RecordError(err)
		p.log.Error("Reconfiguration to %s/%s failed, keeping %s/%s: %v",
			cfg.Language, cfg.Model, p.Active().Language, p.Active().Model, err)

		return err
	}

	return nil
}

// Close waits for admitted and queued work ahead of it and releases the model.
func (p *Pipeline) Close(ctx context.Context) error {
	err := p.serializer.Close(ctx)
	if err != nil {
		return fmt.Errorf("failed to close pipeline: %w", err)
	}

	return nil
}
