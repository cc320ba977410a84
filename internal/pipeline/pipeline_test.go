// Package pipeline_test exercises the synthesis pipeline against an
// in-memory model service.
package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-service/internal/catalog"
	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/engine"
	"github.com/book-expert/speech-service/internal/engine/enginetest"
	"github.com/book-expert/speech-service/internal/objectstore"
	"github.com/book-expert/speech-service/internal/pipeline"
)

var ruConfig = core.VoiceConfiguration{Language: "ru", Model: "v4", Voice: "xenia"}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "pipeline-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	return testLogger
}

func newPipeline(t *testing.T, loader *enginetest.Loader, opts pipeline.Options) *pipeline.Pipeline {
	t.Helper()

	if opts.Denoise == (core.DenoiseParameters{}) {
		opts.Denoise = core.DefaultDenoiseParameters()
	}

	log := newTestLogger(t)
	cat := catalog.Default()

	p, err := pipeline.New(context.Background(), cat, engine.NewAdapter(loader, cat, log), ruConfig, opts, log)
	require.NoError(t, err)

	t.Cleanup(func() { _ = p.Close(context.Background()) })

	return p
}

func request(text, voice string) core.SynthesisRequest {
	return core.SynthesisRequest{Text: text, Voice: voice, SampleRate: 48000}
}

func TestSynthesize_RussianXeniaScenario(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, enginetest.NewLoader(), pipeline.Options{})

	require.NoError(t, p.ValidateConfiguration("ru", "v4", "xenia"))

	result, err := p.Synthesize(context.Background(), core.SynthesisRequest{
		Text:       "Hello",
		Voice:      "xenia",
		SampleRate: 48000,
		Denoise:    true,
	})
	require.NoError(t, err)

	require.NotZero(t, result.Samples.Len())
	assert.Equal(t, 48000, result.Samples.SampleRate)
	assert.InDelta(t, float64(result.Samples.Len())/48000, result.Samples.Seconds(), 1e-9)
	assert.InDelta(t, result.Samples.Seconds(), result.Samples.Duration().Seconds(), 1e-6)
	assert.Equal(t, ruConfig, result.Configuration)
	assert.Nil(t, result.Artifact)
}

func TestValidateConfiguration_NonexistentVoiceIsVoiceError(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, enginetest.NewLoader(), pipeline.Options{})

	err := p.ValidateConfiguration("ru", "v4", "nonexistent")
	require.ErrorIs(t, err, catalog.ErrUnsupportedVoice)
	require.NotErrorIs(t, err, catalog.ErrUnsupportedModel)
	require.ErrorIs(t, err, core.ErrInvalidConfiguration)
}

func TestSynthesize_EmptyTextIsWellFormed(t *testing.T) {
	t.Parallel()

	loader := enginetest.NewLoader()
	p := newPipeline(t, loader, pipeline.Options{})

	result, err := p.Synthesize(context.Background(), request("   ", ""))
	require.NoError(t, err)
	assert.Equal(t, 48000, result.Samples.SampleRate)
	assert.Equal(t, "<speak></speak>", loader.Calls()[0].SSML)
}

func TestSynthesize_EmptyEngineOutputIsSynthesisError(t *testing.T) {
	t.Parallel()

	loader := enginetest.NewLoader()
	loader.EmptyOutput = true
	p := newPipeline(t, loader, pipeline.Options{})

	_, err := p.Synthesize(context.Background(), request("", ""))
	require.ErrorIs(t, err, core.ErrSynthesis)
}

func TestSynthesize_NormalizesMarkupAndDefaultsVoice(t *testing.T) {
	t.Parallel()

	loader := enginetest.NewLoader()
	p := newPipeline(t, loader, pipeline.Options{})

	_, err := p.Synthesize(context.Background(), request("  Привет  ", ""))
	require.NoError(t, err)

	_, err = p.Synthesize(context.Background(), request("<speak>Пока</speak>", "baya"))
	require.NoError(t, err)

	calls := loader.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "<speak>Привет</speak>", calls[0].SSML)
	assert.Equal(t, "xenia", calls[0].Voice)
	assert.Equal(t, "<speak>Пока</speak>", calls[1].SSML)
	assert.Equal(t, "baya", calls[1].Voice)
	assert.Equal(t, "v4_ru", calls[1].Speaker)
}

func TestSynthesize_ValidationBeforeEngine(t *testing.T) {
	t.Parallel()

	loader := enginetest.NewLoader()
	p := newPipeline(t, loader, pipeline.Options{})

	_, err := p.Synthesize(context.Background(), core.SynthesisRequest{Text: "x", SampleRate: 44100})
	require.ErrorIs(t, err, catalog.ErrUnsupportedSampleRate)

	_, err = p.Synthesize(context.Background(), request("x", "lj"))
	require.ErrorIs(t, err, catalog.ErrUnsupportedVoice)

	_, err = p.Synthesize(context.Background(), core.SynthesisRequest{
		Text: "x", SampleRate: 48000, Persist: true, PersistAs: "x.wav",
	})
	require.ErrorIs(t, err, pipeline.ErrNoArtifactStore)
	require.ErrorIs(t, err, core.ErrIO)

	assert.Empty(t, loader.Calls())
}

func TestSynthesize_ConcurrentCallsNeverOverlapAndKeepOrder(t *testing.T) {
	t.Parallel()

	const callers = 8

	loader := enginetest.NewLoader()
	loader.InferDelay = 2 * time.Millisecond
	loader.Gate = make(chan struct{})
	p := newPipeline(t, loader, pipeline.Options{})

	var wg sync.WaitGroup

	errs := make([]error, callers)

	for i := range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, errs[i] = p.Synthesize(context.Background(), request("call-"+string(rune('a'+i)), ""))
		}()

		if i == 0 {
			require.Eventually(t, func() bool { return len(loader.Calls()) == 1 }, 2*time.Second, time.Millisecond)
		} else {
			require.Eventually(t, func() bool { return p.Pending() == i }, 2*time.Second, time.Millisecond)
		}
	}

	close(loader.Gate)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	calls := loader.Calls()
	require.Len(t, calls, callers)
	assert.Equal(t, 1, loader.PeakConcurrency())

	for i, call := range calls {
		assert.Equal(t, "<speak>call-"+string(rune('a'+i))+"</speak>", call.SSML)

		if i > 0 {
			assert.False(t, call.Start.Before(calls[i-1].End), "call %d started before call %d ended", i, i-1)
		}
	}
}

func TestSynthesize_ReconfigureBetweenQueuedCalls(t *testing.T) {
	t.Parallel()

	loader := enginetest.NewLoader()
	loader.Gate = make(chan struct{})
	p := newPipeline(t, loader, pipeline.Options{})

	ctx := context.Background()

	type outcome struct {
		result *pipeline.Result
		err    error
	}

	outcomes := make([]outcome, 5)

	var wg sync.WaitGroup

	enqueue := func(slot int, req core.SynthesisRequest) {
		wg.Add(1)

		go func() {
			defer wg.Done()

			result, err := p.Synthesize(ctx, req)
			outcomes[slot] = outcome{result: result, err: err}
		}()
	}

	// Holds the engine until the gate opens.
	enqueue(0, request("blocker", ""))
	require.Eventually(t, func() bool { return len(loader.Calls()) == 1 }, 2*time.Second, time.Millisecond)

	enqueue(1, request("earlier", ""))
	require.Eventually(t, func() bool { return p.Pending() == 1 }, 2*time.Second, time.Millisecond)

	enqueue(2, request("earlier english voice", "lj"))
	require.Eventually(t, func() bool { return p.Pending() == 2 }, 2*time.Second, time.Millisecond)

	reconfigured := make(chan error, 1)

	go func() { reconfigured <- p.Reconfigure(ctx, "en", "v3") }()
	require.Eventually(t, func() bool { return p.Pending() == 3 }, 2*time.Second, time.Millisecond)

	enqueue(3, request("later", "lj"))
	require.Eventually(t, func() bool { return p.Pending() == 4 }, 2*time.Second, time.Millisecond)

	enqueue(4, request("later default", ""))
	require.Eventually(t, func() bool { return p.Pending() == 5 }, 2*time.Second, time.Millisecond)

	close(loader.Gate)
	wg.Wait()
	require.NoError(t, <-reconfigured)

	require.NoError(t, outcomes[0].err)
	require.NoError(t, outcomes[1].err)
	assert.Equal(t, ruConfig, outcomes[1].result.Configuration)

	require.ErrorIs(t, outcomes[2].err, catalog.ErrUnsupportedVoice)

	enConfig := core.VoiceConfiguration{Language: "en", Model: "v3", Voice: "lj"}

	require.NoError(t, outcomes[3].err)
	assert.Equal(t, enConfig, outcomes[3].result.Configuration)
	require.NoError(t, outcomes[4].err)
	assert.Equal(t, enConfig, outcomes[4].result.Configuration)

	languages := make([]string, 0, 4)
	for _, call := range loader.Calls() {
		languages = append(languages, call.Language)
	}

	assert.Equal(t, []string{"ru", "ru", "en", "en"}, languages)
	assert.Equal(t, enConfig, p.Active())
	assert.Equal(t, 1, loader.Closed())
}

func TestSynthesize_QueuedCallCanBeCancelled(t *testing.T) {
	t.Parallel()

	loader := enginetest.NewLoader()
	loader.Gate = make(chan struct{})
	p := newPipeline(t, loader, pipeline.Options{})

	blocked := make(chan error, 1)

	go func() {
		_, err := p.Synthesize(context.Background(), request("blocker", ""))
		blocked <- err
	}()
	require.Eventually(t, func() bool { return len(loader.Calls()) == 1 }, 2*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Synthesize(ctx, request("never runs", ""))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, p.Pending())

	close(loader.Gate)
	require.NoError(t, <-blocked)
	assert.Len(t, loader.Calls(), 1)
}

func TestReconfigure_LoadFailureKeepsCurrentModel(t *testing.T) {
	t.Parallel()

	loader := enginetest.NewLoader()
	loader.SetFailSpeaker("v3_en", true)
	p := newPipeline(t, loader, pipeline.Options{})

	err := p.Reconfigure(context.Background(), "en", "v3")
	require.ErrorIs(t, err, core.ErrLoad)
	assert.Equal(t, ruConfig, p.Active())

	result, err := p.Synthesize(context.Background(), request("still russian", ""))
	require.NoError(t, err)
	assert.Equal(t, ruConfig, result.Configuration)
	assert.Zero(t, loader.Closed())
}

func TestReconfigure_RejectsUnknownModelWithoutLoading(t *testing.T) {
	t.Parallel()

	loader := enginetest.NewLoader()
	p := newPipeline(t, loader, pipeline.Options{})

	loadsBefore := len(loader.Loads())

	require.ErrorIs(t, p.Reconfigure(context.Background(), "en", "v4"), catalog.ErrUnsupportedModel)
	require.ErrorIs(t, p.Reconfigure(context.Background(), "fr", "v3"), catalog.ErrUnsupportedLanguage)
	require.ErrorIs(t, p.Configure(context.Background(), core.VoiceConfiguration{Language: "de", Model: "v3", Voice: "lj"}), catalog.ErrUnsupportedVoice)

	assert.Len(t, loader.Loads(), loadsBefore)
}

func TestSynthesize_EngineFailureDoesNotPoisonModel(t *testing.T) {
	t.Parallel()

	loader := enginetest.NewLoader()
	p := newPipeline(t, loader, pipeline.Options{})

	loader.SetInferShouldFail(true)

	_, err := p.Synthesize(context.Background(), request("boom", ""))
	require.ErrorIs(t, err, core.ErrSynthesis)

	loader.SetInferShouldFail(false)

	_, err = p.Synthesize(context.Background(), request("fine", ""))
	require.NoError(t, err)
}

func TestSynthesize_DenoiseStage(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		calls int
	)

	reducer := func(buf core.SampleBuffer, params core.DenoiseParameters) (core.SampleBuffer, error) {
		mu.Lock()
		calls++
		mu.Unlock()

		assert.Equal(t, core.DefaultDenoiseParameters(), params)

		return core.SampleBuffer{Samples: make([]float32, buf.Len()), SampleRate: buf.SampleRate}, nil
	}

	p := newPipeline(t, enginetest.NewLoader(), pipeline.Options{Reducer: reducer})

	plain, err := p.Synthesize(context.Background(), request("tone", ""))
	require.NoError(t, err)
	assert.NotZero(t, plain.Samples.Samples[1])

	req := request("tone", "")
	req.Denoise = true

	reduced, err := p.Synthesize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, plain.Samples.Len(), reduced.Samples.Len())
	assert.Zero(t, reduced.Samples.Samples[1])

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, 1, calls)
}

func TestSynthesize_DenoiseFailureIsInvalidAudio(t *testing.T) {
	t.Parallel()

	reducer := func(core.SampleBuffer, core.DenoiseParameters) (core.SampleBuffer, error) {
		return core.SampleBuffer{}, errors.New("reducer broke")
	}

	p := newPipeline(t, enginetest.NewLoader(), pipeline.Options{Reducer: reducer})

	req := request("tone", "")
	req.Denoise = true

	_, err := p.Synthesize(context.Background(), req)
	require.ErrorIs(t, err, core.ErrInvalidAudioData)
}

func TestNew_RejectsBadDenoiseParameters(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)
	cat := catalog.Default()
	loader := enginetest.NewLoader()

	_, err := pipeline.New(context.Background(), cat, engine.NewAdapter(loader, cat, log), ruConfig,
		pipeline.Options{Denoise: core.DenoiseParameters{InitialNoiseFrames: 0, WindowSize: 50, NoiseThreshold: 0.25}}, log)
	require.Error(t, err)
	assert.Empty(t, loader.Loads())
}

func TestSynthesize_PersistsArtifacts(t *testing.T) {
	t.Parallel()

	store, err := objectstore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	loader := enginetest.NewLoader()
	p := newPipeline(t, loader, pipeline.Options{Store: store})

	req := request("keep me", "")
	req.Persist = true

	generated, err := p.Synthesize(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, generated.Artifact)
	assert.True(t, strings.HasSuffix(generated.Artifact.Name, ".wav"))

	_, parseErr := uuid.Parse(strings.TrimSuffix(generated.Artifact.Name, ".wav"))
	require.NoError(t, parseErr)

	req.PersistAs = "named.wav"

	named, err := p.Synthesize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Dir(), "named.wav"), named.Artifact.Location)

	_, statErr := os.Stat(named.Artifact.Location)
	require.NoError(t, statErr)

	callsBefore := len(loader.Calls())
	req.PersistAs = "../escape.wav"

	_, err = p.Synthesize(context.Background(), req)
	require.ErrorIs(t, err, objectstore.ErrInvalidArtifactName)
	assert.Len(t, loader.Calls(), callsBefore)
}

func TestSynthesizeBatch(t *testing.T) {
	t.Parallel()

	loader := enginetest.NewLoader()
	loader.InferDelay = time.Millisecond
	p := newPipeline(t, loader, pipeline.Options{})

	reqs := make([]core.SynthesisRequest, 6)
	for i := range reqs {
		reqs[i] = request(strings.Repeat("x", i+1), "")
		reqs[i].Denoise = true
	}

	results, err := p.SynthesizeBatch(context.Background(), reqs, 3)
	require.NoError(t, err)
	require.Len(t, results, len(reqs))

	for i, result := range results {
		require.NotNil(t, result)
		assert.Equal(t, len(enginetest.Tone(len("<speak></speak>")+i+1, 48000)), result.Samples.Len())
	}

	assert.Equal(t, 1, loader.PeakConcurrency())
}

func TestSynthesizeBatch_ReportsFirstError(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, enginetest.NewLoader(), pipeline.Options{})

	reqs := []core.SynthesisRequest{request("ok", ""), {Text: "bad", SampleRate: 1}}

	_, err := p.SynthesizeBatch(context.Background(), reqs, 1)
	require.ErrorIs(t, err, catalog.ErrUnsupportedSampleRate)
}

func TestClose_RejectsLaterCalls(t *testing.T) {
	t.Parallel()

	loader := enginetest.NewLoader()
	p := newPipeline(t, loader, pipeline.Options{})

	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, 1, loader.Closed())

	_, err := p.Synthesize(context.Background(), request("late", ""))
	require.ErrorIs(t, err, engine.ErrClosed)
}
