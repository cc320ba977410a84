// Package enginetest provides an in-memory model-loading service for tests.
package enginetest

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/book-expert/speech-service/internal/core"
)

var (
	// ErrFakeLoad is returned when a device is configured to fail binding.
	ErrFakeLoad = errors.New("fake load failure")
	// ErrFakeInfer is returned when inference is configured to fail.
	ErrFakeInfer = errors.New("fake inference failure")
)

// Call records one inference made against a fake model.
type Call struct {
	Seq        int
	Speaker    string
	Language   string
	Device     string
	SSML       string
	Voice      string
	SampleRate int
	Start      time.Time
	End        time.Time
}

// Loader is a fake core.ModelLoader. Models it produces synthesize a tone
// whose length is proportional to the input text, and record every call.
type Loader struct {
	mu sync.Mutex

	DeviceList        []core.Device
	DevicesShouldFail bool
	FailDevices       map[string]bool
	FailSpeakers      map[string]bool
	InferShouldFail   bool
	EmptyOutput       bool
	// InferDelay keeps each inference busy so overlaps would be visible.
	InferDelay time.Duration
	// Gate, when set, blocks every inference until it is closed.
	Gate chan struct{}

	calls  []Call
	loads  []core.LoadSpec
	closed int
	active int
	peak   int
}

// NewLoader returns a loader reporting an unavailable accelerator and a CPU.
func NewLoader() *Loader {
	return &Loader{
		DeviceList: []core.Device{
			{Name: "cuda", Accelerator: true, Available: false},
			{Name: "cpu", Accelerator: false, Available: true},
		},
		FailDevices:  map[string]bool{},
		FailSpeakers: map[string]bool{},
	}
}

// Devices implements core.ModelLoader.
func (l *Loader) Devices(_ context.Context) ([]core.Device, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.DevicesShouldFail {
		return nil, ErrFakeLoad
	}

	return append([]core.Device(nil), l.DeviceList...), nil
}

// Load implements core.ModelLoader.
func (l *Loader) Load(_ context.Context, spec core.LoadSpec) (core.ModelHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.loads = append(l.loads, spec)

	if l.FailDevices[spec.Device] || l.FailSpeakers[spec.Speaker] {
		return nil, ErrFakeLoad
	}

	return &model{loader: l, spec: spec}, nil
}

// Calls returns the recorded inferences in the order they started.
func (l *Loader) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]Call(nil), l.calls...)
}

// Loads returns every load request made so far.
func (l *Loader) Loads() []core.LoadSpec {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]core.LoadSpec(nil), l.loads...)
}

// Closed returns how many models have been released.
func (l *Loader) Closed() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.closed
}

// PeakConcurrency returns the highest number of simultaneous inferences seen.
func (l *Loader) PeakConcurrency() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.peak
}

// SetInferShouldFail toggles inference failures.
func (l *Loader) SetInferShouldFail(fail bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.InferShouldFail = fail
}

// SetFailSpeaker makes loading the given upstream speaker fail.
func (l *Loader) SetFailSpeaker(speaker string, fail bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.FailSpeakers[speaker] = fail
}

type model struct {
	loader *Loader
	spec   core.LoadSpec
}

func (m *model) Infer(ctx context.Context, ssml, voice string, sampleRate int) ([]float32, error) {
	l := m.loader

	l.mu.Lock()
	l.active++
	l.peak = max(l.peak, l.active)
	seq := len(l.calls)
	l.calls = append(l.calls, Call{
		Seq:        seq,
		Speaker:    m.spec.Speaker,
		Language:   m.spec.Language,
		Device:     m.spec.Device,
		SSML:       ssml,
		Voice:      voice,
		SampleRate: sampleRate,
		Start:      time.Now(),
	})
	gate := l.Gate
	delay := l.InferDelay
	fail := l.InferShouldFail
	empty := l.EmptyOutput
	l.mu.Unlock()

	if gate != nil {
		<-gate
	}

	if delay > 0 {
		time.Sleep(delay)
	}

	l.mu.Lock()
	l.calls[seq].End = time.Now()
	l.active--
	l.mu.Unlock()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if fail {
		return nil, ErrFakeInfer
	}

	if empty {
		return nil, nil
	}

	return Tone(len(ssml), sampleRate), nil
}

func (m *model) Close() error {
	m.loader.mu.Lock()
	defer m.loader.mu.Unlock()

	m.loader.closed++

	return nil
}

// Tone returns chars hundredths of a second of a 440 Hz tone at sampleRate.
func Tone(chars, sampleRate int) []float32 {
	n := chars * sampleRate / 100

	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
	}

	return samples
}
