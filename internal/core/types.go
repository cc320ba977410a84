package core

import "time"

// Default denoise parameters, matching the values the service has always shipped with.
const (
	DefaultInitialNoiseFrames = 3
	DefaultWindowSize         = 50
	DefaultNoiseThreshold     = 0.25
)

// VoiceConfiguration selects language, model variant and speaker voice.
type VoiceConfiguration struct {
	Language string `json:"language"`
	Model    string `json:"model"`
	Voice    string `json:"voice"`
}

// SynthesisRequest is a single caller's request. It is never shared across calls.
type SynthesisRequest struct {
	Text       string
	Voice      string
	SampleRate int
	Denoise    bool

	// Persist stores the result as an artifact. PersistAs names it; an empty
	// name gets a generated one.
	Persist   bool
	PersistAs string
}

// SampleBuffer is a mono sequence of float samples at a fixed rate.
type SampleBuffer struct {
	Samples    []float32
	SampleRate int
}

// Len returns the number of samples.
func (b SampleBuffer) Len() int {
	return len(b.Samples)
}

// Duration returns the playback length of the buffer.
func (b SampleBuffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}

	return time.Duration(float64(len(b.Samples)) / float64(b.SampleRate) * float64(time.Second))
}

// Seconds returns the playback length in seconds.
func (b SampleBuffer) Seconds() float64 {
	if b.SampleRate <= 0 {
		return 0
	}

	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// DenoiseParameters tune the noise reduction stage. They carry no cross-request state.
type DenoiseParameters struct {
	InitialNoiseFrames int     `toml:"initial_noise_frames"`
	WindowSize         int     `toml:"window_size"`
	NoiseThreshold     float64 `toml:"noise_threshold"`
}

// DefaultDenoiseParameters returns the stock noise reduction settings.
func DefaultDenoiseParameters() DenoiseParameters {
	return DenoiseParameters{
		InitialNoiseFrames: DefaultInitialNoiseFrames,
		WindowSize:         DefaultWindowSize,
		NoiseThreshold:     DefaultNoiseThreshold,
	}
}

// ArtifactRef identifies a persisted audio artifact.
type ArtifactRef struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Size     int64  `json:"size"`
}
