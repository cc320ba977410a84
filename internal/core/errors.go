package core

import "errors"

// Error categories. Every failure returned by the pipeline wraps exactly one
// of these so callers can tell them apart with errors.Is.
var (
	// ErrInvalidConfiguration marks unsupported language, model, voice or sample rate.
	ErrInvalidConfiguration = errors.New("invalid voice configuration")
	// ErrLoad marks a failure to fetch or bind the synthesis model.
	ErrLoad = errors.New("failed to load synthesis model")
	// ErrSynthesis marks an inference-time failure.
	ErrSynthesis = errors.New("speech synthesis failed")
	// ErrInvalidAudioData marks an empty or malformed sample buffer.
	ErrInvalidAudioData = errors.New("invalid audio data")
	// ErrIO marks an artifact persistence failure.
	ErrIO = errors.New("artifact i/o failed")
)
