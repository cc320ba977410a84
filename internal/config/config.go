// Package config provides the configuration structure for the speech-service.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"

	"github.com/book-expert/speech-service/internal/catalog"
	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/denoise"
)

// Defaults applied to unset values.
const (
	DefaultInferenceURL    = "http://127.0.0.1:8000"
	DefaultLanguage        = "ru"
	DefaultModel           = "v4"
	DefaultSampleRate      = 48000
	DefaultTimeoutSeconds  = 300
	DefaultWorkers         = 4
	DefaultListenAddress   = ":8080"
	DefaultRateLimit       = 5.0
	DefaultRateBurst       = 10
	DefaultOutputDir       = "output"
	DefaultAudioBucket     = "AUDIO_FILES"
	DefaultTextSubject     = "text.processed"
	DefaultAudioSubject    = "audio.chunk.created"
	DefaultWorkerQueueName = "speech-workers"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// NATSConfig holds the configuration for NATS. An empty URL disables the worker.
type NATSConfig struct {
	URL                      string `toml:"url"`
	QueueGroup               string `toml:"queue_group"`
	TextProcessedSubject     string `toml:"text_processed_subject"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
	AudioObjectStoreBucket   string `toml:"audio_object_store_bucket"`
}

// TTSServiceConfig selects the model, the inference sidecar and the
// per-request defaults.
type TTSServiceConfig struct {
	InferenceURL       string  `toml:"inference_url"`
	Language           string  `toml:"language"`
	Model              string  `toml:"model"`
	Voice              string  `toml:"voice"`
	SampleRate         int     `toml:"sample_rate"`
	Denoise            *bool   `toml:"denoise"`
	InitialNoiseFrames int     `toml:"initial_noise_frames"`
	WindowSize         int     `toml:"window_size"`
	NoiseThreshold     float64 `toml:"noise_threshold"`
	TimeoutSeconds     int     `toml:"timeout_seconds"`
	Workers            int     `toml:"workers"`
}

// ServerConfig holds the HTTP front end settings.
type ServerConfig struct {
	ListenAddress  string   `toml:"listen_address"`
	RateLimit      float64  `toml:"rate_limit"`
	RateBurst      int      `toml:"rate_burst"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	OutputDir   string `toml:"output_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS   NATSConfig       `toml:"nats"`
	TTS    TTSServiceConfig `toml:"tts_service"`
	Server ServerConfig     `toml:"server"`
	Paths  PathsConfig      `toml:"paths"`
}

// Load loads, defaults and validates the configuration for the speech-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	validateErr := cfg.Validate(catalog.Default())
	if validateErr != nil {
		return nil, validateErr
	}

	return &cfg, nil
}

// ApplyDefaults fills every unset value.
func (c *Config) ApplyDefaults() {
	c.applyTTSDefaults()

	if c.NATS.QueueGroup == "" {
		c.NATS.QueueGroup = DefaultWorkerQueueName
	}

	if c.NATS.TextProcessedSubject == "" {
		c.NATS.TextProcessedSubject = DefaultTextSubject
	}

	if c.NATS.AudioChunkCreatedSubject == "" {
		c.NATS.AudioChunkCreatedSubject = DefaultAudioSubject
	}

	if c.NATS.AudioObjectStoreBucket == "" {
		c.NATS.AudioObjectStoreBucket = DefaultAudioBucket
	}

	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = DefaultListenAddress
	}

	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = DefaultRateLimit
	}

	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = DefaultRateBurst
	}

	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}

	if c.Paths.OutputDir == "" {
		c.Paths.OutputDir = DefaultOutputDir
	}
}

func (c *Config) applyTTSDefaults() {
	defaults := core.DefaultDenoiseParameters()

	if c.TTS.InferenceURL == "" {
		c.TTS.InferenceURL = DefaultInferenceURL
	}

	if c.TTS.Language == "" {
		c.TTS.Language = DefaultLanguage
		if c.TTS.Model == "" {
			c.TTS.Model = DefaultModel
		}
	}

	if c.TTS.Voice == "" {
		variant, err := catalog.Default().Variant(c.TTS.Language, c.TTS.Model)
		if err == nil {
			c.TTS.Voice = variant.DefaultVoice
		}
	}

	if c.TTS.SampleRate == 0 {
		c.TTS.SampleRate = DefaultSampleRate
	}

	if c.TTS.Denoise == nil {
		enabled := true
		c.TTS.Denoise = &enabled
	}

	if c.TTS.InitialNoiseFrames == 0 {
		c.TTS.InitialNoiseFrames = defaults.InitialNoiseFrames
	}

	if c.TTS.WindowSize == 0 {
		c.TTS.WindowSize = defaults.WindowSize
	}

	if c.TTS.NoiseThreshold == 0 {
		c.TTS.NoiseThreshold = defaults.NoiseThreshold
	}

	if c.TTS.TimeoutSeconds == 0 {
		c.TTS.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if c.TTS.Workers == 0 {
		c.TTS.Workers = DefaultWorkers
	}
}

// Validate checks the voice configuration against cat and the numeric settings.
func (c *Config) Validate(cat *catalog.Catalog) error {
	voiceErr := cat.ValidateConfiguration(c.VoiceConfiguration())
	if voiceErr != nil {
		return fmt.Errorf("%w: [tts_service]: %w", ErrInvalidConfig, voiceErr)
	}

	rateErr := catalog.ValidateSampleRate(c.TTS.SampleRate)
	if rateErr != nil {
		return fmt.Errorf("%w: [tts_service]: %w", ErrInvalidConfig, rateErr)
	}

	paramsErr := denoise.ValidateParameters(c.DenoiseParameters())
	if paramsErr != nil {
		return fmt.Errorf("%w: [tts_service]: %w", ErrInvalidConfig, paramsErr)
	}

	if c.TTS.TimeoutSeconds < 0 || c.TTS.Workers < 0 {
		return fmt.Errorf("%w: [tts_service]: timeout_seconds and workers must not be negative", ErrInvalidConfig)
	}

	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("%w: [server]: rate_limit and rate_burst must not be negative", ErrInvalidConfig)
	}

	return nil
}

// VoiceConfiguration returns the configured initial voice.
func (c *Config) VoiceConfiguration() core.VoiceConfiguration {
	return core.VoiceConfiguration{
		Language: c.TTS.Language,
		Model:    c.TTS.Model,
		Voice:    c.TTS.Voice,
	}
}

// DenoiseParameters returns the configured noise reduction settings.
func (c *Config) DenoiseParameters() core.DenoiseParameters {
	return core.DenoiseParameters{
		InitialNoiseFrames: c.TTS.InitialNoiseFrames,
		WindowSize:         c.TTS.WindowSize,
		NoiseThreshold:     c.TTS.NoiseThreshold,
	}
}

// DenoiseByDefault reports whether requests that do not say otherwise are denoised.
func (c *Config) DenoiseByDefault() bool {
	return c.TTS.Denoise == nil || *c.TTS.Denoise
}

// Timeout returns the inference sidecar request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TTS.TimeoutSeconds) * time.Second
}
