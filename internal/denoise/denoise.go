// Package denoise implements the post-synthesis noise reduction stage.
//
// The reducer works on fixed-size frames. The noise floor is estimated from
// the leading non-silent frames, each frame gets a Wiener-style gain against that
// estimate, and frames judged to be noise keep refining the estimate. Gains
// are interpolated across frame boundaries so the output has no steps.
// Enhance is a pure function of its inputs and is safe to call concurrently.
package denoise

import (
	"errors"
	"fmt"
	"math"

	"github.com/book-expert/speech-service/internal/core"
)

// noiseSmoothing weighs the previous noise estimate when a frame is classified as noise.
const noiseSmoothing = 0.98

// ErrInvalidParameters is returned for out-of-range denoise parameters.
var ErrInvalidParameters = errors.New("invalid denoise parameters")

// Enhance returns a noise-reduced copy of buf. The input is never modified
// and the output has the same length and sample rate.
func Enhance(buf core.SampleBuffer, params core.DenoiseParameters) (core.SampleBuffer, error) {
	bufErr := validateBuffer(buf)
	if bufErr != nil {
		return core.SampleBuffer{}, bufErr
	}

	paramsErr := ValidateParameters(params)
	if paramsErr != nil {
		return core.SampleBuffer{}, paramsErr
	}

	gains := frameGains(buf.Samples, params)
	out := applyGains(buf.Samples, gains, params.WindowSize)

	return core.SampleBuffer{Samples: out, SampleRate: buf.SampleRate}, nil
}

// ValidateParameters checks that params describe a usable reducer.
func ValidateParameters(params core.DenoiseParameters) error {
	if params.InitialNoiseFrames < 1 {
		return fmt.Errorf("%w: initial noise frames must be positive, got %d", ErrInvalidParameters, params.InitialNoiseFrames)
	}

	if params.WindowSize < 1 {
		return fmt.Errorf("%w: window size must be positive, got %d", ErrInvalidParameters, params.WindowSize)
	}

	if math.IsNaN(params.NoiseThreshold) || params.NoiseThreshold < 0 || params.NoiseThreshold > 1 {
		return fmt.Errorf("%w: noise threshold must be within [0, 1], got %f", ErrInvalidParameters, params.NoiseThreshold)
	}

	return nil
}

func validateBuffer(buf core.SampleBuffer) error {
	if len(buf.Samples) == 0 {
		return fmt.Errorf("%w: empty sample buffer", core.ErrInvalidAudioData)
	}

	if buf.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", core.ErrInvalidAudioData, buf.SampleRate)
	}

	for i, sample := range buf.Samples {
		value := float64(sample)
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return fmt.Errorf("%w: non-finite sample at index %d", core.ErrInvalidAudioData, i)
		}
	}

	return nil
}

func frameGains(samples []float32, params core.DenoiseParameters) []float64 {
	frameLen := params.WindowSize
	numFrames := (len(samples) + frameLen - 1) / frameLen

	powers := make([]float64, numFrames)
	for i := range numFrames {
		powers[i] = framePower(samples, i*frameLen, frameLen)
	}

	noise := initialNoise(powers, params.InitialNoiseFrames)

	gains := make([]float64, numFrames)

	for i, power := range powers {
		gain := 1.0

		if noise > 0 {
			gain = 0
			if power > 0 {
				gain = math.Max(0, 1-noise/power)
			}
		}

		if gain < params.NoiseThreshold {
			noise = noiseSmoothing*noise + (1-noiseSmoothing)*power
		}

		gains[i] = gain
	}

	return gains
}

// initialNoise averages the first count frames that carry any energy.
// Digital silence ahead of the audio says nothing about the noise floor.
func initialNoise(powers []float64, count int) float64 {
	var (
		sum    float64
		frames int
	)

	for _, power := range powers {
		if frames == count {
			break
		}

		if power == 0 {
			continue
		}

		sum += power
		frames++
	}

	if frames == 0 {
		return 0
	}

	return sum / float64(frames)
}

func framePower(samples []float32, start, frameLen int) float64 {
	end := min(start+frameLen, len(samples))

	var sum float64

	for _, sample := range samples[start:end] {
		value := float64(sample)
		sum += value * value
	}

	return sum / float64(end-start)
}

func applyGains(samples []float32, gains []float64, frameLen int) []float32 {
	out := make([]float32, len(samples))

	for frame, gain := range gains {
		previous := gain
		if frame > 0 {
			previous = gains[frame-1]
		}

		start := frame * frameLen
		end := min(start+frameLen, len(samples))
		span := float64(end - start)

		for j := start; j < end; j++ {
			position := float64(j-start+1) / span
			interpolated := previous + (gain-previous)*position
			out[j] = float32(float64(samples[j]) * interpolated)
		}
	}

	return out
}
