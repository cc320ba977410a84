package server

import (
	"net/http"
	"strings"

	"github.com/book-expert/speech-service/internal/core"
)

type synthesizeRequest struct {
	Text         string `json:"text"`
	Speaker      string `json:"speaker"`
	EnhanceNoise *bool  `json:"enhance_noise"`
	SampleRate   int    `json:"sample_rate"`
}

type synthesizeResponse struct {
	Success    bool    `json:"success"`
	Filename   string  `json:"filename"`
	Duration   float64 `json:"duration"`
	SampleRate int     `json:"sample_rate"`
	Language   string  `json:"language"`
	Model      string  `json:"model"`
	Speaker    string  `json:"speaker"`
}

func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var body synthesizeRequest

	if err := readJson(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}

	if strings.TrimSpace(body.Text) == "" {
		h.fail(w, r, errTextRequired)
		return
	}

	req := core.SynthesisRequest{
		Text:       body.Text,
		Voice:      body.Speaker,
		SampleRate: body.SampleRate,
		Denoise:    h.defaults.Denoise,
		Persist:    true,
	}

	if req.SampleRate == 0 {
		req.SampleRate = h.defaults.SampleRate
	}

	if body.EnhanceNoise != nil {
		req.Denoise = *body.EnhanceNoise
	}

	result, err := h.synth.Synthesize(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJson(w, http.StatusOK, synthesizeResponse{
		Success:    true,
		Filename:   result.Artifact.Name,
		Duration:   result.Samples.Seconds(),
		SampleRate: result.Samples.SampleRate,
		Language:   result.Configuration.Language,
		Model:      result.Configuration.Model,
		Speaker:    result.Configuration.Voice,
	})
}

type reconfigureRequest struct {
	Language string `json:"language"`
	Model    string `json:"model"`
	Voice    string `json:"voice,omitempty"`
}

type reconfigureResponse struct {
	Success       bool                    `json:"success"`
	Configuration core.VoiceConfiguration `json:"configuration"`
}

func (h *Handler) handleReconfigure(w http.ResponseWriter, r *http.Request) {
	var body reconfigureRequest

	if err := readJson(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}

	if body.Language == "" || body.Model == "" {
		h.fail(w, r, errLanguageRequired)
		return
	}

	var err error

	if body.Voice == "" {
		err = h.synth.Reconfigure(r.Context(), body.Language, body.Model)
	} else {
		err = h.synth.Configure(r.Context(), core.VoiceConfiguration{
			Language: body.Language,
			Model:    body.Model,
			Voice:    body.Voice,
		})
	}

	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJson(w, http.StatusOK, reconfigureResponse{
		Success:       true,
		Configuration: h.synth.Active(),
	})
}
