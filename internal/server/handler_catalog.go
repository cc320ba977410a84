package server

import (
	"net/http"

	"github.com/book-expert/speech-service/internal/catalog"
	"github.com/book-expert/speech-service/internal/core"
)

type voicesResponse struct {
	Languages   map[string]map[string][]string `json:"languages"`
	SampleRates []int                          `json:"sample_rates"`
	Active      core.VoiceConfiguration        `json:"active"`
}

func (h *Handler) handleVoices(w http.ResponseWriter, r *http.Request) {
	languages := make(map[string]map[string][]string)

	for _, lang := range h.catalog.Languages() {
		models := make(map[string][]string)

		for _, model := range h.catalog.ModelsFor(lang) {
			models[model] = h.catalog.VoicesFor(lang, model)
		}

		languages[lang] = models
	}

	writeJson(w, http.StatusOK, voicesResponse{
		Languages:   languages,
		SampleRates: catalog.SampleRates(),
		Active:      h.synth.Active(),
	})
}

type healthResponse struct {
	Status  string                  `json:"status"`
	Active  core.VoiceConfiguration `json:"active"`
	Pending int                     `json:"pending"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJson(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Active:  h.synth.Active(),
		Pending: h.synth.Pending(),
	})
}
