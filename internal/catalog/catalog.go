// Package catalog holds the static table of languages, model variants and
// voices the synthesis engine supports, and validates voice configurations
// against it.
package catalog

import (
	"fmt"
	"slices"
	"sort"

	"github.com/book-expert/speech-service/internal/core"
)

// Static errors. Each wraps core.ErrInvalidConfiguration.
var (
	ErrUnsupportedLanguage   = fmt.Errorf("%w: unsupported language", core.ErrInvalidConfiguration)
	ErrUnsupportedModel      = fmt.Errorf("%w: unsupported model", core.ErrInvalidConfiguration)
	ErrUnsupportedVoice      = fmt.Errorf("%w: unsupported voice", core.ErrInvalidConfiguration)
	ErrUnsupportedSampleRate = fmt.Errorf("%w: unsupported sample rate", core.ErrInvalidConfiguration)
)

// Supported output sample rates.
var sampleRates = []int{8000, 24000, 48000}

// Variant is a model variant registered for a language.
type Variant struct {
	// Upstream is the speaker id the model-loading service understands.
	Upstream     string
	DefaultVoice string
	Voices       []string
}

// Catalog is an immutable language -> model -> voices table. The zero value is
// empty; use Default or New.
type Catalog struct {
	languages map[string]map[string]Variant
}

var russianVoices = []string{"random", "kseniya", "baya", "aidar", "eugene", "xenia"}

// Default returns the catalog of the Silero voices the service ships with.
func Default() *Catalog {
	return New(map[string]map[string]Variant{
		"ru": {
			"v4":   {Upstream: "v4_ru", DefaultVoice: "xenia", Voices: russianVoices},
			"v3_1": {Upstream: "v3_1_ru", DefaultVoice: "xenia", Voices: russianVoices},
		},
		"en": {
			"v3":    {Upstream: "v3_en", DefaultVoice: "lj", Voices: []string{"random", "lj"}},
			"lj_v2": {Upstream: "lj_v2", DefaultVoice: "lj", Voices: []string{"random", "lj"}},
		},
		"de": {
			"v3":          {Upstream: "v3_de", DefaultVoice: "thorsten", Voices: []string{"random", "thorsten"}},
			"thorsten_v2": {Upstream: "thorsten_v2", DefaultVoice: "thorsten", Voices: []string{"random", "thorsten"}},
		},
	})
}

// New builds a catalog from a table. The table is copied.
func New(table map[string]map[string]Variant) *Catalog {
	languages := make(map[string]map[string]Variant, len(table))

	for lang, models := range table {
		copied := make(map[string]Variant, len(models))

		for model, variant := range models {
			variant.Voices = slices.Clone(variant.Voices)
			copied[model] = variant
		}

		languages[lang] = copied
	}

	return &Catalog{languages: languages}
}

// IsLanguageSupported reports whether lang is registered.
func (c *Catalog) IsLanguageSupported(lang string) bool {
	_, ok := c.languages[lang]

	return ok
}

// Languages returns the registered languages in sorted order.
func (c *Catalog) Languages() []string {
	langs := make([]string, 0, len(c.languages))
	for lang := range c.languages {
		langs = append(langs, lang)
	}

	sort.Strings(langs)

	return langs
}

// ModelsFor returns the model variants registered for lang, sorted. Unknown
// languages yield nil.
func (c *Catalog) ModelsFor(lang string) []string {
	models, ok := c.languages[lang]
	if !ok {
		return nil
	}

	ids := make([]string, 0, len(models))
	for id := range models {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// VoicesFor returns the voices registered for (lang, model).
func (c *Catalog) VoicesFor(lang, model string) []string {
	variant, ok := c.languages[lang][model]
	if !ok {
		return nil
	}

	return slices.Clone(variant.Voices)
}

// Variant returns the registered variant for (lang, model).
func (c *Catalog) Variant(lang, model string) (Variant, error) {
	err := c.ValidateModel(lang, model)
	if err != nil {
		return Variant{}, err
	}

	variant := c.languages[lang][model]
	variant.Voices = slices.Clone(variant.Voices)

	return variant, nil
}

// ValidateModel checks language then model.
func (c *Catalog) ValidateModel(lang, model string) error {
	models, ok := c.languages[lang]
	if !ok {
		return fmt.Errorf("%w: %q (supported: %v)", ErrUnsupportedLanguage, lang, c.Languages())
	}

	if _, ok := models[model]; !ok {
		return fmt.Errorf("%w: %q for language %q (supported: %v)", ErrUnsupportedModel, model, lang, c.ModelsFor(lang))
	}

	return nil
}

// Validate checks language, model and voice in that order and reports the
// first violation.
func (c *Catalog) Validate(lang, model, voice string) error {
	err := c.ValidateModel(lang, model)
	if err != nil {
		return err
	}

	variant := c.languages[lang][model]
	if !slices.Contains(variant.Voices, voice) {
		return fmt.Errorf("%w: %q for model %q (supported: %v)", ErrUnsupportedVoice, voice, model, variant.Voices)
	}

	return nil
}

// ValidateConfiguration is Validate over a core.VoiceConfiguration.
func (c *Catalog) ValidateConfiguration(cfg core.VoiceConfiguration) error {
	return c.Validate(cfg.Language, cfg.Model, cfg.Voice)
}

// ValidateSampleRate checks that rate is one the engine can produce.
func ValidateSampleRate(rate int) error {
	if !slices.Contains(sampleRates, rate) {
		return fmt.Errorf("%w: %d Hz (supported: %v)", ErrUnsupportedSampleRate, rate, sampleRates)
	}

	return nil
}

// SampleRates returns the supported output sample rates.
func SampleRates() []int {
	return slices.Clone(sampleRates)
}
