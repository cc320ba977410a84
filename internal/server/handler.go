// Package server exposes the synthesis pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/book-expert/speech-service/internal/catalog"
	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/engine"
	"github.com/book-expert/speech-service/internal/objectstore"
	"github.com/book-expert/speech-service/internal/pipeline"
)

const (
	serviceName = "speech-service"

	// maxRateWait bounds how long a request waits for a rate limiter token.
	maxRateWait = 2 * time.Second
	// maxBodyBytes bounds request bodies.
	maxBodyBytes = 1 << 20
)

var (
	errTextRequired     = errors.New("text is required")
	errLanguageRequired = errors.New("language and model are required")
	errRateLimited      = errors.New("rate limit exceeded")
	errBadRequest       = errors.New("bad request")
)

// Synthesizer is the pipeline surface the HTTP front end needs.
type Synthesizer interface {
	Synthesize(ctx context.Context, req core.SynthesisRequest) (*pipeline.Result, error)
	Reconfigure(ctx context.Context, lang, model string) error
	Configure(ctx context.Context, cfg core.VoiceConfiguration) error
	Active() core.VoiceConfiguration
	Pending() int
}

// Defaults apply to requests that leave a field unset.
type Defaults struct {
	SampleRate int
	Denoise    bool
}

// Handler serves the speech API.
type Handler struct {
	synth    Synthesizer
	catalog  *catalog.Catalog
	store    core.ArtifactStore
	limiter  *rate.Limiter
	defaults Defaults
	log      *logger.Logger
}

// New returns a Handler. A nil limiter disables rate limiting.
func New(synth Synthesizer, cat *catalog.Catalog, store core.ArtifactStore, limiter *rate.Limiter, defaults Defaults, log *logger.Logger) *Handler {
	return &Handler{
		synth:    synth,
		catalog:  cat,
		store:    store,
		limiter:  limiter,
		defaults: defaults,
		log:      log,
	}
}

// Attach registers the API routes on r.
func (h *Handler) Attach(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Get("/voices", h.handleVoices)
	r.Get("/audio/{filename}", h.handleAudio)

	r.Group(func(r chi.Router) {
		r.Use(h.rateLimit)

		r.Post("/tts", h.handleSynthesize)
		r.Post("/reconfigure", h.handleReconfigure)
	})
}

// Router builds the complete HTTP handler: CORS, recovery, tracing and the API routes.
func (h *Handler) Router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	h.Attach(r)

	return otelhttp.NewHandler(r, serviceName)
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil {
			ctx, cancel := context.WithTimeout(r.Context(), maxRateWait)
			defer cancel()

			if err := h.limiter.Wait(ctx); err != nil {
				writeError(w, http.StatusTooManyRequests, errRateLimited)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`
}

func writeJson(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	enc.Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	text := http.StatusText(code)

	if err != nil {
		text = err.Error()
	}

	writeJson(w, code, errorResponse{
		Success:    false,
		StatusCode: code,
		Error:      text,
	})
}

// statusFor maps pipeline failures onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, errTextRequired),
		errors.Is(err, errLanguageRequired),
		errors.Is(err, core.ErrInvalidConfiguration),
		errors.Is(err, objectstore.ErrInvalidArtifactName):
		return http.StatusBadRequest
	case errors.Is(err, objectstore.ErrArtifactNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrLoad),
		errors.Is(err, engine.ErrClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrSynthesis),
		errors.Is(err, core.ErrInvalidAudioData):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)

	if code >= http.StatusInternalServerError {
		h.log.Error("%s %s failed: %v", r.Method, r.URL.Path, err)
	} else {
		h.log.Warn("%s %s rejected: %v", r.Method, r.URL.Path, err)
	}

	writeError(w, code, err)
}
