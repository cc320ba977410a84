// Package tts talks to the inference sidecar that hosts the pretrained
// speech models.
//
// The Go service orchestrates and the sidecar infers: models are bound to a
// device with one call, used for any number of synthesis calls, and released
// explicitly.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/book-expert/speech-service/internal/core"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiModels         = "/v1/models"
	apiDevices        = "/v1/devices"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Error messages.
const (
	errFmtServiceErrorWithCode = "%w (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "%w: %s, body: %s"
)

// Static errors.
var (
	ErrTextEmpty              = errors.New("text cannot be empty")
	ErrModelIDEmpty           = errors.New("model id cannot be empty")
	ErrUnexpectedContentType  = errors.New("unexpected content type")
	ErrReceivedEmptyAudio     = errors.New("received empty audio data")
	ErrServiceResponse        = errors.New("inference service error")
	ErrMissingModelIdentifier = errors.New("inference service returned no model id")
)

// HTTPClient is a client for the inference sidecar.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

// LoadModelRequest asks the sidecar to bind a model to a device.
type LoadModelRequest struct {
	Language string `json:"language"`
	Speaker  string `json:"speaker"`
	Device   string `json:"device"`
}

// LoadModelResponse identifies a bound model.
type LoadModelResponse struct {
	ModelID string `json:"model_id"`
	Device  string `json:"device"`
}

// SpeechRequest is the payload for one synthesis call.
type SpeechRequest struct {
	ModelID    string `json:"model_id"`
	SSMLText   string `json:"ssml_text"`
	Speaker    string `json:"speaker"`
	SampleRate int    `json:"sample_rate"`
	PutAccent  bool   `json:"put_accent"`
	PutYo      bool   `json:"put_yo"`
}

// DevicesResponse lists the compute devices known to the sidecar.
type DevicesResponse struct {
	Devices []core.Device `json:"devices"`
}

// ErrorResponse is a structured error reply from the sidecar.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewHTTPClient creates a client for the sidecar at baseURL
// (e.g. "http://localhost:8000"). The timeout applies to every request.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the sidecar address.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// GenerateSpeech runs one synthesis call and returns the WAV reply.
func (c *HTTPClient) GenerateSpeech(ctx context.Context, req SpeechRequest) ([]byte, error) {
	if req.SSMLText == "" {
		return nil, ErrTextEmpty
	}

	if req.ModelID == "" {
		return nil, ErrModelIDEmpty
	}

	resp, err := c.doJSON(ctx, http.MethodPost, apiGenerateSpeech, req, contentTypeWAV)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if !strings.HasPrefix(contentType, contentTypeWAV) {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrUnexpectedContentType, contentTypeWAV, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrReceivedEmptyAudio
	}

	return audioData, nil
}

// LoadModel binds a model and returns its id.
func (c *HTTPClient) LoadModel(ctx context.Context, req LoadModelRequest) (LoadModelResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, apiModels, req, contentTypeJSON)
	if err != nil {
		return LoadModelResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return LoadModelResponse{}, c.parseErrorResponse(resp)
	}

	var loaded LoadModelResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&loaded)
	if decodeErr != nil {
		return LoadModelResponse{}, fmt.Errorf("failed to decode load response: %w", decodeErr)
	}

	if loaded.ModelID == "" {
		return LoadModelResponse{}, ErrMissingModelIdentifier
	}

	return loaded, nil
}

// UnloadModel releases a bound model. Unknown ids are not an error.
func (c *HTTPClient) UnloadModel(ctx context.Context, modelID string) error {
	if modelID == "" {
		return ErrModelIDEmpty
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+apiModels+"/"+url.PathEscape(modelID), http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create unload request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send unload request to inference service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return c.parseErrorResponse(resp)
	}
}

// Devices lists the compute devices the sidecar can bind models to.
func (c *HTTPClient) Devices(ctx context.Context) ([]core.Device, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiDevices, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create devices request: %w", err)
	}

	req.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var devices DevicesResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&devices)
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode devices response: %w", decodeErr)
	}

	return devices.Devices, nil
}

// HealthCheck verifies that the sidecar is running.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, payload any, accept string) (*http.Response, error) {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, accept)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to inference service at %s: %w", c.baseURL, err)
	}

	return resp, nil
}

// parseErrorResponse decodes a structured error, falling back to the raw body.
func (c *HTTPClient) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, ErrServiceResponse, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, ErrServiceResponse, resp.Status, string(body))
}
