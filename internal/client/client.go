// Package client is a Go client for the speech-service HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultURL is where the service listens by default.
const DefaultURL = "http://localhost:8080"

var (
	// ErrTextEmpty is returned before any request is made for empty text.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrNoChunks is returned for an empty chunk list.
	ErrNoChunks = errors.New("no chunks to synthesize")
)

// APIError is a structured error returned by the service.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("speech service error (%d): %s", e.StatusCode, e.Message)
}

// SynthesizeRequest mirrors the POST /tts body.
type SynthesizeRequest struct {
	Text         string `json:"text"`
	Speaker      string `json:"speaker,omitempty"`
	EnhanceNoise *bool  `json:"enhance_noise,omitempty"`
	SampleRate   int    `json:"sample_rate,omitempty"`
}

// SynthesizeResponse mirrors the POST /tts reply.
type SynthesizeResponse struct {
	Success    bool    `json:"success"`
	Filename   string  `json:"filename"`
	Duration   float64 `json:"duration"`
	SampleRate int     `json:"sample_rate"`
	Language   string  `json:"language"`
	Model      string  `json:"model"`
	Speaker    string  `json:"speaker"`
}

// HealthResponse mirrors the GET /health reply.
type HealthResponse struct {
	Status string `json:"status"`
	Active struct {
		Language string `json:"language"`
		Model    string `json:"model"`
		Voice    string `json:"voice"`
	} `json:"active"`
	Pending int `json:"pending"`
}

// Client talks to one speech-service instance.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New creates a client for baseURL. The timeout applies to every request.
func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Health queries GET /health.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var health HealthResponse

	err := c.do(ctx, http.MethodGet, "/health", nil, &health)

	return health, err
}

// Synthesize queries POST /tts. The produced audio stays on the server
// until fetched with Download.
func (c *Client) Synthesize(ctx context.Context, req SynthesizeRequest) (SynthesizeResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return SynthesizeResponse{}, ErrTextEmpty
	}

	var resp SynthesizeResponse

	err := c.do(ctx, http.MethodPost, "/tts", req, &resp)

	return resp, err
}

// SynthesizeChunks sends every chunk with at most workers requests in
// flight. Responses are indexed like chunks.
func (c *Client) SynthesizeChunks(ctx context.Context, chunks []string, template SynthesizeRequest, workers int) ([]SynthesizeResponse, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	responses := make([]SynthesizeResponse, len(chunks))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(max(workers, 1))

	for i, chunk := range chunks {
		group.Go(func() error {
			req := template
			req.Text = chunk

			resp, err := c.Synthesize(groupCtx, req)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}

			responses[i] = resp

			return nil
		})
	}

	err := group.Wait()

	return responses, err
}

// Download fetches GET /audio/{filename} into dst and returns the bytes written.
func (c *Client) Download(ctx context.Context, filename, dst string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/audio/"+url.PathEscape(filename), http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to download %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, parseError(resp)
	}

	mkdirErr := os.MkdirAll(filepath.Dir(dst), 0o750)
	if mkdirErr != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", mkdirErr)
	}

	file, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dst, err)
	}

	written, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()

	if copyErr != nil {
		return written, fmt.Errorf("failed to write %s: %w", dst, copyErr)
	}

	if closeErr != nil {
		return written, fmt.Errorf("failed to close %s: %w", dst, closeErr)
	}

	return written, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	body := io.Reader(http.NoBody)

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}

		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach speech service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseError(resp)
	}

	decodeErr := json.NewDecoder(resp.Body).Decode(out)
	if decodeErr != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, decodeErr)
	}

	return nil
}

// parseError decodes the JSON error envelope, falling back to the raw body.
func parseError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)

	apiErr := &APIError{StatusCode: resp.StatusCode}

	if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}

	apiErr.StatusCode = resp.StatusCode

	return apiErr
}
