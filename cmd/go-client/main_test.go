package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestParseFlags verifies that command-line flags are parsed correctly.
func TestParseFlags(t *testing.T) {
	t.Parallel()

	flags, err := parseFlags([]string{
		"--text", "Hello, world!",
		"--speaker", "baya",
		"--output", "hello.wav",
		"--url", "http://speech:9000",
		"--no-denoise",
		"--sample-rate", "24000",
		"--workers", "2",
		"--timeout", "30s",
	})
	if err != nil {
		t.Fatalf("parseFlags failed: %v", err)
	}

	expected := appFlags{
		text:       "Hello, world!",
		speaker:    "baya",
		output:     "hello.wav",
		url:        "http://speech:9000",
		noDenoise:  true,
		sampleRate: 24000,
		workers:    2,
		timeout:    30 * time.Second,
	}

	if flags != expected {
		t.Errorf("Expected flags %+v, got %+v", expected, flags)
	}

	defaults, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags failed: %v", err)
	}

	if defaults.workers != defaultWorkers || defaults.timeout != defaultTimeout || defaults.url == "" {
		t.Errorf("Unexpected defaults: %+v", defaults)
	}

	_, err = parseFlags([]string{"--bogus"})
	if err == nil {
		t.Error("Expected error for unknown flag")
	}
}

// TestArgumentValidation verifies required and conflicting arguments.
func TestArgumentValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		flags   appFlags
		wantErr error
	}{
		{"success with text flag", appFlags{text: "some text"}, nil},
		{"success with chunks flag", appFlags{chunks: "file.json"}, nil},
		{"error with both flags", appFlags{text: "some text", chunks: "file.json"}, ErrCannotSpecifyBoth},
		{"error with no flags", appFlags{}, ErrEitherTextOrChunks},
		{"error with non-wav output", appFlags{text: "x", output: "out.mp3"}, ErrOutputNotWAV},
		{"chunks output is a directory", appFlags{chunks: "file.json", output: "out"}, nil},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := validateArguments(testCase.flags)
			if !errors.Is(err, testCase.wantErr) {
				t.Errorf("Expected error %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

// TestRequestTemplate verifies that --no-denoise disables enhancement explicitly.
func TestRequestTemplate(t *testing.T) {
	t.Parallel()

	req := requestTemplate(appFlags{speaker: "aidar", sampleRate: 8000})
	if req.EnhanceNoise != nil || req.Speaker != "aidar" || req.SampleRate != 8000 {
		t.Errorf("Unexpected request template: %+v", req)
	}

	req = requestTemplate(appFlags{noDenoise: true})
	if req.EnhanceNoise == nil || *req.EnhanceNoise {
		t.Errorf("Expected enhance_noise=false, got %+v", req.EnhanceNoise)
	}
}

// TestLocalName verifies the default output name for --text.
func TestLocalName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"3f2c.wav":      "3f2c.wav",
		"../escape.wav": ".._escape.wav",
		"":              "output.wav",
		"..":            "output.wav",
		"notes.txt":     "output.wav",
	}

	for remote, want := range tests {
		if got := localName(remote); got != want {
			t.Errorf("localName(%q) = %q; want %q", remote, got, want)
		}
	}
}

func newMockService(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /tts", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}

		text, _ := body["text"].(string)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":  true,
			"filename": text + ".wav",
			"duration": 2.0,
		})
	})
	mux.HandleFunc("GET /audio/{filename}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFF:" + r.PathValue("filename")))
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","active":{"language":"ru","model":"v4","voice":"xenia"},"pending":0}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

// TestRun_SingleText synthesizes one text and downloads it.
func TestRun_SingleText(t *testing.T) {
	t.Parallel()

	server := newMockService(t)
	output := filepath.Join(t.TempDir(), "hello.wav")

	var stdout bytes.Buffer

	err := run([]string{"--url", server.URL, "--text", "hello", "--output", output}, &stdout)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("Failed to read output: %v", err)
	}

	if string(data) != "RIFF:hello.wav" {
		t.Errorf("Unexpected output contents %q", data)
	}

	if !strings.Contains(stdout.String(), "Generated: "+output) {
		t.Errorf("Unexpected stdout %q", stdout.String())
	}
}

// TestRun_Chunks synthesizes every chunk into numbered files.
func TestRun_Chunks(t *testing.T) {
	t.Parallel()

	server := newMockService(t)
	dir := t.TempDir()
	chunksPath := filepath.Join(dir, "chunks.json")
	outputDir := filepath.Join(dir, "audio")

	err := os.WriteFile(chunksPath, []byte(`["one","two","three"]`), 0o600)
	if err != nil {
		t.Fatalf("Failed to write chunks file: %v", err)
	}

	var stdout bytes.Buffer

	err = run([]string{"--url", server.URL, "--chunks", chunksPath, "--output", outputDir, "--workers", "2"}, &stdout)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	for i, chunk := range []string{"one", "two", "three"} {
		data, readErr := os.ReadFile(filepath.Join(outputDir, []string{"chunk_0000.wav", "chunk_0001.wav", "chunk_0002.wav"}[i]))
		if readErr != nil {
			t.Fatalf("Failed to read chunk %d: %v", i, readErr)
		}

		if string(data) != "RIFF:"+chunk+".wav" {
			t.Errorf("Chunk %d has contents %q", i, data)
		}
	}

	if !strings.Contains(stdout.String(), "Generated 3 audio files (6.0s)") {
		t.Errorf("Unexpected stdout %q", stdout.String())
	}
}

// TestRun_EmptyChunksFile rejects an empty chunk list.
func TestRun_EmptyChunksFile(t *testing.T) {
	t.Parallel()

	chunksPath := filepath.Join(t.TempDir(), "chunks.json")

	err := os.WriteFile(chunksPath, []byte(`[]`), 0o600)
	if err != nil {
		t.Fatalf("Failed to write chunks file: %v", err)
	}

	err = run([]string{"--url", newMockService(t).URL, "--chunks", chunksPath}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("Expected error for empty chunks file")
	}
}

// TestRun_Health prints the service status.
func TestRun_Health(t *testing.T) {
	t.Parallel()

	var stdout bytes.Buffer

	err := run([]string{"--url", newMockService(t).URL, "--health"}, &stdout)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if !strings.Contains(stdout.String(), "Speech service is ok (voice ru/v4/xenia, 0 queued)") {
		t.Errorf("Unexpected stdout %q", stdout.String())
	}
}
