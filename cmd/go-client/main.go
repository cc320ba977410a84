// Command go-client synthesizes text through a running speech-service and
// downloads the resulting WAV files.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/speech-service/internal/client"
	"github.com/book-expert/speech-service/internal/tts/ttsutils"
)

// Flag descriptions.
const (
	flagTextDesc      = "Text to convert to speech"
	flagChunksDesc    = "JSON file containing an array of text chunks to process"
	flagSpeakerDesc   = "Speaker voice (defaults to the service's active voice)"
	flagOutputDesc    = "Output file (.wav) for --text, output directory for --chunks"
	flagURLDesc       = "Speech service base URL"
	flagHealthDesc    = "Check speech service health and exit"
	flagNoDenoiseDesc = "Disable noise reduction"
	flagRateDesc      = "Sample rate in Hz (8000, 24000 or 48000; 0 uses the service default)"
	flagWorkersDesc   = "Parallel requests for --chunks"
	flagTimeoutDesc   = "Per-request timeout"
)

// Flag names.
const (
	flagText      = "text"
	flagChunks    = "chunks"
	flagSpeaker   = "speaker"
	flagOutput    = "output"
	flagURL       = "url"
	flagHealth    = "health"
	flagNoDenoise = "no-denoise"
	flagRate      = "sample-rate"
	flagWorkers   = "workers"
	flagTimeout   = "timeout"
)

// Defaults.
const (
	defaultOutputFile = "output.wav"
	defaultOutputDir  = "output"
	defaultWorkers    = 4
	defaultTimeout    = 5 * time.Minute
	logFileName       = "speech-client.log"
)

// Static errors.
var (
	ErrEitherTextOrChunks = errors.New("either --text or --chunks must be provided")
	ErrCannotSpecifyBoth  = errors.New("cannot specify both --text and --chunks")
	ErrOutputNotWAV       = errors.New("output file must have a .wav extension")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	text       string
	chunks     string
	speaker    string
	output     string
	url        string
	health     bool
	noDenoise  bool
	sampleRate int
	workers    int
	timeout    time.Duration
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// run is the application entry point, returning an error on failure.
func run(args []string, stdout io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	clientLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer clientLog.Close()

	speech := client.New(flags.url, flags.timeout)
	ctx := context.Background()

	if flags.health {
		return handleHealthCheck(ctx, speech, clientLog, stdout)
	}

	validateErr := validateArguments(flags)
	if validateErr != nil {
		clientLog.Error("Invalid arguments: %v", validateErr)

		return validateErr
	}

	if flags.text != "" {
		return processSingleText(ctx, speech, clientLog, flags, stdout)
	}

	return processChunks(ctx, speech, clientLog, flags, stdout)
}

// parseFlags defines and parses command-line flags on a fresh flag set.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("go-client", flag.ContinueOnError)
	flagSet.StringVar(&flags.text, flagText, "", flagTextDesc)
	flagSet.StringVar(&flags.chunks, flagChunks, "", flagChunksDesc)
	flagSet.StringVar(&flags.speaker, flagSpeaker, "", flagSpeakerDesc)
	flagSet.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	flagSet.StringVar(&flags.url, flagURL, client.DefaultURL, flagURLDesc)
	flagSet.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	flagSet.BoolVar(&flags.noDenoise, flagNoDenoise, false, flagNoDenoiseDesc)
	flagSet.IntVar(&flags.sampleRate, flagRate, 0, flagRateDesc)
	flagSet.IntVar(&flags.workers, flagWorkers, defaultWorkers, flagWorkersDesc)
	flagSet.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return appFlags{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, nil
}

// validateArguments checks required and conflicting arguments.
func validateArguments(flags appFlags) error {
	if flags.text == "" && flags.chunks == "" {
		return ErrEitherTextOrChunks
	}

	if flags.text != "" && flags.chunks != "" {
		return ErrCannotSpecifyBoth
	}

	if flags.text != "" && flags.output != "" && !ttsutils.IsWAVFile(flags.output) {
		return fmt.Errorf("%w: %s", ErrOutputNotWAV, flags.output)
	}

	return nil
}

// requestTemplate builds the request fields shared by every chunk.
func requestTemplate(flags appFlags) client.SynthesizeRequest {
	req := client.SynthesizeRequest{
		Speaker:    flags.speaker,
		SampleRate: flags.sampleRate,
	}

	if flags.noDenoise {
		enhance := false
		req.EnhanceNoise = &enhance
	}

	return req
}

// handleHealthCheck performs a service health check and prints the result.
func handleHealthCheck(ctx context.Context, speech *client.Client, clientLog *logger.Logger, stdout io.Writer) error {
	health, err := speech.Health(ctx)
	if err != nil {
		clientLog.Error("Health check failed: %v", err)

		return fmt.Errorf("speech service is not healthy: %w", err)
	}

	fmt.Fprintf(stdout, "Speech service is %s (voice %s/%s/%s, %d queued)\n",
		health.Status, health.Active.Language, health.Active.Model, health.Active.Voice, health.Pending)

	return nil
}

// processSingleText converts one text and downloads the result.
func processSingleText(ctx context.Context, speech *client.Client, clientLog *logger.Logger, flags appFlags, stdout io.Writer) error {
	req := requestTemplate(flags)
	req.Text = flags.text

	clientLog.Info("Processing single text")

	resp, err := speech.Synthesize(ctx, req)
	if err != nil {
		clientLog.Error("Failed to process text: %v", err)

		return fmt.Errorf("failed to process text: %w", err)
	}

	outputPath := flags.output
	if outputPath == "" {
		outputPath = localName(resp.Filename)
	}

	written, err := speech.Download(ctx, resp.Filename, outputPath)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", resp.Filename, err)
	}

	clientLog.Info("Successfully generated speech: %s", outputPath)
	fmt.Fprintf(stdout, "Generated: %s (%s, %s)\n", outputPath, ttsutils.FormatDuration(resp.Duration), ttsutils.FormatFileSize(written))

	return nil
}

// processChunks converts every chunk of a JSON file and downloads the results.
func processChunks(ctx context.Context, speech *client.Client, clientLog *logger.Logger, flags appFlags, stdout io.Writer) error {
	outputDir := flags.output
	if outputDir == "" {
		outputDir = defaultOutputDir
	}

	chunks, err := readChunks(flags.chunks)
	if err != nil {
		return err
	}

	clientLog.Info("Processing %d chunks from: %s", len(chunks), flags.chunks)
	clientLog.Info("Output directory: %s", outputDir)

	responses, err := speech.SynthesizeChunks(ctx, chunks, requestTemplate(flags), flags.workers)
	if err != nil {
		clientLog.Error("Failed to process chunks: %v", err)

		return fmt.Errorf("failed to process chunks: %w", err)
	}

	var total float64

	for i, resp := range responses {
		dst := filepath.Join(outputDir, ttsutils.ChunkFileName(i))

		_, downloadErr := speech.Download(ctx, resp.Filename, dst)
		if downloadErr != nil {
			return fmt.Errorf("failed to download chunk %d: %w", i, downloadErr)
		}

		total += resp.Duration
		clientLog.Info("Processed chunk %d/%d", i+1, len(responses))
	}

	clientLog.Info("Successfully processed all chunks")
	fmt.Fprintf(stdout, "Generated %d audio files (%s) in: %s\n", len(responses), ttsutils.FormatDuration(total), outputDir)

	return nil
}

// localName derives a safe local file name from the name the service chose.
func localName(remote string) string {
	name := ttsutils.SanitizeFilename(remote)
	if name == "" || name == "." || name == ".." || !ttsutils.IsWAVFile(name) {
		return defaultOutputFile
	}

	return name
}

// readChunks loads a JSON array of strings.
func readChunks(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks file: %w", err)
	}

	var chunks []string

	unmarshalErr := json.Unmarshal(data, &chunks)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to parse chunks file %s: %w", path, unmarshalErr)
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s", client.ErrNoChunks, path)
	}

	return chunks, nil
}
