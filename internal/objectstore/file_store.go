package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/tts/audio"
)

const instrumentationName = "github.com/book-expert/speech-service/internal/objectstore"

// FileStore writes artifacts as WAV files into a single directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve output directory '%s': %w", core.ErrIO, dir, err)
	}

	mkdirErr := os.MkdirAll(absDir, 0o750)
	if mkdirErr != nil {
		return nil, fmt.Errorf("%w: failed to create output directory '%s': %w", core.ErrIO, absDir, mkdirErr)
	}

	return &FileStore{dir: absDir}, nil
}

// Dir returns the directory artifacts are written to.
func (f *FileStore) Dir() string {
	return f.dir
}

// Write encodes buf as 16-bit PCM WAV and stores it under name.
func (f *FileStore) Write(ctx context.Context, buf core.SampleBuffer, name string) (core.ArtifactRef, error) {
	_, span := otel.Tracer(instrumentationName).Start(ctx, "write "+name)
	defer span.End()

	nameErr := ValidateName(name)
	if nameErr != nil {
		return core.ArtifactRef{}, nameErr
	}

	path := filepath.Join(f.dir, name)

	file, createErr := os.Create(path)
	if createErr != nil {
		return core.ArtifactRef{}, fmt.Errorf("%w: failed to create '%s': %w", core.ErrIO, path, createErr)
	}

	encodeErr := audio.EncodeWAV(file, buf)
	closeErr := file.Close()

	if encodeErr != nil {
		_ = os.Remove(path)

		return core.ArtifactRef{}, fmt.Errorf("%w: %w", core.ErrIO, encodeErr)
	}

	if closeErr != nil {
		return core.ArtifactRef{}, fmt.Errorf("%w: failed to close '%s': %w", core.ErrIO, path, closeErr)
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		return core.ArtifactRef{}, fmt.Errorf("%w: %w", core.ErrIO, statErr)
	}

	span.SetAttributes(attribute.Int64("size", info.Size()))

	return core.ArtifactRef{Name: name, Location: path, Size: info.Size()}, nil
}

// Read returns the stored WAV bytes for name.
func (f *FileStore) Read(_ context.Context, name string) ([]byte, error) {
	nameErr := ValidateName(name)
	if nameErr != nil {
		return nil, nameErr
	}

	data, err := os.ReadFile(filepath.Join(f.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
		}

		return nil, fmt.Errorf("%w: failed to read '%s': %w", core.ErrIO, name, err)
	}

	return data, nil
}
