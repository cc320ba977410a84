package objectstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/objectstore"
	"github.com/book-expert/speech-service/internal/tts/audio"
)

func TestFileStore_WriteRead(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "output")

	store, err := objectstore.NewFileStore(dir)
	require.NoError(t, err)

	buf := core.SampleBuffer{Samples: make([]float32, 4800), SampleRate: 48000}

	ref, err := store.Write(context.Background(), buf, "speech.wav")
	require.NoError(t, err)
	assert.Equal(t, "speech.wav", ref.Name)
	assert.Equal(t, filepath.Join(store.Dir(), "speech.wav"), ref.Location)

	info, err := os.Stat(ref.Location)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), ref.Size)

	data, err := store.Read(context.Background(), "speech.wav")
	require.NoError(t, err)

	decoded, err := audio.DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, 48000, decoded.SampleRate)
	assert.InDelta(t, 0.1, decoded.Seconds(), 1e-9)
}

func TestFileStore_SameNameReplaces(t *testing.T) {
	t.Parallel()

	store, err := objectstore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()

	_, err = store.Write(ctx, core.SampleBuffer{Samples: make([]float32, 10), SampleRate: 8000}, "a.wav")
	require.NoError(t, err)

	second, err := store.Write(ctx, core.SampleBuffer{Samples: make([]float32, 20), SampleRate: 8000}, "a.wav")
	require.NoError(t, err)

	data, err := store.Read(ctx, "a.wav")
	require.NoError(t, err)
	assert.Equal(t, second.Size, int64(len(data)))
}

func TestFileStore_RejectsUnsafeNames(t *testing.T) {
	t.Parallel()

	store, err := objectstore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	buf := core.SampleBuffer{Samples: []float32{0}, SampleRate: 8000}

	for _, name := range []string{"", "../escape.wav", "a/b.wav", `a\b.wav`, ".."} {
		_, writeErr := store.Write(context.Background(), buf, name)
		require.ErrorIs(t, writeErr, objectstore.ErrInvalidArtifactName, name)
		require.ErrorIs(t, writeErr, core.ErrIO, name)

		_, readErr := store.Read(context.Background(), name)
		require.ErrorIs(t, readErr, objectstore.ErrInvalidArtifactName, name)
	}
}

func TestFileStore_ReadMissing(t *testing.T) {
	t.Parallel()

	store, err := objectstore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Read(context.Background(), "missing.wav")
	require.ErrorIs(t, err, objectstore.ErrArtifactNotFound)
}

func TestFileStore_BadAudioIsIOError(t *testing.T) {
	t.Parallel()

	store, err := objectstore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Write(context.Background(), core.SampleBuffer{Samples: []float32{0}}, "bad.wav")
	require.ErrorIs(t, err, core.ErrIO)

	_, statErr := os.Stat(filepath.Join(store.Dir(), "bad.wav"))
	assert.True(t, os.IsNotExist(statErr))
}
