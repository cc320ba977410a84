// Package objectstore persists synthesized audio and raw worker objects.
//
// FileStore keeps WAV artifacts on local disk; NatsObjectStore keeps them in
// a JetStream object-store bucket and also serves arbitrary blobs to the
// NATS worker.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"

	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/tts/audio"
)

// NatsObjectStore implements core.ObjectStore and core.ArtifactStore on a
// NATS JetStream object store.
type NatsObjectStore struct {
	jetstreamContext nats.JetStreamContext
	bucket           string
	store            nats.ObjectStore
}

// New creates the bucket, or binds to it when it already exists.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsObjectStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Synthesized audio and source text for the %s bucket.", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsObjectStore{
		jetstreamContext: jetstreamContext,
		bucket:           bucketName,
		store:            store,
	}, nil
}

// Bucket returns the bucket name.
func (n *NatsObjectStore) Bucket() string {
	return n.bucket
}

// Download retrieves an object from the bucket.
func (n *NatsObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	obj, err := n.store.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s in bucket '%s'", ErrArtifactNotFound, key, n.bucket)
		}

		return nil, fmt.Errorf("%w: failed to get object '%s' from bucket '%s': %w", core.ErrIO, key, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to read object '%s': %w", core.ErrIO, key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("%w: failed to close object '%s': %w", core.ErrIO, key, closeErr)
	}

	return data, nil
}

// Upload saves an object to the bucket.
func (n *NatsObjectStore) Upload(_ context.Context, key string, data []byte) error {
	_, err := n.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nil,
		Metadata:    nil,
		Opts:        nil,
	}, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: failed to put object '%s' to bucket '%s': %w", core.ErrIO, key, n.bucket, err)
	}

	return nil
}

// Write encodes buf as WAV and uploads it under name.
func (n *NatsObjectStore) Write(ctx context.Context, buf core.SampleBuffer, name string) (core.ArtifactRef, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "upload "+name)
	defer span.End()

	nameErr := ValidateName(name)
	if nameErr != nil {
		return core.ArtifactRef{}, nameErr
	}

	data, encodeErr := audio.WAVBytes(buf)
	if encodeErr != nil {
		return core.ArtifactRef{}, fmt.Errorf("%w: %w", core.ErrIO, encodeErr)
	}

	uploadErr := n.Upload(ctx, name, data)
	if uploadErr != nil {
		return core.ArtifactRef{}, uploadErr
	}

	return core.ArtifactRef{
		Name:     name,
		Location: "nats://" + n.bucket + "/" + name,
		Size:     int64(len(data)),
	}, nil
}

// Read returns the stored WAV bytes for name.
func (n *NatsObjectStore) Read(ctx context.Context, name string) ([]byte, error) {
	nameErr := ValidateName(name)
	if nameErr != nil {
		return nil, nameErr
	}

	return n.Download(ctx, name)
}
