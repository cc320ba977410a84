// Package core defines the core types and interfaces for the speech service.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// ArtifactStore persists synthesized audio as named, write-once artifacts.
// A second Write with the same name replaces the first; callers are expected
// to supply names that do not collide.
type ArtifactStore interface {
	Write(ctx context.Context, buf SampleBuffer, name string) (ArtifactRef, error)
	Read(ctx context.Context, name string) ([]byte, error)
}

// LoadSpec selects what the model-loading service should bind and where.
type LoadSpec struct {
	Language string
	Speaker  string
	Device   string
}

// Device describes a compute device reported by the model-loading service.
type Device struct {
	Name        string `json:"name"`
	Accelerator bool   `json:"accelerator"`
	Available   bool   `json:"available"`
}

// ModelLoader is the externally supplied model-loading service.
type ModelLoader interface {
	Devices(ctx context.Context) ([]Device, error)
	Load(ctx context.Context, spec LoadSpec) (ModelHandle, error)
}

// ModelHandle is a loaded, device-bound instance of the synthesis model.
// Implementations are not required to be safe for concurrent use.
type ModelHandle interface {
	Infer(ctx context.Context, ssml, voice string, sampleRate int) ([]float32, error)
	Close() error
}
