// Package engine owns the loaded synthesis model. Adapter binds the external
// model to a compute device and produces Handles; Serializer guards the
// single active Handle so at most one inference or reconfiguration touches it
// at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-service/internal/catalog"
	"github.com/book-expert/speech-service/internal/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	instrumentationName = "github.com/book-expert/speech-service/internal/engine"

	// CPUDevice is the general-purpose processor fallback.
	CPUDevice = "cpu"
)

// ErrNoDevice is returned when the model service reports no usable device.
var ErrNoDevice = errors.New("no usable compute device")

// Adapter loads the external synthesis model into Handles.
type Adapter struct {
	loader  core.ModelLoader
	catalog *catalog.Catalog
	log     *logger.Logger
}

// NewAdapter creates an Adapter over the given model-loading service.
func NewAdapter(loader core.ModelLoader, cat *catalog.Catalog, log *logger.Logger) *Adapter {
	return &Adapter{
		loader:  loader,
		catalog: cat,
		log:     log,
	}
}

// Load validates cfg, selects a device and binds a brand-new Handle. An
// accelerator that fails to bind falls back to the CPU; a CPU failure is
// fatal and no handle is returned.
func (a *Adapter) Load(ctx context.Context, cfg core.VoiceConfiguration) (*Handle, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "load "+cfg.Language+"/"+cfg.Model)
	defer span.End()

	validateErr := a.catalog.ValidateConfiguration(cfg)
	if validateErr != nil {
		return nil, validateErr
	}

	variant, err := a.catalog.Variant(cfg.Language, cfg.Model)
	if err != nil {
		return nil, err
	}

	candidates, err := a.selectDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrLoad, err)
	}

	var bindErrs []error

	for _, device := range candidates {
		model, loadErr := a.loader.Load(ctx, core.LoadSpec{
			Language: cfg.Language,
			Speaker:  variant.Upstream,
			Device:   device,
		})
		if loadErr != nil {
			a.log.Warn("Failed to bind model %s/%s to device %s: %v", cfg.Language, cfg.Model, device, loadErr)
			bindErrs = append(bindErrs, fmt.Errorf("device %s: %w", device, loadErr))

			continue
		}

		span.SetAttributes(attribute.String("device", device))
		a.log.Info("Model loaded: language=%s model=%s voice=%s device=%s", cfg.Language, cfg.Model, cfg.Voice, device)

		return &Handle{
			config:   cfg,
			device:   device,
			model:    model,
			loadedAt: time.Now(),
		}, nil
	}

	return nil, fmt.Errorf("%w: %s/%s: %w", core.ErrLoad, cfg.Language, cfg.Model, errors.Join(bindErrs...))
}

// selectDevices returns the devices to try in order: available accelerators
// first, then the CPU.
func (a *Adapter) selectDevices(ctx context.Context) ([]string, error) {
	devices, err := a.loader.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list compute devices: %w", err)
	}

	var (
		candidates []string
		hasCPU     bool
	)

	for _, device := range devices {
		if !device.Available {
			continue
		}

		if device.Accelerator {
			candidates = append(candidates, device.Name)

			continue
		}

		if device.Name == CPUDevice {
			hasCPU = true
		}
	}

	if len(candidates) > 0 {
		a.log.Info("Accelerator available: %s", candidates[0])
	} else {
		a.log.Info("No accelerator available. Falling back to CPU.")
	}

	if hasCPU || len(devices) == 0 {
		candidates = append(candidates, CPUDevice)
	}

	if len(candidates) == 0 {
		return nil, ErrNoDevice
	}

	return candidates, nil
}
