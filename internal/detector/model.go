package detector

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/MeKo-Tech/defectscan/internal/models"
	"github.com/MeKo-Tech/defectscan/internal/onnx"
	"github.com/MeKo-Tech/defectscan/internal/tiling"
)

// Model version names.
const (
	VersionYOLOv8  = "YOLOv8"
	VersionYOLOv11 = "YOLOv11"
)

// Model runs single-shot detection on one tile.
// Returned candidates are in tile pixel coordinates.
type Model interface {
	Predict(ctx context.Context, tile image.Image, conf float64) ([]tiling.Candidate, error)
	ClassNames() models.ClassNames
	Close() error
}

// ModelConfig describes one model version.
type ModelConfig struct {
	Version          string
	ModelPath        string
	ClassesFile      string
	Params           tiling.Params
	NumThreads       int
	WarmupIterations int
	GPU              onnx.GPUConfig
}

// DefaultModelConfigs returns the bundled YOLOv8 and YOLOv11 setups.
func DefaultModelConfigs(modelsDir string) []ModelConfig {
	v8 := tiling.Params{
		Policy:          tiling.PolicyAdaptive,
		TileSize:        tiling.DefaultTileSize,
		Overlap:         0.1,
		Confidence:      0.25,
		MergeIoU:        0.2,
		MergeConfidence: 0.2,
	}
	return []ModelConfig{
		{
			Version:   VersionYOLOv8,
			ModelPath: models.ResolveModelPath(modelsDir, models.YOLOv8Model),
			Params:    v8,
			GPU:       onnx.DefaultGPUConfig(),
		},
		{
			Version:   VersionYOLOv11,
			ModelPath: models.ResolveModelPath(modelsDir, models.YOLOv11Model),
			Params:    tiling.DefaultParams(),
			GPU:       onnx.DefaultGPUConfig(),
		},
	}
}

// Validate checks the model configuration.
func (c ModelConfig) Validate() error {
	if c.Version == "" {
		return errors.New("model version cannot be empty")
	}
	if c.ModelPath == "" {
		return fmt.Errorf("model %s: model path cannot be empty", c.Version)
	}
	if c.NumThreads < 0 {
		return fmt.Errorf("model %s: num_threads must be >= 0", c.Version)
	}
	if err := c.Params.Validate(); err != nil {
		return fmt.Errorf("model %s: %w", c.Version, err)
	}
	return onnx.ValidateGPUConfig(c.GPU)
}
