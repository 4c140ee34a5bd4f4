// Package detector runs tiled YOLO inference over full-resolution images
// and assembles merged defect detections.
package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/defectscan/internal/tiling"
)

// ProgressFunc is called after each tile with the number of tiles done.
type ProgressFunc func(done, total int)

// Detector runs one model version with its tiling and merge parameters.
type Detector struct {
	version string
	model   Model
	params  tiling.Params
}

// New creates a detector for version around an already loaded model.
func New(version string, model Model, params tiling.Params) (*Detector, error) {
	if model == nil {
		return nil, errors.New("model cannot be nil")
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params for %s: %w", version, err)
	}
	return &Detector{version: version, model: model, params: params}, nil
}

// Load creates the ONNX model for cfg and wraps it in a Detector.
func Load(cfg ModelConfig) (*Detector, error) {
	m, err := NewONNXModel(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", cfg.Version, err)
	}
	d, err := New(cfg.Version, m, cfg.Params)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	return d, nil
}

// Version returns the model version name.
func (d *Detector) Version() string { return d.version }

// Params returns the tiling and merge parameters.
func (d *Detector) Params() tiling.Params { return d.params }

// Model returns the underlying model.
func (d *Detector) Model() Model { return d.model }

// Close releases the model.
func (d *Detector) Close() error { return d.model.Close() }

// Detect runs the full tiled pipeline on img.
func (d *Detector) Detect(ctx context.Context, img image.Image) (*Result, error) {
	return d.DetectWithProgress(ctx, img, nil)
}

// DetectWithProgress runs the tiled pipeline and reports per-tile progress.
// Tiles are processed sequentially; the first tile error aborts the image.
func (d *Detector) DetectWithProgress(ctx context.Context, img image.Image, progress ProgressFunc) (*Result, error) {
	if img == nil {
		return nil, errors.New("input image is nil")
	}
	start := time.Now()
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()

	tileSize := tiling.TileSizeFor(d.params.Policy, d.params.TileSize, width, height)
	tiles, err := tiling.Partition(img, tileSize, d.params.Overlap)
	if err != nil {
		return nil, fmt.Errorf("failed to partition image: %w", err)
	}

	slog.Debug("Running tiled detection",
		"version", d.version,
		"width", width,
		"height", height,
		"tile_size", tileSize,
		"tiles", len(tiles))

	var cands []tiling.Candidate
	for i, tile := range tiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		local, err := d.model.Predict(ctx, tile.Image, d.params.Confidence)
		if err != nil {
			return nil, fmt.Errorf("tile %d/%d at (%d,%d): %w", i+1, len(tiles), tile.X, tile.Y, err)
		}
		cands = append(cands, tiling.Remap(local, tile, width, height, d.params.MergeConfidence)...)
		if progress != nil {
			progress(i+1, len(tiles))
		}
	}

	boxes, scores, classes := tiling.Merge(cands, d.params.MergeIoU, d.params.ClassAware)
	dets := Assemble(boxes, scores, classes, d.model.ClassNames())
	total, types := Summarize(dets)

	res := &Result{
		Detections:       dets,
		TotalDefects:     total,
		DefectTypes:      types,
		Version:          d.version,
		Width:            width,
		Height:           height,
		TileSize:         tileSize,
		TileCount:        len(tiles),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
	slog.Debug("Detection complete",
		"version", d.version,
		"candidates", len(cands),
		"detections", total,
		"duration_ms", res.ProcessingTimeMs)
	return res, nil
}
