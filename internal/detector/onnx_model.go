package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/defectscan/internal/mempool"
	"github.com/MeKo-Tech/defectscan/internal/models"
	"github.com/MeKo-Tech/defectscan/internal/onnx"
	"github.com/MeKo-Tech/defectscan/internal/tiling"
	"github.com/MeKo-Tech/defectscan/internal/utils"
	"github.com/yalue/onnxruntime_go"
)

// ONNXModel runs a YOLO detection graph exported to ONNX.
type ONNXModel struct {
	config     ModelConfig
	session    *onnxruntime_go.DynamicAdvancedSession
	inputInfo  onnxruntime_go.InputOutputInfo
	outputInfo onnxruntime_go.InputOutputInfo
	names      models.ClassNames
	mu         sync.RWMutex
}

// NewONNXModel loads the model file and creates an inference session.
func NewONNXModel(cfg ModelConfig) (*ONNXModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validateModelFile(cfg.ModelPath); err != nil {
		return nil, err
	}

	slog.Debug("Initializing model",
		"version", cfg.Version,
		"model_path", cfg.ModelPath,
		"gpu_enabled", cfg.GPU.UseGPU,
		"num_threads", cfg.NumThreads)

	if err := onnx.InitRuntime(cfg.GPU.UseGPU); err != nil {
		return nil, err
	}

	in, out, err := validateModelInfo(cfg.ModelPath)
	if err != nil {
		return nil, err
	}

	names, err := loadClassNames(cfg)
	if err != nil {
		return nil, err
	}

	session, err := createSession(cfg, in, out)
	if err != nil {
		return nil, err
	}

	m := &ONNXModel{
		config:     cfg,
		session:    session,
		inputInfo:  in,
		outputInfo: out,
		names:      names,
	}

	if cfg.WarmupIterations > 0 {
		if err := m.Warmup(cfg.WarmupIterations); err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("warmup failed: %w", err)
		}
	}

	slog.Debug("Model initialized", "version", cfg.Version, "classes", len(names))
	return m, nil
}

// ClassNames returns the model's class table.
func (m *ONNXModel) ClassNames() models.ClassNames {
	return m.names
}

// inputSize returns the spatial input size for a tile of tileSize pixels.
// Dynamic axes are rounded up to the network stride of 32.
func (m *ONNXModel) inputSize(tileSize int) (int, int) {
	if h, w, ok := onnx.StaticInputSize(m.inputInfo.Dimensions); ok {
		return w, h
	}
	s := ((tileSize + 31) / 32) * 32
	return s, s
}

// Predict runs the graph on one tile and returns tile-space candidates.
func (m *ONNXModel) Predict(ctx context.Context, tile image.Image, conf float64) ([]tiling.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tile == nil {
		return nil, errors.New("tile image is nil")
	}

	b := tile.Bounds()
	inW, inH := m.inputSize(max(b.Dx(), b.Dy()))
	resized, err := utils.ResizeExact(tile, inW, inH)
	if err != nil {
		return nil, fmt.Errorf("failed to resize tile: %w", err)
	}

	data, w, h, err := utils.NormalizeImagePooled(resized)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize tile: %w", err)
	}
	defer mempool.PutFloat32(data)

	tensor, err := onnx.NewImageTensor(data, 3, h, w)
	if err != nil {
		return nil, fmt.Errorf("failed to create tensor: %w", err)
	}

	start := time.Now()
	out, shape, err := m.run(tensor)
	if err != nil {
		return nil, err
	}

	cands, err := DecodeYOLO(out, shape, DecodeOptions{
		Confidence: conf,
		ScaleX:     float64(b.Dx()) / float64(w),
		ScaleY:     float64(b.Dy()) / float64(h),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode output: %w", err)
	}

	slog.Debug("Tile inference complete",
		"version", m.config.Version,
		"candidates", len(cands),
		"duration_ms", time.Since(start).Milliseconds())
	return cands, nil
}

// run executes the session and copies the output tensor data.
func (m *ONNXModel) run(tensor onnx.Tensor) ([]float32, []int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil, nil, errors.New("model session is closed")
	}

	input, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(tensor.Shape...), tensor.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() {
		if err := input.Destroy(); err != nil {
			slog.Warn("Error destroying input tensor", "error", err)
		}
	}()

	outputs := []onnxruntime_go.Value{nil}
	if err := m.session.Run([]onnxruntime_go.Value{input}, outputs); err != nil {
		return nil, nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		if outputs[0] == nil {
			return
		}
		if err := outputs[0].Destroy(); err != nil {
			slog.Warn("Error destroying output tensor", "error", err)
		}
	}()

	ft, ok := outputs[0].(*onnxruntime_go.Tensor[float32])
	if !ok {
		return nil, nil, errors.New("output tensor is not float32")
	}
	raw := ft.GetData()
	data := make([]float32, len(raw))
	copy(data, raw)
	shape := append([]int64(nil), ft.GetShape()...)
	return data, shape, nil
}

// Warmup runs forward passes on a blank tile to reduce first-request latency.
func (m *ONNXModel) Warmup(iterations int) error {
	size := m.config.Params.TileSize
	blank := image.NewNRGBA(image.Rect(0, 0, size, size))
	start := time.Now()
	for i := range iterations {
		if _, err := m.Predict(context.Background(), blank, 1); err != nil {
			return fmt.Errorf("iteration %d: %w", i, err)
		}
	}
	slog.Debug("Model warmup complete",
		"version", m.config.Version,
		"iterations", iterations,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// GetModelInfo returns metadata about the loaded graph.
func (m *ONNXModel) GetModelInfo() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]interface{}{
		"version":      m.config.Version,
		"model_path":   m.config.ModelPath,
		"input_name":   m.inputInfo.Name,
		"input_shape":  []int64(m.inputInfo.Dimensions),
		"output_name":  m.outputInfo.Name,
		"output_shape": []int64(m.outputInfo.Dimensions),
		"classes":      m.names.Sorted(),
		"gpu_enabled":  m.config.GPU.UseGPU,
	}
}

// Close releases the session. The runtime environment stays initialized.
func (m *ONNXModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	if err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}
