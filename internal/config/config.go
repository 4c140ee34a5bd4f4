package config

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/defectscan/internal/detector"
	"github.com/MeKo-Tech/defectscan/internal/models"
	"github.com/MeKo-Tech/defectscan/internal/onnx"
	"github.com/MeKo-Tech/defectscan/internal/tiling"
	"golang.org/x/crypto/bcrypt"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Verbose:   false,
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5003,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      120,
			ShutdownTimeout: 10,
			PublicURL:       "http://127.0.0.1:5003",
			StaticDir:       "",
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerMinute: 60,
				RequestsPerHour:   1000,
				MaxRequestsPerDay: 5000,
				MaxDataPerDay:     1 << 30,
			},
		},
		Database: DatabaseConfig{
			Path:          "data/defectscan.db",
			BusyTimeoutMs: 5000,
		},
		Auth: AuthConfig{
			JWTSecret:  "change-me",
			TokenTTL:   "24h",
			BcryptCost: bcrypt.DefaultCost,
		},
		Storage: StorageConfig{
			UploadDir:    "uploads",
			TmpDir:       "tmp",
			DownloadFile: "data/testfile.zip",
		},
		Detection: DetectionConfig{
			DefaultVersion:   detector.VersionYOLOv11,
			Models:           defaultModels(),
			NumThreads:       0,
			WarmupIterations: 0,
		},
		Annotate: AnnotateConfig{
			BoxColor:  "#00FF00",
			Thickness: 2,
		},
		Batch: BatchConfig{
			Workers:   4,
			OutputDir: "results",
			Recursive: false,
			Format:    "text",
		},
		GPU: GPUConfig{
			Enabled:     false,
			Device:      0,
			MemoryLimit: "auto",
		},
		Client: ClientConfig{
			ServerURL: "http://127.0.0.1:5003",
		},
	}
}

// defaultModels mirrors the bundled detector setups as config entries.
func defaultModels() []ModelConfig {
	files := map[string]string{
		detector.VersionYOLOv8:  models.YOLOv8Model,
		detector.VersionYOLOv11: models.YOLOv11Model,
	}
	var out []ModelConfig
	for _, mc := range detector.DefaultModelConfigs("") {
		p := mc.Params
		out = append(out, ModelConfig{
			Version:         mc.Version,
			ModelPath:       files[mc.Version],
			TilePolicy:      string(p.Policy),
			TileSize:        p.TileSize,
			Overlap:         p.Overlap,
			Confidence:      p.Confidence,
			MergeIoU:        p.MergeIoU,
			MergeConfidence: p.MergeConfidence,
			ClassAware:      p.ClassAware,
		})
	}
	return out
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d (must be positive)", c.Batch.Workers)
	}
	validFormats := []string{"text", "json", "csv"}
	if c.Batch.Format != "" && !slices.Contains(validFormats, c.Batch.Format) {
		return fmt.Errorf("invalid batch format: %s (must be one of: %s)", c.Batch.Format, strings.Join(validFormats, ", "))
	}

	if err := c.validateAuth(); err != nil {
		return err
	}
	if err := c.validateDetection(); err != nil {
		return err
	}

	if _, err := detector.ParseColor(c.Annotate.BoxColor); err != nil {
		return fmt.Errorf("invalid annotate.box_color: %w", err)
	}
	if c.Annotate.Thickness < 1 {
		return fmt.Errorf("invalid annotate.thickness: %d (must be positive)", c.Annotate.Thickness)
	}

	if c.GPU.MemoryLimit != "auto" && c.GPU.MemoryLimit != "" {
		if err := validateMemoryLimit(c.GPU.MemoryLimit); err != nil {
			return fmt.Errorf("invalid GPU memory limit: %w", err)
		}
	}

	return nil
}

func (c *Config) validateAuth() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth.jwt_secret cannot be empty")
	}
	if ttl, err := c.TokenTTL(); err != nil || ttl <= 0 {
		return fmt.Errorf("invalid auth.token_ttl: %q", c.Auth.TokenTTL)
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("invalid auth.bcrypt_cost: %d (must be between %d and %d)",
			c.Auth.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return nil
}

func (c *Config) validateDetection() error {
	if len(c.Detection.Models) == 0 {
		return errors.New("detection.models cannot be empty")
	}
	if c.Detection.NumThreads < 0 {
		return fmt.Errorf("invalid detection.num_threads: %d (must be >= 0)", c.Detection.NumThreads)
	}
	if c.Detection.WarmupIterations < 0 {
		return fmt.Errorf("invalid detection.warmup_iterations: %d (must be >= 0)", c.Detection.WarmupIterations)
	}

	seen := make(map[string]bool, len(c.Detection.Models))
	for _, m := range c.Detection.Models {
		key := strings.ToLower(m.Version)
		if key == "" {
			return errors.New("detection.models: version cannot be empty")
		}
		if seen[key] {
			return fmt.Errorf("detection.models: duplicate version %s", m.Version)
		}
		seen[key] = true
		if m.ModelPath == "" {
			return fmt.Errorf("detection.models[%s]: model_path cannot be empty", m.Version)
		}
		if _, err := m.params(); err != nil {
			return fmt.Errorf("detection.models[%s]: %w", m.Version, err)
		}
	}
	if !seen[strings.ToLower(c.Detection.DefaultVersion)] {
		return fmt.Errorf("detection.default_version %s is not among detection.models", c.Detection.DefaultVersion)
	}
	return nil
}

// TokenTTL parses auth.token_ttl.
func (c *Config) TokenTTL() (time.Duration, error) {
	return time.ParseDuration(c.Auth.TokenTTL)
}

// params converts the entry to tiling parameters and validates them.
func (m ModelConfig) params() (tiling.Params, error) {
	policy, err := tiling.ParsePolicy(m.TilePolicy)
	if err != nil {
		return tiling.Params{}, err
	}
	p := tiling.Params{
		Policy:          policy,
		TileSize:        m.TileSize,
		Overlap:         m.Overlap,
		Confidence:      m.Confidence,
		MergeIoU:        m.MergeIoU,
		MergeConfidence: m.MergeConfidence,
		ClassAware:      m.ClassAware,
	}
	if p.TileSize <= 0 {
		p.TileSize = tiling.DefaultTileSize
	}
	return p, p.Validate()
}

// ToModelConfigs converts the detection section into detector configurations
// with model paths resolved against the models directory.
func (c *Config) ToModelConfigs() ([]detector.ModelConfig, error) {
	gpu, err := c.ToGPUConfig()
	if err != nil {
		return nil, err
	}
	out := make([]detector.ModelConfig, 0, len(c.Detection.Models))
	for _, m := range c.Detection.Models {
		p, err := m.params()
		if err != nil {
			return nil, fmt.Errorf("detection.models[%s]: %w", m.Version, err)
		}
		classes := m.ClassesFile
		if classes != "" {
			classes = models.ResolveModelPath(c.ModelsDir, classes)
		}
		out = append(out, detector.ModelConfig{
			Version:          m.Version,
			ModelPath:        models.ResolveModelPath(c.ModelsDir, m.ModelPath),
			ClassesFile:      classes,
			Params:           p,
			NumThreads:       c.Detection.NumThreads,
			WarmupIterations: c.Detection.WarmupIterations,
			GPU:              gpu,
		})
	}
	return out, nil
}

// AnnotateStyle converts the annotate section into a drawing style.
func (c *Config) AnnotateStyle() (detector.AnnotateStyle, error) {
	col, err := detector.ParseColor(c.Annotate.BoxColor)
	if err != nil {
		return detector.AnnotateStyle{}, fmt.Errorf("invalid annotate.box_color: %w", err)
	}
	return detector.AnnotateStyle{Color: col, Thickness: c.Annotate.Thickness}, nil
}

// ToGPUConfig converts the gpu section into ONNX Runtime settings.
func (c *Config) ToGPUConfig() (onnx.GPUConfig, error) {
	g := onnx.DefaultGPUConfig()
	g.UseGPU = c.GPU.Enabled
	g.DeviceID = c.GPU.Device
	limit, err := parseMemoryLimit(c.GPU.MemoryLimit)
	if err != nil {
		return g, fmt.Errorf("invalid GPU memory limit: %w", err)
	}
	g.GPUMemLimit = limit
	return g, nil
}

var memoryUnits = []struct {
	suffix string
	scale  float64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// validateMemoryLimit validates GPU memory limit format (e.g., "1GB", "512MB").
func validateMemoryLimit(limit string) error {
	_, err := parseMemoryLimit(limit)
	return err
}

// parseMemoryLimit converts "auto", "" or a size like "1.5GB" into bytes.
// Zero means unlimited.
func parseMemoryLimit(limit string) (uint64, error) {
	if limit == "" || limit == "auto" {
		return 0, nil
	}
	upper := strings.ToUpper(strings.TrimSpace(limit))
	for _, u := range memoryUnits {
		if !strings.HasSuffix(upper, u.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSuffix(upper, u.suffix), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * u.scale), nil
	}
	return 0, fmt.Errorf("memory limit must end with one of: B, KB, MB, GB")
}
