package batch

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/MeKo-Tech/defectscan/internal/detector"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// ProgressFunc is called after each image with the number of images done.
type ProgressFunc func(done, total int, path string)

// Config holds all configuration for batch detection.
type Config struct {
	// Inputs are files or directories to scan.
	Inputs []string

	// File discovery settings
	Recursive bool
	Include   []string
	Exclude   []string

	// Parallel processing settings
	Workers int

	// Output settings. An empty OutputDir writes no per-image files.
	OutputDir  string
	Format     string
	OutputFile string
	Style      detector.AnnotateStyle

	Progress ProgressFunc
}

// DefaultConfig returns a text-format configuration with one worker per CPU.
func DefaultConfig() *Config {
	return &Config{
		Workers: runtime.NumCPU(),
		Format:  FormatText,
		Style:   detector.DefaultAnnotateStyle(),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if len(c.Inputs) == 0 {
		return errors.New("no input paths given")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	switch c.Format {
	case "", FormatText, FormatJSON, FormatCSV:
	default:
		return fmt.Errorf("unsupported format %q (must be text, json or csv)", c.Format)
	}
	for _, p := range append(append([]string{}, c.Include...), c.Exclude...) {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("invalid pattern %q: %w", p, err)
		}
	}
	return nil
}

// ImageResult is the outcome for one input image.
type ImageResult struct {
	Path          string           `json:"file"`
	Result        *detector.Result `json:"result,omitempty"`
	AnnotatedPath string           `json:"annotated,omitempty"`
	ResultsPath   string           `json:"results_file,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// Summary aggregates a batch run.
type Summary struct {
	Images          int            `json:"images"`
	Succeeded       int            `json:"succeeded"`
	Failed          int            `json:"failed"`
	TotalDetections int            `json:"total_detections"`
	ClassCounts     map[string]int `json:"class_counts"`
	Workers         int            `json:"workers"`
	Duration        time.Duration  `json:"-"`
	DurationMs      int64          `json:"duration_ms"`
}

// Result holds the result of batch processing.
type Result struct {
	Images  []ImageResult `json:"images"`
	Summary Summary       `json:"summary"`
}
