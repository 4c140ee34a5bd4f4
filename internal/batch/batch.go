// Package batch runs defect detection over many image files.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MeKo-Tech/defectscan/internal/detector"
)

// Run discovers images from cfg.Inputs and detects defects in each of them.
// Images are spread over cfg.Workers goroutines; the tiles of one image are
// processed sequentially. A failing image is recorded and does not stop the
// run. Cancelling ctx stops scheduling and returns ctx.Err().
func Run(ctx context.Context, det *detector.Detector, cfg *Config) (*Result, error) {
	if det == nil {
		return nil, errors.New("detector cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	files, err := discoverImageFiles(cfg.Inputs, cfg.Recursive, cfg.Include, cfg.Exclude, cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to discover image files: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no image files found")
	}

	if cfg.OutputDir != "" {
		if err := os.MkdirAll(cfg.OutputDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create output dir: %w", err)
		}
	}

	workers := min(cfg.Workers, len(files))
	slog.Info("Starting batch detection",
		"images", len(files),
		"workers", workers,
		"version", det.Version(),
		"output_dir", cfg.OutputDir)

	start := time.Now()
	results := make([]ImageResult, len(files))
	jobs := make(chan int)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = processImage(ctx, det, files[i], cfg)
				if cfg.Progress != nil {
					mu.Lock()
					done++
					cfg.Progress(done, len(files), files[i])
					mu.Unlock()
				}
			}
		}()
	}

feed:
	for i := range files {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Images: results, Summary: summarize(results, workers, time.Since(start))}
	slog.Info("Batch detection complete",
		"images", res.Summary.Images,
		"failed", res.Summary.Failed,
		"detections", res.Summary.TotalDetections,
		"duration_ms", res.Summary.DurationMs)
	return res, nil
}

func summarize(results []ImageResult, workers int, elapsed time.Duration) Summary {
	s := Summary{
		Images:      len(results),
		ClassCounts: make(map[string]int),
		Workers:     workers,
		Duration:    elapsed,
		DurationMs:  elapsed.Milliseconds(),
	}
	for _, r := range results {
		if r.Result == nil {
			s.Failed++
			continue
		}
		s.Succeeded++
		s.TotalDetections += r.Result.TotalDefects
		for class, n := range detector.ClassCounts(r.Result.Detections) {
			s.ClassCounts[class] += n
		}
	}
	return s
}
