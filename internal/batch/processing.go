package batch

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/defectscan/internal/detector"
	"github.com/MeKo-Tech/defectscan/internal/utils"
)

// processImage detects defects in one file and writes its outputs.
func processImage(ctx context.Context, det *detector.Detector, path string, cfg *Config) ImageResult {
	out := ImageResult{Path: path}

	img, _, err := utils.LoadImage(path)
	if err != nil {
		out.Error = fmt.Sprintf("failed to load %s: %v", path, err)
		slog.Warn("Skipping image", "file", path, "error", err)
		return out
	}

	res, err := det.Detect(ctx, img)
	if err != nil {
		out.Error = fmt.Sprintf("detection failed for %s: %v", path, err)
		slog.Warn("Detection failed", "file", path, "error", err)
		return out
	}

	if cfg.OutputDir != "" {
		annotated, results, err := writeOutputs(cfg.OutputDir, path, img, res, cfg.Style)
		if err != nil {
			out.Error = err.Error()
			slog.Warn("Failed to write outputs", "file", path, "error", err)
			return out
		}
		out.AnnotatedPath, out.ResultsPath = annotated, results
	}

	out.Result = res
	return out
}

// writeOutputs saves detected_<name> and results_<stem>.txt into dir.
func writeOutputs(dir, path string, img image.Image, res *detector.Result,
	style detector.AnnotateStyle,
) (string, string, error) {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	annotatedPath := filepath.Join(dir, "detected_"+base)
	if err := utils.SaveImage(detector.Annotate(img, res.Detections, style), annotatedPath); err != nil {
		return "", "", fmt.Errorf("failed to save annotated image: %w", err)
	}

	resultsPath := filepath.Join(dir, "results_"+stem+".txt")
	if err := os.WriteFile(resultsPath, []byte(resultLines(res.Detections)), 0o600); err != nil {
		return "", "", fmt.Errorf("failed to write results: %w", err)
	}
	return annotatedPath, resultsPath, nil
}

// resultLines renders one "class: confidence" line per detection.
func resultLines(dets []detector.Detection) string {
	var b strings.Builder
	for _, d := range dets {
		fmt.Fprintf(&b, "%s: %.2f\n", d.Class, d.Confidence)
	}
	return b.String()
}
