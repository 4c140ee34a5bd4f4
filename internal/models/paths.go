// Package models resolves detector model files and their class tables.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Default model filenames for the bundled versions.
const (
	YOLOv8Model  = "yolov8_neu.onnx"
	YOLOv11Model = "yolov11_scratches.onnx"
)

// TypeDetection is the sub-directory holding detector weights.
const TypeDetection = "detection"

// DefaultModelsDir is used when nothing else is configured.
const DefaultModelsDir = "models"

// EnvModelsDir overrides the models directory.
const EnvModelsDir = "DEFECTSCAN_MODELS_DIR"

// ModelInfo describes a model file found on disk.
type ModelInfo struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// findProjectRoot finds the project root by looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.New("could not find project root (go.mod not found)")
}

// GetModelsDir returns the models directory.
// Priority: 1. explicit modelsDir, 2. environment variable, 3. project root + default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	if projectRoot, err := findProjectRoot(); err == nil {
		return filepath.Join(projectRoot, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// ResolveModelPath resolves a model reference. Absolute paths and paths
// that exist relative to the working directory are returned unchanged.
// Otherwise <models>/detection/<name> is preferred over <models>/<name>.
func ResolveModelPath(modelsDir, name string) string {
	if name == "" {
		return ""
	}
	if filepath.IsAbs(name) {
		return name
	}
	if _, err := os.Stat(name); err == nil {
		return name
	}

	base := GetModelsDir(modelsDir)
	organized := filepath.Join(base, TypeDetection, name)
	if _, err := os.Stat(organized); err == nil {
		return organized
	}
	return filepath.Join(base, name)
}

// ValidateModelExists checks if a model file exists at the given path.
func ValidateModelExists(modelPath string) error {
	st, err := os.Stat(modelPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	if err != nil {
		return fmt.Errorf("cannot access model file %s: %w", modelPath, err)
	}
	if st.IsDir() {
		return fmt.Errorf("model path is a directory: %s", modelPath)
	}
	return nil
}

// ListAvailableModels returns .onnx files under the models directory and
// its detection sub-directory, sorted by name.
func ListAvailableModels(modelsDir string) ([]ModelInfo, error) {
	base := GetModelsDir(modelsDir)
	var out []ModelInfo
	for _, dir := range []string{base, filepath.Join(base, TypeDetection)} {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".onnx") {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			out = append(out, ModelInfo{
				Name:      e.Name(),
				Path:      filepath.Join(dir, e.Name()),
				SizeBytes: info.Size(),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
