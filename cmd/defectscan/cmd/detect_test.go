package cmd

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/defectscan/internal/detector"
	"github.com/MeKo-Tech/defectscan/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectCommand(t *testing.T) {
	stubModels(t)
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	img := writeDefectImage(t, dir, "plate.png")
	annotated := filepath.Join(dir, "plate_detected.jpg")

	out, _, err := executeCommand(t, "--config", cfgPath, "detect", img, "--output", annotated)
	require.NoError(t, err)

	var res detector.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Detections, 1)
	assert.Equal(t, [4]int{100, 100, 160, 140}, res.Detections[0].BBox)
	assert.Equal(t, detector.VersionYOLOv11, res.Version)
	assert.Equal(t, 1, res.TileCount)

	saved, _, err := utils.LoadImage(annotated)
	require.NoError(t, err)
	assert.Equal(t, 640, saved.Bounds().Dx())
}

func TestDetectCommandVersionSelection(t *testing.T) {
	stubModels(t)
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	img := writeDefectImage(t, dir, "plate.png")

	out, _, err := executeCommand(t, "--config", cfgPath, "detect", img, "--model-version", "yolov8")
	require.NoError(t, err)
	var res detector.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, detector.VersionYOLOv8, res.Version)

	_, _, err = executeCommand(t, "--config", cfgPath, "detect", img, "--model-version", "YOLOv5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model version")
}

func TestDetectCommandErrors(t *testing.T) {
	stubModels(t)
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	_, _, err := executeCommand(t, "--config", cfgPath, "detect")
	require.Error(t, err)

	_, _, err = executeCommand(t, "--config", cfgPath, "detect", filepath.Join(dir, "missing.png"))
	require.Error(t, err)

	img := writeDefectImage(t, dir, "plate.png")
	_, _, err = executeCommand(t, "--config", cfgPath, "detect", img, "--output", filepath.Join(dir, "out.gif"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")
}
