package batch

import (
	"image"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/defectscan/internal/detector"
	"github.com/MeKo-Tech/defectscan/internal/testutil"
	"github.com/MeKo-Tech/defectscan/internal/tiling"
	"github.com/stretchr/testify/require"
)

var testDefect = image.Rect(100, 100, 160, 140)

func newTestDetector(t *testing.T, model *testutil.BlobModel) *detector.Detector {
	t.Helper()
	if model == nil {
		model = testutil.NewBlobModel()
	}
	d, err := detector.New(detector.VersionYOLOv11, model, tiling.DefaultParams())
	require.NoError(t, err)
	return d
}

// writeImages saves 640x480 images under dir, one defect each.
func writeImages(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, n := range names {
		p := filepath.Join(dir, n)
		testutil.SaveImage(t, testutil.CreateDefectImage(640, 480, testDefect), p)
		paths = append(paths, p)
	}
	return paths
}
