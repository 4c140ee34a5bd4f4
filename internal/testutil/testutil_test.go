package testutil

import (
	"context"
	"image"
	"path/filepath"
	"testing"
	"time"

	"github.com/MeKo-Tech/defectscan/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetProjectRoot(t *testing.T) {
	root, err := GetProjectRoot()
	require.NoError(t, err)
	assert.True(t, FileExists(filepath.Join(root, "go.mod")))
}

func TestCreateDefectImage(t *testing.T) {
	img := CreateDefectImage(50, 40, image.Rect(10, 10, 20, 15))
	assert.Equal(t, DefectWhite, img.RGBAAt(10, 10))
	assert.Equal(t, DefectWhite, img.RGBAAt(19, 14))
	assert.Equal(t, SurfaceGray, img.RGBAAt(20, 15))
}

func TestSaveImage(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a", "img.jpg")
	SaveImage(t, CreateDefectImage(8, 8), p)
	_, meta, err := utils.LoadImage(p)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", meta.Format)
}

func TestBlobModel_FindsBlobs(t *testing.T) {
	img := CreateDefectImage(100, 100, image.Rect(5, 5, 15, 25), image.Rect(60, 70, 90, 80))
	m := NewBlobModel()

	cands, err := m.Predict(context.Background(), img, 0.25)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, utils.NewBox(5, 5, 15, 25), cands[0].Box)
	assert.Equal(t, utils.NewBox(60, 70, 90, 80), cands[1].Box)
	assert.Equal(t, int64(1), m.Calls())
}

func TestBlobModel_BlobsTouchingRowEdgesStaySeparate(t *testing.T) {
	img := CreateDefectImage(10, 4, image.Rect(8, 0, 10, 1), image.Rect(0, 1, 2, 2))
	cands, err := NewBlobModel().Predict(context.Background(), img, 0)
	require.NoError(t, err)
	assert.Len(t, cands, 2)
}

func TestBlobModel_ThresholdAndFailure(t *testing.T) {
	img := CreateDefectImage(20, 20, image.Rect(1, 1, 5, 5))
	m := NewBlobModel()
	m.FailOnCall = 2

	cands, err := m.Predict(context.Background(), img, 0.95)
	require.NoError(t, err)
	assert.Empty(t, cands)

	_, err = m.Predict(context.Background(), img, 0.1)
	require.ErrorIs(t, err, ErrModelFailure)

	require.NoError(t, m.Close())
	assert.True(t, m.Closed())
}

func TestBlobModel_Delay(t *testing.T) {
	img := CreateDefectImage(20, 20, image.Rect(1, 1, 5, 5))
	m := NewBlobModel()
	m.Delay = 20 * time.Millisecond

	start := time.Now()
	cands, err := m.Predict(context.Background(), img, 0.25)
	require.NoError(t, err)
	assert.Len(t, cands, 1)
	assert.GreaterOrEqual(t, time.Since(start), m.Delay)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Predict(ctx, img, 0.25)
	require.ErrorIs(t, err, context.Canceled)
}
