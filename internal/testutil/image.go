package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// SurfaceGray is the background of synthetic steel surface images.
var SurfaceGray = color.RGBA{R: 40, G: 40, B: 40, A: 255}

// DefectWhite marks synthetic defects.
var DefectWhite = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// CreateDefectImage returns a gray surface with white rectangles as defects.
func CreateDefectImage(width, height int, defects ...image.Rectangle) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: SurfaceGray}, image.Point{}, draw.Src)
	for _, d := range defects {
		draw.Draw(img, d.Intersect(img.Bounds()), &image.Uniform{C: DefectWhite}, image.Point{}, draw.Src)
	}
	return img
}

// EncodePNG returns img encoded as PNG.
func EncodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// EncodeJPEG returns img encoded as high-quality JPEG.
func EncodeJPEG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

// SaveImage writes img as PNG or JPEG depending on the extension.
func SaveImage(t testing.TB, img image.Image, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	data := EncodePNG(t, img)
	if ext := filepath.Ext(path); ext == ".jpg" || ext == ".jpeg" {
		data = EncodeJPEG(t, img)
	}
	require.NoError(t, os.WriteFile(path, data, 0o600))
}
