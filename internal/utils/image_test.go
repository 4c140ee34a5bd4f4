package utils

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/defectscan/internal/mempool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, col color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, col)
		}
	}
	return img
}

func writeTempPNG(t *testing.T, dir string, w, h int, col color.Color) string {
	t.Helper()
	path := filepath.Join(dir, "test.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()
	require.NoError(t, png.Encode(f, solidImage(w, h, col)))
	return path
}

func TestIsSupportedImage(t *testing.T) {
	cases := map[string]bool{
		"a.jpg": true, "b.JPEG": true, "c.png": true, "d.bmp": true,
		"e.tiff": false, "f.gif": false, "noext": false,
	}
	for path, ok := range cases {
		assert.Equal(t, ok, IsSupportedImage(path), path)
	}
}

func TestLoadImageAndMetadata(t *testing.T) {
	p := writeTempPNG(t, t.TempDir(), 10, 20, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	img, meta, err := LoadImage(p)
	require.NoError(t, err)
	assert.Equal(t, 10, img.Bounds().Dx())
	assert.Equal(t, "png", meta.Format)
	assert.Equal(t, 20, meta.Height)
	assert.Positive(t, meta.SizeBytes)
}

func TestLoadImage_Errors(t *testing.T) {
	_, _, err := LoadImage("")
	require.Error(t, err)

	_, _, err = LoadImage("file.gif")
	var ipe *ImageProcessingError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "load", ipe.Operation)

	bad := filepath.Join(t.TempDir(), "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("not an image"), 0o600))
	_, _, err = LoadImage(bad)
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "decode", ipe.Operation)
}

func TestSaveAndEncodeImage(t *testing.T) {
	dir := t.TempDir()
	img := solidImage(8, 6, color.RGBA{G: 255, A: 255})

	out := filepath.Join(dir, "nested", "out.jpg")
	require.NoError(t, SaveImage(img, out))
	loaded, meta, err := LoadImage(out)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", meta.Format)
	assert.Equal(t, 8, loaded.Bounds().Dx())

	var buf bytes.Buffer
	require.NoError(t, EncodeImage(&buf, img, ".png"))
	decoded, _, err := DecodeImageBytes(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 6, decoded.Bounds().Dy())

	require.Error(t, EncodeImage(&buf, img, ".xyz"))
}

func TestCropPadded(t *testing.T) {
	img := solidImage(100, 80, color.RGBA{R: 200, A: 255})

	tile, err := CropPadded(img, image.Rect(60, 40, 100, 80), 64)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 64), tile.Bounds())

	r, _, _, _ := tile.At(0, 0).RGBA()
	assert.Equal(t, uint32(200), r>>8)
	r, _, _, _ = tile.At(39, 39).RGBA()
	assert.Equal(t, uint32(200), r>>8)
	r, g, b, _ := tile.At(40, 40).RGBA()
	assert.Zero(t, r+g+b, "padding must be black")

	_, err = CropPadded(img, image.Rect(0, 0, 70, 10), 64)
	require.Error(t, err)
	_, err = CropPadded(nil, image.Rect(0, 0, 1, 1), 64)
	require.Error(t, err)
}

func TestCropPadded_NonZeroOrigin(t *testing.T) {
	base := solidImage(50, 50, color.RGBA{B: 90, A: 255})
	sub := base.SubImage(image.Rect(10, 10, 50, 50))

	tile, err := CropPadded(sub, image.Rect(0, 0, 40, 40), 40)
	require.NoError(t, err)
	_, _, b, _ := tile.At(39, 39).RGBA()
	assert.Equal(t, uint32(90), b>>8)
}

func TestPadImage(t *testing.T) {
	img := solidImage(10, 5, color.White)
	out, err := PadImage(img, 16, 16)
	require.NoError(t, err)
	assert.Equal(t, 16, out.Bounds().Dx())
	r, _, _, _ := out.At(9, 4).RGBA()
	assert.Equal(t, uint32(255), r>>8)
	r, _, _, _ = out.At(12, 12).RGBA()
	assert.Zero(t, r)

	_, err = PadImage(img, 5, 5)
	require.Error(t, err)
}

func TestResizeExact(t *testing.T) {
	img := solidImage(100, 50, color.White)
	out, err := ResizeExact(img, 64, 32)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 32), out.Bounds())

	same, err := ResizeExact(img, 100, 50)
	require.NoError(t, err)
	assert.Same(t, img, same)

	_, err = ResizeExact(img, 0, 10)
	require.Error(t, err)
}

func TestNormalizeImagePooled_NCHW(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 255, G: 0, B: 0, A: 255})
	img.Set(1, 0, color.RGBA{R: 0, G: 0, B: 255, A: 255})

	data, w, h, err := NormalizeImagePooled(img)
	require.NoError(t, err)
	defer mempool.PutFloat32(data)

	require.Equal(t, 2, w)
	require.Equal(t, 1, h)
	require.Len(t, data, 6)
	assert.InDelta(t, 1.0, data[0], 1e-6) // R plane, pixel 0
	assert.InDelta(t, 0.0, data[1], 1e-6) // R plane, pixel 1
	assert.InDelta(t, 1.0, data[5], 1e-6) // B plane, pixel 1
}

func TestDrawRectAndLabel(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 40, 40))
	green := color.RGBA{G: 255, A: 255}
	DrawRect(dst, image.Rect(5, 5, 30, 30), green, 2)

	assert.Equal(t, green, dst.RGBAAt(5, 5))
	assert.Equal(t, green, dst.RGBAAt(6, 20))
	assert.Equal(t, green, dst.RGBAAt(28, 20))
	assert.Equal(t, color.RGBA{}, dst.RGBAAt(15, 15))

	DrawLabel(dst, 2, -5, "ab", green)
	var painted bool
	for y := range 13 {
		for x := 2; x < 2+LabelWidth("ab"); x++ {
			if dst.RGBAAt(x, y).G > 0 {
				painted = true
			}
		}
	}
	assert.True(t, painted, "label should be clamped into the image")
}
