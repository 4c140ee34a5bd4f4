package utils

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/MeKo-Tech/defectscan/internal/mempool"
	"github.com/disintegration/imaging"
)

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// CropPadded copies rect out of img and places it at the top-left of a
// size x size black canvas. Pixels of rect outside img stay black.
func CropPadded(img image.Image, rect image.Rectangle, size int) (*image.NRGBA, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "crop", Err: errors.New("input image is nil")}
	}
	if size <= 0 {
		return nil, &ImageProcessingError{Operation: "crop", Err: fmt.Errorf("invalid tile size: %d", size)}
	}
	if rect.Dx() > size || rect.Dy() > size {
		return nil, &ImageProcessingError{
			Operation: "crop",
			Err:       fmt.Errorf("region %dx%d exceeds tile size %d", rect.Dx(), rect.Dy(), size),
		}
	}

	canvas := imaging.New(size, size, color.Black)
	src := rect.Add(img.Bounds().Min).Intersect(img.Bounds())
	if src.Empty() {
		return canvas, nil
	}
	dst := image.Rect(0, 0, src.Dx(), src.Dy())
	draw.Draw(canvas, dst, img, src.Min, draw.Src)
	return canvas, nil
}

// PadImage pads img on the right and bottom to targetWidth x targetHeight with black.
func PadImage(img image.Image, targetWidth, targetHeight int) (image.Image, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "pad", Err: errors.New("input image is nil")}
	}
	b := img.Bounds()
	if targetWidth < b.Dx() || targetHeight < b.Dy() {
		return nil, &ImageProcessingError{
			Operation: "pad",
			Err:       fmt.Errorf("target %dx%d smaller than image %dx%d", targetWidth, targetHeight, b.Dx(), b.Dy()),
		}
	}
	background := imaging.New(targetWidth, targetHeight, color.Black)
	return imaging.Paste(background, img, image.Pt(0, 0)), nil
}

// ResizeExact scales img to exactly width x height with bilinear filtering.
func ResizeExact(img image.Image, width, height int) (image.Image, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "resize", Err: errors.New("input image is nil")}
	}
	if width <= 0 || height <= 0 {
		return nil, &ImageProcessingError{Operation: "resize", Err: fmt.Errorf("invalid size %dx%d", width, height)}
	}
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img, nil
	}
	return imaging.Resize(img, width, height, imaging.Linear), nil
}

// NormalizeImagePooled converts img to an NCHW RGB tensor scaled to [0,1].
// The buffer comes from mempool; release it with mempool.PutFloat32.
func NormalizeImagePooled(img image.Image) ([]float32, int, int, error) {
	if img == nil {
		return nil, 0, 0, &ImageProcessingError{Operation: "normalize", Err: errors.New("input image is nil")}
	}

	nrgba := imaging.Clone(img)
	width, height := nrgba.Rect.Dx(), nrgba.Rect.Dy()
	if width <= 0 || height <= 0 {
		return nil, 0, 0, &ImageProcessingError{Operation: "normalize", Err: errors.New("invalid image dimensions")}
	}

	plane := width * height
	tensor := mempool.GetFloat32(3 * plane)
	for y := range height {
		row := nrgba.Pix[y*nrgba.Stride:]
		for x := range width {
			p := row[x*4 : x*4+3]
			idx := y*width + x
			tensor[idx] = float32(p[0]) / 255.0
			tensor[plane+idx] = float32(p[1]) / 255.0
			tensor[2*plane+idx] = float32(p[2]) / 255.0
		}
	}
	return tensor, width, height, nil
}

// ToRGBA returns a mutable RGBA copy of img with origin at (0,0).
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
