// Package tiling splits large images into fixed-size overlapping tiles and
// merges per-tile detections back into the full-image frame.
package tiling

import (
	"errors"
	"fmt"
	"image"

	"github.com/MeKo-Tech/defectscan/internal/utils"
)

// DefaultTileSize is the native input resolution of the supported detectors.
const DefaultTileSize = 640

// Tile is a tileSize x tileSize sub-image anchored at (X, Y) in the source.
// Width and Height hold the clipped extent; the rest of Image is black padding.
type Tile struct {
	Image  *image.NRGBA
	X      int
	Y      int
	Width  int
	Height int
}

// Rect returns the tile's clipped region in source image coordinates.
func (t Tile) Rect() image.Rectangle {
	return image.Rect(t.X, t.Y, t.X+t.Width, t.Y+t.Height)
}

// Stride returns int(tileSize * (1 - overlap)).
func Stride(tileSize int, overlap float64) (int, error) {
	if tileSize <= 0 {
		return 0, fmt.Errorf("invalid tile size: %d", tileSize)
	}
	if overlap < 0 || overlap >= 1 {
		return 0, fmt.Errorf("invalid overlap: %.2f (must be in [0.0, 1.0))", overlap)
	}
	stride := int(float64(tileSize) * (1 - overlap))
	if stride < 1 {
		return 0, fmt.Errorf("overlap %.4f leaves no stride for tile size %d", overlap, tileSize)
	}
	return stride, nil
}

// Layout computes tile regions for a width x height image in row-major order.
func Layout(width, height, tileSize int, overlap float64) ([]image.Rectangle, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", width, height)
	}
	stride, err := Stride(tileSize, overlap)
	if err != nil {
		return nil, err
	}

	xs := axisOrigins(width, tileSize, stride)
	ys := axisOrigins(height, tileSize, stride)

	rects := make([]image.Rectangle, 0, len(xs)*len(ys))
	for _, y := range ys {
		for _, x := range xs {
			rects = append(rects, image.Rect(x, y, min(x+tileSize, width), min(y+tileSize, height)))
		}
	}
	return rects, nil
}

// axisOrigins walks 0, stride, 2*stride, ... < length and keeps positions
// whose clipped span is at least half a tile. A shorter trailing span is kept
// only while the accepted tiles have not yet reached the end of the axis.
func axisOrigins(length, tileSize, stride int) []int {
	var origins []int
	covered := 0
	for p := 0; p < length; p += stride {
		span := min(tileSize, length-p)
		if len(origins) > 0 && 2*span < tileSize && covered >= length {
			continue
		}
		origins = append(origins, p)
		covered = max(covered, p+span)
	}
	return origins
}

// Partition cuts img into zero-padded tiles of tileSize x tileSize.
func Partition(img image.Image, tileSize int, overlap float64) ([]Tile, error) {
	if img == nil {
		return nil, errors.New("input image is nil")
	}
	b := img.Bounds()
	rects, err := Layout(b.Dx(), b.Dy(), tileSize, overlap)
	if err != nil {
		return nil, err
	}

	tiles := make([]Tile, 0, len(rects))
	for _, r := range rects {
		buf, err := utils.CropPadded(img, r, tileSize)
		if err != nil {
			return nil, fmt.Errorf("tile at (%d,%d): %w", r.Min.X, r.Min.Y, err)
		}
		tiles = append(tiles, Tile{Image: buf, X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()})
	}
	return tiles, nil
}
