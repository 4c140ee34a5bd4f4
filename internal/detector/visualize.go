package detector

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/defectscan/internal/utils"
)

// AnnotateStyle controls box rendering.
type AnnotateStyle struct {
	Color     color.RGBA
	Thickness int
}

// DefaultAnnotateStyle draws green boxes two pixels wide.
func DefaultAnnotateStyle() AnnotateStyle {
	return AnnotateStyle{Color: color.RGBA{G: 255, A: 255}, Thickness: 2}
}

// ParseColor accepts "#RRGGBB" or "r,g,b".
func ParseColor(s string) (color.RGBA, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "#") && len(s) == 7 {
		v, err := strconv.ParseUint(s[1:], 16, 32)
		if err != nil {
			return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
		}
		return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return color.RGBA{}, fmt.Errorf("invalid color %q (want #RRGGBB or r,g,b)", s)
	}
	var rgb [3]uint8
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
		}
		rgb[i] = uint8(v)
	}
	return color.RGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 255}, nil
}

// Label formats the caption drawn above a box.
func Label(d Detection) string {
	return fmt.Sprintf("%s %.2f", d.Class, d.Confidence)
}

// Annotate returns a copy of img with a box and caption per detection.
func Annotate(img image.Image, dets []Detection, style AnnotateStyle) *image.RGBA {
	out := utils.ToRGBA(img)
	if style.Thickness < 1 {
		style.Thickness = 1
	}
	for _, d := range dets {
		rect := image.Rect(d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3])
		utils.DrawRect(out, rect, style.Color, style.Thickness)
		utils.DrawLabel(out, d.BBox[0], d.BBox[1]-10, Label(d), style.Color)
	}
	return out
}
