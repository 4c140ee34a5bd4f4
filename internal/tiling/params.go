package tiling

import (
	"fmt"
	"strings"
)

// TilePolicy selects how the tile size is derived from the image.
type TilePolicy string

const (
	// PolicyFixed always uses the configured base size.
	PolicyFixed TilePolicy = "fixed"
	// PolicyAdaptive grows tiles to half the short image side for large inputs.
	PolicyAdaptive TilePolicy = "adaptive"
)

// ParsePolicy converts a config string to a TilePolicy.
func ParsePolicy(s string) (TilePolicy, error) {
	switch TilePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyFixed:
		return PolicyFixed, nil
	case PolicyAdaptive:
		return PolicyAdaptive, nil
	default:
		return "", fmt.Errorf("unknown tile policy %q (must be fixed or adaptive)", s)
	}
}

// TileSizeFor returns the tile size for a width x height image.
// Adaptive: max(base, min(H, W)/2).
func TileSizeFor(policy TilePolicy, base, width, height int) int {
	if base <= 0 {
		base = DefaultTileSize
	}
	if policy != PolicyAdaptive {
		return base
	}
	return max(base, min(width, height)/2)
}

// Params is the tiling and merge configuration of one model version.
type Params struct {
	Policy          TilePolicy
	TileSize        int
	Overlap         float64
	Confidence      float64 // per-tile detector threshold
	MergeIoU        float64
	MergeConfidence float64
	ClassAware      bool
}

// DefaultParams returns the YOLOv11 parameter set.
func DefaultParams() Params {
	return Params{
		Policy:          PolicyFixed,
		TileSize:        DefaultTileSize,
		Overlap:         0.3,
		Confidence:      0.25,
		MergeIoU:        0.4,
		MergeConfidence: 0.3,
	}
}

// Validate checks ranges of all thresholds.
func (p Params) Validate() error {
	if p.Policy != PolicyFixed && p.Policy != PolicyAdaptive {
		return fmt.Errorf("unknown tile policy %q", p.Policy)
	}
	if p.TileSize <= 0 {
		return fmt.Errorf("invalid tile size: %d", p.TileSize)
	}
	if _, err := Stride(p.TileSize, p.Overlap); err != nil {
		return err
	}
	for name, v := range map[string]float64{
		"confidence":       p.Confidence,
		"merge_iou":        p.MergeIoU,
		"merge_confidence": p.MergeConfidence,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, v)
		}
	}
	return nil
}
