package detector

import (
	"fmt"
	"math"

	"github.com/MeKo-Tech/defectscan/internal/tiling"
	"github.com/MeKo-Tech/defectscan/internal/utils"
)

// Per-tile suppression defaults of the YOLO predictor.
const (
	tileNMSIoU    = 0.7
	maxDetections = 300
)

// DecodeOptions controls YOLO head decoding.
type DecodeOptions struct {
	Confidence float64
	ScaleX     float64 // model input px -> tile px
	ScaleY     float64
	NMSIoU     float64
	MaxDet     int
}

// DecodeYOLO converts a YOLOv8/YOLOv11 detection head output into
// candidates. Both [1, 4+nc, N] and [1, N, 4+nc] layouts are accepted; the
// smaller of the two trailing dimensions is taken as the attribute axis.
func DecodeYOLO(data []float32, shape []int64, opts DecodeOptions) ([]tiling.Candidate, error) {
	if len(shape) != 3 || shape[0] != 1 {
		return nil, fmt.Errorf("unexpected output shape %v (want [1, 4+nc, N])", shape)
	}
	d1, d2 := int(shape[1]), int(shape[2])
	if d1*d2 != len(data) {
		return nil, fmt.Errorf("output length %d does not match shape %v", len(data), shape)
	}

	channelsFirst := d1 <= d2
	attrs, anchors := d1, d2
	if !channelsFirst {
		attrs, anchors = d2, d1
	}
	if attrs < 5 {
		return nil, fmt.Errorf("output shape %v has no class scores", shape)
	}
	classes := attrs - 4

	at := func(anchor, attr int) float64 {
		if channelsFirst {
			return float64(data[attr*anchors+anchor])
		}
		return float64(data[anchor*attrs+attr])
	}

	sx, sy := opts.ScaleX, opts.ScaleY
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}

	var cands []tiling.Candidate
	for a := range anchors {
		best, bestScore := -1, math.Inf(-1)
		for c := range classes {
			if s := at(a, 4+c); s > bestScore {
				best, bestScore = c, s
			}
		}
		if bestScore < opts.Confidence || math.IsNaN(bestScore) {
			continue
		}
		box := utils.BoxFromCenter(at(a, 0), at(a, 1), at(a, 2), at(a, 3)).Scale(sx, sy)
		if !box.IsFinite() || box.Area() == 0 {
			continue
		}
		cands = append(cands, tiling.Candidate{Box: box, Score: bestScore, Class: best})
	}

	iou := opts.NMSIoU
	if iou <= 0 {
		iou = tileNMSIoU
	}
	keep, err := tiling.NMS(cands, iou, true)
	if err != nil {
		return nil, err
	}
	limit := opts.MaxDet
	if limit <= 0 {
		limit = maxDetections
	}
	if len(keep) > limit {
		keep = keep[:limit]
	}

	out := make([]tiling.Candidate, len(keep))
	for i, k := range keep {
		out[i] = cands[k]
	}
	return out, nil
}
