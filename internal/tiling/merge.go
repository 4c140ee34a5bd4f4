package tiling

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/MeKo-Tech/defectscan/internal/utils"
)

// ErrInvalidCandidate reports a box or score that is not a finite number.
var ErrInvalidCandidate = errors.New("invalid candidate")

// Candidate is a single scored box before merging.
type Candidate struct {
	Box   utils.Box
	Score float64
	Class int
}

// Remap translates tile-local candidates into the source frame, clips them
// to [0,width]x[0,height] and drops those scoring below conf.
func Remap(cands []Candidate, tile Tile, width, height int, conf float64) []Candidate {
	out := make([]Candidate, 0, len(cands))
	w, h := float64(width), float64(height)
	for _, c := range cands {
		if c.Score < conf {
			continue
		}
		c.Box = c.Box.Translate(float64(tile.X), float64(tile.Y)).Clip(w, h)
		out = append(out, c)
	}
	return out
}

// NMS returns indices of kept candidates in descending score order. A
// candidate is suppressed when its IoU with a kept one exceeds iouThreshold.
// With classAware, only boxes of the same class suppress each other.
func NMS(cands []Candidate, iouThreshold float64, classAware bool) ([]int, error) {
	for i, c := range cands {
		if !c.Box.IsFinite() || math.IsNaN(c.Score) || math.IsInf(c.Score, 0) {
			return nil, fmt.Errorf("%w at index %d", ErrInvalidCandidate, i)
		}
	}

	order := make([]int, len(cands))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return cands[order[a]].Score > cands[order[b]].Score
	})

	suppressed := make([]bool, len(cands))
	keep := make([]int, 0, len(cands))
	for i, idx := range order {
		if suppressed[idx] {
			continue
		}
		keep = append(keep, idx)
		for _, other := range order[i+1:] {
			if suppressed[other] {
				continue
			}
			if classAware && cands[other].Class != cands[idx].Class {
				continue
			}
			if utils.IoU(cands[idx].Box, cands[other].Box) > iouThreshold {
				suppressed[other] = true
			}
		}
	}
	return keep, nil
}

// Merge runs NMS over remapped candidates from all tiles and returns the
// survivors as parallel box, score and class slices. Empty input and
// numerical failures both yield three empty slices.
func Merge(cands []Candidate, iouThreshold float64, classAware bool) ([]utils.Box, []float64, []int) {
	if len(cands) == 0 {
		slog.Debug("No detections to merge")
		return []utils.Box{}, []float64{}, []int{}
	}

	keep, err := NMS(cands, iouThreshold, classAware)
	if err != nil {
		slog.Warn("Merge failed, returning no detections", "error", err, "candidates", len(cands))
		return []utils.Box{}, []float64{}, []int{}
	}

	boxes := make([]utils.Box, len(keep))
	scores := make([]float64, len(keep))
	classes := make([]int, len(keep))
	for i, idx := range keep {
		boxes[i] = cands[idx].Box
		scores[i] = cands[idx].Score
		classes[i] = cands[idx].Class
	}
	slog.Debug("Merged detections", "candidates", len(cands), "kept", len(keep))
	return boxes, scores, classes
}
