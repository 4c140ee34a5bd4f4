package tiling

import (
	"math"
	"testing"

	"github.com/MeKo-Tech/defectscan/internal/utils"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemap(t *testing.T) {
	tile := Tile{X: 448, Y: 896, Width: 640, Height: 384}
	cands := []Candidate{
		{Box: utils.NewBox(10, 20, 50, 60), Score: 0.9, Class: 0},
		{Box: utils.NewBox(600, 300, 700, 500), Score: 0.8, Class: 1},
		{Box: utils.NewBox(0, 0, 5, 5), Score: 0.1, Class: 0},
	}

	out := Remap(cands, tile, 1000, 1280, 0.3)
	require.Len(t, out, 2)
	assert.Equal(t, utils.Box{MinX: 458, MinY: 916, MaxX: 498, MaxY: 956}, out[0].Box)
	assert.Equal(t, utils.Box{MinX: 1000, MinY: 1196, MaxX: 1000, MaxY: 1280}, out[1].Box)
	assert.Equal(t, 1, out[1].Class)
}

func TestRemap_KeepsScoreAtThreshold(t *testing.T) {
	out := Remap([]Candidate{{Box: utils.NewBox(0, 0, 1, 1), Score: 0.3}}, Tile{}, 10, 10, 0.3)
	assert.Len(t, out, 1)
}

func TestRemap_BoundsProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("remapped boxes lie within the image", prop.ForAll(
		func(x1, y1, x2, y2 float64, ox, oy, w, h int) bool {
			tile := Tile{X: ox, Y: oy}
			out := Remap([]Candidate{{Box: utils.NewBox(x1, y1, x2, y2), Score: 1}}, tile, w, h, 0)
			b := out[0].Box
			return b.MinX >= 0 && b.MinX <= b.MaxX && b.MaxX <= float64(w) &&
				b.MinY >= 0 && b.MinY <= b.MaxY && b.MaxY <= float64(h)
		},
		gen.Float64Range(-100, 800),
		gen.Float64Range(-100, 800),
		gen.Float64Range(-100, 800),
		gen.Float64Range(-100, 800),
		gen.IntRange(0, 2000),
		gen.IntRange(0, 2000),
		gen.IntRange(1, 2500),
		gen.IntRange(1, 2500),
	))

	properties.TestingRun(t)
}

func TestNMS_SuppressesAboveThreshold(t *testing.T) {
	a := Candidate{Box: utils.NewBox(0, 0, 100, 100), Score: 0.7}
	b := Candidate{Box: utils.NewBox(10, 0, 110, 100), Score: 0.9}

	keep, err := NMS([]Candidate{a, b}, 0.4, false)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, keep)
}

func TestNMS_KeepsBothBelowThreshold(t *testing.T) {
	a := Candidate{Box: utils.NewBox(0, 0, 100, 100), Score: 0.7}
	b := Candidate{Box: utils.NewBox(80, 0, 180, 100), Score: 0.9}

	keep, err := NMS([]Candidate{a, b}, 0.4, false)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, keep)
}

func TestNMS_ClassAgnosticVsAware(t *testing.T) {
	cands := []Candidate{
		{Box: utils.NewBox(0, 0, 100, 100), Score: 0.9, Class: 0},
		{Box: utils.NewBox(0, 0, 100, 100), Score: 0.8, Class: 1},
	}

	keep, err := NMS(cands, 0.5, false)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, keep)

	keep, err = NMS(cands, 0.5, true)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, keep)
}

func TestNMS_RejectsNonFinite(t *testing.T) {
	_, err := NMS([]Candidate{{Box: utils.NewBox(0, 0, 1, 1), Score: math.NaN()}}, 0.5, false)
	require.ErrorIs(t, err, ErrInvalidCandidate)

	_, err = NMS([]Candidate{{Box: utils.Box{MaxX: math.Inf(1)}, Score: 0.5}}, 0.5, false)
	require.ErrorIs(t, err, ErrInvalidCandidate)
}

func TestMerge_EmptyInput(t *testing.T) {
	boxes, scores, classes := Merge(nil, 0.4, false)
	assert.NotNil(t, boxes)
	assert.Empty(t, boxes)
	assert.Empty(t, scores)
	assert.Empty(t, classes)
}

func TestMerge_FailureYieldsEmpty(t *testing.T) {
	cands := []Candidate{
		{Box: utils.NewBox(0, 0, 10, 10), Score: 0.9},
		{Box: utils.Box{MinX: math.NaN()}, Score: 0.8},
	}
	boxes, scores, classes := Merge(cands, 0.4, false)
	assert.Empty(t, boxes)
	assert.Empty(t, scores)
	assert.Empty(t, classes)
}

func TestMerge_ParallelSlicesSortedByScore(t *testing.T) {
	cands := []Candidate{
		{Box: utils.NewBox(0, 0, 10, 10), Score: 0.5, Class: 2},
		{Box: utils.NewBox(100, 100, 110, 110), Score: 0.95, Class: 0},
		{Box: utils.NewBox(1, 1, 11, 11), Score: 0.6, Class: 1},
	}
	boxes, scores, classes := Merge(cands, 0.4, false)
	require.Len(t, boxes, 2)
	assert.Equal(t, []float64{0.95, 0.6}, scores)
	assert.Equal(t, []int{0, 1}, classes)
	assert.Equal(t, utils.NewBox(1, 1, 11, 11), boxes[1])
}

func genCandidates() gopter.Gen {
	return gen.SliceOfN(25, gopter.CombineGens(
		gen.Float64Range(0, 500),
		gen.Float64Range(0, 500),
		gen.Float64Range(5, 120),
		gen.Float64Range(0.01, 1),
		gen.IntRange(0, 3),
	).Map(func(vals []interface{}) Candidate {
		x, y, s := vals[0].(float64), vals[1].(float64), vals[2].(float64)
		return Candidate{
			Box:   utils.NewBox(x, y, x+s, y+s),
			Score: vals[3].(float64),
			Class: vals[4].(int),
		}
	}))
}

func TestNMS_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("kept boxes never overlap above the threshold", prop.ForAll(
		func(cands []Candidate, iou float64) bool {
			keep, err := NMS(cands, iou, false)
			if err != nil {
				return false
			}
			for i := range keep {
				for j := i + 1; j < len(keep); j++ {
					if utils.IoU(cands[keep[i]].Box, cands[keep[j]].Box) > iou {
						return false
					}
				}
			}
			return true
		},
		genCandidates(),
		gen.Float64Range(0.1, 0.9),
	))

	properties.Property("output is sorted by score and the best box survives", prop.ForAll(
		func(cands []Candidate, iou float64) bool {
			if len(cands) == 0 {
				return true
			}
			keep, err := NMS(cands, iou, false)
			if err != nil || len(keep) == 0 {
				return false
			}
			best := 0.0
			for _, c := range cands {
				best = math.Max(best, c.Score)
			}
			if cands[keep[0]].Score != best {
				return false
			}
			for i := 1; i < len(keep); i++ {
				if cands[keep[i]].Score > cands[keep[i-1]].Score {
					return false
				}
			}
			return true
		},
		genCandidates(),
		gen.Float64Range(0.1, 0.9),
	))

	properties.Property("every suppressed box overlaps a kept one", prop.ForAll(
		func(cands []Candidate, iou float64) bool {
			keep, err := NMS(cands, iou, false)
			if err != nil {
				return false
			}
			kept := make(map[int]bool, len(keep))
			for _, k := range keep {
				kept[k] = true
			}
			for i, c := range cands {
				if kept[i] {
					continue
				}
				covered := false
				for _, k := range keep {
					if utils.IoU(c.Box, cands[k].Box) > iou {
						covered = true
						break
					}
				}
				if !covered {
					return false
				}
			}
			return true
		},
		genCandidates(),
		gen.Float64Range(0.1, 0.9),
	))

	properties.TestingRun(t)
}
