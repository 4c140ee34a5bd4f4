package detector

import (
	"sort"

	"github.com/MeKo-Tech/defectscan/internal/models"
	"github.com/MeKo-Tech/defectscan/internal/utils"
)

// Size is the pixel extent of a detection box.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Detection is a merged defect in original image pixels.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	BBox       [4]int  `json:"bbox"`
	Size       Size    `json:"size"`
}

// Result is the outcome of running a detector over one image.
type Result struct {
	Detections       []Detection `json:"detections"`
	TotalDefects     int         `json:"total_defects"`
	DefectTypes      []string    `json:"defect_types"`
	Version          string      `json:"model_version"`
	Width            int         `json:"width"`
	Height           int         `json:"height"`
	TileSize         int         `json:"tile_size"`
	TileCount        int         `json:"tile_count"`
	ProcessingTimeMs int64       `json:"processing_time_ms"`
}

// Assemble turns merged parallel slices into detections. Coordinates are
// truncated toward zero.
func Assemble(boxes []utils.Box, scores []float64, classes []int, names models.ClassNames) []Detection {
	n := min(len(boxes), len(scores), len(classes))
	out := make([]Detection, 0, n)
	for i := range n {
		b := boxes[i]
		x1, y1, x2, y2 := int(b.MinX), int(b.MinY), int(b.MaxX), int(b.MaxY)
		out = append(out, Detection{
			Class:      names.Name(classes[i]),
			Confidence: scores[i],
			BBox:       [4]int{x1, y1, x2, y2},
			Size:       Size{Width: x2 - x1, Height: y2 - y1},
		})
	}
	return out
}

// Summarize returns the detection count and the sorted distinct class names.
func Summarize(dets []Detection) (int, []string) {
	seen := make(map[string]struct{}, len(dets))
	types := make([]string, 0)
	for _, d := range dets {
		if _, ok := seen[d.Class]; ok {
			continue
		}
		seen[d.Class] = struct{}{}
		types = append(types, d.Class)
	}
	sort.Strings(types)
	return len(dets), types
}

// ClassCounts tallies detections per class.
func ClassCounts(dets []Detection) map[string]int {
	out := make(map[string]int)
	for _, d := range dets {
		out[d.Class]++
	}
	return out
}
