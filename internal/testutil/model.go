package testutil

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/defectscan/internal/models"
	"github.com/MeKo-Tech/defectscan/internal/tiling"
	"github.com/MeKo-Tech/defectscan/internal/utils"
)

// ErrModelFailure is returned by BlobModel when FailOnCall is reached.
var ErrModelFailure = errors.New("synthetic model failure")

// BlobModel is an in-memory detector that reports every 4-connected blob of
// bright pixels in a tile as one candidate.
type BlobModel struct {
	Score      float64
	Class      int
	Names      models.ClassNames
	FailOnCall int64         // 1-based call number that fails, 0 = never
	Delay      time.Duration // simulated inference time per tile

	calls  atomic.Int64
	closed atomic.Bool
}

// NewBlobModel returns a model that labels blobs as "scratches" with score 0.9.
func NewBlobModel() *BlobModel {
	return &BlobModel{Score: 0.9, Names: models.NewClassNames(models.ScratchClasses)}
}

// Calls returns how many times Predict ran.
func (m *BlobModel) Calls() int64 { return m.calls.Load() }

// Closed reports whether Close was called.
func (m *BlobModel) Closed() bool { return m.closed.Load() }

// ClassNames returns the configured class table.
func (m *BlobModel) ClassNames() models.ClassNames { return m.Names }

// Close marks the model closed.
func (m *BlobModel) Close() error {
	m.closed.Store(true)
	return nil
}

// Predict finds bright blobs in tile.
func (m *BlobModel) Predict(ctx context.Context, tile image.Image, conf float64) ([]tiling.Candidate, error) {
	n := m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Delay):
		}
	}
	if m.FailOnCall > 0 && n == m.FailOnCall {
		return nil, ErrModelFailure
	}
	if m.Score < conf {
		return nil, nil
	}

	b := tile.Bounds()
	w, h := b.Dx(), b.Dy()
	bright := make([]bool, w*h)
	for y := range h {
		for x := range w {
			r, g, bl, _ := tile.At(b.Min.X+x, b.Min.Y+y).RGBA()
			bright[y*w+x] = r>>8 > 200 && g>>8 > 200 && bl>>8 > 200
		}
	}

	var out []tiling.Candidate
	seen := make([]bool, w*h)
	stack := make([]int, 0, 64)
	for start := range bright {
		if !bright[start] || seen[start] {
			continue
		}
		minX, minY, maxX, maxY := w, h, -1, -1
		stack = append(stack[:0], start)
		seen[start] = true
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := p%w, p/w
			minX, minY = min(minX, x), min(minY, y)
			maxX, maxY = max(maxX, x), max(maxY, y)
			for _, q := range [...]int{p - 1, p + 1, p - w, p + w} {
				if q < 0 || q >= len(bright) || seen[q] || !bright[q] {
					continue
				}
				if (q == p-1 && x == 0) || (q == p+1 && x == w-1) {
					continue
				}
				seen[q] = true
				stack = append(stack, q)
			}
		}
		out = append(out, tiling.Candidate{
			Box:   utils.NewBox(float64(minX), float64(minY), float64(maxX+1), float64(maxY+1)),
			Score: m.Score,
			Class: m.Class,
		})
	}
	return out, nil
}
