package detector

import (
	"testing"

	"github.com/MeKo-Tech/defectscan/internal/onnx/mock"
	"github.com/MeKo-Tech/defectscan/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeYOLO_Layouts(t *testing.T) {
	boxes := []mock.Box{
		{CX: 100, CY: 100, W: 20, H: 40, Class: 1, Score: 0.8},
		{CX: 300, CY: 50, W: 10, H: 10, Class: 0, Score: 0.6},
	}
	for _, transposed := range []bool{false, true} {
		out := mock.NewYOLOOutput(20, 2, boxes, 0.01, transposed)
		cands, err := DecodeYOLO(out.Data, out.Shape, DecodeOptions{Confidence: 0.25})
		require.NoError(t, err)
		require.Len(t, cands, 2, "transposed=%v", transposed)

		assert.Equal(t, utils.NewBox(90, 80, 110, 120), cands[0].Box)
		assert.Equal(t, 1, cands[0].Class)
		assert.InDelta(t, 0.8, cands[0].Score, 1e-6)
		assert.Equal(t, utils.NewBox(295, 45, 305, 55), cands[1].Box)
		assert.Equal(t, 0, cands[1].Class)
	}
}

func TestDecodeYOLO_ConfidenceAndScale(t *testing.T) {
	out := mock.NewYOLOOutput(10, 1, []mock.Box{
		{CX: 50, CY: 50, W: 10, H: 10, Score: 0.9},
		{CX: 200, CY: 200, W: 10, H: 10, Score: 0.2},
	}, 0, false)

	cands, err := DecodeYOLO(out.Data, out.Shape, DecodeOptions{Confidence: 0.25, ScaleX: 2, ScaleY: 0.5})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, utils.NewBox(90, 22.5, 110, 27.5), cands[0].Box)
}

func TestDecodeYOLO_PerClassSuppression(t *testing.T) {
	out := mock.NewYOLOOutput(10, 2, []mock.Box{
		{CX: 50, CY: 50, W: 20, H: 20, Class: 0, Score: 0.9},
		{CX: 51, CY: 50, W: 20, H: 20, Class: 0, Score: 0.7},
		{CX: 51, CY: 50, W: 20, H: 20, Class: 1, Score: 0.6},
	}, 0, false)

	cands, err := DecodeYOLO(out.Data, out.Shape, DecodeOptions{})
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, 0, cands[0].Class)
	assert.InDelta(t, 0.9, cands[0].Score, 1e-6)
	assert.Equal(t, 1, cands[1].Class)
}

func TestDecodeYOLO_MaxDetections(t *testing.T) {
	var boxes []mock.Box
	for i := range 5 {
		boxes = append(boxes, mock.Box{CX: float32(20 + 40*i), CY: 20, W: 10, H: 10, Score: 0.5 + float32(i)/10})
	}
	out := mock.NewYOLOOutput(10, 1, boxes, 0, false)

	cands, err := DecodeYOLO(out.Data, out.Shape, DecodeOptions{Confidence: 0.1, MaxDet: 3})
	require.NoError(t, err)
	require.Len(t, cands, 3)
	assert.InDelta(t, 0.9, cands[0].Score, 1e-6)
	assert.InDelta(t, 0.7, cands[2].Score, 1e-6)
}

func TestDecodeYOLO_SkipsDegenerateBoxes(t *testing.T) {
	out := mock.NewYOLOOutput(10, 1, []mock.Box{{CX: 50, CY: 50, W: 0, H: 10, Score: 0.9}}, 0, false)
	cands, err := DecodeYOLO(out.Data, out.Shape, DecodeOptions{})
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestDecodeYOLO_BadShapes(t *testing.T) {
	_, err := DecodeYOLO(make([]float32, 12), []int64{3, 4}, DecodeOptions{})
	require.Error(t, err)

	_, err = DecodeYOLO(make([]float32, 10), []int64{1, 6, 2}, DecodeOptions{})
	require.Error(t, err)

	_, err = DecodeYOLO(make([]float32, 40), []int64{1, 4, 10}, DecodeOptions{})
	require.Error(t, err)
}
