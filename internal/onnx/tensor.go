package onnx

import (
	"errors"
	"fmt"
)

// Tensor is a float32 tensor in row-major order.
type Tensor struct {
	Data  []float32
	Shape []int64
}

// NewImageTensor builds a single-image tensor with shape [1, C, H, W].
// data must be length C*H*W in NCHW order.
func NewImageTensor(data []float32, c, h, w int) (Tensor, error) {
	if data == nil {
		return Tensor{}, errors.New("nil data")
	}
	if expected := c * h * w; len(data) != expected {
		return Tensor{}, fmt.Errorf("unexpected data length: got %d, want %d", len(data), expected)
	}
	return Tensor{Data: data, Shape: []int64{1, int64(c), int64(h), int64(w)}}, nil
}

// ValidateNCHW ensures a shape is [N, C, H, W] with positive dimensions.
func ValidateNCHW(shape []int64) error {
	if len(shape) != 4 {
		return fmt.Errorf("shape rank %d != 4", len(shape))
	}
	for i, v := range shape {
		if v <= 0 {
			return fmt.Errorf("dimension %d must be > 0, got %d", i, v)
		}
	}
	return nil
}

// StaticInputSize returns the spatial size of a declared model input shape
// [N, C, H, W]. ok is false when H or W is dynamic (non-positive).
func StaticInputSize(shape []int64) (h, w int, ok bool) {
	if len(shape) != 4 || shape[2] <= 0 || shape[3] <= 0 {
		return 0, 0, false
	}
	return int(shape[2]), int(shape[3]), true
}

// Elements returns the product of the shape dimensions.
func Elements(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}
