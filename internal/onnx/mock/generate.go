// Package mock builds synthetic YOLO head outputs for decoder tests.
package mock

// Box is a detection in model input pixels, center format.
type Box struct {
	CX, CY, W, H float32
	Class        int
	Score        float32
}

// YOLOOutput is a flat detection head output with its shape.
type YOLOOutput struct {
	Data  []float32
	Shape []int64
}

// NewYOLOOutput creates a head output with the given number of anchors and
// classes. Boxes fill the first anchors; remaining anchors carry background
// scores. With transposed=false the layout is [1, 4+nc, anchors] as exported
// by YOLOv8/YOLOv11, otherwise [1, anchors, 4+nc].
func NewYOLOOutput(anchors, classes int, boxes []Box, background float32, transposed bool) YOLOOutput {
	if anchors <= 0 || classes <= 0 || len(boxes) > anchors {
		return YOLOOutput{Shape: []int64{}}
	}
	attrs := 4 + classes
	data := make([]float32, attrs*anchors)

	set := func(anchor, attr int, v float32) {
		if transposed {
			data[anchor*attrs+attr] = v
			return
		}
		data[attr*anchors+anchor] = v
	}

	for a := range anchors {
		for c := range classes {
			set(a, 4+c, background)
		}
	}
	for a, b := range boxes {
		set(a, 0, b.CX)
		set(a, 1, b.CY)
		set(a, 2, b.W)
		set(a, 3, b.H)
		if b.Class >= 0 && b.Class < classes {
			set(a, 4+b.Class, b.Score)
		}
	}

	shape := []int64{1, int64(attrs), int64(anchors)}
	if transposed {
		shape = []int64{1, int64(anchors), int64(attrs)}
	}
	return YOLOOutput{Data: data, Shape: shape}
}
