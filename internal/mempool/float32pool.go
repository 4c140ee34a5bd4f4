// Package mempool provides size-classed pools for tensor buffers on the inference hot path.
package mempool

import "sync"

const classStep = 64 * 1024

var float32Pools sync.Map // key: size class (int), value: *sync.Pool

// sizeClass rounds n up to the next multiple of classStep.
func sizeClass(n int) int {
	if n <= classStep {
		return classStep
	}
	return ((n + classStep - 1) / classStep) * classStep
}

func poolFor(cls int) *sync.Pool {
	pAny, _ := float32Pools.LoadOrStore(cls, &sync.Pool{New: func() any {
		buf := make([]float32, cls)
		return &buf
	}})
	return pAny.(*sync.Pool)
}

// GetFloat32 returns a []float32 of length n. Contents are not zeroed.
// Return it with PutFloat32 when done.
func GetFloat32(n int) []float32 {
	if n <= 0 {
		return nil
	}
	cls := sizeClass(n)
	bp, ok := poolFor(cls).Get().(*[]float32)
	if !ok || cap(*bp) < cls {
		buf := make([]float32, cls)
		return buf[:n]
	}
	return (*bp)[:n]
}

// PutFloat32 returns a buffer to the pool. Nil and foreign-sized slices are ignored.
func PutFloat32(buf []float32) {
	c := cap(buf)
	if c == 0 || c%classStep != 0 {
		return
	}
	full := buf[:c]
	poolFor(c).Put(&full)
}
