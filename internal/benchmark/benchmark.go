// Package benchmark measures detection latency and memory per model version.
package benchmark

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/MeKo-Tech/defectscan/internal/detector"
)

// Timer measures one named interval.
type Timer struct {
	start    time.Time
	name     string
	duration time.Duration
}

// NewTimer starts a timer.
func NewTimer(name string) *Timer {
	return &Timer{name: name, start: time.Now()}
}

// Stop stops the timer and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	t.duration = time.Since(t.start)
	return t.duration
}

// Duration returns the recorded duration (only valid after Stop()).
func (t *Timer) Duration() time.Duration {
	return t.duration
}

func (t *Timer) String() string {
	return fmt.Sprintf("%s: %v", t.name, t.duration)
}

// MemoryStats holds memory usage statistics.
type MemoryStats struct {
	AllocBytes      uint64
	TotalAllocBytes uint64
	SysBytes        uint64
	NumGC           uint32
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		AllocBytes:      m.Alloc,
		TotalAllocBytes: m.TotalAlloc,
		SysBytes:        m.Sys,
		NumGC:           m.NumGC,
	}
}

func (m MemoryStats) String() string {
	return fmt.Sprintf("Alloc: %d KB, Total: %d KB, Sys: %d KB, GC: %d",
		m.AllocBytes/1024, m.TotalAllocBytes/1024, m.SysBytes/1024, m.NumGC)
}

// Result is the outcome of running one model version over an image set.
type Result struct {
	Version      string        `json:"version"`
	Images       int           `json:"images"`
	Iterations   int           `json:"iterations"`
	Runs         int           `json:"runs"`
	Tiles        int           `json:"tiles"`
	Defects      int           `json:"defects"`
	Total        time.Duration `json:"total_ns"`
	Min          time.Duration `json:"min_ns"`
	Max          time.Duration `json:"max_ns"`
	AllocatedKB  int64         `json:"allocated_kb"`
	ErrorMessage string        `json:"error,omitempty"`
}

// Average returns the mean duration of one detection run.
func (r Result) Average() time.Duration {
	if r.Runs == 0 {
		return 0
	}
	return r.Total / time.Duration(r.Runs)
}

// PerTile returns the mean duration per inferred tile.
func (r Result) PerTile() time.Duration {
	if r.Tiles == 0 {
		return 0
	}
	return r.Total / time.Duration(r.Tiles)
}

func (r Result) String() string {
	if r.ErrorMessage != "" {
		return fmt.Sprintf("%s: ERROR - %s", r.Version, r.ErrorMessage)
	}
	return fmt.Sprintf("%s: %d runs, avg: %v, min: %v, max: %v, per tile: %v, defects: %d, mem: +%d KB",
		r.Version, r.Runs, r.Average(), r.Min, r.Max, r.PerTile(), r.Defects, r.AllocatedKB)
}

// Suite runs every registered model version over the same images.
type Suite struct {
	registry *detector.Registry
	images   []namedImage
	results  []Result
	mu       sync.Mutex
}

type namedImage struct {
	name string
	img  image.Image
}

// NewSuite creates a suite for the versions loaded in reg.
func NewSuite(reg *detector.Registry) *Suite {
	return &Suite{registry: reg}
}

// AddImage adds an image to the benchmark set.
func (s *Suite) AddImage(name string, img image.Image) {
	s.images = append(s.images, namedImage{name: name, img: img})
}

// Run benchmarks one version. Errors are reported in the result.
func (s *Suite) Run(ctx context.Context, version string, iterations int) Result {
	res := Result{Version: version, Images: len(s.images), Iterations: iterations}
	det, ok := s.registry.Get(version)
	if !ok {
		res.ErrorMessage = fmt.Sprintf("model version %q not loaded", version)
		return res
	}
	res.Version = det.Version()
	if err := s.run(ctx, det, iterations, &res); err != nil {
		res.ErrorMessage = err.Error()
	}
	return res
}

// RunAll benchmarks every loaded version in name order.
func (s *Suite) RunAll(ctx context.Context, iterations int) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.registry.Versions()
	sort.Strings(versions)
	s.results = make([]Result, 0, len(versions))
	for _, v := range versions {
		s.results = append(s.results, s.Run(ctx, v, iterations))
	}
	return s.results
}

func (s *Suite) run(ctx context.Context, det *detector.Detector, iterations int, res *Result) error {
	if len(s.images) == 0 {
		return errors.New("no images to benchmark")
	}
	if iterations < 1 {
		return fmt.Errorf("iterations must be at least 1, got %d", iterations)
	}

	// Warm-up run outside the measurement.
	if _, err := det.Detect(ctx, s.images[0].img); err != nil {
		return fmt.Errorf("warm-up on %s: %w", s.images[0].name, err)
	}

	runtime.GC()
	before := GetMemoryStats()

	for range iterations {
		for _, ni := range s.images {
			timer := NewTimer(ni.name)
			out, err := det.Detect(ctx, ni.img)
			d := timer.Stop()
			if err != nil {
				return fmt.Errorf("%s: %w", ni.name, err)
			}
			if res.Runs == 0 || d < res.Min {
				res.Min = d
			}
			res.Max = max(res.Max, d)
			res.Total += d
			res.Runs++
			res.Tiles += out.TileCount
			res.Defects += out.TotalDefects
		}
	}

	after := GetMemoryStats()
	res.AllocatedKB = int64(after.TotalAllocBytes-before.TotalAllocBytes) / 1024 //nolint:gosec // display only
	return nil
}

// Results returns the last RunAll results.
func (s *Suite) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results
}

// WriteReport prints results and, with two or more successful versions,
// the speed of each relative to the fastest.
func WriteReport(w io.Writer, results []Result) {
	_, _ = fmt.Fprintln(w, "Benchmark Results:")
	_, _ = fmt.Fprintln(w, "==================")
	var fastest time.Duration
	ok := 0
	for _, r := range results {
		_, _ = fmt.Fprintln(w, r.String())
		if r.ErrorMessage != "" || r.Runs == 0 {
			continue
		}
		ok++
		if fastest == 0 || r.Average() < fastest {
			fastest = r.Average()
		}
	}
	if ok < 2 || fastest == 0 {
		return
	}
	_, _ = fmt.Fprintln(w)
	for _, r := range results {
		if r.ErrorMessage != "" || r.Runs == 0 {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s: %.2fx of fastest\n", r.Version, float64(r.Average())/float64(fastest))
	}
}
