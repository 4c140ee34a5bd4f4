package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// FormatResults renders res in the given format.
func FormatResults(res *Result, format string) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(res)
	case FormatCSV:
		return formatCSV(res)
	default: // text
		return formatText(res), nil
	}
}

// SaveResults writes the formatted results to outputFile, or to w when
// outputFile is empty.
func SaveResults(res *Result, format, outputFile string, w io.Writer) error {
	out, err := FormatResults(res, format)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}
	if outputFile == "" {
		_, err := io.WriteString(w, out)
		return err
	}
	if err := os.WriteFile(outputFile, []byte(out), 0o600); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

func formatJSON(res *Result) (string, error) {
	bts, err := json.MarshalIndent(res, "", "  ")
	return string(bts), err
}

func formatCSV(res *Result) (string, error) {
	rows := [][]string{{"file", "index", "class", "confidence", "x1", "y1", "x2", "y2", "width", "height"}}
	for _, img := range res.Images {
		if img.Result == nil || len(img.Result.Detections) == 0 {
			rows = append(rows, []string{img.Path, "", "", "", "", "", "", "", "", ""})
			continue
		}
		for i, d := range img.Result.Detections {
			rows = append(rows, []string{
				img.Path,
				strconv.Itoa(i),
				d.Class,
				fmt.Sprintf("%.3f", d.Confidence),
				strconv.Itoa(d.BBox[0]),
				strconv.Itoa(d.BBox[1]),
				strconv.Itoa(d.BBox[2]),
				strconv.Itoa(d.BBox[3]),
				strconv.Itoa(d.Size.Width),
				strconv.Itoa(d.Size.Height),
			})
		}
	}

	var output strings.Builder
	writer := csv.NewWriter(&output)
	if err := writer.WriteAll(rows); err != nil {
		return "", err
	}
	return output.String(), nil
}

func formatText(res *Result) string {
	var output strings.Builder
	for i, img := range res.Images {
		if i > 0 {
			output.WriteString("\n")
		}
		fmt.Fprintf(&output, "# %s\n", img.Path)
		switch {
		case img.Error != "":
			fmt.Fprintf(&output, "error: %s\n", img.Error)
		case img.Result == nil || len(img.Result.Detections) == 0:
			output.WriteString("no defects\n")
		default:
			output.WriteString(resultLines(img.Result.Detections))
		}
	}
	output.WriteString("\n")
	output.WriteString(FormatSummary(res.Summary))
	return output.String()
}

// FormatSummary renders the run totals with per-class counts sorted by name.
func FormatSummary(s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Images: %d (succeeded %d, failed %d)\n", s.Images, s.Succeeded, s.Failed)
	fmt.Fprintf(&b, "Defects: %d\n", s.TotalDetections)
	classes := make([]string, 0, len(s.ClassCounts))
	for c := range s.ClassCounts {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	for _, c := range classes {
		fmt.Fprintf(&b, "  %s: %d\n", c, s.ClassCounts[c])
	}
	fmt.Fprintf(&b, "Workers: %d, duration: %dms\n", s.Workers, s.DurationMs)
	return b.String()
}
