package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/MeKo-Tech/defectscan/internal/benchmark"
	"github.com/MeKo-Tech/defectscan/internal/utils"
	"github.com/spf13/cobra"
)

// benchCmd compares detection speed of the configured model versions.
var benchCmd = &cobra.Command{
	Use:   "bench <image> [image...]",
	Short: "Benchmark the configured model versions",
	Long: `Run every configured model version over the same images and report
latency per run and per tile.

Examples:
  defectscan bench plate1.jpg plate2.jpg
  defectscan bench plate.jpg --iterations 10 --model-version YOLOv8
  defectscan bench plate.jpg --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBench,
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	iterations, _ := cmd.Flags().GetInt("iterations")
	ver, _ := cmd.Flags().GetString("model-version")
	asJSON, _ := cmd.Flags().GetBool("json")
	if iterations < 1 {
		return fmt.Errorf("iterations must be at least 1, got %d", iterations)
	}

	reg, err := buildRegistry(cfg, ver)
	if err != nil {
		return err
	}
	defer func() { _ = reg.Close() }()

	suite := benchmark.NewSuite(reg)
	for _, path := range args {
		img, _, err := utils.LoadImage(path)
		if err != nil {
			return err
		}
		suite.AddImage(filepath.Base(path), img)
	}

	results := suite.RunAll(cmd.Context(), iterations)
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		benchmark.WriteReport(cmd.OutOrStdout(), results)
	}

	for _, r := range results {
		if r.ErrorMessage != "" {
			return fmt.Errorf("benchmark of %s failed: %s", r.Version, r.ErrorMessage)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().Int("iterations", 3, "Passes over the image set per model version")
	benchCmd.Flags().String("model-version", "", "Benchmark only this model version")
	benchCmd.Flags().Bool("json", false, "Print results as JSON")
}
