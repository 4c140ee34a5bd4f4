package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/defectscan/internal/batch"
	"github.com/MeKo-Tech/defectscan/internal/config"
	"github.com/spf13/cobra"
)

// batchCmd represents the batch command for parallel image processing.
var batchCmd = &cobra.Command{
	Use:   "batch [paths...]",
	Short: "Detect defects in many images in parallel",
	Long: `Detect defects in image files and directories using a pool of workers.
For every image an annotated copy (detected_<name>) and a results file
(results_<stem>.txt) are written to the output directory.

Supported formats: JPEG, PNG, BMP

Examples:
  defectscan batch *.jpg *.png
  defectscan batch images/ --recursive --workers 8
  defectscan batch images/ --format json --output-file results.json`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runBatchCommand,
}

// configToBatchConfig maps centralized configuration to batch.Config with
// explicitly set flags taking precedence.
func configToBatchConfig(cfg *config.Config, cmd *cobra.Command, args []string) (*batch.Config, error) {
	bc := batch.DefaultConfig()
	bc.Inputs = args
	bc.Workers = cfg.Batch.Workers
	bc.OutputDir = cfg.Batch.OutputDir
	bc.Recursive = cfg.Batch.Recursive
	bc.Include = cfg.Batch.Include
	bc.Exclude = cfg.Batch.Exclude
	if cfg.Batch.Format != "" {
		bc.Format = cfg.Batch.Format
	}

	f := cmd.Flags()
	if f.Changed("workers") {
		bc.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("output-dir") {
		bc.OutputDir, _ = f.GetString("output-dir")
	}
	if f.Changed("recursive") {
		bc.Recursive, _ = f.GetBool("recursive")
	}
	if f.Changed("include") {
		bc.Include, _ = f.GetStringSlice("include")
	}
	if f.Changed("exclude") {
		bc.Exclude, _ = f.GetStringSlice("exclude")
	}
	if f.Changed("format") {
		bc.Format, _ = f.GetString("format")
	}
	bc.OutputFile, _ = f.GetString("output-file")

	style, err := cfg.AnnotateStyle()
	if err != nil {
		return nil, err
	}
	bc.Style = style

	if quiet, _ := f.GetBool("quiet"); !quiet {
		errOut := cmd.ErrOrStderr()
		bc.Progress = func(done, total int, path string) {
			_, _ = fmt.Fprintf(errOut, "[%d/%d] %s\n", done, total, path)
		}
	}
	return bc, bc.Validate()
}

func runBatchCommand(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	bc, err := configToBatchConfig(cfg, cmd, args)
	if err != nil {
		return err
	}

	ver, _ := cmd.Flags().GetString("model-version")
	if ver == "" {
		ver = cfg.Detection.DefaultVersion
	}
	reg, err := buildRegistry(cfg, ver)
	if err != nil {
		return err
	}
	defer func() { _ = reg.Close() }()

	det, err := reg.Resolve(ver)
	if err != nil {
		return err
	}

	res, err := batch.Run(cmd.Context(), det, bc)
	if err != nil {
		return fmt.Errorf("batch processing failed: %w", err)
	}
	return batch.SaveResults(res, bc.Format, bc.OutputFile, cmd.OutOrStdout())
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().String("model-version", "", "model version to use (default from config)")
	batchCmd.Flags().IntP("workers", "w", 4, "number of images processed in parallel")
	batchCmd.Flags().StringP("output-dir", "d", "results", "directory for annotated images and result files")
	batchCmd.Flags().BoolP("recursive", "r", false, "scan directories recursively")
	batchCmd.Flags().StringSlice("include", nil, "glob patterns of file names to include")
	batchCmd.Flags().StringSlice("exclude", nil, "glob patterns of file names to exclude")
	batchCmd.Flags().StringP("format", "f", "text", "output format: text, json or csv")
	batchCmd.Flags().StringP("output-file", "o", "", "write the report to a file instead of stdout")
	batchCmd.Flags().BoolP("quiet", "q", false, "do not log per-image progress")
}
