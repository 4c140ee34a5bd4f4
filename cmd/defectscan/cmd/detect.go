package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/defectscan/internal/detector"
	"github.com/MeKo-Tech/defectscan/internal/utils"
	"github.com/spf13/cobra"
)

// detectCmd runs detection on one image.
var detectCmd = &cobra.Command{
	Use:   "detect <image>",
	Short: "Detect defects in a single image",
	Long: `Run tiled defect detection on one image and print the result as JSON.

Examples:
  defectscan detect plate.jpg
  defectscan detect plate.jpg --model-version YOLOv8
  defectscan detect plate.png --output plate_detected.png`,
	Args: cobra.ExactArgs(1),
	RunE: runDetect,
}

func runDetect(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}

	ver, _ := cmd.Flags().GetString("model-version")
	if ver == "" {
		ver = cfg.Detection.DefaultVersion
	}
	output, _ := cmd.Flags().GetString("output")
	if output != "" && !utils.IsSupportedImage(output) {
		return fmt.Errorf("unsupported output format %q", output)
	}

	img, meta, err := utils.LoadImage(args[0])
	if err != nil {
		return err
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

	slog.Debug("Running detection", "file", args[0], "width", meta.Width, "height", meta.Height,
		"version", det.Version())
	res, err := det.Detect(cmd.Context(), img)
	if err != nil {
		return fmt.Errorf("defect detection failed: %w", err)
	}

	if output != "" {
		style, err := cfg.AnnotateStyle()
		if err != nil {
			return err
		}
		if err := utils.SaveImage(detector.Annotate(img, res.Detections, style), output); err != nil {
			return fmt.Errorf("failed to save annotated image: %w", err)
		}
		slog.Info("Annotated image saved", "path", output)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func init() {
	rootCmd.AddCommand(detectCmd)
	detectCmd.Flags().String("model-version", "", "model version to use (default from config)")
	detectCmd.Flags().StringP("output", "o", "", "write the annotated image to this path")
}
