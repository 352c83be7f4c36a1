package main

import (
	"context"
	"fmt"
	"time"

	"crowdwatch/internal/app"
	"crowdwatch/internal/config"

	"github.com/spf13/cobra"
)

// Version is the application version.
const Version = "0.1.0"

type runFunc func(ctx context.Context, cfg *config.Config, opts app.DetectorOptions) error

// newRootCmd builds the detector command. Flags default to the values loaded from the environment.
func newRootCmd(cfg *config.Config, run runFunc) *cobra.Command {
	var opts app.DetectorOptions
	interval := int(cfg.UpdateInterval / time.Second)

	cmd := &cobra.Command{
		Use:           "detector",
		Short:         "Real-time passenger counting for a bus camera feed",
		Long:          "Counts people in a camera feed with a YOLO model and periodically reports the count to the crowd backend.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval < 0 {
				return fmt.Errorf("--interval must not be negative, got %d", interval)
			}
			if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
				return fmt.Errorf("--confidence must be between 0 and 1, got %v", cfg.ConfidenceThreshold)
			}
			cfg.UpdateInterval = time.Duration(interval) * time.Second
			return run(cmd.Context(), cfg, opts)
		},
	}
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	flags := cmd.Flags()
	flags.StringVar(&opts.VehicleID, "vehicle-id", "", "Vehicle/Bus ID (e.g. 21G, 27C)")
	flags.StringVar(&cfg.VideoSource, "video-source", cfg.VideoSource, "Video source: device index, video file or RTSP URL")
	flags.StringVar(&cfg.ModelPath, "model", cfg.ModelPath, "Detection model path (YOLOv8 .onnx, or SSD graph with --model-config)")
	flags.StringVar(&cfg.ModelConfigPath, "model-config", cfg.ModelConfigPath, "Model config file for non-ONNX graphs")
	flags.IntVar(&interval, "interval", interval, "Update interval in seconds")
	flags.StringVar(&cfg.APIURL, "api-url", cfg.APIURL, "Crowd update endpoint")
	flags.Float64Var(&cfg.ConfidenceThreshold, "confidence", cfg.ConfidenceThreshold, "Minimum confidence for a person detection")
	flags.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "Timeout of one update request")
	flags.StringVar(&cfg.LogDirectory, "log-dir", cfg.LogDirectory, "Also write logs to files in this directory")
	flags.BoolVar(&opts.Headless, "headless", false, "Run without a preview window and show a progress bar instead")

	cmd.MarkFlagRequired("vehicle-id")
	return cmd
}
