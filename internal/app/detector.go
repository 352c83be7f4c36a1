package app

import (
	"context"
	"fmt"
	"os"

	"crowdwatch/internal/config"
	"crowdwatch/internal/logger"
	"crowdwatch/internal/service/ai"
	"crowdwatch/internal/service/monitor"
	"crowdwatch/internal/service/report"
	"crowdwatch/internal/service/video"
)

// DetectorOptions are the per-run settings that do not come from the environment.
type DetectorOptions struct {
	VehicleID string
	Headless  bool
}

// DetectorApp wires the camera, model, backend client and display into one monitor loop.
type DetectorApp struct {
	config  *config.Config
	options DetectorOptions
	logger  *logger.Logger
}

func NewDetectorApp(cfg *config.Config, opts DetectorOptions, logger *logger.Logger) *DetectorApp {
	return &DetectorApp{config: cfg, options: opts, logger: logger}
}

// Run blocks until the stream ends, the user quits or ctx is cancelled.
func (a *DetectorApp) Run(ctx context.Context) error {
	fmt.Printf("🚌 Crowd Detector\n")
	fmt.Printf("   Vehicle ID: %s\n", a.options.VehicleID)
	fmt.Printf("   Video Source: %s\n", a.config.VideoSource)
	fmt.Printf("   Model: %s\n", a.config.ModelPath)
	fmt.Printf("   API Endpoint: %s\n", a.config.APIURL)
	fmt.Printf("   Update Interval: %s\n", a.config.UpdateInterval)

	detector, err := ai.NewDetectorService(a.config, a.logger)
	if err != nil {
		a.logger.Error("Cannot load model: %v", err)
		return err
	}
	defer detector.Close()

	a.logger.Info("🎥 Starting video capture from: %s", a.config.VideoSource)
	capture, err := video.OpenCapture(a.config.VideoSource)
	if err != nil {
		a.logger.Error("Cannot open video source: %v", err)
		return err
	}

	var display monitor.Display[*video.Frame]
	if a.options.Headless {
		display = monitor.NewProgressDisplay[*video.Frame](a.options.VehicleID, capture.FrameCount(), os.Stderr)
	} else {
		display = video.NewWindow(fmt.Sprintf("Crowd Detection - Vehicle %s", a.options.VehicleID))
		a.logger.Info("Press 'q' to quit")
	}

	loop := monitor.New[*video.Frame](capture, detector, display,
		report.NewClient(a.config.APIURL, a.config.RequestTimeout), a.logger,
		monitor.Options{
			VehicleID: a.options.VehicleID,
			Threshold: a.config.ConfidenceThreshold,
			Interval:  a.config.UpdateInterval,
		})

	return loop.Run(ctx)
}
