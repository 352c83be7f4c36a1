package monitor

import (
	"fmt"
	"io"

	"crowdwatch/internal/dto"

	"github.com/schollz/progressbar/v3"
)

// ProgressDisplay replaces the preview window in headless runs with a progress bar.
// It never asks to quit; headless runs stop on stream end or interrupt.
type ProgressDisplay[F Frame] struct {
	bar *progressbar.ProgressBar
}

// NewProgressDisplay writes progress to w. A total of -1 renders a spinner for live streams.
func NewProgressDisplay[F Frame](vehicleID string, total int, w io.Writer) *ProgressDisplay[F] {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription(fmt.Sprintf("🚌 Vehicle %s", vehicleID)),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(0),
	)
	return &ProgressDisplay[F]{bar: bar}
}

// Show advances the bar and puts the passenger count in its description.
func (p *ProgressDisplay[F]) Show(_ F, detections []dto.DetectionResult, overlay Overlay) (bool, error) {
	text := overlay.Text()
	if len(text) > 1 {
		p.bar.Describe(fmt.Sprintf("🚌 %s | %s", text[0], text[1]))
	}
	return false, p.bar.Add(1)
}

// Close finishes the bar.
func (p *ProgressDisplay[F]) Close() error {
	return p.bar.Finish()
}
