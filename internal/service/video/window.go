package video

import (
	"fmt"
	"image"
	"image/color"

	"crowdwatch/internal/dto"
	"crowdwatch/internal/service/monitor"

	"gocv.io/x/gocv"
)

var boxColor = color.RGBA{R: 0, G: 0, B: 255, A: 0}

// Window shows annotated frames in a native window. Pressing q quits.
type Window struct {
	window *gocv.Window
}

// NewWindow opens a preview window titled title.
func NewWindow(title string) *Window {
	return &Window{window: gocv.NewWindow(title)}
}

// Show draws detections and overlay on the frame, displays it and polls the keyboard.
func (w *Window) Show(frame *Frame, detections []dto.DetectionResult, overlay monitor.Overlay) (bool, error) {
	if err := Annotate(&frame.Mat, detections, overlay); err != nil {
		return false, err
	}

	w.window.IMShow(frame.Mat)
	key := w.window.WaitKey(1)
	return key&0xFF == 'q', nil
}

// Close destroys the window.
func (w *Window) Close() error {
	return w.window.Close()
}

// Annotate draws bounding boxes with confidence labels and the overlay text lines.
func Annotate(mat *gocv.Mat, detections []dto.DetectionResult, overlay monitor.Overlay) error {
	for _, detection := range detections {
		if err := gocv.Rectangle(mat, detection.Rect(), boxColor, 2); err != nil {
			return fmt.Errorf("failed to draw rectangle: %w", err)
		}

		label := fmt.Sprintf("%s %.2f", detection.Label, detection.Confidence)
		pt := image.Pt(detection.X, detection.Y-5)
		if err := gocv.PutText(mat, label, pt, gocv.FontHersheySimplex, 0.5, boxColor, 1); err != nil {
			return fmt.Errorf("failed to draw label: %w", err)
		}
	}

	for i, line := range overlay.Lines {
		pt := image.Pt(10, 30*(i+1))
		if err := gocv.PutText(mat, line.Text, pt, gocv.FontHersheySimplex, line.Scale, line.Color, line.Thickness); err != nil {
			return fmt.Errorf("failed to draw overlay: %w", err)
		}
	}
	return nil
}
