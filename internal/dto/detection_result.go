package dto

import "image"

// DetectionResult is one object found in a frame, in pixel coordinates.
type DetectionResult struct {
	Label      string
	Confidence float64
	X          int
	Y          int
	Width      int
	Height     int
}

// Rect returns the bounding box of the detection.
func (d DetectionResult) Rect() image.Rectangle {
	return image.Rect(d.X, d.Y, d.X+d.Width, d.Y+d.Height)
}

// FilterAbove returns the detections with a confidence of at least threshold.
func FilterAbove(detections []DetectionResult, threshold float64) []DetectionResult {
	kept := make([]DetectionResult, 0, len(detections))
	for _, d := range detections {
		if d.Confidence >= threshold {
			kept = append(kept, d)
		}
	}
	return kept
}
