package monitor

import (
	"fmt"
	"image/color"
)

var (
	green  = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	white  = color.RGBA{R: 255, G: 255, B: 255, A: 0}
	yellow = color.RGBA{R: 255, G: 255, B: 0, A: 0}
)

// OverlayLine is one line of diagnostic text drawn in the top-left corner.
type OverlayLine struct {
	Text      string
	Scale     float64
	Color     color.RGBA
	Thickness int
}

// Overlay is the diagnostic text for one frame, top to bottom.
type Overlay struct {
	Lines []OverlayLine
}

// BuildOverlay returns the text drawn over a processed frame.
func BuildOverlay(vehicleID string, peopleCount, frameNumber int, updateSent bool) Overlay {
	lines := []OverlayLine{
		{Text: fmt.Sprintf("Vehicle: %s", vehicleID), Scale: 0.7, Color: green, Thickness: 2},
		{Text: fmt.Sprintf("Passengers: %d", peopleCount), Scale: 0.7, Color: green, Thickness: 2},
		{Text: fmt.Sprintf("Frame: %d", frameNumber), Scale: 0.5, Color: white, Thickness: 1},
	}
	if updateSent {
		lines = append(lines, OverlayLine{Text: "UPDATE SENT", Scale: 0.5, Color: yellow, Thickness: 2})
	}
	return Overlay{Lines: lines}
}

// Text returns the overlay lines as plain strings.
func (o Overlay) Text() []string {
	text := make([]string, len(o.Lines))
	for i, line := range o.Lines {
		text[i] = line.Text
	}
	return text
}
