package domain

import (
	"encoding/json"
	"fmt"
)

// BoxScale is the extent of the normalized coordinate space models report
// bounding boxes in. 0 is the top/left page edge, BoxScale the bottom/right.
const BoxScale = 1000.0

// BoundingBox holds normalized page coordinates. On the wire it is the
// four-element array [ymin, xmin, ymax, xmax].
type BoundingBox struct {
	YMin, XMin, YMax, XMax float64
}

type Rect struct {
	X0, Y0, X1, Y1 float64
}

func (b BoundingBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{b.YMin, b.XMin, b.YMax, b.XMax})
}

func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	var arr []float64
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("box_2d: %w", err)
	}
	if len(arr) != 4 {
		return fmt.Errorf("box_2d: want 4 coordinates, got %d", len(arr))
	}
	b.YMin, b.XMin, b.YMax, b.XMax = arr[0], arr[1], arr[2], arr[3]
	return nil
}

func (b BoundingBox) Validate() error {
	for _, v := range []float64{b.YMin, b.XMin, b.YMax, b.XMax} {
		if v < 0 || v > BoxScale {
			return fmt.Errorf("coordinate %.2f outside 0-%.0f", v, BoxScale)
		}
	}
	if b.YMin > b.YMax || b.XMin > b.XMax {
		return fmt.Errorf("inverted box ymin=%.2f ymax=%.2f xmin=%.2f xmax=%.2f", b.YMin, b.YMax, b.XMin, b.XMax)
	}
	return nil
}

// Rect maps the box into page units for a page of the given unrotated width
// and height whose /Rotate attribute is rotation degrees clockwise. Renderers
// draw on the unrotated page, so the box seen on screen is rotated back.
func (b BoundingBox) Rect(width, height float64, rotation int) Rect {
	rotation = ((rotation % 360) + 360) % 360

	// Normalized fractions in the orientation the model saw.
	x0, y0 := b.XMin/BoxScale, b.YMin/BoxScale
	x1, y1 := b.XMax/BoxScale, b.YMax/BoxScale

	switch rotation {
	case 90:
		x0, y0, x1, y1 = y0, 1-x1, y1, 1-x0
	case 180:
		x0, y0, x1, y1 = 1-x1, 1-y1, 1-x0, 1-y0
	case 270:
		x0, y0, x1, y1 = 1-y1, x0, 1-y0, x1
	}
	return Rect{
		X0: x0 * width,
		Y0: y0 * height,
		X1: x1 * width,
		Y1: y1 * height,
	}
}
