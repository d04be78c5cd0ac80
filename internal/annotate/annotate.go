package annotate

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/blondedman/face-recognition/internal/types"
	"gocv.io/x/gocv"
)

const (
	// DefaultWidth is the width frames are shrunk to before detection.
	DefaultWidth = 750
	// labelOffset is how far the label sits from the top edge of the box.
	labelOffset = 15
)

var (
	boxColor  = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	fontScale = 0.75
	thickness = 2
)

// WorkingSize returns the size of a frame resized to targetWidth with its
// aspect ratio preserved, and the factor that maps working coordinates back
// onto the original frame.
func WorkingSize(width, height, targetWidth int) (image.Point, float64) {
	if width <= 0 || height <= 0 || targetWidth <= 0 {
		return image.Pt(width, height), 1.0
	}
	r := float64(targetWidth) / float64(width)
	h := int(float64(height) * r)
	if h < 1 {
		h = 1
	}
	return image.Pt(targetWidth, h), float64(width) / float64(targetWidth)
}

// Rescale maps a box from working-frame coordinates onto the original frame,
// rounding every coordinate to the nearest integer.
func Rescale(b types.Box, scale float64) types.Box {
	return types.Box{
		Top:    int(math.Round(float64(b.Top) * scale)),
		Right:  int(math.Round(float64(b.Right) * scale)),
		Bottom: int(math.Round(float64(b.Bottom) * scale)),
		Left:   int(math.Round(float64(b.Left) * scale)),
	}
}

// LabelY places the label above the box unless that would leave the frame.
func LabelY(top int) int {
	if y := top - labelOffset; y > labelOffset {
		return y
	}
	return top + labelOffset
}

// Shrink resizes src into dst at the working size and returns the scale-back factor.
func Shrink(src gocv.Mat, dst *gocv.Mat, targetWidth int) (float64, error) {
	size, scale := WorkingSize(src.Cols(), src.Rows(), targetWidth)
	if err := gocv.Resize(src, dst, size, 0, 0, gocv.InterpolationArea); err != nil {
		return 0, fmt.Errorf("failed to resize frame: %w", err)
	}
	return scale, nil
}

// Draw renders every face box and its name onto the frame in place.
func Draw(frame *gocv.Mat, faces []types.LabeledFace) error {
	for _, f := range faces {
		if err := gocv.Rectangle(frame, f.Box.Rect(), boxColor, thickness); err != nil {
			return fmt.Errorf("failed to draw rectangle: %w", err)
		}
		pt := image.Pt(f.Box.Left, LabelY(f.Box.Top))
		if err := gocv.PutText(frame, f.Name, pt, gocv.FontHersheyDuplex, fontScale, boxColor, thickness); err != nil {
			return fmt.Errorf("failed to draw text: %w", err)
		}
	}
	return nil
}
