package types

import "image"

// DescriptorSize is the length of a face encoding produced by dlib / face_recognition.
const DescriptorSize = 128

// Descriptor is a single 128-d face encoding.
type Descriptor = [DescriptorSize]float32

// Box is a face bounding box in (top, right, bottom, left) order.
type Box struct {
	Top, Right, Bottom, Left int
}

// Rect converts the box to an image.Rectangle (Min = left/top, Max = right/bottom).
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Right, b.Bottom)
}

// BoxFromRect is the inverse of Rect.
func BoxFromRect(r image.Rectangle) Box {
	return Box{Top: r.Min.Y, Right: r.Max.X, Bottom: r.Max.Y, Left: r.Min.X}
}

// DetectedFace pairs a box on the working frame with the encoding computed for it.
type DetectedFace struct {
	Box        Box
	Descriptor Descriptor
}

// LabeledFace is a face ready to be drawn: box in original frame coordinates plus its name.
type LabeledFace struct {
	Box  Box
	Name string
}
