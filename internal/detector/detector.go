// Package detector defines the object-detection model boundary.
// By using an interface, the enrichment stage is decoupled from any specific
// inference backend, allowing synthetic detections in tests.
package detector

import "context"

// Box is a bounding region in pixel coordinates. The classifier only
// consumes labels and confidences; boxes are carried for diagnostics.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Detection is a single detected object in one image.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Detector runs object detection over a single image file.
type Detector interface {
	Detect(ctx context.Context, imagePath string) ([]Detection, error)
}

// NoOp returns no detections. Useful for development without a model.
type NoOp struct{}

// Detect for NoOp reports an empty detection set.
func (NoOp) Detect(_ context.Context, _ string) ([]Detection, error) {
	return nil, nil
}
