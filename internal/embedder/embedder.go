// Package embedder turns face images into embeddings using the InsightFace sidecar.
package embedder

import (
	"context"
	"errors"
)

var (
	// ErrNoFaceFound is returned when the image contains no face.
	ErrNoFaceFound = errors.New("no face found in image")

	// ErrAmbiguousInput is returned when the image contains more than one face.
	ErrAmbiguousInput = errors.New("more than one face found in image")

	// ErrInvalidImage is returned for uploads that are not a decodable image.
	ErrInvalidImage = errors.New("invalid image")

	// ErrUnavailable is returned when the sidecar cannot be reached or fails.
	ErrUnavailable = errors.New("embedding service unavailable")
)

// Extraction is the single face found in an image.
type Extraction struct {
	Vector              []float32 // unit-normalized
	DetectionConfidence float64
	BBox                []float64 // [x1, y1, x2, y2]
	Model               string
}

// Extractor produces one face embedding per image.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (*Extraction, error)
}
