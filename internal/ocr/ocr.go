// Package ocr turns page images into text outcomes.
package ocr

import (
	"context"
	"errors"
)

// DefaultLanguages are the tesseract language codes the process is configured with when nothing
// else is set: English and Portuguese.
var DefaultLanguages = []string{"eng", "por"}

// ErrNoText is returned by engines that found no text region on an image.
var ErrNoText = errors.New("no text detected")

// Recognition is the text an engine read from one image.
type Recognition struct {
	Text string
	// Confidence is the mean of the per-region confidences, in [0,1].
	Confidence float64
	Regions    int
}

// Engine recognizes text on encoded images. Implementations are built once with a fixed language
// set and must be safe for concurrent use.
type Engine interface {
	Name() string
	Languages() []string
	Recognize(ctx context.Context, image []byte) (Recognition, error)
}
