/**
 * OCR Types - Shared data structures for OCR operations
 *
 * Common types produced by every OCR engine (Tesseract, remote vision, fixture)
 * and consumed by the field extractor and quality assessor.
 */

package processor

import (
	"context"
)

// OCREngine turns image bytes into line-level text regions.
//
// Implementations return a DecodeError when the bytes are not a readable image
// and an EngineError when the recognizer itself fails. They never retry.
type OCREngine interface {
	Name() string
	Extract(ctx context.Context, image []byte) ([]TextRegion, error)
}

// TextRegion represents one recognized line of text
type TextRegion struct {
	ID          string      `json:"id"`
	Text        string      `json:"text"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"bounding_box"`
}

// BoundingBox represents coordinates of a region
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Bottom returns the lower edge of the box
func (b BoundingBox) Bottom() int {
	return b.Y + b.Height
}

// Empty reports whether the engine supplied no geometry
func (b BoundingBox) Empty() bool {
	return b.Width == 0 && b.Height == 0
}
