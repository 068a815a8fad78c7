package batch

import (
	"encoding/base64"

	"github.com/adverant/nexus/labelverify-worker/internal/processor"
)

const (
	// DefaultThumbnailMaxDim bounds the longest thumbnail side in pixels
	DefaultThumbnailMaxDim = 220
	thumbnailQuality       = 70
)

// Thumbnail renders a base64 JPEG preview of a label image. ok is false
// when the image does not decode.
func Thumbnail(data []byte, maxDim int) (string, bool) {
	if maxDim <= 0 {
		maxDim = DefaultThumbnailMaxDim
	}
	img, err := processor.DecodeImage(data)
	if err != nil {
		return "", false
	}
	out, err := processor.EncodeJPEG(processor.Fit(img, maxDim, maxDim), thumbnailQuality)
	if err != nil {
		return "", false
	}
	return base64.StdEncoding.EncodeToString(out), true
}
