/**
 * Tesseract OCR - Default offline engine
 *
 * Free, offline line-level OCR using Tesseract through gosseract.
 * Images are downscaled and binarized before recognition.
 */

package processor

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	apperrors "github.com/adverant/nexus/labelverify-worker/internal/errors"
)

// TesseractEngine runs OCR locally
type TesseractEngine struct {
	config        *TesseractConfig
	clientFactory func() *gosseract.Client
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	Language       string
	TessdataPrefix string
	MaxImagePixels int
}

// NewTesseractEngine creates a new Tesseract engine
func NewTesseractEngine(cfg *TesseractConfig) *TesseractEngine {
	if cfg == nil {
		cfg = &TesseractConfig{}
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.MaxImagePixels <= 0 {
		cfg.MaxImagePixels = 6000000
	}

	return &TesseractEngine{
		config:        cfg,
		clientFactory: gosseract.NewClient,
	}
}

func (t *TesseractEngine) Name() string { return "tesseract" }

type tesseractOutcome struct {
	regions []TextRegion
	err     error
}

// Extract performs OCR at text-line granularity
func (t *TesseractEngine) Extract(ctx context.Context, image []byte) ([]TextRegion, error) {
	img, err := DecodeImage(image)
	if err != nil {
		return nil, err
	}

	gray := PreprocessForOCR(img, t.config.MaxImagePixels)
	scale := float64(img.Bounds().Dx()) / float64(gray.Bounds().Dx())
	prepared, err := EncodePNG(gray)
	if err != nil {
		return nil, apperrors.NewDecodeError("preprocessed image could not be encoded", err)
	}

	// gosseract blocks inside cgo; run it aside so the deadline is honored.
	done := make(chan tesseractOutcome, 1)
	go func() {
		regions, err := t.recognize(prepared, scale)
		done <- tesseractOutcome{regions: regions, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, apperrors.NewEngineError(t.Name(), out.err)
		}
		return out.regions, nil
	case <-ctx.Done():
		return nil, apperrors.NewEngineError(t.Name(), ctx.Err())
	}
}

// recognize maps boxes back to original image coordinates using scale
func (t *TesseractEngine) recognize(data []byte, scale float64) ([]TextRegion, error) {
	client := t.clientFactory()
	defer client.Close()

	if t.config.TessdataPrefix != "" {
		client.TessdataPrefix = t.config.TessdataPrefix
	}
	if err := client.SetLanguage(t.config.Language); err != nil {
		return nil, fmt.Errorf("set language: %w", err)
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("recognize lines: %w", err)
	}

	regions := make([]TextRegion, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		regions = append(regions, TextRegion{
			Text:       text,
			Confidence: sanitizeConfidence(b.Confidence / 100.0),
			BoundingBox: BoundingBox{
				X:      int(float64(b.Box.Min.X) * scale),
				Y:      int(float64(b.Box.Min.Y) * scale),
				Width:  int(float64(b.Box.Dx()) * scale),
				Height: int(float64(b.Box.Dy()) * scale),
			},
		})
	}
	return regions, nil
}
