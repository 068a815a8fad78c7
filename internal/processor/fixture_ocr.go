package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FixtureEngine replays recorded OCR output. It backs offline evaluation
// (labelverify --ocr-fixture) and tests.
type FixtureEngine struct {
	Default []TextRegion            `json:"default"`
	Images  map[string][]TextRegion `json:"images"` // keyed by hex sha256 of image bytes

	mu    sync.Mutex
	calls int
}

// LoadFixtureEngine reads a fixture file
func LoadFixtureEngine(path string) (*FixtureEngine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read OCR fixture '%s': %w", path, err)
	}
	var f FixtureEngine
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse OCR fixture: %w", err)
	}
	return &f, nil
}

// NewFixtureEngine returns an engine that answers every image with regions
func NewFixtureEngine(regions []TextRegion) *FixtureEngine {
	return &FixtureEngine{Default: regions}
}

// Add registers regions for one specific image
func (f *FixtureEngine) Add(image []byte, regions []TextRegion) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Images == nil {
		f.Images = make(map[string][]TextRegion)
	}
	f.Images[HashBytes(image)] = regions
}

func (f *FixtureEngine) Name() string { return "fixture" }

// Calls reports how many times Extract ran
func (f *FixtureEngine) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FixtureEngine) Extract(ctx context.Context, image []byte) ([]TextRegion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	regions, ok := f.Images[HashBytes(image)]
	if !ok {
		regions = f.Default
	}
	out := make([]TextRegion, len(regions))
	copy(out, regions)
	return out, nil
}

// HashBytes returns the hex sha256 of data
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
