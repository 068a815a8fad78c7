package processor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/labelverify-worker/internal/config"
	apperrors "github.com/adverant/nexus/labelverify-worker/internal/errors"
)

const (
	testImageWidth  = 1000
	testImageHeight = 1500
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xf0
	}
	img.SetGray(w/2, h/2, color.Gray{Y: 0})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func region(text string, y, height int, conf float64) TextRegion {
	return TextRegion{
		Text:        text,
		Confidence:  conf,
		BoundingBox: BoundingBox{X: 100, Y: y, Width: 800, Height: height},
	}
}

// goodLabelRegions is a clean 750 mL, 13.5% label with the full warning.
func goodLabelRegions() []TextRegion {
	return []TextRegion{
		region("BEVERAGES IMPAIRS YOUR ABILITY TO DRIVE A CAR OR OPERATE MACHINERY, AND MAY CAUSE HEALTH PROBLEMS.", 1250, 20, 0.90),
		region("STONE'S THROW", 80, 90, 0.95),
		region("CABERNET SAUVIGNON", 200, 40, 0.93),
		region("ALC. 13.5% BY VOL.", 900, 30, 0.92),
		region("750 mL", 950, 30, 0.94),
		region("GOVERNMENT WARNING: (1) ACCORDING TO THE SURGEON GENERAL, WOMEN SHOULD NOT DRINK ALCOHOLIC", 1200, 20, 0.90),
		region("BEVERAGES DURING PREGNANCY BECAUSE OF THE RISK OF BIRTH DEFECTS. (2) CONSUMPTION OF ALCOHOLIC", 1225, 20, 0.90),
	}
}

// sharedHeaderLineRegions carries the full warning whose header line starts
// with unrelated label text, followed by a line that is not part of it.
func sharedHeaderLineRegions() []TextRegion {
	return []TextRegion{
		region("STONE'S THROW", 80, 90, 0.95),
		region("ALC. 13.5% BY VOL.", 900, 30, 0.92),
		region("750 mL", 950, 30, 0.94),
		region("CONTAINS SULFITES. PRODUCT OF USA. GOVERNMENT WARNING:", 1200, 20, 0.90),
		region("(1) ACCORDING TO THE SURGEON GENERAL, WOMEN SHOULD NOT DRINK ALCOHOLIC BEVERAGES", 1225, 20, 0.90),
		region("DURING PREGNANCY BECAUSE OF THE RISK OF BIRTH DEFECTS.", 1250, 20, 0.90),
		region("(2) CONSUMPTION OF ALCOHOLIC BEVERAGES IMPAIRS YOUR ABILITY TO DRIVE A CAR OR", 1275, 20, 0.90),
		region("OPERATE MACHINERY, AND MAY CAUSE HEALTH PROBLEMS.", 1300, 20, 0.90),
		region("BOTTLED BY STONE'S THROW CELLARS, NAPA, CA", 1400, 20, 0.90),
	}
}

func goodApplication() ApplicationRecord {
	return NewApplicationRecord("Stone's Throw", "13.5%", "750 mL")
}

func testPolicy() config.Policy {
	p := config.DefaultPolicy()
	p.Engine.InitialBackoffMs = 1
	p.Engine.MaxBackoffMs = 2
	return p
}

func newTestProcessor(t *testing.T, engine OCREngine, mutate func(*ProcessorConfig)) *LabelProcessor {
	t.Helper()
	cfg := &ProcessorConfig{Engine: engine, Policy: testPolicy(), OCRTimeout: time.Second}
	if mutate != nil {
		mutate(cfg)
	}
	p, err := NewLabelProcessor(cfg)
	require.NoError(t, err)
	return p
}

// flakyEngine fails with an engine error a fixed number of times.
type flakyEngine struct {
	mu       sync.Mutex
	failures int
	calls    int
	regions  []TextRegion
}

func (f *flakyEngine) Name() string { return "flaky" }

func (f *flakyEngine) Extract(ctx context.Context, image []byte) ([]TextRegion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, apperrors.NewEngineError(f.Name(), errors.New("connection refused"))
	}
	return f.regions, nil
}

// blockingEngine never answers before its context ends.
type blockingEngine struct{}

func (blockingEngine) Name() string { return "blocking" }

func (blockingEngine) Extract(ctx context.Context, image []byte) ([]TextRegion, error) {
	<-ctx.Done()
	return nil, apperrors.NewEngineError("blocking", ctx.Err())
}

// decodeFailEngine rejects every image.
type decodeFailEngine struct{ calls int }

func (d *decodeFailEngine) Name() string { return "decode-fail" }

func (d *decodeFailEngine) Extract(ctx context.Context, image []byte) ([]TextRegion, error) {
	d.calls++
	return nil, apperrors.NewDecodeError("unsupported pixel format", nil)
}

// memoryCache is an in-process ResultCache.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string]VerificationResult
	sets    int
}

func (m *memoryCache) Get(ctx context.Context, imageHash, appHash string) (*VerificationResult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.entries[imageHash+":"+appHash]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

func (m *memoryCache) Set(ctx context.Context, imageHash, appHash string, result *VerificationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string]VerificationResult)
	}
	m.entries[imageHash+":"+appHash] = *result
	m.sets++
	return nil
}
