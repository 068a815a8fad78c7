package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/adverant/nexus/labelverify-worker/internal/errors"
)

func TestNewLabelProcessorRequiresEngine(t *testing.T) {
	_, err := NewLabelProcessor(nil)
	assert.Error(t, err)

	_, err = NewLabelProcessor(&ProcessorConfig{Policy: testPolicy()})
	assert.Error(t, err)

	bad := testPolicy()
	bad.Brand.PassThreshold = 2
	_, err = NewLabelProcessor(&ProcessorConfig{Engine: NewFixtureEngine(nil), Policy: bad})
	assert.Error(t, err)
}

func TestVerifyGoodLabel(t *testing.T) {
	engine := NewFixtureEngine(goodLabelRegions())
	p := newTestProcessor(t, engine, nil)

	result, err := p.Verify(context.Background(), &VerifyRequest{
		Image:       pngBytes(t, testImageWidth, testImageHeight),
		Application: goodApplication(),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, StatusPass, result.OverallStatus)
	assert.Equal(t, QualityGood, result.ImageQuality.Rating)
	require.Len(t, result.Items, len(FieldOrder))
	for i, item := range result.Items {
		assert.Equal(t, FieldOrder[i], item.Field)
		assert.Equal(t, StatusPass, item.Status, item.Field)
	}
	assert.GreaterOrEqual(t, result.TimingsMs.Total, result.TimingsMs.OCRTotal)
	assert.Equal(t, 1, engine.Calls())
}

func TestVerifyWithoutQualityItem(t *testing.T) {
	p := newTestProcessor(t, NewFixtureEngine(goodLabelRegions()), func(cfg *ProcessorConfig) {
		cfg.Policy.Quality.IncludeItem = false
	})

	result, err := p.Verify(context.Background(), &VerifyRequest{
		Image:       pngBytes(t, testImageWidth, testImageHeight),
		Application: goodApplication(),
	})
	require.NoError(t, err)
	assert.Len(t, result.Items, len(FieldOrder)-1)
	_, ok := result.Item(FieldImageQuality)
	assert.False(t, ok)
	assert.Equal(t, QualityGood, result.ImageQuality.Rating)
}

func TestVerifyWarningHeaderSharesLine(t *testing.T) {
	p := newTestProcessor(t, NewFixtureEngine(sharedHeaderLineRegions()), nil)

	result, err := p.Verify(context.Background(), &VerifyRequest{
		Image:       pngBytes(t, testImageWidth, testImageHeight),
		Application: goodApplication(),
	})
	require.NoError(t, err)

	for _, field := range []FieldID{FieldWarningPresent, FieldWarningHeader, FieldWarningText} {
		item, ok := result.Item(field)
		require.True(t, ok, field)
		assert.Equal(t, StatusPass, item.Status, field)
	}
}

func TestVerifyMismatchFails(t *testing.T) {
	p := newTestProcessor(t, NewFixtureEngine(goodLabelRegions()), nil)

	result, err := p.Verify(context.Background(), &VerifyRequest{
		Image:       pngBytes(t, testImageWidth, testImageHeight),
		Application: NewApplicationRecord("Stone's Throw", "13.5%", "375 mL"),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFail, result.OverallStatus)
	net, ok := result.Item(FieldNetContents)
	require.True(t, ok)
	assert.Equal(t, StatusFail, net.Status)
}

func TestVerifyIsDeterministic(t *testing.T) {
	p := newTestProcessor(t, NewFixtureEngine(goodLabelRegions()), nil)
	req := &VerifyRequest{
		Image:       pngBytes(t, testImageWidth, testImageHeight),
		Application: NewApplicationRecord("Stone's Throw Winery", "12.5%", "75 cl"),
	}

	first, err := p.Verify(context.Background(), req)
	require.NoError(t, err)
	second, err := p.Verify(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Items, second.Items)
	assert.Equal(t, first.OverallStatus, second.OverallStatus)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestVerifyValidationBeforeOCR(t *testing.T) {
	engine := NewFixtureEngine(goodLabelRegions())
	p := newTestProcessor(t, engine, nil)

	_, err := p.Verify(context.Background(), &VerifyRequest{
		Image:       pngBytes(t, 10, 10),
		Application: NewApplicationRecord("   ", "12%", "750 mL"),
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Equal(t, 0, engine.Calls())
}

func TestVerifyUndecodableImage(t *testing.T) {
	engine := NewFixtureEngine(goodLabelRegions())
	p := newTestProcessor(t, engine, nil)

	_, err := p.Verify(context.Background(), &VerifyRequest{
		Image:       []byte("GIF89a-but-truncated"),
		Application: goodApplication(),
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindDecode, apperrors.KindOf(err))
	assert.Equal(t, 0, engine.Calls())
}

func TestVerifyEngineDecodeErrorIsNotRetried(t *testing.T) {
	engine := &decodeFailEngine{}
	p := newTestProcessor(t, engine, nil)

	_, err := p.Verify(context.Background(), &VerifyRequest{
		Image:       pngBytes(t, 10, 10),
		Application: goodApplication(),
	})
	assert.Equal(t, apperrors.KindDecode, apperrors.KindOf(err))
	assert.Equal(t, 1, engine.calls)
}

func TestVerifyRetriesFlakyEngine(t *testing.T) {
	engine := &flakyEngine{failures: 2, regions: goodLabelRegions()}
	p := newTestProcessor(t, engine, nil)

	result, err := p.Verify(context.Background(), &VerifyRequest{
		Image:       pngBytes(t, testImageWidth, testImageHeight),
		Application: goodApplication(),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPass, result.OverallStatus)
	assert.Equal(t, 3, engine.calls)
}

func TestVerifyEngineUnavailable(t *testing.T) {
	engine := &flakyEngine{failures: 100}
	p := newTestProcessor(t, engine, nil)

	_, err := p.Verify(context.Background(), &VerifyRequest{
		Image:       pngBytes(t, 10, 10),
		Application: goodApplication(),
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindEngineUnavailable, apperrors.KindOf(err))
	assert.Equal(t, testPolicy().Engine.MaxAttempts, engine.calls)

	report := apperrors.ReportOf(err)
	require.NotNil(t, report)
	assert.Equal(t, apperrors.KindEngineUnavailable, report.Kind)
}

func TestVerifyOCRTimeout(t *testing.T) {
	p := newTestProcessor(t, blockingEngine{}, func(cfg *ProcessorConfig) {
		cfg.OCRTimeout = 20 * time.Millisecond
		cfg.Policy.Engine.MaxAttempts = 2
	})

	_, err := p.Verify(context.Background(), &VerifyRequest{
		Image:       pngBytes(t, 10, 10),
		Application: goodApplication(),
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindTimeout, apperrors.KindOf(err))
}

// lingeringEngine answers on its deadline but keeps working afterwards, as a
// cgo recognizer does.
type lingeringEngine struct {
	work time.Duration

	mu      sync.Mutex
	calls   int
	running int
	peak    int
}

func (l *lingeringEngine) Name() string { return "lingering" }

func (l *lingeringEngine) Extract(ctx context.Context, image []byte) ([]TextRegion, error) {
	l.mu.Lock()
	l.calls++
	l.running++
	if l.running > l.peak {
		l.peak = l.running
	}
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		time.Sleep(l.work)
		l.mu.Lock()
		l.running--
		l.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil, apperrors.NewEngineError(l.Name(), errors.New("no text"))
	case <-ctx.Done():
		return nil, apperrors.NewEngineError(l.Name(), ctx.Err())
	}
}

func TestVerifyOCRTimeoutIsNotRetried(t *testing.T) {
	engine := &lingeringEngine{work: 300 * time.Millisecond}
	p := newTestProcessor(t, engine, func(cfg *ProcessorConfig) {
		cfg.OCRTimeout = 20 * time.Millisecond
		cfg.Policy.Engine.MaxAttempts = 3
	})

	_, err := p.Verify(context.Background(), &VerifyRequest{
		Image:       pngBytes(t, 10, 10),
		Application: goodApplication(),
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindTimeout, apperrors.KindOf(err))

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Equal(t, 1, engine.calls)
	assert.Equal(t, 1, engine.peak)
}

func TestVerifyCallerDeadline(t *testing.T) {
	p := newTestProcessor(t, blockingEngine{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := p.Verify(ctx, &VerifyRequest{Image: pngBytes(t, 10, 10), Application: goodApplication()})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindTimeout, apperrors.KindOf(err))
}

func TestVerifyCancelled(t *testing.T) {
	p := newTestProcessor(t, blockingEngine{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := p.Verify(ctx, &VerifyRequest{Image: pngBytes(t, 10, 10), Application: goodApplication()})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindCancelled, apperrors.KindOf(err))
}

func TestVerifyStateTransitions(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	hook := func(runID string, from, to RunState) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(from)+">"+string(to))
	}

	p := newTestProcessor(t, NewFixtureEngine(goodLabelRegions()), func(cfg *ProcessorConfig) {
		cfg.StateHook = hook
	})
	_, err := p.Verify(context.Background(), &VerifyRequest{
		Image:       pngBytes(t, testImageWidth, testImageHeight),
		Application: goodApplication(),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"PENDING>OCR_RUNNING",
		"OCR_RUNNING>EXTRACTING",
		"EXTRACTING>COMPARING",
		"COMPARING>DONE",
	}, seen)

	seen = nil
	failing := newTestProcessor(t, &flakyEngine{failures: 100}, func(cfg *ProcessorConfig) {
		cfg.StateHook = hook
	})
	_, err = failing.Verify(context.Background(), &VerifyRequest{Image: pngBytes(t, 10, 10), Application: goodApplication()})
	require.Error(t, err)
	assert.Equal(t, []string{"PENDING>OCR_RUNNING", "OCR_RUNNING>ERROR"}, seen)
}

func TestVerifyUsesResultCache(t *testing.T) {
	engine := NewFixtureEngine(goodLabelRegions())
	cache := &memoryCache{}
	var states []RunState
	p := newTestProcessor(t, engine, func(cfg *ProcessorConfig) {
		cfg.Cache = cache
		cfg.StateHook = func(runID string, from, to RunState) { states = append(states, to) }
	})
	req := &VerifyRequest{Image: pngBytes(t, testImageWidth, testImageHeight), Application: goodApplication()}

	first, err := p.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)

	states = nil
	second, err := p.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, engine.Calls())
	assert.Equal(t, []RunState{StateDone}, states)
	assert.Equal(t, first.Items, second.Items)
	assert.NotEqual(t, first.RunID, second.RunID)

	other := *req
	other.Application.GovernmentWarningRequired = false
	_, err = p.Verify(context.Background(), &other)
	require.NoError(t, err)
	assert.Equal(t, 2, engine.Calls())
}
