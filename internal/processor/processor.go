/**
 * Label Processor for the Label Verification Worker
 *
 * Orchestrates one verification:
 * - validate the application before any OCR
 * - OCR with bounded retries and exponential backoff
 * - field extraction and image quality assessment
 * - per-field comparison and overall status aggregation
 *
 * Each run moves PENDING -> OCR_RUNNING -> EXTRACTING -> COMPARING -> DONE,
 * or to ERROR from any non-terminal state.
 */

package processor

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/labelverify-worker/internal/config"
	apperrors "github.com/adverant/nexus/labelverify-worker/internal/errors"
	"github.com/adverant/nexus/labelverify-worker/internal/logging"
)

// Verifier defines the interface for label verification
type Verifier interface {
	Verify(ctx context.Context, req *VerifyRequest) (*VerificationResult, error)
}

// ResultCache stores results keyed by image and application content
type ResultCache interface {
	Get(ctx context.Context, imageHash, applicationHash string) (*VerificationResult, bool, error)
	Set(ctx context.Context, imageHash, applicationHash string, result *VerificationResult) error
}

// RunState is the lifecycle state of one verification
type RunState string

const (
	StatePending    RunState = "PENDING"
	StateOCRRunning RunState = "OCR_RUNNING"
	StateExtracting RunState = "EXTRACTING"
	StateComparing  RunState = "COMPARING"
	StateDone       RunState = "DONE"
	StateError      RunState = "ERROR"
)

var transitions = map[RunState][]RunState{
	StatePending:    {StateOCRRunning, StateDone, StateError}, // DONE directly on a cache hit
	StateOCRRunning: {StateExtracting, StateError},
	StateExtracting: {StateComparing, StateError},
	StateComparing:  {StateDone, StateError},
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Engine     OCREngine
	Policy     config.Policy
	OCRTimeout time.Duration // per attempt; 0 disables
	Cache      ResultCache   // optional
	StateHook  func(runID string, from, to RunState)
}

// VerifyRequest represents one label verification request
type VerifyRequest struct {
	JobID       string // caller correlation id, logged only
	Image       []byte
	Application ApplicationRecord
}

// LabelProcessor handles label verification
type LabelProcessor struct {
	config     *ProcessorConfig
	engine     OCREngine
	extractor  *FieldExtractor
	assessor   *QualityAssessor
	comparator *Comparator
	logger     *logging.Logger
}

// NewLabelProcessor creates a new label processor
func NewLabelProcessor(cfg *ProcessorConfig) (*LabelProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.Engine == nil {
		return nil, fmt.Errorf("OCR engine is required")
	}

	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	return &LabelProcessor{
		config:     cfg,
		engine:     cfg.Engine,
		extractor:  NewFieldExtractor(cfg.Policy),
		assessor:   NewQualityAssessor(cfg.Policy),
		comparator: NewComparator(cfg.Policy),
		logger:     logging.NewLogger("LabelProcessor"),
	}, nil
}

// EngineName reports which OCR engine is in use
func (p *LabelProcessor) EngineName() string {
	return p.engine.Name()
}

type run struct {
	id     string
	state  RunState
	hook   func(runID string, from, to RunState)
	logger *logging.Logger
}

func (r *run) advance(next RunState) error {
	for _, allowed := range transitions[r.state] {
		if allowed == next {
			if r.hook != nil {
				r.hook(r.id, r.state, next)
			}
			r.logger.Debug("State transition", "from", r.state, "to", next)
			r.state = next
			return nil
		}
	}
	return apperrors.NewInternalError(fmt.Sprintf("invalid state transition %s -> %s", r.state, next), nil)
}

func (r *run) fail(err error) error {
	if r.state != StateDone && r.state != StateError {
		if r.hook != nil {
			r.hook(r.id, r.state, StateError)
		}
		r.state = StateError
	}
	r.logger.Warn("Verification failed", "kind", apperrors.KindOf(err), "error", err)
	return err
}

// Verify runs the complete verification pipeline for one label
func (p *LabelProcessor) Verify(ctx context.Context, req *VerifyRequest) (*VerificationResult, error) {
	startTime := time.Now()
	runID := uuid.NewString()
	logger := p.logger.With("run_id", runID)
	if req.JobID != "" {
		logger = logger.With("job_id", req.JobID)
	}
	r := &run{id: runID, state: StatePending, hook: p.config.StateHook, logger: logger}

	logger.Info("Starting label verification", "image_bytes", len(req.Image), "engine", p.engine.Name())

	// Step 1: Validate the application before spending any OCR time
	app := req.Application
	if err := app.Validate(); err != nil {
		return nil, r.fail(err)
	}

	imageHash, appHash := HashBytes(req.Image), HashBytes(app.CanonicalJSON())
	if cached := p.lookupCache(ctx, logger, imageHash, appHash); cached != nil {
		if err := r.advance(StateDone); err != nil {
			return nil, r.fail(err)
		}
		cached.RunID = runID
		cached.TimingsMs = Timings{Total: time.Since(startTime).Milliseconds()}
		logger.Info("Served from result cache", "overall_status", cached.OverallStatus)
		return cached, nil
	}

	// Step 2: Read the image header
	info, err := InspectImage(req.Image)
	if err != nil {
		return nil, r.fail(err)
	}
	logger.Debug("Step 2: Image decoded", "width", info.Width, "height", info.Height, "format", info.Format)

	// Step 3: OCR
	if err := r.advance(StateOCRRunning); err != nil {
		return nil, r.fail(err)
	}
	ocrStart := time.Now()
	regions, err := p.runOCR(ctx, logger, req.Image)
	ocrElapsed := time.Since(ocrStart)
	if err != nil {
		return nil, r.fail(err)
	}
	logger.Info("Step 3: OCR complete", "regions", len(regions), "duration_ms", ocrElapsed.Milliseconds())

	// Step 4: Extraction and image quality
	if err := r.advance(StateExtracting); err != nil {
		return nil, r.fail(err)
	}
	compareStart := time.Now()
	extraction := p.extractor.Extract(regions, info.Height)
	quality := p.assessor.Assess(extraction.Regions)
	logger.Debug("Step 4: Fields extracted",
		"brand_candidates", len(extraction.Brand),
		"abv_candidates", len(extraction.ABV),
		"net_contents_candidates", len(extraction.NetContents),
		"warning_present", extraction.Warning.Present,
		"quality", quality.Rating)

	// Step 5: Comparison
	if err := r.advance(StateComparing); err != nil {
		return nil, r.fail(err)
	}
	items := p.comparator.Compare(app, extraction)
	if p.config.Policy.Quality.IncludeItem {
		items = append(items, p.assessor.Check(quality))
	}
	overall := OverallStatus(items)
	compareElapsed := time.Since(compareStart)

	if err := r.advance(StateDone); err != nil {
		return nil, r.fail(err)
	}

	result := &VerificationResult{
		RunID:         runID,
		Items:         items,
		OverallStatus: overall,
		ImageQuality:  quality,
		TimingsMs: Timings{
			OCRTotal:       ocrElapsed.Milliseconds(),
			ExtractCompare: compareElapsed.Milliseconds(),
			Total:          time.Since(startTime).Milliseconds(),
		},
	}

	logger.Info("Label verification complete",
		"overall_status", overall,
		"image_quality", quality.Rating,
		"total_ms", result.TimingsMs.Total)

	p.storeCache(ctx, logger, imageHash, appHash, result)
	return result, nil
}

// runOCR calls the engine with per-attempt timeouts, retrying engine
// failures with exponential backoff. Decode failures and timeouts are final.
func (p *LabelProcessor) runOCR(ctx context.Context, logger *logging.Logger, image []byte) ([]TextRegion, error) {
	ep := p.config.Policy.Engine
	started := time.Now()
	var lastErr error
	timedOut := false

	for attempt := 1; attempt <= ep.MaxAttempts; attempt++ {
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.config.OCRTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.config.OCRTimeout)
		}
		regions, err := p.engine.Extract(attemptCtx, image)
		cancel()
		if err == nil {
			return regions, nil
		}
		if apperrors.IsKind(err, apperrors.KindDecode) {
			return nil, err
		}

		lastErr = err
		timedOut = stderrors.Is(err, context.DeadlineExceeded)
		if ctx.Err() != nil {
			break
		}
		// The engine may still be working after its deadline; a retry would
		// start a second run alongside it.
		if timedOut {
			logger.Warn("OCR attempt timed out", "attempt", attempt, "timeout", p.config.OCRTimeout)
			break
		}

		logger.Warn("OCR attempt failed", "attempt", attempt, "max_attempts", ep.MaxAttempts, "error", err)

		if attempt < ep.MaxAttempts {
			backoffMs := ep.InitialBackoffMs * int(math.Pow(2, float64(attempt-1)))
			if backoffMs > ep.MaxBackoffMs {
				backoffMs = ep.MaxBackoffMs
			}
			logger.Info("Retrying OCR", "backoff_ms", backoffMs)
			select {
			case <-time.After(time.Duration(backoffMs) * time.Millisecond):
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
	}

	switch {
	case stderrors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, apperrors.NewTimeoutError("verification", time.Since(started).Round(time.Millisecond), ctx.Err())
	case ctx.Err() != nil:
		return nil, apperrors.NewCancelledError("verification cancelled during OCR")
	case timedOut:
		return nil, apperrors.NewTimeoutError("ocr", p.config.OCRTimeout, lastErr)
	default:
		return nil, apperrors.NewEngineExhaustedError(p.engine.Name(), ep.MaxAttempts, lastErr)
	}
}

func (p *LabelProcessor) lookupCache(ctx context.Context, logger *logging.Logger, imageHash, appHash string) *VerificationResult {
	if p.config.Cache == nil {
		return nil
	}
	cached, ok, err := p.config.Cache.Get(ctx, imageHash, appHash)
	if err != nil {
		logger.Warn("Result cache lookup failed", "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	return cached
}

func (p *LabelProcessor) storeCache(ctx context.Context, logger *logging.Logger, imageHash, appHash string, result *VerificationResult) {
	if p.config.Cache == nil {
		return
	}
	if err := p.config.Cache.Set(ctx, imageHash, appHash, result); err != nil {
		logger.Warn("Result cache store failed", "error", err)
	}
}
