/**
 * Batch Processor for label verification
 *
 * Runs many label/application pairs through one Verifier:
 * - bounded worker pool (errgroup with a limit)
 * - results stored by input index, so output order never depends on timing
 * - one failing or panicking pair never affects another
 * - early termination (cancel, time budget, pair cap) stops scheduling;
 *   pairs already running finish, the rest are reported as CANCELLED
 */

package batch

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus/labelverify-worker/internal/archive"
	apperrors "github.com/adverant/nexus/labelverify-worker/internal/errors"
	"github.com/adverant/nexus/labelverify-worker/internal/logging"
	"github.com/adverant/nexus/labelverify-worker/internal/processor"
)

// StatusError marks a pair whose verification could not run
const StatusError = "ERROR"

// Options controls one batch run
type Options struct {
	Concurrency int // default runtime.NumCPU()
	// SharedApplication switches to flat mode: every label is checked
	// against this record and per-entry descriptors are ignored.
	SharedApplication *processor.ApplicationRecord
	ThumbnailMaxDim   int           // default 220
	TimeBudget        time.Duration // 0 means unbounded
	MaxPairs          int           // 0 means unbounded
}

// PairResult is the outcome for one entry
type PairResult struct {
	Index         int                           `json:"index"`
	Folder        string                        `json:"folder"`
	LabelFilename string                        `json:"label_filename"`
	Application   *processor.ApplicationRecord  `json:"application"`
	Thumbnail     *string                       `json:"thumbnail_b64"`
	Status        string                        `json:"status"`
	Result        *processor.VerificationResult `json:"result"`
	Error         *apperrors.ErrorReport        `json:"error"`
}

// Result is the outcome of a whole batch
type Result struct {
	BatchID   string       `json:"batch_id"`
	Count     int          `json:"count"`
	Results   []PairResult `json:"results"`
	Cancelled bool         `json:"cancelled"`
	Skipped   int          `json:"skipped"`
}

// Tally counts pairs per status
func (r *Result) Tally() map[string]int {
	counts := make(map[string]int)
	for _, pr := range r.Results {
		counts[pr.Status]++
	}
	return counts
}

// Processor runs batches against a verifier
type Processor struct {
	verifier processor.Verifier
	logger   *logging.Logger
}

// NewProcessor creates a batch processor
func NewProcessor(verifier processor.Verifier) *Processor {
	return &Processor{
		verifier: verifier,
		logger:   logging.NewLogger("BatchProcessor"),
	}
}

// Run verifies every entry. It returns an error only when the batch as a
// whole is rejected up front; per-pair failures are in the results.
func (p *Processor) Run(ctx context.Context, entries []archive.Entry, opts Options) (*Result, error) {
	if opts.SharedApplication != nil {
		if err := opts.SharedApplication.Validate(); err != nil {
			return nil, err
		}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.NumCPU()
	}
	if opts.ThumbnailMaxDim <= 0 {
		opts.ThumbnailMaxDim = DefaultThumbnailMaxDim
	}

	batchID := uuid.NewString()
	logger := p.logger.With("batch_id", batchID)
	startTime := time.Now()

	logger.Info("Starting batch",
		"entries", len(entries),
		"concurrency", opts.Concurrency,
		"shared_application", opts.SharedApplication != nil)

	schedCtx := ctx
	if opts.TimeBudget > 0 {
		var cancel context.CancelFunc
		schedCtx, cancel = context.WithTimeout(ctx, opts.TimeBudget)
		defer cancel()
	}
	// Pairs that started run to completion even if the batch is cancelled.
	pairCtx := context.WithoutCancel(ctx)

	results := make([]PairResult, len(entries))
	ran := make([]bool, len(entries))
	stopReason := ""

	g := new(errgroup.Group)
	g.SetLimit(opts.Concurrency)

	for i := range entries {
		if opts.MaxPairs > 0 && i >= opts.MaxPairs {
			stopReason = fmt.Sprintf("batch exceeds %d pairs", opts.MaxPairs)
			break
		}
		if schedCtx.Err() != nil {
			stopReason = stopCause(ctx, schedCtx)
			break
		}

		g.Go(func() error {
			// Go may have blocked for a free worker; re-check before starting.
			if schedCtx.Err() != nil {
				return nil
			}
			ran[i] = true
			results[i] = p.runPair(pairCtx, logger, batchID, i, entries[i], opts)
			return nil
		})
	}
	_ = g.Wait()

	skipped := 0
	for i := range entries {
		if ran[i] {
			continue
		}
		if stopReason == "" {
			stopReason = stopCause(ctx, schedCtx)
		}
		results[i] = cancelledPair(i, entries[i], opts, stopReason)
		skipped++
	}

	res := &Result{
		BatchID:   batchID,
		Count:     len(results),
		Results:   results,
		Cancelled: skipped > 0,
		Skipped:   skipped,
	}

	logger.Info("Batch complete",
		"count", res.Count,
		"skipped", skipped,
		"stop_reason", stopReason,
		"duration_ms", time.Since(startTime).Milliseconds())
	return res, nil
}

func stopCause(parent, sched context.Context) string {
	if parent.Err() != nil {
		return "batch cancelled"
	}
	if sched.Err() != nil {
		return "batch time budget exceeded"
	}
	return "batch stopped"
}

func cancelledPair(i int, e archive.Entry, opts Options, reason string) PairResult {
	return PairResult{
		Index:         i,
		Folder:        e.Folder,
		LabelFilename: e.LabelName,
		Application:   opts.SharedApplication,
		Status:        StatusError,
		Error:         apperrors.NewCancelledError(reason).Report(),
	}
}

func errorPair(pr PairResult, err error) PairResult {
	pr.Status = StatusError
	pr.Error = apperrors.ReportOf(err)
	return pr
}

// runPair verifies one entry. Panics are contained to the pair.
func (p *Processor) runPair(ctx context.Context, logger *logging.Logger, batchID string, i int, e archive.Entry, opts Options) (pr PairResult) {
	pr = PairResult{Index: i, Folder: e.Folder, LabelFilename: e.LabelName}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Pair panicked", "index", i, "folder", e.Folder, "panic", r)
			pr = errorPair(pr, apperrors.NewInternalError(fmt.Sprintf("panic while verifying pair: %v", r), nil))
		}
	}()

	// Step 1: Resolve the application for this pair
	var app processor.ApplicationRecord
	switch {
	case e.Label == nil:
		return errorPair(pr, apperrors.NewPairingError(e.Folder, "no label image found"))
	case opts.SharedApplication != nil:
		app = *opts.SharedApplication
	case e.Application == nil:
		return errorPair(pr, apperrors.NewPairingError(e.Folder, "missing application descriptor (application.json)"))
	default:
		parsed, err := processor.ParseApplicationJSON(e.Application)
		if err != nil {
			return errorPair(pr, err)
		}
		app = parsed
	}
	pr.Application = &app

	// Step 2: Thumbnail, when the image decodes
	if thumb, ok := Thumbnail(e.Label, opts.ThumbnailMaxDim); ok {
		pr.Thumbnail = &thumb
	}

	// Step 3: Verify
	result, err := p.verifier.Verify(ctx, &processor.VerifyRequest{
		JobID:       fmt.Sprintf("%s/%d", batchID, i),
		Image:       e.Label,
		Application: app,
	})
	if err != nil {
		logger.Warn("Pair could not be verified", "index", i, "folder", e.Folder, "kind", apperrors.KindOf(err))
		return errorPair(pr, err)
	}

	pr.Result = result
	pr.Status = string(result.OverallStatus)
	return pr
}
