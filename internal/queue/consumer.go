/**
 * Queue Consumer for the Label Verification Worker
 *
 * Consumes verification tasks from Redis via Asynq:
 * - label:verify         one image + application
 * - label:verify-batch   a ZIP archive, paired or against a shared application
 *
 * Results are written back through the task's ResultWriter and kept for the
 * configured retention. Input problems are not retried; engine outages are.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/labelverify-worker/internal/archive"
	"github.com/adverant/nexus/labelverify-worker/internal/batch"
	"github.com/adverant/nexus/labelverify-worker/internal/errors"
	"github.com/adverant/nexus/labelverify-worker/internal/processor"
)

// Consumer handles job consumption from Redis queue
type Consumer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	config *ConsumerConfig
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Verifier          processor.Verifier
	Batch             *batch.Processor
	BatchOptions      batch.Options // SharedApplication is taken from each task
	ArchiveLimits     archive.Limits
	ProcessingTimeout int64 // Processing timeout in milliseconds (default: 300000 = 5 minutes)
}

// ResultEnvelope is what a finished task stores as its result
type ResultEnvelope struct {
	JobID  string                        `json:"jobId"`
	Result *processor.VerificationResult `json:"result,omitempty"`
	Batch  *batch.Result                 `json:"batch,omitempty"`
	Error  *errors.ErrorReport           `json:"error,omitempty"`
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Verifier == nil {
		return nil, fmt.Errorf("Verifier is required")
	}

	if cfg.Batch == nil {
		cfg.Batch = batch.NewProcessor(cfg.Verifier)
	}

	// Parse Redis connection options
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10, // Priority 10 for main queue
				"default":     1,  // Priority 1 for fallback
			},
			// Exponential backoff: 5s, 10s, 20s ... capped at 60s
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("Task processing error: type=%s, payload_bytes=%d, error=%v",
					task.Type(), len(task.Payload()), err)
			}),
		},
	)

	mux := asynq.NewServeMux()

	consumer := &Consumer{
		server: server,
		mux:    mux,
		config: cfg,
	}

	mux.HandleFunc(TypeVerify, consumer.handleVerify)
	mux.HandleFunc(TypeVerifyBatch, consumer.handleVerifyBatch)

	return consumer, nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	log.Printf("Starting queue consumer (concurrency=%d, queue=%s)...",
		c.config.Concurrency, c.config.QueueName)

	go func() {
		if err := c.server.Run(c.mux); err != nil {
			log.Printf("Queue consumer error: %v", err)
		}
	}()

	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	log.Printf("Stopping queue consumer...")
	c.server.Shutdown()
	log.Printf("Queue consumer stopped")
	return nil
}

func (c *Consumer) timeout() time.Duration {
	timeout := time.Duration(300000) * time.Millisecond
	if c.config.ProcessingTimeout > 0 {
		timeout = time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	}
	return timeout
}

// handleVerify processes a single-label task
func (c *Consumer) handleVerify(ctx context.Context, task *asynq.Task) error {
	var payload VerifyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal verify payload: %v: %w", err, asynq.SkipRetry)
	}

	envelope, err := c.processVerify(ctx, &payload)
	writeResult(task, envelope)
	return taskError(err)
}

// handleVerifyBatch processes an archive task
func (c *Consumer) handleVerifyBatch(ctx context.Context, task *asynq.Task) error {
	var payload BatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal batch payload: %v: %w", err, asynq.SkipRetry)
	}

	envelope, err := c.processBatch(ctx, &payload)
	writeResult(task, envelope)
	return taskError(err)
}

func (c *Consumer) processVerify(ctx context.Context, payload *VerifyPayload) (*ResultEnvelope, error) {
	startTime := time.Now()
	timeout := c.timeout()

	log.Printf("[Job %s] Verifying label: filename=%s, size=%d bytes, timeout=%v",
		payload.JobID, payload.Filename, len(payload.Image), timeout)

	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.config.Verifier.Verify(processCtx, &processor.VerifyRequest{
		JobID:       payload.JobID,
		Image:       payload.Image,
		Application: payload.Application,
	})
	duration := time.Since(startTime)

	if err != nil {
		err = c.timeoutAware(processCtx, payload.JobID, timeout, duration, err)
		return &ResultEnvelope{JobID: payload.JobID, Error: errors.ReportOf(err)}, err
	}

	log.Printf("[Job %s] Verification completed in %v: overall=%s, quality=%s",
		payload.JobID, duration, result.OverallStatus, result.ImageQuality.Rating)
	return &ResultEnvelope{JobID: payload.JobID, Result: result}, nil
}

func (c *Consumer) processBatch(ctx context.Context, payload *BatchPayload) (*ResultEnvelope, error) {
	startTime := time.Now()
	timeout := c.timeout()

	log.Printf("[Job %s] Verifying batch: mode=%s, archive=%d bytes, timeout=%v",
		payload.JobID, payload.Mode, len(payload.Archive), timeout)

	// Step 1: Unpack the archive
	var entries []archive.Entry
	var err error
	opts := c.config.BatchOptions
	switch payload.Mode {
	case BatchModeLabels:
		if payload.SharedApplication == nil {
			err = errors.NewValidationError("application", "labels mode requires a shared application")
			break
		}
		opts.SharedApplication = payload.SharedApplication
		entries, err = archive.ReadLabels(payload.Archive, c.config.ArchiveLimits)
	case BatchModePairs, "":
		opts.SharedApplication = nil
		entries, err = archive.ReadPairs(payload.Archive, c.config.ArchiveLimits)
	default:
		err = errors.NewValidationError("mode", fmt.Sprintf("unknown batch mode %q", payload.Mode))
	}
	if err != nil {
		log.Printf("[Job %s] Archive rejected: %v", payload.JobID, err)
		return &ResultEnvelope{JobID: payload.JobID, Error: errors.ReportOf(err)}, err
	}

	// Step 2: Run the batch. Unfinished pairs are reported, not retried.
	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if opts.TimeBudget <= 0 || opts.TimeBudget > timeout {
		opts.TimeBudget = timeout
	}

	res, err := c.config.Batch.Run(processCtx, entries, opts)
	if err != nil {
		return &ResultEnvelope{JobID: payload.JobID, Error: errors.ReportOf(err)}, err
	}

	tally := res.Tally()
	log.Printf("[Job %s] Batch completed in %v: count=%d, pass=%d, review=%d, fail=%d, missing=%d, error=%d, skipped=%d",
		payload.JobID, time.Since(startTime), res.Count,
		tally[string(processor.StatusPass)], tally[string(processor.StatusNeedsReview)],
		tally[string(processor.StatusFail)], tally[string(processor.StatusMissing)],
		tally[batch.StatusError], res.Skipped)

	return &ResultEnvelope{JobID: payload.JobID, Batch: res}, nil
}

// timeoutAware turns a run cut short by the processing deadline into a TIMEOUT error
func (c *Consumer) timeoutAware(processCtx context.Context, jobID string, timeout, duration time.Duration, err error) error {
	if processCtx.Err() == context.DeadlineExceeded && !errors.IsKind(err, errors.KindTimeout) {
		log.Printf("[Job %s] Processing timed out after %v (timeout: %v)", jobID, duration, timeout)
		return errors.NewTimeoutError("processing", timeout, err)
	}
	log.Printf("[Job %s] Verification failed after %v: %v", jobID, duration, err)
	return err
}

// taskError decides whether asynq should retry
func taskError(err error) error {
	if err == nil {
		return nil
	}
	switch errors.KindOf(err) {
	case errors.KindValidation, errors.KindDecode, errors.KindPairing:
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

func writeResult(task *asynq.Task, envelope *ResultEnvelope) {
	rw := task.ResultWriter()
	if rw == nil || envelope == nil {
		return
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("[Job %s] Warning: Failed to marshal result: %v", envelope.JobID, err)
		return
	}
	if _, err := rw.Write(data); err != nil {
		log.Printf("[Job %s] Warning: Failed to write result: %v", envelope.JobID, err)
	}
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
	}
}
