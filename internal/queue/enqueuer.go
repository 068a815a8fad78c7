package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// ErrJobNotFound is returned when a job id is unknown or its result has expired
var ErrJobNotFound = stderrors.New("job not found")

// EnqueuerConfig holds producer configuration
type EnqueuerConfig struct {
	RedisURL  string
	QueueName string
	MaxRetry  int
	Timeout   time.Duration // per task, enforced by the worker
	Retention time.Duration // how long finished results stay readable
}

// Enqueuer submits verification tasks and reports on them
type Enqueuer struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	config    *EnqueuerConfig
}

// JobStatus is the view of a queued task returned to callers
type JobStatus struct {
	JobID       string          `json:"jobId"`
	Type        string          `json:"type"`
	State       string          `json:"state"`
	Retried     int             `json:"retried"`
	MaxRetry    int             `json:"maxRetry"`
	LastError   string          `json:"lastError,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// NewEnqueuer creates a producer for the verification queue
func NewEnqueuer(cfg *EnqueuerConfig) (*Enqueuer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.MaxRetry < 0 {
		cfg.MaxRetry = 0
	}

	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	return &Enqueuer{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		config:    cfg,
	}, nil
}

// EnqueueVerify submits a single-label task. An empty JobID is assigned.
func (e *Enqueuer) EnqueueVerify(ctx context.Context, payload *VerifyPayload) (string, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}
	task, err := NewVerifyTask(payload, e.options(payload.JobID)...)
	if err != nil {
		return "", err
	}
	return e.enqueue(ctx, task, payload.JobID)
}

// EnqueueBatch submits an archive task. An empty JobID is assigned.
func (e *Enqueuer) EnqueueBatch(ctx context.Context, payload *BatchPayload) (string, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}
	task, err := NewBatchTask(payload, e.options(payload.JobID)...)
	if err != nil {
		return "", err
	}
	return e.enqueue(ctx, task, payload.JobID)
}

func (e *Enqueuer) options(jobID string) []asynq.Option {
	opts := []asynq.Option{
		asynq.TaskID(jobID),
		asynq.Queue(e.config.QueueName),
		asynq.MaxRetry(e.config.MaxRetry),
		asynq.Retention(e.config.Retention),
	}
	if e.config.Timeout > 0 {
		opts = append(opts, asynq.Timeout(e.config.Timeout))
	}
	return opts
}

func (e *Enqueuer) enqueue(ctx context.Context, task *asynq.Task, jobID string) (string, error) {
	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		if stderrors.Is(err, asynq.ErrTaskIDConflict) {
			return "", fmt.Errorf("job %s already exists: %w", jobID, err)
		}
		return "", fmt.Errorf("failed to enqueue %s: %w", task.Type(), err)
	}
	return info.ID, nil
}

// Status looks up a job by id
func (e *Enqueuer) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	info, err := e.inspector.GetTaskInfo(e.config.QueueName, jobID)
	if err != nil {
		if stderrors.Is(err, asynq.ErrTaskNotFound) || stderrors.Is(err, asynq.ErrQueueNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to inspect job %s: %w", jobID, err)
	}
	return statusFromInfo(info), nil
}

func statusFromInfo(info *asynq.TaskInfo) *JobStatus {
	status := &JobStatus{
		JobID:     info.ID,
		Type:      info.Type,
		State:     info.State.String(),
		Retried:   info.Retried,
		MaxRetry:  info.MaxRetry,
		LastError: info.LastErr,
	}
	if !info.CompletedAt.IsZero() {
		completed := info.CompletedAt
		status.CompletedAt = &completed
	}
	if len(info.Result) > 0 && json.Valid(info.Result) {
		status.Result = json.RawMessage(info.Result)
	}
	return status
}

// Close releases the Redis connections
func (e *Enqueuer) Close() error {
	if err := e.inspector.Close(); err != nil {
		return err
	}
	return e.client.Close()
}
