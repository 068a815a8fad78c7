package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/labelverify-worker/internal/processor"
)

// Task types handled by the worker
const (
	TypeVerify      = "label:verify"
	TypeVerifyBatch = "label:verify-batch"
)

// BatchMode selects how an archive is read
type BatchMode string

const (
	// BatchModePairs reads one folder (or file stem) per label with its own application.json
	BatchModePairs BatchMode = "pairs"
	// BatchModeLabels reads every image and checks it against a shared application
	BatchModeLabels BatchMode = "labels"
)

// VerifyPayload is the task data for a single label
type VerifyPayload struct {
	JobID       string                      `json:"jobId"`
	Filename    string                      `json:"filename,omitempty"`
	Image       []byte                      `json:"image"` // base64 in JSON
	Application processor.ApplicationRecord `json:"application"`
}

// BatchPayload is the task data for an archive of labels
type BatchPayload struct {
	JobID             string                       `json:"jobId"`
	Archive           []byte                       `json:"archive"` // base64 in JSON
	Mode              BatchMode                    `json:"mode"`
	SharedApplication *processor.ApplicationRecord `json:"sharedApplication,omitempty"`
}

// NewVerifyTask builds a label:verify task
func NewVerifyTask(p *VerifyPayload, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal verify payload: %w", err)
	}
	return asynq.NewTask(TypeVerify, data, opts...), nil
}

// NewBatchTask builds a label:verify-batch task
func NewBatchTask(p *BatchPayload, opts ...asynq.Option) (*asynq.Task, error) {
	switch p.Mode {
	case BatchModePairs:
	case BatchModeLabels:
		if p.SharedApplication == nil {
			return nil, fmt.Errorf("labels mode requires a shared application")
		}
	default:
		return nil, fmt.Errorf("unknown batch mode %q", p.Mode)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch payload: %w", err)
	}
	return asynq.NewTask(TypeVerifyBatch, data, opts...), nil
}
