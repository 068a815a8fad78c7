package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Error taxonomy for the label verification worker
 *
 * Every failure that stops a verification is reported as a VerificationError
 * carrying one Kind. Transports turn it into an ErrorReport so callers can tell
 * "could not verify" apart from "verified with low confidence".
 */

// Kind enum for structured error handling
type Kind string

const (
	// Input errors
	KindDecode     Kind = "DECODE_ERROR"
	KindValidation Kind = "VALIDATION_ERROR"
	KindPairing    Kind = "PAIRING_ERROR"

	// Engine errors
	KindEngineUnavailable Kind = "ENGINE_UNAVAILABLE"
	KindTimeout           Kind = "TIMEOUT"

	// Run errors
	KindCancelled Kind = "CANCELLED"
	KindInternal  Kind = "INTERNAL_ERROR"
)

// VerificationError represents a structured verification failure
type VerificationError struct {
	Kind      Kind
	Message   string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *VerificationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *VerificationError) Unwrap() error {
	return e.Cause
}

// ErrorReport is the serializable form of a VerificationError
type ErrorReport struct {
	Kind    Kind                   `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Report converts the error into its wire form
func (e *VerificationError) Report() *ErrorReport {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	if e.Cause != nil {
		details["cause"] = e.Cause.Error()
	}
	if len(details) == 0 {
		details = nil
	}
	return &ErrorReport{Kind: e.Kind, Message: e.Message, Details: details}
}

// ToMap converts error to map for task results and log fields
func (e *VerificationError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_kind": string(e.Kind),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}

// Factory functions for common errors

func NewDecodeError(reason string, cause error) *VerificationError {
	return &VerificationError{
		Kind:      KindDecode,
		Message:   fmt.Sprintf("Image could not be decoded: %s", reason),
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewEngineError(engine string, cause error) *VerificationError {
	return &VerificationError{
		Kind:      KindEngineUnavailable,
		Message:   fmt.Sprintf("OCR engine %s is unavailable", engine),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine": engine,
		},
		Cause: cause,
	}
}

func NewEngineExhaustedError(engine string, attempts int, cause error) *VerificationError {
	return &VerificationError{
		Kind:      KindEngineUnavailable,
		Message:   fmt.Sprintf("OCR engine %s failed after %d attempts", engine, attempts),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine":   engine,
			"attempts": attempts,
		},
		Cause: cause,
	}
}

func NewTimeoutError(stage string, duration time.Duration, cause error) *VerificationError {
	return &VerificationError{
		Kind:      KindTimeout,
		Message:   fmt.Sprintf("%s timed out after %v", stage, duration),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"stage":            stage,
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewValidationError(field string, reason string) *VerificationError {
	return &VerificationError{
		Kind:      KindValidation,
		Message:   fmt.Sprintf("Invalid %s: %s", field, reason),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

func NewPairingError(folder string, reason string) *VerificationError {
	return &VerificationError{
		Kind:      KindPairing,
		Message:   fmt.Sprintf("Folder %q cannot be paired: %s", folder, reason),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"folder": folder,
		},
	}
}

func NewCancelledError(reason string) *VerificationError {
	return &VerificationError{
		Kind:      KindCancelled,
		Message:   fmt.Sprintf("Not processed: %s", reason),
		Timestamp: time.Now(),
	}
}

func NewInternalError(message string, cause error) *VerificationError {
	return &VerificationError{
		Kind:      KindInternal,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// As finds the first VerificationError in err's chain
func As(err error) (*VerificationError, bool) {
	var ve *VerificationError
	if stderrors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or KindInternal for foreign errors
func KindOf(err error) Kind {
	if ve, ok := As(err); ok {
		return ve.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	ve, ok := As(err)
	return ok && ve.Kind == kind
}

// ReportOf converts any error into an ErrorReport
func ReportOf(err error) *ErrorReport {
	if err == nil {
		return nil
	}
	if ve, ok := As(err); ok {
		return ve.Report()
	}
	return NewInternalError("Unexpected verification failure", err).Report()
}
