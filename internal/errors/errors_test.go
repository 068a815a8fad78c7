package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerificationErrorUnwrapAndKind(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := fmt.Errorf("ocr step: %w", NewEngineError("tesseract", cause))

	assert.Equal(t, KindEngineUnavailable, KindOf(err))
	assert.True(t, IsKind(err, KindEngineUnavailable))
	assert.False(t, IsKind(err, KindTimeout))
	assert.ErrorIs(t, err, cause)
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(stderrors.New("boom")))
}

func TestReportIncludesCauseAndDetails(t *testing.T) {
	err := NewTimeoutError("ocr", 2*time.Second, stderrors.New("deadline"))
	report := err.Report()

	require.NotNil(t, report)
	assert.Equal(t, KindTimeout, report.Kind)
	assert.Equal(t, "ocr", report.Details["stage"])
	assert.Equal(t, "deadline", report.Details["cause"])
}

func TestReportWithoutDetailsOmitsMap(t *testing.T) {
	report := NewCancelledError("batch cancelled").Report()
	assert.Nil(t, report.Details)
	assert.Equal(t, KindCancelled, report.Kind)
}

func TestReportOf(t *testing.T) {
	assert.Nil(t, ReportOf(nil))

	report := ReportOf(stderrors.New("unexpected"))
	assert.Equal(t, KindInternal, report.Kind)

	report = ReportOf(NewValidationError("brand_name", "must not be empty"))
	assert.Equal(t, KindValidation, report.Kind)
	assert.Equal(t, "brand_name", report.Details["field"])
}

func TestToMap(t *testing.T) {
	m := NewPairingError("sample-3", "no label image").ToMap()
	assert.Equal(t, "PAIRING_ERROR", m["error_kind"])
	assert.Equal(t, "sample-3", m["folder"])
	assert.NotContains(t, m, "cause")
}
