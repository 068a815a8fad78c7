package processor

import (
	"math"
)

// FieldID identifies one checked field. The set is closed.
type FieldID string

const (
	FieldBrandName      FieldID = "brand_name"
	FieldABV            FieldID = "abv"
	FieldNetContents    FieldID = "net_contents"
	FieldWarningPresent FieldID = "government_warning_present"
	FieldWarningHeader  FieldID = "government_warning_header"
	FieldWarningText    FieldID = "government_warning_text"
	FieldImageQuality   FieldID = "image_quality"
)

// FieldOrder is the fixed order of items in a result
var FieldOrder = []FieldID{
	FieldBrandName,
	FieldABV,
	FieldNetContents,
	FieldWarningPresent,
	FieldWarningHeader,
	FieldWarningText,
	FieldImageQuality,
}

// Status is the outcome of one check or of the whole label
type Status string

const (
	StatusPass        Status = "PASS"
	StatusNeedsReview Status = "NEEDS_REVIEW"
	StatusFail        Status = "FAIL"
	StatusMissing     Status = "MISSING"
)

// QualityRating grades how trustworthy the OCR input was
type QualityRating string

const (
	QualityGood QualityRating = "GOOD"
	QualityFair QualityRating = "FAIR"
	QualityPoor QualityRating = "POOR"
)

// FieldCheck is the comparison outcome for one field
type FieldCheck struct {
	Field      FieldID  `json:"field"`
	Expected   *string  `json:"expected"`
	Found      *string  `json:"found"`
	Status     Status   `json:"status"`
	Confidence *float64 `json:"confidence"`
	Notes      *string  `json:"notes"`
	Required   bool     `json:"required"`
	RegionIDs  []string `json:"region_ids,omitempty"`
}

// ImageQualityReport summarizes OCR confidence over the whole image
type ImageQualityReport struct {
	Rating           QualityRating `json:"rating"`
	AvgOCRConfidence float64       `json:"avg_ocr_confidence"`
	LowConfRatio     float64       `json:"low_conf_ratio"`
	TotalTextChars   int           `json:"total_text_chars"`
	Recommendation   string        `json:"recommendation"`
}

// Timings are wall-clock durations in milliseconds
type Timings struct {
	OCRTotal       int64 `json:"ocr_total"`
	ExtractCompare int64 `json:"extract_compare"`
	Total          int64 `json:"total"`
}

// VerificationResult is the full outcome for one label
type VerificationResult struct {
	RunID         string             `json:"run_id"`
	Items         []FieldCheck       `json:"items"`
	OverallStatus Status             `json:"overall_status"`
	ImageQuality  ImageQualityReport `json:"image_quality"`
	TimingsMs     Timings            `json:"timings_ms"`
}

// Item returns the check for field, if present
func (r *VerificationResult) Item(field FieldID) (FieldCheck, bool) {
	for _, it := range r.Items {
		if it.Field == field {
			return it, true
		}
	}
	return FieldCheck{}, false
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

// sanitizeConfidence clamps to [0,1] and rounds to 3 decimals
func sanitizeConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return math.Round(c*1000) / 1000
}

func meanConfidence(regions []TextRegion) float64 {
	if len(regions) == 0 {
		return 0
	}
	var sum float64
	for _, r := range regions {
		sum += r.Confidence
	}
	return sanitizeConfidence(sum / float64(len(regions)))
}
