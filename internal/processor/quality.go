package processor

import (
	"math"
	"unicode/utf8"

	"github.com/adverant/nexus/labelverify-worker/internal/config"
)

const (
	recommendTooLittleText = "Very little text was recognized. The photo may be cropped, blank or too small; retake it with the whole label in frame."
	recommendLowConfidence = "Text recognition confidence is low. Retake the photo in even light and in focus."
	recommendUnevenText    = "Parts of the label are hard to read, typically from glare or curvature. Retake the photo straight on without reflections."
	recommendFair          = "Image is usable but borderline. Review low-confidence fields carefully."
	recommendGood          = "Image quality is sufficient for automated checks."
)

// QualityAssessor grades OCR output. It only flags; it never fails a label.
type QualityAssessor struct {
	policy config.QualityPolicy
}

// NewQualityAssessor creates an assessor for the given policy
func NewQualityAssessor(policy config.Policy) *QualityAssessor {
	return &QualityAssessor{policy: policy.Quality}
}

// Assess computes the image quality report for a set of regions
func (q *QualityAssessor) Assess(regions []TextRegion) ImageQualityReport {
	report := ImageQualityReport{}

	low := 0
	var sum float64
	for _, r := range regions {
		c := sanitizeConfidence(r.Confidence)
		sum += c
		if c < q.policy.LowConfidenceThreshold {
			low++
		}
		report.TotalTextChars += utf8.RuneCountInString(r.Text)
	}
	if len(regions) > 0 {
		report.AvgOCRConfidence = sanitizeConfidence(sum / float64(len(regions)))
		report.LowConfRatio = math.Round(float64(low)/float64(len(regions))*1000) / 1000
	}

	switch {
	case report.TotalTextChars < q.policy.MinTextChars:
		report.Rating, report.Recommendation = QualityPoor, recommendTooLittleText
	case report.AvgOCRConfidence < q.policy.PoorAvg:
		report.Rating, report.Recommendation = QualityPoor, recommendLowConfidence
	case report.LowConfRatio > q.policy.PoorLowRatio:
		report.Rating, report.Recommendation = QualityPoor, recommendUnevenText
	case report.AvgOCRConfidence >= q.policy.GoodAvg && report.LowConfRatio <= q.policy.GoodLowRatio:
		report.Rating, report.Recommendation = QualityGood, recommendGood
	default:
		report.Rating, report.Recommendation = QualityFair, recommendFair
	}
	return report
}

// Check turns the report into the image_quality field check
func (q *QualityAssessor) Check(report ImageQualityReport) FieldCheck {
	status := StatusNeedsReview
	if report.Rating == QualityGood {
		status = StatusPass
	}
	return FieldCheck{
		Field:      FieldImageQuality,
		Found:      strPtr(string(report.Rating)),
		Status:     status,
		Confidence: floatPtr(report.AvgOCRConfidence),
		Notes:      strPtr(report.Recommendation),
	}
}
