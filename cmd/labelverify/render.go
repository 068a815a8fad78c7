package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/adverant/nexus/labelverify-worker/internal/batch"
	"github.com/adverant/nexus/labelverify-worker/internal/processor"
)

func orDash(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return "-"
	}
	return *s
}

func confidenceText(c *float64) string {
	if c == nil {
		return "-"
	}
	return fmt.Sprintf("%.3f", *c)
}

func renderResult(r *processor.VerificationResult) string {
	rows := make([][]string, 0, len(r.Items))
	for _, it := range r.Items {
		rows = append(rows, []string{
			string(it.Field),
			orDash(it.Expected),
			orDash(it.Found),
			string(it.Status),
			confidenceText(it.Confidence),
			orDash(it.Notes),
		})
	}

	var b strings.Builder
	b.WriteString(renderTable(
		[]string{"Field", "Expected", "Found", "Status", "Confidence", "Notes"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
	fmt.Fprintf(&b, "\nOverall: %s\n", r.OverallStatus)
	fmt.Fprintf(&b, "Image quality: %s (avg confidence %.3f, low-confidence ratio %.3f)\n",
		r.ImageQuality.Rating, r.ImageQuality.AvgOCRConfidence, r.ImageQuality.LowConfRatio)
	if r.ImageQuality.Recommendation != "" {
		fmt.Fprintf(&b, "Recommendation: %s\n", r.ImageQuality.Recommendation)
	}
	fmt.Fprintf(&b, "Timings: OCR %dms, extract+compare %dms, total %dms",
		r.TimingsMs.OCRTotal, r.TimingsMs.ExtractCompare, r.TimingsMs.Total)
	return b.String()
}

func renderBatch(res *batch.Result) string {
	rows := make([][]string, 0, len(res.Results))
	for _, pr := range res.Results {
		brand := "-"
		if pr.Application != nil {
			brand = pr.Application.BrandName
		}
		detail := "-"
		if pr.Error != nil {
			detail = fmt.Sprintf("%s: %s", pr.Error.Kind, pr.Error.Message)
		} else if pr.Result != nil {
			detail = failingFields(pr.Result)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", pr.Index),
			orDash(&pr.Folder),
			orDash(&pr.LabelFilename),
			brand,
			pr.Status,
			detail,
		})
	}

	var b strings.Builder
	b.WriteString(renderTable(
		[]string{"#", "Folder", "Label", "Brand", "Status", "Detail"},
		rows,
		[]columnAlignment{alignRight},
	))

	tally := res.Tally()
	statuses := make([]string, 0, len(tally))
	for status := range tally {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	parts := make([]string, 0, len(statuses))
	for _, status := range statuses {
		parts = append(parts, fmt.Sprintf("%s=%d", status, tally[status]))
	}
	fmt.Fprintf(&b, "\nBatch %s: %d labels (%s)", res.BatchID, res.Count, strings.Join(parts, ", "))
	if res.Cancelled {
		fmt.Fprintf(&b, "\nStopped early: %d labels not processed", res.Skipped)
	}
	return b.String()
}

// failingFields lists the fields that kept a label from passing
func failingFields(r *processor.VerificationResult) string {
	var fields []string
	for _, it := range r.Items {
		if it.Status != processor.StatusPass {
			fields = append(fields, fmt.Sprintf("%s=%s", it.Field, it.Status))
		}
	}
	if len(fields) == 0 {
		return "-"
	}
	return strings.Join(fields, ", ")
}
