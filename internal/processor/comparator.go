/**
 * Field Comparator - classifies each field against the application
 *
 * One strategy per field kind:
 * - text similarity (brand name)
 * - exact numeric with digit-edit tolerance (ABV, net contents)
 * - presence plus verbatim header and body (government warning)
 *
 * Confidence on a check is the OCR confidence of the text it was based on,
 * never the similarity score.
 */

package processor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/adverant/nexus/labelverify-worker/internal/config"
)

type strategy func(c *Comparator, app ApplicationRecord, ext *Extraction) FieldCheck

var strategies = map[FieldID]strategy{
	FieldBrandName:      (*Comparator).compareBrand,
	FieldABV:            (*Comparator).compareABV,
	FieldNetContents:    (*Comparator).compareNetContents,
	FieldWarningPresent: (*Comparator).compareWarningPresence,
	FieldWarningHeader:  (*Comparator).compareWarningHeader,
	FieldWarningText:    (*Comparator).compareWarningBody,
}

// Comparator applies the comparison policy
type Comparator struct {
	policy config.Policy
}

// NewComparator creates a comparator for the given policy
func NewComparator(policy config.Policy) *Comparator {
	return &Comparator{policy: policy}
}

// Compare produces one check per application field, in result order
func (c *Comparator) Compare(app ApplicationRecord, ext *Extraction) []FieldCheck {
	checks := make([]FieldCheck, 0, len(FieldOrder))
	for _, field := range FieldOrder {
		compare, ok := strategies[field]
		if !ok {
			continue
		}
		check := compare(c, app, ext)
		check.Field = field
		if check.Confidence != nil {
			check.Confidence = floatPtr(sanitizeConfidence(*check.Confidence))
		}
		checks = append(checks, check)
	}
	return checks
}

// escalate downgrades a PASS resting on low-confidence OCR
func (c *Comparator) escalate(check FieldCheck) FieldCheck {
	if check.Status != StatusPass || check.Confidence == nil {
		return check
	}
	if *check.Confidence < c.policy.Confidence.MinPassConfidence {
		check.Status = StatusNeedsReview
		check.Notes = strPtr(fmt.Sprintf("Matched, but OCR confidence %.2f is below %.2f",
			*check.Confidence, c.policy.Confidence.MinPassConfidence))
	}
	return check
}

func notDeclared(expected string) FieldCheck {
	check := FieldCheck{Status: StatusPass, Notes: strPtr("Not declared on application")}
	if expected != "" {
		check.Expected = strPtr(expected)
	}
	return check
}

func missing(expected string, required bool, note string) FieldCheck {
	return FieldCheck{
		Expected: strPtr(expected),
		Status:   StatusMissing,
		Notes:    strPtr(note),
		Required: required,
	}
}

func fromCandidate(expected string, cand Candidate, status Status, note string) FieldCheck {
	return FieldCheck{
		Expected:   strPtr(expected),
		Found:      strPtr(cand.Text),
		Status:     status,
		Confidence: floatPtr(cand.Confidence),
		Notes:      strPtr(note),
		Required:   true,
		RegionIDs:  cand.RegionIDs,
	}
}

func statusRank(s Status) int {
	switch s {
	case StatusPass:
		return 3
	case StatusNeedsReview:
		return 2
	case StatusFail:
		return 1
	}
	return 0
}

// BrandSimilarity scores two brand names in [0,1]
func (c *Comparator) BrandSimilarity(expected, found string) float64 {
	a, b := NormalizeText(expected), NormalizeText(found)
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	shorter, longer := a, b
	if utf8.RuneCountInString(shorter) > utf8.RuneCountInString(longer) {
		shorter, longer = longer, shorter
	}
	coverage := float64(utf8.RuneCountInString(shorter)) / float64(utf8.RuneCountInString(longer))

	ratio := Ratio(a, b)
	ts := TokenSetRatio(a, b)
	score := ratio
	if ts.Score > score {
		score = ts.Score
	}

	bp := c.policy.Brand
	if ts.Subset && coverage < bp.MinCoverage {
		// One name is a fragment of the other; a person has to decide.
		if coverage >= bp.MinCoverage/2 {
			score = bp.ReviewThreshold
		} else {
			score = ratio
		}
	}

	if utf8.RuneCountInString(shorter) >= 5 && coverage >= bp.MinCoverage && strings.Contains(longer, shorter) && score < bp.SubstringBonus {
		score = bp.SubstringBonus
	}
	return score
}

func (c *Comparator) compareBrand(app ApplicationRecord, ext *Extraction) FieldCheck {
	expected := app.BrandName
	if len(ext.Brand) == 0 {
		return missing(expected, true, "No brand text found in the label's branding area")
	}

	best, bestScore := 0, -1.0
	for i, cand := range ext.Brand {
		if s := c.BrandSimilarity(expected, cand.Text); s > bestScore {
			best, bestScore = i, s
		}
	}

	bp := c.policy.Brand
	status := StatusFail
	switch {
	case bestScore >= bp.PassThreshold:
		status = StatusPass
	case bestScore >= bp.ReviewThreshold:
		status = StatusNeedsReview
	}
	note := fmt.Sprintf("Brand similarity %.2f", bestScore)
	return c.escalate(fromCandidate(expected, ext.Brand[best], status, note))
}

func (c *Comparator) classifyDigits(exact bool, found, expected string) Status {
	if exact {
		return StatusPass
	}
	np := c.policy.Numeric
	if digitCount(expected) >= np.MinTolerantDigits && EditDistance(found, expected) <= np.MaxDigitEdits {
		return StatusNeedsReview
	}
	return StatusFail
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func (c *Comparator) compareABV(app ApplicationRecord, ext *Extraction) FieldCheck {
	declared := app.ABV
	if declared == "" {
		return notDeclared("")
	}

	expected, ok := CanonicalABV(declared)
	if !ok {
		check := FieldCheck{
			Expected: strPtr(declared),
			Status:   StatusNeedsReview,
			Notes:    strPtr(fmt.Sprintf("Declared ABV %q is not a percentage", declared)),
			Required: true,
		}
		if len(ext.ABV) > 0 {
			check.Found = strPtr(ext.ABV[0].Text)
			check.Confidence = floatPtr(ext.ABV[0].Confidence)
			check.RegionIDs = ext.ABV[0].RegionIDs
		}
		return check
	}
	if len(ext.ABV) == 0 {
		return missing(declared, true, "No alcohol content percentage found on label")
	}

	best, bestStatus := 0, Status("")
	for i, cand := range ext.ABV {
		s := c.classifyDigits(cand.Canonical == expected, cand.Canonical, expected)
		if statusRank(s) > statusRank(bestStatus) {
			best, bestStatus = i, s
		}
	}

	cand := ext.ABV[best]
	note := "Alcohol content matches"
	switch bestStatus {
	case StatusNeedsReview:
		note = fmt.Sprintf("Label shows %s%% against declared %s%%; differs by one digit, possibly an OCR misread", cand.Canonical, expected)
	case StatusFail:
		note = fmt.Sprintf("Label shows %s%% against declared %s%%", cand.Canonical, expected)
	}
	return c.escalate(fromCandidate(declared, cand.Candidate, bestStatus, note))
}

func (c *Comparator) compareNetContents(app ApplicationRecord, ext *Extraction) FieldCheck {
	declared := app.NetContents
	if declared == "" {
		return notDeclared("")
	}

	expected, ok := CanonicalVolume(declared)
	if !ok {
		check := FieldCheck{
			Expected: strPtr(declared),
			Status:   StatusNeedsReview,
			Notes:    strPtr(fmt.Sprintf("Declared net contents %q has no recognizable unit", declared)),
			Required: true,
		}
		if len(ext.NetContents) > 0 {
			check.Found = strPtr(ext.NetContents[0].Text)
			check.Confidence = floatPtr(ext.NetContents[0].Confidence)
			check.RegionIDs = ext.NetContents[0].RegionIDs
		}
		return check
	}
	if len(ext.NetContents) == 0 {
		return missing(declared, true, "No net contents statement found on label")
	}

	best, bestStatus := 0, Status("")
	for i, cand := range ext.NetContents {
		s := StatusFail
		if cand.Volume.System == expected.System {
			s = c.classifyDigits(cand.Volume.Equal(expected), cand.Volume.Digits(), expected.Digits())
		}
		if statusRank(s) > statusRank(bestStatus) {
			best, bestStatus = i, s
		}
	}

	cand := ext.NetContents[best]
	note := "Net contents match"
	switch {
	case cand.Volume.System != expected.System:
		note = fmt.Sprintf("Label states %s, declared %s; unit systems differ", cand.Volume, expected)
	case bestStatus == StatusNeedsReview:
		note = fmt.Sprintf("Label states %s against declared %s; differs by one digit, possibly an OCR misread", cand.Volume, expected)
	case bestStatus == StatusFail:
		note = fmt.Sprintf("Label states %s against declared %s", cand.Volume, expected)
	}
	return c.escalate(fromCandidate(declared, cand.Candidate, bestStatus, note))
}

func warningNotRequired(expected string, cand Candidate, present bool) FieldCheck {
	check := FieldCheck{
		Expected: strPtr(expected),
		Status:   StatusPass,
		Notes:    strPtr("Government warning not required for this application"),
	}
	if present && cand.Text != "" {
		check.Found = strPtr(cand.Text)
		check.Confidence = floatPtr(cand.Confidence)
		check.RegionIDs = cand.RegionIDs
	}
	return check
}

func (c *Comparator) compareWarningPresence(app ApplicationRecord, ext *Extraction) FieldCheck {
	w := ext.Warning
	if !app.GovernmentWarningRequired {
		return warningNotRequired(WarningHeader, w.Header, w.Present)
	}
	if !w.Present {
		return missing(WarningHeader, true, "No government warning found on label")
	}
	return fromCandidate(WarningHeader, w.Header, StatusPass, "Government warning present")
}

func (c *Comparator) compareWarningHeader(app ApplicationRecord, ext *Extraction) FieldCheck {
	w := ext.Warning
	if !app.GovernmentWarningRequired {
		return warningNotRequired(WarningHeader, w.Header, w.Present)
	}
	if !w.Present {
		return missing(WarningHeader, true, "No government warning header found")
	}
	if headerMatches(w.Header.Text) {
		return fromCandidate(WarningHeader, w.Header, StatusPass, "Header is exact")
	}
	return fromCandidate(WarningHeader, w.Header, StatusFail,
		fmt.Sprintf("Header must read exactly %q, in capitals with the colon", WarningHeader))
}

func (c *Comparator) compareWarningBody(app ApplicationRecord, ext *Extraction) FieldCheck {
	w := ext.Warning
	if !app.GovernmentWarningRequired {
		return warningNotRequired(WarningBody, w.Body, w.Present)
	}
	if !w.Present || w.Body.Text == "" {
		return missing(WarningBody, true, "No government warning text found")
	}
	if bodyMatches(w.Body.Text) {
		return fromCandidate(WarningBody, w.Body, StatusPass, "Warning text is verbatim")
	}
	return fromCandidate(WarningBody, w.Body, StatusFail, "Warning text differs from the required statement")
}
