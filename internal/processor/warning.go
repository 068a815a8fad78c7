package processor

import (
	"regexp"
	"strings"
)

// WarningHeader is the mandatory all-caps lead-in of the health warning
const WarningHeader = "GOVERNMENT WARNING:"

// WarningBody is the statutory text that must follow the header (27 CFR 16.21)
const WarningBody = "(1) ACCORDING TO THE SURGEON GENERAL, WOMEN SHOULD NOT DRINK ALCOHOLIC BEVERAGES " +
	"DURING PREGNANCY BECAUSE OF THE RISK OF BIRTH DEFECTS. (2) CONSUMPTION OF ALCOHOLIC BEVERAGES " +
	"IMPAIRS YOUR ABILITY TO DRIVE A CAR OR OPERATE MACHINERY, AND MAY CAUSE HEALTH PROBLEMS."

// normalizedHeaderPhrase is what presence detection looks for
const normalizedHeaderPhrase = "government warning"

var headerPhrasePattern = regexp.MustCompile(`(?i)government\s+warning\s*[:;.]?`)

// normalizeWarningBody folds case on top of whitespace normalization. The
// body's wording and punctuation are checked verbatim; its case is not
// regulated.
func normalizeWarningBody(s string) string {
	return folder.String(NormalizeWhitespace(s))
}

// headerMatches requires the exact uppercase header with its colon
func headerMatches(line string) bool {
	return strings.Contains(NormalizeWhitespace(line), WarningHeader)
}

// bodyAfterHeader returns the text following the header phrase in stream
func bodyAfterHeader(stream string) string {
	norm := NormalizeWhitespace(stream)
	loc := headerPhrasePattern.FindStringIndex(norm)
	if loc == nil {
		return ""
	}
	return strings.TrimSpace(norm[loc[1]:])
}

// bodyMatches reports whether the statutory body appears in text
func bodyMatches(text string) bool {
	return strings.Contains(normalizeWarningBody(text), normalizeWarningBody(WarningBody))
}
