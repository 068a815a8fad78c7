package processor

// OverallStatus aggregates item statuses: any FAIL wins, then any required
// MISSING, then any NEEDS_REVIEW, else PASS. A MISSING item that was not
// required still asks for review.
func OverallStatus(items []FieldCheck) Status {
	var fail, missing, review bool
	for _, it := range items {
		switch it.Status {
		case StatusFail:
			fail = true
		case StatusMissing:
			if it.Required {
				missing = true
			} else {
				review = true
			}
		case StatusNeedsReview:
			review = true
		}
	}

	switch {
	case fail:
		return StatusFail
	case missing:
		return StatusMissing
	case review:
		return StatusNeedsReview
	default:
		return StatusPass
	}
}
