package processor

import (
	"bytes"
	"encoding/json"
	"strings"

	apperrors "github.com/adverant/nexus/labelverify-worker/internal/errors"
)

// ApplicationRecord is what the applicant declared for the label
type ApplicationRecord struct {
	BrandName                 string `json:"brand_name"`
	ABV                       string `json:"abv"`
	NetContents               string `json:"net_contents"`
	GovernmentWarningRequired bool   `json:"government_warning_required"`
}

// NewApplicationRecord trims the declared values. The warning is required.
func NewApplicationRecord(brand, abv, netContents string) ApplicationRecord {
	return ApplicationRecord{
		BrandName:                 strings.TrimSpace(brand),
		ABV:                       strings.TrimSpace(abv),
		NetContents:               strings.TrimSpace(netContents),
		GovernmentWarningRequired: true,
	}
}

// Validate rejects records that cannot be verified
func (a ApplicationRecord) Validate() error {
	if strings.TrimSpace(a.BrandName) == "" {
		return apperrors.NewValidationError("brand_name", "must not be empty")
	}
	return nil
}

// ParseApplicationJSON decodes an application descriptor. A missing
// government_warning_required key means the warning is required.
func ParseApplicationJSON(data []byte) (ApplicationRecord, error) {
	var raw struct {
		BrandName                 *string `json:"brand_name"`
		ABV                       *string `json:"abv"`
		NetContents               *string `json:"net_contents"`
		GovernmentWarningRequired *bool   `json:"government_warning_required"`
	}

	dec := json.NewDecoder(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	if err := dec.Decode(&raw); err != nil {
		ve := apperrors.NewValidationError("application", "descriptor is not valid JSON")
		ve.Cause = err
		return ApplicationRecord{}, ve
	}

	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	rec := NewApplicationRecord(deref(raw.BrandName), deref(raw.ABV), deref(raw.NetContents))
	if raw.GovernmentWarningRequired != nil {
		rec.GovernmentWarningRequired = *raw.GovernmentWarningRequired
	}

	if err := rec.Validate(); err != nil {
		return ApplicationRecord{}, err
	}
	return rec, nil
}

// CanonicalJSON is the stable encoding used for cache keys
func (a ApplicationRecord) CanonicalJSON() []byte {
	rec := NewApplicationRecord(a.BrandName, a.ABV, a.NetContents)
	rec.GovernmentWarningRequired = a.GovernmentWarningRequired
	data, _ := json.Marshal(rec)
	return data
}
