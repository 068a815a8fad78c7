package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// BrandPolicy tunes brand-name similarity classification.
type BrandPolicy struct {
	PassThreshold   float64 `toml:"pass_threshold"`
	ReviewThreshold float64 `toml:"review_threshold"`
	// MinCoverage is the shortest/longest length ratio below which a token
	// subset match is treated as truncation and capped at review.
	MinCoverage    float64 `toml:"min_coverage"`
	SubstringBonus float64 `toml:"substring_bonus"`
	ZoneFraction   float64 `toml:"zone_fraction"`
	MaxCandidates  int     `toml:"max_candidates"`
}

// NumericPolicy tunes ABV and net-contents classification. A value read
// within MaxDigitEdits of the declared one goes to review instead of failing,
// but only when the declared value has at least MinTolerantDigits digits.
// Shorter values such as "5%" fail on any difference.
type NumericPolicy struct {
	MaxDigitEdits     int `toml:"max_digit_edits"`
	MinTolerantDigits int `toml:"min_tolerant_digits"`
}

// ConfidencePolicy controls low-confidence escalation.
type ConfidencePolicy struct {
	MinPassConfidence float64 `toml:"min_pass_confidence"`
}

// QualityPolicy holds the image quality rating thresholds.
type QualityPolicy struct {
	LowConfidenceThreshold float64 `toml:"low_confidence_threshold"`
	GoodAvg                float64 `toml:"good_avg"`
	PoorAvg                float64 `toml:"poor_avg"`
	GoodLowRatio           float64 `toml:"good_low_ratio"`
	PoorLowRatio           float64 `toml:"poor_low_ratio"`
	MinTextChars           int     `toml:"min_text_chars"`
	IncludeItem            bool    `toml:"include_item"`
}

// WarningPolicy tunes government warning header detection.
type WarningPolicy struct {
	PresenceThreshold float64 `toml:"presence_threshold"`
}

// EnginePolicy controls OCR retries.
type EnginePolicy struct {
	MaxAttempts      int `toml:"max_attempts"`
	InitialBackoffMs int `toml:"initial_backoff_ms"`
	MaxBackoffMs     int `toml:"max_backoff_ms"`
}

// Policy is the full set of tunable comparison constants.
type Policy struct {
	Brand      BrandPolicy      `toml:"brand"`
	Numeric    NumericPolicy    `toml:"numeric"`
	Confidence ConfidencePolicy `toml:"confidence"`
	Quality    QualityPolicy    `toml:"quality"`
	Warning    WarningPolicy    `toml:"warning"`
	Engine     EnginePolicy     `toml:"engine"`
}

// DefaultPolicy returns the built-in thresholds.
func DefaultPolicy() Policy {
	return Policy{
		Brand: BrandPolicy{
			PassThreshold:   0.85,
			ReviewThreshold: 0.70,
			MinCoverage:     0.60,
			SubstringBonus:  0.86,
			ZoneFraction:    0.40,
			MaxCandidates:   15,
		},
		Numeric: NumericPolicy{
			MaxDigitEdits:     1,
			MinTolerantDigits: 2,
		},
		Confidence: ConfidencePolicy{
			MinPassConfidence: 0.60,
		},
		Quality: QualityPolicy{
			LowConfidenceThreshold: 0.50,
			GoodAvg:                0.80,
			PoorAvg:                0.55,
			GoodLowRatio:           0.15,
			PoorLowRatio:           0.50,
			MinTextChars:           40,
			IncludeItem:            true,
		},
		Warning: WarningPolicy{
			PresenceThreshold: 0.85,
		},
		Engine: EnginePolicy{
			MaxAttempts:      3,
			InitialBackoffMs: 200,
			MaxBackoffMs:     2000,
		},
	}
}

// LoadPolicy reads a TOML policy file over the defaults. An empty path
// yields the defaults.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file '%s': %w", path, err)
	}

	return ParsePolicy(data)
}

// ParsePolicy decodes TOML policy data over the defaults.
func ParsePolicy(data []byte) (Policy, error) {
	policy := DefaultPolicy()

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&policy); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy TOML: %w", err)
	}

	if err := policy.Validate(); err != nil {
		return Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	return policy, nil
}

// Encode renders the policy as TOML.
func (p Policy) Encode() ([]byte, error) {
	return toml.Marshal(p)
}

// Validate checks threshold ranges and orderings.
func (p Policy) Validate() error {
	unit := map[string]float64{
		"brand.pass_threshold":             p.Brand.PassThreshold,
		"brand.review_threshold":           p.Brand.ReviewThreshold,
		"brand.min_coverage":               p.Brand.MinCoverage,
		"brand.substring_bonus":            p.Brand.SubstringBonus,
		"brand.zone_fraction":              p.Brand.ZoneFraction,
		"confidence.min_pass_confidence":   p.Confidence.MinPassConfidence,
		"quality.low_confidence_threshold": p.Quality.LowConfidenceThreshold,
		"quality.good_avg":                 p.Quality.GoodAvg,
		"quality.poor_avg":                 p.Quality.PoorAvg,
		"quality.good_low_ratio":           p.Quality.GoodLowRatio,
		"quality.poor_low_ratio":           p.Quality.PoorLowRatio,
		"warning.presence_threshold":       p.Warning.PresenceThreshold,
	}
	for name, v := range unit {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}

	if p.Brand.ReviewThreshold > p.Brand.PassThreshold {
		return fmt.Errorf("brand.review_threshold (%v) must not exceed brand.pass_threshold (%v)",
			p.Brand.ReviewThreshold, p.Brand.PassThreshold)
	}
	if p.Quality.PoorAvg > p.Quality.GoodAvg {
		return fmt.Errorf("quality.poor_avg (%v) must not exceed quality.good_avg (%v)",
			p.Quality.PoorAvg, p.Quality.GoodAvg)
	}
	if p.Quality.GoodLowRatio > p.Quality.PoorLowRatio {
		return fmt.Errorf("quality.good_low_ratio (%v) must not exceed quality.poor_low_ratio (%v)",
			p.Quality.GoodLowRatio, p.Quality.PoorLowRatio)
	}
	if p.Brand.MaxCandidates < 1 {
		return fmt.Errorf("brand.max_candidates must be positive, got %d", p.Brand.MaxCandidates)
	}
	if p.Numeric.MaxDigitEdits < 0 {
		return fmt.Errorf("numeric.max_digit_edits must not be negative, got %d", p.Numeric.MaxDigitEdits)
	}
	if p.Numeric.MinTolerantDigits < 0 {
		return fmt.Errorf("numeric.min_tolerant_digits must not be negative, got %d", p.Numeric.MinTolerantDigits)
	}
	if p.Quality.MinTextChars < 0 {
		return fmt.Errorf("quality.min_text_chars must not be negative, got %d", p.Quality.MinTextChars)
	}
	if p.Engine.MaxAttempts < 1 {
		return fmt.Errorf("engine.max_attempts must be at least 1, got %d", p.Engine.MaxAttempts)
	}
	if p.Engine.InitialBackoffMs < 0 || p.Engine.MaxBackoffMs < p.Engine.InitialBackoffMs {
		return fmt.Errorf("engine backoff must satisfy 0 <= initial_backoff_ms <= max_backoff_ms")
	}
	return nil
}
