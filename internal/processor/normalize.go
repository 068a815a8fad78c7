package processor

import (
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	folder = cases.Fold()

	apostrophes = strings.NewReplacer("'", "", "’", "", "‘", "", "`", "", "´", "")

	// OCR look-alikes for digits inside numeric tokens
	digitConfusions = strings.NewReplacer(
		"O", "0", "o", "0",
		"I", "1", "l", "1", "|", "1",
		"S", "5",
		"B", "8",
	)

	// A numeral (possibly with OCR look-alikes) followed by a percent sign.
	abvPattern = regexp.MustCompile(`(?:^|[^0-9A-Za-z])([0-9OoIl|SB]{1,3}(?:[.,][0-9OoIl|SB]{1,3})?)\s*%`)

	// A numeral followed by a volume unit. Longer unit spellings come first.
	volumePattern = regexp.MustCompile(`(?i)(\d[\dOo]*(?:[.,][\dOo]+)?)\s*` +
		`(milliliters?|millilitres?|ml|centiliters?|centilitres?|cl|liters?|litres?|l|` +
		`fl\.?\s*oz\.?|fluid\s+ounces?|ounces?|oz|gallons?|gal)`)

	plainNumber = regexp.MustCompile(`\d{1,3}(?:[.,]\d+)?`)
)

// NormalizeText prepares free text for similarity scoring: compatibility
// normalized, case folded, apostrophes dropped, punctuation turned into
// spaces and whitespace collapsed.
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = folder.String(s)
	s = apostrophes.Replace(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeWhitespace applies compatibility normalization and collapses
// whitespace, keeping case and punctuation.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}

// ABVCandidate is a percentage found in label text
type ABVCandidate struct {
	Raw       string
	Canonical string
}

// FindABV returns every percentage in text in order of appearance
func FindABV(text string) []ABVCandidate {
	var out []ABVCandidate
	for _, m := range abvPattern.FindAllStringSubmatchIndex(text, -1) {
		token := text[m[2]:m[3]]
		if !strings.ContainsAny(token, "0123456789") {
			continue
		}
		// Skip the fractional tail of a numeral glued to a word ("ALC12.5%").
		if m[2] >= 2 && (text[m[2]-1] == '.' || text[m[2]-1] == ',') && text[m[2]-2] >= '0' && text[m[2]-2] <= '9' {
			continue
		}
		canonical, ok := canonicalDecimal(digitConfusions.Replace(token))
		if !ok {
			continue
		}
		if v, _ := strconv.ParseFloat(canonical, 64); v > 100 {
			continue
		}
		out = append(out, ABVCandidate{
			Raw:       strings.TrimSpace(text[m[2]:m[1]]),
			Canonical: canonical,
		})
	}
	return out
}

// CanonicalABV canonicalizes a declared ABV such as "12.5%", "12.50 % ABV"
// or "Alc. 12.5% by vol".
func CanonicalABV(declared string) (string, bool) {
	if found := FindABV(declared); len(found) > 0 {
		return found[0].Canonical, true
	}
	num := plainNumber.FindString(declared)
	if num == "" {
		return "", false
	}
	canonical, ok := canonicalDecimal(num)
	if !ok {
		return "", false
	}
	if v, _ := strconv.ParseFloat(canonical, 64); v > 100 {
		return "", false
	}
	return canonical, true
}

// canonicalDecimal turns "12,50" into "12.5" and "013" into "13"
func canonicalDecimal(s string) (string, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	r, ok := new(big.Rat).SetString(s)
	if !ok || r.Sign() < 0 {
		return "", false
	}
	return ratString(r), true
}

// ratString renders r as the shortest exact decimal, up to 6 places
func ratString(r *big.Rat) string {
	out := r.FloatString(6)
	if strings.Contains(out, ".") {
		out = strings.TrimRight(out, "0")
		out = strings.TrimSuffix(out, ".")
	}
	return out
}

// UnitSystem separates metric from US customary measures
type UnitSystem string

const (
	SystemMetric UnitSystem = "metric"
	SystemUS     UnitSystem = "us"
)

// Volume is a net-contents statement in its system's canonical unit
// (mL or fl oz). The magnitude is exact.
type Volume struct {
	Magnitude *big.Rat
	Unit      string
	System    UnitSystem
	Raw       string
}

// String renders the canonical form, e.g. "750 mL"
func (v Volume) String() string {
	return ratString(v.Magnitude) + " " + v.Unit
}

// Digits is the canonical magnitude used for digit-edit comparison
func (v Volume) Digits() string {
	return ratString(v.Magnitude)
}

// Equal reports exact equality of canonical unit and magnitude
func (v Volume) Equal(o Volume) bool {
	return v.System == o.System && v.Unit == o.Unit && v.Magnitude.Cmp(o.Magnitude) == 0
}

type unitFactor struct {
	unit   string
	system UnitSystem
	factor int64
}

func lookupUnit(raw string) (unitFactor, bool) {
	u := strings.ToLower(strings.Join(strings.Fields(strings.ReplaceAll(raw, ".", " ")), " "))
	switch {
	case u == "ml" || strings.HasPrefix(u, "millilit"):
		return unitFactor{"mL", SystemMetric, 1}, true
	case u == "cl" || strings.HasPrefix(u, "centilit"):
		return unitFactor{"mL", SystemMetric, 10}, true
	case u == "l" || strings.HasPrefix(u, "lit"):
		return unitFactor{"mL", SystemMetric, 1000}, true
	case u == "fl oz" || u == "floz" || strings.HasPrefix(u, "fluid") || u == "oz" || strings.HasPrefix(u, "ounce"):
		return unitFactor{"fl oz", SystemUS, 1}, true
	case u == "gal" || strings.HasPrefix(u, "gallon"):
		return unitFactor{"fl oz", SystemUS, 128}, true
	}
	return unitFactor{}, false
}

// FindVolumes returns every net-contents statement in text in order
func FindVolumes(text string) []Volume {
	var out []Volume
	for _, m := range volumePattern.FindAllStringSubmatchIndex(text, -1) {
		// The numeral and unit must stand alone ("12 lbs" is not "12 l").
		if (m[2] > 0 && isASCIIAlnum(text[m[2]-1])) || (m[5] < len(text) && isASCIILetter(text[m[5]])) {
			continue
		}
		num := digitConfusions.Replace(text[m[2]:m[3]])
		unit, ok := lookupUnit(text[m[4]:m[5]])
		if !ok {
			continue
		}
		mag, ok := new(big.Rat).SetString(strings.ReplaceAll(num, ",", "."))
		if !ok || mag.Sign() <= 0 {
			continue
		}
		mag.Mul(mag, new(big.Rat).SetInt64(unit.factor))
		out = append(out, Volume{
			Magnitude: mag,
			Unit:      unit.unit,
			System:    unit.system,
			Raw:       strings.TrimSpace(text[m[2]:m[5]]),
		})
	}
	return out
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isASCIIAlnum(c byte) bool {
	return isASCIILetter(c) || (c >= '0' && c <= '9')
}

// CanonicalVolume canonicalizes a declared net contents such as "750 mL"
func CanonicalVolume(declared string) (Volume, bool) {
	found := FindVolumes(declared)
	if len(found) == 0 {
		return Volume{}, false
	}
	return found[0], true
}
