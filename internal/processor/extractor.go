/**
 * Field Extractor - turns an unordered bag of OCR lines into typed candidates
 *
 * - Brand: top-of-label lines ranked by font height and confidence
 * - ABV: percentage tokens, tolerant of OCR digit look-alikes
 * - Net contents: numeral + volume unit
 * - Government warning: header line and the text that follows it
 *
 * Extraction never fails; an absent field simply has no candidate.
 */

package processor

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/adverant/nexus/labelverify-worker/internal/config"
)

// Candidate is a piece of label text proposed for one field
type Candidate struct {
	Text       string
	Confidence float64
	RegionIDs  []string
	score      float64
}

// ABVMatch is a percentage candidate with its canonical value
type ABVMatch struct {
	Candidate
	Canonical string
}

// VolumeMatch is a net-contents candidate with its canonical volume
type VolumeMatch struct {
	Candidate
	Volume Volume
}

// WarningExtraction holds what was found of the government warning
type WarningExtraction struct {
	Present bool
	Header  Candidate
	Body    Candidate
}

// Extraction is every candidate found on one label
type Extraction struct {
	Regions     []TextRegion
	Brand       []Candidate
	ABV         []ABVMatch
	NetContents []VolumeMatch
	Warning     WarningExtraction
}

// FieldExtractor extracts candidates from OCR regions
type FieldExtractor struct {
	brand   config.BrandPolicy
	warning config.WarningPolicy
}

// NewFieldExtractor creates an extractor for the given policy
func NewFieldExtractor(policy config.Policy) *FieldExtractor {
	return &FieldExtractor{brand: policy.Brand, warning: policy.Warning}
}

// Extract runs every field extractor. imageHeight may be 0 when unknown.
func (e *FieldExtractor) Extract(regions []TextRegion, imageHeight int) *Extraction {
	ordered := ReadingOrder(regions)
	return &Extraction{
		Regions:     ordered,
		Brand:       e.brandCandidates(ordered, imageHeight),
		ABV:         abvCandidates(ordered),
		NetContents: volumeCandidates(ordered),
		Warning:     e.warningCandidate(ordered),
	}
}

// ReadingOrder sorts regions top-to-bottom then left-to-right, grouping
// regions whose vertical centers overlap into one row. Regions without IDs
// are numbered l1..ln. When no region has geometry the engine's order is kept.
func ReadingOrder(regions []TextRegion) []TextRegion {
	out := make([]TextRegion, 0, len(regions))
	for _, r := range regions {
		if strings.TrimSpace(r.Text) == "" {
			continue
		}
		r.Confidence = sanitizeConfidence(r.Confidence)
		out = append(out, r)
	}

	hasGeometry := false
	for _, r := range out {
		if !r.BoundingBox.Empty() {
			hasGeometry = true
			break
		}
	}

	if hasGeometry {
		center := func(r TextRegion) float64 { return float64(r.BoundingBox.Y) + float64(r.BoundingBox.Height)/2 }
		sort.SliceStable(out, func(i, j int) bool { return center(out[i]) < center(out[j]) })

		rowStart := 0
		for i := 1; i <= len(out); i++ {
			if i < len(out) {
				first := out[rowStart]
				tolerance := float64(first.BoundingBox.Height) / 2
				if center(out[i])-center(first) <= tolerance {
					continue
				}
			}
			row := out[rowStart:i]
			sort.SliceStable(row, func(a, b int) bool { return row[a].BoundingBox.X < row[b].BoundingBox.X })
			rowStart = i
		}
	}

	for i := range out {
		if out[i].ID == "" {
			out[i].ID = fmt.Sprintf("l%d", i+1)
		}
	}
	return out
}

func (e *FieldExtractor) brandCandidates(regions []TextRegion, imageHeight int) []Candidate {
	var zone []TextRegion
	if imageHeight > 0 {
		limit := float64(imageHeight) * e.brand.ZoneFraction
		for _, r := range regions {
			if !r.BoundingBox.Empty() && float64(r.BoundingBox.Y) < limit {
				zone = append(zone, r)
			}
		}
	}
	if len(zone) == 0 {
		zone = regions
	}

	brandScore := func(r TextRegion) float64 {
		return float64(r.BoundingBox.Height)*0.7 + r.Confidence*50
	}

	var candidates []Candidate
	for i, r := range zone {
		if NormalizeText(r.Text) == "" {
			continue
		}
		candidates = append(candidates, Candidate{
			Text:       strings.TrimSpace(r.Text),
			Confidence: r.Confidence,
			RegionIDs:  []string{r.ID},
			score:      brandScore(r),
		})
		// Brands often wrap over two lines ("STONE'S" / "THROW").
		if i+1 < len(zone) && NormalizeText(zone[i+1].Text) != "" {
			next := zone[i+1]
			candidates = append(candidates, Candidate{
				Text:       strings.TrimSpace(r.Text) + " " + strings.TrimSpace(next.Text),
				Confidence: meanConfidence([]TextRegion{r, next}),
				RegionIDs:  []string{r.ID, next.ID},
				score:      (brandScore(r) + brandScore(next)) / 2,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	seen := make(map[string]bool)
	out := make([]Candidate, 0, e.brand.MaxCandidates)
	for _, c := range candidates {
		key := NormalizeText(c.Text)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
		if len(out) == e.brand.MaxCandidates {
			break
		}
	}
	return out
}

func abvCandidates(regions []TextRegion) []ABVMatch {
	var out []ABVMatch
	for _, r := range regions {
		for _, m := range FindABV(r.Text) {
			out = append(out, ABVMatch{
				Candidate: Candidate{Text: m.Raw, Confidence: r.Confidence, RegionIDs: []string{r.ID}},
				Canonical: m.Canonical,
			})
		}
	}
	return out
}

// gatheredBody counts the body runes collected so far. When the header was
// only matched fuzzily everything after its line counts.
func gatheredBody(parts []string) int {
	if body := bodyAfterHeader(strings.Join(parts, " ")); body != "" {
		return utf8.RuneCountInString(body)
	}
	if len(parts) < 2 {
		return 0
	}
	return utf8.RuneCountInString(NormalizeWhitespace(strings.Join(parts[1:], " ")))
}

func volumeCandidates(regions []TextRegion) []VolumeMatch {
	var out []VolumeMatch
	for _, r := range regions {
		for _, v := range FindVolumes(r.Text) {
			out = append(out, VolumeMatch{
				Candidate: Candidate{Text: v.Raw, Confidence: r.Confidence, RegionIDs: []string{r.ID}},
				Volume:    v,
			})
		}
	}
	return out
}

func (e *FieldExtractor) warningCandidate(regions []TextRegion) WarningExtraction {
	headerIdx := -1
	for i, r := range regions {
		norm := NormalizeText(r.Text)
		if strings.Contains(norm, normalizedHeaderPhrase) ||
			PartialRatio(normalizedHeaderPhrase, norm) >= e.warning.PresenceThreshold {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return WarningExtraction{}
	}

	header := regions[headerIdx]
	w := WarningExtraction{
		Present: true,
		Header: Candidate{
			Text:       strings.TrimSpace(header.Text),
			Confidence: header.Confidence,
			RegionIDs:  []string{header.ID},
		},
	}

	// Gather lines until the text after the header covers the body. Text
	// sharing the header line before the phrase does not count.
	want := utf8.RuneCountInString(WarningBody)
	var parts []string
	var used []TextRegion
	for _, r := range regions[headerIdx:] {
		parts = append(parts, strings.TrimSpace(r.Text))
		used = append(used, r)
		if gatheredBody(parts) >= want {
			break
		}
	}

	body := bodyAfterHeader(strings.Join(parts, " "))
	if body == "" {
		// The header was matched fuzzily; take everything after its line.
		body = NormalizeWhitespace(strings.Join(parts[1:], " "))
	}
	if body == "" {
		return w
	}
	ids := make([]string, len(used))
	for i, r := range used {
		ids[i] = r.ID
	}
	w.Body = Candidate{Text: body, Confidence: meanConfidence(used), RegionIDs: ids}
	return w
}
