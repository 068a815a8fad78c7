package processor

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Ratio is the edit-distance similarity of two strings in [0,1]
func Ratio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// EditDistance counts single-character edits between a and b
func EditDistance(a, b string) int {
	return levenshtein.ComputeDistance(a, b)
}

// PartialRatio scores the best alignment of needle inside haystack
func PartialRatio(needle, haystack string) float64 {
	n := []rune(needle)
	h := []rune(haystack)
	if len(n) == 0 {
		return 1
	}
	if len(h) <= len(n) {
		return Ratio(needle, haystack)
	}
	best := 0.0
	for i := 0; i+len(n) <= len(h); i++ {
		if r := Ratio(needle, string(h[i:i+len(n)])); r > best {
			best = r
			if best == 1 {
				break
			}
		}
	}
	return best
}

// TokenSetResult is the token-set similarity of two normalized strings
type TokenSetResult struct {
	Score float64
	// Subset is set when every token of one side appears in the other
	Subset bool
}

// TokenSetRatio compares a and b as sets of words, so word order and
// repeated words do not matter.
func TokenSetRatio(a, b string) TokenSetResult {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return TokenSetResult{Score: Ratio(a, b)}
	}

	var common, onlyA, onlyB []string
	for tok := range ta {
		if tb[tok] {
			common = append(common, tok)
		} else {
			onlyA = append(onlyA, tok)
		}
	}
	for tok := range tb {
		if !ta[tok] {
			onlyB = append(onlyB, tok)
		}
	}
	sort.Strings(common)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	if len(common) > 0 && (len(onlyA) == 0 || len(onlyB) == 0) {
		return TokenSetResult{Score: 1, Subset: true}
	}

	sect := strings.Join(common, " ")
	combinedA := strings.TrimSpace(sect + " " + strings.Join(onlyA, " "))
	combinedB := strings.TrimSpace(sect + " " + strings.Join(onlyB, " "))

	score := Ratio(combinedA, combinedB)
	if sect != "" {
		if r := Ratio(sect, combinedA); r > score {
			score = r
		}
		if r := Ratio(sect, combinedB); r > score {
			score = r
		}
	}
	return TokenSetResult{Score: score}
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, f := range strings.Fields(s) {
		set[f] = true
	}
	return set
}
