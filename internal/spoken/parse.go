package spoken

import (
	"maps"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/antzucaro/matchr"
)

const halfSuffix = " et demi"

// plainDecimal is the only number shape ParsePhrase accepts: no sign,
// exponent, hex or special values.
var plainDecimal = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)$`)

// ParsePhrase returns the point value spoken in phrase. A phrase ending in
// "et demi" is worth its prefix plus one half. The second result is false when
// the phrase does not describe a finite, non-negative number.
func ParsePhrase(phrase string) (float64, bool) {
	p := strings.ToLower(strings.TrimSpace(phrase))
	if p == "" {
		return 0, false
	}

	if prefix, ok := cutHalfSuffix(p); ok {
		if v, ok := parseNumber(Normalize(prefix)); ok {
			return v + 0.5, true
		}
	}
	return parseNumber(Normalize(p))
}

func cutHalfSuffix(p string) (string, bool) {
	p = strings.TrimSuffix(p, ".")
	prefix, ok := strings.CutSuffix(p, halfSuffix)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(prefix), true
}

func parseNumber(s string) (float64, bool) {
	if !plainDecimal.MatchString(s) {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) || v < 0 {
		return 0, false
	}
	return v, true
}

const suggestThreshold = 0.85

// suggestions is sorted so equal scores resolve the same way on every run.
var suggestions = slices.Sorted(maps.Keys(numberWords))

// Suggest returns the number word closest to a single-word phrase that failed
// to parse, so a warning can hint at what was probably said.
func Suggest(phrase string) (string, bool) {
	word := fold(strings.ToLower(strings.TrimSpace(strings.TrimSuffix(phrase, "."))))
	if word == "" || strings.ContainsAny(word, " \t") {
		return "", false
	}
	best, bestScore := "", 0.0
	for _, candidate := range suggestions {
		if len(candidate) < 3 {
			continue
		}
		if score := matchr.JaroWinkler(word, candidate, false); score > bestScore {
			best, bestScore = candidate, score
		}
	}
	if bestScore < suggestThreshold || best == word {
		return "", false
	}
	return best, true
}
