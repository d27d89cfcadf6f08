// Package grading holds the arithmetic of a dictated copy: scale validation,
// totals, conversion to another scale and the spoken result.
package grading

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidScale reports a scale that is not a positive finite number.
var ErrInvalidScale = errors.New("grading scale must be a positive number")

// Scale is the number of points a copy is graded out of.
type Scale float64

// Valid reports whether s can be used as a grading scale.
func (s Scale) Valid() bool {
	f := float64(s)
	return f > 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}

// Validate returns ErrInvalidScale when s is not usable.
func (s Scale) Validate() error {
	if !s.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidScale, float64(s))
	}
	return nil
}

// ParseScale reads scale input typed by a user. Both '.' and ',' are
// accepted as decimal separator.
func ParseScale(input string) (Scale, error) {
	text := strings.ReplaceAll(strings.TrimSpace(input), ",", ".")
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidScale, input)
	}
	s := Scale(v)
	if err := s.Validate(); err != nil {
		return 0, err
	}
	return s, nil
}

// ParseConversion reads the optional conversion scale. Empty, non-numeric
// and non-positive input all mean "no conversion" and yield zero.
func ParseConversion(input string) Scale {
	s, err := ParseScale(input)
	if err != nil {
		return 0
	}
	return s
}

// Sum adds the dictated points in order. Callers that display or speak the
// total pass it through RoundTotal.
func Sum(points []float64) float64 {
	var total float64
	for _, p := range points {
		total += p
	}
	return total
}

// RoundTotal rounds a running total to two decimals, halves away from zero.
func RoundTotal(v float64) float64 {
	return math.Round(v*100) / 100
}

// Round1 rounds to one decimal place, halves away from zero.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Convert rescales total from source to target and rounds to one decimal.
func Convert(total float64, source, target Scale) float64 {
	return Round1(total / float64(source) * float64(target))
}

// Conversion returns the converted total, or false when target is unset or
// equal to source: an identical second figure is never reported.
func Conversion(total float64, source, target Scale) (float64, bool) {
	if !target.Valid() || target == source {
		return 0, false
	}
	return Convert(total, source, target), true
}

// FormatNumber renders v with the shortest decimal representation, the way
// totals are displayed and spoken.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
