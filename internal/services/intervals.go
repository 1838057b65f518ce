package services

import (
	"strconv"
	"strings"

	"github.com/soaringjerry/moderator/internal/models"
)

// ParseSpoofIntervals extracts every "a - b" pair from free text in textual order.
// Reversed pairs are swapped. Unparseable input yields an empty slice.
//
// A comma may be a decimal separator ("1,5 - 2,5") or a list separator
// ("1-2,3-4"). After a pair's end value, a comma followed by another "a-b"
// pair separates; anywhere else a comma between digits is a decimal point.
func ParseSpoofIntervals(raw string) []models.Interval {
	out := []models.Interval{}
	s := raw
	for i := 0; i < len(s); {
		if !isDigit(s[i]) {
			i++
			continue
		}
		start, j := scanNumber(s, i, false)
		k := dashThenDigit(s, j)
		if k < 0 {
			i = j
			continue
		}
		end, next := scanNumber(s, k, true)
		out = append(out, models.NewInterval(start, end))
		i = next
	}
	return out
}

// scanNumber reads digits at s[i:] with an optional fraction. isEnd reports
// whether the number closes a pair, which decides how a comma is read.
func scanNumber(s string, i int, isEnd bool) (float64, int) {
	j := i
	for j < len(s) && isDigit(s[j]) {
		j++
	}
	if j+1 < len(s) && (s[j] == '.' || s[j] == ',') && isDigit(s[j+1]) {
		f := j + 1
		for f < len(s) && isDigit(s[f]) {
			f++
		}
		decimal := true
		if s[j] == ',' {
			pairFollows := dashThenDigit(s, f) >= 0
			decimal = pairFollows != isEnd
		}
		if decimal {
			v, _ := parseDecimal(s[i:f])
			return v, f
		}
	}
	v, _ := strconv.ParseFloat(s[i:j], 64)
	return v, j
}

// dashThenDigit returns the index of the digit after `\s*-\s*` at s[p:], or -1.
func dashThenDigit(s string, p int) int {
	p = skipSpace(s, p)
	if p >= len(s) || s[p] != '-' {
		return -1
	}
	p = skipSpace(s, p+1)
	if p >= len(s) || !isDigit(s[p]) {
		return -1
	}
	return p
}

func skipSpace(s string, p int) int {
	for p < len(s) && (s[p] == ' ' || s[p] == '\t') {
		p++
	}
	return p
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// ParseDuration reads a catalog duration cell. Invalid values give 0.
func ParseDuration(raw string) float64 {
	v, err := parseDecimal(strings.TrimSpace(raw))
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func parseDecimal(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
}
