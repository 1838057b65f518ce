package services

import (
	"strings"

	"github.com/soaringjerry/moderator/internal/models"
)

// ReverseScore maps a raw Likert value to its reverse-scored value
// given the number of points in the scale (e.g., 5 or 7).
// raw is expected to be within [1, points]. Out-of-range values are clamped.
func ReverseScore(raw, points int) int {
	if points < 2 {
		return raw
	}
	if raw < 1 {
		raw = 1
	}
	if raw > points {
		raw = points
	}
	return (points + 1) - raw
}

// LikertScore returns the 1-based position of answer within options.
// Matching ignores case and surrounding space.
func LikertScore(answer string, options []string) (int, bool) {
	a := strings.TrimSpace(answer)
	for i, o := range options {
		if strings.EqualFold(strings.TrimSpace(o), a) {
			return i + 1, true
		}
	}
	return 0, false
}

// QuestionScore scores an answer to one questionnaire item, applying reverse
// scoring where the protocol asks for it.
func QuestionScore(q models.Questionnaire, question, answer string) (int, bool) {
	if question == q.SanityQuestion {
		return 0, false
	}
	raw, ok := LikertScore(answer, q.Options)
	if !ok {
		return 0, false
	}
	if q.ReverseScored[question] {
		return ReverseScore(raw, len(q.Options)), true
	}
	return raw, true
}
