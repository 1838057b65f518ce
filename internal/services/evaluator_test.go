package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/soaringjerry/moderator/internal/models"
)

func iv(a, b float64) models.Interval { return models.Interval{Start: a, End: b} }

func TestEvaluateBonafide(t *testing.T) {
	v := Evaluate(EvalInput{Label: models.LabelBonafide, Duration: 10})
	assert.True(t, v.Correct)
	assert.Empty(t, v.ExtraSegments)

	v = Evaluate(EvalInput{Label: models.LabelBonafide, Duration: 10, Flags: []float64{4}})
	assert.False(t, v.Correct)
	assert.Equal(t, []float64{4}, v.ExtraFlags)

	v = Evaluate(EvalInput{Label: models.LabelBonafide, Duration: 10, Segments: []models.Interval{iv(1, 2)}})
	assert.False(t, v.Correct)
	assert.Equal(t, []models.Interval{iv(1, 2)}, v.ExtraSegments)
}

func TestEvaluateFullSpoof(t *testing.T) {
	gt := []models.Interval{iv(0, 10)}

	v := Evaluate(EvalInput{Label: models.LabelFullSpoof, Intervals: gt, Duration: 10})
	assert.False(t, v.Correct, "no annotations never counts as detection")
	assert.Equal(t, gt, v.Missed)

	v = Evaluate(EvalInput{Label: models.LabelFullSpoof, Intervals: gt, Duration: 10, Flags: []float64{3}})
	assert.True(t, v.Correct)
	assert.Empty(t, v.Missed)

	v = Evaluate(EvalInput{Label: models.LabelFullSpoof, Duration: 8, Segments: []models.Interval{iv(7, 8)}})
	assert.True(t, v.Correct, "whole clip is the interval when none are listed")

	v = Evaluate(EvalInput{
		Label:     models.LabelFullSpoof,
		Intervals: []models.Interval{iv(2, 4)},
		Duration:  10,
		Segments:  []models.Interval{iv(2.5, 3)},
		Flags:     []float64{9},
	})
	assert.True(t, v.Correct)
	assert.Equal(t, []float64{9}, v.ExtraFlags)
}

func TestEvaluatePartialSpoof(t *testing.T) {
	gt := []models.Interval{iv(1, 2), iv(5, 6)}

	v := Evaluate(EvalInput{Label: models.LabelPartialSpoof, Intervals: gt, Duration: 10})
	assert.False(t, v.Correct)
	assert.Equal(t, gt, v.Missed)

	v = Evaluate(EvalInput{
		Label:     models.LabelPartialSpoof,
		Intervals: gt,
		Duration:  10,
		Segments:  []models.Interval{iv(1.5, 2.5)},
		Flags:     []float64{5.5},
	})
	assert.True(t, v.Correct)
	assert.Empty(t, v.Missed)
	assert.Empty(t, v.ExtraSegments)

	v = Evaluate(EvalInput{
		Label:     models.LabelPartialSpoof,
		Intervals: gt,
		Duration:  10,
		Segments:  []models.Interval{iv(0, 1.5), iv(2, 5)},
		Flags:     []float64{8},
	})
	assert.False(t, v.Correct)
	assert.Equal(t, []models.Interval{iv(5, 6)}, v.Missed)
	assert.Equal(t, []models.Interval{iv(2, 5)}, v.ExtraSegments, "touching endpoints is not overlap")
	assert.Equal(t, []float64{8}, v.ExtraFlags)
}

func TestEvaluatePartialSpoofWithoutIntervalsFallsBackToBonafide(t *testing.T) {
	assert.True(t, Evaluate(EvalInput{Label: models.LabelPartialSpoof, Duration: 5}).Correct)
	assert.False(t, Evaluate(EvalInput{Label: models.LabelPartialSpoof, Duration: 5, Flags: []float64{1}}).Correct)
}

func TestEvaluateUnknownLabel(t *testing.T) {
	v := Evaluate(EvalInput{Label: "", Duration: 5})
	assert.False(t, v.Correct)
	v = Evaluate(EvalInput{Label: "spoofish", Duration: 5, Flags: []float64{1}})
	assert.False(t, v.Correct)
}

func TestEvaluateFlagOnBoundaryHits(t *testing.T) {
	v := Evaluate(EvalInput{Label: models.LabelPartialSpoof, Intervals: []models.Interval{iv(1, 2)}, Duration: 5, Flags: []float64{2}})
	assert.True(t, v.Correct)
}

func TestEvalInputFromSummary(t *testing.T) {
	s := models.TrialSummary{
		GTType:              models.LabelPartialSpoof,
		GTIntervals:         []models.Interval{iv(1, 2)},
		Duration:            5,
		ParticipantSegments: []models.Segment{{ID: "a", Start: 1.2, End: 1.8}},
		ParticipantFlags:    []models.Flag{{ID: "f", Time: 4}},
	}
	in := EvalInputFromSummary(s)
	assert.Equal(t, []models.Interval{iv(1.2, 1.8)}, in.Segments)
	assert.Equal(t, []float64{4}, in.Flags)
	assert.True(t, Evaluate(in).Correct)
}
