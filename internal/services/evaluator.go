package services

import "github.com/soaringjerry/moderator/internal/models"

// EvalInput is everything the scorer needs about one committed trial.
type EvalInput struct {
	Label     models.GTLabel
	Intervals []models.Interval
	Duration  float64
	Segments  []models.Interval
	Flags     []float64
}

// EvalInputFromSummary adapts a trial summary for scoring.
func EvalInputFromSummary(s models.TrialSummary) EvalInput {
	in := EvalInput{
		Label:     s.GTType,
		Intervals: s.GTIntervals,
		Duration:  s.Duration,
		Segments:  make([]models.Interval, 0, len(s.ParticipantSegments)),
		Flags:     make([]float64, 0, len(s.ParticipantFlags)),
	}
	for _, seg := range s.ParticipantSegments {
		in.Segments = append(in.Segments, seg.Interval())
	}
	for _, f := range s.ParticipantFlags {
		in.Flags = append(in.Flags, f.Time)
	}
	return in
}

// Evaluate scores a trial against its ground truth. It is the only scoring
// routine; debrief, aggregate records and exports all go through it.
func Evaluate(in EvalInput) models.Verdict {
	v := models.Verdict{
		Missed:        []models.Interval{},
		ExtraSegments: []models.Interval{},
		ExtraFlags:    []float64{},
	}
	switch in.Label {
	case models.LabelBonafide:
		return evaluateBonafide(in, v)
	case models.LabelFullSpoof:
		targets := in.Intervals
		if len(targets) == 0 {
			targets = []models.Interval{models.NewInterval(0, in.Duration)}
		}
		hit := hitMask(targets, in.Segments, in.Flags)
		collectExtras(targets, in, &v)
		for _, ok := range hit {
			if ok {
				v.Correct = true
				break
			}
		}
		if !v.Correct {
			v.Missed = append(v.Missed, targets...)
		}
		return v
	case models.LabelPartialSpoof:
		if len(in.Intervals) == 0 {
			return evaluateBonafide(in, v)
		}
		hit := hitMask(in.Intervals, in.Segments, in.Flags)
		collectExtras(in.Intervals, in, &v)
		for i, ok := range hit {
			if !ok {
				v.Missed = append(v.Missed, in.Intervals[i])
			}
		}
		v.Correct = len(v.Missed) == 0
		return v
	}
	return v
}

func evaluateBonafide(in EvalInput, v models.Verdict) models.Verdict {
	v.ExtraSegments = append(v.ExtraSegments, in.Segments...)
	v.ExtraFlags = append(v.ExtraFlags, in.Flags...)
	v.Correct = len(in.Segments) == 0 && len(in.Flags) == 0
	return v
}

// hitMask reports, per interval, whether any segment overlaps it with positive
// length or any flag falls inside it.
func hitMask(targets, segments []models.Interval, flags []float64) []bool {
	hit := make([]bool, len(targets))
	for i, gt := range targets {
		for _, s := range segments {
			if overlaps(s, gt) {
				hit[i] = true
				break
			}
		}
		if hit[i] {
			continue
		}
		for _, t := range flags {
			if t >= gt.Start && t <= gt.End {
				hit[i] = true
				break
			}
		}
	}
	return hit
}

func collectExtras(targets []models.Interval, in EvalInput, v *models.Verdict) {
	for _, s := range in.Segments {
		outside := true
		for _, gt := range targets {
			if !(s.End <= gt.Start || s.Start >= gt.End) {
				outside = false
				break
			}
		}
		if outside {
			v.ExtraSegments = append(v.ExtraSegments, s)
		}
	}
	for _, t := range in.Flags {
		outside := true
		for _, gt := range targets {
			if t >= gt.Start && t <= gt.End {
				outside = false
				break
			}
		}
		if outside {
			v.ExtraFlags = append(v.ExtraFlags, t)
		}
	}
}

func overlaps(a, b models.Interval) bool {
	return max(a.Start, b.Start) < min(a.End, b.End)
}
