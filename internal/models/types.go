package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// GTLabel is the pre-assigned ground truth of a stimulus.
type GTLabel string

const (
	LabelBonafide     GTLabel = "bonafide"
	LabelFullSpoof    GTLabel = "full_spoof"
	LabelPartialSpoof GTLabel = "partial_spoof"
)

// ParseGTLabel maps catalog text to a label. Unknown text yields the empty label.
func ParseGTLabel(raw string) GTLabel {
	switch GTLabel(strings.ToLower(strings.TrimSpace(raw))) {
	case LabelBonafide:
		return LabelBonafide
	case LabelFullSpoof:
		return LabelFullSpoof
	case LabelPartialSpoof:
		return LabelPartialSpoof
	}
	return ""
}

// Valence is the mood-induction grouping of a participant.
type Valence string

const (
	ValenceHVHA Valence = "HVHA"
	ValenceLVHA Valence = "LVHA"
)

// Valences lists the conditions a new session is randomly assigned to.
var Valences = []Valence{ValenceHVHA, ValenceLVHA}

// Interval is a closed time range in seconds. Start <= End always holds for
// values built with NewInterval.
type Interval struct {
	Start float64
	End   float64
}

// NewInterval orders its bounds ascending.
func NewInterval(a, b float64) Interval {
	if b < a {
		a, b = b, a
	}
	return Interval{Start: a, End: b}
}

// MarshalJSON encodes the interval as a [start, end] pair.
func (iv Interval) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{iv.Start, iv.End})
}

func (iv *Interval) UnmarshalJSON(b []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("interval: %w", err)
	}
	*iv = NewInterval(pair[0], pair[1])
	return nil
}

// Trial is one stimulus presented to the participant.
type Trial struct {
	Index          int        `json:"index"`
	StimulusNumber int        `json:"trial_number"`
	Media          string     `json:"video,omitempty"`
	Duration       float64    `json:"duration"`
	Label          GTLabel    `json:"label,omitempty"`
	IntervalsRaw   string     `json:"spoof_segment_times"`
	Intervals      []Interval `json:"gt_intervals"`
	Quadrant       string     `json:"quadrant,omitempty"`
	TrustCue       *bool      `json:"trust_cue,omitempty"`
	Placeholder    bool       `json:"placeholder,omitempty"`
}

// AffectImage is a mood-induction picture and its valence/arousal quadrant.
type AffectImage struct {
	Path     string `json:"path"`
	Quadrant string `json:"quadrant"`
}

// Segment is a participant-marked time range.
type Segment struct {
	ID        string  `json:"id"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Timestamp string  `json:"timestamp"`
}

// NewSegment validates 0 <= start <= end <= duration.
func NewSegment(id string, start, end, duration float64, at time.Time) (Segment, error) {
	if start < 0 || end < start || end > duration {
		return Segment{}, fmt.Errorf("segment %.2f-%.2f outside [0, %.2f]", start, end, duration)
	}
	return Segment{ID: id, Start: start, End: end, Timestamp: at.Format(time.RFC3339Nano)}, nil
}

// Interval returns the segment bounds.
func (s Segment) Interval() Interval { return Interval{Start: s.Start, End: s.End} }

// Flag is a participant-marked point in time.
type Flag struct {
	ID        string  `json:"id"`
	Time      float64 `json:"time"`
	Timestamp string  `json:"timestamp"`
}

// NewFlag validates 0 <= t <= duration.
func NewFlag(id string, t, duration float64, at time.Time) (Flag, error) {
	if t < 0 || t > duration {
		return Flag{}, fmt.Errorf("flag %.2f outside [0, %.2f]", t, duration)
	}
	return Flag{ID: id, Time: t, Timestamp: at.Format(time.RFC3339Nano)}, nil
}

// AnswerValidity reports whether the participant listened before answering.
type AnswerValidity struct {
	WaitedSeconds *float64 `json:"waited_seconds"`
	RequiredWait  float64  `json:"required_wait"`
	IsValid       bool     `json:"is_valid"`
	Source        string   `json:"source"`
}

// Verdict is the scored outcome of one trial.
type Verdict struct {
	Correct       bool       `json:"correct"`
	Missed        []Interval `json:"missed_gt"`
	ExtraSegments []Interval `json:"extra_segments"`
	ExtraFlags    []float64  `json:"extra_flags"`
}

// Questionnaire is the per-trial evaluation form.
type Questionnaire struct {
	Questions         []string
	Options           []string
	DefaultOption     string
	SanityQuestion    string
	SanityOptions     []string
	SanityDefault     string
	SanityProbability float64
	ReverseScored     map[string]bool
}

// OptionsFor returns the answer set of a question.
func (q Questionnaire) OptionsFor(question string) []string {
	if question == q.SanityQuestion {
		return q.SanityOptions
	}
	return q.Options
}

// DefaultFor returns the neutral answer preselected for a question.
func (q Questionnaire) DefaultFor(question string) string {
	if question == q.SanityQuestion {
		return q.SanityDefault
	}
	return q.DefaultOption
}
