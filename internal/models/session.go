package models

import (
	"fmt"
	"time"
)

// SessionSchemaVersion is written into every new session file.
const SessionSchemaVersion = 1

// UnknownProlificID is the placeholder until the participant confirms their id.
const UnknownProlificID = "unknown"

// Session is the durable per-participant state.
type Session struct {
	SchemaVersion      int                  `json:"schema_version"`
	ParticipantID      string               `json:"participant_id"`
	ProlificID         string               `json:"prolific_id"`
	ValenceCondition   Valence              `json:"valence_condition,omitempty"`
	InstructionVersion string               `json:"instruction_version,omitempty"`
	Trials             []Trial              `json:"all_trials"`
	TrialOrder         []int                `json:"trial_order"`
	TrialAffectMapping map[int]AffectImage  `json:"trial_affect_mapping"`
	TrialIndex         int                  `json:"trial_index"`
	EmergencyQuit      bool                 `json:"emergency_quit,omitempty"`
	EmergencyQuitLog   []ActionLogEntry     `json:"emergency_quit_log,omitempty"`
	ProlificSaved      bool                 `json:"prolific_saved,omitempty"`
	Summaries          map[int]TrialSummary `json:"summaries,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
}

// NewSession returns an empty session for a participant.
func NewSession(participantID string, now time.Time) *Session {
	s := &Session{
		SchemaVersion: SessionSchemaVersion,
		ParticipantID: participantID,
		CreatedAt:     now,
	}
	s.Normalize()
	return s
}

// Normalize replaces missing fields with explicit defaults.
func (s *Session) Normalize() {
	if s.SchemaVersion == 0 {
		s.SchemaVersion = SessionSchemaVersion
	}
	if s.ProlificID == "" {
		s.ProlificID = UnknownProlificID
	}
	if s.Trials == nil {
		s.Trials = []Trial{}
	}
	if s.TrialOrder == nil {
		s.TrialOrder = []int{}
	}
	if s.TrialAffectMapping == nil {
		s.TrialAffectMapping = map[int]AffectImage{}
	}
	for i := range s.Trials {
		if s.Trials[i].Intervals == nil {
			s.Trials[i].Intervals = []Interval{}
		}
	}
}

// Validate checks the structural invariants a persisted session must satisfy.
func (s *Session) Validate() error {
	if s.ParticipantID == "" {
		return fmt.Errorf("participant_id missing")
	}
	if s.TrialIndex < 0 {
		return fmt.Errorf("trial_index %d negative", s.TrialIndex)
	}
	if len(s.TrialOrder) == 0 {
		return nil
	}
	if !IsPermutation(s.TrialOrder, len(s.Trials)) {
		return fmt.Errorf("trial_order is not a permutation of %d trials", len(s.Trials))
	}
	return nil
}

// Finished reports whether every trial in the order has been committed.
func (s *Session) Finished() bool {
	return s.TrialIndex >= len(s.TrialOrder)
}

// CurrentTrial returns the trial presented at the current index.
func (s *Session) CurrentTrial() (*Trial, bool) {
	if s.Finished() {
		return nil, false
	}
	pos := s.TrialOrder[s.TrialIndex]
	if pos < 0 || pos >= len(s.Trials) {
		return nil, false
	}
	return &s.Trials[pos], true
}

// IsPermutation reports whether order contains each of [0, n) exactly once.
func IsPermutation(order []int, n int) bool {
	if len(order) != n {
		return false
	}
	seen := make([]bool, n)
	for _, v := range order {
		if v < 0 || v >= n || seen[v] {
			return false
		}
		seen[v] = true
	}
	return true
}

// TrialRecord is the write-once snapshot committed for each trial.
type TrialRecord struct {
	ParticipantID        string            `json:"participant_id"`
	InstructionVersion   string            `json:"instruction_version"`
	ValenceCondition     Valence           `json:"valence_condition"`
	TrustCue             bool              `json:"trust_cue"`
	TrialIndex           int               `json:"trial_index"`
	TrialNumber          int               `json:"trial_number"`
	StimulusNumber       int               `json:"stimulus_number"`
	AffectImage          string            `json:"affect_image"`
	Audio                string            `json:"audio"`
	GTLabel              GTLabel           `json:"gt_label"`
	GTSegments           []Interval        `json:"gt_segments"`
	GTSegmentsRaw        string            `json:"gt_segments_raw"`
	Duration             float64           `json:"duration"`
	Segments             []Segment         `json:"segments"`
	Flags                []Flag            `json:"flags"`
	Responses            map[string]string `json:"responses"`
	ActionLog            []ActionLogEntry  `json:"action_log"`
	SanityCheck          bool              `json:"sanity_check"`
	QuestionOrder        []int             `json:"question_order"`
	TrialStartTime       string            `json:"trial_start_time"`
	TrialEndTime         string            `json:"trial_end_time"`
	TrialDurationSeconds float64           `json:"trial_duration"`
	AnswerValidity       AnswerValidity    `json:"answer_validity"`
	Timestamp            string            `json:"timestamp"`
}

// Summary extracts the fields needed for debrief and aggregate reporting.
func (r *TrialRecord) Summary() TrialSummary {
	return TrialSummary{
		TrialNumber:          r.TrialIndex + 1,
		Duration:             r.Duration,
		GTType:               r.GTLabel,
		GTIntervals:          r.GTSegments,
		ParticipantSegments:  r.Segments,
		ParticipantFlags:     r.Flags,
		ParticipantResponses: r.Responses,
	}
}

// TrialSummary is a per-trial row of the debrief and the aggregate record.
type TrialSummary struct {
	TrialNumber          int               `json:"trial_number"`
	Duration             float64           `json:"duration"`
	GTType               GTLabel           `json:"gt_type"`
	GTIntervals          []Interval        `json:"gt_intervals"`
	ParticipantSegments  []Segment         `json:"participant_segments"`
	ParticipantFlags     []Flag            `json:"participant_flags"`
	ParticipantResponses map[string]string `json:"participant_responses"`
	Verdict              *Verdict          `json:"verdict,omitempty"`
}

const (
	CompletionCompleted     = "completed"
	CompletionEmergencyExit = "emergency_exit"
)

// AggregateRecord is written once per session after the external id is confirmed.
type AggregateRecord struct {
	ParticipantID      string         `json:"participant_id"`
	ProlificID         string         `json:"prolific_id"`
	InstructionVersion string         `json:"instruction_version"`
	ValenceCondition   Valence        `json:"valence_condition"`
	Summary            []TrialSummary `json:"summary"`
	TotalTrials        int            `json:"total_trials"`
	CorrectTrials      int            `json:"correct_trials"`
	CreatedAt          time.Time      `json:"created_at"`
	CompletedAt        time.Time      `json:"completed_at"`
	CompletionStatus   string         `json:"completion_status"`
	ProlificValidated  bool           `json:"prolific_validated"`
}
