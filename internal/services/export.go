package services

import (
	"bytes"
	"encoding/csv"
	"sort"
	"strconv"
	"strings"

	"github.com/soaringjerry/moderator/internal/models"
)

// TrialRow is one scored trial ready for export.
type TrialRow struct {
	ParticipantID   string
	TrialIndex      int
	StimulusNumber  int
	Audio           string
	GTLabel         models.GTLabel
	Valence         models.Valence
	TrustCue        bool
	Segments        int
	Flags           int
	Verdict         models.Verdict
	WaitedSeconds   *float64
	ValidAnswer     bool
	DurationSeconds float64
	Responses       map[string]string
	SanityCheck     bool
	CommittedAt     string
}

// BuildTrialRows scores committed records, ordered by participant then trial.
func BuildTrialRows(records []*models.TrialRecord) []TrialRow {
	rows := make([]TrialRow, 0, len(records))
	for _, r := range records {
		if r == nil {
			continue
		}
		rows = append(rows, TrialRow{
			ParticipantID:   r.ParticipantID,
			TrialIndex:      r.TrialIndex,
			StimulusNumber:  r.StimulusNumber,
			Audio:           r.Audio,
			GTLabel:         r.GTLabel,
			Valence:         r.ValenceCondition,
			TrustCue:        r.TrustCue,
			Segments:        len(r.Segments),
			Flags:           len(r.Flags),
			Verdict:         Evaluate(EvalInputFromSummary(r.Summary())),
			WaitedSeconds:   r.AnswerValidity.WaitedSeconds,
			ValidAnswer:     r.AnswerValidity.IsValid,
			DurationSeconds: r.TrialDurationSeconds,
			Responses:       r.Responses,
			SanityCheck:     r.SanityCheck,
			CommittedAt:     r.Timestamp,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ParticipantID == rows[j].ParticipantID {
			return rows[i].TrialIndex < rows[j].TrialIndex
		}
		return rows[i].ParticipantID < rows[j].ParticipantID
	})
	return rows
}

// ExportTrialsCSV renders one row per trial with its verdict.
func ExportTrialsCSV(rows []TrialRow) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{
		"participant_id", "trial_index", "stimulus_number", "audio", "gt_label", "valence_condition",
		"trust_cue", "n_segments", "n_flags", "correct", "n_missed", "n_extra_segments", "n_extra_flags",
		"waited_seconds", "answer_valid", "trial_duration", "committed_at",
	})
	for _, r := range rows {
		waited := ""
		if r.WaitedSeconds != nil {
			waited = ftoa(*r.WaitedSeconds)
		}
		rec := []string{
			r.ParticipantID,
			strconv.Itoa(r.TrialIndex),
			strconv.Itoa(r.StimulusNumber),
			r.Audio,
			string(r.GTLabel),
			string(r.Valence),
			strconv.FormatBool(r.TrustCue),
			strconv.Itoa(r.Segments),
			strconv.Itoa(r.Flags),
			strconv.FormatBool(r.Verdict.Correct),
			strconv.Itoa(len(r.Verdict.Missed)),
			strconv.Itoa(len(r.Verdict.ExtraSegments)),
			strconv.Itoa(len(r.Verdict.ExtraFlags)),
			waited,
			strconv.FormatBool(r.ValidAnswer),
			ftoa(r.DurationSeconds),
			r.CommittedAt,
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// ExportResponsesCSV renders questionnaire answers in long format, one row
// per answered question, with the Likert score where one applies.
func ExportResponsesCSV(rows []TrialRow, q models.Questionnaire) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"participant_id", "trial_index", "question", "answer", "score", "reverse_scored", "sanity"})
	for _, r := range rows {
		questions := make([]string, 0, len(r.Responses))
		for k := range r.Responses {
			questions = append(questions, k)
		}
		sort.Strings(questions)
		for _, question := range questions {
			answer := r.Responses[question]
			score := ""
			if v, ok := QuestionScore(q, question, answer); ok {
				score = strconv.Itoa(v)
			}
			rec := []string{
				r.ParticipantID,
				strconv.Itoa(r.TrialIndex),
				question,
				answer,
				score,
				strconv.FormatBool(q.ReverseScored[question]),
				strconv.FormatBool(question == q.SanityQuestion),
			}
			if err := w.Write(rec); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func ftoa(v float64) string {
	s := strconv.FormatFloat(v, 'f', 3, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
