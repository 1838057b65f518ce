package services

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/soaringjerry/moderator/internal/logger"
	"github.com/soaringjerry/moderator/internal/models"
)

// DebriefView reports the scored outcome of a finished or abandoned run.
type DebriefView struct {
	ParticipantID    string                `json:"participant_id"`
	ProlificID       string                `json:"prolific_id"`
	ProlificSaved    bool                  `json:"prolific_saved"`
	CompletionStatus string                `json:"completion_status"`
	Summary          []models.TrialSummary `json:"summary"`
	TotalTrials      int                   `json:"total_trials"`
	CorrectTrials    int                   `json:"correct_trials"`
	Message          string                `json:"message,omitempty"`
}

// Debrief scores every committed trial. Records still on disk take
// precedence over the summaries kept in the session.
func (q *Sequencer) Debrief(ctx context.Context) (*DebriefView, error) {
	if q.state != StateTerminal {
		return nil, ErrNotTerminal
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	merged := make(map[int]models.TrialSummary, len(q.sess.Summaries))
	for idx, s := range q.sess.Summaries {
		merged[idx] = s
	}
	records, err := q.svc.store.LoadAllTrials(q.sess.ParticipantID)
	if err != nil {
		return nil, err
	}
	for idx, rec := range records {
		merged[idx] = rec.Summary()
	}
	indexes := make([]int, 0, len(merged))
	for idx := range merged {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	view := &DebriefView{
		ParticipantID:    q.sess.ParticipantID,
		ProlificID:       q.sess.ProlificID,
		ProlificSaved:    q.sess.ProlificSaved,
		CompletionStatus: q.completionStatus(),
		Summary:          make([]models.TrialSummary, 0, len(indexes)),
		Message:          q.svc.opts.DebriefText,
	}
	for _, idx := range indexes {
		s := merged[idx]
		v := Evaluate(EvalInputFromSummary(s))
		s.Verdict = &v
		if v.Correct {
			view.CorrectTrials++
		}
		view.Summary = append(view.Summary, s)
	}
	view.TotalTrials = len(view.Summary)
	return view, nil
}

func (q *Sequencer) completionStatus() string {
	if q.sess.EmergencyQuit {
		return models.CompletionEmergencyExit
	}
	return models.CompletionCompleted
}

type SubmitResult struct {
	Aggregate *models.AggregateRecord `json:"aggregate"`
	Warning   string                  `json:"warning,omitempty"`
}

// SubmitProlificID confirms the participant's external id and writes the
// aggregate record. A blank id changes nothing.
func (q *Sequencer) SubmitProlificID(ctx context.Context, prolificID string) (*SubmitResult, error) {
	if q.state != StateTerminal {
		return nil, ErrNotTerminal
	}
	prolificID = strings.TrimSpace(prolificID)
	if prolificID == "" {
		return nil, ErrProlificRequired
	}
	if q.sess.ProlificSaved {
		return nil, ErrProlificAlreadySaved
	}
	debrief, err := q.Debrief(ctx)
	if err != nil {
		return nil, err
	}
	entryID := q.sess.ProlificID
	agg := &models.AggregateRecord{
		ParticipantID:      q.sess.ParticipantID,
		ProlificID:         prolificID,
		InstructionVersion: q.sess.InstructionVersion,
		ValenceCondition:   q.sess.ValenceCondition,
		Summary:            debrief.Summary,
		TotalTrials:        debrief.TotalTrials,
		CorrectTrials:      debrief.CorrectTrials,
		CreatedAt:          q.sess.CreatedAt,
		CompletedAt:        q.svc.now(),
		CompletionStatus:   debrief.CompletionStatus,
		ProlificValidated:  entryID != models.UnknownProlificID && entryID == prolificID,
	}
	path, err := q.svc.store.SaveAggregate(agg)
	if err != nil {
		return nil, err
	}
	q.sess.ProlificID = prolificID
	q.sess.ProlificSaved = true
	if err := q.svc.store.SaveSession(q.sess); err != nil {
		q.sess.ProlificID = entryID
		q.sess.ProlificSaved = false
		return nil, err
	}
	res := &SubmitResult{Aggregate: agg}
	if err := q.svc.upload(ctx, Upload{
		Kind:          UploadAggregate,
		ParticipantID: q.sess.ParticipantID,
		TrialIndex:    -1,
		LocalPath:     path,
		Payload:       agg,
	}); err != nil && !errors.Is(err, ErrRemoteDisabled) {
		logger.Warn("session: aggregate kept locally", "participant_id", q.sess.ParticipantID, "error", err)
		res.Warning = WarningSyncFailed
	}
	return res, nil
}
