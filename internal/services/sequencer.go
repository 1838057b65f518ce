package services

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/soaringjerry/moderator/internal/logger"
	"github.com/soaringjerry/moderator/internal/metrics"
	"github.com/soaringjerry/moderator/internal/models"
)

// State is the phase of a participant's run.
type State string

const (
	StateResuming   State = "RESUMING"
	StatePresenting State = "PRESENTING"
	StateCommitting State = "COMMITTING"
	StateTerminal   State = "TERMINAL"
)

// WarningSyncFailed is the message key returned when a record stayed local.
const WarningSyncFailed = "warning.sync_failed"

// trialState buffers the annotations of the trial on screen. It is dropped
// once the trial is committed or the run is abandoned.
type trialState struct {
	index         int
	started       bool
	startTime     time.Time
	endTime       time.Time
	segments      []models.Segment
	flags         []models.Flag
	questions     []string
	questionOrder []int
	responses     map[string]string
	sanity        bool
	log           *ActionLog
}

// Sequencer drives one participant through their trials. It is not safe for
// concurrent use; callers serialize access per participant.
type Sequencer struct {
	svc   *SessionService
	sess  *models.Session
	state State
	cur   *trialState
}

func newSequencer(svc *SessionService, sess *models.Session) *Sequencer {
	q := &Sequencer{svc: svc, sess: sess, state: StateResuming}
	if sess.Finished() || sess.EmergencyQuit {
		q.state = StateTerminal
	} else {
		q.state = StatePresenting
	}
	return q
}

func (q *Sequencer) State() State          { return q.state }
func (q *Sequencer) ParticipantID() string { return q.sess.ParticipantID }
func (q *Sequencer) TrialIndex() int       { return q.sess.TrialIndex }

// StateView is the participant-facing summary of the run.
type StateView struct {
	ParticipantID      string         `json:"participant_id"`
	ProlificID         string         `json:"prolific_id"`
	State              State          `json:"state"`
	TrialIndex         int            `json:"trial_index"`
	TotalTrials        int            `json:"total_trials"`
	ValenceCondition   models.Valence `json:"valence_condition"`
	InstructionVersion string         `json:"instruction_version"`
	InstructionText    string         `json:"instruction_text,omitempty"`
	EmergencyQuit      bool           `json:"emergency_quit"`
	ProlificSaved      bool           `json:"prolific_saved"`
}

func (q *Sequencer) View() *StateView {
	return &StateView{
		ParticipantID:      q.sess.ParticipantID,
		ProlificID:         q.sess.ProlificID,
		State:              q.state,
		TrialIndex:         q.sess.TrialIndex,
		TotalTrials:        len(q.sess.TrialOrder),
		ValenceCondition:   q.sess.ValenceCondition,
		InstructionVersion: q.sess.InstructionVersion,
		InstructionText:    q.svc.opts.Instructions[q.sess.InstructionVersion],
		EmergencyQuit:      q.sess.EmergencyQuit,
		ProlificSaved:      q.sess.ProlificSaved,
	}
}

type QuestionView struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
}

// TrialView is what the rendering surface needs to show the current trial.
// Ground truth is never included.
type TrialView struct {
	TrialIndex     int              `json:"trial_index"`
	TrialNumber    int              `json:"trial_number"`
	TotalTrials    int              `json:"total_trials"`
	StimulusNumber int              `json:"stimulus_number"`
	Media          string           `json:"media"`
	Placeholder    bool             `json:"placeholder"`
	Duration       float64          `json:"duration"`
	AffectImage    string           `json:"affect_image"`
	Quadrant       string           `json:"quadrant"`
	TrustCue       bool             `json:"trust_cue"`
	Questions      []QuestionView   `json:"questions"`
	Segments       []models.Segment `json:"segments"`
	Flags          []models.Flag    `json:"flags"`
}

// Present returns the current trial. The first call for a trial fixes its
// start time, trust cue, sanity check and question order.
func (q *Sequencer) Present() (*TrialView, error) {
	ts, trial, err := q.active()
	if err != nil {
		return nil, err
	}
	img := q.sess.TrialAffectMapping[trial.Index]
	view := &TrialView{
		TrialIndex:     ts.index,
		TrialNumber:    ts.index + 1,
		TotalTrials:    len(q.sess.TrialOrder),
		StimulusNumber: trial.StimulusNumber,
		Media:          trial.Media,
		Placeholder:    trial.Placeholder,
		Duration:       trial.Duration,
		AffectImage:    img.Path,
		Quadrant:       img.Quadrant,
		TrustCue:       trial.TrustCue != nil && *trial.TrustCue,
		Questions:      make([]QuestionView, 0, len(ts.questions)),
		Segments:       append([]models.Segment{}, ts.segments...),
		Flags:          append([]models.Flag{}, ts.flags...),
	}
	if view.Quadrant == "" {
		view.Quadrant = trial.Quadrant
	}
	qn := q.svc.opts.Questionnaire
	for _, i := range ts.questionOrder {
		question := ts.questions[i]
		view.Questions = append(view.Questions, QuestionView{
			Question: question,
			Options:  qn.OptionsFor(question),
			Answer:   ts.responses[question],
		})
	}
	return view, nil
}

// active returns the buffer of the presented trial, starting it on first use.
func (q *Sequencer) active() (*trialState, *models.Trial, error) {
	if q.state != StatePresenting {
		return nil, nil, ErrNotPresenting
	}
	trial, ok := q.sess.CurrentTrial()
	if !ok {
		return nil, nil, ErrNotPresenting
	}
	if q.cur != nil && q.cur.index == q.sess.TrialIndex && q.cur.started {
		return q.cur, trial, nil
	}
	ts := &trialState{
		index:     q.sess.TrialIndex,
		started:   true,
		startTime: q.svc.now(),
		segments:  []models.Segment{},
		flags:     []models.Flag{},
		responses: map[string]string{},
		log:       NewActionLog(q.svc.sink, q.svc.now, q.sess.TrialIndex),
	}
	if trial.TrustCue == nil {
		cue := q.svc.float64() < q.svc.opts.TrustCueProbability
		trial.TrustCue = &cue
		if err := q.svc.store.SaveSession(q.sess); err != nil {
			trial.TrustCue = nil
			return nil, nil, err
		}
	}
	qn := q.svc.opts.Questionnaire
	ts.questions = append([]string{}, qn.Questions...)
	if qn.SanityQuestion != "" && q.svc.float64() < qn.SanityProbability {
		ts.sanity = true
		ts.questions = append(ts.questions, qn.SanityQuestion)
	}
	ts.questionOrder = q.svc.perm(len(ts.questions))
	for _, question := range ts.questions {
		ts.responses[question] = qn.DefaultFor(question)
	}
	q.cur = ts
	return ts, trial, nil
}

func (q *Sequencer) AddSegment(start, end float64) (models.Segment, error) {
	ts, trial, err := q.active()
	if err != nil {
		return models.Segment{}, err
	}
	seg, err := models.NewSegment(q.svc.idGenerator(), start, end, trial.Duration, q.svc.now())
	if err != nil {
		return models.Segment{}, NewInvalidError(err.Error())
	}
	ts.segments = append(ts.segments, seg)
	ts.log.Append(models.ActionAddSegment, models.SegmentDetail(seg))
	return seg, nil
}

func (q *Sequencer) DeleteSegment(id string) error {
	ts, _, err := q.active()
	if err != nil {
		return err
	}
	for i, seg := range ts.segments {
		if seg.ID == id {
			ts.segments = append(ts.segments[:i], ts.segments[i+1:]...)
			ts.log.Append(models.ActionDeleteSegment, models.SegmentDetail(seg))
			return nil
		}
	}
	return NewNotFoundError("segment not found")
}

func (q *Sequencer) AddFlag(t float64) (models.Flag, error) {
	ts, trial, err := q.active()
	if err != nil {
		return models.Flag{}, err
	}
	flag, err := models.NewFlag(q.svc.idGenerator(), t, trial.Duration, q.svc.now())
	if err != nil {
		return models.Flag{}, NewInvalidError(err.Error())
	}
	ts.flags = append(ts.flags, flag)
	ts.log.Append(models.ActionAddFlag, models.FlagDetail(flag))
	return flag, nil
}

func (q *Sequencer) DeleteFlag(id string) error {
	ts, _, err := q.active()
	if err != nil {
		return err
	}
	for i, f := range ts.flags {
		if f.ID == id {
			ts.flags = append(ts.flags[:i], ts.flags[i+1:]...)
			ts.log.Append(models.ActionDeleteFlag, models.FlagDetail(f))
			return nil
		}
	}
	return NewNotFoundError("flag not found")
}

// SetResponse records an answer. Both question and answer must belong to the
// questionnaire shown for this trial.
func (q *Sequencer) SetResponse(question, answer string) error {
	ts, _, err := q.active()
	if err != nil {
		return err
	}
	if _, ok := ts.responses[question]; !ok {
		return NewInvalidError("unknown question")
	}
	valid := false
	for _, o := range q.svc.opts.Questionnaire.OptionsFor(question) {
		if o == answer {
			valid = true
			break
		}
	}
	if !valid {
		return NewInvalidError("answer is not one of the options")
	}
	ts.responses[question] = answer
	ts.log.Append(models.ActionEvalResponse, models.ActionDetail{Question: question, Answer: answer})
	return nil
}

func (q *Sequencer) UpdateSlider(name string) error {
	ts, _, err := q.active()
	if err != nil {
		return err
	}
	ts.log.Append(models.ActionUpdateSlider, models.ActionDetail{Slider: name})
	return nil
}

// EmergencyExit abandons the run. The trial on screen is not committed; its
// interaction log, closed by the emergency_quit entry, is kept in the session.
func (q *Sequencer) EmergencyExit() error {
	if q.state != StatePresenting {
		return ErrNotPresenting
	}
	quitLog := []models.ActionLogEntry{}
	if q.cur != nil {
		q.cur.log.Append(models.ActionEmergencyQuit, models.TrialDetail(q.cur.index))
		quitLog = q.cur.log.Entries()
	}
	q.sess.EmergencyQuit = true
	q.sess.EmergencyQuitLog = quitLog
	if err := q.svc.store.SaveSession(q.sess); err != nil {
		q.sess.EmergencyQuit = false
		q.sess.EmergencyQuitLog = nil
		if q.cur != nil {
			q.cur.log.entries = q.cur.log.entries[:len(q.cur.log.entries)-1]
		}
		return err
	}
	q.cur = nil
	q.state = StateTerminal
	metrics.ObserveEmergencyExit()
	logger.Warn("session: emergency exit", "participant_id", q.sess.ParticipantID, "trial_index", q.sess.TrialIndex)
	return nil
}

type AdvanceResult struct {
	Committed int    `json:"committed"`
	NextIndex int    `json:"next_index"`
	Finished  bool   `json:"finished"`
	Warning   string `json:"warning,omitempty"`
	State     State  `json:"state"`
}

// Advance commits the presented trial. expectedIndex must name that trial;
// a stale or repeated submission is rejected without writing anything.
func (q *Sequencer) Advance(ctx context.Context, expectedIndex int) (*AdvanceResult, error) {
	if expectedIndex != q.sess.TrialIndex || (q.state == StateTerminal && q.sess.Finished()) {
		return nil, ErrTrialAlreadyCommitted
	}
	ts, trial, err := q.active()
	if err != nil {
		return nil, err
	}
	q.state = StateCommitting
	if ts.endTime.IsZero() {
		ts.endTime = q.svc.now()
	}
	logLen := ts.log.Len()
	ts.log.Append(models.ActionNextTrial, models.TrialDetail(ts.index))

	rec := q.buildRecord(ts, trial)
	q.sess.Summaries[ts.index] = rec.Summary()
	path, err := q.svc.store.SaveTrial(q.sess, rec)
	if err != nil {
		delete(q.sess.Summaries, ts.index)
		ts.log.entries = ts.log.entries[:logLen]
		q.state = StatePresenting
		return nil, err
	}
	metrics.ObserveTrialCommitted(string(trial.Label), rec.AnswerValidity.IsValid)

	res := &AdvanceResult{Committed: ts.index, NextIndex: q.sess.TrialIndex}
	if err := q.svc.upload(ctx, Upload{
		Kind:          UploadTrial,
		ParticipantID: q.sess.ParticipantID,
		TrialIndex:    ts.index,
		LocalPath:     path,
		Payload:       rec,
	}); err != nil && !errors.Is(err, ErrRemoteDisabled) {
		logger.Warn("session: trial kept locally", "participant_id", q.sess.ParticipantID, "trial_index", ts.index, "error", err)
		res.Warning = WarningSyncFailed
	}

	q.cur = nil
	if q.sess.Finished() {
		q.state = StateTerminal
		res.Finished = true
	} else {
		q.state = StatePresenting
	}
	res.State = q.state
	return res, nil
}

func (q *Sequencer) buildRecord(ts *trialState, trial *models.Trial) *models.TrialRecord {
	log := ts.log.Entries()
	img := q.sess.TrialAffectMapping[trial.Index]
	responses := make(map[string]string, len(ts.responses))
	for k, v := range ts.responses {
		responses[k] = v
	}
	return &models.TrialRecord{
		ParticipantID:        q.sess.ParticipantID,
		InstructionVersion:   q.sess.InstructionVersion,
		ValenceCondition:     q.sess.ValenceCondition,
		TrustCue:             trial.TrustCue != nil && *trial.TrustCue,
		TrialIndex:           ts.index,
		TrialNumber:          ts.index + 1,
		StimulusNumber:       trial.StimulusNumber,
		AffectImage:          baseName(img.Path),
		Audio:                baseName(trial.Media),
		GTLabel:              trial.Label,
		GTSegments:           append([]models.Interval{}, trial.Intervals...),
		GTSegmentsRaw:        trial.IntervalsRaw,
		Duration:             trial.Duration,
		Segments:             append([]models.Segment{}, ts.segments...),
		Flags:                append([]models.Flag{}, ts.flags...),
		Responses:            responses,
		ActionLog:            log,
		SanityCheck:          ts.sanity,
		QuestionOrder:        append([]int{}, ts.questionOrder...),
		TrialStartTime:       ts.startTime.Format(time.RFC3339Nano),
		TrialEndTime:         ts.endTime.Format(time.RFC3339Nano),
		TrialDurationSeconds: ts.endTime.Sub(ts.startTime).Seconds(),
		AnswerValidity:       ComputeAnswerValidity(ts.startTime, log, trial.Duration),
		Timestamp:            q.svc.now().Format(time.RFC3339Nano),
	}
}

func baseName(p string) string {
	if strings.TrimSpace(p) == "" {
		return ""
	}
	return filepath.Base(p)
}
