package models

import (
	"strconv"
	"strings"
)

// ActionKind enumerates logged participant interactions.
type ActionKind string

const (
	ActionAddSegment    ActionKind = "add_segment"
	ActionAddFlag       ActionKind = "add_flag"
	ActionDeleteSegment ActionKind = "delete_segment"
	ActionDeleteFlag    ActionKind = "delete_flag"
	ActionEvalResponse  ActionKind = "eval_response"
	ActionUpdateSlider  ActionKind = "update_slider"
	ActionEmergencyQuit ActionKind = "emergency_quit"
	ActionNextTrial     ActionKind = "next_trial"
)

// Substantive reports whether the action counts as answering for wait-time validation.
func (k ActionKind) Substantive() bool {
	return k == ActionAddSegment || k == ActionAddFlag || k == ActionEvalResponse
}

// ActionDetail holds the auxiliary values of a log entry. Only the members
// an action uses are set.
type ActionDetail struct {
	ID         string      `json:"id,omitempty"`
	Segment    *[2]float64 `json:"segment,omitempty"`
	Flag       *float64    `json:"flag,omitempty"`
	Question   string      `json:"question,omitempty"`
	Answer     string      `json:"answer,omitempty"`
	Slider     string      `json:"slider,omitempty"`
	TrialIndex *int        `json:"trial_index,omitempty"`
}

// MarkerPairs renders the set members as key:value in a fixed order.
func (d ActionDetail) MarkerPairs() []string {
	var out []string
	if d.ID != "" {
		out = append(out, "id:"+d.ID)
	}
	if d.Segment != nil {
		out = append(out, "segment:"+formatSeconds(d.Segment[0])+"-"+formatSeconds(d.Segment[1]))
	}
	if d.Flag != nil {
		out = append(out, "flag:"+formatSeconds(*d.Flag))
	}
	if d.Question != "" {
		out = append(out, "question:"+d.Question)
	}
	if d.Answer != "" {
		out = append(out, "answer:"+d.Answer)
	}
	if d.Slider != "" {
		out = append(out, "slider:"+d.Slider)
	}
	return out
}

// Marker is the precision-stream line for an action on a trial:
// action|trial=N|k:v|k:v.
func (d ActionDetail) Marker(kind ActionKind, trialIndex int) string {
	return string(kind) + "|trial=" + strconv.Itoa(trialIndex) + "|" + strings.Join(d.MarkerPairs(), "|")
}

func formatSeconds(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// ActionLogEntry is one append-only log line. Detail members are flattened
// next to action/ts_wall/ts_lsl when encoded.
type ActionLogEntry struct {
	Action   ActionKind `json:"action"`
	TSWall   float64    `json:"ts_wall"`
	TSStream *float64   `json:"ts_lsl,omitempty"`
	ActionDetail
}

// SegmentDetail describes a segment action.
func SegmentDetail(s Segment) ActionDetail {
	return ActionDetail{ID: s.ID, Segment: &[2]float64{s.Start, s.End}}
}

// FlagDetail describes a flag action.
func FlagDetail(f Flag) ActionDetail {
	t := f.Time
	return ActionDetail{ID: f.ID, Flag: &t}
}

// TrialDetail names the trial an action closes.
func TrialDetail(index int) ActionDetail {
	return ActionDetail{TrialIndex: &index}
}
