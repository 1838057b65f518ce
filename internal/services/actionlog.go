package services

import (
	"time"

	"github.com/soaringjerry/moderator/internal/models"
)

// MarkerSink receives interaction markers for a high-precision recording
// clock. Push returns the stream timestamp when the marker was accepted.
type MarkerSink interface {
	Push(marker string) (float64, bool)
}

const (
	ValiditySourceWallClock = "wall_clock"
	ValiditySourceNone      = "none"
)

// ActionLog is the append-only interaction log of a single trial.
type ActionLog struct {
	sink       MarkerSink
	now        func() time.Time
	trialIndex int
	entries    []models.ActionLogEntry
}

func NewActionLog(sink MarkerSink, now func() time.Time, trialIndex int) *ActionLog {
	if now == nil {
		now = time.Now
	}
	return &ActionLog{sink: sink, now: now, trialIndex: trialIndex, entries: []models.ActionLogEntry{}}
}

// Append records an action. The marker pushed to the sink carries the trial
// index and the detail values. A nil sink or a rejected marker leaves ts_lsl
// unset.
func (l *ActionLog) Append(kind models.ActionKind, detail models.ActionDetail) models.ActionLogEntry {
	entry := models.ActionLogEntry{
		Action:       kind,
		TSWall:       unixSeconds(l.now()),
		ActionDetail: detail,
	}
	if l.sink != nil {
		if ts, ok := l.sink.Push(detail.Marker(kind, l.trialIndex)); ok {
			entry.TSStream = &ts
		}
	}
	l.entries = append(l.entries, entry)
	return entry
}

// Entries returns a copy of the log in append order.
func (l *ActionLog) Entries() []models.ActionLogEntry {
	out := make([]models.ActionLogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *ActionLog) Len() int { return len(l.entries) }

// ComputeAnswerValidity measures how long the participant waited between
// presentation and their first substantive answer.
func ComputeAnswerValidity(start time.Time, entries []models.ActionLogEntry, requiredWait float64) models.AnswerValidity {
	out := models.AnswerValidity{RequiredWait: requiredWait, Source: ValiditySourceNone}
	if start.IsZero() {
		return out
	}
	first := -1.0
	for _, e := range entries {
		if !e.Action.Substantive() {
			continue
		}
		if first < 0 || e.TSWall < first {
			first = e.TSWall
		}
	}
	if first < 0 {
		return out
	}
	waited := first - unixSeconds(start)
	out.WaitedSeconds = &waited
	out.IsValid = waited >= requiredWait
	out.Source = ValiditySourceWallClock
	return out
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
