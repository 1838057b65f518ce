// Package api exposes the participant flow and researcher exports over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/soaringjerry/moderator/internal/logger"
	"github.com/soaringjerry/moderator/internal/middleware"
	"github.com/soaringjerry/moderator/internal/models"
	"github.com/soaringjerry/moderator/internal/services"
	"github.com/soaringjerry/moderator/internal/utils"
)

const maxBodyBytes = 64 << 10

// RecordSource lists every committed trial record still held locally.
type RecordSource interface {
	LoadAllRecords() ([]*models.TrialRecord, error)
}

type Config struct {
	// ResearcherSecret signs researcher tokens for /api/export. Empty
	// disables the export endpoint.
	ResearcherSecret []byte
	Markers          http.Handler
}

type Router struct {
	reg           *Registry
	records       RecordSource
	questionnaire models.Questionnaire
	cfg           Config
}

func NewRouter(reg *Registry, records RecordSource, questionnaire models.Questionnaire, cfg Config) *Router {
	return &Router{reg: reg, records: records, questionnaire: questionnaire, cfg: cfg}
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/session", rt.handleSession)
	mux.HandleFunc("GET /api/trial", rt.handleTrial)
	mux.HandleFunc("POST /api/trial/segments", rt.handleAddSegment)
	mux.HandleFunc("DELETE /api/trial/segments", rt.handleDeleteSegment)
	mux.HandleFunc("POST /api/trial/flags", rt.handleAddFlag)
	mux.HandleFunc("DELETE /api/trial/flags", rt.handleDeleteFlag)
	mux.HandleFunc("POST /api/trial/responses", rt.handleResponse)
	mux.HandleFunc("POST /api/trial/slider", rt.handleSlider)
	mux.HandleFunc("POST /api/trial/advance", rt.handleAdvance)
	mux.HandleFunc("POST /api/trial/emergency-exit", rt.handleEmergencyExit)
	mux.HandleFunc("GET /api/debrief", rt.handleDebrief)
	mux.HandleFunc("POST /api/debrief/prolific", rt.handleProlific)
	mux.HandleFunc("POST /api/reset", rt.handleReset)
	mux.Handle("GET /api/export", middleware.RequireResearcher(rt.cfg.ResearcherSecret)(http.HandlerFunc(rt.handleExport)))
	if rt.cfg.Markers != nil {
		mux.Handle("GET /api/markers", rt.cfg.Markers)
	}
}

// POST /api/session?participant_id=&prolific_id=
// A missing participant id starts an anonymous run.
func (rt *Router) handleSession(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pid := strings.TrimSpace(q.Get("participant_id"))
	if pid == "" {
		pid = services.NewParticipantID()
	}
	var view *services.StateView
	err := rt.reg.With(r.Context(), pid, q.Get("prolific_id"), func(seq *services.Sequencer) error {
		view = seq.View()
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GET /api/trial
func (rt *Router) handleTrial(w http.ResponseWriter, r *http.Request) {
	var view *services.TrialView
	rt.withParticipant(w, r, func(seq *services.Sequencer) (err error) {
		view, err = seq.Present()
		return err
	}, func() { writeJSON(w, http.StatusOK, view) })
}

// POST /api/trial/segments {start, end}
func (rt *Router) handleAddSegment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Start *float64 `json:"start"`
		End   *float64 `json:"end"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Start == nil || req.End == nil {
		writeError(w, r, services.NewInvalidError("start and end required"))
		return
	}
	var seg models.Segment
	rt.withParticipant(w, r, func(seq *services.Sequencer) (err error) {
		seg, err = seq.AddSegment(*req.Start, *req.End)
		return err
	}, func() { writeJSON(w, http.StatusCreated, seg) })
}

// DELETE /api/trial/segments?id=
func (rt *Router) handleDeleteSegment(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	rt.withParticipant(w, r, func(seq *services.Sequencer) error {
		return seq.DeleteSegment(id)
	}, func() { writeOK(w) })
}

// POST /api/trial/flags {time}
func (rt *Router) handleAddFlag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Time *float64 `json:"time"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Time == nil {
		writeError(w, r, services.NewInvalidError("time required"))
		return
	}
	var flag models.Flag
	rt.withParticipant(w, r, func(seq *services.Sequencer) (err error) {
		flag, err = seq.AddFlag(*req.Time)
		return err
	}, func() { writeJSON(w, http.StatusCreated, flag) })
}

// DELETE /api/trial/flags?id=
func (rt *Router) handleDeleteFlag(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	rt.withParticipant(w, r, func(seq *services.Sequencer) error {
		return seq.DeleteFlag(id)
	}, func() { writeOK(w) })
}

// POST /api/trial/responses {question, answer}
func (rt *Router) handleResponse(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
		Answer   string `json:"answer"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	rt.withParticipant(w, r, func(seq *services.Sequencer) error {
		return seq.SetResponse(req.Question, req.Answer)
	}, func() { writeOK(w) })
}

// POST /api/trial/slider {slider}
func (rt *Router) handleSlider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slider string `json:"slider"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	rt.withParticipant(w, r, func(seq *services.Sequencer) error {
		return seq.UpdateSlider(req.Slider)
	}, func() { writeOK(w) })
}

type advanceResponse struct {
	*services.AdvanceResult
	Message string `json:"message,omitempty"`
}

// POST /api/trial/advance {trial_index}
func (rt *Router) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrialIndex *int `json:"trial_index"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TrialIndex == nil {
		writeError(w, r, services.NewInvalidError("trial_index required"))
		return
	}
	var res *services.AdvanceResult
	rt.withParticipant(w, r, func(seq *services.Sequencer) (err error) {
		res, err = seq.Advance(r.Context(), *req.TrialIndex)
		return err
	}, func() {
		out := advanceResponse{AdvanceResult: res}
		if res.Warning != "" {
			out.Message = utils.T(middleware.LocaleFromContext(r.Context()), res.Warning)
		}
		writeJSON(w, http.StatusOK, out)
	})
}

// POST /api/trial/emergency-exit
func (rt *Router) handleEmergencyExit(w http.ResponseWriter, r *http.Request) {
	var view *services.StateView
	rt.withParticipant(w, r, func(seq *services.Sequencer) error {
		if err := seq.EmergencyExit(); err != nil {
			return err
		}
		view = seq.View()
		return nil
	}, func() { writeJSON(w, http.StatusOK, view) })
}

// GET /api/debrief
func (rt *Router) handleDebrief(w http.ResponseWriter, r *http.Request) {
	var view *services.DebriefView
	rt.withParticipant(w, r, func(seq *services.Sequencer) (err error) {
		view, err = seq.Debrief(r.Context())
		return err
	}, func() { writeJSON(w, http.StatusOK, view) })
}

type prolificResponse struct {
	*services.SubmitResult
	Message string `json:"message"`
}

// POST /api/debrief/prolific {prolific_id}
func (rt *Router) handleProlific(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProlificID string `json:"prolific_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	locale := middleware.LocaleFromContext(r.Context())
	var res *services.SubmitResult
	rt.withParticipant(w, r, func(seq *services.Sequencer) (err error) {
		res, err = seq.SubmitProlificID(r.Context(), req.ProlificID)
		return err
	}, func() {
		out := prolificResponse{SubmitResult: res, Message: utils.T(locale, "prolific.saved")}
		if res.Warning != "" {
			out.Message += " " + utils.T(locale, res.Warning)
		}
		writeJSON(w, http.StatusOK, out)
	})
}

// POST /api/reset?participant_id=
func (rt *Router) handleReset(w http.ResponseWriter, r *http.Request) {
	pid, ok := participantID(w, r)
	if !ok {
		return
	}
	if err := rt.reg.Reset(pid); err != nil {
		writeError(w, r, err)
		return
	}
	logger.InfoContext(r.Context(), "api: participant reset", "participant_id", pid)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"message": utils.T(middleware.LocaleFromContext(r.Context()), "reset.done"),
	})
}

// GET /api/export?format=trials|responses|reliability
func (rt *Router) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "trials"
	}
	records, err := rt.records.LoadAllRecords()
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows := services.BuildTrialRows(records)
	var b []byte
	switch format {
	case "trials":
		b, err = services.ExportTrialsCSV(rows)
	case "responses":
		b, err = services.ExportResponsesCSV(rows, rt.questionnaire)
	case "reliability":
		b, err = services.ExportReliabilityCSV(rows, rt.questionnaire)
	default:
		writeError(w, r, services.NewInvalidError("unsupported format"))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	who, _ := middleware.ResearcherFromContext(r.Context())
	logger.InfoContext(r.Context(), "api: export", "researcher", who, "format", format, "rows", len(rows))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=moderator_%s_%s.csv", format, time.Now().UTC().Format("20060102")))
	_, _ = w.Write(b)
}

// withParticipant runs fn under the participant's lock and calls done on
// success. The response is written after the lock is released.
func (rt *Router) withParticipant(w http.ResponseWriter, r *http.Request, fn func(*services.Sequencer) error, done func()) {
	pid, ok := participantID(w, r)
	if !ok {
		return
	}
	if err := rt.reg.With(r.Context(), pid, r.URL.Query().Get("prolific_id"), fn); err != nil {
		writeError(w, r, err)
		return
	}
	done()
}

func participantID(w http.ResponseWriter, r *http.Request) (string, bool) {
	pid := strings.TrimSpace(r.URL.Query().Get("participant_id"))
	if pid == "" {
		writeError(w, r, services.NewInvalidError("participant_id required"))
		return "", false
	}
	return pid, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, services.NewInvalidError("invalid request body"))
		return false
	}
	return true
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError maps domain errors to status codes. Unknown errors are logged
// and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	locale := middleware.LocaleFromContext(r.Context())
	status, body := http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal error"}
	switch {
	case errors.Is(err, services.ErrSessionCorrupted):
		status, body = http.StatusConflict, errorBody{"session_corrupted", utils.T(locale, "error.session_corrupted")}
	case errors.Is(err, services.ErrTrialAlreadyCommitted):
		status, body = http.StatusConflict, errorBody{"trial_already_committed", utils.T(locale, "error.trial_committed")}
	case errors.Is(err, services.ErrNotPresenting):
		status, body = http.StatusConflict, errorBody{"not_presenting", utils.T(locale, "error.not_presenting")}
	case errors.Is(err, services.ErrNotTerminal):
		status, body = http.StatusConflict, errorBody{"not_terminal", utils.T(locale, "error.not_terminal")}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, body = http.StatusServiceUnavailable, errorBody{"unavailable", err.Error()}
	default:
		if se, ok := services.AsServiceError(err); ok {
			body = errorBody{string(se.Code), se.Message}
			switch se.Code {
			case services.ErrorInvalid:
				status = http.StatusBadRequest
			case services.ErrorNotFound:
				status = http.StatusNotFound
			case services.ErrorConflict:
				status = http.StatusConflict
			case services.ErrorBadGateway:
				status = http.StatusBadGateway
			}
			if se.Key != "" {
				body.Message = utils.T(locale, se.Key)
			}
		}
	}
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "api: request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
