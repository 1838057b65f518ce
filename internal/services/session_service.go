package services

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soaringjerry/moderator/internal/logger"
	"github.com/soaringjerry/moderator/internal/metrics"
	"github.com/soaringjerry/moderator/internal/models"
)

// SessionStore persists sessions and their committed records.
type SessionStore interface {
	CreateOrLoad(participantID string) (*models.Session, bool, error)
	SaveSession(sess *models.Session) error
	SaveTrial(sess *models.Session, rec *models.TrialRecord) (string, error)
	LoadAllTrials(participantID string) (map[int]*models.TrialRecord, error)
	SaveAggregate(rec *models.AggregateRecord) (string, error)
}

// TrialLoader builds the stimulus list and affect images of a new session.
type TrialLoader interface {
	LoadTrials(ctx context.Context) ([]models.Trial, error)
	LoadAffectImages(ctx context.Context, valence models.Valence) ([]models.AffectImage, error)
}

type UploadKind string

const (
	UploadTrial     UploadKind = "trial"
	UploadAggregate UploadKind = "aggregate"
)

// Upload describes a locally committed record that should be mirrored remotely.
type Upload struct {
	Kind          UploadKind
	ParticipantID string
	TrialIndex    int
	LocalPath     string
	Payload       any
}

// Uploader mirrors committed records to the remote backend. It returns
// ErrRemoteDisabled when no backend is configured.
type Uploader interface {
	Upload(ctx context.Context, u Upload) error
}

// Options holds the protocol settings the sequencer needs.
type Options struct {
	Questionnaire       models.Questionnaire
	Instructions        map[string]string
	InstructionVersions []string
	TrustCueProbability float64
	DebriefText         string
}

// SessionService opens participant sessions and owns the shared randomness.
type SessionService struct {
	store       SessionStore
	loader      TrialLoader
	uploader    Uploader
	sink        MarkerSink
	opts        Options
	now         func() time.Time
	idGenerator func() string

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewSessionService wires a session service. uploader and sink may be nil.
func NewSessionService(store SessionStore, loader TrialLoader, uploader Uploader, sink MarkerSink, opts Options) *SessionService {
	if opts.TrustCueProbability <= 0 || opts.TrustCueProbability > 1 {
		opts.TrustCueProbability = 0.5
	}
	return &SessionService{
		store:       store,
		loader:      loader,
		uploader:    uploader,
		sink:        sink,
		opts:        opts,
		now:         func() time.Time { return time.Now().UTC() },
		idGenerator: uuid.NewString,
		rng:         rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())),
	}
}

// NewParticipantID returns a short opaque identifier for anonymous participants.
func NewParticipantID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Options returns the protocol settings in use.
func (s *SessionService) Options() Options { return s.opts }

// Open resumes or initializes the participant's session. Every fixed
// assignment that is missing is drawn exactly once and persisted before the
// sequencer is returned.
func (s *SessionService) Open(ctx context.Context, participantID, prolificID string) (*Sequencer, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return nil, NewInvalidError("participant_id required")
	}
	if s.store == nil {
		return nil, errors.New("session service store is nil")
	}
	sess, created, err := s.store.CreateOrLoad(participantID)
	if err != nil {
		if errors.Is(err, ErrSessionCorrupted) {
			logger.Error("session: refusing corrupted session", "participant_id", participantID, "error", err)
		}
		return nil, err
	}
	changed, err := s.fillAssignments(ctx, sess, strings.TrimSpace(prolificID))
	if err != nil {
		return nil, err
	}
	if changed {
		if err := s.store.SaveSession(sess); err != nil {
			return nil, err
		}
	}
	metrics.ObserveSessionOpened(!created)
	logger.Info("session: opened",
		"participant_id", participantID,
		"created", created,
		"trial_index", sess.TrialIndex,
		"total_trials", len(sess.TrialOrder))
	return newSequencer(s, sess), nil
}

func (s *SessionService) fillAssignments(ctx context.Context, sess *models.Session, prolificID string) (bool, error) {
	sess.Normalize()
	changed := false
	if prolificID != "" && sess.ProlificID == models.UnknownProlificID && !sess.ProlificSaved {
		sess.ProlificID = prolificID
		changed = true
	}
	if sess.ValenceCondition == "" {
		sess.ValenceCondition = models.Valences[s.intN(len(models.Valences))]
		changed = true
	}
	if len(sess.Trials) == 0 && s.loader != nil {
		trials, err := s.loader.LoadTrials(ctx)
		if err != nil {
			return false, err
		}
		for i := range trials {
			trials[i].Index = i
			if trials[i].Intervals == nil {
				trials[i].Intervals = []models.Interval{}
			}
		}
		sess.Trials = trials
		sess.TrialOrder = nil
		changed = true
	}
	if len(sess.TrialOrder) == 0 && len(sess.Trials) > 0 {
		sess.TrialOrder = s.perm(len(sess.Trials))
		changed = true
	}
	if len(sess.TrialAffectMapping) == 0 && len(sess.Trials) > 0 {
		var images []models.AffectImage
		if s.loader != nil {
			var err error
			images, err = s.loader.LoadAffectImages(ctx, sess.ValenceCondition)
			if err != nil {
				return false, err
			}
		}
		for i := range sess.Trials {
			img := models.AffectImage{}
			if len(images) > 0 {
				img = images[i%len(images)]
			}
			sess.TrialAffectMapping[sess.Trials[i].Index] = img
		}
		changed = true
	}
	if sess.InstructionVersion == "" && len(s.opts.InstructionVersions) > 0 {
		sess.InstructionVersion = s.opts.InstructionVersions[s.intN(len(s.opts.InstructionVersions))]
		changed = true
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now()
		changed = true
	}
	if sess.Summaries == nil {
		sess.Summaries = map[int]models.TrialSummary{}
	}
	return changed, nil
}

func (s *SessionService) upload(ctx context.Context, u Upload) error {
	if s.uploader == nil {
		return ErrRemoteDisabled
	}
	return s.uploader.Upload(ctx, u)
}

func (s *SessionService) intN(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.IntN(n)
}

func (s *SessionService) float64() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

func (s *SessionService) perm(n int) []int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Perm(n)
}
