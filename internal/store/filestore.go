// Package store keeps participant sessions and committed records as JSON
// files under a results directory.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/soaringjerry/moderator/internal/logger"
	"github.com/soaringjerry/moderator/internal/models"
	"github.com/soaringjerry/moderator/internal/services"
)

const fileMode = 0o644

var (
	validParticipantID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
	trialFilePattern   = regexp.MustCompile(`^participant_(.+)_trial_(\d+)\.json$`)
)

type FileStore struct {
	dir       string
	now       func() time.Time
	validator *schemaValidator
}

// NewFileStore creates dir when needed.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("results directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	v, err := newSessionValidator()
	if err != nil {
		return nil, err
	}
	return &FileStore{
		dir:       dir,
		now:       func() time.Time { return time.Now().UTC() },
		validator: v,
	}, nil
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) SessionPath(pid string) string {
	return filepath.Join(s.dir, fmt.Sprintf("participant_%s_session.json", pid))
}

func (s *FileStore) TrialPath(pid string, idx int) string {
	return filepath.Join(s.dir, fmt.Sprintf("participant_%s_trial_%d.json", pid, idx))
}

func (s *FileStore) AggregatePath(pid string) string {
	return filepath.Join(s.dir, fmt.Sprintf("participant_%s_aggregate.json", pid))
}

func checkParticipantID(pid string) error {
	if !validParticipantID.MatchString(pid) {
		return services.NewInvalidError("participant_id must be 1-128 letters, digits, '-' or '_'")
	}
	return nil
}

// CreateOrLoad returns the stored session, or persists and returns a new one.
// A file that exists but cannot be trusted yields ErrSessionCorrupted and is
// left on disk untouched.
func (s *FileStore) CreateOrLoad(pid string) (*models.Session, bool, error) {
	if err := checkParticipantID(pid); err != nil {
		return nil, false, err
	}
	path := s.SessionPath(pid)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		sess := models.NewSession(pid, s.now())
		if err := s.SaveSession(sess); err != nil {
			return nil, false, err
		}
		return sess, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read session: %w", err)
	}
	sess, err := s.decodeSession(data)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", services.ErrSessionCorrupted, path, err)
	}
	if sess.ParticipantID != pid {
		return nil, false, fmt.Errorf("%w: %s: belongs to %q", services.ErrSessionCorrupted, path, sess.ParticipantID)
	}
	return sess, false, nil
}

func (s *FileStore) decodeSession(data []byte) (*models.Session, error) {
	if !json.Valid(data) {
		return nil, errors.New("invalid json")
	}
	if err := s.validator.validate(data); err != nil {
		return nil, err
	}
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	sess.Normalize()
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	return &sess, nil
}

// SaveSession overwrites the session file. Identical state produces
// byte-identical files.
func (s *FileStore) SaveSession(sess *models.Session) error {
	if sess == nil {
		return errors.New("nil session")
	}
	if err := checkParticipantID(sess.ParticipantID); err != nil {
		return err
	}
	data, err := encode(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := writeFileAtomic(s.SessionPath(sess.ParticipantID), data, fileMode); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// SaveTrial commits rec and advances the session past it. This is the only
// place the trial index moves.
func (s *FileStore) SaveTrial(sess *models.Session, rec *models.TrialRecord) (string, error) {
	if sess == nil || rec == nil {
		return "", errors.New("nil session or record")
	}
	if rec.TrialIndex != sess.TrialIndex {
		return "", services.ErrTrialAlreadyCommitted
	}
	path := s.TrialPath(sess.ParticipantID, rec.TrialIndex)
	if _, err := os.Stat(path); err == nil {
		return "", services.ErrTrialAlreadyCommitted
	}
	data, err := encode(rec)
	if err != nil {
		return "", fmt.Errorf("encode trial: %w", err)
	}
	if err := writeFileAtomic(path, data, fileMode); err != nil {
		return "", fmt.Errorf("save trial: %w", err)
	}
	prev := sess.TrialIndex
	sess.TrialIndex = rec.TrialIndex + 1
	if err := s.SaveSession(sess); err != nil {
		sess.TrialIndex = prev
		if rmErr := os.Remove(path); rmErr != nil {
			logger.Error("store: could not roll back trial file", "path", path, "error", rmErr)
		}
		return "", err
	}
	return path, nil
}

// LoadAllTrials returns the participant's trial records still on disk, keyed
// by their embedded trial index. Unreadable files are skipped.
func (s *FileStore) LoadAllTrials(pid string) (map[int]*models.TrialRecord, error) {
	if err := checkParticipantID(pid); err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, fmt.Sprintf("participant_%s_trial_*.json", pid)))
	if err != nil {
		return nil, err
	}
	out := make(map[int]*models.TrialRecord, len(matches))
	for _, p := range matches {
		m := trialFilePattern.FindStringSubmatch(filepath.Base(p))
		if m == nil || m[1] != pid {
			continue
		}
		rec, err := readTrial(p)
		if err != nil {
			logger.Warn("store: skipping unreadable trial record", "path", p, "error", err)
			continue
		}
		out[rec.TrialIndex] = rec
	}
	return out, nil
}

// LoadAllRecords returns every trial record in the results directory, ordered
// by participant and trial index.
func (s *FileStore) LoadAllRecords() ([]*models.TrialRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	out := []*models.TrialRecord{}
	for _, e := range entries {
		if e.IsDir() || !trialFilePattern.MatchString(e.Name()) {
			continue
		}
		rec, err := readTrial(filepath.Join(s.dir, e.Name()))
		if err != nil {
			logger.Warn("store: skipping unreadable trial record", "file", e.Name(), "error", err)
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ParticipantID == out[j].ParticipantID {
			return out[i].TrialIndex < out[j].TrialIndex
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	return out, nil
}

func (s *FileStore) SaveAggregate(rec *models.AggregateRecord) (string, error) {
	if rec == nil {
		return "", errors.New("nil aggregate")
	}
	if err := checkParticipantID(rec.ParticipantID); err != nil {
		return "", err
	}
	data, err := encode(rec)
	if err != nil {
		return "", fmt.Errorf("encode aggregate: %w", err)
	}
	path := s.AggregatePath(rec.ParticipantID)
	if err := writeFileAtomic(path, data, fileMode); err != nil {
		return "", fmt.Errorf("save aggregate: %w", err)
	}
	return path, nil
}

// Remove deletes a committed file after it was mirrored remotely. Only files
// inside the results directory may be removed.
func (s *FileStore) Remove(path string) error {
	rel, err := filepath.Rel(s.dir, path)
	if err != nil || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return fmt.Errorf("refusing to remove %s outside results dir", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func readTrial(path string) (*models.TrialRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec models.TrialRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if rec.TrialIndex < 0 {
		return nil, errors.New("negative trial_index " + strconv.Itoa(rec.TrialIndex))
	}
	return &rec, nil
}

func encode(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
