package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/soaringjerry/moderator/internal/db"
	"github.com/soaringjerry/moderator/internal/logger"
	"github.com/soaringjerry/moderator/internal/metrics"
	"github.com/soaringjerry/moderator/internal/services"
)

// Ledger is the subset of the commit ledger the committer writes to.
type Ledger interface {
	Record(ctx context.Context, c db.Commit) (*db.Commit, error)
	MarkSynced(ctx context.Context, participantID, kind string, trialIndex int) error
	MarkFailed(ctx context.Context, participantID, kind string, trialIndex int, reason string) error
}

// Remover deletes a local file once its remote copy exists.
type Remover interface {
	Remove(path string) error
}

type Paths struct {
	TrialPrefix     string
	AggregatePrefix string
}

func DefaultPaths() Paths {
	return Paths{TrialPrefix: "results/full_run", AggregatePrefix: "results"}
}

// Committer mirrors locally committed records: record in the ledger, push
// once, and delete the local copy only after the push succeeded.
type Committer struct {
	syncer  Syncer
	remover Remover
	ledger  Ledger
	sealer  *Sealer
	paths   Paths
}

type Option func(*Committer)

func WithLedger(l Ledger) Option  { return func(c *Committer) { c.ledger = l } }
func WithSealer(s *Sealer) Option { return func(c *Committer) { c.sealer = s } }
func WithPaths(p Paths) Option    { return func(c *Committer) { c.paths = p } }

// NewCommitter builds a committer. A nil syncer disables pushing; records
// then stay local and Upload reports services.ErrRemoteDisabled.
func NewCommitter(syncer Syncer, remover Remover, opts ...Option) *Committer {
	c := &Committer{syncer: syncer, remover: remover, paths: DefaultPaths()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RemotePath names the remote file of an upload.
func (c *Committer) RemotePath(u services.Upload) string {
	if u.Kind == services.UploadAggregate {
		return path.Join(c.paths.AggregatePrefix, fmt.Sprintf("participant_%s_aggregate.json", u.ParticipantID))
	}
	return path.Join(c.paths.TrialPrefix, fmt.Sprintf("%s_trial_%d.json", u.ParticipantID, u.TrialIndex))
}

func (c *Committer) Upload(ctx context.Context, u services.Upload) error {
	content, err := json.MarshalIndent(u.Payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s record: %w", u.Kind, err)
	}
	content = append(content, '\n')
	digest, err := Digest(content)
	if err != nil {
		return err
	}
	remotePath := c.RemotePath(u)
	kind := string(u.Kind)

	if c.ledger != nil {
		prev, err := c.ledger.Record(ctx, db.Commit{
			ParticipantID: u.ParticipantID,
			Kind:          kind,
			TrialIndex:    u.TrialIndex,
			Digest:        digest,
			LocalPath:     u.LocalPath,
			RemotePath:    remotePath,
		})
		if err != nil {
			logger.Warn("remote: ledger record failed", "path", remotePath, "error", err)
		} else if prev != nil && prev.Synced && prev.Digest == digest && c.syncer != nil {
			c.removeLocal(u.LocalPath)
			c.markSynced(ctx, u, kind)
			metrics.ObserveSync(kind, "unchanged", 0)
			return nil
		}
	}

	if c.syncer == nil {
		c.markFailed(ctx, u, kind, services.ErrRemoteDisabled.Error())
		metrics.ObserveSync(kind, "disabled", 0)
		return services.ErrRemoteDisabled
	}

	body := content
	if c.sealer != nil {
		if body, err = c.sealer.Seal(content); err != nil {
			c.markFailed(ctx, u, kind, err.Error())
			return err
		}
	}

	start := time.Now()
	msg := fmt.Sprintf("Add %s record for participant %s", kind, u.ParticipantID)
	if u.Kind == services.UploadTrial {
		msg = fmt.Sprintf("Add trial %d for participant %s", u.TrialIndex, u.ParticipantID)
	}
	if err := c.syncer.Put(ctx, remotePath, body, msg); err != nil {
		c.markFailed(ctx, u, kind, err.Error())
		metrics.ObserveSync(kind, "failed", time.Since(start).Seconds())
		return fmt.Errorf("remote: push %s: %w", remotePath, err)
	}
	metrics.ObserveSync(kind, "synced", time.Since(start).Seconds())
	c.removeLocal(u.LocalPath)
	c.markSynced(ctx, u, kind)
	return nil
}

func (c *Committer) removeLocal(p string) {
	if c.remover == nil || p == "" {
		return
	}
	if err := c.remover.Remove(p); err != nil {
		logger.Warn("remote: synced but local copy kept", "path", p, "error", err)
	}
}

func (c *Committer) markSynced(ctx context.Context, u services.Upload, kind string) {
	if c.ledger == nil {
		return
	}
	if err := c.ledger.MarkSynced(ctx, u.ParticipantID, kind, u.TrialIndex); err != nil {
		logger.Warn("remote: ledger update failed", "participant_id", u.ParticipantID, "error", err)
	}
}

func (c *Committer) markFailed(ctx context.Context, u services.Upload, kind, reason string) {
	if c.ledger == nil {
		return
	}
	if err := c.ledger.MarkFailed(ctx, u.ParticipantID, kind, u.TrialIndex, reason); err != nil {
		logger.Warn("remote: ledger update failed", "participant_id", u.ParticipantID, "error", err)
	}
}

// Digest is the hex SHA-256 of the RFC 8785 canonical form of a JSON document.
func Digest(content []byte) (string, error) {
	canonical, err := jcs.Transform(content)
	if err != nil {
		return "", fmt.Errorf("canonicalize record: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
