// Package db keeps the commit ledger: one row per locally committed record
// and the outcome of its remote sync.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Commit is one ledger row.
type Commit struct {
	ParticipantID string     `json:"participant_id"`
	Kind          string     `json:"kind"`
	TrialIndex    int        `json:"trial_index"`
	Digest        string     `json:"digest"`
	LocalPath     string     `json:"local_path"`
	RemotePath    string     `json:"remote_path"`
	Synced        bool       `json:"synced"`
	SyncError     string     `json:"sync_error,omitempty"`
	CommittedAt   time.Time  `json:"committed_at"`
	SyncedAt      *time.Time `json:"synced_at,omitempty"`
}

type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the sqlite ledger at path and applies migrations.
func Open(path, migrationsDir string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("ledger path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_busy_timeout=5000", filepath.ToSlash(path))
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	l, err := NewLedger(conn, migrationsDir)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return l, nil
}

// NewLedger prepares an existing connection.
func NewLedger(conn *sql.DB, migrationsDir string) (*Ledger, error) {
	if conn == nil {
		return nil, errors.New("nil db")
	}
	conn.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := conn.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	if err := RunMigrations(conn, migrationsDir); err != nil {
		return nil, err
	}
	return &Ledger{db: conn, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

// Record upserts a commit and returns the row as it was before, if any.
// A re-commit resets the sync state.
func (l *Ledger) Record(ctx context.Context, c Commit) (*Commit, error) {
	prev, err := l.Get(ctx, c.ParticipantID, c.Kind, c.TrialIndex)
	if err != nil {
		return nil, err
	}
	committedAt := c.CommittedAt
	if committedAt.IsZero() {
		committedAt = l.now()
	}
	_, err = l.db.ExecContext(ctx, `
INSERT INTO commits (participant_id, kind, trial_index, digest, local_path, remote_path, synced, sync_error, committed_at, synced_at)
VALUES (?, ?, ?, ?, ?, ?, 0, '', ?, NULL)
ON CONFLICT (participant_id, kind, trial_index) DO UPDATE SET
    digest = excluded.digest,
    local_path = excluded.local_path,
    remote_path = excluded.remote_path,
    synced = 0,
    sync_error = '',
    committed_at = excluded.committed_at,
    synced_at = NULL`,
		c.ParticipantID, c.Kind, c.TrialIndex, c.Digest, c.LocalPath, c.RemotePath, committedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("record commit: %w", err)
	}
	return prev, nil
}

func (l *Ledger) MarkSynced(ctx context.Context, participantID, kind string, trialIndex int) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE commits SET synced = 1, sync_error = '', synced_at = ? WHERE participant_id = ? AND kind = ? AND trial_index = ?`,
		l.now().Format(time.RFC3339Nano), participantID, kind, trialIndex)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

func (l *Ledger) MarkFailed(ctx context.Context, participantID, kind string, trialIndex int, reason string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE commits SET synced = 0, sync_error = ? WHERE participant_id = ? AND kind = ? AND trial_index = ?`,
		reason, participantID, kind, trialIndex)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, participantID, kind string, trialIndex int) (*Commit, error) {
	row := l.db.QueryRowContext(ctx, selectCommit+` WHERE participant_id = ? AND kind = ? AND trial_index = ?`,
		participantID, kind, trialIndex)
	c, err := scanCommit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// ListPending returns commits whose remote sync has not succeeded, oldest first.
func (l *Ledger) ListPending(ctx context.Context) ([]Commit, error) {
	rows, err := l.db.QueryContext(ctx, selectCommit+` WHERE synced = 0 ORDER BY committed_at, participant_id, kind, trial_index`)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()
	var out []Commit
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

const selectCommit = `SELECT participant_id, kind, trial_index, digest, local_path, remote_path, synced, sync_error, committed_at, synced_at FROM commits`

type scanner interface {
	Scan(dest ...any) error
}

func scanCommit(s scanner) (*Commit, error) {
	var (
		c           Commit
		synced      int64
		committedAt string
		syncedAt    sql.NullString
	)
	if err := s.Scan(&c.ParticipantID, &c.Kind, &c.TrialIndex, &c.Digest, &c.LocalPath, &c.RemotePath,
		&synced, &c.SyncError, &committedAt, &syncedAt); err != nil {
		return nil, err
	}
	c.Synced = synced != 0
	if t, err := time.Parse(time.RFC3339Nano, committedAt); err == nil {
		c.CommittedAt = t
	}
	if syncedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, syncedAt.String); err == nil {
			c.SyncedAt = &t
		}
	}
	return &c, nil
}
