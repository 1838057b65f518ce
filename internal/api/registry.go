package api

import (
	"context"
	"sync"

	"github.com/soaringjerry/moderator/internal/metrics"
	"github.com/soaringjerry/moderator/internal/services"
)

// Opener resumes or starts a participant's run.
type Opener interface {
	Open(ctx context.Context, participantID, prolificID string) (*services.Sequencer, error)
}

// Invalidator drops cached catalog data between participants.
type Invalidator interface {
	Invalidate()
}

type entry struct {
	mu  sync.Mutex
	seq *services.Sequencer

	loaded bool // guarded by Registry.mu
}

// Registry keeps one sequencer per participant. All actions for a
// participant run one at a time under that participant's lock; different
// participants never wait on each other.
type Registry struct {
	opener Opener
	caches []Invalidator

	mu      sync.Mutex
	entries map[string]*entry
}

func NewRegistry(opener Opener, caches ...Invalidator) *Registry {
	return &Registry{opener: opener, caches: caches, entries: map[string]*entry{}}
}

func (r *Registry) get(pid string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[pid]
	if !ok {
		e = &entry{}
		r.entries[pid] = e
	}
	return e
}

// With runs fn against the participant's sequencer, opening the session on
// first use. prolificID is only consulted when the session is opened.
func (r *Registry) With(ctx context.Context, pid, prolificID string, fn func(*services.Sequencer) error) error {
	e := r.lock(pid)
	defer e.mu.Unlock()
	if e.seq == nil {
		seq, err := r.opener.Open(ctx, pid, prolificID)
		if err != nil {
			r.drop(pid, e)
			return err
		}
		e.seq = seq
		r.mu.Lock()
		e.loaded = true
		r.mu.Unlock()
		metrics.SetActiveSessions(r.Len())
	}
	return fn(e.seq)
}

// lock returns the participant's live entry with its lock held. An entry
// dropped while we waited for it is skipped.
func (r *Registry) lock(pid string) *entry {
	for {
		e := r.get(pid)
		e.mu.Lock()
		r.mu.Lock()
		live := r.entries[pid] == e
		r.mu.Unlock()
		if live {
			return e
		}
		e.mu.Unlock()
	}
}

// Reset forgets a finished participant and clears cached catalogs so the
// next participant starts from a clean slate. Sessions on disk are kept.
func (r *Registry) Reset(pid string) error {
	r.mu.Lock()
	e := r.entries[pid]
	r.mu.Unlock()
	if e != nil {
		e.mu.Lock()
		if e.seq != nil && e.seq.State() != services.StateTerminal {
			e.mu.Unlock()
			return services.ErrNotTerminal
		}
		r.drop(pid, e)
		e.mu.Unlock()
	}
	for _, c := range r.caches {
		c.Invalidate()
	}
	metrics.SetActiveSessions(r.Len())
	return nil
}

func (r *Registry) drop(pid string, e *entry) {
	r.mu.Lock()
	if r.entries[pid] == e {
		delete(r.entries, pid)
	}
	r.mu.Unlock()
}

// Len reports the number of participants held in memory.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.loaded {
			n++
		}
	}
	return n
}
