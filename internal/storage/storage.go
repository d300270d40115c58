// Package storage persists the set of canonical URLs already delivered in
// a digest.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/deusflow/herald/internal/config"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("storage: unknown backend")

// SeenStore remembers canonical URLs. Contains only reflects what Load
// returned plus what Record added in this process; nothing reaches the
// backing store until Persist.
type SeenStore interface {
	Load(ctx context.Context) error
	Contains(url string) bool
	Record(url string, at time.Time)
	Persist(ctx context.Context) error
	Len() int
	Close() error
}

// HashURL is the key stored for a canonical URL.
func HashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:8])
}

// Option customizes a store.
type Option func(*seenSet)

// WithClock replaces the time source used for retention pruning.
func WithClock(now func() time.Time) Option {
	return func(s *seenSet) { s.now = now }
}

// seenSet is the in-memory view shared by every backend.
type seenSet struct {
	mu        sync.RWMutex
	entries   map[string]time.Time
	pending   map[string]time.Time
	retention time.Duration
	now       func() time.Time
}

func newSeenSet(retention time.Duration, opts []Option) *seenSet {
	s := &seenSet{
		entries:   make(map[string]time.Time),
		pending:   make(map[string]time.Time),
		retention: retention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// cutoff returns the oldest instant still retained, or zero when retention
// is unlimited.
func (s *seenSet) cutoff() time.Time {
	if s.retention <= 0 {
		return time.Time{}
	}
	return s.now().Add(-s.retention)
}

func (s *seenSet) expired(at time.Time) bool {
	c := s.cutoff()
	return !c.IsZero() && at.Before(c)
}

func (s *seenSet) reset(entries map[string]time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
	s.pending = make(map[string]time.Time)
}

func (s *seenSet) Contains(url string) bool {
	h := HashURL(url)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.pending[h]; ok {
		return true
	}
	_, ok := s.entries[h]
	return ok
}

func (s *seenSet) Record(url string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[HashURL(url)] = at.UTC()
}

func (s *seenSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.entries)
	for h := range s.pending {
		if _, ok := s.entries[h]; !ok {
			n++
		}
	}
	return n
}

// pendingEntries returns records not yet persisted, sorted by hash.
func (s *seenSet) pendingEntries() []entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entry, 0, len(s.pending))
	for h, at := range s.pending {
		out = append(out, entry{hash: h, at: at})
	}
	sortEntries(out)
	return out
}

// markPersisted moves written records from pending into entries.
func (s *seenSet) markPersisted(es []entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range es {
		s.entries[e.hash] = e.at
		delete(s.pending, e.hash)
	}
}

func (s *seenSet) snapshot() []entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entry, 0, len(s.entries))
	for h, at := range s.entries {
		out = append(out, entry{hash: h, at: at})
	}
	sortEntries(out)
	return out
}

type entry struct {
	hash string
	at   time.Time
}

func sortEntries(es []entry) {
	sort.Slice(es, func(i, j int) bool { return es[i].hash < es[j].hash })
}

// MemoryStore keeps seen URLs for the life of the process only.
type MemoryStore struct {
	*seenSet
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{seenSet: newSeenSet(0, opts)}
}

func (m *MemoryStore) Load(ctx context.Context) error { return ctx.Err() }

func (m *MemoryStore) Persist(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.markPersisted(m.pendingEntries())
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// Open builds the store selected by the state config.
func Open(ctx context.Context, st config.State, opts ...Option) (SeenStore, error) {
	retention := st.Retention()
	switch st.Backend {
	case config.BackendFile, "":
		return NewFileStore(st.Path, retention, opts...), nil
	case config.BackendMemory:
		return NewMemoryStore(opts...), nil
	case config.BackendSQLite, config.BackendPostgres:
		dialect, dsn := DialectSQLite, st.Path
		if st.Backend == config.BackendPostgres {
			dialect, dsn = DialectPostgres, st.DSN
		}
		store, err := OpenSQL(ctx, dialect, dsn, retention, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, st.Backend)
	}
}
