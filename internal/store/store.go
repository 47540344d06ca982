package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tripplan/internal/session"
)

const minPruneInterval = time.Second

// Factory builds the session for a freshly issued id.
type Factory func(id string) *session.Session

// Store is the registry of open planning sessions.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session

	staleAfter time.Duration
	newSession Factory
	now        func() time.Time
	logger     *slog.Logger
}

func New(staleAfter time.Duration, factory Factory, logger *slog.Logger) *Store {
	return &Store{
		sessions:   make(map[string]*session.Session),
		staleAfter: staleAfter,
		newSession: factory,
		now:        time.Now,
		logger:     logger.With("component", "session_store"),
	}
}

// Create opens a session under a new random id.
func (s *Store) Create() *session.Session {
	sess := s.newSession(uuid.NewString())

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	total := len(s.sessions)
	s.mu.Unlock()

	s.logger.Debug("session created", "session_id", sess.ID, "total", total)
	return sess
}

func (s *Store) Get(id string) (*session.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Delete closes and forgets the session.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		sess.Close()
	}
	return ok
}

// PruneStale closes every session idle for longer than staleAfter and
// returns their ids.
func (s *Store) PruneStale() []string {
	cutoff := s.now().Add(-s.staleAfter)

	s.mu.Lock()
	var stale []*session.Session
	for id, sess := range s.sessions {
		if sess.LastActive().Before(cutoff) {
			stale = append(stale, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	ids := make([]string, 0, len(stale))
	for _, sess := range stale {
		sess.Close()
		ids = append(ids, sess.ID)
	}
	return ids
}

// RunPruner prunes stale sessions every interval until ctx is done.
// Intervals below minPruneInterval are raised to it.
func (s *Store) RunPruner(ctx context.Context, interval time.Duration) {
	interval = max(interval, minPruneInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ids := s.PruneStale(); len(ids) > 0 {
				s.logger.Info("pruned idle sessions", "count", len(ids), "remaining", s.Count())
			}
		}
	}
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// CloseAll closes every session, as on shutdown.
func (s *Store) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		sess.Close()
		delete(s.sessions, id)
	}
}
