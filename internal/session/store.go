package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

// Store owns every live session. Sessions never share state.
type Store struct {
	cfg   config.SessionConfig
	log   *slog.Logger
	clock func() time.Time
	newID func() string

	mu       sync.Mutex
	sessions map[string]*Session

	meter metric.Meter
}

func NewStore(cfg config.SessionConfig, log *slog.Logger) *Store {
	s := &Store{
		cfg:      cfg,
		log:      log.With(slog.String("component", "session-store")),
		clock:    time.Now,
		newID:    uuid.NewString,
		sessions: make(map[string]*Session),
		meter:    otel.Meter("github.com/loqalabs/loqa-scribe/session"),
	}
	if err := s.initMetrics(); err != nil {
		s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return s
}

// Create starts a session with a fresh UUIDv4 id, evicting the least recently
// active idle sessions when the store is full.
func (s *Store) Create() *Session {
	sess := newSession(s.newID(), s.cfg.MaxSegments, s.clock)
	s.mu.Lock()
	s.sessions[sess.id] = sess
	evicted := s.evictOverflowLocked(sess.id)
	s.mu.Unlock()
	if evicted > 0 {
		s.log.Info("evicted sessions over capacity", slog.Int("count", evicted))
	}
	s.log.Debug("session created", slog.String("session_id", sess.id))
	return sess
}

// Get returns a live session and marks it active.
func (s *Store) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if ok {
		sess.touch()
	}
	return sess, ok
}

// GetOrCreate returns the session for id, or a new one when id is unknown
// or expired. created reports which.
func (s *Store) GetOrCreate(id string) (sess *Session, created bool) {
	if sess, ok := s.Get(id); ok {
		return sess, false
	}
	return s.Create(), true
}

func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Prune drops sessions idle longer than the configured timeout, then trims
// the store to its capacity. Sessions with a transcription in flight stay.
func (s *Store) Prune() int {
	idle := time.Duration(s.cfg.IdleTimeoutMS) * time.Millisecond
	cutoff := s.clock().Add(-idle)

	s.mu.Lock()
	removed := 0
	if idle > 0 {
		for id, sess := range s.sessions {
			last, busy := sess.idleSince()
			if !busy && last.Before(cutoff) {
				delete(s.sessions, id)
				removed++
			}
		}
	}
	removed += s.evictOverflowLocked("")
	s.mu.Unlock()

	if removed > 0 {
		s.log.Info("pruned sessions", slog.Int("count", removed))
	}
	return removed
}

// Run prunes on the configured interval until ctx is done.
func (s *Store) Run(ctx context.Context) {
	interval := time.Duration(s.cfg.PruneIntervalMS) * time.Millisecond
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Prune()
		}
	}
}

func (s *Store) evictOverflowLocked(keep string) int {
	if s.cfg.MaxSessions <= 0 || len(s.sessions) <= s.cfg.MaxSessions {
		return 0
	}
	type candidate struct {
		id   string
		last time.Time
	}
	candidates := make([]candidate, 0, len(s.sessions))
	for id, sess := range s.sessions {
		last, busy := sess.idleSince()
		if busy || id == keep {
			continue
		}
		candidates = append(candidates, candidate{id: id, last: last})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].last.Before(candidates[j].last) })

	removed := 0
	for _, c := range candidates {
		if len(s.sessions) <= s.cfg.MaxSessions {
			break
		}
		delete(s.sessions, c.id)
		removed++
	}
	return removed
}

func (s *Store) initMetrics() error {
	gauge, err := s.meter.Int64ObservableGauge("scribe.sessions.active",
		metric.WithDescription("Live recording sessions"))
	if err != nil {
		return err
	}
	_, err = s.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, int64(s.Len()))
		return nil
	}, gauge)
	return err
}
