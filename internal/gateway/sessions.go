package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flo-mic/spidergroup/internal/cascade"
)

// session is one cascade machine plus the bookkeeping for idle expiry.
type session struct {
	id      string
	machine *cascade.Machine
	done    chan struct{}

	mu       sync.Mutex
	lastSeen time.Time
	streams  int
}

func (s *session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = now
}

func (s *session) idleSince(now time.Time) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen), s.streams > 0
}

func (s *session) attachStream(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams++
	s.lastSeen = now
}

func (s *session) detachStream(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams--
	s.lastSeen = now
}

type sessionManager struct {
	catalog Catalog
	ttl     time.Duration
	log     *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func newSessionManager(catalog Catalog, ttl time.Duration, log *slog.Logger) *sessionManager {
	return &sessionManager{
		catalog:  catalog,
		ttl:      ttl,
		log:      log,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

func (m *sessionManager) create() *session {
	id := uuid.New().String()
	machine := cascade.New(context.Background(), m.catalog,
		cascade.WithLogger(m.log.With("session", id)),
		cascade.WithNodes(m.catalog.Nodes()),
	)
	s := &session{id: id, machine: machine, done: make(chan struct{}), lastSeen: m.now()}

	m.mu.Lock()
	m.sessions[id] = s
	n := len(m.sessions)
	m.mu.Unlock()

	gatewaySessions.Set(float64(n))
	m.log.Info("session created", "session", id)
	return s
}

func (m *sessionManager) get(id string) (*session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		s.touch(m.now())
	}
	return s, ok
}

func (m *sessionManager) remove(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return false
	}
	gatewaySessions.Set(float64(n))
	close(s.done)
	s.machine.Close()
	return true
}

// reap closes sessions idle for longer than the ttl. Sessions with an open
// event stream never expire.
func (m *sessionManager) reap() int {
	now := m.now()
	var expired []string
	m.mu.Lock()
	for id, s := range m.sessions {
		idle, streaming := s.idleSince(now)
		if !streaming && idle > m.ttl {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		if m.remove(id) {
			gatewaySessionsExpired.Inc()
			m.log.Info("session expired", "session", id)
		}
	}
	return len(expired)
}

// run reaps on a ticker until ctx is done.
func (m *sessionManager) run(ctx context.Context) {
	interval := m.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.reap()
		}
	}
}

func (m *sessionManager) closeAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.remove(id)
	}
}
