package throw

import (
	"sort"
	"sync"

	"golang.org/x/net/context"
)

// SessionManager keeps track of running sessions. It is used for lifecycle
// bookkeeping only: sessions never look into it.
type SessionManager struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	sessions map[uint64]*Session
	finished SessionStats

	// OnClose is called with every session after it is terminated and
	// removed from the manager.
	OnClose []func(*Session)
}

func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[uint64]*Session),
	}
}

// Start registers s and runs s.Serve(ctx) in a separate goroutine. Session is
// removed from the manager when Serve returns.
func (m *SessionManager) Start(ctx context.Context, s *Session) {
	m.mu.Lock()
	if m.sessions == nil {
		m.sessions = make(map[uint64]*Session)
	}

	m.sessions[s.ID()] = s
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()

		_ = s.Serve(ctx)

		m.mu.Lock()
		delete(m.sessions, s.ID())
		m.finished = m.finished.Add(s.Stats())
		cbs := m.OnClose
		m.mu.Unlock()

		for _, cb := range cbs {
			cb(s)
		}
	}()
}

// Len returns number of running sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}

// Sessions returns running sessions ordered by id.
func (m *SessionManager) Sessions() []*Session {
	m.mu.Lock()
	ret := make([]*Session, 0, len(m.sessions))

	for _, s := range m.sessions {
		ret = append(ret, s)
	}
	m.mu.Unlock()

	sort.Slice(ret, func(i, j int) bool { return ret[i].ID() < ret[j].ID() })

	return ret
}

// CloseAll closes every running session. It does not wait for them.
func (m *SessionManager) CloseAll() {
	for _, s := range m.Sessions() {
		s.Close()
	}
}

// Wait blocks until every started session is terminated or ctx is done.
func (m *SessionManager) Wait(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns stats of running sessions summed with stats of terminated
// ones.
func (m *SessionManager) Stats() SessionStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	ret := m.finished
	for _, s := range m.sessions {
		ret = ret.Add(s.Stats())
	}

	return ret
}
