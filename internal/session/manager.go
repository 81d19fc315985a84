package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/videochat/internal/callerr"
	"github.com/google/uuid"
)

// End reasons passed to the end hook.
const (
	EndTerminated = "terminated"
	EndIdle       = "idle_timeout"
	EndClientGone = "client_gone"
)

type ManagerConfig struct {
	InactivityTimeout time.Duration
	MaxSessions       int
	// TombstoneRetention is how long a closed key keeps answering SessionClosed.
	TombstoneRetention time.Duration
	Limits             Limits
}

// Manager is the keyed registry of live sessions. mu is held only for map
// access, never across a turn.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	closed   map[string]time.Time
	cfg      ManagerConfig
	pipeline *Pipeline
	onEnd    func(key, reason string, active int)
	now      func() time.Time
}

func NewManager(cfg ManagerConfig, pipeline *Pipeline) *Manager {
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = 5 * time.Minute
	}
	if cfg.TombstoneRetention <= 0 {
		cfg.TombstoneRetention = 10 * time.Minute
	}
	return &Manager{
		sessions: make(map[string]*Session),
		closed:   make(map[string]time.Time),
		cfg:      cfg,
		pipeline: pipeline,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetEndHook registers a callback run after a session ends, outside the lock.
func (m *Manager) SetEndHook(hook func(key, reason string, active int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnd = hook
}

// GetOrCreate returns the live session for key or creates one. An empty key
// mints a fresh one. Closed keys and keys found expired fail with SessionClosed.
func (m *Manager) GetOrCreate(key string, opts Options) (*Session, bool, error) {
	const op = "session.get_or_create"
	key = strings.TrimSpace(key)
	if key == "" {
		key = uuid.NewString()
	}
	now := m.now()

	m.mu.Lock()
	if s, ok := m.sessions[key]; ok {
		idle, busy := s.idleFor(now)
		if busy || idle < m.cfg.InactivityTimeout {
			m.mu.Unlock()
			return s, false, nil
		}
		active := m.removeLocked(key, now)
		hook := m.onEnd
		m.mu.Unlock()
		s.Terminate()
		m.observe(EndIdle, active)
		if hook != nil {
			hook(key, EndIdle, active)
		}
		return nil, false, callerr.New(callerr.SessionClosed, op, "session expired")
	}
	if _, ok := m.closed[key]; ok {
		m.mu.Unlock()
		return nil, false, callerr.New(callerr.SessionClosed, op, "session closed")
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, false, callerr.New(callerr.SessionLimitExceeded, op, "maximum concurrent sessions reached")
	}
	s := New(key, opts, m.cfg.Limits, m.pipeline)
	s.onAbandon = func() { _ = m.end(key, EndClientGone) }
	m.sessions[key] = s
	active := len(m.sessions)
	m.mu.Unlock()

	m.observe("created", active)
	return s, true, nil
}

// Lookup returns a live session without creating one.
func (m *Manager) Lookup(key string) (*Session, error) {
	const op = "session.lookup"
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		return s, nil
	}
	if _, ok := m.closed[key]; ok {
		return nil, callerr.New(callerr.SessionClosed, op, "session closed")
	}
	return nil, callerr.New(callerr.SessionClosed, op, "unknown session")
}

// Terminate ends a session, mid-turn or not. The in-flight turn's result is
// discarded when it completes.
func (m *Manager) Terminate(key string) error {
	return m.end(key, EndTerminated)
}

func (m *Manager) end(key, reason string) error {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if !ok {
		_, wasClosed := m.closed[key]
		m.mu.Unlock()
		if wasClosed {
			return nil
		}
		return callerr.New(callerr.SessionClosed, "session.terminate", "unknown session")
	}
	active := m.removeLocked(key, m.now())
	hook := m.onEnd
	m.mu.Unlock()

	s.Terminate()
	s.logger.Info("session ended", "reason", reason)
	m.observe(reason, active)
	if hook != nil {
		hook(key, reason, active)
	}
	return nil
}

// EvictIdle ends every session quiet for longer than the inactivity timeout
// and purges old tombstones. Sessions with a turn in flight are skipped.
func (m *Manager) EvictIdle(now time.Time) []string {
	var (
		evicted []*Session
		keys    []string
	)
	m.mu.Lock()
	for key, s := range m.sessions {
		idle, busy := s.idleFor(now)
		if busy || idle < m.cfg.InactivityTimeout {
			continue
		}
		evicted = append(evicted, s)
		keys = append(keys, key)
	}
	active := len(m.sessions)
	for _, key := range keys {
		active = m.removeLocked(key, now)
	}
	for key, at := range m.closed {
		if now.Sub(at) > m.cfg.TombstoneRetention {
			delete(m.closed, key)
		}
	}
	hook := m.onEnd
	m.mu.Unlock()

	for i, s := range evicted {
		s.Terminate()
		s.logger.Info("session evicted after inactivity", "timeout", m.cfg.InactivityTimeout)
		m.observe(EndIdle, active)
		if hook != nil {
			hook(keys[i], EndIdle, active)
		}
	}
	return keys
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.EvictIdle(m.now())
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll terminates every live session, for shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	keys := make([]string, 0, len(m.sessions))
	for key := range m.sessions {
		keys = append(keys, key)
	}
	m.mu.Unlock()
	for _, key := range keys {
		_ = m.end(key, EndTerminated)
	}
}

func (m *Manager) observe(event string, active int) {
	if m.pipeline != nil {
		m.pipeline.Metrics.ObserveSessionEvent(event, active)
	}
}

func (m *Manager) removeLocked(key string, now time.Time) int {
	delete(m.sessions, key)
	m.closed[key] = now
	return len(m.sessions)
}
