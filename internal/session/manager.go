package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"chainattend/pkg/logger"
)

// EventType names a session lifecycle transition.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventChanged      EventType = "changed"
	EventDisconnected EventType = "disconnected"
)

// Event is delivered to subscribers on every lifecycle transition.
// PreviousID is set for changed and disconnected events.
type Event struct {
	Type       EventType
	SessionID  string
	PreviousID string
	Account    string
	Role       Role
}

// Manager owns the live sessions. Sessions older than ttl are expired
// lazily by Get and in bulk by Sweep.
type Manager struct {
	resolver *Resolver
	ttl      time.Duration
	log      *zap.Logger
	nowFunc  func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	subs     map[int]chan Event
	nextSub  int
}

// NewManager creates a manager around r. A non-positive ttl keeps sessions
// until they are disconnected.
func NewManager(r *Resolver, ttl time.Duration, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		resolver: r,
		ttl:      ttl,
		log:      log,
		nowFunc:  time.Now,
		sessions: make(map[string]*Session),
		subs:     make(map[int]chan Event),
	}
}

// Configured reports whether sessions can be created at all.
func (m *Manager) Configured() bool {
	return m.resolver.Configured()
}

// Connect creates a session for account.
func (m *Manager) Connect(ctx context.Context, account string) (*Session, error) {
	s, err := m.resolver.Resolve(ctx, account)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.log.Info("account connected", zap.String(logger.FieldSession, s.ID), zap.String(logger.FieldAccount, s.Account))
	m.publish(Event{Type: EventConnected, SessionID: s.ID, Account: s.Account, Role: s.Role()})
	return s, nil
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if m.expired(s) {
		m.expire(s)
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Len reports the number of live sessions, expired ones included until
// they are swept.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) expired(s *Session) bool {
	return m.ttl > 0 && !m.nowFunc().Before(s.CreatedAt.Add(m.ttl))
}

func (m *Manager) expire(s *Session) {
	if !m.remove(s) {
		return
	}
	m.log.Info("session expired", zap.String(logger.FieldSession, s.ID), zap.String(logger.FieldAccount, s.Account))
	m.publish(Event{Type: EventDisconnected, PreviousID: s.ID, Account: s.Account})
}

// Sweep expires every session older than the ttl and returns how many
// were removed.
func (m *Manager) Sweep() int {
	if m.ttl <= 0 {
		return 0
	}
	m.mu.Lock()
	var stale []*Session
	for _, s := range m.sessions {
		if m.expired(s) {
			stale = append(stale, s)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		m.expire(s)
	}
	return len(stale)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.log.Debug("sessions swept", zap.Int("count", n))
			}
		case <-ctx.Done():
			return
		}
	}
}

// AccountsChanged handles the provider's account-change notification for
// session id. The old session is invalidated; a new one is resolved for the
// first account, or none when the list is empty. Reporting the same account
// again keeps the current session. When the new account cannot be resolved
// the old session is still invalidated.
func (m *Manager) AccountsChanged(ctx context.Context, id string, accounts []string) (*Session, error) {
	old, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	next := ""
	if len(accounts) > 0 {
		next = strings.TrimSpace(accounts[0])
	}
	if next != "" && strings.EqualFold(next, old.Account) {
		return old, nil
	}

	if next == "" {
		if !m.remove(old) {
			return nil, nil
		}
		m.log.Info("account disconnected", zap.String(logger.FieldSession, old.ID))
		m.publish(Event{Type: EventDisconnected, PreviousID: old.ID, Account: old.Account})
		return nil, nil
	}

	s, err := m.resolver.Resolve(ctx, next)
	if err != nil {
		if m.remove(old) {
			m.log.Warn("account change failed, session closed",
				zap.String(logger.FieldSession, old.ID),
				zap.String(logger.FieldAccount, next),
				zap.Error(err))
			m.publish(Event{Type: EventDisconnected, PreviousID: old.ID, Account: old.Account})
		}
		return nil, err
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.remove(old)

	m.log.Info("account changed",
		zap.String(logger.FieldSession, s.ID),
		zap.String("previous_session_id", old.ID),
		zap.String(logger.FieldAccount, s.Account))
	m.publish(Event{Type: EventChanged, SessionID: s.ID, PreviousID: old.ID, Account: s.Account, Role: s.Role()})
	return s, nil
}

// Retry re-runs role and roster resolution for a session left loading.
func (m *Manager) Retry(ctx context.Context, id string) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if s.State() == StateLoading {
		m.resolver.load(ctx, s)
	}
	return s, nil
}

// Disconnect tears down session id.
func (m *Manager) Disconnect(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if m.remove(s) {
		m.publish(Event{Type: EventDisconnected, PreviousID: s.ID, Account: s.Account})
	}
	return nil
}

// remove closes s and reports whether it was still registered.
func (m *Manager) remove(s *Session) bool {
	m.mu.Lock()
	_, ok := m.sessions[s.ID]
	delete(m.sessions, s.ID)
	m.mu.Unlock()
	s.close()
	return ok
}

// Subscribe returns a channel of lifecycle events and a cancel func. Events
// are dropped for subscribers whose buffer is full.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}

func (m *Manager) publish(evt Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- evt:
		default:
			m.log.Warn("session event dropped", zap.String("event", string(evt.Type)))
		}
	}
}
