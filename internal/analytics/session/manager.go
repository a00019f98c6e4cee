package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"paltabrain/sdk/internal/kv"
	"paltabrain/sdk/internal/logging"
)

const (
	StorageKey    = "paltaBrainSession"
	DefaultMaxAge = 5 * time.Minute

	EventStart = "session_start"
	EventEnd   = "session_end"
)

type Session struct {
	ID                 int64 `json:"id"`
	LastEventTimestamp int64 `json:"lastEventTimestamp"`
}

func newSession(id int64) Session {
	return Session{ID: id, LastEventTimestamp: id}
}

// EventLogger receives session_start and session_end notifications. It runs
// while the manager lock is held and must not call back into the Manager.
type EventLogger func(eventType string, sessionID, timestamp int64)

type AppStateProvider interface {
	InBackground() bool
}

type Manager struct {
	mu       sync.Mutex
	store    kv.Store
	current  *Session
	maxAge   time.Duration
	onEvent  EventLogger
	appState AppStateProvider
	now      func() time.Time
	log      logrus.FieldLogger
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithAppState(provider AppStateProvider) Option {
	return func(m *Manager) { m.appState = provider }
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(m *Manager) { m.log = logger }
}

func WithMaxAge(maxAge time.Duration) Option {
	return func(m *Manager) { m.maxAge = maxAge }
}

func NewManager(store kv.Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		maxAge: DefaultMaxAge,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = logging.OrStandard(m.log).WithField("component", "session")
	return m
}

func (m *Manager) SetEventLogger(logger EventLogger) {
	m.mu.Lock()
	m.onEvent = logger
	m.mu.Unlock()
}

func (m *Manager) SetMaxSessionAge(maxAge time.Duration) {
	m.mu.Lock()
	m.maxAge = maxAge
	m.mu.Unlock()
}

func (m *Manager) MaxSessionAge() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxAge
}

func (m *Manager) SessionID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionLocked().ID
}

func (m *Manager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.sessionLocked()
}

// RefreshSession extends the current session to timestamp, or rotates to a
// new session when the current one has expired.
func (m *Manager) RefreshSession(timestamp int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.sessionLocked()
	if m.validLocked(*current) {
		current.LastEventTimestamp = timestamp
		m.saveLocked()
		return
	}
	m.startNewLocked()
}

func (m *Manager) StartNewSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startNewLocked()
}

func (m *Manager) SetSessionID(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := newSession(id)
	m.current = &session
	m.saveLocked()
}

// Start reloads the session unless the app is in the background.
func (m *Manager) Start() {
	if m.appState != nil && m.appState.InBackground() {
		return
	}
	m.OnBecomeActive()
}

func (m *Manager) OnBecomeActive() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if restored, ok := m.restoreLocked(); ok {
		m.current = &restored
		m.saveLocked()
		return
	}
	m.createLocked()
}

func (m *Manager) sessionLocked() *Session {
	if m.current == nil {
		if restored, ok := m.restoreLocked(); ok {
			m.current = &restored
		} else {
			m.createLocked()
		}
	}
	return m.current
}

func (m *Manager) startNewLocked() {
	if current := m.current; current != nil {
		m.emitLocked(EventEnd, current.ID, current.LastEventTimestamp)
	} else if restored, ok := m.loadLocked(); ok {
		m.emitLocked(EventEnd, restored.ID, restored.LastEventTimestamp)
	}
	m.createLocked()
}

func (m *Manager) createLocked() {
	timestamp := m.now().UnixMilli()
	session := newSession(timestamp)
	m.current = &session
	m.emitLocked(EventStart, session.ID, timestamp)
	m.saveLocked()
}

func (m *Manager) emitLocked(eventType string, sessionID, timestamp int64) {
	if m.onEvent != nil {
		m.onEvent(eventType, sessionID, timestamp)
	}
}

func (m *Manager) validLocked(session Session) bool {
	return m.now().UnixMilli()-session.LastEventTimestamp < m.maxAge.Milliseconds()
}

func (m *Manager) restoreLocked() (Session, bool) {
	session, ok := m.loadLocked()
	if !ok || !m.validLocked(session) {
		return Session{}, false
	}
	return session, true
}

func (m *Manager) loadLocked() (Session, bool) {
	var session Session
	found, err := m.store.Get(context.Background(), StorageKey, &session)
	if err != nil {
		m.log.WithError(err).Warn("session restore failed")
		return Session{}, false
	}
	return session, found
}

func (m *Manager) saveLocked() {
	if m.current == nil {
		return
	}
	if err := m.store.Set(context.Background(), StorageKey, m.current); err != nil {
		m.log.WithError(err).WithField("session_id", m.current.ID).Warn("session persist failed")
	}
}
