package session

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"meetrec-server/pkg/capture"
	"meetrec-server/pkg/errors"
)

// Manager tracks active and completed recording sessions. One session
// records at a time: meeting capture owns the audio devices exclusively.
type Manager struct {
	logger   *logrus.Logger
	sessions map[string]*Session
	activeID string
	mutex    sync.RWMutex
}

// NewManager creates an empty session manager
func NewManager(logger *logrus.Logger) *Manager {
	return &Manager{
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Start creates and starts a new session. Fails if another session is
// already recording.
func (m *Manager) Start(ctx context.Context, config Config, mic, system capture.CaptureSource, comps Components) (*Session, error) {
	m.mutex.Lock()
	if m.activeID != "" {
		active := m.activeID
		m.mutex.Unlock()
		return nil, errors.Wrap(errors.ErrSessionAlreadyExist, "another session is recording").
			WithField("active_session_id", active)
	}

	s := New(m.logger, config, mic, system, comps)
	m.sessions[s.ID()] = s
	m.activeID = s.ID()
	m.mutex.Unlock()

	if err := s.Start(ctx); err != nil {
		m.mutex.Lock()
		m.activeID = ""
		delete(m.sessions, s.ID())
		m.mutex.Unlock()
		return nil, err
	}
	return s, nil
}

// Stop ends the session with the given ID
func (m *Manager) Stop(ctx context.Context, id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}

	if err := s.Stop(ctx); err != nil {
		return err
	}

	m.mutex.Lock()
	if m.activeID == id {
		m.activeID = ""
	}
	m.mutex.Unlock()
	return nil
}

// Get returns the session with the given ID
func (m *Manager) Get(id string) (*Session, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.Wrap(errors.ErrSessionNotFound, "unknown session").
			WithField("session_id", id)
	}
	return s, nil
}

// Active returns the currently recording session, or nil
func (m *Manager) Active() *Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if m.activeID == "" {
		return nil
	}
	return m.sessions[m.activeID]
}

// StopAll ends any active session, used during service shutdown
func (m *Manager) StopAll(ctx context.Context) {
	active := m.Active()
	if active == nil {
		return
	}

	if err := m.Stop(ctx, active.ID()); err != nil {
		m.logger.WithError(err).WithField("session_id", active.ID()).
			Error("Failed to stop session during shutdown")
	}
}

// Count returns the number of tracked sessions
func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}
