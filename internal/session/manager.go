package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const cleanupInterval = 30 * time.Second

// Manager tracks every live call session and evicts ones whose media stream
// went silent without a proper stop event.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
	timeout  time.Duration
	maxCalls int

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a session manager. Sessions inactive longer than
// timeout are ended by a background cleanup routine. maxCalls caps the
// number of concurrent sessions; zero means unlimited.
func NewManager(logger *slog.Logger, timeout time.Duration, maxCalls int) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions: make(map[string]*Session),
		logger:   logger,
		timeout:  timeout,
		maxCalls: maxCalls,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr
}

// Add registers a started session under its stream ID. Exactly one session
// may exist per live stream.
func (m *Manager) Add(streamID string, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[streamID]; exists {
		return fmt.Errorf("session already exists for stream %s", streamID)
	}
	if m.maxCalls > 0 && len(m.sessions) >= m.maxCalls {
		return fmt.Errorf("concurrent call limit reached (%d)", m.maxCalls)
	}

	m.sessions[streamID] = session

	m.logger.Info("Session registered",
		slog.String("stream_id", streamID),
		slog.Int("active_sessions", len(m.sessions)),
	)

	return nil
}

// Get retrieves a live session by stream ID.
func (m *Manager) Get(streamID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[streamID]
	return session, exists
}

// Remove ends a session and drops it from the manager.
func (m *Manager) Remove(streamID string) bool {
	m.mu.Lock()
	session, exists := m.sessions[streamID]
	if exists {
		delete(m.sessions, streamID)
	}
	m.mu.Unlock()

	if !exists {
		return false
	}

	session.Stop()

	m.logger.Info("Session removed",
		slog.String("stream_id", streamID),
		slog.Duration("duration", time.Since(session.Snapshot().StartTime)),
	)

	return true
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Snapshots returns monitoring info for every live session.
func (m *Manager) Snapshots() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.sessions))
	for _, session := range m.sessions {
		infos = append(infos, session.Snapshot())
	}
	return infos
}

// Stop ends every session and shuts down the cleanup routine.
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	m.mu.Lock()
	for streamID, session := range m.sessions {
		session.Stop()
		delete(m.sessions, streamID)
	}
	m.mu.Unlock()

	m.cancel()
	<-m.cleanup

	m.logger.Info("Session manager stopped")
}

func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	m.logger.Info("Session cleanup routine started",
		slog.Duration("timeout", m.timeout),
		slog.Duration("check_interval", cleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Session cleanup routine stopping")
			return

		case <-ticker.C:
			m.cleanupStaleSessions()
		}
	}
}

// cleanupStaleSessions ends sessions whose media stream stopped delivering
// frames without sending a stop event.
func (m *Manager) cleanupStaleSessions() {
	now := time.Now()
	stale := make([]string, 0)

	m.mu.RLock()
	for streamID, session := range m.sessions {
		if now.Sub(session.LastActivity()) > m.timeout {
			stale = append(stale, streamID)
		}
	}
	m.mu.RUnlock()

	for _, streamID := range stale {
		m.logger.Warn("Ending stale session", slog.String("stream_id", streamID))
		m.Remove(streamID)
	}
}
