package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sjin4861/deepcatch-agent/internal/aispeech"
	"github.com/sjin4861/deepcatch-agent/internal/callstore"
	"github.com/sjin4861/deepcatch-agent/internal/config"
	"github.com/sjin4861/deepcatch-agent/internal/metrics"
)

// AIDialer opens the AI-side connection for a new session. Production wires
// this to aispeech.Dial; tests substitute a fake.
type AIDialer func(ctx context.Context, callbacks aispeech.Callbacks) (SpeechConn, error)

// Manager owns all live bridge sessions, keyed by call SID.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	cfg     config.BridgeConfig
	aiRate  int
	aiDial  AIDialer
	store   *callstore.Store
	metrics *metrics.Metrics
	logger  *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a bridge manager and starts its stale-session reaper.
func NewManager(cfg config.BridgeConfig, aiRate int, aiDial AIDialer,
	store *callstore.Store, m *metrics.Metrics, logger *slog.Logger) *Manager {

	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		aiRate:   aiRate,
		aiDial:   aiDial,
		store:    store,
		metrics:  m,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	go mgr.cleanupRoutine()

	return mgr
}

// CreateSession bridges a newly connected telephony leg. It dials the AI
// side first; if that fails the telephony connection is closed and no
// session exists.
func (m *Manager) CreateSession(ctx context.Context, callSID string, tconn TelephonyConn) (*Session, error) {
	m.mu.Lock()
	if existing, exists := m.sessions[callSID]; exists {
		m.mu.Unlock()
		m.logger.Warn("bridge session already exists",
			slog.String("call_sid", callSID),
			slog.String("session_id", existing.ID))
		_ = tconn.Close()
		return nil, fmt.Errorf("bridge session for call %s already exists", callSID)
	}
	m.mu.Unlock()

	session := newSession(callSID, tconn, m.store, m.cfg, m.aiRate, m.metrics, m.logger)

	ai, err := m.aiDial(ctx, session.aiCallbacks())
	if err != nil {
		_ = tconn.Close()
		return nil, &BridgeError{Leg: LegAI, Err: err}
	}
	session.ai = ai

	// a concurrent connection for the same call may have registered while
	// the AI dial was in flight; re-check under the lock that inserts
	m.mu.Lock()
	if existing, exists := m.sessions[callSID]; exists {
		m.mu.Unlock()
		m.logger.Warn("bridge session already exists",
			slog.String("call_sid", callSID),
			slog.String("session_id", existing.ID))
		_ = tconn.Close()
		_ = ai.Close()
		return nil, fmt.Errorf("bridge session for call %s already exists", callSID)
	}
	m.sessions[callSID] = session
	m.mu.Unlock()

	m.metrics.RecordBridgeCreated()
	session.start()

	m.logger.Info("bridge session created",
		slog.String("session_id", session.ID),
		slog.String("call_sid", callSID))

	// reap the registry entry once the session ends
	go func() {
		<-session.Done()
		m.RemoveSession(callSID)
	}()

	return session, nil
}

// GetSession returns the live session for a call, if any.
func (m *Manager) GetSession(callSID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, exists := m.sessions[callSID]
	return session, exists
}

// ActiveSessionCount returns the number of registered sessions.
func (m *Manager) ActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// RemoveSession closes and unregisters a session. Returns false when no
// session exists for the call.
func (m *Manager) RemoveSession(callSID string) bool {
	m.mu.Lock()
	session, exists := m.sessions[callSID]
	if exists {
		delete(m.sessions, callSID)
	}
	m.mu.Unlock()

	if !exists {
		return false
	}
	session.Close()
	return true
}

// Stop closes every session and stops the reaper.
func (m *Manager) Stop() {
	m.logger.Info("stopping bridge manager")

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	for _, s := range sessions {
		s.wait()
	}

	m.cancel()
	<-m.cleanup

	m.logger.Info("bridge manager stopped",
		slog.Int("closed_sessions", len(sessions)))
}

func (m *Manager) cleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.reapStaleSessions()
		}
	}
}

// reapStaleSessions closes sessions with no media activity for longer than
// the configured stale timeout. Guards against carrier legs that die without
// a stop event.
func (m *Manager) reapStaleSessions() {
	cutoff := time.Now().Add(-m.cfg.GetStaleTimeoutDuration())

	m.mu.RLock()
	var stale []string
	for callSID, session := range m.sessions {
		if session.idleSince().Before(cutoff) {
			stale = append(stale, callSID)
		}
	}
	m.mu.RUnlock()

	for _, callSID := range stale {
		m.logger.Warn("reaping stale bridge session",
			slog.String("call_sid", callSID))
		m.RemoveSession(callSID)
	}
}
