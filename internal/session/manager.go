package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voxalabs/voice-agent/internal/observability"
)

// Manager tracks live and recently disconnected sessions. A dropped client
// keeps its conversation for a grace period and can resume it by reconnecting
// with the same session id.
type Manager struct {
	grace time.Duration
	log   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*managed
}

type managed struct {
	sess       *Session
	detachedAt time.Time // zero while a connection is attached
}

// NewManager creates a manager retaining detached sessions for grace.
func NewManager(grace time.Duration, log zerolog.Logger) *Manager {
	return &Manager{
		grace:    grace,
		log:      log,
		sessions: make(map[string]*managed),
	}
}

// Register adds a freshly connected session.
func (m *Manager) Register(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID()] = &managed{sess: s}
}

// Resume reattaches conn to a known session. Returns false when the id is
// unknown, expired, or still attached to a live connection: a second client
// presenting the same id must not take over someone else's session.
func (m *Manager) Resume(id string, conn *websocket.Conn) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	if entry.detachedAt.IsZero() {
		return nil, false
	}
	if time.Since(entry.detachedAt) > m.grace {
		delete(m.sessions, id)
		return nil, false
	}
	entry.sess.attach(conn)
	entry.detachedAt = time.Time{}
	return entry.sess, true
}

// Detach marks a session's connection as gone, starting its grace timer.
func (m *Manager) Detach(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.sessions[id]; ok {
		entry.detachedAt = time.Now()
	}
}

// Rename moves a session to a new id after new_session.
func (m *Manager) Rename(oldID, newID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.sessions[oldID]; ok {
		delete(m.sessions, oldID)
		m.sessions[newID] = entry
	}
}

// Remove drops a session immediately.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Len returns the number of tracked sessions, attached or detached.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StartSweep evicts expired detached sessions until ctx ends.
func (m *Manager) StartSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, entry := range m.sessions {
		if !entry.detachedAt.IsZero() && time.Since(entry.detachedAt) > m.grace {
			m.log.Debug().Str("session_id", id).Msg("Evicting expired session")
			delete(m.sessions, id)
		}
	}
}

// Handler upgrades /ws/voice connections and runs the session loop. A
// session_id query parameter resumes a recently disconnected conversation.
func Handler(deps Deps, manager *Manager, log zerolog.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Browser clients connect from arbitrary dev origins; auth is an
		// external concern.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Msg("WebSocket upgrade failed")
			return
		}
		defer conn.Close()

		if id := r.URL.Query().Get("session_id"); id != "" {
			if sess, ok := manager.Resume(id, conn); ok {
				sess.log.Info().Msg("Session resumed")
				sess.Run(r.Context())
				manager.Detach(sess.ID())
				return
			}
		}

		id := uuid.NewString()
		slog := observability.SessionLogger(id)
		sess := NewSession(id, conn, deps, manager, slog)
		manager.Register(sess)
		slog.Info().Msg("Session connected")

		sess.Run(r.Context())
		manager.Detach(sess.ID())
		slog.Info().Msg("Session disconnected")
	}
}
