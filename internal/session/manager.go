package session

import (
	"context"
	"net"
	"sync"

	"github.com/wayrdp/wayrdp/internal/config"
	"github.com/wayrdp/wayrdp/internal/logging"
	"github.com/wayrdp/wayrdp/internal/rdp"
)

var log = logging.L("session")

// Manager tracks live sessions. Per-session faults stay contained: a
// failed session is removed and the listener keeps serving.
type Manager struct {
	cfg *config.Config

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(cfg *config.Config) *Manager {
	return &Manager{cfg: cfg, sessions: make(map[string]*Session)}
}

// Hooks is the rdp.HooksFactory for the server: one session per accepted
// connection.
func (m *Manager) Hooks(ctx context.Context, remote net.Addr) (rdp.Hooks, func(), error) {
	s, err := New(ctx, m.cfg)
	if err != nil {
		log.Error("Session setup failed", "remote", remote, "error", err)
		return rdp.Hooks{}, nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	cleanup := func() {
		m.mu.Lock()
		delete(m.sessions, s.ID())
		m.mu.Unlock()
		s.Close()
	}
	return rdp.Hooks{Input: s, Display: s, Clipboard: s}, cleanup, nil
}

// Snapshots returns per-session metric snapshots keyed by session ID.
func (m *Manager) Snapshots() map[string]Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Snapshot, len(m.sessions))
	for id, s := range m.sessions {
		out[id] = s.Metrics().Snapshot()
	}
	return out
}

// StopAll tears down every live session.
func (m *Manager) StopAll() {
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
}
