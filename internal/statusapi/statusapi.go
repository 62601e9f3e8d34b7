// Package statusapi serves a read-only localhost diagnostics endpoint:
// session counters as JSON, optionally streamed over a websocket.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/wayrdp/wayrdp/internal/logging"
	"github.com/wayrdp/wayrdp/internal/session"
)

var log = logging.L("statusapi")

// snapshotInterval paces websocket pushes.
const snapshotInterval = time.Second

// Status is the endpoint's full response document.
type Status struct {
	Time        time.Time                   `json:"time"`
	Sessions    map[string]session.Snapshot `json:"sessions"`
	CPUPercent  float64                     `json:"cpuPercent"`
	RSSBytes    uint64                      `json:"rssBytes"`
	NumSessions int                         `json:"numSessions"`
}

// Server owns the HTTP listener.
type Server struct {
	addr    string
	manager *session.Manager
	proc    *process.Process

	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// New creates the status server. addr is a localhost host:port.
func New(addr string, manager *session.Manager) *Server {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("Process stats unavailable", "error", err)
	}
	return &Server{
		addr:    addr,
		manager: manager,
		proc:    proc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Run serves until ctx is cancelled. Bind failures are logged, not fatal:
// diagnostics never take the main service down.
func (s *Server) Run(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/status/ws", s.handleWS)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		log.Warn("Status endpoint unavailable", "addr", s.addr, "error", err)
		return
	}

	s.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("Status endpoint listening", "addr", s.addr)
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn("Status endpoint stopped", "error", err)
	}
}

func (s *Server) snapshot() Status {
	st := Status{
		Time:     time.Now(),
		Sessions: s.manager.Snapshots(),
	}
	st.NumSessions = len(st.Sessions)
	if s.proc != nil {
		if cpu, err := s.proc.CPUPercent(); err == nil {
			st.CPUPercent = cpu
		}
		if mem, err := s.proc.MemoryInfo(); err == nil && mem != nil {
			st.RSSBytes = mem.RSS
		}
	}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		log.Debug("Status write failed", "error", err)
	}
}

// handleWS pushes one snapshot per second until the peer disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Drain control frames so pings and close are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for range ticker.C {
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteJSON(s.snapshot()); err != nil {
			return
		}
	}
}
