package rdp

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"

	"golang.org/x/net/netutil"

	"github.com/wayrdp/wayrdp/internal/logging"
)

var log = logging.L("rdp")

// ErrNoEngine is returned when no protocol engine has been registered.
var ErrNoEngine = errors.New("rdp: no protocol engine registered")

var (
	engineMu      sync.Mutex
	engineFactory EngineFactory
)

// RegisterEngine installs the protocol engine factory. The engine is an
// external collaborator linked in at build time; exactly one registration
// wins (last registration is used).
func RegisterEngine(factory EngineFactory) {
	engineMu.Lock()
	defer engineMu.Unlock()
	engineFactory = factory
}

func newEngine() (Engine, error) {
	engineMu.Lock()
	factory := engineFactory
	engineMu.Unlock()
	if factory == nil {
		return nil, ErrNoEngine
	}
	return factory()
}

// HooksFactory builds the per-connection contract implementations. It is
// called once per accepted connection; the returned cleanup runs after the
// engine exits.
type HooksFactory func(ctx context.Context, remoteAddr net.Addr) (Hooks, func(), error)

// ServerConfig configures the TLS listener.
type ServerConfig struct {
	Addr           string
	TLS            *tls.Config
	MaxConnections int
}

// Server accepts RDP connections and runs one engine per connection.
// Per-connection faults are contained: a failed session never stops the
// listener.
type Server struct {
	cfg   ServerConfig
	hooks HooksFactory

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	closed   bool
}

// NewServer creates a server. hooks builds session contracts per connection.
func NewServer(cfg ServerConfig, hooks HooksFactory) *Server {
	return &Server{cfg: cfg, hooks: hooks}
}

// ListenAndServe binds the listener and serves until ctx is cancelled or
// Close is called. The bind error is returned directly so the caller can
// map it to an exit code.
func (s *Server) ListenAndServe(ctx context.Context) error {
	inner, err := tls.Listen("tcp", s.cfg.Addr, s.cfg.TLS)
	if err != nil {
		return err
	}

	ln := net.Listener(inner)
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return net.ErrClosed
	}
	s.listener = ln
	s.mu.Unlock()

	log.Info("Listening for RDP connections", "addr", s.cfg.Addr, "maxConnections", s.cfg.MaxConnections)

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			log.Warn("Accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// Close stops the listener and waits for in-flight connections to finish.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	s.wg.Wait()
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr()

	engine, err := newEngine()
	if err != nil {
		log.Error("Engine unavailable, dropping connection", "remote", remote, "error", err)
		return
	}

	hooks, cleanup, err := s.hooks(ctx, remote)
	if err != nil {
		log.Error("Session setup failed", "remote", remote, "error", err)
		return
	}
	defer cleanup()

	log.Info("Client connected", "remote", remote)
	if err := engine.Run(ctx, conn, hooks); err != nil && ctx.Err() == nil {
		log.Warn("Session ended with error", "remote", remote, "error", err)
		return
	}
	log.Info("Client disconnected", "remote", remote)
}
