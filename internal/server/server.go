// Package server implements the WebSocket protocol server the dashboard
// connects to.
package server

import (
	"errors"
	"net"
	"net/http"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/flare-profiler/flare/internal/profiler"
)

// Subprotocol is the WebSocket subprotocol a client must offer at upgrade
// time. Upgrades that do not offer it are rejected.
const Subprotocol = "flare-profiler"

// Server accepts WebSocket upgrades and runs one connection handler per
// accepted connection.
type Server struct {
	coord    *profiler.Coordinator
	bindAddr string
	logger   zerolog.Logger

	upgrader   websocket.Upgrader
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// New creates a protocol server bound to the coordinator. The listener is
// not opened until Start.
func New(coord *profiler.Coordinator, bindAddr string, logger zerolog.Logger) *Server {
	s := &Server{
		coord:    coord,
		bindAddr: bindAddr,
		logger:   logger.With().Str("component", "protocol_server").Logger(),
		upgrader: websocket.Upgrader{
			Subprotocols: []string{Subprotocol},
			// The dashboard is a browser client on an arbitrary origin;
			// authentication of WS clients is out of scope.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.httpServer = &http.Server{Handler: http.HandlerFunc(s.handleUpgrade)}
	return s
}

// Start opens the listener and serves in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.bindAddr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info().Str("bind_addr", ln.Addr().String()).Msg("Flare profiler protocol server started")

	go func() {
		gated := &livenessListener{Listener: ln, coord: s.coord}
		err := s.httpServer.Serve(gated)
		if err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Protocol server stopped")
			return
		}
		s.logger.Info().Msg("Shutting down protocol server")
	}()

	return nil
}

// Addr returns the listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting connections. Connections already in progress are
// not interrupted (best-effort shutdown).
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	if ln == nil {
		return nil
	}
	return ln.Close()
}

// handleUpgrade negotiates the subprotocol and hands the connection to a
// handler. The HTTP server already runs each connection on its own
// goroutine.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !s.coord.Running() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	if !slices.Contains(websocket.Subprotocols(r), Subprotocol) {
		s.logger.Warn().
			Str("remote_addr", r.RemoteAddr).
			Strs("offered", websocket.Subprotocols(r)).
			Msg("Rejecting upgrade without the expected subprotocol")
		http.Error(w, "expected subprotocol "+Subprotocol, http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Upgrade failed")
		return
	}

	logger := s.logger.With().
		Str("conn_id", uuid.NewString()).
		Str("remote_addr", conn.RemoteAddr().String()).
		Logger()
	logger.Info().Msg("Connection accepted")

	h := newConnHandler(conn, s.coord, logger)
	h.run()
}

// livenessListener gates Accept on the coordinator's liveness flag: the
// check runs before each accept iteration, and a dead coordinator closes
// the listener.
type livenessListener struct {
	net.Listener
	coord *profiler.Coordinator
}

func (l *livenessListener) Accept() (net.Conn, error) {
	if !l.coord.Running() {
		_ = l.Listener.Close()
		return nil, net.ErrClosed
	}
	return l.Listener.Accept()
}
