package rpc

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/mod/semver"
)

// ProtocolVersion is this daemon's JSON-RPC/MCP protocol version.
// checkVersionCompatibility below compares a client version with it by
// major version; the MCP initialize handshake does not call it.
const ProtocolVersion = "v1.0.0"

// maxConcurrentConns bounds how many client connections the daemon
// serves at once; additional dials block in the listener's accept
// queue rather than being refused outright.
const maxConcurrentConns = 64

// Server owns the daemon's socket lifecycle: binding, the accept loop,
// a semaphore capping concurrent connections, and handing each
// connection's framed messages to a Dispatcher.
type Server struct {
	dispatcher *Dispatcher
	listener   net.Listener
	tlsConfig  *tls.Config

	mu       sync.RWMutex
	sem      chan struct{}
	activeConns int32

	connIDSeq atomic.Int64
}

// NewServer binds a Unix socket at socketPath and returns a Server ready
// to Serve.
func NewServer(socketPath string, dispatcher *Dispatcher) (*Server, error) {
	if _, err := EnsureSocketDir(socketPath); err != nil {
		return nil, fmt.Errorf("ensure socket directory: %w", err)
	}
	_ = CleanupSocketDir(socketPath)

	ln, err := listenRPC(socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	return &Server{
		dispatcher: dispatcher,
		listener:   ln,
		sem:        make(chan struct{}, maxConcurrentConns),
	}, nil
}

// Serve runs the accept loop until ctx is canceled or the listener is
// closed. Each accepted connection is handled in its own goroutine,
// gated by the connection semaphore.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept connection: %w", err)
			}
		}

		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			conn.Close()
			return nil
		}

		atomic.AddInt32(&s.activeConns, 1)
		connID := fmt.Sprintf("conn-%d", s.connIDSeq.Add(1))
		go func() {
			defer func() {
				<-s.sem
				atomic.AddInt32(&s.activeConns, -1)
			}()
			s.handleConnection(ctx, connID, conn)
		}()
	}
}

func (s *Server) handleConnection(ctx context.Context, connID string, conn net.Conn) {
	defer conn.Close()
	defer s.dispatcher.sess.DropPending(connID)

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			resp := s.dispatcher.HandleMessage(ctx, connID, line)
			if resp != nil {
				resp = append(resp, '\n')
				if _, werr := conn.Write(resp); werr != nil {
					slog.Warn("rpc write failed", "conn", connID, "error", werr)
					return
				}
			}
		}
		if err != nil {
			if err.Error() != "EOF" {
				slog.Debug("rpc connection closed", "conn", connID, "error", err)
			}
			return
		}
	}
}

// ActiveConnections reports the current connection count, for the
// daemon's health/status surface.
func (s *Server) ActiveConnections() int32 {
	return atomic.LoadInt32(&s.activeConns)
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}

// checkVersionCompatibility reports whether a client's protocol version
// is usable against this daemon: major versions must match exactly,
// minor/patch drift is tolerated since the protocol is additive within
// a major version.
func checkVersionCompatibility(clientVersion string) error {
	if !semver.IsValid(clientVersion) {
		return fmt.Errorf("invalid client protocol version %q", clientVersion)
	}
	if semver.Major(clientVersion) != semver.Major(ProtocolVersion) {
		return fmt.Errorf("client protocol version %s is incompatible with daemon version %s",
			clientVersion, ProtocolVersion)
	}
	return nil
}
