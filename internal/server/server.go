// Package server accepts TCP connections and serves HTTP/1.x requests on
// them, one worker goroutine per connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// shutdownWriteTimeout bounds how long a response in flight may keep
// writing once shutdown has begun.
const shutdownWriteTimeout = 5 * time.Second

// ErrBind is returned by Listen when the address cannot be bound.
var ErrBind = errors.New("failed to bind listener")

type Server struct {
	addr     string
	handler  Handler
	logger   *slog.Logger
	ln       net.Listener
	stopping atomic.Bool
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup

	shutdownTimeout time.Duration
}

func New(addr string, handler Handler, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		handler: handler,
		logger:  logger,
		conns:   make(map[net.Conn]struct{}),

		shutdownTimeout: shutdownWriteTimeout,
	}
}

// Listen binds the listening socket. Bind failures wrap ErrBind.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("%w on %s: %w", ErrBind, s.addr, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until ctx is cancelled. It then stops
// accepting, lets in-flight responses finish, closes idle connections and
// returns once every worker has exited.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, s.shutdown)
	defer stop()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.stopping.Load() || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Warn("accept error", slog.String("error", err.Error()))
			time.Sleep(5 * time.Millisecond)
			continue
		}
		s.track(conn)
		s.wg.Add(1)
		go s.handle(conn)
	}

	s.wg.Wait()
	return nil
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	worker := NewWorker(conn, s.handler, s.logger, &s.stopping)
	worker.Start() // worker takes the ownership of |conn|
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// shutdown closes the listener and wakes workers blocked waiting for a
// request. Workers busy writing a response get shutdownTimeout to finish it.
func (s *Server) shutdown() {
	s.stopping.Store(true)
	s.ln.Close()

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.SetReadDeadline(now)
		conn.SetWriteDeadline(now.Add(s.shutdownTimeout))
	}
}
