package throw

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/context"

	ttime "github.com/mailru/throw/pkg/util/time"
)

// Listen creates listening TCP socket on host:port with SO_REUSEADDR set.
// Port 0 picks a free port.
func Listen(ctx context.Context, host string, port int) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	return lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
}

// Server contains options for serving throw connections.
type Server struct {
	// SessionConfig is used to initialize new Session on every incoming
	// connection.
	SessionConfig *SessionConfig

	// Manager tracks running sessions. If nil, new one is created on first
	// use.
	Manager *SessionManager

	// Log is used for write errors in serve process.
	Log Logger

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	done      chan struct{}
	shutdown  int32
}

// doneChan returns channel that is closed by Shutdown.
func (s *Server) doneChan() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done == nil {
		s.done = make(chan struct{})
	}

	return s.done
}

func (s *Server) manager() *SessionManager {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Manager == nil {
		s.Manager = NewSessionManager()
	}

	return s.Manager
}

func (s *Server) logger() Logger {
	if s.Log != nil {
		return s.Log
	}

	return DefaultLogger{}
}

// Accept accepts one pending connection from ln and starts a session on it.
// Returned session runs concurrently with other sessions of the server.
func (s *Server) Accept(ctx context.Context, ln net.Listener) (*Session, error) {
	conn, err := ln.Accept()
	if err != nil {
		return nil, err
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	sess := NewSession(conn, s.SessionConfig)
	s.manager().Start(ctx, sess)

	return sess, nil
}

// Serve begins to accept connections from ln. Temporary accept errors are
// retried with growing delay; Shutdown and ctx interrupt the delay. It returns ErrServerClosed after Shutdown and
// ctx error when ctx is done. Running sessions are not waited for.
//
// Note that ln is closed when Serve returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if atomic.LoadInt32(&s.shutdown) == 1 {
		return ErrServerClosed
	}

	s.trackListener(ln, true)
	defer s.trackListener(ln, false)

	var (
		stop = make(chan struct{})
		wake = make(chan struct{})
		done = s.doneChan()
	)
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-done:
		case <-stop:
			return
		}

		close(wake)
	}()

	var (
		tempDelay time.Duration // how long to sleep on accept failure
		log       = s.logger()
	)

	for {
		_, err := s.Accept(ctx, ln)
		if err == nil {
			tempDelay = 0
			continue
		}

		if atomic.LoadInt32(&s.shutdown) == 1 {
			return ErrServerClosed
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		//nolint:staticcheck
		if ne, ok := err.(net.Error); ok && ne.Temporary() {
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}

			if max := 1 * time.Second; tempDelay > max {
				tempDelay = max
			}

			log.Printf(ctx, "throw: accept error: %v; retrying in %v", err, tempDelay)
			ttime.Sleep(tempDelay, wake)

			continue
		}

		return err
	}
}

// ListenAndServe creates listening socket on host:port and serves it.
func (s *Server) ListenAndServe(ctx context.Context, host string, port int) error {
	ln, err := Listen(ctx, host, port)
	if err != nil {
		return err
	}

	return s.Serve(ctx, ln)
}

// Shutdown stops accepting new connections, closes running sessions and
// waits for them to terminate or ctx to be done.
func (s *Server) Shutdown(ctx context.Context) error {
	done := s.doneChan()

	s.mu.Lock()
	if atomic.CompareAndSwapInt32(&s.shutdown, 0, 1) {
		close(done)
	}

	for ln := range s.listeners {
		_ = ln.Close()
	}
	s.mu.Unlock()

	m := s.manager()
	m.CloseAll()

	return m.Wait(ctx)
}

func (s *Server) trackListener(ln net.Listener, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if add {
		if s.listeners == nil {
			s.listeners = make(map[net.Listener]struct{})
		}

		s.listeners[ln] = struct{}{}

		return
	}

	delete(s.listeners, ln)
	_ = ln.Close()
}

// ListenAndServe listens on host:port and serves throw connections with h.
// Nil h means DefaultServeMux.
func ListenAndServe(ctx context.Context, host string, port int, h Handler) error {
	if h == nil {
		h = DefaultServeMux
	}

	s := &Server{
		SessionConfig: &SessionConfig{
			Handler: h,
		},
	}

	return s.ListenAndServe(ctx, host, port)
}
