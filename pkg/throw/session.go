package throw

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
	"golang.org/x/time/rate"

	pbufio "github.com/mailru/throw/pkg/util/bufio"
	wio "github.com/mailru/throw/pkg/util/io"
)

// State is a position of a session in its receive, dispatch, respond loop.
type State int32

const (
	StateAwaitHeader State = iota
	StateAwaitPayload
	StateDispatch
	StateRespond
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitHeader:
		return "await_header"
	case StateAwaitPayload:
		return "await_payload"
	case StateDispatch:
		return "dispatch"
	case StateRespond:
		return "respond"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

var (
	aLongTimeAgo = time.Unix(1, 0)

	lastSessionID uint64
)

// Session serves one accepted connection: it reads a request, passes it to
// the handler and writes the response, strictly one message at a time.
type Session struct {
	id     uint64
	conn   net.Conn
	config SessionConfig

	limiter *rate.Limiter

	state   int32
	served  int32
	closing int32

	mu   sync.Mutex
	err  error
	done chan struct{}

	stats SessionStats
}

// NewSession prepares session for conn. Call Serve to run it.
func NewSession(conn net.Conn, config *SessionConfig) *Session {
	c := config.withDefaults()
	c.Logger = prefixLogger{
		connPrefix(conn),
		c.Logger,
	}

	s := &Session{
		id:     atomic.AddUint64(&lastSessionID, 1),
		conn:   conn,
		config: c,
		done:   make(chan struct{}),
	}

	if c.RateLimit > 0 {
		s.limiter = rate.NewLimiter(c.RateLimit, c.RateBurst)
	}

	return s
}

func (s *Session) ID() uint64 { return s.id }

// RemoteAddr returns remote network address of the underlying connection.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// LocalAddr returns local network address of the underlying connection.
func (s *Session) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Done returns channel that is closed when session is terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() State { return State(atomic.LoadInt32(&s.state)) }

func (s *Session) Stats() SessionStats { return s.stats.Copy() }

// Err returns error that terminated the session. It is nil while session is
// running and after clean termination.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Close closes the connection. Running Serve returns nil soon after.
func (s *Session) Close() {
	atomic.StoreInt32(&s.closing, 1)
	_ = s.conn.SetDeadline(aLongTimeAgo)
	_ = s.conn.Close()
}

// Serve runs the session loop until the peer disconnects, a message can not
// be decoded, the handler panics, ctx is done or Close is called. The
// connection is always closed when Serve returns.
//
// Peer disconnect on message boundary and Close give nil error.
func (s *Session) Serve(ctx context.Context) (err error) {
	if !atomic.CompareAndSwapInt32(&s.served, 0, 1) {
		return ErrSessionServed
	}

	ctx = WithLogFields(ctx, logrus.Fields{"session": s.id})
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		<-ctx.Done()
		_ = s.conn.SetDeadline(aLongTimeAgo)
	}()

	s.config.Metric.StatCount(ctx, MetricSessionAccept, 1)
	s.config.Logger.Debugf(ctx, "session started")

	defer func() {
		cause := ctx.Err()
		cancel()
		s.finish(ctx, err, cause)
		err = s.Err()
	}()

	return s.loop(ctx)
}

func (s *Session) loop(ctx context.Context) error {
	var (
		src io.Reader = s.conn
		dst io.Writer = s.conn
	)

	if tm := s.config.ReadTimeout; tm > 0 {
		src = wio.TimeoutReader{Dest: s.conn, Timeout: tm}
	}

	if tm := s.config.WriteTimeout; tm > 0 {
		dst = wio.TimeoutWriter{Dest: s.conn, Timeout: tm}
	}

	rcounter := wio.WrapReader(src)
	wcounter := wio.WrapWriter(dst)

	bufSize := s.config.ReadBufferSize
	buf := pbufio.AcquireReaderSize(rcounter, bufSize)

	defer pbufio.ReleaseReader(buf, bufSize)

	in := StreamReader{
		Source:    buf,
		SizeLimit: s.config.SizeLimit,
		Alloc:     s.config.BytePool.Get,
	}
	out := StreamWriter{
		Dest:   wcounter,
		Policy: s.config.CommandPolicy,
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.setState(StateAwaitHeader)

		h, err := in.ReadHeader()
		if err == ErrConnectionClosed {
			s.config.Logger.Debugf(ctx, "closed by peer")
			return nil
		}

		if err != nil {
			s.config.Metric.ErrorCount(ctx, MetricDecode, 1)
			return errors.Wrap(err, "receive header")
		}

		t, err := s.receivePayload(ctx, &in, h)
		if err != nil {
			s.config.Metric.ErrorCount(ctx, MetricDecode, 1)
			return errors.Wrapf(err, "receive payload of %s", h)
		}

		atomic.AddUint64(&s.stats.MessagesReceived, 1)
		atomic.StoreUint64(&s.stats.BytesReceived, rcounter.Stat().Bytes)
		s.config.Metric.StatCount(ctx, MetricRequest, 1)

		if s.limiter != nil {
			if err = s.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		s.setState(StateDispatch)

		cmd, resp, err := s.dispatch(ctx, h, t)
		if err != nil {
			return err
		}

		s.setState(StateRespond)

		m, err := NewMessage(cmd, resp)
		if err == nil {
			err = out.WriteMessage(m)
		}

		if err != nil {
			s.config.Metric.ErrorCount(ctx, MetricEncode, 1)
			return errors.Wrapf(err, "send response %q", cmd)
		}

		atomic.AddUint64(&s.stats.MessagesSent, 1)
		atomic.StoreUint64(&s.stats.BytesSent, wcounter.Stat().Bytes)
		s.config.Metric.StatCount(ctx, MetricResponsePayload, float64(len(m.Payload)))
	}
}

func (s *Session) receivePayload(ctx context.Context, in *StreamReader, h Header) (*Tensor, error) {
	if h.PayloadSize() == 0 {
		return nil, nil
	}

	s.setState(StateAwaitPayload)

	p, err := in.ReadPayload(h)
	if err != nil {
		return nil, err
	}

	defer s.config.BytePool.Put(p)

	s.config.Metric.StatCount(ctx, MetricRequestPayload, float64(len(p)))

	mode := s.config.ImageShortcut
	if h.IsImage() && mode != ImageShortcutOff {
		atomic.AddUint64(&s.stats.Images, 1)
	}

	return DecodePayload(h, p, s.config.ImageCodec, mode)
}

func (s *Session) dispatch(ctx context.Context, h Header, t *Tensor) (cmd string, resp *Tensor, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.config.Metric.ErrorCount(ctx, MetricHandlerPanic, 1)
			err = errors.Wrapf(ErrHandlerPanic, "serving %s: %v\n%s", h, r, stack())
		}
	}()

	start := time.Now()
	cmd, resp = s.config.Handler.ServeThrow(ctx, h, t)
	s.config.Metric.Timing(ctx, MetricDispatch, time.Since(start))

	return cmd, resp, nil
}

func (s *Session) finish(ctx context.Context, err, cause error) {
	s.setState(StateClosed)
	_ = s.conn.Close()

	switch {
	case atomic.LoadInt32(&s.closing) == 1:
		// Closed locally; errors are consequences of that.
		err = nil
	case err != nil && cause != nil:
		err = cause
	}

	if err != nil {
		atomic.AddUint64(&s.stats.Errors, 1)
		s.config.Metric.ErrorCount(ctx, MetricSessionClose, 1)
		s.config.Logger.Printf(ctx, "session terminated: %v", err)
	} else {
		s.config.Metric.StatCount(ctx, MetricSessionClose, 1)
		s.config.Logger.Debugf(ctx, "session closed")
	}

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	close(s.done)
}

func (s *Session) setState(st State) {
	atomic.StoreInt32(&s.state, int32(st))
}
