package throw

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/context"

	"github.com/mailru/throw/pkg/netutil"
	wio "github.com/mailru/throw/pkg/util/io"
)

// Client is a synchronous throw client: it has at most one request in
// flight and waits for the whole response before the next request may be
// sent.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	config ClientConfig

	rcounter *wio.Reader
	wcounter *wio.Writer
	in       StreamReader
	out      StreamWriter

	broken error
	closed int32

	stats SessionStats
}

// Dial connects to host:port. Connect failures match ErrConnection.
func Dial(ctx context.Context, host string, port int, config *ClientConfig) (*Client, error) {
	c := config.withDefaults()

	d := netutil.Dialer{
		Network:      "tcp",
		Addr:         net.JoinHostPort(host, strconv.Itoa(port)),
		Timeout:      c.ConnectTimeout,
		LoopTimeout:  c.DialTimeout,
		MaxAttempts:  c.DialAttempts,
		LoopInterval: c.RedialInterval,
		Logf: func(f string, args ...interface{}) {
			c.Logger.Printf(ctx, f, args...)
		},
		Debugf: func(f string, args ...interface{}) {
			c.Logger.Debugf(ctx, f, args...)
		},
	}

	conn, err := d.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	return NewClient(conn, &c), nil
}

// NewClient returns client that talks over established conn.
func NewClient(conn net.Conn, config *ClientConfig) *Client {
	c := &Client{
		conn:   conn,
		config: config.withDefaults(),
	}

	c.config.Logger = prefixLogger{connPrefix(conn), c.config.Logger}

	var (
		src io.Reader = conn
		dst io.Writer = conn
	)

	if tm := c.config.ReadTimeout; tm > 0 {
		src = wio.TimeoutReader{Dest: conn, Timeout: tm}
	}

	if tm := c.config.WriteTimeout; tm > 0 {
		dst = wio.TimeoutWriter{Dest: conn, Timeout: tm}
	}

	c.rcounter = wio.WrapReader(src)
	c.wcounter = wio.WrapWriter(dst)

	c.in = StreamReader{
		Source:    c.rcounter,
		SizeLimit: c.config.SizeLimit,
		Alloc:     c.config.BytePool.Get,
	}
	c.out = StreamWriter{
		Dest:   c.wcounter,
		Policy: c.config.CommandPolicy,
	}

	return c
}

// SendMessage sends command with optional tensor and returns the response
// command and tensor.
func (c *Client) SendMessage(ctx context.Context, command string, t *Tensor) (string, *Tensor, error) {
	m, err := NewMessage(command, t)
	if err != nil {
		return "", nil, err
	}

	h, ret, err := c.Call(ctx, m)

	return h.Command, ret, err
}

// SendImage sends encoded image file under the image sentinel shape.
func (c *Client) SendImage(ctx context.Context, command string, encoded []byte) (string, *Tensor, error) {
	h, ret, err := c.Call(ctx, NewImageMessage(command, encoded))
	return h.Command, ret, err
}

// Call sends m and waits for the response.
//
// Any transport failure, peer disconnect or ctx cancellation leaves the
// stream out of sync: such client is broken and every further call fails
// with ErrClientBroken. A response payload that does not decode is reported
// without breaking the client.
func (c *Client) Call(ctx context.Context, m Message) (h Header, t *Tensor, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if atomic.LoadInt32(&c.closed) == 1 {
		return h, nil, ErrConnectionClosed
	}

	if c.broken != nil {
		return h, nil, fmt.Errorf("%w: %w", ErrClientBroken, c.broken)
	}

	if err = checkPayload(m); err != nil {
		return h, nil, err
	}

	if err = ctx.Err(); err != nil {
		return h, nil, err
	}

	start := time.Now()
	defer func() {
		c.config.Metric.Timing(ctx, MetricCall, time.Since(start))
	}()

	stop := c.watch(ctx)

	resp, err := c.roundTrip(m)

	// Make sure watcher will not touch the deadline after we return.
	stop()

	if err == nil && ctx.Err() != nil {
		// Response arrived before the watcher expired the deadline.
		_ = c.conn.SetDeadline(time.Time{})
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}

		c.broken = err
		atomic.AddUint64(&c.stats.Errors, 1)
		c.config.Metric.ErrorCount(ctx, MetricCall, 1)
		c.config.Logger.Printf(ctx, "call %q failed: %v", m.Header.Command, err)

		return h, nil, fmt.Errorf("%w: %w", ErrClientBroken, err)
	}

	defer c.config.BytePool.Put(resp.Payload)

	if resp.Header.IsImage() && c.config.ImageShortcut != ImageShortcutOff && resp.Header.PayloadSize() > 0 {
		atomic.AddUint64(&c.stats.Images, 1)
	}

	t, err = resp.Tensor(c.config.ImageCodec, c.config.ImageShortcut)
	if err != nil {
		c.config.Metric.ErrorCount(ctx, MetricDecode, 1)
		return resp.Header, nil, err
	}

	return resp.Header, t, nil
}

func (c *Client) roundTrip(m Message) (Message, error) {
	if err := c.out.WriteMessage(m); err != nil {
		return Message{}, err
	}

	atomic.AddUint64(&c.stats.MessagesSent, 1)
	atomic.StoreUint64(&c.stats.BytesSent, c.wcounter.Stat().Bytes)

	resp, err := c.in.ReadMessage()
	if err != nil {
		return Message{}, err
	}

	atomic.AddUint64(&c.stats.MessagesReceived, 1)
	atomic.StoreUint64(&c.stats.BytesReceived, c.rcounter.Stat().Bytes)

	return resp, nil
}

// watch expires connection deadlines when ctx is done. Returned function
// stops watching and returns after the watcher goroutine exits.
func (c *Client) watch(ctx context.Context) (stop func()) {
	if ctx.Done() == nil {
		return func() {}
	}

	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)

		select {
		case <-ctx.Done():
			_ = c.conn.SetDeadline(aLongTimeAgo)
		case <-done:
		}
	}()

	return func() {
		close(done)
		<-exited
	}
}

// Close closes the connection. Call that is in progress fails.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}

	return errors.Wrap(c.conn.Close(), "throw: close")
}

func (c *Client) Stats() SessionStats { return c.stats.Copy() }

// RemoteAddr returns remote network address of the underlying connection.
func (c *Client) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// LocalAddr returns local network address of the underlying connection.
func (c *Client) LocalAddr() net.Addr { return c.conn.LocalAddr() }
