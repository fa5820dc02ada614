// Package netutil contains a retrying TCP dialer.
package netutil

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/context"

	ttime "github.com/mailru/throw/pkg/util/time"
)

const DefaultLoopInterval = time.Millisecond * 50

var (
	ErrClosed   = errors.New("dialer owner has been gone")
	ErrAttempts = errors.New("dial attempts exhausted")
)

// Dialer contains options for connecting to an address.
type Dialer struct {
	// Network and Addr are destination credentials.
	Network, Addr string

	// Timeout is the maximum amount of time a dial will wait for a single
	// connect to complete.
	Timeout time.Duration

	// LoopTimeout is the maximum amount of time a dial loop will wait for a
	// successful established connection. It may fail earlier if Closed option
	// is set or ctx is done.
	LoopTimeout time.Duration

	// MaxAttempts limits the number of connect attempts. Zero means no limit.
	MaxAttempts int

	// LoopInterval is used to delay dial attempts between each other.
	LoopInterval time.Duration

	// MaxLoopInterval is the maximum delay before next attempt to connect is
	// prepared. Note that LoopInterval is used as initial delay, and could be
	// increased by every dial attempt up to MaxLoopInterval.
	MaxLoopInterval time.Duration

	// Closed signals that Dialer owner is closed forever and will never want
	// to dial again.
	Closed chan struct{}

	// OnAttempt will be called with every dial attempt error. Nil error means
	// that dial succeed.
	OnAttempt func(error)

	// NetDial could be set to override dial function. By default net.Dialer
	// is used.
	NetDial func(ctx context.Context, network, addr string) (net.Conn, error)

	// Logf could be set to receive log messages from Dialer.
	Logf   func(string, ...interface{})
	Debugf func(string, ...interface{})
}

// Dial tries to connect until some of events occur:
// - successful connect;
// - ctx is cancelled;
// - dialer owner is closed;
// - MaxAttempts reached (if set);
// - loop timeout exceeded (if set).
//
// When attempts are exhausted the last dial error is returned wrapped with
// ErrAttempts.
func (d *Dialer) Dial(ctx context.Context) (conn net.Conn, err error) {
	var (
		maxInterval = d.MaxLoopInterval
		step        = d.LoopInterval
	)

	if step == 0 {
		step = DefaultLoopInterval
	}

	interval := step
	if maxInterval < interval {
		maxInterval = interval
	}

	if tm := d.LoopTimeout; tm != 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, tm)
		defer cancel()
	}

	var loopTimer *time.Timer

	for attempts := 1; ; attempts++ {
		d.debugf("dialing (%d)", attempts)

		conn, err = d.dial(ctx)
		if cb := d.OnAttempt; cb != nil {
			cb(err)
		}

		if err == nil {
			d.debugf("dial ok: local addr is %s", conn.LocalAddr().String())
			return conn, nil
		}

		if d.MaxAttempts > 0 && attempts >= d.MaxAttempts {
			d.logf("dial error: %v; no attempts left", err)
			return nil, errors.Wrapf(ErrAttempts, "%d attempt(s): %v", attempts, err)
		}

		if ctx.Err() != nil {
			d.logf("dial error: %v", err)
			return nil, ctx.Err()
		}

		d.logf("dial error: %v; delaying next attempt for %s", err, interval)

		if loopTimer == nil {
			loopTimer = ttime.AcquireTimer(interval)
			defer ttime.ReleaseTimer(loopTimer)
		} else {
			loopTimer.Reset(interval)
		}

		select {
		case <-loopTimer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.Closed:
			return nil, ErrClosed
		}

		interval += step
		if interval > maxInterval {
			interval = maxInterval
		}
	}
}

func (d *Dialer) dial(ctx context.Context) (net.Conn, error) {
	if tm := d.Timeout; tm != 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, tm)
		defer cancel()
	}

	netDial := d.NetDial
	if netDial == nil {
		netDial = defaultNetDial
	}

	return netDial(ctx, d.Network, d.Addr)
}

func (d *Dialer) logPrefix() string {
	return `dialer to "` + d.Network + `:` + d.Addr + `": `
}

func (d *Dialer) logf(fmt string, args ...interface{}) {
	if logf := d.Logf; logf != nil {
		logf(d.logPrefix()+fmt, args...)
	}
}

func (d *Dialer) debugf(fmt string, args ...interface{}) {
	if debugf := d.Debugf; debugf != nil {
		debugf(d.logPrefix()+fmt, args...)
	}
}

var emptyDialer net.Dialer

func defaultNetDial(ctx context.Context, network, addr string) (net.Conn, error) {
	return emptyDialer.DialContext(ctx, network, addr)
}
