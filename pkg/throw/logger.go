package throw

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

type Logger interface {
	Printf(ctx context.Context, fmt string, v ...interface{})
	Debugf(ctx context.Context, fmt string, v ...interface{})
}

type ctxKey uint8

const ctxLogFields ctxKey = iota

// WithLogFields returns context that makes DefaultLogger attach fields to
// every message logged with it. Fields already present in ctx are kept
// unless overwritten by fields.
func WithLogFields(ctx context.Context, fields logrus.Fields) context.Context {
	merged := make(logrus.Fields, len(fields))

	if prev, ok := ctx.Value(ctxLogFields).(logrus.Fields); ok {
		for k, v := range prev {
			merged[k] = v
		}
	}

	for k, v := range fields {
		merged[k] = v
	}

	return context.WithValue(ctx, ctxLogFields, merged)
}

// LogFields returns fields stored in ctx by WithLogFields.
func LogFields(ctx context.Context) logrus.Fields {
	f, _ := ctx.Value(ctxLogFields).(logrus.Fields)
	return f
}

// DefaultLogger implements Logger on top of logrus.
// Printf logs at info level, Debugf at debug level.
type DefaultLogger struct {
	// Entry is used as base entry. If nil, standard logrus logger is used.
	Entry *logrus.Entry
	// Prefix is prepended to every message.
	Prefix string
}

func (d DefaultLogger) entry(ctx context.Context) *logrus.Entry {
	e := d.Entry
	if e == nil {
		e = logrus.NewEntry(logrus.StandardLogger())
	}

	if ctx != nil {
		if f := LogFields(ctx); len(f) != 0 {
			e = e.WithFields(f)
		}
	}

	return e
}

func (d DefaultLogger) Printf(ctx context.Context, f string, args ...interface{}) {
	d.entry(ctx).Info(d.Prefix + fmt.Sprintf(f, args...))
}

func (d DefaultLogger) Debugf(ctx context.Context, f string, args ...interface{}) {
	d.entry(ctx).Debug(d.Prefix + fmt.Sprintf(f, args...))
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Printf(context.Context, string, ...interface{}) {}
func (NopLogger) Debugf(context.Context, string, ...interface{}) {}

type prefixLogger struct {
	prefix string
	logger Logger
}

func (p prefixLogger) Printf(ctx context.Context, f string, args ...interface{}) {
	p.logger.Printf(ctx, "%s", p.prefix+fmt.Sprintf(f, args...))
}

func (p prefixLogger) Debugf(ctx context.Context, f string, args ...interface{}) {
	p.logger.Debugf(ctx, "%s", p.prefix+fmt.Sprintf(f, args...))
}

type addressor interface {
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

func connPrefix(conn addressor) string {
	local, remote := conn.LocalAddr(), conn.RemoteAddr()
	if local == nil || remote == nil {
		return "throw: conn: "
	}

	return fmt.Sprintf(`throw: conn %q %s > %s: `, local.Network(), local, remote)
}
