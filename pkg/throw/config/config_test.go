package config

import (
	"context"
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/mailru/throw/pkg/throw"
)

var (
	_ Config = (*flag.FlagSet)(nil)
	_ Config = (*Values)(nil)
)

func TestSanitize(t *testing.T) {
	for _, test := range []struct {
		in, exp string
	}{
		{"", ""},
		{"server", "server."},
		{"server.", "server."},
	} {
		assert.Equal(t, test.exp, sanitize(test.in))
	}
}

func TestExportSessionConfigDefaults(t *testing.T) {
	f := flag.NewFlagSet("test", flag.ContinueOnError)
	session := ExportSessionConfig(f, "")

	require.NoError(t, f.Parse(nil))

	c, err := session()
	require.NoError(t, err)
	assert.Equal(t, &throw.SessionConfig{
		ReadBufferSize: throw.DefaultReadBufferSize,
		SizeLimit:      throw.DefaultSizeLimit,
		RateBurst:      1,
		ImageShortcut:  throw.ImageShortcutOn,
		CommandPolicy:  throw.CommandStrict,
	}, c)
}

func TestExportSessionConfigFlags(t *testing.T) {
	f := flag.NewFlagSet("test", flag.ContinueOnError)
	session := ExportSessionConfig(f, "srv")

	require.NoError(t, f.Parse([]string{
		"-srv.throw.read_timeout=3s",
		"-srv.throw.write_timeout=1s",
		"-srv.throw.size_limit=1024",
		"-srv.throw.rate_limit=2.5",
		"-srv.throw.rate_burst=4",
		"-srv.throw.image_shortcut=fallback",
		"-srv.throw.command_policy=lenient",
	}))

	c, err := session()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, c.ReadTimeout)
	assert.Equal(t, time.Second, c.WriteTimeout)
	assert.Equal(t, int64(1024), c.SizeLimit)
	assert.Equal(t, rate.Limit(2.5), c.RateLimit)
	assert.Equal(t, 4, c.RateBurst)
	assert.Equal(t, throw.ImageShortcutFallback, c.ImageShortcut)
	assert.Equal(t, throw.CommandLenient, c.CommandPolicy)
}

func TestExportSessionConfigBadMode(t *testing.T) {
	f := flag.NewFlagSet("test", flag.ContinueOnError)
	session := ExportSessionConfig(f, "")

	require.NoError(t, f.Parse([]string{"-throw.image_shortcut=sometimes"}))

	_, err := session()
	require.Error(t, err)
}

func TestExportClientConfig(t *testing.T) {
	f := flag.NewFlagSet("test", flag.ContinueOnError)
	client := ExportClientConfig(f, "cli")

	require.NoError(t, f.Parse([]string{
		"-cli.throw.connect_timeout=200ms",
		"-cli.throw.dial_attempts=3",
	}))

	c, err := client()
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, c.ConnectTimeout)
	assert.Equal(t, 3, c.DialAttempts)
	assert.Equal(t, throw.DefaultRedialInterval, c.RedialInterval)
	assert.Equal(t, int64(throw.DefaultSizeLimit), c.SizeLimit)
}

func TestExportServerHandler(t *testing.T) {
	panicking := throw.HandlerFunc(func(context.Context, throw.Header, *throw.Tensor) (string, *throw.Tensor) {
		panic("boom")
	})

	for _, test := range []struct {
		name  string
		args  []string
		panic bool
	}{
		{name: "default", panic: true},
		{name: "recover", args: []string{"-throw.handler.recover"}},
	} {
		t.Run(test.name, func(t *testing.T) {
			f := flag.NewFlagSet("test", flag.ContinueOnError)
			wrap := ExportServerHandler(f, "", throw.NopLogger{})
			require.NoError(t, f.Parse(test.args))

			h := wrap(panicking)
			call := func() { h.ServeThrow(context.Background(), throw.Header{}, nil) }

			if test.panic {
				assert.Panics(t, call)
			} else {
				assert.NotPanics(t, call)
			}
		})
	}
}

func TestExportSessionConfigWithHandler(t *testing.T) {
	f := flag.NewFlagSet("test", flag.ContinueOnError)
	factory := ExportSessionConfigWithHandler(f, "", ExportServerHandler(f, "", throw.NopLogger{}))
	require.NoError(t, f.Parse(nil))

	c, err := factory(throw.EchoHandler("ok"))
	require.NoError(t, err)
	require.NotNil(t, c.Handler)

	cmd, _ := c.Handler.ServeThrow(context.Background(), throw.Header{}, nil)
	assert.Equal(t, "ok", cmd)
}

func TestExportFromValues(t *testing.T) {
	v, err := Parse([]byte(`
server:
  throw:
    read_timeout: 2s
    write_timeout: 1
    rate_limit: 10
    image_shortcut: "off"
`))
	require.NoError(t, err)

	c, err := ExportSessionConfig(v, "server")()
	require.NoError(t, err)
	require.NoError(t, v.Err())

	assert.Equal(t, 2*time.Second, c.ReadTimeout)
	assert.Equal(t, time.Second, c.WriteTimeout)
	assert.Equal(t, rate.Limit(10), c.RateLimit)
	assert.Equal(t, throw.ImageShortcutOff, c.ImageShortcut)
}
