package throw

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"
	"golang.org/x/time/rate"
)

func startSession(t *testing.T, config *SessionConfig) (net.Conn, *Session) {
	t.Helper()

	if config.Logger == nil {
		config.Logger = NopLogger{}
	}

	client, server := net.Pipe()
	sess := NewSession(server, config)

	go func() { _ = sess.Serve(context.Background()) }()

	t.Cleanup(func() {
		client.Close()
		sess.Close()
	})

	return client, sess
}

func waitDone(t *testing.T, sess *Session) {
	t.Helper()

	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session is still running in state %s", sess.State())
	}
}

func TestSessionIdentityScenario(t *testing.T) {
	var got []Header

	conn, sess := startSession(t, &SessionConfig{
		Handler: HandlerFunc(func(_ context.Context, h Header, tn *Tensor) (string, *Tensor) {
			got = append(got, h)
			return "ok", tn
		}),
	})

	client := NewClient(conn, &ClientConfig{Logger: NopLogger{}})

	cmd, resp, err := client.SendMessage(context.Background(), "sample_command", identity(4))
	require.NoError(t, err)
	require.Equal(t, "ok", cmd)
	require.True(t, identity(4).Equal(resp), "got %s", resp)

	require.Len(t, got, 1)
	require.Equal(t, "sample_command", got[0].Command)
	require.Equal(t, int64(64), got[0].PayloadSize())

	require.Eventually(t, func() bool { return sess.Stats().MessagesSent == 1 }, time.Second, time.Millisecond)

	stats := sess.Stats()
	require.Equal(t, uint64(1), stats.MessagesReceived)
	require.Equal(t, uint64(HeaderSize+64), stats.BytesReceived)
	require.Equal(t, client.Stats().BytesSent, stats.BytesReceived)
}

func TestSessionNoPayload(t *testing.T) {
	var (
		commands []string
		tensors  []*Tensor
	)

	conn, _ := startSession(t, &SessionConfig{
		Handler: HandlerFunc(func(_ context.Context, h Header, tn *Tensor) (string, *Tensor) {
			commands = append(commands, h.Command)
			tensors = append(tensors, tn)

			return "ack:" + h.Command, nil
		}),
	})

	// Two zero shaped headers in one write: if the session tried to read a
	// payload after the first one it would swallow the second header.
	a, err := EncodeHeader(Header{Command: "a", Width: 5, Height: 0, Depth: 1, BytesPerElement: 4}, CommandStrict)
	require.NoError(t, err)
	b, err := EncodeHeader(Header{Command: "b"}, CommandStrict)
	require.NoError(t, err)

	go func() { _ = SendAll(conn, append(a, b...)) }()

	for _, exp := range []string{"ack:a", "ack:b"} {
		m, err := ReadMessage(conn)
		require.NoError(t, err)
		require.Equal(t, exp, m.Header.Command)
		require.Zero(t, m.Header.PayloadSize())
		require.Nil(t, m.Payload)
	}

	require.Equal(t, []string{"a", "b"}, commands)
	require.Equal(t, []*Tensor{nil, nil}, tensors)
}

func TestSessionImageSentinel(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 5, 3))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}

	img.SetNRGBA(4, 2, color.NRGBA{R: 1, G: 2, B: 3, A: 0xff})

	encoded := encodePNG(t, img)

	var (
		shape [3]int
		width int32
	)

	conn, sess := startSession(t, &SessionConfig{
		Handler: HandlerFunc(func(_ context.Context, h Header, tn *Tensor) (string, *Tensor) {
			shape[0], shape[1], shape[2] = tn.Shape()
			width = h.Width

			return "shape", nil
		}),
	})

	client := NewClient(conn, &ClientConfig{Logger: NopLogger{}})

	cmd, resp, err := client.SendImage(context.Background(), "image", encoded)
	require.NoError(t, err)
	require.Equal(t, "shape", cmd)
	require.Nil(t, resp)
	require.Equal(t, [3]int{3, 5, 3}, shape)
	require.Equal(t, int32(len(encoded)), width)
	require.Equal(t, uint64(1), sess.Stats().Images)
}

func TestSessionImageShortcutOff(t *testing.T) {
	conn, _ := startSession(t, &SessionConfig{
		Handler:       EchoHandler("raw"),
		ImageShortcut: ImageShortcutOff,
	})

	client := NewClient(conn, &ClientConfig{Logger: NopLogger{}, ImageShortcut: ImageShortcutOff})

	payload := []byte("not an image at all")

	cmd, resp, err := client.SendImage(context.Background(), "bytes", payload)
	require.NoError(t, err)
	require.Equal(t, "raw", cmd)
	require.Equal(t, payload, resp.Uint8s())

	h, w, d := resp.Shape()
	require.Equal(t, [3]int{1, len(payload), 1}, [3]int{h, w, d})
}

func TestSessionMalformedHeader(t *testing.T) {
	called := false

	conn, sess := startSession(t, &SessionConfig{
		Handler: HandlerFunc(func(context.Context, Header, *Tensor) (string, *Tensor) {
			called = true
			return "", nil
		}),
	})

	require.NoError(t, SendAll(conn, make([]byte, 20)))
	require.NoError(t, conn.Close())

	waitDone(t, sess)

	require.False(t, called)
	require.Equal(t, StateClosed, sess.State())
	require.ErrorIs(t, sess.Err(), ErrConnectionClosed)
	require.ErrorIs(t, sess.Err(), ErrDecoding)
	require.Equal(t, uint64(1), sess.Stats().Errors)
}

func TestSessionOverflowingShape(t *testing.T) {
	called := false

	conn, sess := startSession(t, &SessionConfig{
		Handler: HandlerFunc(func(context.Context, Header, *Tensor) (string, *Tensor) {
			called = true
			return "", nil
		}),
	})

	p := make([]byte, HeaderSize)
	require.NoError(t, PutHeader(p, Header{Command: "huge"}, CommandStrict))

	for _, off := range []int{4, 8, 12} {
		binary.LittleEndian.PutUint32(p[off:], 1<<21)
	}
	binary.LittleEndian.PutUint32(p[16:], 1)

	go func() { _ = SendAll(conn, p) }()

	waitDone(t, sess)

	require.False(t, called)
	require.ErrorIs(t, sess.Err(), ErrDecoding)
	require.Equal(t, uint64(1), sess.Stats().Errors)
}

func TestSessionPeerCloseOnBoundary(t *testing.T) {
	conn, sess := startSession(t, &SessionConfig{})

	require.NoError(t, conn.Close())
	waitDone(t, sess)

	require.NoError(t, sess.Err())
	require.Zero(t, sess.Stats().Errors)
}

func TestSessionPayloadShapeMismatch(t *testing.T) {
	conn, sess := startSession(t, &SessionConfig{Handler: EchoHandler("never")})

	// Width 3 of 3 byte elements is not a supported element width.
	m := Message{
		Header:  Header{Command: "bad", Width: 3, Height: 2, Depth: 1, BytesPerElement: 3},
		Payload: make([]byte, 18),
	}

	go func() { _ = WriteMessage(conn, m) }()

	waitDone(t, sess)
	require.ErrorIs(t, sess.Err(), ErrUnsupportedElementWidth)
}

func TestSessionHandlerPanic(t *testing.T) {
	conn, sess := startSession(t, &SessionConfig{
		Handler: HandlerFunc(func(context.Context, Header, *Tensor) (string, *Tensor) {
			panic("boom")
		}),
	})

	client := NewClient(conn, &ClientConfig{Logger: NopLogger{}})

	_, _, err := client.SendMessage(context.Background(), "panic", nil)
	require.ErrorIs(t, err, ErrClientBroken)
	require.ErrorIs(t, err, ErrConnectionClosed)

	waitDone(t, sess)
	require.ErrorIs(t, sess.Err(), ErrHandlerPanic)

	_, _, err = client.SendMessage(context.Background(), "again", nil)
	require.ErrorIs(t, err, ErrClientBroken)
}

func TestSessionRecoverHandler(t *testing.T) {
	mux := NewServeMux()
	mux.HandleFunc("panic", func(context.Context, Header, *Tensor) (string, *Tensor) {
		panic("boom")
	})
	mux.Handle("echo", EchoHandler("echoed"))

	conn, _ := startSession(t, &SessionConfig{Handler: RecoverHandler(mux, NopLogger{})})
	client := NewClient(conn, &ClientConfig{Logger: NopLogger{}})

	cmd, resp, err := client.SendMessage(context.Background(), "panic", identity(2))
	require.NoError(t, err)
	require.Equal(t, "", cmd)
	require.Nil(t, resp)

	cmd, resp, err = client.SendMessage(context.Background(), "echo", identity(2))
	require.NoError(t, err)
	require.Equal(t, "echoed", cmd)
	require.True(t, identity(2).Equal(resp))
}

func TestSessionNoHandler(t *testing.T) {
	conn, _ := startSession(t, &SessionConfig{})
	client := NewClient(conn, &ClientConfig{Logger: NopLogger{}})

	cmd, resp, err := client.SendMessage(context.Background(), "anyone", identity(3))
	require.NoError(t, err)
	require.Equal(t, "", cmd)
	require.Nil(t, resp)
}

func TestSessionClose(t *testing.T) {
	_, sess := startSession(t, &SessionConfig{})

	require.Eventually(t, func() bool { return sess.State() == StateAwaitHeader }, time.Second, time.Millisecond)

	sess.Close()
	waitDone(t, sess)
	require.NoError(t, sess.Err())
	require.ErrorIs(t, sess.Serve(context.Background()), ErrSessionServed)
}

func TestSessionContextCancel(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	sess := NewSession(server, &SessionConfig{Logger: NopLogger{}})
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- sess.Serve(ctx) }()

	cancel()

	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

func TestSessionReadTimeout(t *testing.T) {
	_, sess := startSession(t, &SessionConfig{ReadTimeout: 20 * time.Millisecond})

	waitDone(t, sess)

	var ne net.Error
	require.True(t, errors.As(sess.Err(), &ne) && ne.Timeout(), "unexpected error: %v", sess.Err())
}

func TestSessionRateLimit(t *testing.T) {
	conn, _ := startSession(t, &SessionConfig{
		Handler:   EchoHandler("ok"),
		RateLimit: rate.Every(30 * time.Millisecond),
		RateBurst: 1,
	})
	client := NewClient(conn, &ClientConfig{Logger: NopLogger{}})

	start := time.Now()

	for i := 0; i < 3; i++ {
		_, _, err := client.SendMessage(context.Background(), "tick", nil)
		require.NoError(t, err)
	}

	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestClientContextCancel(t *testing.T) {
	release := make(chan struct{})

	var once sync.Once

	conn, _ := startSession(t, &SessionConfig{
		Handler: HandlerFunc(func(context.Context, Header, *Tensor) (string, *Tensor) {
			<-release
			return "late", nil
		}),
	})
	defer once.Do(func() { close(release) })

	client := NewClient(conn, &ClientConfig{Logger: NopLogger{}})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, _, err := client.SendMessage(ctx, "slow", nil)
	require.ErrorIs(t, err, ErrClientBroken)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	once.Do(func() { close(release) })

	_, _, err = client.SendMessage(context.Background(), "next", nil)
	require.ErrorIs(t, err, ErrClientBroken)
}

func TestClientClosed(t *testing.T) {
	conn, _ := startSession(t, &SessionConfig{})
	client := NewClient(conn, &ClientConfig{Logger: NopLogger{}})

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, _, err := client.SendMessage(context.Background(), "x", nil)
	require.Equal(t, ErrConnectionClosed, err)
}

func TestClientResponseDecodeKeepsClient(t *testing.T) {
	server, clientConn := net.Pipe()
	defer server.Close()

	client := NewClient(clientConn, &ClientConfig{Logger: NopLogger{}})
	defer client.Close()

	go func() {
		for _, m := range []Message{
			{Header: Header{Command: "bad", Width: 1, Height: 2, Depth: 1, BytesPerElement: 3}, Payload: make([]byte, 6)},
			{Header: Header{Command: "good"}},
		} {
			if _, err := ReadMessage(server); err != nil {
				return
			}

			_ = WriteMessage(server, m)
		}
	}()

	_, _, err := client.SendMessage(context.Background(), "first", nil)
	require.ErrorIs(t, err, ErrUnsupportedElementWidth)

	cmd, _, err := client.SendMessage(context.Background(), "second", nil)
	require.NoError(t, err)
	require.Equal(t, "good", cmd)
}

func TestConnPrefix(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	require.Equal(t, `throw: conn "pipe" pipe > pipe: `, connPrefix(a))
}

func TestDefaultLoggerFields(t *testing.T) {
	ctx := WithLogFields(context.Background(), logrus.Fields{"a": 1})
	ctx = WithLogFields(ctx, logrus.Fields{"b": 2})

	require.Len(t, LogFields(ctx), 2)
	require.Nil(t, LogFields(context.Background()))

	var buf bytes.Buffer

	logger := logrus.New()
	logger.Out = &buf
	logger.Formatter = &logrus.TextFormatter{DisableTimestamp: true}

	l := DefaultLogger{Entry: logrus.NewEntry(logger), Prefix: "p: "}
	l.Printf(ctx, "hello %d", 1)
	l.Debugf(ctx, "hidden")

	out := buf.String()
	require.Contains(t, out, `msg="p: hello 1"`)
	require.Contains(t, out, "a=1")
	require.Contains(t, out, "b=2")
	require.NotContains(t, out, "hidden")
}
