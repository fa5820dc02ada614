// Package throwtest provides a fixture driven throw server for tests of code
// that talks to a throw peer.
package throwtest

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/mailru/throw/pkg/throw"
)

// NotFoundCommand is replied when no fixture matches the request.
const NotFoundCommand = "fixture not found"

// Fixture describes expected request and the reply to it.
type Fixture struct {
	ID uint32

	// Command and Request must match received message. Nil Request matches
	// message without payload only, unless AnyTensor is set.
	Command   string
	Request   *throw.Tensor
	AnyTensor bool

	ResponseCommand string
	Response        *throw.Tensor

	// Trigger is called when fixture is used. Returned list replaces
	// fixtures of the server.
	Trigger func([]Fixture) []Fixture
}

func (f Fixture) match(h throw.Header, t *throw.Tensor) bool {
	if f.Command != h.Command {
		return false
	}

	return f.AnyTensor || f.Request.Equal(t)
}

// Request is a message received by MockServer.
type Request struct {
	Header throw.Header
	Tensor *throw.Tensor
}

type MockServerLogger interface {
	Debug(fmt string, args ...interface{})
}

type DefaultLogger struct{}

func (DefaultLogger) Debug(f string, args ...interface{}) {
	logrus.Debugf("throwtest: "+f, args...)
}

type MockServer struct {
	srv *throw.Server

	host, port string
	ln         net.Listener

	sync.Mutex
	fixtures []Fixture
	uses     map[uint32]int
	requests []Request

	cancelCtx context.CancelFunc
	stopServ  chan struct{}

	logger      MockServerLogger
	throwLogger throw.Logger
	config      throw.SessionConfig
}

type MockServerOption interface {
	apply(*MockServer) error
}

type optionFunc func(*MockServer) error

func (o optionFunc) apply(c *MockServer) error {
	return o(c)
}

func WithHost(host, port string) MockServerOption {
	return optionFunc(func(oms *MockServer) error {
		oms.host = host
		oms.port = port

		return nil
	})
}

func WithLogger(logger MockServerLogger) MockServerOption {
	return optionFunc(func(oms *MockServer) error {
		oms.logger = logger
		return nil
	})
}

func WithThrowLogger(logger throw.Logger) MockServerOption {
	return optionFunc(func(oms *MockServer) error {
		oms.throwLogger = logger
		return nil
	})
}

func WithFixtures(fixtures ...Fixture) MockServerOption {
	return optionFunc(func(oms *MockServer) error {
		oms.fixtures = append(oms.fixtures, fixtures...)
		return nil
	})
}

// WithSessionConfig sets session options of the server. Handler and
// Logger fields are ignored.
func WithSessionConfig(config throw.SessionConfig) MockServerOption {
	return optionFunc(func(oms *MockServer) error {
		oms.config = config
		return nil
	})
}

func InitMockServer(opts ...MockServerOption) (*MockServer, error) {
	oms := &MockServer{
		host:        "127.0.0.1",
		port:        "0",
		uses:        map[uint32]int{},
		stopServ:    make(chan struct{}),
		logger:      DefaultLogger{},
		throwLogger: throw.NopLogger{},
	}

	for _, opt := range opts {
		if err := opt.apply(oms); err != nil {
			return nil, fmt.Errorf("error apply option: %s", err)
		}
	}

	port, err := strconv.Atoi(oms.port)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid port %q", oms.port)
	}

	ln, err := throw.Listen(context.Background(), oms.host, port)
	if err != nil {
		return nil, fmt.Errorf("can't start listener: %s", err)
	}

	oms.ln = ln
	oms.port = strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)

	config := oms.config
	config.Handler = throw.HandlerFunc(oms.Handler)
	config.Logger = oms.throwLogger

	oms.srv = &throw.Server{
		SessionConfig: &config,
		Manager:       throw.NewSessionManager(),
		Log:           oms.throwLogger,
	}

	return oms, nil
}

func (oms *MockServer) Handler(ctx context.Context, h throw.Header, t *throw.Tensor) (string, *throw.Tensor) {
	oms.throwLogger.Debugf(ctx, "%s %s", h, t)

	fxt, found := oms.ProcessRequest(h, t)
	if !found {
		return NotFoundCommand, nil
	}

	return fxt.ResponseCommand, fxt.Response
}

// ProcessRequest records request and returns first matching fixture.
func (oms *MockServer) ProcessRequest(h throw.Header, t *throw.Tensor) (Fixture, bool) {
	oms.Lock()
	defer oms.Unlock()

	oms.requests = append(oms.requests, Request{Header: h, Tensor: t})

	for _, fix := range oms.fixtures {
		if !fix.match(h, t) {
			continue
		}

		oms.uses[fix.ID]++

		if fix.Trigger != nil {
			oms.fixtures = fix.Trigger(oms.fixtures)
		}

		return fix, true
	}

	oms.logger.Debug("fixture not found for %s %s", h, t)

	return Fixture{}, false
}

func (oms *MockServer) SetFixtures(fixtures []Fixture) {
	oms.Lock()
	oms.fixtures = fixtures
	oms.Unlock()
}

// Requests returns every message received so far.
func (oms *MockServer) Requests() []Request {
	oms.Lock()
	defer oms.Unlock()

	return append([]Request(nil), oms.requests...)
}

// UnusedFixtures returns fixtures that did not match any request.
func (oms *MockServer) UnusedFixtures() []Fixture {
	oms.Lock()
	defer oms.Unlock()

	var ret []Fixture

	for _, f := range oms.fixtures {
		if oms.uses[f.ID] == 0 {
			ret = append(ret, f)
		}
	}

	return ret
}

// Stats returns aggregated stats of server sessions.
func (oms *MockServer) Stats() throw.SessionStats {
	return oms.srv.Manager.Stats()
}

func (oms *MockServer) GetServerHostPort() string {
	return net.JoinHostPort(oms.host, oms.port)
}

func (oms *MockServer) Host() string { return oms.host }

func (oms *MockServer) Port() int {
	p, _ := strconv.Atoi(oms.port)
	return p
}

func (oms *MockServer) Start() error {
	ctx, cancel := context.WithCancel(context.Background())

	oms.cancelCtx = cancel

	go func(ctx context.Context, ln net.Listener) {
		oms.logger.Debug("Start throw test server on %s", ln.Addr().String())

		err := oms.srv.Serve(ctx, ln)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, throw.ErrServerClosed) {
			oms.logger.Debug("Error get Serve: %s", err)
		}

		close(oms.stopServ)

		oms.logger.Debug("Stop throw test server")
	}(ctx, oms.ln)

	return nil
}

func (oms *MockServer) Stop() error {
	oms.logger.Debug("Try to stop server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := oms.srv.Shutdown(ctx)

	if cerr := oms.ln.Close(); cerr != nil {
		oms.logger.Debug("can't close listener: %s", cerr)
	}

	if oms.cancelCtx != nil {
		oms.cancelCtx()

		select {
		case <-oms.stopServ:
			oms.logger.Debug("Server stopped successfully")
		case <-ctx.Done():
			return errors.New("error stop server: timeout")
		}
	}

	return err
}
