package throw

import (
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/net/context"
)

// Handler represents throw requests handler.
type Handler interface {
	// ServeThrow is called on each received message with decoded tensor or
	// nil if the message had no payload. Returned command and tensor are
	// sent back to the peer; nil tensor means no response payload.
	//
	// It is called with the session context. It is handler responsibility
	// to make sub context if needed.
	ServeThrow(ctx context.Context, h Header, t *Tensor) (string, *Tensor)
}

type HandlerFunc func(context.Context, Header, *Tensor) (string, *Tensor)

func (f HandlerFunc) ServeThrow(ctx context.Context, h Header, t *Tensor) (string, *Tensor) {
	return f(ctx, h, t)
}

var emptyHandler = HandlerFunc(func(context.Context, Header, *Tensor) (string, *Tensor) { return "", nil })

// EchoHandler replies with given command and the received tensor.
func EchoHandler(reply string) Handler {
	return HandlerFunc(func(_ context.Context, _ Header, t *Tensor) (string, *Tensor) {
		return reply, t
	})
}

var DefaultServeMux = NewServeMux()

func Handle(command string, handler Handler) { DefaultServeMux.Handle(command, handler) }

// ServeMux dispatches messages to handlers by header command.
// Messages with unregistered commands go to Fallback; nil Fallback replies
// with empty command and no tensor.
type ServeMux struct {
	Fallback Handler

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewServeMux() *ServeMux {
	return &ServeMux{
		handlers: make(map[string]Handler),
	}
}

func (s *ServeMux) Handle(command string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.handlers[command]; ok {
		panic(fmt.Sprintf("throw: multiple handlers for %q", command))
	}

	s.handlers[command] = handler
}

func (s *ServeMux) HandleFunc(command string, f func(context.Context, Header, *Tensor) (string, *Tensor)) {
	s.Handle(command, HandlerFunc(f))
}

func (s *ServeMux) Handler(command string) Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if h, ok := s.handlers[command]; ok {
		return h
	}

	if s.Fallback != nil {
		return s.Fallback
	}

	return emptyHandler
}

func (s *ServeMux) ServeThrow(ctx context.Context, h Header, t *Tensor) (string, *Tensor) {
	return s.Handler(h.Command).ServeThrow(ctx, h, t)
}

// RecoverHandler recovers handler panics, logs panic value with the stack of
// panicked goroutine and replies with empty command and no tensor. Without
// it a panic terminates the session that received the message.
func RecoverHandler(h Handler, log Logger) Handler {
	if log == nil {
		log = DefaultLogger{}
	}

	return HandlerFunc(func(ctx context.Context, hdr Header, t *Tensor) (cmd string, ret *Tensor) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf(ctx, "throw: panic serving %s: %v\n%s", hdr, err, stack())

				cmd, ret = "", nil
			}
		}()

		return h.ServeThrow(ctx, hdr, t)
	})
}

func stack() []byte {
	const size = 64 << 10

	buf := make([]byte, size)

	return buf[:runtime.Stack(buf, false)]
}
