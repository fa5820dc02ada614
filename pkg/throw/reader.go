package throw

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// DefaultSizeLimit bounds payload size when no limit is configured.
const DefaultSizeLimit = 1 << 30

// BodyAllocator returns buffer of exactly n bytes for the payload.
type BodyAllocator func(int) []byte

func DefaultAlloc(n int) []byte {
	return make([]byte, n)
}

// ReceiveExact reads from r until n bytes are accumulated or r reports end
// of stream. On end of stream it returns whatever was read, possibly fewer
// than n bytes, with nil error. Callers must check the length themselves.
func ReceiveExact(r io.Reader, n int) ([]byte, error) {
	p := make([]byte, n)
	m, err := receiveInto(r, p)

	return p[:m], err
}

func receiveInto(r io.Reader, p []byte) (n int, err error) {
	for n < len(p) {
		var m int

		m, err = r.Read(p[n:])
		n += m

		if err == io.EOF {
			return n, nil
		}

		if err != nil {
			return n, fmt.Errorf("%w: %w", ErrConnection, err)
		}
	}

	return n, nil
}

// ReadMessage reads one message from r with default size limit.
func ReadMessage(r io.Reader) (Message, error) {
	s := StreamReader{Source: r}
	return s.ReadMessage()
}

// StreamReader reads messages from a byte stream.
type StreamReader struct {
	Source io.Reader
	// SizeLimit bounds payload size. Zero means DefaultSizeLimit.
	SizeLimit int64
	// Alloc is used to obtain payload buffers. Nil means DefaultAlloc.
	Alloc BodyAllocator

	buf [HeaderSize]byte
}

// ReadHeader reads and decodes next header.
//
// It returns exactly ErrConnectionClosed when the stream ends on a message
// boundary. A stream that ends inside the header gives an error that matches
// both ErrConnectionClosed and ErrDecoding.
func (s *StreamReader) ReadHeader() (Header, error) {
	n, err := receiveInto(s.Source, s.buf[:])
	if err != nil {
		return Header{}, err
	}

	if n == 0 {
		return Header{}, ErrConnectionClosed
	}

	h, err := DecodeHeader(s.buf[:n])
	if err != nil {
		return Header{}, fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}

	if err = h.Validate(); err != nil {
		return Header{}, err
	}

	return h, nil
}

// ReadPayload reads payload that follows h. It reads nothing and returns nil
// when h declares empty payload.
func (s *StreamReader) ReadPayload(h Header) ([]byte, error) {
	size := h.PayloadSize()
	if size == 0 {
		return nil, nil
	}

	if size < 0 {
		return nil, errors.Wrapf(ErrDecoding, "invalid payload size declared by %s", h)
	}

	limit := s.SizeLimit
	if limit <= 0 {
		limit = DefaultSizeLimit
	}

	if size > limit {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%d bytes declared by %s; limit is %d", size, h, limit)
	}

	alloc := s.Alloc
	if alloc == nil {
		alloc = DefaultAlloc
	}

	p := alloc(int(size))

	n, err := receiveInto(s.Source, p)
	if err != nil {
		return nil, err
	}

	if n < len(p) {
		return nil, errors.Wrapf(ErrConnectionClosed, "payload truncated: got %d of %d bytes", n, len(p))
	}

	return p, nil
}

// ReadMessage reads next header and its payload.
func (s *StreamReader) ReadMessage() (m Message, err error) {
	if m.Header, err = s.ReadHeader(); err != nil {
		return m, err
	}

	m.Payload, err = s.ReadPayload(m.Header)

	return m, err
}
