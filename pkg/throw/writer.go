package throw

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// SendAll writes whole p to w, looping over partial writes.
func SendAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		p = p[n:]

		if err != nil {
			return fmt.Errorf("%w: %w", ErrConnection, err)
		}

		if n == 0 {
			return fmt.Errorf("%w: %w", ErrConnection, io.ErrShortWrite)
		}
	}

	return nil
}

// WriteMessage writes m to w with strict command policy.
func WriteMessage(w io.Writer, m Message) error {
	s := StreamWriter{Dest: w}
	return s.WriteMessage(m)
}

// StreamWriter writes messages to a byte stream.
type StreamWriter struct {
	Dest   io.Writer
	Policy CommandPolicy

	buf [HeaderSize]byte // used to encode header
}

// WriteMessage writes header of m followed by its payload. Payload is not
// written at all when the header declares empty payload.
func (s *StreamWriter) WriteMessage(m Message) error {
	if err := checkPayload(m); err != nil {
		return err
	}

	if err := PutHeader(s.buf[:], m.Header, s.Policy); err != nil {
		return err
	}

	if err := SendAll(s.Dest, s.buf[:]); err != nil {
		return err
	}

	return SendAll(s.Dest, m.Payload)
}

func checkPayload(m Message) error {
	if err := m.Header.Validate(); err != nil {
		return errors.Wrap(ErrEncoding, err.Error())
	}

	if n := m.Header.PayloadSize(); n != int64(len(m.Payload)) {
		return errors.Wrapf(ErrShapeMismatch, "%s declares %d payload bytes, got %d", m.Header, n, len(m.Payload))
	}

	return nil
}
