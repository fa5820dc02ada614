package throw

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

const (
	// CommandLen is the fixed size of the command field.
	CommandLen = 32
	// HeaderSize is the fixed size of encoded Header.
	HeaderSize = 4 + 4*4 + CommandLen
)

// CommandPolicy defines how a command that does not fit the 32-byte ASCII
// field is encoded. Over-long commands are truncated under every policy.
type CommandPolicy int

const (
	// CommandStrict rejects commands with non-ASCII characters.
	CommandStrict CommandPolicy = iota
	// CommandLenient replaces every non-ASCII rune with '?'.
	CommandLenient
)

func (p CommandPolicy) String() string {
	switch p {
	case CommandStrict:
		return "strict"
	case CommandLenient:
		return "lenient"
	default:
		return fmt.Sprintf("CommandPolicy(%d)", int(p))
	}
}

// ParseCommandPolicy parses policy name as returned by CommandPolicy.String().
func ParseCommandPolicy(s string) (CommandPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return CommandStrict, nil
	case "lenient":
		return CommandLenient, nil
	}

	return 0, fmt.Errorf("unknown command policy: %q", s)
}

// Header is the metadata that precedes every message on the wire.
//
// Layout (little endian):
//
//	0   4  checksum (opaque)
//	4   4  width
//	8   4  height
//	12  4  depth
//	16  4  bytes per element
//	20  32 command, right-padded
type Header struct {
	Checksum        [4]byte
	Width           int32
	Height          int32
	Depth           int32
	BytesPerElement int32
	Command         string
}

// PayloadSize returns the number of payload bytes that follow the header.
// It is never transmitted: both peers compute it from the shape fields.
//
// It returns -1 when a field is negative or the product does not fit into
// int64. Such headers fail Validate.
func (h Header) PayloadSize() int64 {
	n, ok := shapeProduct(int64(h.Width), int64(h.Height), int64(h.Depth), int64(h.BytesPerElement))
	if !ok {
		return -1
	}

	return n
}

// shapeProduct multiplies non-negative factors. It reports false if some
// factor is negative or the product overflows int64. Any zero factor gives
// zero.
func shapeProduct(fs ...int64) (int64, bool) {
	for _, f := range fs {
		if f < 0 {
			return 0, false
		}

		if f == 0 {
			return 0, true
		}
	}

	var p uint64 = 1

	for _, f := range fs {
		hi, lo := bits.Mul64(p, uint64(f))
		if hi != 0 || lo > math.MaxInt64 {
			return 0, false
		}

		p = lo
	}

	return int64(p), true
}

// IsImage reports whether header carries the encoded image sentinel shape.
// A raw 1xWx1 tensor has the same shape; see ImageShortcut.
func (h Header) IsImage() bool {
	return h.Height == 1 && h.Depth == 1
}

// Validate checks that shape fields are not negative and that the payload
// size they declare is representable.
func (h Header) Validate() error {
	if h.Width < 0 || h.Height < 0 || h.Depth < 0 || h.BytesPerElement < 0 {
		return errors.Wrapf(ErrDecoding, "negative shape in %s", h)
	}

	if h.PayloadSize() < 0 {
		return errors.Wrapf(ErrDecoding, "payload size of %s overflows int64", h)
	}

	return nil
}

func (h Header) String() string {
	return fmt.Sprintf("Header(%q,%d,%d,%d,%d)", h.Command, h.Height, h.Width, h.Depth, h.BytesPerElement)
}

var replaceNonASCII = runes.Map(func(r rune) rune {
	if r > unicode.MaxASCII {
		return '?'
	}

	return r
})

func encodeCommand(cmd string, policy CommandPolicy) (string, error) {
	switch policy {
	case CommandLenient:
		out, _, err := transform.String(replaceNonASCII, cmd)
		if err != nil {
			return "", errors.Wrapf(ErrEncoding, "command %q: %v", cmd, err)
		}

		cmd = out
	default:
		for i := 0; i < len(cmd); i++ {
			if cmd[i] > unicode.MaxASCII {
				return "", errors.Wrapf(ErrEncoding, "non-ascii byte at %d in command %q", i, cmd)
			}
		}
	}

	if len(cmd) > CommandLen {
		cmd = cmd[:CommandLen]
	}

	return cmd, nil
}

// PutHeader puts binary representation of h into p.
// Note that it will panic if p is shorter than HeaderSize.
func PutHeader(p []byte, h Header, policy CommandPolicy) error {
	cmd, err := encodeCommand(h.Command, policy)
	if err != nil {
		return err
	}

	_ = p[HeaderSize-1]

	copy(p[0:4], h.Checksum[:])
	binary.LittleEndian.PutUint32(p[4:], uint32(h.Width))
	binary.LittleEndian.PutUint32(p[8:], uint32(h.Height))
	binary.LittleEndian.PutUint32(p[12:], uint32(h.Depth))
	binary.LittleEndian.PutUint32(p[16:], uint32(h.BytesPerElement))

	n := copy(p[20:HeaderSize], cmd)
	for i := 20 + n; i < HeaderSize; i++ {
		p[i] = ' '
	}

	return nil
}

// EncodeHeader returns binary representation of h.
func EncodeHeader(h Header, policy CommandPolicy) ([]byte, error) {
	p := make([]byte, HeaderSize)
	if err := PutHeader(p, h, policy); err != nil {
		return nil, err
	}

	return p, nil
}

// DecodeHeader decodes header from the first HeaderSize bytes of p.
// Trailing NUL and whitespace padding is trimmed from the command.
func DecodeHeader(p []byte) (h Header, err error) {
	if len(p) < HeaderSize {
		return h, errors.Wrapf(ErrDecoding, "got %d bytes, want %d", len(p), HeaderSize)
	}

	copy(h.Checksum[:], p[0:4])
	h.Width = int32(binary.LittleEndian.Uint32(p[4:]))
	h.Height = int32(binary.LittleEndian.Uint32(p[8:]))
	h.Depth = int32(binary.LittleEndian.Uint32(p[12:]))
	h.BytesPerElement = int32(binary.LittleEndian.Uint32(p[16:]))
	h.Command = strings.TrimSpace(strings.TrimRight(string(p[20:HeaderSize]), "\x00 "))

	return h, nil
}
