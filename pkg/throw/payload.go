package throw

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// ImageShortcut defines how payloads with the image sentinel shape
// (height == 1 && depth == 1) are decoded.
type ImageShortcut int

const (
	// ImageShortcutOn decodes sentinel payloads only as encoded images.
	ImageShortcutOn ImageShortcut = iota
	// ImageShortcutFallback decodes sentinel payloads as raw tensors when
	// they are not in a known image format.
	ImageShortcutFallback
	// ImageShortcutOff always decodes payloads as raw tensors.
	ImageShortcutOff
)

func (m ImageShortcut) String() string {
	switch m {
	case ImageShortcutOn:
		return "on"
	case ImageShortcutFallback:
		return "fallback"
	case ImageShortcutOff:
		return "off"
	default:
		return fmt.Sprintf("ImageShortcut(%d)", int(m))
	}
}

// ParseImageShortcut parses mode name as returned by ImageShortcut.String().
func ParseImageShortcut(s string) (ImageShortcut, error) {
	switch s {
	case "", "on":
		return ImageShortcutOn, nil
	case "fallback":
		return ImageShortcutFallback, nil
	case "off":
		return ImageShortcutOff, nil
	}

	return 0, fmt.Errorf("unknown image shortcut mode: %q", s)
}

// BytesToTensor builds tensor of shape (height, width, depth) from raw little
// endian payload. Element type is chosen by bytesPerElement: 1, 2, 4 and 8
// give uint8, uint16, float32 and float64 respectively.
//
// Returned tensor does not reference buf.
func BytesToTensor(buf []byte, height, width, depth, bytesPerElement int32) (*Tensor, error) {
	dt, err := DTypeForWidth(bytesPerElement)
	if err != nil {
		return nil, err
	}

	if height < 0 || width < 0 || depth < 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "negative shape (%d,%d,%d)", height, width, depth)
	}

	n, ok := shapeProduct(int64(height), int64(width), int64(depth))
	size, sok := shapeProduct(n, int64(bytesPerElement))

	if !ok || !sok {
		return nil, errors.Wrapf(ErrShapeMismatch, "shape (%d,%d,%d) of %s overflows", height, width, depth, dt)
	}

	if int64(len(buf)) != size {
		return nil, errors.Wrapf(ErrShapeMismatch,
			"%d bytes for shape (%d,%d,%d) of %s", len(buf), height, width, depth, dt,
		)
	}

	var data interface{}

	switch dt {
	case Uint8:
		data = append([]uint8(nil), buf...)
	case Uint16:
		v := make([]uint16, n)
		for i := range v {
			v[i] = binary.LittleEndian.Uint16(buf[i*2:])
		}

		data = v
	case Float32:
		v := make([]float32, n)
		for i := range v {
			v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}

		data = v
	case Float64:
		v := make([]float64, n)
		for i := range v {
			v[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
		}

		data = v
	}

	return &Tensor{
		height: int(height),
		width:  int(width),
		depth:  int(depth),
		dtype:  dt,
		data:   data,
	}, nil
}

// TensorHeader returns header with command and shape fields describing t.
// Nil t gives all-zero shape fields.
func TensorHeader(command string, t *Tensor) (h Header, err error) {
	h.Command = command
	if t == nil {
		return h, nil
	}

	if t.dtype.Size() == 0 {
		return h, errors.Wrapf(ErrUnsupportedDType, "%s", t.dtype)
	}

	for _, d := range [...]int{t.height, t.width, t.depth} {
		if d > math.MaxInt32 {
			return h, errors.Wrapf(ErrShapeMismatch, "dimension %d overflows int32", d)
		}
	}

	h.Height = int32(t.height)
	h.Width = int32(t.width)
	h.Depth = int32(t.depth)
	h.BytesPerElement = int32(t.dtype.Size())

	return h, nil
}

// AppendTensor appends raw little endian representation of t to dst.
func AppendTensor(dst []byte, t *Tensor) ([]byte, error) {
	switch d := t.data.(type) {
	case []uint8:
		return append(dst, d...), nil
	case []uint16:
		for _, v := range d {
			dst = binary.LittleEndian.AppendUint16(dst, v)
		}
	case []float32:
		for _, v := range d {
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
		}
	case []float64:
		for _, v := range d {
			dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(v))
		}
	default:
		return nil, errors.Wrapf(ErrUnsupportedDType, "%T", t.data)
	}

	return dst, nil
}

// TensorToBytes returns raw payload of t and the header shape fields that
// describe it.
func TensorToBytes(t *Tensor) ([]byte, Header, error) {
	h, err := TensorHeader("", t)
	if err != nil {
		return nil, h, err
	}

	data, err := AppendTensor(make([]byte, 0, t.Len()*t.dtype.Size()), t)
	if err != nil {
		return nil, h, err
	}

	return data, h, nil
}

// DecodePayload converts payload received after h into a tensor. Sentinel
// shaped payloads are passed to codec according to mode.
func DecodePayload(h Header, data []byte, codec ImageCodec, mode ImageShortcut) (*Tensor, error) {
	if mode != ImageShortcutOff && h.IsImage() && codec != nil {
		t, err := codec.DecodeImage(data)
		if err == nil {
			return t, nil
		}

		if mode != ImageShortcutFallback || !errors.Is(err, ErrImageFormat) {
			return nil, err
		}
	}

	return BytesToTensor(data, h.Height, h.Width, h.Depth, h.BytesPerElement)
}
