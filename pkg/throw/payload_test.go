package throw

import (
	"bytes"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
	"gotest.tools/assert"
	"gotest.tools/assert/cmp"
)

func randomTensor(r *rand.Rand, dt DType, h, w, d int) *Tensor {
	t := Zeros(dt, h, w, d)
	for i := 0; i < t.Len(); i++ {
		switch dt {
		case Uint8:
			t.set(i, float64(r.Intn(256)))
		case Uint16:
			t.set(i, float64(r.Intn(65536)))
		default:
			t.set(i, r.NormFloat64()*1e3)
		}
	}

	return t
}

func TestPayloadRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for _, dt := range []DType{Uint8, Uint16, Float32, Float64} {
		for _, shape := range [][3]int{{1, 1, 1}, {4, 4, 1}, {3, 5, 3}, {2, 7, 4}} {
			t.Run(fmt.Sprintf("%s_%v", dt, shape), func(t *testing.T) {
				src := randomTensor(r, dt, shape[0], shape[1], shape[2])

				p, h, err := TensorToBytes(src)
				require.NoError(t, err)
				require.Equal(t, int64(len(p)), h.PayloadSize())
				require.Equal(t, int32(dt.Size()), h.BytesPerElement)

				act, err := BytesToTensor(p, h.Height, h.Width, h.Depth, h.BytesPerElement)
				require.NoError(t, err)
				require.True(t, src.Equal(act), "got %s; want %s", act, src)
			})
		}
	}
}

func TestBytesToTensorLittleEndian(t *testing.T) {
	tn, err := BytesToTensor([]byte{1, 2, 3, 4}, 1, 2, 1, 2)
	require.NoError(t, err)
	require.Equal(t, []uint16{0x0201, 0x0403}, tn.Uint16s())

	one := math.Float32bits(1)
	tn, err = BytesToTensor([]byte{byte(one), byte(one >> 8), byte(one >> 16), byte(one >> 24)}, 1, 1, 1, 4)
	require.NoError(t, err)
	require.Equal(t, []float32{1}, tn.Float32s())
}

func TestBytesToTensorErrors(t *testing.T) {
	_, err := BytesToTensor(make([]byte, 3), 1, 1, 1, 3)
	require.ErrorIs(t, err, ErrUnsupportedElementWidth)

	_, err = BytesToTensor(make([]byte, 15), 2, 2, 1, 4)
	require.ErrorIs(t, err, ErrShapeMismatch)

	_, err = BytesToTensor(nil, -1, 2, 1, 4)
	require.ErrorIs(t, err, ErrShapeMismatch)

	_, err = BytesToTensor(nil, 1<<21, 1<<21, 1<<21, 2)
	require.ErrorIs(t, err, ErrShapeMismatch)

	_, err = BytesToTensor(nil, math.MaxInt32, math.MaxInt32, 1<<2, 8)
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestBytesToTensorDoesNotAlias(t *testing.T) {
	buf := []byte{1, 2, 3}

	tn, err := BytesToTensor(buf, 1, 3, 1, 1)
	require.NoError(t, err)

	buf[0] = 9
	require.Equal(t, []uint8{1, 2, 3}, tn.Uint8s())
}

func TestTensorToBytesUnsupported(t *testing.T) {
	_, _, err := TensorToBytes(&Tensor{height: 1, width: 1, depth: 1, data: []int64{1}})
	require.ErrorIs(t, err, ErrUnsupportedDType)
}

func TestTensorHeaderNil(t *testing.T) {
	h, err := TensorHeader("none", nil)
	require.NoError(t, err)
	assert.Check(t, cmp.DeepEqual(h, Header{Command: "none"}))
	require.Zero(t, h.PayloadSize())
}

type stubCodec struct {
	calls int
	ret   *Tensor
	err   error
}

func (c *stubCodec) DecodeImage([]byte) (*Tensor, error) {
	c.calls++
	return c.ret, c.err
}

func (c *stubCodec) EncodeImage(*Tensor, string) ([]byte, error) { return nil, nil }

func TestDecodePayloadImageShortcut(t *testing.T) {
	raw := []byte{1, 2, 3, 4}
	h := NewImageMessage("img", raw).Header
	decoded := Zeros(Uint8, 2, 2, 3)

	for _, test := range []struct {
		name  string
		mode  ImageShortcut
		codec *stubCodec
		exp   *Tensor
		err   error
	}{
		{"on", ImageShortcutOn, &stubCodec{ret: decoded}, decoded, nil},
		{"on not image", ImageShortcutOn, &stubCodec{err: ErrImageFormat}, nil, ErrImageFormat},
		{"fallback", ImageShortcutFallback, &stubCodec{err: ErrImageFormat}, MustTensor(1, 4, 1, []uint8{1, 2, 3, 4}), nil},
		{"fallback broken image", ImageShortcutFallback, &stubCodec{err: fmt.Errorf("corrupt")}, nil, nil},
		{"off", ImageShortcutOff, &stubCodec{ret: decoded}, MustTensor(1, 4, 1, []uint8{1, 2, 3, 4}), nil},
	} {
		t.Run(test.name, func(t *testing.T) {
			act, err := DecodePayload(h, raw, test.codec, test.mode)
			if test.exp == nil {
				require.Error(t, err)

				if test.err != nil {
					require.ErrorIs(t, err, test.err)
				}

				return
			}

			require.NoError(t, err)
			require.True(t, test.exp.Equal(act), "got %s; want %s", act, test.exp)
		})
	}
}

func TestDecodePayloadRawShape(t *testing.T) {
	codec := &stubCodec{}
	h := Header{Height: 2, Width: 1, Depth: 1, BytesPerElement: 8}

	tn, err := DecodePayload(h, bytes.Repeat([]byte{0}, 16), codec, ImageShortcutOn)
	require.NoError(t, err)
	require.Equal(t, 0, codec.calls)
	require.Equal(t, []float64{0, 0}, tn.Float64s())
}

func TestParseImageShortcut(t *testing.T) {
	for _, m := range []ImageShortcut{ImageShortcutOn, ImageShortcutFallback, ImageShortcutOff} {
		act, err := ParseImageShortcut(m.String())
		require.NoError(t, err)
		require.Equal(t, m, act)
	}

	_, err := ParseImageShortcut("maybe")
	require.Error(t, err)
}

func TestNewMessage(t *testing.T) {
	src := identity(4)

	m, err := NewMessage("sample_command", src)
	require.NoError(t, err)
	require.Equal(t, Header{
		Command: "sample_command", Height: 4, Width: 4, Depth: 1, BytesPerElement: 4,
	}, m.Header)
	require.Len(t, m.Payload, 64)

	act, err := m.Tensor(nil, ImageShortcutOn)
	require.NoError(t, err)
	assert.Check(t, cmp.DeepEqual(act.Float32s(), src.Float32s(), cmpopts.EquateApprox(0, 1e-9)))

	empty, err := NewMessage("none", nil)
	require.NoError(t, err)
	require.Nil(t, empty.Payload)

	nt, err := empty.Tensor(nil, ImageShortcutOn)
	require.NoError(t, err)
	require.Nil(t, nt)
}
