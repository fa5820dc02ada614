package throw

import (
	"fmt"

	"github.com/pkg/errors"
)

// DType is an element encoding of Tensor.
type DType uint8

const (
	DTypeInvalid DType = iota
	Uint8
	Uint16
	Float32
	Float64
)

// Size returns element width in bytes. It returns 0 for DTypeInvalid.
func (d DType) Size() int {
	switch d {
	case Uint8:
		return 1
	case Uint16:
		return 2
	case Float32:
		return 4
	case Float64:
		return 8
	}

	return 0
}

func (d DType) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	}

	return fmt.Sprintf("DType(%d)", uint8(d))
}

// DTypeForWidth returns element type carried by bytesPerElement header field.
func DTypeForWidth(bytesPerElement int32) (DType, error) {
	switch bytesPerElement {
	case 1:
		return Uint8, nil
	case 2:
		return Uint16, nil
	case 4:
		return Float32, nil
	case 8:
		return Float64, nil
	}

	return DTypeInvalid, errors.Wrapf(ErrUnsupportedElementWidth, "%d", bytesPerElement)
}

// Tensor is a height x width x depth numeric array stored in row-major order.
// Tensor is not safe for concurrent mutation.
type Tensor struct {
	height, width, depth int
	dtype                DType

	// One of []uint8, []uint16, []float32, []float64.
	data interface{}
}

func dtypeOf(data interface{}) DType {
	switch data.(type) {
	case []uint8:
		return Uint8
	case []uint16:
		return Uint16
	case []float32:
		return Float32
	case []float64:
		return Float64
	}

	return DTypeInvalid
}

func dataLen(data interface{}) int {
	switch v := data.(type) {
	case []uint8:
		return len(v)
	case []uint16:
		return len(v)
	case []float32:
		return len(v)
	case []float64:
		return len(v)
	}

	return 0
}

// NewTensor creates Tensor backed by data without copying it.
// Data must be one of []uint8, []uint16, []float32 or []float64 and hold
// exactly height*width*depth elements.
func NewTensor(height, width, depth int, data interface{}) (*Tensor, error) {
	dt := dtypeOf(data)
	if dt == DTypeInvalid {
		return nil, errors.Wrapf(ErrUnsupportedDType, "%T", data)
	}

	if height < 0 || width < 0 || depth < 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "negative shape (%d,%d,%d)", height, width, depth)
	}

	if n := dataLen(data); n != height*width*depth {
		return nil, errors.Wrapf(ErrShapeMismatch, "%d elements for shape (%d,%d,%d)", n, height, width, depth)
	}

	return &Tensor{
		height: height,
		width:  width,
		depth:  depth,
		dtype:  dt,
		data:   data,
	}, nil
}

// MustTensor is like NewTensor but panics on error.
func MustTensor(height, width, depth int, data interface{}) *Tensor {
	t, err := NewTensor(height, width, depth, data)
	if err != nil {
		panic(err)
	}

	return t
}

// Zeros returns zero filled Tensor of given type and shape.
// It panics on DTypeInvalid and on negative dimensions.
func Zeros(dtype DType, height, width, depth int) *Tensor {
	if height < 0 || width < 0 || depth < 0 {
		panic(fmt.Sprintf("throw: zeros of negative shape (%d,%d,%d)", height, width, depth))
	}

	n := height * width * depth

	var data interface{}

	switch dtype {
	case Uint8:
		data = make([]uint8, n)
	case Uint16:
		data = make([]uint16, n)
	case Float32:
		data = make([]float32, n)
	case Float64:
		data = make([]float64, n)
	default:
		panic(fmt.Sprintf("throw: zeros of %s", dtype))
	}

	return &Tensor{height: height, width: width, depth: depth, dtype: dtype, data: data}
}

// Shape returns tensor dimensions.
func (t *Tensor) Shape() (height, width, depth int) {
	return t.height, t.width, t.depth
}

func (t *Tensor) DType() DType { return t.dtype }

// Len returns number of elements.
func (t *Tensor) Len() int { return t.height * t.width * t.depth }

// Data returns underlying typed slice.
func (t *Tensor) Data() interface{} { return t.data }

func (t *Tensor) Uint8s() []uint8     { v, _ := t.data.([]uint8); return v }
func (t *Tensor) Uint16s() []uint16   { v, _ := t.data.([]uint16); return v }
func (t *Tensor) Float32s() []float32 { v, _ := t.data.([]float32); return v }
func (t *Tensor) Float64s() []float64 { v, _ := t.data.([]float64); return v }

func (t *Tensor) index(y, x, c int) int {
	if y < 0 || y >= t.height || x < 0 || x >= t.width || c < 0 || c >= t.depth {
		panic(fmt.Sprintf("throw: index (%d,%d,%d) out of shape (%d,%d,%d)", y, x, c, t.height, t.width, t.depth))
	}

	return (y*t.width+x)*t.depth + c
}

// At returns element at row y, column x and channel c converted to float64.
func (t *Tensor) At(y, x, c int) float64 {
	return t.at(t.index(y, x, c))
}

// Set stores v at row y, column x and channel c converting it to tensor
// dtype.
func (t *Tensor) Set(y, x, c int, v float64) {
	t.set(t.index(y, x, c), v)
}

func (t *Tensor) at(i int) float64 {
	switch d := t.data.(type) {
	case []uint8:
		return float64(d[i])
	case []uint16:
		return float64(d[i])
	case []float32:
		return float64(d[i])
	case []float64:
		return d[i]
	}

	return 0
}

func (t *Tensor) set(i int, v float64) {
	switch d := t.data.(type) {
	case []uint8:
		d[i] = uint8(v)
	case []uint16:
		d[i] = uint16(v)
	case []float32:
		d[i] = float32(v)
	case []float64:
		d[i] = v
	}
}

// Clone returns deep copy of t.
func (t *Tensor) Clone() *Tensor {
	ret := *t

	switch d := t.data.(type) {
	case []uint8:
		ret.data = append([]uint8(nil), d...)
	case []uint16:
		ret.data = append([]uint16(nil), d...)
	case []float32:
		ret.data = append([]float32(nil), d...)
	case []float64:
		ret.data = append([]float64(nil), d...)
	}

	return &ret
}

// Map returns new tensor of the same shape and dtype with fn applied to
// every element. Results are converted back to t's dtype, so integer tensors
// truncate.
func (t *Tensor) Map(fn func(float64) float64) *Tensor {
	ret := t.Clone()
	for i, n := 0, ret.Len(); i < n; i++ {
		ret.set(i, fn(ret.at(i)))
	}

	return ret
}

// Convert returns copy of t with elements converted to dtype. Conversion to
// integer dtypes truncates. It panics on DTypeInvalid.
func (t *Tensor) Convert(dtype DType) *Tensor {
	if dtype == t.dtype {
		return t.Clone()
	}

	ret := Zeros(dtype, t.height, t.width, t.depth)
	for i, n := 0, t.Len(); i < n; i++ {
		ret.set(i, t.at(i))
	}

	return ret
}

// Equal reports whether t and u have the same dtype, shape and elements.
func (t *Tensor) Equal(u *Tensor) bool {
	if t == nil || u == nil {
		return t == u
	}

	if t.dtype != u.dtype || t.height != u.height || t.width != u.width || t.depth != u.depth {
		return false
	}

	for i, n := 0, t.Len(); i < n; i++ {
		a, b := t.at(i), u.at(i)
		if a != b && !(a != a && b != b) { // NaN equals NaN here.
			return false
		}
	}

	return true
}

func (t *Tensor) String() string {
	if t == nil {
		return "Tensor(nil)"
	}

	return fmt.Sprintf("Tensor(%s,%d,%d,%d)", t.dtype, t.height, t.width, t.depth)
}
