package throw

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	// Register decoders for image.Decode.
	_ "golang.org/x/image/webp"
)

// ImageCodec converts between compressed image files and tensors.
type ImageCodec interface {
	// DecodeImage returns (height, width, channels) tensor of the image.
	// It returns error that matches ErrImageFormat if data is not in a
	// known image format.
	DecodeImage(data []byte) (*Tensor, error)
	// EncodeImage compresses t into format (e.g. "png", "jpeg").
	EncodeImage(t *Tensor, format string) ([]byte, error)
}

// DefaultImageCodec is used when no codec is configured.
var DefaultImageCodec ImageCodec = StdImageCodec{}

// StdImageCodec decodes png, jpeg, gif, bmp, tiff and webp images and
// encodes every format except webp.
//
// Decoded channel layout: grayscale images give one uint8 channel, 16-bit
// grayscale gives one uint16 channel, 16-bit color gives four uint16
// channels, opaque images give three uint8 channels (RGB) and everything
// else gives four uint8 channels (RGBA, not premultiplied).
type StdImageCodec struct {
	// JPEGQuality is passed to jpeg encoder. Zero means jpeg.DefaultQuality.
	JPEGQuality int
}

func (c StdImageCodec) DecodeImage(data []byte) (*Tensor, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err == image.ErrFormat {
		return nil, errors.Wrapf(ErrImageFormat, "%d bytes", len(data))
	}

	if err != nil {
		return nil, errors.Wrap(err, "throw: decode image")
	}

	return imageToTensor(img), nil
}

func (c StdImageCodec) EncodeImage(t *Tensor, format string) ([]byte, error) {
	img, err := tensorToImage(t)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	switch strings.ToLower(format) {
	case "", "png":
		err = png.Encode(&buf, img)
	case "jpeg", "jpg":
		q := c.JPEGQuality
		if q == 0 {
			q = jpeg.DefaultQuality
		}

		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: q})
	case "gif":
		err = gif.Encode(&buf, img, nil)
	case "bmp":
		err = bmp.Encode(&buf, img)
	case "tiff", "tif":
		err = tiff.Encode(&buf, img, nil)
	default:
		return nil, errors.Errorf("throw: unsupported image format %q", format)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "throw: encode %s", format)
	}

	return buf.Bytes(), nil
}

func imageToTensor(img image.Image) *Tensor {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()

	switch im := img.(type) {
	case *image.Gray:
		t := Zeros(Uint8, h, w, 1)
		d := t.Uint8s()
		for y := 0; y < h; y++ {
			copy(d[y*w:(y+1)*w], im.Pix[y*im.Stride:])
		}

		return t
	case *image.Gray16:
		t := Zeros(Uint16, h, w, 1)
		d := t.Uint16s()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				d[y*w+x] = im.Gray16At(b.Min.X+x, b.Min.Y+y).Y
			}
		}

		return t
	case *image.RGBA64, *image.NRGBA64:
		t := Zeros(Uint16, h, w, 4)
		d := t.Uint16s()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
				i := (y*w + x) * 4
				d[i], d[i+1], d[i+2], d[i+3] = c.R, c.G, c.B, c.A
			}
		}

		return t
	}

	depth := 4
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		depth = 3
	}

	t := Zeros(Uint8, h, w, depth)
	d := t.Uint8s()

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := (y*w + x) * depth
			d[i], d[i+1], d[i+2] = c.R, c.G, c.B

			if depth == 4 {
				d[i+3] = c.A
			}
		}
	}

	return t
}

func tensorToImage(t *Tensor) (image.Image, error) {
	if t == nil {
		return nil, errors.Wrap(ErrShapeMismatch, "nil tensor")
	}

	h, w, depth := t.Shape()
	r := image.Rect(0, 0, w, h)

	switch t.DType() {
	case Uint8:
		src := t.Uint8s()

		switch depth {
		case 1:
			img := image.NewGray(r)
			copy(img.Pix, src)

			return img, nil
		case 3, 4:
			img := image.NewNRGBA(r)
			for i, j := 0, 0; i < len(src); i, j = i+depth, j+4 {
				copy(img.Pix[j:j+3], src[i:i+3])

				img.Pix[j+3] = 0xff
				if depth == 4 {
					img.Pix[j+3] = src[i+3]
				}
			}

			return img, nil
		}
	case Uint16:
		src := t.Uint16s()

		switch depth {
		case 1:
			img := image.NewGray16(r)
			for i, v := range src {
				img.SetGray16(i%w, i/w, color.Gray16{Y: v})
			}

			return img, nil
		case 3, 4:
			img := image.NewNRGBA64(r)
			for i, p := 0, 0; i < len(src); i, p = i+depth, p+1 {
				c := color.NRGBA64{R: src[i], G: src[i+1], B: src[i+2], A: 0xffff}
				if depth == 4 {
					c.A = src[i+3]
				}

				img.SetNRGBA64(p%w, p/w, c)
			}

			return img, nil
		}
	default:
		return nil, errors.Wrapf(ErrUnsupportedDType, "%s image", t.DType())
	}

	return nil, errors.Wrapf(ErrShapeMismatch, "%d channel image", depth)
}
