// Package texture converts decoded document images into the single pixel
// layout uploaded to the device, 8-bit BGRA.
package texture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrUnknownFormat means that a source pixel format has no conversion.
var ErrUnknownFormat = errors.New("texture: unknown pixel format")

// ErrPixelCount means that pixel data does not match the image dimensions.
var ErrPixelCount = errors.New("texture: pixel data does not match dimensions")

// PixelFormat is the channel layout of decoded 8-bit image data.
type PixelFormat int

const (
	FormatR8 PixelFormat = iota
	FormatRG8
	FormatRGB8
	FormatRGBA8
	FormatBGR8
	FormatBGRA8
)

// Channels returns the number of bytes per pixel, or 0 for unknown formats.
func (f PixelFormat) Channels() int {
	switch f {
	case FormatR8:
		return 1
	case FormatRG8:
		return 2
	case FormatRGB8, FormatBGR8:
		return 3
	case FormatRGBA8, FormatBGRA8:
		return 4
	default:
		return 0
	}
}

func (f PixelFormat) String() string {
	switch f {
	case FormatR8:
		return "R8"
	case FormatRG8:
		return "RG8"
	case FormatRGB8:
		return "RGB8"
	case FormatRGBA8:
		return "RGBA8"
	case FormatBGR8:
		return "BGR8"
	case FormatBGRA8:
		return "BGRA8"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int(f))
	}
}

// ImageData is a decoded image with tightly packed rows.
type ImageData struct {
	Name   string
	Width  uint32
	Height uint32
	Format PixelFormat
	Pixels []byte
}

// ToBGRA8 converts img to 8-bit BGRA. Single-channel data is treated as
// luminance and two-channel data as luminance plus alpha. Missing alpha
// becomes opaque.
func ToBGRA8(img ImageData) ([]byte, error) {
	ch := img.Format.Channels()
	if ch == 0 {
		return nil, fmt.Errorf("%s: %w", img.Format, ErrUnknownFormat)
	}
	n := int(img.Width) * int(img.Height)
	if len(img.Pixels) != n*ch {
		return nil, fmt.Errorf("%dx%d %s with %d bytes: %w", img.Width, img.Height, img.Format, len(img.Pixels), ErrPixelCount)
	}

	out := make([]byte, n*4)
	src := img.Pixels
	for i := 0; i < n; i++ {
		s := src[i*ch : i*ch+ch]
		d := out[i*4 : i*4+4]
		switch img.Format {
		case FormatR8:
			d[0], d[1], d[2], d[3] = s[0], s[0], s[0], 0xFF
		case FormatRG8:
			d[0], d[1], d[2], d[3] = s[0], s[0], s[0], s[1]
		case FormatRGB8:
			d[0], d[1], d[2], d[3] = s[2], s[1], s[0], 0xFF
		case FormatRGBA8:
			d[0], d[1], d[2], d[3] = s[2], s[1], s[0], s[3]
		case FormatBGR8:
			d[0], d[1], d[2], d[3] = s[0], s[1], s[2], 0xFF
		case FormatBGRA8:
			copy(d, s)
		}
	}
	return out, nil
}

// Decode decodes PNG, JPEG, WebP or BMP data.
func Decode(data []byte) (ImageData, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return ImageData{}, fmt.Errorf("texture: decode: %w", err)
	}
	return FromImage(img), nil
}

// FromImage packs a decoded image. Gray and 8-bit RGBA images keep their
// layout; everything else is drawn into non-premultiplied RGBA.
func FromImage(img image.Image) ImageData {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := ImageData{Width: uint32(w), Height: uint32(h)}

	switch src := img.(type) {
	case *image.Gray:
		out.Format = FormatR8
		out.Pixels = packRows(src.Pix, src.Stride, w, h, 1)
		return out
	case *image.NRGBA:
		out.Format = FormatRGBA8
		out.Pixels = packRows(src.Pix, src.Stride, w, h, 4)
		return out
	case *image.RGBA:
		// Premultiplied and straight alpha agree only when opaque.
		if src.Opaque() {
			out.Format = FormatRGBA8
			out.Pixels = packRows(src.Pix, src.Stride, w, h, 4)
			return out
		}
	}

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	out.Format = FormatRGBA8
	out.Pixels = dst.Pix
	return out
}

func packRows(pix []byte, stride, w, h, bpp int) []byte {
	row := w * bpp
	if stride == row {
		return append([]byte(nil), pix[:row*h]...)
	}
	out := make([]byte, 0, row*h)
	for y := 0; y < h; y++ {
		out = append(out, pix[y*stride:y*stride+row]...)
	}
	return out
}
