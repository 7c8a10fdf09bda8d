package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

// ColorModel is the channel layout of a RasterImage
type ColorModel int

const (
	Gray ColorModel = iota
	RGB
)

// Channels returns bytes per pixel
func (m ColorModel) Channels() int {
	if m == RGB {
		return 3
	}
	return 1
}

// RasterImage is an owned pixel grid. Stages never share Pix.
type RasterImage struct {
	Width  int
	Height int
	Model  ColorModel
	Pix    []uint8
}

// NewRaster allocates a zeroed image
func NewRaster(width, height int, model ColorModel) *RasterImage {
	return &RasterImage{
		Width:  width,
		Height: height,
		Model:  model,
		Pix:    make([]uint8, width*height*model.Channels()),
	}
}

// Validate reports a malformed grid
func (r *RasterImage) Validate() error {
	if r == nil {
		return fmt.Errorf("nil raster")
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("invalid raster dimensions %dx%d", r.Width, r.Height)
	}
	if len(r.Pix) != r.Width*r.Height*r.Model.Channels() {
		return fmt.Errorf("raster buffer has %d bytes, want %d", len(r.Pix), r.Width*r.Height*r.Model.Channels())
	}
	return nil
}

// Clone returns a deep copy
func (r *RasterImage) Clone() *RasterImage {
	pix := make([]uint8, len(r.Pix))
	copy(pix, r.Pix)
	return &RasterImage{Width: r.Width, Height: r.Height, Model: r.Model, Pix: pix}
}

// ToImage exposes the grid as an image.Image backed by a copy
func (r *RasterImage) ToImage() image.Image {
	rect := image.Rect(0, 0, r.Width, r.Height)
	if r.Model == Gray {
		img := image.NewGray(rect)
		copy(img.Pix, r.Pix)
		return img
	}
	img := image.NewNRGBA(rect)
	for i, j := 0, 0; i < len(r.Pix); i, j = i+3, j+4 {
		img.Pix[j] = r.Pix[i]
		img.Pix[j+1] = r.Pix[i+1]
		img.Pix[j+2] = r.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// EncodePNG serializes the grid for backends that take encoded bytes
func (r *RasterImage) EncodePNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, r.ToImage()); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// FromImage copies any image.Image into a raster of the given model
func FromImage(img image.Image, model ColorModel) *RasterImage {
	b := img.Bounds()
	out := NewRaster(b.Dx(), b.Dy(), model)

	switch src := img.(type) {
	case *image.Gray:
		if model == Gray {
			for y := 0; y < out.Height; y++ {
				row := src.Pix[(y+b.Min.Y-src.Rect.Min.Y)*src.Stride+(b.Min.X-src.Rect.Min.X):]
				copy(out.Pix[y*out.Width:(y+1)*out.Width], row[:out.Width])
			}
			return out
		}
	case *image.NRGBA:
		for y := 0; y < out.Height; y++ {
			row := src.Pix[(y+b.Min.Y-src.Rect.Min.Y)*src.Stride+(b.Min.X-src.Rect.Min.X)*4:]
			for x := 0; x < out.Width; x++ {
				p := row[x*4 : x*4+4]
				out.set(x, y, compositeWhite(p[0], p[3]), compositeWhite(p[1], p[3]), compositeWhite(p[2], p[3]))
			}
		}
		return out
	}

	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			out.set(x, y, compositeWhite(c.R, c.A), compositeWhite(c.G, c.A), compositeWhite(c.B, c.A))
		}
	}
	return out
}

func (r *RasterImage) set(x, y int, red, green, blue uint8) {
	if r.Model == Gray {
		r.Pix[y*r.Width+x] = luma(red, green, blue)
		return
	}
	i := (y*r.Width + x) * 3
	r.Pix[i], r.Pix[i+1], r.Pix[i+2] = red, green, blue
}

// compositeWhite flattens transparency onto a white page
func compositeWhite(v, a uint8) uint8 {
	if a == 0xff {
		return v
	}
	return uint8((uint32(v)*uint32(a) + 0xff*(0xff-uint32(a)) + 127) / 0xff)
}

func luma(r, g, b uint8) uint8 {
	return uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(b) + 500) / 1000)
}
