package processor

import (
	"bytes"
	stderrors "errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
)

func TestDetectMimeTypeFromMagicBytes(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0}, "image/png"},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "image/jpeg"},
		{"gif", []byte("GIF89a...."), "image/gif"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "image/webp"},
		{"tiff le", []byte{0x49, 0x49, 0x2A, 0x00, 0x08}, "image/tiff"},
		{"tiff be", []byte{0x4D, 0x4D, 0x00, 0x2A, 0x08}, "image/tiff"},
		{"bmp", []byte("BM\x00\x00\x00\x00"), "image/bmp"},
		{"pdf", []byte("%PDF-1.7"), "application/pdf"},
		{"short", []byte{0x89}, ""},
		{"text", []byte("hello world"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detectMimeTypeFromMagicBytes(tt.data))
		})
	}
}

func TestDecodeImage_Formats(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 6, 4))
	for i := range src.Pix {
		src.Pix[i] = 255
	}
	src.Set(2, 1, color.RGBA{R: 200, G: 10, B: 10, A: 255})

	var jpg, bm bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpg, src, nil))
	require.NoError(t, bmp.Encode(&bm, src))

	for name, data := range map[string][]byte{"jpeg": jpg.Bytes(), "bmp": bm.Bytes()} {
		t.Run(name, func(t *testing.T) {
			r, err := DecodeImage("job", "", data, 0)
			require.NoError(t, err)
			assert.Equal(t, 6, r.Width)
			assert.Equal(t, 4, r.Height)
			assert.Equal(t, ocr.RGB, r.Model)
		})
	}
}

func TestDecodeImage_Errors(t *testing.T) {
	_, err := DecodeImage("job-1", "", nil, 0)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrDecodeFailed))

	_, err = DecodeImage("job-1", "image/png", []byte("not really a png"), 0)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrDecodeFailed))
}

func TestDecodeImage_PDFIsUnsupportedFormat(t *testing.T) {
	// magic bytes win over the declared type
	_, err := DecodeImage("job-1", "image/png", []byte("%PDF-1.4 not a raster"), 0)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrUnsupportedFormat))
	assert.False(t, stderrors.Is(err, errors.ErrDecodeFailed))
	assert.Contains(t, err.Error(), "application/pdf")

	_, err = DecodeImage("job-1", "text/plain", []byte("plain words"), 0)
	assert.True(t, stderrors.Is(err, errors.ErrUnsupportedFormat))
}

func TestDecodeImage_PixelLimit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 20, 20))))

	_, err := DecodeImage("job-1", "image/png", buf.Bytes(), 100)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrDecodeFailed))
	assert.Contains(t, err.Error(), "pixel limit")

	r, err := DecodeImage("job-1", "image/png", buf.Bytes(), 400)
	require.NoError(t, err)
	assert.Equal(t, 20, r.Width)
}

func TestMimeHelpers(t *testing.T) {
	assert.True(t, IsImageMimeType("image/png"))
	assert.True(t, IsImageMimeType(" Image/JPEG "))
	assert.False(t, IsImageMimeType("application/pdf"))
	assert.False(t, IsImageMimeType(""))

	assert.Equal(t, "image/gif", ResolveMimeType("image/png", []byte("GIF89a....")))
	assert.Equal(t, "image/png", ResolveMimeType("image/png", []byte("??")))
}
