package processor

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"strings"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
)

// DefaultMaxImagePixels bounds decoded rasters when no limit is configured
const DefaultMaxImagePixels = 40_000_000

// DecodeImage decodes raw bytes into an RGB raster. declaredType is the
// caller's content type; magic bytes take precedence over it. A known
// non-raster format is an UnsupportedFormatError, anything else that fails
// is a DecodeError. Both are fatal to the request.
func DecodeImage(jobID, declaredType string, data []byte, maxPixels int) (*ocr.RasterImage, error) {
	if len(data) == 0 {
		return nil, errors.NewDecodeError(jobID, fmt.Errorf("empty image payload"))
	}

	mimeType := ResolveMimeType(declaredType, data)
	if mimeType != "" && !IsImageMimeType(mimeType) {
		return nil, errors.NewUnsupportedFormatError(jobID, mimeType)
	}

	// Check dimensions from the header before allocating any pixels
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errors.NewDecodeError(jobID, fmt.Errorf("decode (detected %q): %w", mimeType, err))
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxImagePixels
	}
	if cfg.Width*cfg.Height > maxPixels {
		return nil, errors.NewDecodeError(jobID, fmt.Errorf("%s image is %dx%d, above the %d pixel limit",
			format, cfg.Width, cfg.Height, maxPixels))
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.NewDecodeError(jobID, fmt.Errorf("decode (detected %q): %w", mimeType, err))
	}

	raster := ocr.FromImage(img, ocr.RGB)
	if err := raster.Validate(); err != nil {
		return nil, errors.NewDecodeError(jobID, fmt.Errorf("%s image: %w", format, err))
	}
	return raster, nil
}

// IsImageMimeType reports whether a declared content type is image/*
func IsImageMimeType(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/")
}

// ResolveMimeType prefers the type detected from magic bytes over the
// declared one
func ResolveMimeType(declared string, data []byte) string {
	if detected := detectMimeTypeFromMagicBytes(data); detected != "" {
		return detected
	}
	return declared
}

// detectMimeTypeFromMagicBytes recognizes the raster formats the decoder
// supports, plus PDF so it can be rejected explicitly
func detectMimeTypeFromMagicBytes(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	// PDF: %PDF-
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return "application/pdf"
	}

	// PNG: 0x89 'P' 'N' 'G' 0x0D 0x0A 0x1A 0x0A
	if len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) {
		return "image/png"
	}

	// JPEG: 0xFF 0xD8 0xFF
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		return "image/jpeg"
	}

	// GIF: 'G' 'I' 'F' '8' ('7' or '9') 'a'
	if bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")) {
		return "image/gif"
	}

	// WebP: 'R' 'I' 'F' 'F' .... 'W' 'E' 'B' 'P'
	if len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP" {
		return "image/webp"
	}

	// TIFF: little-endian or big-endian byte order mark
	if bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}) {
		return "image/tiff"
	}

	// BMP: 'B' 'M'
	if bytes.HasPrefix(data, []byte("BM")) {
		return "image/bmp"
	}

	return ""
}
