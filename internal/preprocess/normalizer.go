/**
 * Image Normalizer
 *
 * Turns a decoded raster into an engine-specific recognition input:
 * grayscale → upscale → non-local-means denoise → CLAHE, then a per-engine
 * tail (Otsu + morphology for block text, light blur for span detection).
 * The sequence-to-sequence engine gets a separate color path.
 *
 * Failures never abort a request: any stage error degrades the output to a
 * plain grayscale conversion of the input (the color path degrades to a
 * resized copy of the input). Working rasters are capped at MaxPixels.
 */

package preprocess

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
)

// Options tunes the normalizer
type Options struct {
	MinDimension int     // upscale when width or height is below this
	MinUpscale   float64 // scale floor once upscaling triggers
	MaxPixels    int     // largest working raster the gray pipeline accepts

	DenoiseStrength     float64
	DenoisePatchRadius  int
	DenoiseSearchRadius int

	CLAHEClipLimit float64
	CLAHETiles     int

	MorphKernel   int     // structuring element side for close/open
	SpanBlurSigma float64 // Gaussian sigma for the span detector tail

	Seq2SeqSize int // square bound for the color path
	Sharpness   float64
	Contrast    float64
	Brightness  float64
}

// DefaultOptions returns the tuned defaults
func DefaultOptions() Options {
	return Options{
		MinDimension:        800,
		MinUpscale:          2.0,
		MaxPixels:           16_000_000,
		DenoiseStrength:     10,
		DenoisePatchRadius:  3,
		DenoiseSearchRadius: 3,
		CLAHEClipLimit:      2.0,
		CLAHETiles:          8,
		MorphKernel:         1,
		SpanBlurSigma:       0.5,
		Seq2SeqSize:         384,
		Sharpness:           1.5,
		Contrast:            1.3,
		Brightness:          1.1,
	}
}

// Normalizer produces per-engine rasters. Safe for concurrent use.
type Normalizer struct {
	opts   Options
	logger *logging.Logger

	// enhance and colorize are the failure-prone pipelines; tests swap them
	enhance  func(*ocr.RasterImage, ocr.EngineKind) (*ocr.RasterImage, error)
	colorize func(*ocr.RasterImage) (*ocr.RasterImage, error)
}

// NewNormalizer creates a normalizer
func NewNormalizer(opts Options, logger *logging.Logger) *Normalizer {
	if logger == nil {
		logger = logging.NewLogger("preprocess")
	}
	n := &Normalizer{opts: opts, logger: logger}
	n.enhance = n.enhanceGray
	n.colorize = n.enhanceColor
	return n
}

// Normalize returns a new raster prepared for target. degraded is true when a
// stage failed and the output is the plain grayscale fallback.
func (n *Normalizer) Normalize(src *ocr.RasterImage, target ocr.EngineKind) (out *ocr.RasterImage, degraded bool) {
	out, err := n.guard("normalize", func() (*ocr.RasterImage, error) { return n.enhance(src, target) })
	if err != nil {
		n.logger.Warn("Preprocessing degraded, using plain grayscale",
			"target", target.String(), "error", errors.NewPreprocessingDegradedError("normalize", err))
		return plainGray(src), true
	}
	return out, false
}

// EnhanceForSeq2Seq returns an RGB raster that fits the model's input square.
// It never binarizes.
func (n *Normalizer) EnhanceForSeq2Seq(src *ocr.RasterImage) (out *ocr.RasterImage, degraded bool) {
	out, err := n.guard("seq2seq", func() (*ocr.RasterImage, error) { return n.colorize(src) })
	if err != nil {
		n.logger.Warn("Color enhancement degraded, using resized input",
			"error", errors.NewPreprocessingDegradedError("seq2seq", err))
		return n.plainColor(src), true
	}
	return out, false
}

func (n *Normalizer) guard(stage string, fn func() (*ocr.RasterImage, error)) (out *ocr.RasterImage, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panic in %s: %v", stage, r)
		}
	}()
	return fn()
}

func (n *Normalizer) enhanceGray(src *ocr.RasterImage, target ocr.EngineKind) (*ocr.RasterImage, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}

	gray, err := n.upscale(toGray(src))
	if err != nil {
		return nil, err
	}
	if gray, err = denoise(gray, n.opts.DenoiseStrength, n.opts.DenoisePatchRadius, n.opts.DenoiseSearchRadius); err != nil {
		return nil, fmt.Errorf("denoise: %w", err)
	}
	if gray, err = equalize(gray, n.opts.CLAHEClipLimit, n.opts.CLAHETiles); err != nil {
		return nil, fmt.Errorf("clahe: %w", err)
	}

	switch target {
	case ocr.TesseractLike:
		bin, err := binarizeOtsu(gray)
		if err != nil {
			return nil, fmt.Errorf("otsu: %w", err)
		}
		return closeOpen(bin, n.opts.MorphKernel)
	case ocr.SpanDetector:
		return gaussianBlur(gray, n.opts.SpanBlurSigma)
	default:
		return gray, nil
	}
}

// UpscaleSize returns the target size for a w×h input
func UpscaleSize(w, h, minDim int, minScale float64) (int, int) {
	if w >= minDim && h >= minDim {
		return w, h
	}
	scale := math.Max(math.Max(float64(minDim)/float64(h), float64(minDim)/float64(w)), minScale)
	return int(math.Round(float64(w) * scale)), int(math.Round(float64(h) * scale))
}

// upscale enforces the size floor. A target beyond MaxPixels is an error so
// the request degrades instead of allocating an unbounded raster.
func (n *Normalizer) upscale(gray *ocr.RasterImage) (*ocr.RasterImage, error) {
	nw, nh := UpscaleSize(gray.Width, gray.Height, n.opts.MinDimension, n.opts.MinUpscale)
	if n.opts.MaxPixels > 0 && nw*nh > n.opts.MaxPixels {
		return nil, fmt.Errorf("working raster %dx%d exceeds %d pixels", nw, nh, n.opts.MaxPixels)
	}
	if nw == gray.Width && nh == gray.Height {
		return gray, nil
	}
	resized := imaging.Resize(gray.ToImage(), nw, nh, imaging.Lanczos)
	return ocr.FromImage(resized, ocr.Gray), nil
}

func (n *Normalizer) enhanceColor(src *ocr.RasterImage) (*ocr.RasterImage, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}

	img := imaging.Clone(src.ToImage())
	img = sharpen(img, n.opts.Sharpness)
	img = contrast(img, n.opts.Contrast)
	img = imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: clampByte(float64(c.R) * n.opts.Brightness),
			G: clampByte(float64(c.G) * n.opts.Brightness),
			B: clampByte(float64(c.B) * n.opts.Brightness),
			A: c.A,
		}
	})
	img = imaging.Fit(img, n.opts.Seq2SeqSize, n.opts.Seq2SeqSize, imaging.Lanczos)

	return ocr.FromImage(img, ocr.RGB), nil
}

// sharpen blends the image away from a 3×3 smoothed copy by factor
func sharpen(img *image.NRGBA, factor float64) *image.NRGBA {
	smooth := imaging.Convolve3x3(img, [9]float64{1, 1, 1, 1, 5, 1, 1, 1, 1}, &imaging.ConvolveOptions{Normalize: true})
	out := image.NewNRGBA(img.Bounds())
	for i := 0; i < len(img.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			s := float64(smooth.Pix[i+c])
			out.Pix[i+c] = clampByte(s + factor*(float64(img.Pix[i+c])-s))
		}
		out.Pix[i+3] = img.Pix[i+3]
	}
	return out
}

// contrast scales each channel around the image's mean luminance
func contrast(img *image.NRGBA, factor float64) *image.NRGBA {
	total := 0.0
	n := 0
	for i := 0; i < len(img.Pix); i += 4 {
		total += 0.299*float64(img.Pix[i]) + 0.587*float64(img.Pix[i+1]) + 0.114*float64(img.Pix[i+2])
		n++
	}
	if n == 0 {
		return img
	}
	mean := math.Round(total / float64(n))

	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: clampByte(mean + factor*(float64(c.R)-mean)),
			G: clampByte(mean + factor*(float64(c.G)-mean)),
			B: clampByte(mean + factor*(float64(c.B)-mean)),
			A: c.A,
		}
	})
}

func toGray(src *ocr.RasterImage) *ocr.RasterImage {
	if src.Model == ocr.Gray {
		return src.Clone()
	}
	return ocr.FromImage(imaging.Grayscale(src.ToImage()), ocr.Gray)
}

// plainGray is the degradation target; nil when the input itself is unusable
func plainGray(src *ocr.RasterImage) *ocr.RasterImage {
	if src.Validate() != nil {
		return nil
	}
	return toGray(src)
}

// plainColor is the color path's degradation target: the input shrunk into
// the model square, without enhancement
func (n *Normalizer) plainColor(src *ocr.RasterImage) *ocr.RasterImage {
	if src.Validate() != nil {
		return nil
	}
	fitted := imaging.Fit(src.ToImage(), n.opts.Seq2SeqSize, n.opts.Seq2SeqSize, imaging.Lanczos)
	return ocr.FromImage(fitted, ocr.RGB)
}
