//go:build !cgo || !ocr

package preprocess

import (
	"math"

	"github.com/disintegration/imaging"

	"github.com/adverant/nexus/ocr-worker/internal/ocr"
)

// Pure Go grayscale stages for builds without OpenCV. All of them read a
// single-channel raster and return a new one.

const filterBackend = "pure-go"

func denoise(src *ocr.RasterImage, h float64, patchRadius, searchRadius int) (*ocr.RasterImage, error) {
	return denoiseNLM(src, h, patchRadius, searchRadius), nil
}

func equalize(src *ocr.RasterImage, clipLimit float64, tiles int) (*ocr.RasterImage, error) {
	return clahe(src, clipLimit, tiles), nil
}

func binarizeOtsu(src *ocr.RasterImage) (*ocr.RasterImage, error) {
	return binarize(src, otsuThreshold(src)), nil
}

func closeOpen(src *ocr.RasterImage, k int) (*ocr.RasterImage, error) {
	return morphOpen(morphClose(src, k), k), nil
}

func gaussianBlur(src *ocr.RasterImage, sigma float64) (*ocr.RasterImage, error) {
	return ocr.FromImage(imaging.Blur(src.ToImage(), sigma), ocr.Gray), nil
}

// denoiseNLM is a non-local-means filter. Patch distances for each search
// offset come from an integral image of squared differences, so the cost is
// independent of the patch size.
func denoiseNLM(src *ocr.RasterImage, h float64, patchRadius, searchRadius int) *ocr.RasterImage {
	w, ht := src.Width, src.Height
	in := src.Pix
	sumW := make([]float64, w*ht)
	sumV := make([]float64, w*ht)
	integral := make([]float64, (w+1)*(ht+1))
	weights := nlmWeights(h)
	stride := w + 1

	for dy := -searchRadius; dy <= searchRadius; dy++ {
		for dx := -searchRadius; dx <= searchRadius; dx++ {
			for y := 0; y < ht; y++ {
				sy := clampInt(y+dy, 0, ht-1)
				rowSum := 0.0
				for x := 0; x < w; x++ {
					sx := clampInt(x+dx, 0, w-1)
					d := float64(in[y*w+x]) - float64(in[sy*w+sx])
					rowSum += d * d
					integral[(y+1)*stride+x+1] = integral[y*stride+x+1] + rowSum
				}
			}

			for y := 0; y < ht; y++ {
				y0 := max(y-patchRadius, 0)
				y1 := min(y+patchRadius, ht-1)
				sy := clampInt(y+dy, 0, ht-1)
				for x := 0; x < w; x++ {
					x0 := max(x-patchRadius, 0)
					x1 := min(x+patchRadius, w-1)
					area := float64((x1 - x0 + 1) * (y1 - y0 + 1))
					s := integral[(y1+1)*stride+x1+1] - integral[y0*stride+x1+1] -
						integral[(y1+1)*stride+x0] + integral[y0*stride+x0]

					idx := int(s / area)
					if idx >= len(weights) {
						idx = len(weights) - 1
					}
					wt := weights[idx]
					i := y*w + x
					sumW[i] += wt
					sumV[i] += wt * float64(in[sy*w+clampInt(x+dx, 0, w-1)])
				}
			}
		}
	}

	out := ocr.NewRaster(w, ht, ocr.Gray)
	for i := range out.Pix {
		out.Pix[i] = clampByte(sumV[i] / sumW[i])
	}
	return out
}

// nlmWeights maps a mean squared patch distance to exp(-d/h^2)
func nlmWeights(h float64) []float64 {
	lut := make([]float64, 255*255+1)
	h2 := h * h
	for i := range lut {
		lut[i] = math.Exp(-float64(i) / h2)
	}
	return lut
}

// clahe applies contrast-limited adaptive histogram equalization. The clip
// limit is relative to a uniform histogram, so 2.0 caps each bin at twice the
// tile's mean bin height.
func clahe(src *ocr.RasterImage, clipLimit float64, tiles int) *ocr.RasterImage {
	w, h := src.Width, src.Height
	tilesX := min(tiles, w)
	tilesY := min(tiles, h)

	luts := make([][256]uint8, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		y0, y1 := ty*h/tilesY, (ty+1)*h/tilesY
		for tx := 0; tx < tilesX; tx++ {
			x0, x1 := tx*w/tilesX, (tx+1)*w/tilesX
			luts[ty*tilesX+tx] = tileLUT(src, x0, y0, x1, y1, clipLimit)
		}
	}

	tileW := float64(w) / float64(tilesX)
	tileH := float64(h) / float64(tilesY)
	out := ocr.NewRaster(w, h, ocr.Gray)

	for y := 0; y < h; y++ {
		fy := (float64(y)+0.5)/tileH - 0.5
		ty0 := int(math.Floor(fy))
		wy := fy - float64(ty0)
		ty1 := clampInt(ty0+1, 0, tilesY-1)
		ty0 = clampInt(ty0, 0, tilesY-1)

		for x := 0; x < w; x++ {
			fx := (float64(x)+0.5)/tileW - 0.5
			tx0 := int(math.Floor(fx))
			wx := fx - float64(tx0)
			tx1 := clampInt(tx0+1, 0, tilesX-1)
			tx0 = clampInt(tx0, 0, tilesX-1)

			v := src.Pix[y*w+x]
			top := (1-wx)*float64(luts[ty0*tilesX+tx0][v]) + wx*float64(luts[ty0*tilesX+tx1][v])
			bottom := (1-wx)*float64(luts[ty1*tilesX+tx0][v]) + wx*float64(luts[ty1*tilesX+tx1][v])
			out.Pix[y*w+x] = clampByte((1-wy)*top + wy*bottom)
		}
	}
	return out
}

func tileLUT(src *ocr.RasterImage, x0, y0, x1, y1 int, clipLimit float64) [256]uint8 {
	var hist [256]int
	for y := y0; y < y1; y++ {
		row := src.Pix[y*src.Width:]
		for x := x0; x < x1; x++ {
			hist[row[x]]++
		}
	}

	area := (x1 - x0) * (y1 - y0)
	limit := max(int(clipLimit*float64(area)/256), 1)

	excess := 0
	for i := range hist {
		if hist[i] > limit {
			excess += hist[i] - limit
			hist[i] = limit
		}
	}

	inc, rem := excess/256, excess%256
	for i := range hist {
		hist[i] += inc
	}
	if rem > 0 {
		step := max(256/rem, 1)
		for i := 0; i < 256 && rem > 0; i += step {
			hist[i]++
			rem--
		}
	}

	var lut [256]uint8
	cdf := 0
	scale := 255.0 / float64(area)
	for i := range hist {
		cdf += hist[i]
		lut[i] = clampByte(float64(cdf) * scale)
	}
	return lut
}

// otsuThreshold picks the threshold maximizing between-class variance
func otsuThreshold(src *ocr.RasterImage) uint8 {
	var hist [256]int
	for _, v := range src.Pix {
		hist[v]++
	}

	total := float64(len(src.Pix))
	sum := 0.0
	for i, c := range hist {
		sum += float64(i * c)
	}

	var sumB, wB, best float64
	threshold := 0
	for t, c := range hist {
		wB += float64(c)
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * c)
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = t
		}
	}
	return uint8(threshold)
}

// binarize maps values above threshold to white and the rest to black
func binarize(src *ocr.RasterImage, threshold uint8) *ocr.RasterImage {
	out := ocr.NewRaster(src.Width, src.Height, ocr.Gray)
	for i, v := range src.Pix {
		if v > threshold {
			out.Pix[i] = 255
		}
	}
	return out
}

// morphClose is dilate then erode with a k×k square
func morphClose(src *ocr.RasterImage, k int) *ocr.RasterImage {
	return morph(morph(src, k, true), k, false)
}

// morphOpen is erode then dilate with a k×k square
func morphOpen(src *ocr.RasterImage, k int) *ocr.RasterImage {
	return morph(morph(src, k, false), k, true)
}

func morph(src *ocr.RasterImage, k int, dilate bool) *ocr.RasterImage {
	r := k / 2
	out := src.Clone()
	if r == 0 {
		return out
	}

	w, h := src.Width, src.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			acc := src.Pix[y*w+x]
			for yy := max(y-r, 0); yy <= min(y+r, h-1); yy++ {
				for xx := max(x-r, 0); xx <= min(x+r, w-1); xx++ {
					v := src.Pix[yy*w+xx]
					if dilate && v > acc || !dilate && v < acc {
						acc = v
					}
				}
			}
			out.Pix[y*w+x] = acc
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
