//go:build cgo && ocr

package preprocess

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/adverant/nexus/ocr-worker/internal/ocr"
)

// OpenCV grayscale stages. Each call wraps the raster in a Mat, runs one
// operation and copies the result back, so no Mat outlives the call.

const filterBackend = "opencv"

func denoise(src *ocr.RasterImage, h float64, patchRadius, searchRadius int) (*ocr.RasterImage, error) {
	return withGrayMat(src, func(in gocv.Mat, out *gocv.Mat) {
		gocv.FastNlMeansDenoisingWithParams(in, out, float32(h), 2*patchRadius+1, 2*searchRadius+1)
	})
}

func equalize(src *ocr.RasterImage, clipLimit float64, tiles int) (*ocr.RasterImage, error) {
	return withGrayMat(src, func(in gocv.Mat, out *gocv.Mat) {
		c := gocv.NewCLAHEWithParams(clipLimit, image.Pt(tiles, tiles))
		defer c.Close()
		c.Apply(in, out)
	})
}

func binarizeOtsu(src *ocr.RasterImage) (*ocr.RasterImage, error) {
	return withGrayMat(src, func(in gocv.Mat, out *gocv.Mat) {
		gocv.Threshold(in, out, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)
	})
}

func closeOpen(src *ocr.RasterImage, k int) (*ocr.RasterImage, error) {
	return withGrayMat(src, func(in gocv.Mat, out *gocv.Mat) {
		kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(k, k))
		defer kernel.Close()

		closed := gocv.NewMat()
		defer closed.Close()
		gocv.MorphologyEx(in, &closed, gocv.MorphClose, kernel)
		gocv.MorphologyEx(closed, out, gocv.MorphOpen, kernel)
	})
}

func gaussianBlur(src *ocr.RasterImage, sigma float64) (*ocr.RasterImage, error) {
	return withGrayMat(src, func(in gocv.Mat, out *gocv.Mat) {
		gocv.GaussianBlur(in, out, image.Pt(0, 0), sigma, sigma, gocv.BorderDefault)
	})
}

func withGrayMat(src *ocr.RasterImage, op func(in gocv.Mat, out *gocv.Mat)) (*ocr.RasterImage, error) {
	if src.Model != ocr.Gray {
		return nil, fmt.Errorf("opencv stage expects a grayscale raster, got %d channels", src.Model.Channels())
	}

	in, err := gocv.NewMatFromBytes(src.Height, src.Width, gocv.MatTypeCV8UC1, src.Pix)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap raster: %w", err)
	}
	defer in.Close()

	out := gocv.NewMat()
	defer out.Close()
	op(in, &out)

	if out.Empty() || out.Rows() != src.Height || out.Cols() != src.Width {
		return nil, fmt.Errorf("opencv stage returned %dx%d for a %dx%d input", out.Cols(), out.Rows(), src.Width, src.Height)
	}

	dst := ocr.NewRaster(src.Width, src.Height, ocr.Gray)
	copy(dst.Pix, out.ToBytes())
	return dst, nil
}
