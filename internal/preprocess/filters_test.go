package preprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/ocr-worker/internal/ocr"
)

func grayFrom(w, h int, pix ...uint8) *ocr.RasterImage {
	r := ocr.NewRaster(w, h, ocr.Gray)
	copy(r.Pix, pix)
	return r
}

func uniform(w, h int, v uint8) *ocr.RasterImage {
	r := ocr.NewRaster(w, h, ocr.Gray)
	for i := range r.Pix {
		r.Pix[i] = v
	}
	return r
}

func TestStages_BinarizeOtsu(t *testing.T) {
	out, err := binarizeOtsu(grayFrom(4, 2, 20, 22, 24, 26, 200, 202, 204, 206))
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 0, 0, 0, 255, 255, 255, 255}, out.Pix)
}

func TestStages_UnitKernelCloseOpenIsIdentity(t *testing.T) {
	img := grayFrom(3, 3, 0, 255, 0, 255, 0, 255, 0, 255, 0)
	out, err := closeOpen(img, 1)
	require.NoError(t, err)
	assert.Equal(t, img.Pix, out.Pix)
}

func TestStages_KeepGeometry(t *testing.T) {
	src := uniform(24, 16, 128)
	src.Pix[5*24+7] = 10

	stages := map[string]func(*ocr.RasterImage) (*ocr.RasterImage, error){
		"denoise":  func(r *ocr.RasterImage) (*ocr.RasterImage, error) { return denoise(r, 10, 1, 1) },
		"equalize": func(r *ocr.RasterImage) (*ocr.RasterImage, error) { return equalize(r, 2.0, 8) },
		"blur":     func(r *ocr.RasterImage) (*ocr.RasterImage, error) { return gaussianBlur(r, 0.5) },
	}

	for name, stage := range stages {
		t.Run(name, func(t *testing.T) {
			out, err := stage(src)
			require.NoError(t, err)
			assert.Equal(t, ocr.Gray, out.Model)
			assert.Equal(t, 24, out.Width)
			assert.Equal(t, 16, out.Height)
			assert.Equal(t, uint8(10), src.Pix[5*24+7], "input must not change")
		})
	}
}

func TestStages_UniformDenoiseStaysUniform(t *testing.T) {
	out, err := denoise(uniform(12, 12, 90), 10, 1, 1)
	require.NoError(t, err)
	for _, v := range out.Pix {
		assert.Equal(t, uint8(90), v)
	}
}

func TestFilterBackend(t *testing.T) {
	assert.Contains(t, []string{"opencv", "pure-go"}, filterBackend)
}
