//go:build !cgo || !ocr

package preprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/adverant/nexus/ocr-worker/internal/ocr"
)

func TestOtsuThreshold_SeparatesBimodal(t *testing.T) {
	img := grayFrom(4, 2, 20, 22, 24, 26, 200, 202, 204, 206)
	thr := otsuThreshold(img)

	assert.GreaterOrEqual(t, thr, uint8(26))
	assert.Less(t, thr, uint8(200))

	bin := binarize(img, thr)
	assert.Equal(t, []uint8{0, 0, 0, 0, 255, 255, 255, 255}, bin.Pix)
}

func TestMorph_UnitKernelIsIdentity(t *testing.T) {
	img := grayFrom(3, 3, 0, 255, 0, 255, 0, 255, 0, 255, 0)
	assert.Equal(t, img.Pix, morphOpen(morphClose(img, 1), 1).Pix)
}

func TestMorph_OpenRemovesSpeckle(t *testing.T) {
	img := ocr.NewRaster(5, 5, ocr.Gray)
	img.Pix[12] = 255

	assert.Equal(t, make([]uint8, 25), morphOpen(img, 3).Pix)
}

func TestMorph_CloseFillsPinhole(t *testing.T) {
	img := ocr.NewRaster(5, 5, ocr.Gray)
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.Pix[12] = 0

	assert.Equal(t, uint8(255), morphClose(img, 3).Pix[12])
}

func TestDenoiseNLM_UniformStaysUniform(t *testing.T) {
	img := ocr.NewRaster(12, 9, ocr.Gray)
	for i := range img.Pix {
		img.Pix[i] = 140
	}

	out := denoiseNLM(img, 10, 1, 2)
	for _, v := range out.Pix {
		assert.Equal(t, uint8(140), v)
	}
}

func TestDenoiseNLM_SoftensIsolatedNoise(t *testing.T) {
	img := ocr.NewRaster(9, 9, ocr.Gray)
	for i := range img.Pix {
		img.Pix[i] = 100
	}
	img.Pix[40] = 130

	out := denoiseNLM(img, 30, 1, 2)
	assert.Less(t, out.Pix[40], uint8(130))
	assert.Equal(t, uint8(100), out.Pix[0])
}

func TestCLAHE_KeepsGeometryAndOrder(t *testing.T) {
	img := ocr.NewRaster(32, 32, ocr.Gray)
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Pix[y*32+x] = uint8(100 + x)
		}
	}

	out := clahe(img, 2.0, 8)
	assert.Equal(t, 32, out.Width)
	assert.Equal(t, 32, out.Height)

	lo, hi := uint8(255), uint8(0)
	for _, v := range out.Pix {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	assert.Greater(t, int(hi)-int(lo), 31, "contrast should stretch beyond the input range")
}

func TestCLAHE_SmallerThanGrid(t *testing.T) {
	img := grayFrom(3, 2, 10, 20, 30, 40, 50, 60)
	out := clahe(img, 2.0, 8)
	assert.Equal(t, 6, len(out.Pix))
}
