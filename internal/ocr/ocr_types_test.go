package ocr

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQualityScore(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"hello world", 5.1},
		{"hi", 2.2},
		{"", 0},
		{"  spaced   out  ", 2*2 + 16*0.1},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.InDelta(t, tt.want, QualityScore(tt.text), 1e-9)
		})
	}
}

func TestNewRecognitionResult_CharCountMatchesText(t *testing.T) {
	r := NewRecognitionResult(SpanDetector, "naïve café", nil)
	assert.Equal(t, 10, r.CharCount)
	assert.NotNil(t, r.Metadata)

	empty := NewRecognitionResult(TesseractLike, "", nil)
	assert.Equal(t, 0, empty.CharCount)
}

func TestQuad_Center(t *testing.T) {
	q := RectQuad(10, 20, 30, 60)
	assert.Equal(t, Point{X: 20, Y: 40}, q.Center())
}

func TestEngineKind_Labels(t *testing.T) {
	for _, k := range EngineOrder {
		parsed, ok := ParseEngineKind(k.String())
		require.True(t, ok)
		assert.Equal(t, k, parsed)
	}
	_, ok := ParseEngineKind("paddle")
	assert.False(t, ok)

	avail := EngineAvailability{TesseractLike: true}
	assert.Equal(t, map[string]bool{"tesseract": true, "easyocr": false, "trocr": false}, avail.Labels())
}

func TestRaster_FromImageAndBack(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.Set(0, 0, color.NRGBA{R: 255, G: 0, B: 0, A: 255})
	src.Set(1, 0, color.NRGBA{R: 0, G: 0, B: 0, A: 0})

	rgb := FromImage(src, RGB)
	require.NoError(t, rgb.Validate())
	assert.Equal(t, []uint8{255, 0, 0, 255, 255, 255}, rgb.Pix)

	gray := FromImage(src, Gray)
	assert.Equal(t, []uint8{76, 255}, gray.Pix)

	back := FromImage(gray.ToImage(), Gray)
	assert.Equal(t, gray.Pix, back.Pix)
}

func TestRaster_CloneIsIndependent(t *testing.T) {
	r := NewRaster(2, 2, Gray)
	c := r.Clone()
	c.Pix[0] = 9
	assert.Equal(t, uint8(0), r.Pix[0])
}

func TestRaster_Validate(t *testing.T) {
	assert.Error(t, (&RasterImage{Width: 0, Height: 3}).Validate())
	assert.Error(t, (&RasterImage{Width: 2, Height: 2, Pix: make([]uint8, 3)}).Validate())
	assert.NoError(t, NewRaster(3, 2, RGB).Validate())
}
