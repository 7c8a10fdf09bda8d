package preprocess

// Grayscale stages (denoise, equalize, binarizeOtsu, closeOpen, gaussianBlur)
// run on OpenCV in cgo builds tagged ocr and on pure Go otherwise.

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
