package imaging

import (
	"bytes"
	"fmt"
	"image"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// SizeUnknown is returned when the image bytes cannot be decoded.
const SizeUnknown = "unknown"

// DetectSize sniffs the pixel dimensions from raw image bytes and returns
// them as "WIDTHxHEIGHT". Only the header is decoded.
func DetectSize(data []byte) string {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return SizeUnknown
	}
	return SizeString(cfg.Width, cfg.Height)
}

// SizeString renders dimensions in the API's "WIDTHxHEIGHT" form.
func SizeString(width, height int) string {
	return fmt.Sprintf("%dx%d", width, height)
}

// FitSize scales dimensions down to fit within the given bounds, preserving
// aspect ratio. Dimensions already inside the bounds are returned unchanged.
func FitSize(width, height, maxWidth, maxHeight int) (int, int) {
	if width <= 0 || height <= 0 || maxWidth <= 0 || maxHeight <= 0 {
		return width, height
	}
	if width <= maxWidth && height <= maxHeight {
		return width, height
	}
	scaleW := float64(maxWidth) / float64(width)
	scaleH := float64(maxHeight) / float64(height)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	w := int(float64(width) * scale)
	h := int(float64(height) * scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}
