package ocr

import (
	"image"

	"golang.org/x/image/draw"
)

// Binarize converts src to luminance and applies a global threshold: pixels
// brighter than threshold become white, everything else black.
func Binarize(src image.Image, threshold uint8) *image.Gray {
	b := src.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), src, b.Min, draw.Src)

	for i, v := range gray.Pix {
		if v > threshold {
			gray.Pix[i] = 0xff
		} else {
			gray.Pix[i] = 0
		}
	}
	return gray
}
