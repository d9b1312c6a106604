package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
)

// SolidPNG encodes a w×h PNG filled with c.
func SolidPNG(w, h int, c color.Color) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(w, h, c)); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// SolidJPEG encodes a w×h JPEG filled with c.
func SolidJPEG(w, h int, c color.Color) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, solid(w, h, c), &jpeg.Options{Quality: 100}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}
