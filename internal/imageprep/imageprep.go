// Package imageprep holds best-effort preparation of uploaded label photos.
package imageprep

import (
	"bytes"
	"image/jpeg"
	"log"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

// AutoOrient rewrites the image upright when its EXIF orientation tag says
// it was captured rotated. Phone photos of labels almost always are. Every
// failure mode returns the original bytes: a sideways image degrades OCR
// quality but still works, a hard failure here would not.
func AutoOrient(data []byte, format string) ([]byte, string) {
	orientation := readOrientation(data)
	if orientation <= 1 {
		return data, format
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		log.Printf("auto-rotation decode failed, using original image: %v", err)
		return data, format
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		log.Printf("auto-rotation encode failed, using original image: %v", err)
		return data, format
	}
	return buf.Bytes(), "jpeg"
}

// readOrientation returns the EXIF orientation value, or 0 when the image
// carries none (PNGs, stripped JPEGs, garbage input).
func readOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 0
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0
	}
	value, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return value
}
