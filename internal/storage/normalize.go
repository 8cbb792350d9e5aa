package storage

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/disintegration/imaging"
)

const (
	maxSourceSide = 2048
	jpegQuality   = 90
)

var ErrUnsupportedImage = errors.New("unsupported or corrupt image")

// Normalize decodes an uploaded photo, applies its EXIF orientation, fits it into
// maxSourceSide and re-encodes it as JPEG.
func Normalize(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	b := img.Bounds()
	if b.Dx() > maxSourceSide || b.Dy() > maxSourceSide {
		img = imaging.Fit(img, maxSourceSide, maxSourceSide, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
