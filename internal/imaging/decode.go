package imaging

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	apperrors "go-repub/internal/errors"
)

// Decode decodes a page image. Anything the registered decoders reject is an input error.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", apperrors.NewInputError("empty page image", nil)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", apperrors.NewInputError("failed to decode page image", err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, format, apperrors.NewInputError("page image has no pixels", nil)
	}
	return img, format, nil
}
