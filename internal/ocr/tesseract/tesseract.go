// Package tesseract implements ocr.Recognizer with the gosseract client.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"go-repub/internal/ocr"
)

// Config tunes the tesseract client
type Config struct {
	TessdataPrefix string
	PageSegMode    int
	DPI            int
}

// Recognizer creates one client per call; gosseract clients are not safe
// for concurrent use.
type Recognizer struct {
	cfg           Config
	clientFactory func() *gosseract.Client
}

// New constructs a tesseract-backed recognizer
func New(cfg Config) *Recognizer {
	return &Recognizer{cfg: cfg, clientFactory: gosseract.NewClient}
}

func (r *Recognizer) Recognize(ctx context.Context, img image.Image, language string) (*ocr.TextLayer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page: %w", err)
	}

	c := r.clientFactory()
	defer c.Close()

	if r.cfg.TessdataPrefix != "" {
		if err := c.SetTessdataPrefix(r.cfg.TessdataPrefix); err != nil {
			return nil, fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := c.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	if language != "" {
		if err := c.SetLanguage(strings.Split(language, "+")...); err != nil {
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}
	if r.cfg.PageSegMode > 0 {
		if err := c.SetPageSegMode(gosseract.PageSegMode(r.cfg.PageSegMode)); err != nil {
			return nil, fmt.Errorf("set page segmentation mode: %w", err)
		}
	}
	if r.cfg.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(r.cfg.DPI)); err != nil {
			return nil, fmt.Errorf("set dpi: %w", err)
		}
	}

	// One recognition pass: the word boxes are read back from the hOCR.
	hocr, err := c.HOCRText()
	if err != nil {
		return nil, fmt.Errorf("recognize hocr: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return layerFromHOCR(hocr, img.Bounds(), language)
}

func layerFromHOCR(hocr string, b image.Rectangle, language string) (*ocr.TextLayer, error) {
	tokens, err := ocr.ParseHOCRTokens(hocr)
	if err != nil {
		return nil, fmt.Errorf("read word boxes: %w", err)
	}
	layer := &ocr.TextLayer{
		Width:    b.Dx(),
		Height:   b.Dy(),
		Language: language,
		Tokens:   tokens,
		HOCR:     hocr,
	}
	layer.PlainText = ocr.PlainTextFromTokens(layer.Tokens)
	return layer, nil
}
