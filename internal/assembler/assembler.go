// Package assembler turns one reviewed page into its final processed image
// and text layer.
package assembler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"

	"go-repub/internal/dewarp"
	apperrors "go-repub/internal/errors"
	"go-repub/internal/imaging"
	"go-repub/internal/logger"
	"go-repub/internal/ocr"
	"go-repub/internal/storage"
	"go-repub/pkg/models"
)

// Config holds output encoding settings
type Config struct {
	JPEGQuality int
}

// DefaultConfig returns the default encoding settings
func DefaultConfig() Config {
	return Config{JPEGQuality: 85}
}

// Result is the outcome of assembling one page. A page whose OCR failed is
// still a result: it is merged image-only and reported as degraded.
type Result struct {
	Number    int
	Processed string
	JPEG      []byte
	Width     int
	Height    int
	Text      *ocr.TextLayer
	TextKey   string
	OCRError  string
	Accuracy  *models.OCRAccuracy
}

// Degraded reports whether the page lost its text layer
func (r *Result) Degraded() bool {
	return r.OCRError != ""
}

// PageAssembler applies the final geometry to a page, encodes it and runs OCR.
type PageAssembler struct {
	store      storage.ArtifactStore
	recognizer ocr.Recognizer
	cfg        Config
}

// New creates a page assembler. recognizer may be nil when OCR is never used.
func New(store storage.ArtifactStore, recognizer ocr.Recognizer, cfg Config) *PageAssembler {
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultConfig().JPEGQuality
	}
	return &PageAssembler{store: store, recognizer: recognizer, cfg: cfg}
}

// Deskew rotates a page so its content is straight. Crop boxes are measured
// on the straightened page, so the crop only has to be clipped to it.
func Deskew(img image.Image, skew float64, crop image.Rectangle) (image.Image, image.Rectangle) {
	if skew == 0 {
		return img, crop.Intersect(img.Bounds())
	}
	rotated := imaging.Rotate(img, -skew)
	return rotated, crop.Intersect(rotated.Bounds())
}

var (
	regionColor = color.RGBA{R: 0, G: 0, B: 255, A: 255}
	cropColor   = color.RGBA{R: 255, G: 0, B: 0, A: 255}
)

// Render produces the processed page image. It does no I/O.
func Render(img image.Image, page *models.Page, opts models.JobOptions) image.Image {
	skew := 0.0
	if opts.Deskew {
		skew = page.Skew
	}
	crop := image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy())
	if opts.Crop && !page.Crop.Empty() {
		crop = page.Crop.Rect()
	}
	out, region := Deskew(img, skew, crop)

	if opts.Dewarp {
		out = dewarp.Apply(out, page.Dewarp)
	}

	if opts.DrawContours {
		var regions []image.Rectangle
		for _, r := range page.Regions {
			regions = append(regions, r.Rect())
		}
		out = imaging.Outline(out, regions, regionColor, 3)
		out = imaging.Outline(out, []image.Rectangle{region}, cropColor, 5)
	} else if opts.Crop {
		out = imaging.Crop(out, region)
	}

	if opts.GrayOnly {
		out = imaging.ToGray(out)
	}
	if opts.ReduceFactor > 0 && opts.ReduceFactor < 1 {
		out = imaging.Scale(out, opts.ReduceFactor)
	}
	return out
}

// Assemble renders, stores and recognizes one page of the job's current
// attempt. Storage failures are assembly errors; OCR failures degrade the
// page instead of failing it.
func (a *PageAssembler) Assemble(ctx context.Context, job *models.Job, page *models.Page) (*Result, error) {
	log := logger.ForPage(job.ID, page.Number)

	data, err := a.store.Get(ctx, page.Original)
	if err != nil {
		return nil, apperrors.NewAssemblyError("read original page", err)
	}
	img, _, err := imaging.Decode(data)
	if err != nil {
		return nil, apperrors.NewAssemblyError("decode original page", err)
	}
	img = imaging.RotateQuarter(img, page.Rotate)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := Render(img, page, job.Options)
	encoded, err := imaging.EncodeJPEG(out, a.cfg.JPEGQuality)
	if err != nil {
		return nil, apperrors.NewAssemblyError("encode processed page", err)
	}
	key := models.ProcessedPageKey(job.ID, job.Attempt, page.Number)
	if err := a.store.Put(ctx, key, encoded, "image/jpeg"); err != nil {
		return nil, apperrors.NewAssemblyError("store processed page", err)
	}

	b := out.Bounds()
	res := &Result{
		Number:    page.Number,
		Processed: key,
		JPEG:      encoded,
		Width:     b.Dx(),
		Height:    b.Dy(),
	}
	if !job.Options.OCR {
		return res, nil
	}
	if a.recognizer == nil {
		res.OCRError = "no recognizer configured"
		return res, nil
	}

	layer, err := a.recognizer.Recognize(ctx, out, job.Options.Language)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil, err
		}
		ocrErr := apperrors.NewOCRError(fmt.Sprintf("recognize page %d", page.Number), err)
		log.WithError(ocrErr).Warn("OCR failed, keeping page image-only")
		res.OCRError = ocrErr.Error()
		return res, nil
	}
	layer.PageNumber = page.Number
	layer.Width, layer.Height = b.Dx(), b.Dy()
	log.WithField("tokens", len(layer.Tokens)).
		WithField("confidence", layer.MeanConfidence()).
		Debug("Page recognized")
	if layer.HOCR == "" {
		if layer.HOCR, err = ocr.RenderPageHOCR(layer); err != nil {
			return nil, apperrors.NewAssemblyError("render hOCR", err)
		}
	}
	if page.ExpectedText != "" {
		acc := ocr.Accuracy(page.ExpectedText, layer.PlainText)
		res.Accuracy = &acc
		log.WithField("cer", acc.CER).WithField("wer", acc.WER).Debug("OCR accuracy")
	}

	encodedLayer, err := json.Marshal(layer)
	if err != nil {
		return nil, apperrors.NewAssemblyError("encode text layer", err)
	}
	res.TextKey = models.TextLayerKey(job.ID, job.Attempt, page.Number)
	if err := a.store.Put(ctx, res.TextKey, encodedLayer, "application/json"); err != nil {
		return nil, apperrors.NewAssemblyError("store text layer", err)
	}
	res.Text = layer
	return res, nil
}
