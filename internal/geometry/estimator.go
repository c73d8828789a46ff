// Package geometry estimates the crop box and skew angle of a single page.
package geometry

import (
	"image"
	"image/color"
	"math"

	"go-repub/internal/imaging"
	"go-repub/internal/vision"
	"go-repub/pkg/models"
)

// Vision is the pixel analysis capability the estimator builds on.
type Vision interface {
	EstimateContours(img image.Image, opts vision.Options) []vision.Region
	EstimateLines(img image.Image, o vision.Orientation, opts vision.Options) []vision.Line
}

// Config holds estimator tuning that is not part of a job's options.
type Config struct {
	// AnalysisMaxDim bounds the longer image side used for analysis.
	AnalysisMaxDim int
	// CropThreshold separates the page from the scanner background,
	// LineThreshold the page edges and text used for skew.
	CropThreshold uint8
	LineThreshold uint8
	// MinLineFraction discards lines shorter than this share of the image dimension.
	MinLineFraction float64
	// MaxSkew ignores lines steeper than this many degrees.
	MaxSkew  float64
	BinWidth float64
}

// DefaultConfig returns the estimator defaults.
func DefaultConfig() Config {
	return Config{
		AnalysisMaxDim:  1600,
		CropThreshold:   50,
		LineThreshold:   125,
		MinLineFraction: 0.1,
		MaxSkew:         20,
		BinWidth:        0.25,
	}
}

// Estimate is the automatic geometry of one page.
type Estimate struct {
	Width, Height  int
	Crop           models.CropBox
	CropConfidence float64
	Fallback       bool
	Skew           float64
	SkewConfidence float64
	Lines          int
	Regions        []image.Rectangle
}

// Estimator implements per-page crop and skew estimation.
type Estimator struct {
	vision Vision
	cfg    Config
}

// NewEstimator creates an estimator on top of v.
func NewEstimator(v Vision, cfg Config) *Estimator {
	def := DefaultConfig()
	if cfg.AnalysisMaxDim <= 0 {
		cfg.AnalysisMaxDim = def.AnalysisMaxDim
	}
	if cfg.CropThreshold == 0 {
		cfg.CropThreshold = def.CropThreshold
	}
	if cfg.LineThreshold == 0 {
		cfg.LineThreshold = def.LineThreshold
	}
	if cfg.MinLineFraction <= 0 {
		cfg.MinLineFraction = def.MinLineFraction
	}
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = def.MaxSkew
	}
	if cfg.BinWidth <= 0 {
		cfg.BinWidth = def.BinWidth
	}
	return &Estimator{vision: v, cfg: cfg}
}

// Estimate computes the auto crop box and skew of a decoded page. It never fails:
// when no region qualifies the crop falls back to the full image with confidence 0.
func (e *Estimator) Estimate(img image.Image, opts models.JobOptions) Estimate {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	est := Estimate{
		Width:          w,
		Height:         h,
		Crop:           models.NewCropBox(image.Rect(0, 0, w, h), models.ProvenanceAuto),
		CropConfidence: 1,
		SkewConfidence: 1,
	}
	if !opts.Crop && !opts.Deskew && !opts.DrawContours {
		return est
	}

	small, factor := imaging.Downsample(imaging.ToGray(img), e.cfg.AnalysisMaxDim)
	lineOpts := vision.Options{
		Threshold:  e.cfg.LineThreshold,
		MaxRegions: opts.MaxContours,
		XMax:       scaleInt(opts.XMax, factor),
		YMax:       scaleInt(opts.YMax, factor),
	}
	cropOpts := lineOpts
	cropOpts.Threshold = e.cfg.CropThreshold

	if opts.Deskew {
		sw, sh := small.Bounds().Dx(), small.Bounds().Dy()
		est.Skew, est.SkewConfidence, est.Lines = e.skew(small, sw, sh, opts.RotateType, lineOpts)
	}

	if opts.Crop || opts.DrawContours {
		// Regions are found on the straightened page; corners the rotation
		// uncovers count as background.
		view := small
		if est.Skew != 0 {
			view = imaging.RotateFill(small, -est.Skew, color.Black)
		}
		regions := e.vision.EstimateContours(view, cropOpts)
		for _, r := range regions {
			est.Regions = append(est.Regions, unscale(r.Bounds, factor, w, h))
		}
		if len(regions) == 0 {
			est.CropConfidence = 0
			est.Fallback = true
		} else {
			best := regions[0]
			est.Crop = models.NewCropBox(unscale(best.Bounds, factor, w, h), models.ProvenanceAuto)
			est.CropConfidence = rectangularity(best)
		}
	}
	return est
}

func rectangularity(r vision.Region) float64 {
	boxArea := r.Bounds.Dx() * r.Bounds.Dy()
	if boxArea == 0 {
		return 0
	}
	return math.Min(1, float64(r.Area)/float64(boxArea))
}

func scaleInt(v int, factor float64) int {
	s := int(math.Round(float64(v) * factor))
	if s < 1 {
		return 1
	}
	return s
}

// unscale maps a rectangle found on the downsampled image back to original pixels.
func unscale(r image.Rectangle, factor float64, w, h int) image.Rectangle {
	if factor == 1 {
		return r
	}
	out := image.Rect(
		int(math.Floor(float64(r.Min.X)/factor)),
		int(math.Floor(float64(r.Min.Y)/factor)),
		int(math.Ceil(float64(r.Max.X)/factor)),
		int(math.Ceil(float64(r.Max.Y)/factor)),
	)
	return out.Intersect(image.Rect(0, 0, w, h))
}
