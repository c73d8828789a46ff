package models

// RotateType selects which detected lines drive skew estimation.
type RotateType string

const (
	RotateVertical   RotateType = "vertical"
	RotateHorizontal RotateType = "horizontal"
	RotateOverall    RotateType = "overall"
)

// Valid reports whether r is one of the known rotate types.
func (r RotateType) Valid() bool {
	switch r {
	case RotateVertical, RotateHorizontal, RotateOverall:
		return true
	}
	return false
}

// ReconcileOptions tunes the cross-page consistency pass.
type ReconcileOptions struct {
	// Tolerance is the allowed deviation of width/height from the job median, as a fraction.
	Tolerance float64 `json:"tolerance" mapstructure:"tolerance"`
	// MinWidthFraction and MinHeightFraction are the smallest acceptable crop
	// dimensions relative to the original image.
	MinWidthFraction  float64 `json:"min_width_fraction" mapstructure:"min_width_fraction"`
	MinHeightFraction float64 `json:"min_height_fraction" mapstructure:"min_height_fraction"`
	// BorderMargin is the distance in pixels under which a box counts as touching the image border.
	BorderMargin int  `json:"border_margin" mapstructure:"border_margin"`
	AutoCorrect  bool `json:"auto_correct" mapstructure:"auto_correct"`
}

// JobOptions is the processing configuration of a job.
type JobOptions struct {
	Crop         bool `json:"crop" mapstructure:"crop"`
	Deskew       bool `json:"deskew" mapstructure:"deskew"`
	Dewarp       bool `json:"dewarp" mapstructure:"dewarp"`
	OCR          bool `json:"ocr" mapstructure:"ocr"`
	GrayOnly     bool `json:"grayscale_only" mapstructure:"grayscale_only"`
	DrawContours bool `json:"draw_contours" mapstructure:"draw_contours"`

	RotateType   RotateType `json:"rotate_type" mapstructure:"rotate_type"`
	ReduceFactor float64    `json:"reduce_factor" mapstructure:"reduce_factor"`
	XMax         int        `json:"xmax" mapstructure:"xmax"`
	YMax         int        `json:"ymax" mapstructure:"ymax"`
	MaxContours  int        `json:"maxcontours" mapstructure:"maxcontours"`
	Language     string     `json:"language" mapstructure:"language"`

	// ManualReview parks every job in reviewing, flagged pages or not.
	ManualReview bool `json:"manual_review" mapstructure:"manual_review"`
	// DPI of the source scans; sets the physical page size of the output.
	DPI int `json:"dpi" mapstructure:"dpi"`

	Reconcile ReconcileOptions `json:"reconcile" mapstructure:"reconcile"`
}

// DefaultReconcileOptions returns the default consistency thresholds.
func DefaultReconcileOptions() ReconcileOptions {
	return ReconcileOptions{
		Tolerance:         0.15,
		MinWidthFraction:  0.2,
		MinHeightFraction: 0.2,
		BorderMargin:      2,
		AutoCorrect:       true,
	}
}

// DefaultJobOptions returns the options a job gets when none are supplied.
func DefaultJobOptions() JobOptions {
	return JobOptions{
		Crop:         true,
		Deskew:       true,
		Dewarp:       false,
		OCR:          true,
		RotateType:   RotateVertical,
		ReduceFactor: 1.0,
		XMax:         30,
		YMax:         60,
		MaxContours:  5,
		Language:     "eng",
		DPI:          300,
		Reconcile:    DefaultReconcileOptions(),
	}
}

// WithoutOCR returns options with text recognition disabled
func (opts JobOptions) WithoutOCR() JobOptions {
	opts.OCR = false
	return opts
}

// WithDewarp enables the experimental dewarp pass
func (opts JobOptions) WithDewarp() JobOptions {
	opts.Dewarp = true
	return opts
}

// WithLineThresholds sets the xmax/ymax edge-noise thresholds and the region limit
func (opts JobOptions) WithLineThresholds(xmax, ymax, maxContours int) JobOptions {
	opts.XMax = xmax
	opts.YMax = ymax
	opts.MaxContours = maxContours
	return opts
}

// WithManualReview forces every job through the review state
func (opts JobOptions) WithManualReview() JobOptions {
	opts.ManualReview = true
	return opts
}

// EffectiveDPI is the resolution of processed pages after scale reduction.
func (opts JobOptions) EffectiveDPI() float64 {
	dpi := opts.DPI
	if dpi <= 0 {
		dpi = 300
	}
	factor := opts.ReduceFactor
	if factor <= 0 || factor > 1 {
		factor = 1
	}
	return float64(dpi) * factor
}
