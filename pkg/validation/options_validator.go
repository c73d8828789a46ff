package validation

import (
	"fmt"
	"regexp"
	"strings"

	apperrors "go-repub/internal/errors"
	"go-repub/pkg/models"
)

// OptionLimits bounds the numeric job options
type OptionLimits struct {
	MinDPI         int
	MaxDPI         int
	MaxContours    int
	MaxLineNoise   int
	MaxTolerance   float64
	MaxBorderWidth int
}

// DefaultOptionLimits returns the limits applied to submitted jobs
func DefaultOptionLimits() OptionLimits {
	return OptionLimits{
		MinDPI:         50,
		MaxDPI:         1200,
		MaxContours:    50,
		MaxLineNoise:   1000,
		MaxTolerance:   1,
		MaxBorderWidth: 100,
	}
}

// tesseract language codes, combined with '+'
var languagePattern = regexp.MustCompile(`^[a-z][a-z_]{2,}(\+[a-z][a-z_]{2,})*$`)

// OptionsValidator rejects job option sets that cannot run
type OptionsValidator struct {
	limits OptionLimits
}

// NewOptionsValidator creates a validator with the default limits
func NewOptionsValidator() *OptionsValidator {
	return &OptionsValidator{limits: DefaultOptionLimits()}
}

// NewOptionsValidatorWithLimits creates a validator with custom limits
func NewOptionsValidatorWithLimits(limits OptionLimits) *OptionsValidator {
	return &OptionsValidator{limits: limits}
}

// Problems lists every issue with opts, in a fixed order.
func (v *OptionsValidator) Problems(opts models.JobOptions) []string {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	l := v.limits

	if opts.Deskew && !opts.RotateType.Valid() {
		add("rotate_type must be one of vertical, horizontal, overall (got %q)", opts.RotateType)
	}
	if opts.XMax < 1 || opts.XMax > l.MaxLineNoise {
		add("xmax must be between 1 and %d", l.MaxLineNoise)
	}
	if opts.YMax < 1 || opts.YMax > l.MaxLineNoise {
		add("ymax must be between 1 and %d", l.MaxLineNoise)
	}
	if opts.MaxContours < 1 || opts.MaxContours > l.MaxContours {
		add("maxcontours must be between 1 and %d", l.MaxContours)
	}
	if opts.ReduceFactor <= 0 || opts.ReduceFactor > 1 {
		add("reduce_factor must be in (0, 1]")
	}
	if opts.DPI < l.MinDPI || opts.DPI > l.MaxDPI {
		add("dpi must be between %d and %d", l.MinDPI, l.MaxDPI)
	}
	if opts.OCR && !languagePattern.MatchString(opts.Language) {
		add("language %q is not a valid OCR language code", opts.Language)
	}

	// contradictory flags
	if opts.Dewarp && !opts.Deskew {
		add("dewarp requires deskew")
	}
	if opts.DrawContours && opts.OCR {
		add("draw_contours produces a debug rendering and cannot be combined with ocr")
	}

	r := opts.Reconcile
	if r.Tolerance <= 0 || r.Tolerance > l.MaxTolerance {
		add("reconcile.tolerance must be in (0, %g]", l.MaxTolerance)
	}
	if r.MinWidthFraction < 0 || r.MinWidthFraction >= 1 {
		add("reconcile.min_width_fraction must be in [0, 1)")
	}
	if r.MinHeightFraction < 0 || r.MinHeightFraction >= 1 {
		add("reconcile.min_height_fraction must be in [0, 1)")
	}
	if r.BorderMargin < 0 || r.BorderMargin > l.MaxBorderWidth {
		add("reconcile.border_margin must be between 0 and %d", l.MaxBorderWidth)
	}
	return problems
}

// ValidateOptions returns a configuration error naming every problem with opts
func (v *OptionsValidator) ValidateOptions(opts models.JobOptions) error {
	problems := v.Problems(opts)
	if len(problems) == 0 {
		return nil
	}
	return apperrors.NewConfigurationError("invalid job options", nil).
		WithDetails(strings.Join(problems, "; "))
}
