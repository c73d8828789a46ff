package validation

import (
	"strings"
	"testing"

	apperrors "go-repub/internal/errors"
	"go-repub/pkg/models"
)

func TestValidateOptions_Defaults(t *testing.T) {
	validator := NewOptionsValidator()
	if err := validator.ValidateOptions(models.DefaultJobOptions()); err != nil {
		t.Errorf("Expected default options to be valid, got %v", err)
	}
	if err := validator.ValidateOptions(models.DefaultJobOptions().WithoutOCR().WithDewarp()); err != nil {
		t.Errorf("Expected dewarp without OCR to be valid, got %v", err)
	}
}

func TestValidateOptions_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.JobOptions)
		message string
	}{
		{"unknown rotate type", func(o *models.JobOptions) { o.RotateType = "diagonal" }, "rotate_type"},
		{"zero xmax", func(o *models.JobOptions) { o.XMax = 0 }, "xmax"},
		{"negative ymax", func(o *models.JobOptions) { o.YMax = -1 }, "ymax"},
		{"too many contours", func(o *models.JobOptions) { o.MaxContours = 500 }, "maxcontours"},
		{"reduce factor zero", func(o *models.JobOptions) { o.ReduceFactor = 0 }, "reduce_factor"},
		{"reduce factor above one", func(o *models.JobOptions) { o.ReduceFactor = 1.5 }, "reduce_factor"},
		{"dpi too low", func(o *models.JobOptions) { o.DPI = 10 }, "dpi"},
		{"empty language", func(o *models.JobOptions) { o.Language = "" }, "language"},
		{"bad language", func(o *models.JobOptions) { o.Language = "en;rm" }, "language"},
		{"dewarp without deskew", func(o *models.JobOptions) { o.Dewarp, o.Deskew = true, false }, "dewarp requires deskew"},
		{"contours with ocr", func(o *models.JobOptions) { o.DrawContours = true }, "draw_contours"},
		{"zero tolerance", func(o *models.JobOptions) { o.Reconcile.Tolerance = 0 }, "reconcile.tolerance"},
		{"width fraction one", func(o *models.JobOptions) { o.Reconcile.MinWidthFraction = 1 }, "min_width_fraction"},
		{"negative border", func(o *models.JobOptions) { o.Reconcile.BorderMargin = -2 }, "border_margin"},
	}

	validator := NewOptionsValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := models.DefaultJobOptions()
			tt.mutate(&opts)
			err := validator.ValidateOptions(opts)
			if !apperrors.IsType(err, apperrors.ErrorTypeConfiguration) {
				t.Fatalf("Expected configuration error, got %v", err)
			}
			appErr, _ := apperrors.As(err)
			if !strings.Contains(appErr.Details, tt.message) {
				t.Errorf("Expected details to mention %q, got %q", tt.message, appErr.Details)
			}
		})
	}
}

func TestValidateOptions_RotateTypeIgnoredWithoutDeskew(t *testing.T) {
	opts := models.DefaultJobOptions()
	opts.Deskew = false
	opts.RotateType = ""
	if err := NewOptionsValidator().ValidateOptions(opts); err != nil {
		t.Errorf("Expected rotate type to be ignored without deskew, got %v", err)
	}
}

func TestProblems_ListsEverything(t *testing.T) {
	opts := models.DefaultJobOptions()
	opts.XMax = 0
	opts.DPI = 0
	problems := NewOptionsValidator().Problems(opts)
	if len(problems) != 2 {
		t.Errorf("Expected 2 problems, got %v", problems)
	}
}

func TestOptionLimits_Custom(t *testing.T) {
	limits := DefaultOptionLimits()
	limits.MaxDPI = 400
	opts := models.DefaultJobOptions()
	opts.DPI = 600
	if err := NewOptionsValidatorWithLimits(limits).ValidateOptions(opts); err == nil {
		t.Error("Expected DPI above the custom limit to be rejected")
	}
}
