package review

import (
	"context"
	"testing"
	"time"

	apperrors "go-repub/internal/errors"
	"go-repub/internal/repository"
	"go-repub/pkg/models"
)

func setup(t *testing.T, status models.JobStatus) (*Gate, repository.JobRepository) {
	t.Helper()
	repo := repository.NewMemoryJobRepository()
	job := &models.Job{ID: "j", Status: status, Attempt: 1, Pages: []int{1, 2}, CreatedAt: time.Now()}
	pages := []*models.Page{
		{JobID: "j", Number: 1, Width: 1200, Height: 1600,
			Crop:        models.CropBox{Left: 100, Top: 100, Right: 1100, Bottom: 1500, Provenance: models.ProvenanceReconciled},
			NeedsReview: true, Reasons: []models.ReviewReason{models.ReasonWidthDeviation}},
		{JobID: "j", Number: 2, Excluded: true, Error: "undecodable"},
	}
	if err := repo.CreateJob(context.Background(), job, pages); err != nil {
		t.Fatal(err)
	}
	return NewGate(repo, repository.NewLocks(), nil), repo
}

func TestApplyManualCrop(t *testing.T) {
	gate, repo := setup(t, models.StatusReviewing)
	ctx := context.Background()
	box := models.CropBox{Left: 50, Top: 60, Right: 1150, Bottom: 1550}

	p, err := gate.ApplyManualCrop(ctx, "j", 1, box)
	if err != nil {
		t.Fatalf("ApplyManualCrop failed: %v", err)
	}
	if p.Crop.Provenance != models.ProvenanceManual || !p.Override || !p.Reviewed || p.NeedsReview {
		t.Errorf("Expected manual reviewed page, got %+v", p)
	}

	stored, _ := repo.GetPage(ctx, "j", 1)
	if !stored.Crop.SameRect(box) || stored.Crop.Provenance != models.ProvenanceManual {
		t.Errorf("Expected manual box persisted, got %+v", stored.Crop)
	}

	again, err := gate.ApplyManualCrop(ctx, "j", 1, box)
	if err != nil {
		t.Fatalf("Expected re-apply to succeed, got %v", err)
	}
	if again.Crop != stored.Crop {
		t.Errorf("Expected idempotent re-apply, got %+v", again.Crop)
	}
}

func TestApplyManualCrop_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		status   models.JobStatus
		page     int
		box      models.CropBox
		expected apperrors.ErrorType
	}{
		{"outside image", models.StatusReviewing, 1, models.CropBox{Left: 0, Top: 0, Right: 1300, Bottom: 100}, apperrors.ErrorTypeValidation},
		{"inverted box", models.StatusReviewing, 1, models.CropBox{Left: 500, Top: 0, Right: 100, Bottom: 100}, apperrors.ErrorTypeValidation},
		{"not reviewing", models.StatusProcessing, 1, models.CropBox{Left: 0, Top: 0, Right: 100, Bottom: 100}, apperrors.ErrorTypeConflict},
		{"completed job", models.StatusCompleted, 1, models.CropBox{Left: 0, Top: 0, Right: 100, Bottom: 100}, apperrors.ErrorTypeConflict},
		{"excluded page", models.StatusReviewing, 2, models.CropBox{Left: 0, Top: 0, Right: 100, Bottom: 100}, apperrors.ErrorTypeConflict},
		{"missing page", models.StatusReviewing, 9, models.CropBox{Left: 0, Top: 0, Right: 100, Bottom: 100}, apperrors.ErrorTypeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate, repo := setup(t, tt.status)
			_, err := gate.ApplyManualCrop(context.Background(), "j", tt.page, tt.box)
			if !apperrors.IsType(err, tt.expected) {
				t.Errorf("Expected %s, got %v", tt.expected, err)
			}
			p, _ := repo.GetPage(context.Background(), "j", 1)
			if p.Override {
				t.Error("Expected page 1 unchanged")
			}
		})
	}
}

func TestApprovePage(t *testing.T) {
	gate, _ := setup(t, models.StatusReviewing)
	p, err := gate.ApprovePage(context.Background(), "j", 1)
	if err != nil {
		t.Fatalf("ApprovePage failed: %v", err)
	}
	if !p.Reviewed || p.NeedsReview || p.Crop.Provenance != models.ProvenanceReconciled || p.Override {
		t.Errorf("Expected approved page keeping its box, got %+v", p)
	}
}

func TestGetPageState(t *testing.T) {
	gate, _ := setup(t, models.StatusCompleted)
	p, err := gate.GetPageState(context.Background(), "j", 1)
	if err != nil || !p.NeedsReview {
		t.Errorf("Expected page state in any job status, got %+v (%v)", p, err)
	}
	if _, err := gate.GetPageState(context.Background(), "nope", 1); !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}
}
