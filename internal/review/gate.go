// Package review is the human checkpoint between processing and finalizing.
// It only records intent; pixels are not touched until the next finalize.
package review

import (
	"context"
	"errors"
	"fmt"

	apperrors "go-repub/internal/errors"
	"go-repub/internal/logger"
	"go-repub/internal/observer"
	"go-repub/internal/repository"
	"go-repub/pkg/models"
)

// Gate serves page state and applies review decisions
type Gate struct {
	repo   repository.JobRepository
	locks  *repository.Locks
	events observer.Subject
}

// NewGate creates a review gate. events may be nil.
func NewGate(repo repository.JobRepository, locks *repository.Locks, events observer.Subject) *Gate {
	return &Gate{repo: repo, locks: locks, events: events}
}

// MapRepositoryError converts repository sentinels into application errors
func MapRepositoryError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrJobNotFound):
		return apperrors.NewNotFoundError("job not found", err)
	case errors.Is(err, repository.ErrPageNotFound):
		return apperrors.NewNotFoundError("page not found", err)
	}
	return apperrors.NewInternalError("repository failure", err)
}

// GetPageState returns the current state of one page in any job state
func (g *Gate) GetPageState(ctx context.Context, jobID string, number int) (*models.Page, error) {
	p, err := g.repo.GetPage(ctx, jobID, number)
	if err != nil {
		return nil, MapRepositoryError(err)
	}
	return p, nil
}

// ApplyManualCrop replaces the crop box of a page with a human decision.
// Re-applying the same box is a no-op.
func (g *Gate) ApplyManualCrop(ctx context.Context, jobID string, number int, box models.CropBox) (*models.Page, error) {
	return g.mutate(ctx, jobID, number, func(p *models.Page) (bool, error) {
		if !box.Within(p.Width, p.Height) {
			return false, apperrors.NewValidationError(
				fmt.Sprintf("crop box must lie within the %dx%d page image", p.Width, p.Height), nil)
		}
		if p.Override && p.Crop.SameRect(box) {
			return false, nil
		}
		box.Provenance = models.ProvenanceManual
		p.Crop = box
		p.Override = true
		p.Reviewed = true
		p.NeedsReview = false
		return true, nil
	})
}

// ApprovePage accepts the current box as is
func (g *Gate) ApprovePage(ctx context.Context, jobID string, number int) (*models.Page, error) {
	return g.mutate(ctx, jobID, number, func(p *models.Page) (bool, error) {
		if p.Reviewed && !p.NeedsReview {
			return false, nil
		}
		p.Reviewed = true
		p.NeedsReview = false
		return true, nil
	})
}

func (g *Gate) mutate(ctx context.Context, jobID string, number int, apply func(*models.Page) (bool, error)) (*models.Page, error) {
	unlock := g.locks.LockPage(jobID, number)
	defer unlock()

	job, err := g.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, MapRepositoryError(err)
	}
	if job.Status != models.StatusReviewing {
		return nil, apperrors.NewConflictError(
			fmt.Sprintf("pages can only be reviewed while the job is reviewing (status %s)", job.Status), nil)
	}
	p, err := g.repo.GetPage(ctx, jobID, number)
	if err != nil {
		return nil, MapRepositoryError(err)
	}
	if p.Excluded {
		return nil, apperrors.NewConflictError("page was excluded during processing", nil).WithDetails(p.Error)
	}

	changed, err := apply(p)
	if err != nil {
		return nil, err
	}
	if !changed {
		return p, nil
	}
	if err := g.repo.SavePages(ctx, []*models.Page{p}); err != nil {
		return nil, MapRepositoryError(err)
	}

	logger.ForPage(jobID, number).WithField("provenance", p.Crop.Provenance).Info("Page reviewed")
	if g.events != nil {
		g.events.NotifyObservers(context.WithoutCancel(ctx), observer.JobEvent{
			EventType: observer.PageReviewed,
			JobID:     jobID,
			Attempt:   job.Attempt,
			Page:      number,
			Metadata:  map[string]interface{}{"provenance": string(p.Crop.Provenance)},
		})
	}
	return p, nil
}
