package repository

import (
	"context"

	"go-repub/pkg/models"
)

// JobRepository stores jobs and their pages. Implementations hand out
// copies; callers never share records with the store.
type JobRepository interface {
	// CreateJob stores a new job together with its pages
	CreateJob(ctx context.Context, job *models.Job, pages []*models.Page) error

	// GetJob retrieves a job by id
	GetJob(ctx context.Context, id string) (*models.Job, error)

	// SaveJob replaces the stored job record
	SaveJob(ctx context.Context, job *models.Job) error

	// ListJobs returns jobs newest first, optionally filtered by status
	ListJobs(ctx context.Context, filter ListFilter) ([]*models.Job, error)

	// DeleteJob removes a job and its pages
	DeleteJob(ctx context.Context, id string) error

	// GetPages returns a job's pages ordered by number
	GetPages(ctx context.Context, jobID string) ([]*models.Page, error)

	// GetPage returns one page of a job
	GetPage(ctx context.Context, jobID string, number int) (*models.Page, error)

	// SavePages replaces the given page records
	SavePages(ctx context.Context, pages []*models.Page) error
}

// ListFilter narrows ListJobs.
type ListFilter struct {
	Status models.JobStatus
	Limit  int
}
