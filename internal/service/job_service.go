package service

import (
	"context"
	"fmt"

	apperrors "go-repub/internal/errors"
	"go-repub/internal/ingest"
	"go-repub/internal/orchestrator"
	"go-repub/internal/repository"
	"go-repub/internal/storage"
	"go-repub/pkg/models"
)

// JobService is what the transports and the CLI drive
type JobService interface {
	// Submission
	SubmitFromURLs(ctx context.Context, req models.SubmitJobRequest) (*models.JobStatusResponse, error)
	SubmitPages(ctx context.Context, title string, opts *models.JobOptions, pages []ingest.PageInput) (*models.JobStatusResponse, error)
	SubmitBook(ctx context.Context, title string, opts *models.JobOptions, book *ingest.Book) (*models.JobStatusResponse, error)
	SubmitPDF(ctx context.Context, title string, opts *models.JobOptions, name string, data []byte) (*models.JobStatusResponse, error)

	// Job lifecycle
	GetStatus(ctx context.Context, jobID string) (*models.JobStatusResponse, error)
	ListJobs(ctx context.Context, status string, limit int) ([]*models.JobStatusResponse, error)
	Finalize(ctx context.Context, jobID string) (*models.JobStatusResponse, error)
	Retry(ctx context.Context, jobID string) (*models.JobStatusResponse, error)
	DeleteJob(ctx context.Context, jobID string) error
	Await(ctx context.Context, jobID string) (*models.JobStatusResponse, error)
	Output(ctx context.Context, jobID, artifact string) ([]byte, string, error)

	// Review
	GetPage(ctx context.Context, jobID string, number int) (*models.PageStateResponse, error)
	ApplyManualCrop(ctx context.Context, jobID string, number int, req models.ManualCropRequest) (*models.PageStateResponse, error)
	ApprovePage(ctx context.Context, jobID string, number int) (*models.PageStateResponse, error)

	Metrics() map[string]interface{}
	DefaultOptions() models.JobOptions
}

// Orchestrator is the part of the job orchestrator the service uses
type Orchestrator interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (*models.Job, error)
	Finalize(ctx context.Context, jobID string) (*models.Job, error)
	Retry(ctx context.Context, jobID string) (*models.Job, error)
	Delete(ctx context.Context, jobID string) error
	Await(ctx context.Context, jobID string) (*models.Job, error)
	Status(ctx context.Context, jobID string) (*models.JobStatusResponse, error)
	List(ctx context.Context, filter repository.ListFilter) ([]*models.JobStatusResponse, error)
	Output(ctx context.Context, jobID, artifact string) ([]byte, string, error)
	Stats() orchestrator.WorkerPoolStats
}

// Reviewer is the review gate
type Reviewer interface {
	GetPageState(ctx context.Context, jobID string, number int) (*models.Page, error)
	ApplyManualCrop(ctx context.Context, jobID string, number int, box models.CropBox) (*models.Page, error)
	ApprovePage(ctx context.Context, jobID string, number int) (*models.Page, error)
}

// URLValidator checks page URLs before anything is fetched
type URLValidator interface {
	ValidatePageURLs(urls []string) error
}

// MetricsSource exposes event counters
type MetricsSource interface {
	GetMetrics() map[string]interface{}
}

// Config carries service level settings
type Config struct {
	Defaults         models.JobOptions
	FetchConcurrency int
}

type jobService struct {
	orch      Orchestrator
	reviewer  Reviewer
	fetcher   storage.PageFetcher
	validator URLValidator
	metrics   MetricsSource
	cfg       Config
}

// NewJobService creates a new job service
func NewJobService(
	orch Orchestrator,
	reviewer Reviewer,
	fetcher storage.PageFetcher,
	validator URLValidator,
	metrics MetricsSource,
	cfg Config,
) JobService {
	return &jobService{
		orch:      orch,
		reviewer:  reviewer,
		fetcher:   fetcher,
		validator: validator,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// SubmitFromURLs fetches every page before the job exists. A page that
// cannot be fetched rejects the whole submission.
func (s *jobService) SubmitFromURLs(ctx context.Context, req models.SubmitJobRequest) (*models.JobStatusResponse, error) {
	if s.validator != nil {
		if err := s.validator.ValidatePageURLs(req.PageURLs); err != nil {
			return nil, err
		}
	}
	if len(req.Expected) > len(req.PageURLs) {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("expected_text has %d entries for %d pages", len(req.Expected), len(req.PageURLs)), nil)
	}
	if s.fetcher == nil {
		return nil, apperrors.NewConfigurationError("no page fetcher configured", nil)
	}

	pages, err := ingest.FromURLs(ctx, s.fetcher, req.PageURLs, s.cfg.FetchConcurrency)
	if err != nil {
		return nil, err
	}
	for i, text := range req.Expected {
		pages[i].ExpectedText = text
	}
	return s.SubmitPages(ctx, req.Title, req.Options, pages)
}

func (s *jobService) SubmitPages(ctx context.Context, title string, opts *models.JobOptions, pages []ingest.PageInput) (*models.JobStatusResponse, error) {
	return s.SubmitBook(ctx, title, opts, &ingest.Book{Pages: pages})
}

// SubmitBook submits a scan directory's pages together with its document
// properties. An empty title falls back to the scanned one.
func (s *jobService) SubmitBook(ctx context.Context, title string, opts *models.JobOptions, book *ingest.Book) (*models.JobStatusResponse, error) {
	options := s.cfg.Defaults
	if opts != nil {
		options = *opts
	}
	job, err := s.orch.Submit(ctx, orchestrator.SubmitRequest{
		Title:      title,
		Options:    options,
		Pages:      book.Pages,
		Properties: book.Properties,
	})
	if err != nil {
		return nil, err
	}
	return s.orch.Status(ctx, job.ID)
}

// SubmitPDF splits a scanned document into page images and submits them
func (s *jobService) SubmitPDF(ctx context.Context, title string, opts *models.JobOptions, name string, data []byte) (*models.JobStatusResponse, error) {
	pages, err := ingest.FromPDF(name, data)
	if err != nil {
		return nil, err
	}
	return s.SubmitPages(ctx, title, opts, pages)
}

func (s *jobService) GetStatus(ctx context.Context, jobID string) (*models.JobStatusResponse, error) {
	return s.orch.Status(ctx, jobID)
}

// ListJobs returns jobs newest first, optionally filtered by status
func (s *jobService) ListJobs(ctx context.Context, status string, limit int) ([]*models.JobStatusResponse, error) {
	filter := repository.ListFilter{Limit: limit}
	if status != "" {
		st := models.JobStatus(status)
		switch st {
		case models.StatusPending, models.StatusProcessing, models.StatusReviewing,
			models.StatusFinalizing, models.StatusCompleted, models.StatusFailed:
			filter.Status = st
		default:
			return nil, apperrors.NewValidationError(fmt.Sprintf("unknown job status %q", status), nil)
		}
	}
	if limit < 0 {
		return nil, apperrors.NewValidationError("limit must not be negative", nil)
	}
	return s.orch.List(ctx, filter)
}

func (s *jobService) Finalize(ctx context.Context, jobID string) (*models.JobStatusResponse, error) {
	if _, err := s.orch.Finalize(ctx, jobID); err != nil {
		return nil, err
	}
	return s.orch.Status(ctx, jobID)
}

func (s *jobService) Retry(ctx context.Context, jobID string) (*models.JobStatusResponse, error) {
	if _, err := s.orch.Retry(ctx, jobID); err != nil {
		return nil, err
	}
	return s.orch.Status(ctx, jobID)
}

func (s *jobService) DeleteJob(ctx context.Context, jobID string) error {
	return s.orch.Delete(ctx, jobID)
}

// Await blocks until the job rests in reviewing, completed or failed
func (s *jobService) Await(ctx context.Context, jobID string) (*models.JobStatusResponse, error) {
	if _, err := s.orch.Await(ctx, jobID); err != nil {
		return nil, err
	}
	return s.orch.Status(ctx, jobID)
}

func (s *jobService) Output(ctx context.Context, jobID, artifact string) ([]byte, string, error) {
	if artifact == "" {
		artifact = orchestrator.ArtifactPDF
	}
	return s.orch.Output(ctx, jobID, artifact)
}

func (s *jobService) GetPage(ctx context.Context, jobID string, number int) (*models.PageStateResponse, error) {
	p, err := s.reviewer.GetPageState(ctx, jobID, number)
	if err != nil {
		return nil, err
	}
	return pageState(p), nil
}

func (s *jobService) ApplyManualCrop(ctx context.Context, jobID string, number int, req models.ManualCropRequest) (*models.PageStateResponse, error) {
	p, err := s.reviewer.ApplyManualCrop(ctx, jobID, number, req.Box())
	if err != nil {
		return nil, err
	}
	return pageState(p), nil
}

func (s *jobService) ApprovePage(ctx context.Context, jobID string, number int) (*models.PageStateResponse, error) {
	p, err := s.reviewer.ApprovePage(ctx, jobID, number)
	if err != nil {
		return nil, err
	}
	return pageState(p), nil
}

// Metrics merges the event counters with the job pool counters
func (s *jobService) Metrics() map[string]interface{} {
	out := map[string]interface{}{}
	if s.metrics != nil {
		for k, v := range s.metrics.GetMetrics() {
			out[k] = v
		}
	}
	out["pool"] = s.orch.Stats()
	return out
}

// DefaultOptions returns the options a job gets when the request has none
func (s *jobService) DefaultOptions() models.JobOptions {
	return s.cfg.Defaults
}

func pageState(p *models.Page) *models.PageStateResponse {
	resp := models.NewPageStateResponse(p)
	return &resp
}
