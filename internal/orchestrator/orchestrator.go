// Package orchestrator drives jobs through the page pipeline:
//
//	pending -> processing -> reviewing | finalizing -> completed
//
// with failed reachable from every non-terminal state and left only by an
// explicit retry. The orchestrator owns a job's pages while a stage runs;
// the review gate owns them while the job is parked in reviewing.
package orchestrator

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"go-repub/internal/assembler"
	apperrors "go-repub/internal/errors"
	"go-repub/internal/geometry"
	"go-repub/internal/ingest"
	"go-repub/internal/logger"
	"go-repub/internal/observer"
	"go-repub/internal/repository"
	"go-repub/internal/review"
	"go-repub/internal/storage"
	"go-repub/pkg/models"
)

const (
	stageProcessing = "processing"
	stageFinalizing = "finalizing"
	stageSubmit     = "submit"
	stageRetry      = "retry"
)

// PageEstimator computes the automatic geometry of one decoded page
type PageEstimator interface {
	Estimate(img image.Image, opts models.JobOptions) geometry.Estimate
}

// CurveFitter fits a dewarp model inside a region of a deskewed page
type CurveFitter interface {
	Fit(img image.Image, region image.Rectangle) *models.DewarpModel
}

// PageAssembler renders, stores and recognizes one page of a job
type PageAssembler interface {
	Assemble(ctx context.Context, job *models.Job, page *models.Page) (*assembler.Result, error)
}

// OptionsValidator rejects invalid option combinations before a job is stored
type OptionsValidator interface {
	ValidateOptions(opts models.JobOptions) error
}

// Config holds the scheduling limits
type Config struct {
	// JobWorkers is the number of job stages running at once.
	JobWorkers int
	// PageFanout bounds the per-page tasks of one stage.
	PageFanout int
	// QueueSize is the number of stages that may wait for a worker.
	QueueSize      int
	ThumbnailWidth int
	JPEGQuality    int
}

// DefaultConfig returns the default scheduling limits
func DefaultConfig() Config {
	return Config{
		JobWorkers:     2,
		PageFanout:     4,
		QueueSize:      32,
		ThumbnailWidth: 200,
		JPEGQuality:    85,
	}
}

// Dependencies are the collaborators of the orchestrator. Dewarper and
// Events may be nil.
type Dependencies struct {
	Repository repository.JobRepository
	Store      storage.ArtifactStore
	Locks      *repository.Locks
	Estimator  PageEstimator
	Dewarper   CurveFitter
	Assembler  PageAssembler
	Validator  OptionsValidator
	Events     observer.Subject
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator replaces the random job id source
func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) { o.newID = newID }
}

// Orchestrator implements the job state machine
type Orchestrator struct {
	repo      repository.JobRepository
	store     storage.ArtifactStore
	locks     *repository.Locks
	estimator PageEstimator
	dewarper  CurveFitter
	assembler PageAssembler
	validator OptionsValidator
	events    observer.Subject
	cfg       Config

	pool  *WorkerPool
	now   func() time.Time
	newID func() string

	baseCtx  context.Context
	stopAll  context.CancelFunc
	mu       sync.Mutex
	active   map[string]*run
	deleting map[string]bool
}

// New creates an orchestrator. Call Start before submitting jobs.
func New(deps Dependencies, cfg Config, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if cfg.JobWorkers <= 0 {
		cfg.JobWorkers = def.JobWorkers
	}
	if cfg.PageFanout <= 0 {
		cfg.PageFanout = def.PageFanout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.ThumbnailWidth <= 0 {
		cfg.ThumbnailWidth = def.ThumbnailWidth
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = def.JPEGQuality
	}
	if deps.Locks == nil {
		deps.Locks = repository.NewLocks()
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		repo:      deps.Repository,
		store:     deps.Store,
		locks:     deps.Locks,
		estimator: deps.Estimator,
		dewarper:  deps.Dewarper,
		assembler: deps.Assembler,
		validator: deps.Validator,
		events:    deps.Events,
		cfg:       cfg,
		pool:      NewWorkerPool(cfg.JobWorkers, cfg.QueueSize),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		baseCtx:   ctx,
		stopAll:   cancel,
		active:    make(map[string]*run),
		deleting:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start launches the job workers
func (o *Orchestrator) Start() {
	o.pool.Start()
}

// Close stops accepting work, cancels running stages and waits for them.
// Jobs interrupted this way are failed by Recover on the next start.
func (o *Orchestrator) Close() {
	o.pool.Close()
	o.stopAll()
	o.pool.Wait()
}

// Stats exposes the job worker pool counters
func (o *Orchestrator) Stats() WorkerPoolStats {
	return o.pool.GetStats()
}

// SubmitRequest is a new job with its pages in book order
type SubmitRequest struct {
	Title      string
	Options    models.JobOptions
	Pages      []ingest.PageInput
	Properties map[string]string
}

// Submit validates the options, stores the original pages, records the job
// as pending and queues it for processing.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*models.Job, error) {
	if o.validator != nil {
		if err := o.validator.ValidateOptions(req.Options); err != nil {
			return nil, err
		}
	}
	if len(req.Pages) == 0 {
		return nil, apperrors.NewInputError("job has no pages", nil)
	}

	id := o.newID()
	now := o.now()
	job := &models.Job{
		ID:         id,
		Title:      req.Title,
		Options:    req.Options,
		Properties: req.Properties,
		Status:     models.StatusPending,
		Attempt:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if job.Title == "" {
		job.Title = req.Properties["Title"]
	}
	if job.Title == "" {
		job.Title = id
	}

	pages := make([]*models.Page, 0, len(req.Pages))
	for i, in := range req.Pages {
		n := i + 1
		key := models.OriginalKey(id, n, in.Ext())
		if err := o.store.Put(ctx, key, in.Data, http.DetectContentType(in.Data)); err != nil {
			o.discard(ctx, id)
			return nil, apperrors.NewInternalError("store original page", err).WithStage(stageSubmit)
		}
		job.Pages = append(job.Pages, n)
		pages = append(pages, &models.Page{
			JobID:        id,
			Number:       n,
			Original:     key,
			SourceName:   in.Name,
			ExpectedText: in.ExpectedText,
			Rotate:       in.Rotate,
			Cover:        in.Cover,
		})
	}

	if err := o.repo.CreateJob(ctx, job, pages); err != nil {
		o.discard(ctx, id)
		return nil, review.MapRepositoryError(err)
	}

	if !o.enqueue(id, o.process) {
		if err := o.repo.DeleteJob(ctx, id); err != nil {
			logger.ForJob(id).WithError(err).Warn("Failed to remove rejected job")
		}
		o.discard(ctx, id)
		return nil, apperrors.NewConflictError("job queue is full", nil).WithStage(stageSubmit)
	}

	logger.ForJob(id).WithField("pages", len(pages)).Info("Job submitted")
	o.emit(ctx, observer.JobEvent{
		EventType: observer.JobSubmitted,
		JobID:     id,
		Attempt:   job.Attempt,
		Metadata:  map[string]interface{}{"pages": len(pages)},
	})
	return job, nil
}

// Finalize leaves reviewing and queues the final assembly. Pages still
// flagged are assembled with their current box and counted in a warning.
func (o *Orchestrator) Finalize(ctx context.Context, jobID string) (*models.Job, error) {
	warned := false
	job, err := o.transition(ctx, jobID, func(job *models.Job) error {
		if job.Status != models.StatusReviewing {
			return conflict("finalize", job.Status)
		}
		pages, err := o.repo.GetPages(ctx, jobID)
		if err != nil {
			return err
		}
		if flagged := flaggedPages(pages); len(flagged) > 0 {
			job.Warnings = append(job.Warnings,
				fmt.Sprintf("%d page(s) finalized without review: %v", len(flagged), flagged))
			warned = true
		}
		job.Status = models.StatusFinalizing
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !o.enqueue(jobID, o.finalize) {
		if _, err := o.transition(ctx, jobID, func(job *models.Job) error {
			job.Status = models.StatusReviewing
			if n := len(job.Warnings); warned && n > 0 {
				job.Warnings = job.Warnings[:n-1]
			}
			return nil
		}); err != nil {
			logger.ForJob(jobID).WithError(err).Error("Failed to return job to reviewing")
		}
		return nil, apperrors.NewConflictError("job queue is full", nil).WithStage(stageFinalizing)
	}
	return job, nil
}

// Retry starts a new attempt of a failed job from its original pages and
// options. Manual crop boxes survive; everything derived is recomputed
// under a fresh attempt prefix.
func (o *Orchestrator) Retry(ctx context.Context, jobID string) (*models.Job, error) {
	var previous int
	job, err := o.transition(ctx, jobID, func(job *models.Job) error {
		if job.Status != models.StatusFailed {
			return conflict("retry", job.Status)
		}
		pages, err := o.repo.GetPages(ctx, jobID)
		if err != nil {
			return err
		}
		for _, p := range pages {
			p.ResetForAttempt()
		}
		if err := o.repo.SavePages(ctx, pages); err != nil {
			return err
		}
		previous = job.Attempt
		job.Attempt++
		job.Status = models.StatusPending
		job.Error = nil
		job.Output = nil
		job.Warnings = nil
		job.Degraded = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := o.store.DeletePrefix(ctx, models.AttemptPrefix(jobID, previous)); err != nil {
		logger.ForJob(jobID).WithError(err).Warn("Failed to discard artifacts of the previous attempt")
	}
	logger.ForJob(jobID).WithField("attempt", job.Attempt).Info("Job retried")

	if !o.enqueue(jobID, o.process) {
		if _, err := o.transition(ctx, jobID, func(job *models.Job) error {
			job.Status = models.StatusFailed
			job.Error = &models.JobError{
				Type:    string(apperrors.ErrorTypeConflict),
				Stage:   stageRetry,
				Message: "job queue is full",
			}
			return nil
		}); err != nil {
			logger.ForJob(jobID).WithError(err).Error("Failed to return job to failed")
		}
		return nil, apperrors.NewConflictError("job queue is full", nil).WithStage(stageRetry)
	}
	return job, nil
}

// Delete cancels any running stage of the job, discards its artifacts and
// removes its records.
func (o *Orchestrator) Delete(ctx context.Context, jobID string) error {
	job, err := o.repo.GetJob(ctx, jobID)
	if err != nil {
		return review.MapRepositoryError(err)
	}

	o.mu.Lock()
	o.deleting[jobID] = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.deleting, jobID)
		o.mu.Unlock()
	}()

	if r := o.activeRun(jobID); r != nil {
		r.stop()
	}

	unlock := o.locks.LockJob(jobID)
	storeErr := o.store.DeletePrefix(ctx, models.JobPrefix(jobID))
	repoErr := o.repo.DeleteJob(ctx, jobID)
	unlock()
	o.locks.Forget(jobID)

	if repoErr != nil {
		return review.MapRepositoryError(repoErr)
	}
	if storeErr != nil {
		logger.ForJob(jobID).WithError(storeErr).Warn("Failed to discard job artifacts")
	}

	logger.ForJob(jobID).WithField("status", job.Status).Info("Job deleted")
	o.emit(ctx, observer.JobEvent{
		EventType: observer.JobCancelled,
		JobID:     jobID,
		Attempt:   job.Attempt,
		Stage:     string(job.Status),
	})
	return nil
}

// Recover fails jobs left mid-stage by a previous process so they can be retried.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	jobs, err := o.repo.ListJobs(ctx, repository.ListFilter{})
	if err != nil {
		return 0, review.MapRepositoryError(err)
	}
	recovered := 0
	for _, j := range jobs {
		switch j.Status {
		case models.StatusPending, models.StatusProcessing, models.StatusFinalizing:
		default:
			continue
		}
		if o.activeRun(j.ID) != nil {
			continue
		}
		stage := string(j.Status)
		if _, err := o.transition(ctx, j.ID, func(job *models.Job) error {
			job.Status = models.StatusFailed
			job.Error = &models.JobError{
				Type:    string(apperrors.ErrorTypeInternal),
				Stage:   stage,
				Message: "interrupted by shutdown",
			}
			return nil
		}); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// Job returns the job record
func (o *Orchestrator) Job(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := o.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, review.MapRepositoryError(err)
	}
	return job, nil
}

// Status returns the client view of a job
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*models.JobStatusResponse, error) {
	job, err := o.Job(ctx, jobID)
	if err != nil {
		return nil, err
	}
	pages, err := o.repo.GetPages(ctx, jobID)
	if err != nil {
		return nil, review.MapRepositoryError(err)
	}
	return statusOf(job, pages), nil
}

// List returns status snapshots newest first
func (o *Orchestrator) List(ctx context.Context, filter repository.ListFilter) ([]*models.JobStatusResponse, error) {
	jobs, err := o.repo.ListJobs(ctx, filter)
	if err != nil {
		return nil, review.MapRepositoryError(err)
	}
	out := make([]*models.JobStatusResponse, 0, len(jobs))
	for _, job := range jobs {
		pages, err := o.repo.GetPages(ctx, job.ID)
		if err != nil {
			return nil, review.MapRepositoryError(err)
		}
		out = append(out, statusOf(job, pages))
	}
	return out, nil
}

// Artifact names accepted by Output
const (
	ArtifactPDF       = "pdf"
	ArtifactHOCR      = "hocr"
	ArtifactText      = "text"
	ArtifactThumbnail = "thumbnail"
)

var artifactTypes = map[string]string{
	ArtifactPDF:       "application/pdf",
	ArtifactHOCR:      "application/gzip",
	ArtifactText:      "text/plain; charset=utf-8",
	ArtifactThumbnail: "image/jpeg",
}

// Output reads an artifact of a completed job and returns it with its content type
func (o *Orchestrator) Output(ctx context.Context, jobID, artifact string) ([]byte, string, error) {
	job, err := o.Job(ctx, jobID)
	if err != nil {
		return nil, "", err
	}
	if job.Status != models.StatusCompleted || job.Output == nil {
		return nil, "", apperrors.NewConflictError(
			fmt.Sprintf("output is only available once the job is completed (status %s)", job.Status), nil)
	}
	var key string
	switch artifact {
	case ArtifactPDF, "":
		artifact, key = ArtifactPDF, job.Output.PDF
	case ArtifactHOCR:
		key = job.Output.HOCR
	case ArtifactText:
		key = job.Output.Text
	case ArtifactThumbnail:
		key = job.Output.Thumbnail
	default:
		return nil, "", apperrors.NewValidationError("unknown artifact", nil).WithDetails(artifact)
	}
	if key == "" {
		return nil, "", apperrors.NewNotFoundError("artifact not produced for this job", nil).WithDetails(artifact)
	}
	data, err := o.store.Get(ctx, key)
	if err != nil {
		return nil, "", apperrors.NewInternalError("read artifact", err)
	}
	return data, artifactTypes[artifact], nil
}

// Await blocks until no stage of the job is queued or running and returns
// the job as it was left.
func (o *Orchestrator) Await(ctx context.Context, jobID string) (*models.Job, error) {
	for {
		r := o.activeRun(jobID)
		if r == nil {
			return o.Job(ctx, jobID)
		}
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, apperrors.NewTimeoutError("waiting for job", ctx.Err())
		}
	}
}

// transition applies change to the job under its exclusive lock and saves it.
// It refuses to run once ctx is cancelled so a cancelled stage never writes.
func (o *Orchestrator) transition(ctx context.Context, jobID string, change func(*models.Job) error) (*models.Job, error) {
	unlock := o.locks.LockJob(jobID)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	job, err := o.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, review.MapRepositoryError(err)
	}
	from := job.Status
	if err := change(job); err != nil {
		if _, ok := apperrors.As(err); ok {
			return nil, err
		}
		return nil, review.MapRepositoryError(err)
	}
	job.UpdatedAt = o.now()
	if err := o.repo.SaveJob(ctx, job); err != nil {
		return nil, review.MapRepositoryError(err)
	}
	if from != job.Status {
		logger.ForJob(jobID).WithField("attempt", job.Attempt).
			WithField("from", from).WithField("to", job.Status).Debug("Job transition")
	}
	return job, nil
}

func conflict(action string, status models.JobStatus) error {
	return apperrors.NewConflictError(fmt.Sprintf("cannot %s a job in status %s", action, status), nil)
}

// discard removes everything stored for a job that never became visible
func (o *Orchestrator) discard(ctx context.Context, jobID string) {
	if err := o.store.DeletePrefix(context.WithoutCancel(ctx), models.JobPrefix(jobID)); err != nil {
		logger.ForJob(jobID).WithError(err).Warn("Failed to discard job artifacts")
	}
}

func (o *Orchestrator) emit(ctx context.Context, event observer.JobEvent) {
	if o.events == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = o.now()
	}
	o.events.NotifyObservers(context.WithoutCancel(ctx), event)
}

func flaggedPages(pages []*models.Page) []int {
	var out []int
	for _, p := range pages {
		if p.NeedsReview && !p.Excluded {
			out = append(out, p.Number)
		}
	}
	return out
}

func statusOf(job *models.Job, pages []*models.Page) *models.JobStatusResponse {
	degraded := make(map[int]bool, len(job.Degraded))
	for _, n := range job.Degraded {
		degraded[n] = true
	}
	resp := &models.JobStatusResponse{
		ID:            job.ID,
		Title:         job.Title,
		Status:        job.Status,
		Attempt:       job.Attempt,
		Pages:         make([]models.PageStatus, 0, len(pages)),
		Error:         job.Error,
		DegradedPages: len(job.Degraded),
		Warnings:      job.Warnings,
		CreatedAt:     job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     job.UpdatedAt.Format(time.RFC3339),
	}
	for _, p := range pages {
		ps := models.PageStatus{
			Number:      p.Number,
			NeedsReview: p.NeedsReview,
			Reviewed:    p.Reviewed,
			Provenance:  p.Crop.Provenance,
			Reasons:     p.Reasons,
			Excluded:    p.Excluded,
			Degraded:    degraded[p.Number],
			Error:       p.Error,
		}
		if ps.Error == "" {
			ps.Error = p.OCRError
		}
		resp.Pages = append(resp.Pages, ps)
	}
	if job.Error != nil {
		resp.ErrorSummary = fmt.Sprintf("%s during %s: %s", job.Error.Type, job.Error.Stage, job.Error.Message)
	}
	if job.Status == models.StatusCompleted {
		resp.Output = job.Output
	}
	return resp
}
