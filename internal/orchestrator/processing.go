package orchestrator

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"go-repub/internal/assembler"
	apperrors "go-repub/internal/errors"
	"go-repub/internal/geometry"
	"go-repub/internal/imaging"
	"go-repub/internal/logger"
	"go-repub/internal/observer"
	"go-repub/internal/reconcile"
	"go-repub/pkg/models"
)

// estimateResult is what a per-page estimation task reports back
type estimateResult struct {
	number   int
	estimate geometry.Estimate
	dewarp   *models.DewarpModel
	err      error
}

// process runs geometry estimation over every page, reconciles the
// estimates and either parks the job for review or finalizes it.
func (o *Orchestrator) process(ctx context.Context, jobID string) {
	job, err := o.transition(ctx, jobID, func(job *models.Job) error {
		if job.Status != models.StatusPending {
			return conflict("process", job.Status)
		}
		job.Status = models.StatusProcessing
		return nil
	})
	if err != nil {
		o.abandon(ctx, jobID, stageProcessing, err)
		return
	}
	log := logger.ForJob(jobID).WithField("stage", stageProcessing).WithField("attempt", job.Attempt)
	start := o.now()
	o.emit(ctx, observer.JobEvent{EventType: observer.StageStarted, JobID: jobID, Attempt: job.Attempt, Stage: stageProcessing})

	pages, err := o.repo.GetPages(ctx, jobID)
	if err != nil {
		o.fail(ctx, job, stageProcessing, err)
		return
	}
	results, err := o.estimateAll(ctx, job, pages)
	if err != nil {
		o.fail(ctx, job, stageProcessing, err)
		return
	}

	var warnings []string
	included := 0
	for _, p := range pages {
		res := results[p.Number]
		if res.err != nil {
			p.Excluded = true
			p.Error = res.err.Error()
			warnings = append(warnings, fmt.Sprintf("page %d excluded: %s", p.Number, messageOf(res.err)))
			log.WithField("page", p.Number).WithError(res.err).Warn("Page excluded")
			o.emit(ctx, observer.JobEvent{
				EventType:    observer.PageExcluded,
				JobID:        jobID,
				Attempt:      job.Attempt,
				Stage:        stageProcessing,
				Page:         p.Number,
				ErrorMessage: res.err.Error(),
			})
			continue
		}
		applyEstimate(p, res)
		included++
	}

	if included > 0 {
		stats := reconcilePages(pages, job.Options)
		log.WithField("median_width", stats.MedianWidth).
			WithField("median_height", stats.MedianHeight).
			WithField("stddev_width", stats.StdDevWidth).
			WithField("stddev_height", stats.StdDevHeight).
			WithField("flagged", flaggedPages(pages)).
			Debug("Pages reconciled")
	}

	if err := o.repo.SavePages(ctx, pages); err != nil {
		o.fail(ctx, job, stageProcessing, err)
		return
	}
	if included == 0 {
		o.fail(ctx, job, stageProcessing,
			apperrors.NewInputError("no page of the job could be decoded", nil))
		return
	}

	flagged := flaggedPages(pages)
	next := models.StatusFinalizing
	if len(flagged) > 0 || job.Options.ManualReview {
		next = models.StatusReviewing
	}
	job, err = o.transition(ctx, jobID, func(job *models.Job) error {
		if job.Status != models.StatusProcessing {
			return conflict("leave processing for", job.Status)
		}
		job.Status = next
		job.Warnings = append(job.Warnings, warnings...)
		return nil
	})
	if err != nil {
		o.abandon(ctx, jobID, stageProcessing, err)
		return
	}

	duration := o.now().Sub(start)
	log.WithField("duration", duration.String()).WithField("next", next).Info("Processing finished")
	o.emit(ctx, observer.JobEvent{
		EventType: observer.StageCompleted,
		JobID:     jobID,
		Attempt:   job.Attempt,
		Stage:     stageProcessing,
		Duration:  duration,
	})

	if next == models.StatusReviewing {
		o.emit(ctx, observer.JobEvent{
			EventType: observer.JobReviewing,
			JobID:     jobID,
			Attempt:   job.Attempt,
			Metadata:  map[string]interface{}{"flagged": flagged},
		})
		return
	}
	o.finalize(ctx, jobID)
}

// estimateAll fans estimation out over the pages and returns once every
// task has reported. Page-level failures travel in the result; only
// cancellation and storage failures abort the stage.
func (o *Orchestrator) estimateAll(ctx context.Context, job *models.Job, pages []*models.Page) (map[int]estimateResult, error) {
	msgs := make(chan estimateResult, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.PageFanout)
	for _, p := range pages {
		p := p.Clone()
		g.Go(func() error {
			res, err := o.estimatePage(gctx, job, p)
			if err != nil {
				return err
			}
			msgs <- res
			return nil
		})
	}
	err := g.Wait()
	close(msgs)
	if err != nil {
		return nil, err
	}

	results := make(map[int]estimateResult, len(pages))
	for res := range msgs {
		results[res.number] = res
	}
	return results, nil
}

func (o *Orchestrator) estimatePage(ctx context.Context, job *models.Job, page *models.Page) (estimateResult, error) {
	res := estimateResult{number: page.Number}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	data, err := o.store.Get(ctx, page.Original)
	if err != nil {
		return res, apperrors.NewInternalError(fmt.Sprintf("read original of page %d", page.Number), err)
	}
	if len(data) == 0 {
		res.err = apperrors.NewInputError("page has no image data", nil)
		return res, nil
	}
	img, _, err := imaging.Decode(data)
	if err != nil {
		res.err = apperrors.NewInputError("page image could not be decoded", err)
		return res, nil
	}
	img = imaging.RotateQuarter(img, page.Rotate)

	est := o.estimator.Estimate(img, job.Options)
	res.estimate = est

	if job.Options.Dewarp && o.dewarper != nil {
		skew := 0.0
		if job.Options.Deskew {
			skew = est.Skew
		}
		crop := est.Crop.Rect()
		if page.Override {
			crop = page.Crop.Rect()
		}
		rotated, region := assembler.Deskew(img, skew, crop)
		res.dewarp = o.dewarper.Fit(rotated, region)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func applyEstimate(p *models.Page, res estimateResult) {
	est := res.estimate
	p.Width, p.Height = est.Width, est.Height
	p.AutoCrop = est.Crop
	p.CropConfidence = est.CropConfidence
	p.Skew = est.Skew
	p.SkewConfidence = est.SkewConfidence
	p.Dewarp = res.dewarp
	p.Regions = p.Regions[:0]
	for _, r := range est.Regions {
		p.Regions = append(p.Regions, models.NewCropBox(r, models.ProvenanceAuto))
	}
}

// reconcilePages runs the consistency pass over the included pages and
// writes the decisions back. Manual boxes are passed through untouched.
func reconcilePages(pages []*models.Page, opts models.JobOptions) reconcile.Statistics {
	var inputs []reconcile.Input
	byNumber := make(map[int]*models.Page, len(pages))
	for _, p := range pages {
		if p.Excluded {
			continue
		}
		byNumber[p.Number] = p
		box := p.AutoCrop
		if p.Override {
			box = p.Crop
		}
		inputs = append(inputs, reconcile.Input{
			Number:         p.Number,
			Width:          p.Width,
			Height:         p.Height,
			Box:            box,
			CropConfidence: p.CropConfidence,
			SkewConfidence: p.SkewConfidence,
			SkewMeasured:   opts.Deskew,
		})
	}

	// without cropping every box is the full image; only the skew can be in doubt
	if !opts.Crop {
		for _, in := range inputs {
			p := byNumber[in.Number]
			if p.Override {
				continue
			}
			p.Crop = p.AutoCrop
			p.Reasons = nil
			if opts.Deskew && p.SkewConfidence == 0 {
				p.Reasons = []models.ReviewReason{models.ReasonSkewUnknown}
			}
			p.NeedsReview = len(p.Reasons) > 0
		}
		return reconcile.Statistics{}
	}

	res := reconcile.Reconcile(inputs, opts.Reconcile)
	for _, d := range res.Decisions {
		p := byNumber[d.Number]
		if p.Override {
			p.NeedsReview = false
			p.Reasons = nil
			continue
		}
		p.Crop = d.Box
		p.NeedsReview = d.NeedsReview
		p.Reasons = d.Reasons
	}
	return res.Statistics
}

// fail records the first root cause of a fatal stage error. Artifacts of
// the attempt are kept for diagnostics.
func (o *Orchestrator) fail(ctx context.Context, job *models.Job, stage string, cause error) {
	if ctx.Err() != nil {
		o.abandon(ctx, job.ID, stage, cause)
		return
	}
	jobErr := &models.JobError{
		Type:    string(apperrors.ErrorTypeInternal),
		Stage:   stage,
		Message: cause.Error(),
	}
	if appErr, ok := apperrors.As(cause); ok {
		jobErr.Type = string(appErr.Type)
		jobErr.Message = appErr.Message
		if appErr.Cause != nil {
			jobErr.Message = fmt.Sprintf("%s: %v", appErr.Message, appErr.Cause)
		}
	}

	_, err := o.transition(ctx, job.ID, func(j *models.Job) error {
		if j.Status.Terminal() {
			return conflict("fail", j.Status)
		}
		j.Status = models.StatusFailed
		if j.Error == nil {
			j.Error = jobErr
		}
		return nil
	})
	if err != nil {
		o.abandon(ctx, job.ID, stage, err)
		return
	}

	logger.ForJob(job.ID).WithField("stage", stage).WithField("attempt", job.Attempt).
		WithField("type", jobErr.Type).WithError(cause).Error("Job failed")
	o.emit(ctx, observer.JobEvent{
		EventType:    observer.JobFailed,
		JobID:        job.ID,
		Attempt:      job.Attempt,
		Stage:        stage,
		ErrorMessage: jobErr.Message,
	})
}

// abandon stops a stage without touching the job. A cancelled stage is
// expected when the job is being deleted or the process shuts down.
func (o *Orchestrator) abandon(ctx context.Context, jobID, stage string, err error) {
	log := logger.ForJob(jobID).WithField("stage", stage)
	if ctx.Err() != nil {
		log.Debug("Stage cancelled")
		return
	}
	log.WithError(err).Error("Stage abandoned")
}

func messageOf(err error) string {
	if appErr, ok := apperrors.As(err); ok {
		return appErr.Message
	}
	return err.Error()
}
