package orchestrator

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"go-repub/internal/assembler"
	apperrors "go-repub/internal/errors"
	"go-repub/internal/imaging"
	"go-repub/internal/logger"
	"go-repub/internal/observer"
	"go-repub/internal/ocr"
	"go-repub/internal/pdf"
	"go-repub/pkg/models"
)

// finalize assembles every included page and merges them into the output
// document. The job must already be in finalizing.
func (o *Orchestrator) finalize(ctx context.Context, jobID string) {
	job, err := o.Job(ctx, jobID)
	if err != nil {
		o.abandon(ctx, jobID, stageFinalizing, err)
		return
	}
	if job.Status != models.StatusFinalizing {
		o.abandon(ctx, jobID, stageFinalizing, conflict("finalize", job.Status))
		return
	}
	log := logger.ForJob(jobID).WithField("stage", stageFinalizing).WithField("attempt", job.Attempt)
	start := o.now()
	o.emit(ctx, observer.JobEvent{EventType: observer.StageStarted, JobID: jobID, Attempt: job.Attempt, Stage: stageFinalizing})

	pages, err := o.repo.GetPages(ctx, jobID)
	if err != nil {
		o.fail(ctx, job, stageFinalizing, err)
		return
	}
	var included []*models.Page
	for _, p := range pages {
		if !p.Excluded {
			included = append(included, p)
		}
	}

	results, err := o.assembleAll(ctx, job, included)
	if err != nil {
		o.fail(ctx, job, stageFinalizing, err)
		return
	}

	var degraded []int
	for _, p := range included {
		r := results[p.Number]
		p.Processed = r.Processed
		p.TextLayer = r.TextKey
		p.OCRDegraded = r.Degraded()
		p.OCRError = r.OCRError
		p.Accuracy = r.Accuracy
		if r.Degraded() {
			degraded = append(degraded, p.Number)
			log.WithField("page", p.Number).WithField("reason", r.OCRError).Warn("Page has no text layer")
			o.emit(ctx, observer.JobEvent{
				EventType:    observer.PageDegraded,
				JobID:        jobID,
				Attempt:      job.Attempt,
				Stage:        stageFinalizing,
				Page:         p.Number,
				ErrorMessage: r.OCRError,
			})
		}
	}

	artifacts, err := o.merge(ctx, job, included, results)
	if err != nil {
		o.fail(ctx, job, stageFinalizing, err)
		return
	}
	if err := o.repo.SavePages(ctx, included); err != nil {
		o.fail(ctx, job, stageFinalizing, err)
		return
	}

	job, err = o.transition(ctx, jobID, func(job *models.Job) error {
		if job.Status != models.StatusFinalizing {
			return conflict("complete", job.Status)
		}
		job.Status = models.StatusCompleted
		job.Output = artifacts
		job.Degraded = degraded
		return nil
	})
	if err != nil {
		o.abandon(ctx, jobID, stageFinalizing, err)
		return
	}

	duration := o.now().Sub(start)
	log.WithField("duration", duration.String()).
		WithField("pages", len(included)).
		WithField("degraded", len(degraded)).
		Info("Job completed")
	o.emit(ctx, observer.JobEvent{
		EventType: observer.StageCompleted,
		JobID:     jobID,
		Attempt:   job.Attempt,
		Stage:     stageFinalizing,
		Duration:  duration,
	})
	o.emit(ctx, observer.JobEvent{
		EventType: observer.JobCompleted,
		JobID:     jobID,
		Attempt:   job.Attempt,
		Metadata:  map[string]interface{}{"pages": len(included), "degraded": len(degraded)},
	})
}

// assembleAll fans page assembly out and waits for every page. Any error
// is fatal to the stage; OCR failures arrive as degraded results instead.
func (o *Orchestrator) assembleAll(ctx context.Context, job *models.Job, pages []*models.Page) (map[int]*assembler.Result, error) {
	msgs := make(chan *assembler.Result, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.PageFanout)
	for _, p := range pages {
		p := p.Clone()
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := o.assembler.Assemble(gctx, job, p)
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

	results := make(map[int]*assembler.Result, len(pages))
	for res := range msgs {
		results[res.Number] = res
	}
	return results, nil
}

// merge writes the output document and its companions under the attempt prefix.
func (o *Orchestrator) merge(ctx context.Context, job *models.Job, pages []*models.Page, results map[int]*assembler.Result) (*models.Artifacts, error) {
	ordered := make([]*assembler.Result, 0, len(pages))
	for _, p := range pages {
		ordered = append(ordered, results[p.Number])
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Number < ordered[j].Number })

	dpi := job.Options.EffectiveDPI()
	docPages := make([]pdf.Page, 0, len(ordered))
	for _, r := range ordered {
		docPages = append(docPages, pdf.Page{
			Number: r.Number,
			JPEG:   r.JPEG,
			Width:  r.Width,
			Height: r.Height,
			DPI:    dpi,
			Text:   r.Text,
		})
	}

	var doc bytes.Buffer
	meta := pdf.NewMetadata(job.Title, job.CreatedAt, job.Properties)
	if err := pdf.Write(&doc, meta, docPages); err != nil {
		return nil, apperrors.NewAssemblyError("write output document", err)
	}
	if err := pdf.Verify(doc.Bytes(), len(docPages)); err != nil {
		return nil, apperrors.NewAssemblyError("verify output document", err)
	}

	artifacts := &models.Artifacts{PDF: models.OutputKey(job.ID, job.Attempt, "book.pdf")}
	if err := o.store.Put(ctx, artifacts.PDF, doc.Bytes(), "application/pdf"); err != nil {
		return nil, apperrors.NewAssemblyError("store output document", err)
	}

	if job.Options.OCR {
		var hocrPages []ocr.PageHOCR
		texts := make([]string, 0, len(ordered))
		for _, r := range ordered {
			if r.Text == nil {
				texts = append(texts, "")
				continue
			}
			hocrPages = append(hocrPages, ocr.PageHOCR{Number: r.Number, HOCR: r.Text.HOCR})
			texts = append(texts, r.Text.PlainText)
		}

		if len(hocrPages) > 0 {
			stitched, err := ocr.Stitch(job.Title, hocrPages)
			if err != nil {
				return nil, apperrors.NewAssemblyError("stitch hOCR", err)
			}
			compressed, err := gzipBytes(stitched)
			if err != nil {
				return nil, apperrors.NewAssemblyError("compress hOCR", err)
			}
			artifacts.HOCR = models.OutputKey(job.ID, job.Attempt, "hocr.html.gz")
			if err := o.store.Put(ctx, artifacts.HOCR, compressed, "application/gzip"); err != nil {
				return nil, apperrors.NewAssemblyError("store hOCR", err)
			}
		}

		artifacts.Text = models.OutputKey(job.ID, job.Attempt, "text.txt")
		if err := o.store.Put(ctx, artifacts.Text, []byte(strings.Join(texts, "\f")), "text/plain; charset=utf-8"); err != nil {
			return nil, apperrors.NewAssemblyError("store plain text", err)
		}
	}

	cover := ordered[0]
	for _, p := range pages {
		if p.Cover {
			cover = results[p.Number]
			break
		}
	}
	thumb, err := o.thumbnail(cover)
	if err != nil {
		return nil, apperrors.NewAssemblyError(fmt.Sprintf("thumbnail of page %d", cover.Number), err)
	}
	artifacts.Thumbnail = models.OutputKey(job.ID, job.Attempt, "thumb.jpg")
	if err := o.store.Put(ctx, artifacts.Thumbnail, thumb, "image/jpeg"); err != nil {
		return nil, apperrors.NewAssemblyError("store thumbnail", err)
	}
	return artifacts, nil
}

func (o *Orchestrator) thumbnail(cover *assembler.Result) ([]byte, error) {
	img, _, err := imaging.Decode(cover.JPEG)
	if err != nil {
		return nil, err
	}
	return imaging.EncodeJPEG(imaging.Thumbnail(img, o.cfg.ThumbnailWidth), o.cfg.JPEGQuality)
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
