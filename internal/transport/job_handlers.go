package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	apperrors "go-repub/internal/errors"
	"go-repub/internal/ingest"
	"go-repub/internal/logger"
	"go-repub/internal/service"
	"go-repub/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type jobHandlers struct {
	svc service.JobService
	cfg Config
}

func (h *jobHandlers) metrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Metrics())
}

// submitJob accepts page URLs; pages are fetched before the job is created
func (h *jobHandlers) submitJob(c *gin.Context) {
	startTime := time.Now()
	ctx, cancel := h.requestContext(c)
	defer cancel()

	defaults := h.svc.DefaultOptions()
	req := models.SubmitJobRequest{Options: &defaults}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, "invalid request format", apperrors.NewValidationError("invalid request format", err))
		return
	}

	logger.WithFields(logrus.Fields{
		"pages": len(req.PageURLs),
		"title": req.Title,
		"ip":    c.ClientIP(),
	}).Info("Processing job submission")

	status, err := h.svc.SubmitFromURLs(ctx, req)
	if err != nil {
		respondError(c, "failed to submit job", err)
		return
	}

	logger.ForJob(status.ID).WithField("processing_time_ms", time.Since(startTime).Milliseconds()).
		Info("Job accepted")
	c.JSON(http.StatusAccepted, status)
}

// uploadJob accepts multipart page files ("pages") or one scanned document ("pdf")
func (h *jobHandlers) uploadJob(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	form, err := c.MultipartForm()
	if err != nil {
		respondError(c, "invalid upload", apperrors.NewValidationError("invalid multipart form", err))
		return
	}
	title := firstValue(form, "title")

	var opts *models.JobOptions
	if raw := firstValue(form, "options"); raw != "" {
		o := h.svc.DefaultOptions()
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			respondError(c, "invalid upload", apperrors.NewValidationError("options is not valid JSON", err))
			return
		}
		opts = &o
	}

	var status *models.JobStatusResponse
	if docs := form.File["pdf"]; len(docs) > 0 {
		if len(docs) > 1 {
			respondError(c, "invalid upload", apperrors.NewValidationError("only one pdf may be uploaded per job", nil))
			return
		}
		data, err := readFile(docs[0])
		if err != nil {
			respondError(c, "invalid upload", err)
			return
		}
		status, err = h.svc.SubmitPDF(ctx, title, opts, docs[0].Filename, data)
		if err != nil {
			respondError(c, "failed to submit job", err)
			return
		}
	} else {
		files := append([]*multipart.FileHeader{}, form.File["pages[]"]...)
		files = append(files, form.File["pages"]...)
		if len(files) == 0 {
			respondError(c, "invalid upload", apperrors.NewValidationError("no pages uploaded", nil))
			return
		}
		expected := append([]string{}, form.Value["expected_text[]"]...)
		expected = append(expected, form.Value["expected_text"]...)
		pages := make([]ingest.PageInput, 0, len(files))
		for i, fh := range files {
			data, err := readFile(fh)
			if err != nil {
				respondError(c, "invalid upload", err)
				return
			}
			page := ingest.PageInput{Name: fh.Filename, Data: data}
			if i < len(expected) {
				page.ExpectedText = expected[i]
			}
			pages = append(pages, page)
		}
		status, err = h.svc.SubmitPages(ctx, title, opts, pages)
		if err != nil {
			respondError(c, "failed to submit job", err)
			return
		}
	}

	logger.ForJob(status.ID).WithField("pages", len(status.Pages)).Info("Upload accepted")
	c.JSON(http.StatusAccepted, status)
}

func (h *jobHandlers) listJobs(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, "invalid query", apperrors.NewValidationError("limit must be an integer", err))
			return
		}
		limit = n
	}
	jobs, err := h.svc.ListJobs(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		respondError(c, "failed to list jobs", err)
		return
	}
	if jobs == nil {
		jobs = []*models.JobStatusResponse{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (h *jobHandlers) getJob(c *gin.Context) {
	status, err := h.svc.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "failed to get job", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *jobHandlers) deleteJob(c *gin.Context) {
	if err := h.svc.DeleteJob(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, "failed to delete job", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *jobHandlers) finalizeJob(c *gin.Context) {
	status, err := h.svc.Finalize(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "failed to finalize job", err)
		return
	}
	c.JSON(http.StatusAccepted, status)
}

func (h *jobHandlers) retryJob(c *gin.Context) {
	status, err := h.svc.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "failed to retry job", err)
		return
	}
	c.JSON(http.StatusAccepted, status)
}

// getOutput streams one artifact of a completed job; ?artifact=pdf|hocr|text|thumbnail
func (h *jobHandlers) getOutput(c *gin.Context) {
	id := c.Param("id")
	artifact := c.DefaultQuery("artifact", "pdf")
	data, contentType, err := h.svc.Output(c.Request.Context(), id, artifact)
	if err != nil {
		respondError(c, "failed to get output", err)
		return
	}
	if artifact == "pdf" {
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.pdf"`, id))
	}
	c.Data(http.StatusOK, contentType, data)
}

func (h *jobHandlers) getPage(c *gin.Context) {
	number, ok := pageParam(c)
	if !ok {
		return
	}
	state, err := h.svc.GetPage(c.Request.Context(), c.Param("id"), number)
	if err != nil {
		respondError(c, "failed to get page", err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *jobHandlers) applyCrop(c *gin.Context) {
	number, ok := pageParam(c)
	if !ok {
		return
	}
	var req models.ManualCropRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, "invalid request format", apperrors.NewValidationError("invalid crop box", err))
		return
	}
	state, err := h.svc.ApplyManualCrop(c.Request.Context(), c.Param("id"), number, req)
	if err != nil {
		respondError(c, "failed to apply crop", err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *jobHandlers) approvePage(c *gin.Context) {
	number, ok := pageParam(c)
	if !ok {
		return
	}
	state, err := h.svc.ApprovePage(c.Request.Context(), c.Param("id"), number)
	if err != nil {
		respondError(c, "failed to approve page", err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *jobHandlers) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.cfg.RequestTimeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.cfg.RequestTimeout)
}

func pageParam(c *gin.Context) (int, bool) {
	n, err := strconv.Atoi(c.Param("page"))
	if err != nil || n < 1 {
		respondError(c, "invalid page", apperrors.NewValidationError("page must be a positive integer", err))
		return 0, false
	}
	return n, true
}

func firstValue(form *multipart.Form, key string) string {
	if vs := form.Value[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, apperrors.NewInputError(fmt.Sprintf("cannot open upload %s", fh.Filename), err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apperrors.NewInputError(fmt.Sprintf("cannot read upload %s", fh.Filename), err)
	}
	return data, nil
}
