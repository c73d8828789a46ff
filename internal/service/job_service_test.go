package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	apperrors "go-repub/internal/errors"
	"go-repub/internal/ingest"
	"go-repub/internal/orchestrator"
	"go-repub/internal/repository"
	"go-repub/pkg/models"
	"go-repub/pkg/validation"
)

type fakeOrchestrator struct {
	submitted []orchestrator.SubmitRequest
	filter    repository.ListFilter
	err       error
}

func (f *fakeOrchestrator) Submit(ctx context.Context, req orchestrator.SubmitRequest) (*models.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.submitted = append(f.submitted, req)
	return &models.Job{ID: "job-1", Status: models.StatusPending}, nil
}

func (f *fakeOrchestrator) Finalize(ctx context.Context, id string) (*models.Job, error) {
	return &models.Job{ID: id, Status: models.StatusFinalizing}, f.err
}

func (f *fakeOrchestrator) Retry(ctx context.Context, id string) (*models.Job, error) {
	return &models.Job{ID: id, Status: models.StatusPending}, f.err
}

func (f *fakeOrchestrator) Delete(ctx context.Context, id string) error { return f.err }

func (f *fakeOrchestrator) Await(ctx context.Context, id string) (*models.Job, error) {
	return &models.Job{ID: id, Status: models.StatusCompleted}, f.err
}

func (f *fakeOrchestrator) Status(ctx context.Context, id string) (*models.JobStatusResponse, error) {
	return &models.JobStatusResponse{ID: id, Status: models.StatusPending}, nil
}

func (f *fakeOrchestrator) List(ctx context.Context, filter repository.ListFilter) ([]*models.JobStatusResponse, error) {
	f.filter = filter
	return nil, nil
}

func (f *fakeOrchestrator) Output(ctx context.Context, id, artifact string) ([]byte, string, error) {
	return []byte(artifact), "text/plain", nil
}

func (f *fakeOrchestrator) Stats() orchestrator.WorkerPoolStats {
	return orchestrator.WorkerPoolStats{Workers: 2}
}

type fakeReviewer struct {
	box models.CropBox
}

func (f *fakeReviewer) GetPageState(ctx context.Context, id string, n int) (*models.Page, error) {
	return &models.Page{JobID: id, Number: n, Width: 100, Height: 100}, nil
}

func (f *fakeReviewer) ApplyManualCrop(ctx context.Context, id string, n int, box models.CropBox) (*models.Page, error) {
	f.box = box
	return &models.Page{JobID: id, Number: n, Crop: box, Override: true, Reviewed: true}, nil
}

func (f *fakeReviewer) ApprovePage(ctx context.Context, id string, n int) (*models.Page, error) {
	return &models.Page{JobID: id, Number: n, Reviewed: true}, nil
}

type fakeFetcher struct {
	fail string
}

func (f *fakeFetcher) FetchBytes(ctx context.Context, u string) ([]byte, error) {
	if u == f.fail {
		return nil, errors.New("connection refused")
	}
	return []byte("data:" + u), nil
}

type fakeMetrics struct{}

func (fakeMetrics) GetMetrics() map[string]interface{} {
	return map[string]interface{}{"jobs_submitted": int64(3)}
}

func newTestService(orch *fakeOrchestrator, fetcher *fakeFetcher) (JobService, *fakeReviewer) {
	rev := &fakeReviewer{}
	cfg := Config{Defaults: models.DefaultJobOptions(), FetchConcurrency: 2}
	return NewJobService(orch, rev, fetcher, validation.NewURLValidator(), fakeMetrics{}, cfg), rev
}

func TestSubmitFromURLs(t *testing.T) {
	orch := &fakeOrchestrator{}
	svc, _ := newTestService(orch, &fakeFetcher{})

	req := models.SubmitJobRequest{
		Title:    "Scans",
		PageURLs: []string{"https://example.com/a/001.png", "https://example.com/a/002.png"},
		Expected: []string{"first page"},
	}
	status, err := svc.SubmitFromURLs(context.Background(), req)
	if err != nil {
		t.Fatalf("SubmitFromURLs failed: %v", err)
	}
	if status.ID != "job-1" {
		t.Errorf("Expected job-1, got %s", status.ID)
	}
	if len(orch.submitted) != 1 {
		t.Fatalf("Expected one submission, got %d", len(orch.submitted))
	}
	sub := orch.submitted[0]
	if sub.Title != "Scans" || len(sub.Pages) != 2 {
		t.Errorf("Unexpected submission %+v", sub)
	}
	if sub.Pages[0].Name != "001.png" || string(sub.Pages[1].Data) != "data:https://example.com/a/002.png" {
		t.Errorf("Expected pages in URL order, got %q and %q", sub.Pages[0].Name, sub.Pages[1].Data)
	}
	if sub.Pages[0].ExpectedText != "first page" || sub.Pages[1].ExpectedText != "" {
		t.Errorf("Expected text attached to page 1 only")
	}
	if sub.Options.MaxContours != 5 || !sub.Options.OCR {
		t.Errorf("Expected default options, got %+v", sub.Options)
	}
}

func TestSubmitFromURLs_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		req      models.SubmitJobRequest
		fail     string
		expected apperrors.ErrorType
	}{
		{
			name:     "no urls",
			req:      models.SubmitJobRequest{},
			expected: apperrors.ErrorTypeValidation,
		},
		{
			name:     "bad scheme",
			req:      models.SubmitJobRequest{PageURLs: []string{"ftp://example.com/a.png"}},
			expected: apperrors.ErrorTypeValidation,
		},
		{
			name: "too many expected texts",
			req: models.SubmitJobRequest{
				PageURLs: []string{"https://example.com/a.png"},
				Expected: []string{"a", "b"},
			},
			expected: apperrors.ErrorTypeValidation,
		},
		{
			name:     "fetch failure",
			req:      models.SubmitJobRequest{PageURLs: []string{"https://example.com/a.png", "https://example.com/b.png"}},
			fail:     "https://example.com/b.png",
			expected: apperrors.ErrorTypeNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch := &fakeOrchestrator{}
			svc, _ := newTestService(orch, &fakeFetcher{fail: tt.fail})
			_, err := svc.SubmitFromURLs(context.Background(), tt.req)
			if !apperrors.IsType(err, tt.expected) {
				t.Errorf("Expected %s, got %v", tt.expected, err)
			}
			if len(orch.submitted) != 0 {
				t.Error("Expected nothing submitted")
			}
		})
	}
}

func TestSubmitPages_ExplicitOptions(t *testing.T) {
	orch := &fakeOrchestrator{}
	svc, _ := newTestService(orch, nil)

	opts := models.DefaultJobOptions().WithoutOCR()
	pages := []ingest.PageInput{{Name: "1.png", Data: []byte("x")}}
	if _, err := svc.SubmitPages(context.Background(), "t", &opts, pages); err != nil {
		t.Fatalf("SubmitPages failed: %v", err)
	}
	if orch.submitted[0].Options.OCR {
		t.Error("Expected explicit options to replace the defaults")
	}

	orch.err = apperrors.NewConfigurationError("invalid job options", nil)
	if _, err := svc.SubmitPages(context.Background(), "t", nil, pages); !apperrors.IsType(err, apperrors.ErrorTypeConfiguration) {
		t.Errorf("Expected orchestrator error to pass through, got %v", err)
	}
}

func TestSubmitBook_CarriesProperties(t *testing.T) {
	orch := &fakeOrchestrator{}
	svc, _ := newTestService(orch, nil)

	book := &ingest.Book{
		Pages:      []ingest.PageInput{{Name: "0001.jpg", Data: []byte("x"), Rotate: 90, Cover: true}},
		Properties: map[string]string{"Title": "Scanned", "Identifier": "id-1"},
	}
	if _, err := svc.SubmitBook(context.Background(), "", nil, book); err != nil {
		t.Fatalf("SubmitBook failed: %v", err)
	}
	req := orch.submitted[0]
	if req.Properties["Identifier"] != "id-1" {
		t.Errorf("Expected properties passed to the orchestrator, got %v", req.Properties)
	}
	if req.Pages[0].Rotate != 90 || !req.Pages[0].Cover {
		t.Errorf("Expected page markers kept, got %+v", req.Pages[0])
	}
}

func TestSubmitPDF_RejectsGarbage(t *testing.T) {
	svc, _ := newTestService(&fakeOrchestrator{}, nil)
	_, err := svc.SubmitPDF(context.Background(), "t", nil, "scan.pdf", []byte("not a pdf"))
	if !apperrors.IsType(err, apperrors.ErrorTypeInput) {
		t.Errorf("Expected INPUT_ERROR, got %v", err)
	}
}

func TestListJobs(t *testing.T) {
	orch := &fakeOrchestrator{}
	svc, _ := newTestService(orch, nil)

	if _, err := svc.ListJobs(context.Background(), "reviewing", 10); err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if orch.filter.Status != models.StatusReviewing || orch.filter.Limit != 10 {
		t.Errorf("Unexpected filter %+v", orch.filter)
	}
	if _, err := svc.ListJobs(context.Background(), "sleeping", 0); !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
		t.Errorf("Expected VALIDATION_ERROR for unknown status, got %v", err)
	}
	if _, err := svc.ListJobs(context.Background(), "", -1); !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
		t.Errorf("Expected VALIDATION_ERROR for negative limit, got %v", err)
	}
}

func TestReviewOperations(t *testing.T) {
	svc, rev := newTestService(&fakeOrchestrator{}, nil)
	ctx := context.Background()

	state, err := svc.ApplyManualCrop(ctx, "job-1", 2, models.ManualCropRequest{Left: 1, Top: 2, Right: 50, Bottom: 60})
	if err != nil {
		t.Fatalf("ApplyManualCrop failed: %v", err)
	}
	if rev.box.Provenance != models.ProvenanceManual || rev.box.Right != 50 {
		t.Errorf("Expected manual box passed to the gate, got %+v", rev.box)
	}
	if !state.Override || state.Number != 2 || state.JobID != "job-1" {
		t.Errorf("Unexpected page state %+v", state)
	}

	approved, err := svc.ApprovePage(ctx, "job-1", 1)
	if err != nil || !approved.Reviewed {
		t.Errorf("Expected approved page, got %+v (%v)", approved, err)
	}
	page, err := svc.GetPage(ctx, "job-1", 3)
	if err != nil || page.Width != 100 {
		t.Errorf("Expected page state, got %+v (%v)", page, err)
	}
}

func TestOutputDefaultsToPDF(t *testing.T) {
	svc, _ := newTestService(&fakeOrchestrator{}, nil)
	data, _, err := svc.Output(context.Background(), "job-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != orchestrator.ArtifactPDF {
		t.Errorf("Expected pdf artifact, got %s", data)
	}
}

func TestLifecyclePassThrough(t *testing.T) {
	orch := &fakeOrchestrator{}
	svc, _ := newTestService(orch, nil)
	ctx := context.Background()

	if _, err := svc.Finalize(ctx, "job-1"); err != nil {
		t.Errorf("Finalize failed: %v", err)
	}
	if _, err := svc.Retry(ctx, "job-1"); err != nil {
		t.Errorf("Retry failed: %v", err)
	}
	if _, err := svc.Await(ctx, "job-1"); err != nil {
		t.Errorf("Await failed: %v", err)
	}

	orch.err = apperrors.NewConflictError("cannot finalize a job in status completed", nil)
	if _, err := svc.Finalize(ctx, "job-1"); !apperrors.IsType(err, apperrors.ErrorTypeConflict) {
		t.Errorf("Expected CONFLICT, got %v", err)
	}
	if err := svc.DeleteJob(ctx, "job-1"); !strings.Contains(err.Error(), "CONFLICT") {
		t.Errorf("Expected delete error to pass through, got %v", err)
	}
}

func TestMetrics(t *testing.T) {
	svc, _ := newTestService(&fakeOrchestrator{}, nil)
	m := svc.Metrics()
	if m["jobs_submitted"] != int64(3) {
		t.Errorf("Expected event counters, got %v", m["jobs_submitted"])
	}
	if pool, ok := m["pool"].(orchestrator.WorkerPoolStats); !ok || pool.Workers != 2 {
		t.Errorf("Expected pool stats, got %v", m["pool"])
	}
}
