package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "go-repub/internal/errors"
	"go-repub/internal/ingest"
	"go-repub/pkg/models"

	"github.com/gin-gonic/gin"
)

type fakeService struct {
	urlReq    models.SubmitJobRequest
	pages     []ingest.PageInput
	pdfName   string
	opts      *models.JobOptions
	crop      models.ManualCropRequest
	listState string
	listLimit int
	err       error
}

func (f *fakeService) status(id string) *models.JobStatusResponse {
	return &models.JobStatusResponse{ID: id, Status: models.StatusPending}
}

func (f *fakeService) SubmitFromURLs(ctx context.Context, req models.SubmitJobRequest) (*models.JobStatusResponse, error) {
	f.urlReq = req
	return f.status("job-1"), f.err
}

func (f *fakeService) SubmitPages(ctx context.Context, title string, opts *models.JobOptions, pages []ingest.PageInput) (*models.JobStatusResponse, error) {
	f.pages, f.opts = pages, opts
	return f.status("job-1"), f.err
}

func (f *fakeService) SubmitBook(ctx context.Context, title string, opts *models.JobOptions, book *ingest.Book) (*models.JobStatusResponse, error) {
	f.pages, f.opts = book.Pages, opts
	return f.status("job-1"), f.err
}

func (f *fakeService) SubmitPDF(ctx context.Context, title string, opts *models.JobOptions, name string, data []byte) (*models.JobStatusResponse, error) {
	f.pdfName, f.opts = name, opts
	return f.status("job-1"), f.err
}

func (f *fakeService) GetStatus(ctx context.Context, id string) (*models.JobStatusResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.status(id), nil
}

func (f *fakeService) ListJobs(ctx context.Context, status string, limit int) ([]*models.JobStatusResponse, error) {
	f.listState, f.listLimit = status, limit
	return nil, f.err
}

func (f *fakeService) Finalize(ctx context.Context, id string) (*models.JobStatusResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.JobStatusResponse{ID: id, Status: models.StatusFinalizing}, nil
}

func (f *fakeService) Retry(ctx context.Context, id string) (*models.JobStatusResponse, error) {
	return f.status(id), f.err
}

func (f *fakeService) DeleteJob(ctx context.Context, id string) error { return f.err }

func (f *fakeService) Await(ctx context.Context, id string) (*models.JobStatusResponse, error) {
	return f.status(id), f.err
}

func (f *fakeService) Output(ctx context.Context, id, artifact string) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return []byte("%PDF-1.4"), "application/pdf", nil
}

func (f *fakeService) GetPage(ctx context.Context, id string, n int) (*models.PageStateResponse, error) {
	return &models.PageStateResponse{JobID: id, Number: n}, f.err
}

func (f *fakeService) ApplyManualCrop(ctx context.Context, id string, n int, req models.ManualCropRequest) (*models.PageStateResponse, error) {
	f.crop = req
	return &models.PageStateResponse{JobID: id, Number: n, Override: true}, f.err
}

func (f *fakeService) ApprovePage(ctx context.Context, id string, n int) (*models.PageStateResponse, error) {
	return &models.PageStateResponse{JobID: id, Number: n, Reviewed: true}, f.err
}

func (f *fakeService) Metrics() map[string]interface{} {
	return map[string]interface{}{"jobs_submitted": 1}
}

func (f *fakeService) DefaultOptions() models.JobOptions {
	return models.DefaultJobOptions()
}

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, svc *fakeService, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	h := NewHandler(svc, Config{MaxRequestBodySize: 1 << 20})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Expected JSON error body, got %q", w.Body.String())
	}
	return resp
}

func TestHealthAndMetrics(t *testing.T) {
	svc := &fakeService{}
	w := serve(t, svc, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "available") {
		t.Errorf("Expected healthy response, got %d %s", w.Code, w.Body.String())
	}
	w = serve(t, svc, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "jobs_submitted") {
		t.Errorf("Expected metrics, got %d %s", w.Code, w.Body.String())
	}
}

func TestSubmitJob(t *testing.T) {
	svc := &fakeService{}
	body := `{"title":"Book","page_urls":["https://example.com/1.png"],"options":{"dewarp":true}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	w := serve(t, svc, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if svc.urlReq.Title != "Book" || len(svc.urlReq.PageURLs) != 1 {
		t.Errorf("Unexpected request %+v", svc.urlReq)
	}
	opts := svc.urlReq.Options
	if opts == nil || !opts.Dewarp || !opts.Crop || opts.MaxContours != 5 {
		t.Errorf("Expected partial options merged over defaults, got %+v", opts)
	}
}

func TestSubmitJob_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		err     error
		code    int
		errType string
	}{
		{"malformed json", `{"page_urls":`, nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing urls", `{"title":"x"}`, nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"not a url", `{"page_urls":["nope"]}`, nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{
			"bad options",
			`{"page_urls":["https://example.com/1.png"]}`,
			apperrors.NewConfigurationError("invalid job options", nil).WithDetails("dewarp requires deskew"),
			http.StatusBadRequest,
			"CONFIGURATION_ERROR",
		},
		{
			"fetch failed",
			`{"page_urls":["https://example.com/1.png"]}`,
			apperrors.NewNetworkError("fetch page 1", nil),
			http.StatusBadGateway,
			"NETWORK_ERROR",
		},
		{
			"queue full",
			`{"page_urls":["https://example.com/1.png"]}`,
			apperrors.NewConflictError("job queue is full", nil),
			http.StatusConflict,
			"CONFLICT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{err: tt.err}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := serve(t, svc, req)
			if w.Code != tt.code {
				t.Errorf("Expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
			if resp := decodeError(t, w); resp.Error != tt.errType {
				t.Errorf("Expected error type %s, got %+v", tt.errType, resp)
			}
		})
	}
}

func TestUploadJob_Pages(t *testing.T) {
	svc := &fakeService{}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("title", "Upload")
	mw.WriteField("options", `{"ocr":false}`)
	mw.WriteField("expected_text[]", "hello")
	for _, name := range []string{"001.png", "002.png"} {
		fw, _ := mw.CreateFormFile("pages[]", name)
		fw.Write([]byte("image " + name))
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := serve(t, svc, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(svc.pages) != 2 || svc.pages[0].Name != "001.png" || string(svc.pages[1].Data) != "image 002.png" {
		t.Errorf("Expected pages in upload order, got %+v", svc.pages)
	}
	if svc.pages[0].ExpectedText != "hello" {
		t.Errorf("Expected text on page 1, got %q", svc.pages[0].ExpectedText)
	}
	if svc.opts == nil || svc.opts.OCR || !svc.opts.Deskew {
		t.Errorf("Expected OCR off over defaults, got %+v", svc.opts)
	}
}

func TestUploadJob_PDF(t *testing.T) {
	svc := &fakeService{}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("pdf", "scan.pdf")
	fw.Write([]byte("%PDF-1.4"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := serve(t, svc, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if svc.pdfName != "scan.pdf" || svc.opts != nil {
		t.Errorf("Expected scan.pdf with default options, got %q %+v", svc.pdfName, svc.opts)
	}
}

func TestUploadJob_Rejections(t *testing.T) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("title", "empty")
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if w := serve(t, &fakeService{}, req); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without pages, got %d", w.Code)
	}

	body.Reset()
	mw = multipart.NewWriter(&body)
	mw.WriteField("options", `{"ocr":`)
	fw, _ := mw.CreateFormFile("pages", "1.png")
	fw.Write([]byte("x"))
	mw.Close()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/jobs/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if w := serve(t, &fakeService{}, req); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for broken options, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/jobs/upload", strings.NewReader("plain"))
	req.Header.Set("Content-Type", "text/plain")
	if w := serve(t, &fakeService{}, req); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for non-multipart body, got %d", w.Code)
	}
}

func TestRequestSizeLimit(t *testing.T) {
	svc := &fakeService{}
	h := NewHandler(svc, Config{MaxRequestBodySize: 64})
	body := `{"page_urls":["https://example.com/` + strings.Repeat("a", 200) + `.png"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code < 400 || w.Code >= 500 {
		t.Errorf("Expected a client error for an oversized body, got %d", w.Code)
	}
}

func TestListJobs(t *testing.T) {
	svc := &fakeService{}
	w := serve(t, svc, httptest.NewRequest(http.MethodGet, "/api/v1/jobs?status=failed&limit=5", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if svc.listState != "failed" || svc.listLimit != 5 {
		t.Errorf("Expected filter passed through, got %q %d", svc.listState, svc.listLimit)
	}
	if !strings.Contains(w.Body.String(), `"jobs":[]`) {
		t.Errorf("Expected empty list, got %s", w.Body.String())
	}

	w = serve(t, svc, httptest.NewRequest(http.MethodGet, "/api/v1/jobs?limit=many", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad limit, got %d", w.Code)
	}
}

func TestJobLifecycleRoutes(t *testing.T) {
	tests := []struct {
		method string
		path   string
		code   int
	}{
		{http.MethodGet, "/api/v1/jobs/job-1", http.StatusOK},
		{http.MethodPost, "/api/v1/jobs/job-1/finalize", http.StatusAccepted},
		{http.MethodPost, "/api/v1/jobs/job-1/retry", http.StatusAccepted},
		{http.MethodDelete, "/api/v1/jobs/job-1", http.StatusNoContent},
		{http.MethodGet, "/api/v1/jobs/job-1/pages/2", http.StatusOK},
		{http.MethodPost, "/api/v1/jobs/job-1/pages/2/approve", http.StatusOK},
		{http.MethodGet, "/api/v1/jobs/job-1/pages/0", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/jobs/job-1/pages/two", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := serve(t, &fakeService{}, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != tt.code {
				t.Errorf("Expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
		})
	}
}

func TestServiceErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{apperrors.NewNotFoundError("job not found", nil), http.StatusNotFound},
		{apperrors.NewConflictError("cannot finalize a job in status completed", nil), http.StatusConflict},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		svc := &fakeService{err: tt.err}
		w := serve(t, svc, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-1/finalize", nil))
		if w.Code != tt.code {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.code, w.Code)
		}
	}
}

func TestApplyCrop(t *testing.T) {
	svc := &fakeService{}
	body := `{"left":10,"top":20,"right":300,"bottom":400}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/jobs/job-1/pages/3/crop", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := serve(t, svc, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if svc.crop.Right != 300 || svc.crop.Top != 20 {
		t.Errorf("Unexpected crop %+v", svc.crop)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/v1/jobs/job-1/pages/3/crop", strings.NewReader(`{"left":1}`))
	req.Header.Set("Content-Type", "application/json")
	if w := serve(t, svc, req); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for incomplete box, got %d", w.Code)
	}
}

func TestGetOutput(t *testing.T) {
	svc := &fakeService{}
	w := serve(t, svc, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1/output", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if w.Header().Get("Content-Type") != "application/pdf" {
		t.Errorf("Expected application/pdf, got %s", w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "job-1.pdf") {
		t.Errorf("Expected attachment name, got %s", w.Header().Get("Content-Disposition"))
	}

	svc.err = apperrors.NewConflictError("output is only available once the job is completed", nil)
	w = serve(t, svc, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1/output", nil))
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", w.Code)
	}
}
