package container

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"go-repub/internal/config"
	"go-repub/internal/ingest"
	"go-repub/internal/ocr"
	"go-repub/internal/storage"
	"go-repub/pkg/models"

	"github.com/gin-gonic/gin"
)

type stubRecognizer struct {
	calls atomic.Int32
}

func (r *stubRecognizer) Recognize(ctx context.Context, img image.Image, language string) (*ocr.TextLayer, error) {
	r.calls.Add(1)
	tokens := []ocr.Token{{Text: "scan", Bounds: image.Rect(2, 2, 20, 10), Confidence: 0.8}}
	return &ocr.TextLayer{Language: language, Tokens: tokens, PlainText: ocr.PlainTextFromTokens(tokens)}, nil
}

func createTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 230
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.LocalDir = t.TempDir()
	cfg.OCR.Enabled = false
	return cfg
}

func TestNewContainer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name   string
		mutate func(*config.Config, string)
	}{
		{"memory repository", func(*config.Config, string) {}},
		{"sqlite repository", func(c *config.Config, dir string) {
			c.Repository.Backend = "sqlite"
			c.Repository.SQLitePath = filepath.Join(dir, "jobs.db")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg, t.TempDir())

			c, err := NewContainer(context.Background(), cfg)
			if err != nil {
				t.Fatalf("NewContainer failed: %v", err)
			}
			defer c.Close()

			if c.Config() != cfg {
				t.Error("Expected the container to keep its config")
			}
			w := httptest.NewRecorder()
			c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			if w.Code != http.StatusOK {
				t.Errorf("Expected 200 from /health, got %d", w.Code)
			}

			jobs, err := c.JobService().ListJobs(context.Background(), "", 0)
			if err != nil || len(jobs) != 0 {
				t.Errorf("Expected an empty job list, got %d (%v)", len(jobs), err)
			}
		})
	}
}

func TestNewContainer_BadSQLitePath(t *testing.T) {
	cfg := testConfig(t)
	cfg.Repository.Backend = "sqlite"
	cfg.Repository.SQLitePath = filepath.Join(t.TempDir(), "missing", "dir", "jobs.db")
	if _, err := NewContainer(context.Background(), cfg); err == nil {
		t.Error("Expected an error for an unreachable sqlite path")
	}
}

func TestClose_Idempotent(t *testing.T) {
	c, err := NewContainer(context.Background(), testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

func TestNewContainer_Options(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	recognizer := &stubRecognizer{}
	cfg := testConfig(t)
	cfg.Storage.LocalDir = ""

	c, err := NewContainer(context.Background(), cfg, WithStore(store), WithRecognizer(recognizer))
	if err != nil {
		t.Fatalf("NewContainer failed: %v", err)
	}
	defer c.Close()

	opts := models.DefaultJobOptions()
	opts.Crop = false
	opts.Deskew = false
	pages := []ingest.PageInput{
		{Name: "1.png", Data: createTestPNG(t, 40, 60)},
		{Name: "2.png", Data: createTestPNG(t, 40, 60)},
	}

	ctx := context.Background()
	svc := c.JobService()
	status, err := svc.SubmitPages(ctx, "stub", &opts, pages)
	if err != nil {
		t.Fatalf("SubmitPages failed: %v", err)
	}
	if status, err = svc.Await(ctx, status.ID); err != nil {
		t.Fatal(err)
	}
	if status.Status != models.StatusCompleted {
		t.Fatalf("Expected completed, got %s (%s)", status.Status, status.ErrorSummary)
	}
	if got := recognizer.calls.Load(); got != 2 {
		t.Errorf("Expected the injected recognizer to run on 2 pages, got %d", got)
	}

	text, _, err := svc.Output(ctx, status.ID, "text")
	if err != nil {
		t.Fatal(err)
	}
	if string(text) != "scan\fscan" {
		t.Errorf("Expected text %q, got %q", "scan\fscan", text)
	}

	keys, err := store.List(ctx, models.JobPrefix(status.ID))
	if err != nil || len(keys) == 0 {
		t.Errorf("Expected artifacts in the injected store, got %d (%v)", len(keys), err)
	}
}
