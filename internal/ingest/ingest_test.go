package ingest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	apperrors "go-repub/internal/errors"
	"go-repub/internal/pdf"
	"go-repub/internal/storage"
)

func createTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestFromDirectory_NumericOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"scan-10.png", "scan-2.png", "scan-1.png", "notes.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), createTestPNG(t, 4, 4), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	os.WriteFile(filepath.Join(dir, "scan-2.txt"), []byte("expected words"), 0o644)

	book, err := FromDirectory(dir, nil)
	if err != nil {
		t.Fatalf("FromDirectory failed: %v", err)
	}
	pages := book.Pages
	var names []string
	for _, p := range pages {
		names = append(names, p.Name)
	}
	if !reflect.DeepEqual(names, []string{"scan-1.png", "scan-2.png", "scan-10.png"}) {
		t.Errorf("Expected numeric order, got %v", names)
	}
	if pages[1].ExpectedText != "expected words" {
		t.Errorf("Expected sidecar text on page 2, got %q", pages[1].ExpectedText)
	}
	if !pages[0].Cover || pages[1].Cover {
		t.Error("Expected page 1 to be the cover without scandata")
	}
	if len(book.Properties) != 0 {
		t.Errorf("Expected no properties, got %v", book.Properties)
	}
}

func TestFromDirectory_Empty(t *testing.T) {
	_, err := FromDirectory(t.TempDir(), nil)
	if !apperrors.IsType(err, apperrors.ErrorTypeInput) {
		t.Errorf("Expected INPUT_ERROR, got %v", err)
	}
}

func TestPageOrder(t *testing.T) {
	names := []string{"b.png", "p_003.tif", "a.png", "p_001.tif", "vol2_p_002.tif"}
	pageOrder(names)
	expected := []string{"p_001.tif", "vol2_p_002.tif", "p_003.tif", "a.png", "b.png"}
	if !reflect.DeepEqual(names, expected) {
		t.Errorf("Expected %v, got %v", expected, names)
	}
}

func TestPageInput_Ext(t *testing.T) {
	var jpg bytes.Buffer
	jpeg.Encode(&jpg, image.NewGray(image.Rect(0, 0, 2, 2)), nil)

	tests := []struct {
		name     string
		input    PageInput
		expected string
	}{
		{"from name", PageInput{Name: "a.TIFF"}, ".tiff"},
		{"sniffed png", PageInput{Name: "upload", Data: createTestPNG(t, 2, 2)}, ".png"},
		{"sniffed jpeg", PageInput{Name: "blob", Data: jpg.Bytes()}, ".jpg"},
		{"sniffed tiff", PageInput{Data: []byte("II*\x00rest")}, ".tif"},
		{"unknown", PageInput{Name: "x", Data: []byte("garbage")}, ".bin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.input.Ext(); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestFromURLs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(r.URL.Path))
	}))
	defer server.Close()

	cfg := storage.DefaultFetcherConfig()
	cfg.Delay = time.Millisecond
	fetcher := storage.NewHTTPPageFetcher(cfg)

	urls := []string{server.URL + "/one.png?sig=1", server.URL + "/two.png"}
	pages, err := FromURLs(context.Background(), fetcher, urls, 2)
	if err != nil {
		t.Fatalf("FromURLs failed: %v", err)
	}
	if pages[0].Name != "one.png" || string(pages[1].Data) != "/two.png" {
		t.Errorf("Expected pages in url order, got %+v", pages)
	}

	_, err = FromURLs(context.Background(), fetcher, append(urls, server.URL+"/missing.png"), 2)
	if !apperrors.IsType(err, apperrors.ErrorTypeNetwork) {
		t.Errorf("Expected NETWORK_ERROR, got %v", err)
	}
}

func TestFromPDF(t *testing.T) {
	var jpg bytes.Buffer
	jpeg.Encode(&jpg, image.NewGray(image.Rect(0, 0, 30, 40)), nil)
	var doc bytes.Buffer
	pages := []pdf.Page{
		{Number: 1, JPEG: jpg.Bytes(), Width: 30, Height: 40, DPI: 300},
		{Number: 2, JPEG: jpg.Bytes(), Width: 30, Height: 40, DPI: 300},
	}
	if err := pdf.Write(&doc, pdf.Metadata{Title: "src", Created: time.Unix(0, 0)}, pages); err != nil {
		t.Fatal(err)
	}

	got, err := FromPDF("book.pdf", doc.Bytes())
	if err != nil {
		t.Fatalf("FromPDF failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 pages, got %d", len(got))
	}
	if len(got[0].Data) == 0 {
		t.Error("Expected page image data")
	}

	if _, err := FromPDF("bad.pdf", []byte("nope")); !apperrors.IsType(err, apperrors.ErrorTypeInput) {
		t.Errorf("Expected INPUT_ERROR, got %v", err)
	}
}

const testScanData = `{
  "bookData": {"leafCount": 5},
  "pageData": {
    "0": {"pageType": "Color Card", "rotateDegree": 0},
    "1": {"pageType": "Cover", "rotateDegree": -90},
    "2": {"pageType": "Normal", "rotateDegree": 90},
    "3": {"pageType": "Normal", "rotateDegree": 180},
    "4": {"pageType": "Normal", "rotateDegree": 0}
  }
}`

const testMetadata = `<?xml version="1.0" encoding="UTF-8"?>
<metadata>
  <title>Kannada Kavya</title>
  <creator>Pampa</creator>
  <subject>Poetry</subject>
  <subject>Classics</subject>
  <language>kan</language>
  <scanner>
    <name>station-4</name>
  </scanner>
</metadata>`

// writeScanDir lays out an extracted scan archive: one wrapping directory
// holding numbered pages and the scanner's side files.
func writeScanDir(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "Book")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string][]byte{
		"scandata.json":  []byte(testScanData),
		"metadata.xml":   []byte(testMetadata),
		"identifier.txt": []byte("  in.ernet.dli.2015.12345\n"),
	}
	for i := 0; i < 5; i++ {
		files[fmt.Sprintf("%04d.jpg", i)] = createTestPNG(t, 4, 4)
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestFromDirectory_ScanData(t *testing.T) {
	book, err := FromDirectory(writeScanDir(t), nil)
	if err != nil {
		t.Fatalf("FromDirectory failed: %v", err)
	}

	tests := []struct {
		name   string
		rotate int
		cover  bool
	}{
		{"0001.jpg", 270, true},
		{"0002.jpg", 90, false},
		{"0003.jpg", 180, false},
		{"0004.jpg", 0, false},
	}
	if len(book.Pages) != len(tests) {
		t.Fatalf("Expected the color card to be skipped leaving %d pages, got %d", len(tests), len(book.Pages))
	}
	for i, tt := range tests {
		p := book.Pages[i]
		if p.Name != tt.name {
			t.Errorf("page %d: expected %s, got %s", i, tt.name, p.Name)
		}
		if p.Rotate != tt.rotate {
			t.Errorf("%s: expected rotation %d, got %d", tt.name, tt.rotate, p.Rotate)
		}
		if p.Cover != tt.cover {
			t.Errorf("%s: expected cover=%v, got %v", tt.name, tt.cover, p.Cover)
		}
	}

	expected := map[string]string{
		"Title":      "Kannada Kavya",
		"Creator":    "Pampa",
		"Subject":    "Poetry; Classics",
		"Language":   "kan",
		"Identifier": "in.ernet.dli.2015.12345",
	}
	if !reflect.DeepEqual(book.Properties, expected) {
		t.Errorf("Expected properties %v, got %v", expected, book.Properties)
	}
}

func TestFromDirectory_PageNumbers(t *testing.T) {
	book, err := FromDirectory(writeScanDir(t), []int{0, 2, 4, 9})
	if err != nil {
		t.Fatalf("FromDirectory failed: %v", err)
	}
	var names []string
	for _, p := range book.Pages {
		names = append(names, p.Name)
	}
	if !reflect.DeepEqual(names, []string{"0002.jpg", "0004.jpg"}) {
		t.Errorf("Expected only the selected pages without the color card, got %v", names)
	}

	_, err = FromDirectory(writeScanDir(t), []int{42})
	if !apperrors.IsType(err, apperrors.ErrorTypeInput) {
		t.Errorf("Expected INPUT_ERROR when nothing is selected, got %v", err)
	}
}

func TestFromDirectory_MalformedScanData(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "0001.jpg"), createTestPNG(t, 4, 4), 0o644)
	os.WriteFile(filepath.Join(dir, "scandata.json"), []byte("{"), 0o644)
	if _, err := FromDirectory(dir, nil); !apperrors.IsType(err, apperrors.ErrorTypeInput) {
		t.Errorf("Expected INPUT_ERROR, got %v", err)
	}
}

func TestTitleCase(t *testing.T) {
	tests := map[string]string{
		"creator":           "Creator",
		"identifier-access": "Identifier-Access",
		"TITLE":             "Title",
		"dc2date":           "Dc2Date",
	}
	for in, expected := range tests {
		if got := titleCase(in); got != expected {
			t.Errorf("titleCase(%q): expected %q, got %q", in, expected, got)
		}
	}
}
