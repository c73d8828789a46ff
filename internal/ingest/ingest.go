// Package ingest turns the supported page sources into an ordered list of
// raw page images. Pages are not decoded here; a page that fails to decode
// is excluded later, when the job is processed.
package ingest

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	apperrors "go-repub/internal/errors"
	"go-repub/internal/pdf"
	"go-repub/internal/storage"
)

// PageInput is one raw page in book order
type PageInput struct {
	Name         string
	Data         []byte
	ExpectedText string
	// Rotate is a clockwise quarter turn applied before any analysis:
	// 0, 90, 180 or 270 degrees.
	Rotate int
	// Cover marks the page the thumbnail is made from.
	Cover bool
}

// Book is a set of pages with the document properties found beside them
type Book struct {
	Pages      []PageInput
	Properties map[string]string
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".tif": true, ".tiff": true, ".webp": true, ".bmp": true,
}

var extByType = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

// Ext returns the file extension the page is stored under
func (p PageInput) Ext() string {
	if ext := strings.ToLower(filepath.Ext(p.Name)); imageExtensions[ext] {
		return ext
	}
	if len(p.Data) >= 4 && (string(p.Data[:4]) == "II*\x00" || string(p.Data[:4]) == "MM\x00*") {
		return ".tif"
	}
	if ext, ok := extByType[http.DetectContentType(p.Data)]; ok {
		return ext
	}
	return ".bin"
}

var digits = regexp.MustCompile(`\d+`)

// nameNumber is the last run of digits in a file's base name
func nameNumber(name string) (int, bool) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	all := digits.FindAllString(base, -1)
	if len(all) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(all[len(all)-1])
	return n, err == nil
}

// pageOrder sorts names by their last run of digits, then by name
func pageOrder(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		ni, oki := nameNumber(names[i])
		nj, okj := nameNumber(names[j])
		switch {
		case oki && okj && ni != nj:
			return ni < nj
		case oki != okj:
			return oki
		}
		return names[i] < names[j]
	})
}

// FromDirectory reads a scan directory. Every image file is a page, ordered
// by the number in its name; a sibling .txt file with the same base name is
// the page's expected text. A directory holding a single subdirectory is
// descended into. scandata.json supplies per-page rotation, cover and
// color card markers; metadata.xml and identifier.txt supply the document
// properties. A non-empty pagenums keeps only the pages with those numbers.
func FromDirectory(dir string, pagenums []int) (*Book, error) {
	dir, err := scanRoot(dir)
	if err != nil {
		return nil, apperrors.NewInputError("cannot read input directory", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.NewInputError("cannot read input directory", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return nil, apperrors.NewInputError(fmt.Sprintf("no page images in %s", dir), nil)
	}
	pageOrder(names)

	scan, err := readScanData(dir)
	if err != nil {
		return nil, err
	}
	props, err := ReadProperties(dir)
	if err != nil {
		return nil, err
	}
	selected := make(map[int]bool, len(pagenums))
	for _, n := range pagenums {
		selected[n] = true
	}

	book := &Book{Properties: props}
	for i, name := range names {
		num, ok := nameNumber(name)
		if !ok {
			num = i + 1
		}
		info := scan.page(num)
		if info.colorCard() {
			continue
		}
		if len(selected) > 0 && !selected[num] {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, apperrors.NewInputError("cannot read page "+name, err)
		}
		p := PageInput{Name: name, Data: data, Rotate: info.rotation()}
		if scan == nil {
			p.Cover = num == 1
		} else {
			p.Cover = info.cover()
		}
		sidecar := filepath.Join(dir, strings.TrimSuffix(name, filepath.Ext(name))+".txt")
		if txt, err := os.ReadFile(sidecar); err == nil {
			p.ExpectedText = string(txt)
		}
		book.Pages = append(book.Pages, p)
	}
	if len(book.Pages) == 0 {
		return nil, apperrors.NewInputError(fmt.Sprintf("no pages of %s selected", dir), nil)
	}
	return book, nil
}

// FromPDF splits a scanned PDF into its page images. Pages without an
// embedded image are kept with no data so they are excluded at processing.
func FromPDF(name string, data []byte) ([]PageInput, error) {
	images, err := pdf.ExtractPageImages(data)
	if err != nil {
		return nil, apperrors.NewInputError("unsupported source document", err)
	}
	if len(images) == 0 {
		return nil, apperrors.NewInputError("source document has no pages", nil)
	}
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	pages := make([]PageInput, len(images))
	for i, img := range images {
		ext := ""
		if img.FileType != "" {
			ext = "." + strings.TrimPrefix(img.FileType, ".")
		}
		pages[i] = PageInput{
			Name: fmt.Sprintf("%s-%04d%s", base, img.Number, ext),
			Data: img.Data,
		}
	}
	return pages, nil
}

// FromURLs fetches every page concurrently, keeping the order of urls.
// Any failed fetch fails the whole source.
func FromURLs(ctx context.Context, fetcher storage.PageFetcher, urls []string, concurrency int) ([]PageInput, error) {
	if concurrency <= 0 {
		concurrency = 4
	}
	pages := make([]PageInput, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, u := range urls {
		g.Go(func() error {
			data, err := fetcher.FetchBytes(gctx, u)
			if err != nil {
				return apperrors.NewNetworkError(fmt.Sprintf("fetch page %d", i+1), err).WithDetails(u)
			}
			pages[i] = PageInput{Name: nameFromURL(u), Data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}

func nameFromURL(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return filepath.Base(u)
}
