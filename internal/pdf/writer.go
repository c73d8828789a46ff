// Package pdf writes the assembled book and reads source PDFs.
package pdf

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/go-pdf/fpdf"
	"golang.org/x/image/font/gofont/goregular"

	"go-repub/internal/ocr"
)

// Page is one processed page ready for merging
type Page struct {
	Number int
	JPEG   []byte
	Width  int     // pixels
	Height int     // pixels
	DPI    float64 // effective resolution of the processed image
	Text   *ocr.TextLayer
}

// Metadata is written into the document info dictionary. Created is used
// for both the creation and modification dates so identical inputs give
// identical bytes. Properties are the free-form scan properties; every one
// of them is carried in the XMP packet.
type Metadata struct {
	Title      string
	Author     string
	Subject    string
	Keywords   string
	Language   string
	Created    time.Time
	Properties map[string]string
}

// NewMetadata fills the standard fields from scan properties keyed the way
// ReadProperties returns them. An explicit title wins over the scanned one.
func NewMetadata(title string, created time.Time, props map[string]string) Metadata {
	meta := Metadata{Title: title, Created: created, Properties: props}
	if meta.Title == "" {
		meta.Title = props["Title"]
	}
	meta.Author = props["Creator"]
	meta.Subject = props["Subject"]
	meta.Language = props["Language"]
	meta.Keywords = props["Identifier"]
	return meta
}

const (
	producer   = "go-repub"
	textFamily = "goregular"
)

// Write merges pages in ascending page-number order into a single PDF.
// Pages with a text layer get an invisible, selectable text overlay in a
// UTF-8 font so text in any script survives extraction.
func Write(w io.Writer, meta Metadata, pages []Page) error {
	if len(pages) == 0 {
		return fmt.Errorf("no pages to write")
	}
	ordered := make([]Page, len(pages))
	copy(ordered, pages)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Number < ordered[j].Number })

	doc := fpdf.New("P", "pt", "A4", "")
	doc.SetCatalogSort(true)
	doc.SetCreationDate(meta.Created)
	doc.SetModificationDate(meta.Created)
	doc.SetTitle(meta.Title, true)
	if meta.Author != "" {
		doc.SetAuthor(meta.Author, true)
	}
	if meta.Subject != "" {
		doc.SetSubject(meta.Subject, true)
	}
	if meta.Keywords != "" {
		doc.SetKeywords(meta.Keywords, true)
	}
	if xmp := xmpPacket(meta); xmp != nil {
		doc.SetXmpMetadata(xmp)
	}
	doc.SetCreator(producer, true)
	doc.SetProducer(producer, true)
	doc.SetMargins(0, 0, 0)
	doc.SetAutoPageBreak(false, 0)
	doc.AddUTF8FontFromBytes(textFamily, "", goregular.TTF)
	doc.SetFont(textFamily, "", 10)

	for _, p := range ordered {
		if p.DPI <= 0 || p.Width <= 0 || p.Height <= 0 {
			return fmt.Errorf("page %d: invalid geometry %dx%d at %.1f dpi", p.Number, p.Width, p.Height, p.DPI)
		}
		scale := 72 / p.DPI
		pw, ph := float64(p.Width)*scale, float64(p.Height)*scale

		doc.AddPageFormat("P", fpdf.SizeType{Wd: pw, Ht: ph})
		name := fmt.Sprintf("page_%04d", p.Number)
		opts := fpdf.ImageOptions{ImageType: "JPG"}
		doc.RegisterImageOptionsReader(name, opts, bytes.NewReader(p.JPEG))
		doc.ImageOptions(name, 0, 0, pw, ph, false, opts, 0, "")

		if p.Text != nil {
			writeText(doc, p.Text, scale)
		}
		if err := doc.Error(); err != nil {
			return fmt.Errorf("page %d: %w", p.Number, err)
		}
	}
	return doc.Output(w)
}

// writeText places every token at its box, stretched horizontally to the box
// width, with text rendering mode 3 (invisible).
func writeText(doc *fpdf.Fpdf, layer *ocr.TextLayer, scale float64) {
	doc.TransformBegin()
	doc.SetTextRenderingMode(3)
	for _, t := range layer.Tokens {
		text := basicPlane(strings.TrimSpace(t.Text))
		if text == "" || t.Bounds.Empty() {
			continue
		}
		x := float64(t.Bounds.Min.X) * scale
		baseline := float64(t.Bounds.Max.Y) * scale
		height := float64(t.Bounds.Dy()) * scale
		width := float64(t.Bounds.Dx()) * scale

		doc.SetFontSize(height)
		natural := doc.GetStringWidth(text)
		if natural <= 0 {
			continue
		}
		doc.TransformBegin()
		doc.TransformScale(100*width/natural, 100, x, baseline)
		doc.Text(x, baseline, text)
		doc.TransformEnd()
	}
	doc.TransformEnd()
}

// basicPlane replaces runes outside the Basic Multilingual Plane, which the
// two-byte Identity-H encoding cannot carry.
func basicPlane(s string) string {
	return strings.Map(func(r rune) rune {
		if r > 0xFFFF {
			return unicode.ReplacementChar
		}
		return r
	}, s)
}
