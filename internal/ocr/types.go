// Package ocr defines the text-recognition contract used by the page
// assembler, along with hOCR rendering and stitching and the accuracy audit.
package ocr

import (
	"context"
	"image"
	"strings"
)

// Token is one recognized word. Bounds are in the pixel space of the image
// handed to the recognizer.
type Token struct {
	Text       string          `json:"text"`
	Bounds     image.Rectangle `json:"bounds"`
	Confidence float64         `json:"confidence"` // 0..1
	Line       int             `json:"line"`
}

// TextLayer is the recognized text of one processed page
type TextLayer struct {
	PageNumber int     `json:"page_number"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Language   string  `json:"language"`
	Tokens     []Token `json:"tokens"`
	PlainText  string  `json:"plain_text"`
	HOCR       string  `json:"hocr,omitempty"`
}

// Lines groups tokens by line number, preserving order
func (l *TextLayer) Lines() [][]Token {
	var lines [][]Token
	current := -1
	for _, t := range l.Tokens {
		if len(lines) == 0 || t.Line != current {
			lines = append(lines, nil)
			current = t.Line
		}
		lines[len(lines)-1] = append(lines[len(lines)-1], t)
	}
	return lines
}

// MeanConfidence returns the average token confidence, 0 for an empty layer
func (l *TextLayer) MeanConfidence() float64 {
	if len(l.Tokens) == 0 {
		return 0
	}
	var sum float64
	for _, t := range l.Tokens {
		sum += t.Confidence
	}
	return sum / float64(len(l.Tokens))
}

// Recognizer extracts positioned text from a processed page image
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image, language string) (*TextLayer, error)
}

// PlainTextFromTokens joins tokens with spaces and lines with newlines
func PlainTextFromTokens(tokens []Token) string {
	layer := TextLayer{Tokens: tokens}
	var b strings.Builder
	for i, line := range layer.Lines() {
		if i > 0 {
			b.WriteByte('\n')
		}
		for j, t := range line {
			if j > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(t.Text)
		}
	}
	return b.String()
}
