package ocr

import (
	"math"
	"testing"
)

func TestAccuracy(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		actual   string
		cer      float64
		wer      float64
	}{
		{"identical", "the quick fox", "the quick fox", 0, 0},
		{"whitespace ignored", "the  quick\nfox", "the quick fox", 0, 0},
		{"one substituted char", "the quick fox", "the quick fax", 1.0 / 13, 1.0 / 3},
		{"missing word", "the quick fox", "the fox", 6.0 / 13, 1.0 / 3},
		{"nothing recognized", "abc", "", 1, 1},
		{"nothing expected", "", "", 0, 0},
		{"noise only", "", "xyz", 1, 1},
		{"extra word", "the quick fox", "the very quick fox", 5.0 / 13, 1.0 / 3},
		{"repeated words", "la la land", "la land land", 2.0 / 10, 1.0 / 3},
		{"non-latin", "ಕನ್ನಡ ಪುಸ್ತಕ", "ಕನ್ನಡ ಪುಸ್ತಕ", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := Accuracy(tt.expected, tt.actual)
			if math.Abs(acc.CER-tt.cer) > 1e-9 {
				t.Errorf("Expected CER %f, got %f", tt.cer, acc.CER)
			}
			if math.Abs(acc.WER-tt.wer) > 1e-9 {
				t.Errorf("Expected WER %f, got %f", tt.wer, acc.WER)
			}
		})
	}
}

func TestPlainTextFromTokens(t *testing.T) {
	tokens := []Token{
		{Text: "Chapter", Line: 0},
		{Text: "One", Line: 0},
		{Text: "It", Line: 1},
		{Text: "began", Line: 1},
	}
	if got := PlainTextFromTokens(tokens); got != "Chapter One\nIt began" {
		t.Errorf("Expected two lines, got %q", got)
	}
}

func TestMeanConfidence(t *testing.T) {
	layer := &TextLayer{Tokens: []Token{{Confidence: 0.9}, {Confidence: 0.5}}}
	if got := layer.MeanConfidence(); math.Abs(got-0.7) > 1e-9 {
		t.Errorf("Expected 0.7, got %f", got)
	}
	if got := (&TextLayer{}).MeanConfidence(); got != 0 {
		t.Errorf("Expected 0 for an empty layer, got %f", got)
	}
}
