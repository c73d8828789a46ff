package ocr

import (
	"strings"
	"unicode/utf8"

	"github.com/arbovm/levenshtein"
	"github.com/codycollier/wer"

	"go-repub/pkg/models"
)

// Accuracy compares recognized text against a known transcription. CER is the
// rune edit distance over the expected rune count, WER the word edit distance
// over the expected word count. Whitespace is normalized first.
func Accuracy(expected, actual string) models.OCRAccuracy {
	expWords, actWords := strings.Fields(expected), strings.Fields(actual)
	exp, act := strings.Join(expWords, " "), strings.Join(actWords, " ")

	var acc models.OCRAccuracy
	if n := utf8.RuneCountInString(exp); n > 0 {
		acc.CER = float64(levenshtein.Distance(exp, act)) / float64(n)
	} else if act != "" {
		acc.CER = 1
	}

	if len(expWords) > 0 {
		acc.WER, _ = wer.WER(expWords, actWords)
	} else if len(actWords) > 0 {
		acc.WER = 1
	}
	return acc
}
