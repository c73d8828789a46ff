package pdf

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func relaxedConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Verify checks that data is a valid PDF with exactly expectedPages pages
func Verify(data []byte, expectedPages int) error {
	if err := api.Validate(bytes.NewReader(data), relaxedConfig()); err != nil {
		return fmt.Errorf("invalid pdf: %w", err)
	}
	n, err := api.PageCount(bytes.NewReader(data), relaxedConfig())
	if err != nil {
		return fmt.Errorf("count pages: %w", err)
	}
	if n != expectedPages {
		return fmt.Errorf("pdf has %d pages, expected %d", n, expectedPages)
	}
	return nil
}

// PageCount returns the number of pages of a PDF
func PageCount(data []byte) (int, error) {
	return api.PageCount(bytes.NewReader(data), relaxedConfig())
}
