package pdf

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageImage is the scan embedded in one source PDF page. Data is nil when the
// page carries no image.
type PageImage struct {
	Number   int
	Data     []byte
	FileType string
}

// ExtractPageImages returns the largest embedded image of every page, in
// page order. Scanned books carry one image per page.
func ExtractPageImages(data []byte) ([]PageImage, error) {
	conf := relaxedConfig()
	n, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("count pages: %w", err)
	}

	pages := make([]PageImage, n)
	for i := range pages {
		pages[i].Number = i + 1
		var bestArea int
		digest := func(img model.Image, singleImgPerPage bool, maxPageDigits int) error {
			area := img.Width * img.Height
			if pages[i].Data != nil && area <= bestArea {
				return nil
			}
			b, err := io.ReadAll(img)
			if err != nil {
				return err
			}
			bestArea = area
			pages[i].Data = b
			pages[i].FileType = img.FileType
			return nil
		}
		sel := []string{strconv.Itoa(i + 1)}
		if err := api.ExtractImages(bytes.NewReader(data), sel, digest, conf); err != nil {
			return nil, fmt.Errorf("page %d: extract images: %w", i+1, err)
		}
	}
	return pages, nil
}
