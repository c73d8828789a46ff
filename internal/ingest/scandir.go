package ingest

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	apperrors "go-repub/internal/errors"
)

const (
	scanDataFile   = "scandata.json"
	metadataFile   = "metadata.xml"
	identifierFile = "identifier.txt"

	pageTypeCover     = "Cover"
	pageTypeColorCard = "Color Card"
)

// scanRoot descends while dir holds exactly one entry and it is a directory,
// the layout of an extracted scan archive.
func scanRoot(dir string) (string, error) {
	for {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", err
		}
		if len(entries) != 1 || !entries[0].IsDir() {
			return dir, nil
		}
		dir = filepath.Join(dir, entries[0].Name())
	}
}

type scanPage struct {
	RotateDegree int    `json:"rotateDegree"`
	PageType     string `json:"pageType"`
}

func (p scanPage) colorCard() bool { return p.PageType == pageTypeColorCard }
func (p scanPage) cover() bool     { return p.PageType == pageTypeCover }

// rotation turns the scanner's signed degrees into a clockwise quarter turn.
func (p scanPage) rotation() int {
	r := ((p.RotateDegree % 360) + 360) % 360
	switch r {
	case 90, 180, 270:
		return r
	}
	return 0
}

type scanData struct {
	PageData map[string]scanPage `json:"pageData"`
}

// page returns the entry for page number n; a missing entry is a plain page.
func (s *scanData) page(n int) scanPage {
	if s == nil {
		return scanPage{}
	}
	return s.PageData[strconv.Itoa(n)]
}

// readScanData loads scandata.json. No file is not an error.
func readScanData(dir string) (*scanData, error) {
	data, err := os.ReadFile(filepath.Join(dir, scanDataFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewInputError("cannot read "+scanDataFile, err)
	}
	var s scanData
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, apperrors.NewInputError("malformed "+scanDataFile, err)
	}
	return &s, nil
}

// ReadProperties collects the document properties of a scan directory: the
// top-level fields of metadata.xml plus the contents of identifier.txt as
// Identifier. Keys are title-cased ("creator" becomes "Creator"); a field
// listed more than once keeps every value, joined by "; ".
func ReadProperties(dir string) (map[string]string, error) {
	props := make(map[string]string)
	f, err := os.Open(filepath.Join(dir, metadataFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, apperrors.NewInputError("cannot read "+metadataFile, err)
	default:
		defer f.Close()
		if err := readMetadataXML(f, props); err != nil {
			return nil, apperrors.NewInputError("malformed "+metadataFile, err)
		}
	}

	id, err := os.ReadFile(filepath.Join(dir, identifierFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NewInputError("cannot read "+identifierFile, err)
	}
	if s := strings.TrimSpace(string(id)); s != "" {
		props["Identifier"] = s
	}
	return props, nil
}

func readMetadataXML(r io.Reader, props map[string]string) error {
	dec := xml.NewDecoder(r)
	depth := 0
	var key string
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 2 {
				key = titleCase(t.Name.Local)
				text.Reset()
			}
		case xml.CharData:
			if depth == 2 {
				text.Write(t)
			}
		case xml.EndElement:
			if depth == 2 {
				if v := strings.TrimSpace(text.String()); v != "" {
					if prev, ok := props[key]; ok {
						v = prev + "; " + v
					}
					props[key] = v
				}
			}
			depth--
		}
	}
}

// titleCase upper-cases the first letter of every run of letters and
// lower-cases the rest.
func titleCase(s string) string {
	var b strings.Builder
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				r = unicode.ToLower(r)
			} else {
				r = unicode.ToUpper(r)
			}
			prevLetter = true
		} else {
			prevLetter = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
