package ocr

import (
	"bytes"
	"fmt"
	"image"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const hocrHead = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Transitional//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-transitional.dtd">
<html xmlns="http://www.w3.org/1999/xhtml" xml:lang="en" lang="en">
 <head>
  <title>%s</title>
  <meta http-equiv="Content-Type" content="text/html;charset=utf-8"/>
  <meta name="ocr-system" content="go-repub"/>
  <meta name="ocr-capabilities" content="ocr_page ocr_line ocrx_word"/>
 </head>
 <body>
`

const hocrTail = ` </body>
</html>
`

func bbox(x0, y0, x1, y1 int) string {
	return fmt.Sprintf("bbox %d %d %d %d", x0, y0, x1, y1)
}

func element(tag atom.Atom, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: tag, Data: tag.String()}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

// RenderPageHOCR builds an ocr_page fragment from the layer's tokens. It is
// used for recognizers that do not produce hOCR themselves.
func RenderPageHOCR(l *TextLayer) (string, error) {
	page := element(atom.Div,
		"class", "ocr_page",
		"id", fmt.Sprintf("page_%d", l.PageNumber),
		"title", bbox(0, 0, l.Width, l.Height))

	for i, line := range l.Lines() {
		lb := line[0].Bounds
		for _, t := range line[1:] {
			lb = lb.Union(t.Bounds)
		}
		span := element(atom.Span,
			"class", "ocr_line",
			"id", fmt.Sprintf("line_%d_%d", l.PageNumber, i+1),
			"title", bbox(lb.Min.X, lb.Min.Y, lb.Max.X, lb.Max.Y))
		for j, t := range line {
			word := element(atom.Span,
				"class", "ocrx_word",
				"id", fmt.Sprintf("word_%d_%d_%d", l.PageNumber, i+1, j+1),
				"title", fmt.Sprintf("%s; x_wconf %d",
					bbox(t.Bounds.Min.X, t.Bounds.Min.Y, t.Bounds.Max.X, t.Bounds.Max.Y),
					int(t.Confidence*100+0.5)))
			word.AppendChild(&html.Node{Type: html.TextNode, Data: t.Text})
			if j > 0 {
				span.AppendChild(&html.Node{Type: html.TextNode, Data: " "})
			}
			span.AppendChild(word)
		}
		page.AppendChild(span)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, page); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// PageHOCR is one page's hOCR fragment and its final page number
type PageHOCR struct {
	Number int
	HOCR   string
}

var idNumber = regexp.MustCompile(`^([a-z]+)_\d+`)

// Stitch merges per-page hOCR fragments into one document. Each ocr_page gets
// the id page_N and descendant ids are renumbered so they stay unique.
func Stitch(title string, pages []PageHOCR) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, hocrHead, html.EscapeString(title))

	body := &html.Node{Type: html.ElementNode, DataAtom: atom.Body, Data: "body"}
	for _, p := range pages {
		nodes, err := html.ParseFragment(strings.NewReader(p.HOCR), body)
		if err != nil {
			return nil, fmt.Errorf("page %d: parse hOCR: %w", p.Number, err)
		}
		found := false
		for _, n := range nodes {
			page := findPage(n)
			if page == nil {
				continue
			}
			found = true
			renumber(page, p.Number)
			if err := html.Render(&buf, page); err != nil {
				return nil, err
			}
			buf.WriteByte('\n')
			break
		}
		if !found {
			return nil, fmt.Errorf("page %d: no ocr_page element", p.Number)
		}
	}
	buf.WriteString(hocrTail)
	return buf.Bytes(), nil
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" {
			for _, c := range strings.Fields(a.Val) {
				if c == class {
					return true
				}
			}
		}
	}
	return false
}

func findPage(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && hasClass(n, "ocr_page") {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if p := findPage(c); p != nil {
			return p
		}
	}
	return nil
}

func renumber(page *html.Node, number int) {
	num := strconv.Itoa(number)
	var walk func(n *html.Node, top bool)
	walk = func(n *html.Node, top bool) {
		if n.Type == html.ElementNode {
			for i, a := range n.Attr {
				if a.Key != "id" {
					continue
				}
				if top {
					n.Attr[i].Val = "page_" + num
				} else {
					n.Attr[i].Val = idNumber.ReplaceAllString(a.Val, "${1}_"+num)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, false)
		}
	}
	walk(page, true)
}

var lineClasses = []string{"ocr_line", "ocr_header", "ocr_caption", "ocr_textfloat"}

// ParseHOCRTokens reads the ocrx_word elements of an hOCR page. Words are
// numbered by the line element that contains them; words outside any line
// get a line of their own.
func ParseHOCRTokens(hocr string) ([]Token, error) {
	doc, err := html.Parse(strings.NewReader(hocr))
	if err != nil {
		return nil, fmt.Errorf("parse hOCR: %w", err)
	}
	var (
		tokens []Token
		lines  = -1
	)
	var walk func(n *html.Node, line int)
	walk = func(n *html.Node, line int) {
		if n.Type == html.ElementNode {
			for _, c := range lineClasses {
				if hasClass(n, c) {
					lines++
					line = lines
					break
				}
			}
			if hasClass(n, "ocrx_word") {
				if t, ok := wordToken(n); ok {
					if line < 0 {
						lines++
						t.Line = lines
					} else {
						t.Line = line
					}
					tokens = append(tokens, t)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, line)
		}
	}
	walk(doc, -1)
	return tokens, nil
}

func wordToken(n *html.Node) (Token, bool) {
	text := strings.TrimSpace(nodeText(n))
	if text == "" {
		return Token{}, false
	}
	t := Token{Text: text}
	for _, a := range n.Attr {
		if a.Key != "title" {
			continue
		}
		for _, prop := range strings.Split(a.Val, ";") {
			f := strings.Fields(prop)
			if len(f) == 0 {
				continue
			}
			switch {
			case f[0] == "bbox" && len(f) == 5:
				var c [4]int
				for i := range c {
					v, err := strconv.Atoi(f[i+1])
					if err != nil {
						return Token{}, false
					}
					c[i] = v
				}
				t.Bounds = image.Rect(c[0], c[1], c[2], c[3])
			case f[0] == "x_wconf" && len(f) == 2:
				if v, err := strconv.ParseFloat(f[1], 64); err == nil {
					t.Confidence = v / 100
				}
			}
		}
	}
	return t, !t.Bounds.Empty()
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeText(c))
	}
	return sb.String()
}
