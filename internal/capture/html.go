package capture

import (
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/ppiankov/bsmeter/internal/model"
)

// HTML extracts the visible text of an HTML document
type HTML struct {
	R        io.Reader
	Kind     model.SourceType
	Origin   string
	MaxBytes int64
}

// Capture parses the document and returns its visible text
func (h HTML) Capture(ctx context.Context) (*Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, err := VisibleText(io.LimitReader(h.R, maxBytes(h.MaxBytes)))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", originOr(h.Origin, "HTML"), err)
	}
	return fragment(text, h.Kind, h.Origin, originOr(h.Origin, "HTML document"))
}

// VisibleText returns the text a reader would see, one block per line
func VisibleText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}

	var (
		buf  strings.Builder
		line strings.Builder
	)
	flush := func() {
		if s := strings.Join(strings.Fields(line.String()), " "); s != "" {
			if buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteString(s)
		}
		line.Reset()
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe", "template", "svg", "head", "nav", "footer":
				return
			}
		}

		if n.Type == html.TextNode {
			line.WriteString(n.Data)
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		if n.Type == html.ElementNode && isBlock(n.Data) {
			flush()
		}
	}

	walk(doc)
	flush()
	return buf.String(), nil
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "br", "li", "h1", "h2", "h3", "h4", "h5", "h6",
		"blockquote", "article", "section", "tr", "pre", "figcaption":
		return true
	}
	return false
}
