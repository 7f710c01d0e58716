package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/openviking/openviking/pkg/status"
)

// PDFParser extracts plain text page by page. One node per page keeps
// large documents navigable; single-page documents collapse to a leaf.
type PDFParser struct{}

func NewPDFParser() *PDFParser { return &PDFParser{} }

func (p *PDFParser) Name() string { return "pdf" }

func (p *PDFParser) Extensions() []string { return []string{".pdf"} }

func (p *PDFParser) Parse(_ context.Context, src Source) (*Node, []string, error) {
	if src.Path == "" {
		return nil, nil, status.InvalidArgument("pdf parser requires a file path")
	}
	f, r, err := pdf.Open(src.Path)
	if err != nil {
		return nil, nil, status.New(status.CodeProcessingError, "open pdf %s", src.Path).WithCause(err)
	}
	defer f.Close()

	var warnings []string
	var pages []string
	total := r.NumPage()
	for i := 1; i <= total; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("page %d: %v", i, err))
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, text)
	}
	if len(pages) == 0 {
		return nil, warnings, status.New(status.CodeProcessingError, "no extractable text in %s", src.Path)
	}

	name := src.Name
	if name == "" {
		name = src.Path
	}
	title := stripExt(name)

	if len(pages) == 1 {
		return &Node{
			Type:         NodeLeaf,
			Title:        title,
			AbstractSeed: seedAbstract(pages[0]),
			Body:         []byte(pages[0]),
			Meta:         map[string]any{"pages": total},
		}, warnings, nil
	}

	root := &Node{
		Type:         NodeRoot,
		Title:        title,
		AbstractSeed: seedAbstract(pages[0]),
		Meta:         map[string]any{"pages": total},
	}
	for i, text := range pages {
		root.Children = append(root.Children, &Node{
			Type:         NodeLeaf,
			Title:        fmt.Sprintf("page_%03d", i+1),
			AbstractSeed: seedAbstract(text),
			Body:         []byte(text),
		})
	}
	return root, warnings, nil
}
