package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"github.com/openviking/openviking/pkg/status"
)

// maxSheetCells caps how much of a spreadsheet is rendered per sheet.
const maxSheetCells = 1000

// WordParser extracts document text from .docx files.
type WordParser struct{}

func NewWordParser() *WordParser { return &WordParser{} }

func (p *WordParser) Name() string { return "word" }

func (p *WordParser) Extensions() []string { return []string{".docx"} }

func (p *WordParser) Parse(_ context.Context, src Source) (*Node, []string, error) {
	if src.Path == "" {
		return nil, nil, status.InvalidArgument("word parser requires a file path")
	}
	r, err := docx.ReadDocxFile(src.Path)
	if err != nil {
		return nil, nil, status.New(status.CodeProcessingError, "open docx %s", src.Path).WithCause(err)
	}
	defer r.Close()

	content := r.Editable().GetContent()
	text := strings.TrimSpace(stripXMLTags(content))
	if text == "" {
		return nil, nil, status.New(status.CodeProcessingError, "no extractable text in %s", src.Path)
	}

	name := src.Name
	if name == "" {
		name = src.Path
	}
	return &Node{
		Type:         NodeLeaf,
		Title:        stripExt(name),
		AbstractSeed: seedAbstract(text),
		Body:         []byte(text),
	}, nil, nil
}

// stripXMLTags flattens WordprocessingML into readable text, turning
// paragraph boundaries into newlines.
func stripXMLTags(s string) string {
	var b strings.Builder
	inTag := false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '<':
			inTag = true
			if strings.HasPrefix(s[i:], "</w:p>") {
				b.WriteByte('\n')
			}
		case c == '>':
			inTag = false
		case !inTag:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ExcelParser renders each sheet as a markdown table node.
type ExcelParser struct{}

func NewExcelParser() *ExcelParser { return &ExcelParser{} }

func (p *ExcelParser) Name() string { return "excel" }

func (p *ExcelParser) Extensions() []string { return []string{".xlsx", ".xlsm"} }

func (p *ExcelParser) Parse(_ context.Context, src Source) (*Node, []string, error) {
	if src.Path == "" {
		return nil, nil, status.InvalidArgument("excel parser requires a file path")
	}
	f, err := excelize.OpenFile(src.Path)
	if err != nil {
		return nil, nil, status.New(status.CodeProcessingError, "open xlsx %s", src.Path).WithCause(err)
	}
	defer f.Close()

	name := src.Name
	if name == "" {
		name = src.Path
	}
	root := &Node{Type: NodeRoot, Title: stripExt(name)}

	var warnings []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("sheet %s: %v", sheet, err))
			continue
		}
		text := renderSheet(sheet, rows)
		if text == "" {
			continue
		}
		root.Children = append(root.Children, &Node{
			Type:         NodeLeaf,
			Title:        sheet,
			AbstractSeed: seedAbstract(text),
			Body:         []byte(text),
		})
	}
	if len(root.Children) == 0 {
		return nil, warnings, status.New(status.CodeProcessingError, "no data in %s", src.Path)
	}
	if root.Children[0].AbstractSeed != "" {
		root.AbstractSeed = root.Children[0].AbstractSeed
	}
	return root, warnings, nil
}

func renderSheet(sheet string, rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", sheet)
	cells := 0
	for i, row := range rows {
		if cells >= maxSheetCells {
			fmt.Fprintf(&b, "\n(truncated at %d cells)\n", maxSheetCells)
			break
		}
		b.WriteString("| ")
		b.WriteString(strings.Join(row, " | "))
		b.WriteString(" |\n")
		if i == 0 {
			b.WriteString("|")
			b.WriteString(strings.Repeat(" --- |", len(row)))
			b.WriteString("\n")
		}
		cells += len(row)
	}
	return b.String()
}
