package parser

import (
	"context"
	"strings"
)

// sectionSplitThreshold is the document size above which top-level
// headings become separate section nodes.
const sectionSplitThreshold = 4096

// MarkdownParser splits large documents into one node per top-level
// heading; small documents stay a single leaf.
type MarkdownParser struct{}

func NewMarkdownParser() *MarkdownParser { return &MarkdownParser{} }

func (p *MarkdownParser) Name() string { return "markdown" }

func (p *MarkdownParser) Extensions() []string {
	return []string{".md", ".markdown", ".mdx", ".rst"}
}

func (p *MarkdownParser) Parse(_ context.Context, src Source) (*Node, []string, error) {
	data, name, err := loadSource(src)
	if err != nil {
		return nil, nil, err
	}
	text, enc := DecodeText(data)
	title := stripExt(name)

	sections := splitSections(text)
	if len(text) < sectionSplitThreshold || len(sections) < 2 {
		return &Node{
			Type:         NodeLeaf,
			Title:        title,
			AbstractSeed: seedAbstract(text),
			Body:         []byte(text),
			ContentName:  contentFileName(name),
			Meta:         map[string]any{"encoding": enc},
		}, nil, nil
	}

	root := &Node{
		Type:         NodeRoot,
		Title:        title,
		AbstractSeed: seedAbstract(text),
		Meta:         map[string]any{"encoding": enc},
	}
	for _, s := range sections {
		root.Children = append(root.Children, &Node{
			Type:         NodeLeaf,
			Title:        s.title,
			AbstractSeed: seedAbstract(s.body),
			Body:         []byte(s.body),
		})
	}
	return root, nil, nil
}

type section struct {
	title string
	body  string
}

// splitSections cuts at # and ## headings outside fenced code blocks.
func splitSections(text string) []section {
	var out []section
	var cur section
	var body strings.Builder
	inFence := false

	flush := func() {
		cur.body = strings.TrimSpace(body.String())
		if cur.body != "" || cur.title != "" {
			out = append(out, cur)
		}
		body.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
		}
		if !inFence && (strings.HasPrefix(line, "# ") || strings.HasPrefix(line, "## ")) {
			flush()
			cur = section{title: strings.TrimSpace(strings.TrimLeft(line, "# "))}
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()
	return out
}
