package parser

import (
	"strings"

	"github.com/yuin/goldmark"
	gast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	gtext "github.com/yuin/goldmark/text"
)

// extractMarkdown normalizes markdown to plain text by walking the parsed
// AST, so formatting characters never leak into chunks or embeddings.
func (e *Extractor) extractMarkdown(data []byte) (Result, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	root := md.Parser().Parse(gtext.NewReader(data))

	var b strings.Builder
	err := gast.Walk(root, func(n gast.Node, entering bool) (gast.WalkStatus, error) {
		switch t := n.(type) {
		case *gast.Text:
			if entering {
				b.Write(t.Segment.Value(data))
				if t.SoftLineBreak() || t.HardLineBreak() {
					b.WriteByte('\n')
				}
			}
		case *gast.CodeBlock:
			if entering {
				writeSegmentLines(&b, data, t.Lines())
			}
		case *gast.FencedCodeBlock:
			if entering {
				writeSegmentLines(&b, data, t.Lines())
			}
		case *gast.AutoLink:
			if entering {
				b.Write(t.URL(data))
			}
		default:
			if !entering && isBlockBoundary(n) {
				b.WriteString("\n\n")
			}
		}
		return gast.WalkContinue, nil
	})
	if err != nil {
		return Result{}, err
	}

	text := strings.TrimSpace(b.String())
	return Result{Text: text, Meta: Metadata{Encoding: "utf-8", Method: "markdown"}}, nil
}

func isBlockBoundary(n gast.Node) bool {
	switch n.Kind() {
	case gast.KindParagraph, gast.KindHeading, gast.KindListItem, gast.KindBlockquote:
		return true
	}
	return false
}

func writeSegmentLines(b *strings.Builder, src []byte, lines *gtext.Segments) {
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
}
