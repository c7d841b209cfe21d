package normalize

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var (
	markdown = goldmark.New()

	latexDelims = strings.NewReplacer(
		"$$", " ",
		"$", " ",
		`\(`, " ",
		`\)`, " ",
		`\[`, " ",
		`\]`, " ",
	)
)

// MarkdownToText extracts readable text from Markdown source. Link text is
// kept and image alt text dropped; code keeps its content but loses its
// fences and backticks; block markers disappear with the block structure;
// embedded HTML goes through HTMLToText.
func MarkdownToText(source string) string {
	src := []byte(source)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	b.Grow(len(source))
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				b.WriteByte(' ')
			}
			return ast.WalkContinue, nil
		}
		if n.Type() == ast.TypeBlock {
			b.WriteByte(' ')
		}
		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(node.Value)
		case *ast.AutoLink:
			b.Write(node.Label(src))
			return ast.WalkSkipChildren, nil
		case *ast.Image:
			b.WriteByte(' ')
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			b.WriteByte(' ')
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock:
			b.WriteString(HTMLToText(blockLines(node, src)))
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			b.WriteString(blockLines(n, src))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	return latexDelims.Replace(DecodeEntities(b.String()))
}

func blockLines(n ast.Node, src []byte) string {
	lines := n.Lines()
	var b strings.Builder
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
		b.WriteByte(' ')
	}
	return b.String()
}
