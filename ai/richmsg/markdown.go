package richmsg

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ExtractBulletList finds the first unordered markdown list in a reply. It
// returns the item texts and the plain text that preceded the list, for use
// as the list message body.
func ExtractBulletList(reply string) (items []string, intro string, ok bool) {
	source := []byte(reply)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var introParts []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if list, isList := n.(*ast.List); isList && !list.IsOrdered() {
			for li := list.FirstChild(); li != nil; li = li.NextSibling() {
				if item := strings.TrimSpace(plainText(li, source)); item != "" {
					items = append(items, item)
				}
			}
			break
		}
		if p := strings.TrimSpace(plainText(n, source)); p != "" {
			introParts = append(introParts, p)
		}
	}

	if len(items) == 0 {
		return nil, "", false
	}
	return items, strings.Join(introParts, "\n"), true
}

// PlainText renders markdown as plain text for channels without formatting:
// emphasis and links lose their markers, list items gain a "- " prefix.
func PlainText(reply string) string {
	source := []byte(reply)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var blocks []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if list, isList := n.(*ast.List); isList {
			var lines []string
			for li := list.FirstChild(); li != nil; li = li.NextSibling() {
				lines = append(lines, "- "+strings.TrimSpace(plainText(li, source)))
			}
			blocks = append(blocks, strings.Join(lines, "\n"))
			continue
		}
		if p := strings.TrimSpace(plainText(n, source)); p != "" {
			blocks = append(blocks, p)
		}
	}
	return strings.Join(blocks, "\n")
}

// plainText concatenates the text nodes under n.
func plainText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			if t, isText := child.(*ast.Text); isText {
				buf.Write(t.Segment.Value(source))
				if t.SoftLineBreak() || t.HardLineBreak() {
					buf.WriteString(" ")
				}
			}
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}
