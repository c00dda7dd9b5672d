package source

import (
	"fmt"
	"strings"

	"github.com/ctreminiom/go-atlassian/v2/pkg/infra/models"
)

// ADFToMarkdown converts an Atlassian Document Format node tree to Markdown.
// Returns empty string for nil input. Unsupported node types produce
// [unsupported: type] placeholders rather than silently dropping content.
func ADFToMarkdown(node *models.CommentNodeScheme) string {
	if node == nil {
		return ""
	}
	var b strings.Builder
	renderNode(&b, node, 0, false)
	return strings.TrimRight(b.String(), "\n")
}

// MarkdownToADF builds a minimal ADF document from plain text. Each blank
// line separated block becomes a paragraph. Inline markup is carried as
// literal text; the upstream tracker renders it untouched, which keeps
// descriptions round-trippable through ADFToMarkdown.
func MarkdownToADF(text string) *models.CommentNodeScheme {
	doc := &models.CommentNodeScheme{
		Type:    "doc",
		Version: 1,
	}
	for _, block := range strings.Split(strings.TrimSpace(text), "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		doc.Content = append(doc.Content, &models.CommentNodeScheme{
			Type: "paragraph",
			Content: []*models.CommentNodeScheme{
				{Type: "text", Text: block},
			},
		})
	}
	if len(doc.Content) == 0 {
		doc.Content = []*models.CommentNodeScheme{{Type: "paragraph"}}
	}
	return doc
}

func renderNode(b *strings.Builder, node *models.CommentNodeScheme, depth int, inList bool) {
	if node == nil {
		return
	}

	switch node.Type {
	case "doc":
		renderChildren(b, node, depth, false)

	case "paragraph":
		renderChildren(b, node, depth, false)
		if inList {
			b.WriteString("\n")
		} else {
			b.WriteString("\n\n")
		}

	case "heading":
		level := attrInt(node.Attrs, "level", 1)
		b.WriteString(strings.Repeat("#", level))
		b.WriteString(" ")
		renderChildren(b, node, depth, false)
		b.WriteString("\n\n")

	case "text":
		b.WriteString(applyMarks(node.Text, node.Marks))

	case "hardBreak":
		b.WriteString("  \n")

	case "bulletList":
		for _, child := range node.Content {
			b.WriteString(strings.Repeat("  ", depth))
			b.WriteString("- ")
			renderListItemContent(b, child, depth+1)
		}

	case "orderedList":
		for i, child := range node.Content {
			b.WriteString(strings.Repeat("  ", depth))
			fmt.Fprintf(b, "%d. ", i+1)
			renderListItemContent(b, child, depth+1)
		}

	case "listItem":
		// Handled by parent list node
		renderChildren(b, node, depth, true)

	case "codeBlock":
		b.WriteString("```")
		b.WriteString(attrString(node.Attrs, "language", ""))
		b.WriteString("\n")
		renderChildren(b, node, depth, false)
		b.WriteString("\n```\n\n")

	case "blockquote":
		var inner strings.Builder
		renderChildren(&inner, node, depth, false)
		for _, line := range strings.Split(strings.TrimRight(inner.String(), "\n"), "\n") {
			b.WriteString("> ")
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")

	case "rule":
		b.WriteString("---\n\n")

	case "mediaSingle", "mediaGroup":
		// Media nodes can't be converted to markdown meaningfully
		b.WriteString("[media]\n\n")

	case "mention":
		name := attrString(node.Attrs, "text", "")
		if name == "" {
			name = "@mention"
		}
		b.WriteString(name)

	case "emoji":
		b.WriteString(attrString(node.Attrs, "shortName", ""))

	case "inlineCard":
		b.WriteString(attrString(node.Attrs, "url", ""))

	default:
		// Don't silently drop content
		fmt.Fprintf(b, "[unsupported: %s]", node.Type)
		renderChildren(b, node, depth, false)
	}
}

func renderChildren(b *strings.Builder, node *models.CommentNodeScheme, depth int, inList bool) {
	for _, child := range node.Content {
		renderNode(b, child, depth, inList)
	}
}

func renderListItemContent(b *strings.Builder, node *models.CommentNodeScheme, depth int) {
	if node == nil {
		b.WriteString("\n")
		return
	}
	for i, child := range node.Content {
		if i == 0 && child.Type == "paragraph" {
			// First paragraph inline with bullet
			renderChildren(b, child, depth, true)
			b.WriteString("\n")
		} else {
			renderNode(b, child, depth, true)
		}
	}
}

func applyMarks(text string, marks []*models.MarkScheme) string {
	for _, mark := range marks {
		switch mark.Type {
		case "strong":
			text = "**" + text + "**"
		case "em":
			text = "*" + text + "*"
		case "code":
			text = "`" + text + "`"
		case "strike":
			text = "~~" + text + "~~"
		case "underline":
			text = "_" + text + "_"
		case "link":
			if href := attrString(mark.Attrs, "href", ""); href != "" {
				text = "[" + text + "](" + href + ")"
			}
		}
	}
	return text
}

func attrString(attrs map[string]interface{}, key, fallback string) string {
	if attrs == nil {
		return fallback
	}
	s, ok := attrs[key].(string)
	if !ok {
		return fallback
	}
	return s
}

func attrInt(attrs map[string]interface{}, key string, fallback int) int {
	if attrs == nil {
		return fallback
	}
	switch n := attrs[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return fallback
	}
}
